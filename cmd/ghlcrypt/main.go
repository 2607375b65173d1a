package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/applepi-icpc/ghlcrypt/config"
	"github.com/applepi-icpc/ghlcrypt/keyring"
	"github.com/applepi-icpc/ghlcrypt/wemfs"
	log "github.com/sirupsen/logrus"
)

type verb struct {
	Name  string
	Usage string
	Help  string
	Run   func(cfg *config.Config, args []string) error
}

var verbs = []*verb{
	{
		Name:  "encrypt",
		Usage: "[--network_salt] [--track_id <...>] [--key_name <...>] [--index <...>] <input_file.wem> <output_file.wem>",
		Help:  "Encrypts a given file. Selects a key using the track ID or key name. Uses the default key if both are unspecified.",
		Run:   runEncrypt,
	},
	{
		Name:  "decrypt",
		Usage: "[--network_salt] [--track_id <...>] [--key_name <...>] [--index <...>] [--force] <input_file.wem> <output_file.wem>",
		Help:  "Decrypts a given file. Selects a key using the track ID or key name. Uses the default key if both are unspecified.",
		Run:   runDecrypt,
	},
	{
		Name:  "batch",
		Usage: "[--workers <...>] [--ext <...>] [key options] <encrypt|decrypt> <input_dir> <output_dir>",
		Help:  "Encrypts or decrypts every file under a directory in parallel, mirroring the tree.",
		Run:   runBatch,
	},
	{
		Name:  "mount",
		Usage: "[key options] <root> <mountpoint> [-- fuse options ...]",
		Help:  "Mounts a directory of encrypted files read-only, showing their decrypted contents.",
		Run:   runMount,
	},
}

func findVerb(name string) *verb {
	for _, v := range verbs {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// printUsage lists the verbs starting with prefix, or all of them if none do.
func printUsage(w io.Writer, prog, prefix string) {
	list := []*verb{}
	if prefix != "" {
		for _, v := range verbs {
			if strings.HasPrefix(v.Name, prefix) {
				list = append(list, v)
			}
		}
	}
	if len(list) == 0 {
		list = append(list, verbs...)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	fmt.Fprintf(w, "Usage: %s <verb> [options ...]\n\nVerbs:\n", prog)
	for _, v := range list {
		fmt.Fprintf(w, "  %s %s\n    %s\n\n", v.Name, v.Usage, v.Help)
	}
}

// selectorFlags registers the key selection options shared by all verbs.
type selectorFlags struct {
	keyFile     string
	game        string
	trackID     string
	keyName     string
	networkSalt bool
	index       int
}

func (s *selectorFlags) register(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&s.keyFile, "keyfile", cfg.KeyFile, "JSON keyfile")
	fs.StringVar(&s.game, "game", cfg.Game, "game whose track table --track_id refers to")
	fs.StringVar(&s.trackID, "track_id", "", "select the key used by this track")
	fs.StringVar(&s.keyName, "key_name", "", "select a key by name")
	fs.BoolVar(&s.networkSalt, "network_salt", false, "derive with the network salt instead of the mask")
	fs.IntVar(&s.index, "index", 0, "index folded into the network salt")
}

func (s *selectorFlags) derive() (keyring.Pair, error) {
	kr, err := keyring.Load(s.keyFile)
	if err != nil {
		return keyring.Pair{}, err
	}
	sel := keyring.Selector{
		Game:        s.game,
		TrackID:     s.trackID,
		KeyName:     s.keyName,
		NetworkSalt: s.networkSalt,
		Index:       s.index,
	}
	name, err := kr.Name(sel)
	if err != nil {
		return keyring.Pair{}, err
	}
	if !kr.Has(name) {
		return keyring.Pair{}, fmt.Errorf("don't have the key named %q in %s: %w", name, s.keyFile, keyring.ErrUnknownKey)
	}
	log.WithField("key", name).Debug("Key selected")
	return kr.Derive(sel)
}

// parseArgs parses flags anywhere on the command line, collecting the
// positional arguments in order. Everything after "--" is positional.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if err == flag.ErrHelp {
				return nil, err
			}
			return nil, usageError{err}
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		// Parse stops after consuming a "--" terminator
		consumed := len(args) - len(rest)
		if consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

// usageError marks a command line the verb could not make sense of.
type usageError struct {
	error
}

func (e usageError) Unwrap() error {
	return e.error
}

func expectArgs(fs *flag.FlagSet, args []string, n int) error {
	if len(args) < n {
		return usageError{fmt.Errorf("%s: not enough arguments", fs.Name())}
	}
	if len(args) > n {
		return usageError{fmt.Errorf("%s: too many arguments", fs.Name())}
	}
	return nil
}

func main() {
	prog := filepath.Base(os.Args[0])
	args := os.Args[1:]

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		log.Fatal(err)
	}
	wemfs.TraceEnabled = cfg.Trace

	if len(args) == 0 {
		printUsage(os.Stderr, prog, "")
		os.Exit(2)
	}
	v := findVerb(args[0])
	if v == nil {
		printUsage(os.Stderr, prog, args[0])
		os.Exit(2)
	}

	err = v.Run(cfg, args[1:])
	var usageErr usageError
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case errors.As(err, &usageErr):
		fmt.Fprintf(os.Stderr, "Command line error: %s\nUsage: %s %s %s\n", usageErr, prog, v.Name, v.Usage)
		os.Exit(2)
	default:
		log.WithField("verb", v.Name).Fatal(err)
	}
}
