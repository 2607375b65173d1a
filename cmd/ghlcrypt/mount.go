package main

import (
	"flag"
	"fmt"
	"path/filepath"

	"github.com/applepi-icpc/ghlcrypt/config"
	"github.com/applepi-icpc/ghlcrypt/wemfs"
	"github.com/billziss-gh/cgofuse/fuse"
	log "github.com/sirupsen/logrus"
)

func runMount(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("mount", flag.ContinueOnError)
	var sel selectorFlags
	sel.register(fs, cfg)

	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) < 2 {
		return expectArgs(fs, positional, 2)
	}

	root, err := filepath.Abs(positional[0])
	if err != nil {
		return fmt.Errorf("failed to get path from %s: %w", positional[0], err)
	}
	mountpoint := positional[1]
	fuseOpts := append([]string{"-o", "ro"}, positional[2:]...)

	pair, err := sel.derive()
	if err != nil {
		return err
	}
	wfs, err := wemfs.NewWemFS(root, pair)
	if err != nil {
		return fmt.Errorf("failed to init FS: %w", err)
	}

	log.WithFields(log.Fields{
		"root":       root,
		"mountpoint": mountpoint,
	}).Info("Mounting")

	host := fuse.NewFileSystemHost(wfs)
	if !host.Mount(mountpoint, fuseOpts) {
		return fmt.Errorf("failed to mount %s", mountpoint)
	}
	return nil
}
