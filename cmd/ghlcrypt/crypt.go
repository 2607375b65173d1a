package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/applepi-icpc/ghlcrypt/config"
	"github.com/applepi-icpc/ghlcrypt/fsgc"
	log "github.com/sirupsen/logrus"
)

func runEncrypt(cfg *config.Config, args []string) error {
	return runCrypt(fsgc.DirEncrypt, cfg, args)
}

func runDecrypt(cfg *config.Config, args []string) error {
	return runCrypt(fsgc.DirDecrypt, cfg, args)
}

func runCrypt(dir fsgc.Direction, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet(dir.String(), flag.ContinueOnError)
	var sel selectorFlags
	sel.register(fs, cfg)
	var opts fsgc.Options
	if dir == fsgc.DirDecrypt {
		fs.BoolVar(&opts.Force, "force", false, "decrypt even without an FSGC header")
	}

	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(fs, positional, 2); err != nil {
		return err
	}

	pair, err := sel.derive()
	if err != nil {
		return err
	}

	in, out := positional[0], positional[1]
	n, err := fsgc.TransformFile(dir, in, out, pair, opts)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"in":    in,
		"out":   out,
		"bytes": n,
	}).Infof("%sed", dir)
	return nil
}

func runBatch(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	var sel selectorFlags
	sel.register(fs, cfg)
	var opts fsgc.Options
	fs.BoolVar(&opts.Force, "force", false, "decrypt even without an FSGC header")
	workers := fs.Int("workers", cfg.Workers, "files transformed in parallel")
	ext := fs.String("ext", ".wem", "only transform files with this extension (empty for all)")

	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(fs, positional, 3); err != nil {
		return err
	}
	dir, err := fsgc.ParseDirection(positional[0])
	if err != nil {
		return usageError{err}
	}

	pair, err := sel.derive()
	if err != nil {
		return err
	}
	jobs, err := fsgc.Plan(positional[1], positional[2], *ext)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"files":   len(jobs),
		"workers": *workers,
	}).Infof("Starting batch %s", dir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fsgc.Batch(ctx, dir, jobs, pair, opts, *workers)
}
