package fsgc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/applepi-icpc/ghlcrypt/keyring"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrOutputInsideInput = errors.New("fsgc: output directory is inside the input directory")

type Job struct {
	In  string
	Out string
}

// Plan lists one job per regular file under inDir whose name ends in ext
// (every file if ext is empty), mirroring the tree into outDir. outDir may
// not be inDir or lie below it.
func Plan(inDir, outDir, ext string) ([]Job, error) {
	if err := checkOutDir(inDir, outDir); err != nil {
		return nil, err
	}

	var jobs []Job
	err := filepath.WalkDir(inDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		rel, err := filepath.Rel(inDir, path)
		if err != nil {
			return err
		}
		jobs = append(jobs, Job{In: path, Out: filepath.Join(outDir, rel)})
		return nil
	})
	return jobs, err
}

func checkOutDir(inDir, outDir string) error {
	absIn, err := filepath.Abs(inDir)
	if err != nil {
		return err
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absIn, absOut)
	if err != nil {
		// different volumes
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("%w: %s", ErrOutputInsideInput, outDir)
	}
	return nil
}

// Batch runs jobs on up to workers goroutines. Every file gets its own
// stream; the first failure cancels the jobs not yet started.
func Batch(ctx context.Context, dir Direction, jobs []Job, p keyring.Pair, opts Options, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := TransformFile(dir, job.In, job.Out, p, opts)
			if err != nil {
				log.WithFields(log.Fields{
					"error": err,
					"in":    job.In,
				}).Errorf("Failed to %s", dir)
				return err
			}
			log.WithFields(log.Fields{
				"in":    job.In,
				"out":   job.Out,
				"bytes": n,
			}).Infof("%sed", dir)
			return nil
		})
	}
	return g.Wait()
}
