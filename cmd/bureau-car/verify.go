// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/carextract/cmd/bureau-car/cli"
	"github.com/bureau-foundation/carextract/lib/car"
	"github.com/bureau-foundation/carextract/lib/carerr"
)

func verifyCommand(stdout io.Writer) *cli.Command {
	var flags globalFlags

	return &cli.Command{
		Name:    "verify",
		Summary: "Verify every block against its CID",
		Description: `Read an archive end to end, hash every block with the algorithm its
CID names, and compare the digest. Also reports roots that no block in
the archive provides.

Prints each failing block and exits 1 if any block fails or a root is
missing. A malformed frame or header stops the scan and is reported as
an error.`,
		Usage: "bureau-car verify [flags] <archive>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Check an archive before publishing it",
				Command:     "bureau-car verify site.car",
			},
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "bureau-car verify [flags] <archive>"); err != nil {
				return err
			}
			return runVerify(stdout, flags, args[0])
		},
	}
}

func runVerify(stdout io.Writer, flags globalFlags, archivePath string) error {
	cfg, logger, err := flags.load("verify")
	if err != nil {
		return err
	}
	source, options, err := openArchive(archivePath, cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	reader, err := car.NewReader(source, options...)
	if err != nil {
		return fmt.Errorf("reading archive header: %w", err)
	}
	defer reader.Close()

	present := make(map[string]struct{})
	var count, failed int
	var total uint64
	err = reader.ForEach(func(block car.Block) error {
		count++
		total += uint64(len(block.Data))
		present[block.ID.Key()] = struct{}{}
		if err := car.Verify(block.ID, block.Data); err != nil {
			var integrity *car.IntegrityError
			if !errors.As(err, &integrity) && !errors.Is(err, carerr.ErrUnknownAlgorithm) {
				return err
			}
			failed++
			fmt.Fprintf(stdout, "FAIL %s at offset %d: %v\n", block.ID, block.FrameOffset, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading blocks: %w", err)
	}

	var missingRoots int
	for _, root := range reader.Header().Roots {
		if root.IsIdentity() {
			continue
		}
		if _, ok := present[root.Key()]; !ok {
			missingRoots++
			fmt.Fprintf(stdout, "MISSING root %s\n", root)
		}
	}

	fmt.Fprintf(stdout, "verified %s block(s), %s: %d failed, %d root(s) missing\n",
		humanize.Comma(int64(count)), humanize.IBytes(total), failed, missingRoots)
	logger.Debug("verification finished", "blocks", count, "failed", failed, "missing_roots", missingRoots)
	if failed > 0 || missingRoots > 0 {
		return &cli.ExitError{Code: 1}
	}
	return nil
}
