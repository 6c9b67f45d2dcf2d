// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/carextract/cmd/bureau-car/cli"
	"github.com/bureau-foundation/carextract/lib/car"
)

func rootsCommand(stdout io.Writer) *cli.Command {
	var flags globalFlags

	return &cli.Command{
		Name:    "roots",
		Summary: "Print an archive's root CIDs",
		Description: `Print the root CIDs from the archive header, one per line, in header
order. Only the header is read.`,
		Usage: "bureau-car roots [flags] <archive>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("roots", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Extract the subtree of the first root",
				Command:     "bureau-car extract --cid $(bureau-car roots site.car | head -1) site.car ./out",
			},
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "bureau-car roots [flags] <archive>"); err != nil {
				return err
			}
			cfg, _, err := flags.load("roots")
			if err != nil {
				return err
			}
			source, options, err := openArchive(args[0], cfg)
			if err != nil {
				return err
			}
			defer source.Close()

			reader, err := car.NewReader(source, options...)
			if err != nil {
				return fmt.Errorf("reading archive header: %w", err)
			}
			defer reader.Close()
			for _, root := range reader.Header().Roots {
				fmt.Fprintln(stdout, root)
			}
			return nil
		},
	}
}
