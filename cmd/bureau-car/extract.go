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
	"github.com/bureau-foundation/carextract/lib/contentid"
	"github.com/bureau-foundation/carextract/lib/extract"
)

// extractExitIncomplete is the exit code of an extraction that
// skipped some paths.
const extractExitIncomplete = 2

type extractFlags struct {
	globalFlags
	pattern     string
	cid         string
	noVerify    bool
	strict      bool
	workers     int
	defaultName string
}

func extractCommand(stdout io.Writer) *cli.Command {
	var flags extractFlags

	return &cli.Command{
		Name:    "extract",
		Summary: "Extract files from an archive",
		Description: `Extract the UnixFS file tree of a CAR archive into a directory.

By default every file reachable from the archive's roots is written.
With one root its content lands directly in the destination; with
several, each root gets a subdirectory named by its CID. A root that is
a single file is written as "file" (see extract.default_name).

--pattern selects files by root-relative path. A pattern containing *,
? or [ is a glob where ** spans directories; any other pattern selects
every path ending with it.

--cid extracts only the subtree (or file) named by a CID. Every block
on the way is verified and any failure removes everything written, so
the destination holds either the complete verified subtree or nothing.

Files whose blocks are missing or fail verification are skipped and
listed; the command then exits 2. With --strict, a verification failure
aborts instead.

The destination defaults to extract.output from the config file.
The archive may be "-" for stdin.`,
		Usage: "bureau-car extract [flags] <archive> [destination]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("extract", pflag.ContinueOnError)
			flagSet.StringVarP(&flags.pattern, "pattern", "p", "", "extract only paths matching this glob or suffix")
			flagSet.StringVar(&flags.cid, "cid", "", "extract only the verified subtree named by this CID")
			flagSet.BoolVar(&flags.noVerify, "no-verify", false, "skip block verification (trust the archive)")
			flagSet.BoolVar(&flags.strict, "strict", false, "abort on the first verification or size mismatch")
			flagSet.IntVarP(&flags.workers, "workers", "j", 0, "concurrent file writers (default: extract.workers, else one per CPU)")
			flagSet.StringVar(&flags.defaultName, "default-name", "", "file name for a single-file root (default: extract.default_name)")
			flags.register(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Extract everything",
				Command:     "bureau-car extract site.car ./site",
			},
			{
				Description: "Extract only text files",
				Command:     "bureau-car extract --pattern '**/*.txt' site.car ./text",
			},
			{
				Description: "Extract one verified subtree",
				Command:     "bureau-car extract --cid bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi site.car ./docs",
			},
			{
				Description: "Extract a compressed archive from stdin",
				Command:     "zstdcat site.car.zst | bureau-car extract - ./site",
			},
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 2, "bureau-car extract [flags] <archive> [destination]"); err != nil {
				return err
			}
			return runExtract(stdout, flags, args)
		},
	}
}

func runExtract(stdout io.Writer, flags extractFlags, args []string) error {
	if flags.pattern != "" && flags.cid != "" {
		return fmt.Errorf("--pattern and --cid are mutually exclusive")
	}
	if flags.cid != "" && flags.noVerify {
		return fmt.Errorf("--cid always verifies; --no-verify cannot be combined with it")
	}

	cfg, logger, err := flags.load("extract")
	if err != nil {
		return err
	}

	archivePath := args[0]
	destination := cfg.Extract.Output
	if len(args) == 2 {
		destination = args[1]
	}
	if destination == "" {
		return fmt.Errorf("no destination given and extract.output is not configured")
	}

	mode := extract.ModeAll
	switch {
	case flags.pattern != "":
		mode = extract.ModePattern
	case flags.cid != "":
		mode = extract.ModeIdentifier
	}
	options := cfg.ExtractOptions(mode)
	options.Pattern = flags.pattern
	if flags.cid != "" {
		options.Target, err = contentid.Decode(flags.cid)
		if err != nil {
			return fmt.Errorf("--cid: %w", err)
		}
	}
	if flags.noVerify {
		options.Verify = false
	}
	if flags.strict {
		options.Strict = true
	}
	if flags.workers != 0 {
		options.Workers = flags.workers
	}
	if flags.defaultName != "" {
		options.DefaultName = flags.defaultName
	}
	options.Logger = logger.With("archive", archivePath, "destination", destination)

	ctx, cancel := signalContext()
	defer cancel()

	var report *extract.Report
	if archivePath == "-" {
		reader, readerOptions, openErr := openArchive(archivePath, cfg)
		if openErr != nil {
			return openErr
		}
		defer reader.Close()
		options.ReaderOptions = readerOptions
		report, err = extract.Extract(ctx, reader, destination, options)
	} else {
		report, err = extract.ExtractFile(ctx, archivePath, destination, options)
	}

	var incomplete *extract.IncompleteError
	if err != nil && !errors.As(err, &incomplete) {
		return err
	}
	printReport(stdout, report, destination)
	if incomplete != nil {
		fmt.Fprintf(stdout, "%d path(s) skipped:\n", len(incomplete.Failures))
		for _, failure := range incomplete.Failures {
			fmt.Fprintf(stdout, "  %s (%s): %v\n", failure.Path, failure.ID, failure.Err)
		}
		return &cli.ExitError{Code: extractExitIncomplete}
	}
	return nil
}

func printReport(w io.Writer, report *extract.Report, destination string) {
	fmt.Fprintf(w, "extracted %s file(s), %s, into %s\n",
		humanize.Comma(int64(report.FilesWritten)),
		humanize.IBytes(uint64(report.BytesWritten)),
		destination)
	if report.DirectoriesCreated > 0 || report.SymlinksCreated > 0 {
		fmt.Fprintf(w, "created %s director(ies), %s symlink(s)\n",
			humanize.Comma(int64(report.DirectoriesCreated)),
			humanize.Comma(int64(report.SymlinksCreated)))
	}
	source := "archive"
	if report.Compressed {
		source = "compressed archive"
	}
	fmt.Fprintf(w, "read %s block(s) from %s\n", humanize.Comma(int64(report.BlocksIndexed)), source)
}
