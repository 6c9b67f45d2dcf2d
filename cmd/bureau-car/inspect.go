// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/carextract/cmd/bureau-car/cli"
	"github.com/bureau-foundation/carextract/lib/car"
	"github.com/bureau-foundation/carextract/lib/contentid"
	"github.com/bureau-foundation/carextract/lib/digest"
)

type inspectFlags struct {
	globalFlags
	blocks bool
}

func inspectCommand(stdout io.Writer) *cli.Command {
	var flags inspectFlags

	return &cli.Command{
		Name:    "inspect",
		Summary: "Show an archive's header and block statistics",
		Description: `Read an archive end to end and print its header, compression,
roots, and block counts by codec and hash algorithm. Blocks are not
verified; use "bureau-car verify" for that.

With --blocks, every block is listed with its offset, CID, codec, and
size, in archive order.`,
		Usage: "bureau-car inspect [flags] <archive>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flagSet.BoolVar(&flags.blocks, "blocks", false, "list every block")
			flags.register(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Summarize an archive",
				Command:     "bureau-car inspect site.car",
			},
			{
				Description: "List every block",
				Command:     "bureau-car inspect --blocks site.car",
			},
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "bureau-car inspect [flags] <archive>"); err != nil {
				return err
			}
			return runInspect(stdout, flags, args[0])
		},
	}
}

// codecName names the content types the engine interprets.
func codecName(codec uint64) string {
	switch codec {
	case contentid.Raw:
		return "raw"
	case contentid.DagPB:
		return "dag-pb"
	case contentid.DagCBOR:
		return "dag-cbor"
	default:
		return fmt.Sprintf("0x%x", codec)
	}
}

func runInspect(stdout io.Writer, flags inspectFlags, archivePath string) error {
	cfg, logger, err := flags.load("inspect")
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

	header := reader.Header()
	tw := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "version:\t%d\n", header.Version)
	if header.Version == 2 {
		fmt.Fprintf(tw, "data offset:\t%d\n", header.DataOffset)
		fmt.Fprintf(tw, "data size:\t%s\n", humanize.IBytes(uint64(header.DataSize)))
	}
	fmt.Fprintf(tw, "compression:\t%s\n", reader.Compression())
	fmt.Fprintf(tw, "roots:\t%d\n", len(header.Roots))
	for _, root := range header.Roots {
		fmt.Fprintf(tw, "\t%s\n", root)
	}
	tw.Flush()

	if flags.blocks {
		fmt.Fprintln(stdout)
		tw = tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "OFFSET\tCID\tCODEC\tSIZE\n")
	}

	codecs := make(map[string]int)
	hashes := make(map[string]int)
	var count int
	var total uint64
	err = reader.ForEach(func(block car.Block) error {
		count++
		total += uint64(len(block.Data))
		codecs[codecName(block.ID.Codec())]++
		hashes[digest.Name(block.ID.HashCode())]++
		if flags.blocks {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", block.FrameOffset, block.ID, codecName(block.ID.Codec()), len(block.Data))
		}
		return nil
	})
	if flags.blocks {
		tw.Flush()
		fmt.Fprintln(stdout)
	}
	if err != nil {
		logger.Error("archive unreadable past this point", "offset", reader.Offset(), "blocks_read", count)
		return fmt.Errorf("reading blocks: %w", err)
	}

	tw = tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "blocks:\t%s\n", humanize.Comma(int64(count)))
	fmt.Fprintf(tw, "block data:\t%s\n", humanize.IBytes(total))
	fmt.Fprintf(tw, "codecs:\t%s\n", formatCounts(codecs))
	fmt.Fprintf(tw, "hashes:\t%s\n", formatCounts(hashes))
	return tw.Flush()
}

// formatCounts renders name counts sorted by name: "dag-pb 3, raw 12".
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " " + humanize.Comma(int64(counts[name]))
	}
	return strings.Join(parts, ", ")
}
