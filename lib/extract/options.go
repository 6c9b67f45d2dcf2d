// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/bureau-foundation/carextract/lib/car"
	"github.com/bureau-foundation/carextract/lib/contentid"
	"github.com/bureau-foundation/carextract/lib/dagnode"
)

// Mode selects which part of the archive is materialized.
type Mode uint8

const (
	// ModeAll extracts every root.
	ModeAll Mode = iota

	// ModePattern extracts files whose root-relative path matches
	// Options.Pattern.
	ModePattern

	// ModeIdentifier extracts the first node, in depth-first root
	// order, whose identifier equals Options.Target. Verification is
	// forced on and any failure aborts and removes the output.
	ModeIdentifier
)

// String returns the mode name used in logs.
func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModePattern:
		return "pattern"
	case ModeIdentifier:
		return "identifier"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Defaults.
const (
	DefaultName     = "file"
	DefaultMaxDepth = 512
)

// Options configures an extraction.
type Options struct {
	Mode Mode

	// Pattern is the path pattern for ModePattern. See package
	// pathmatch for the syntax.
	Pattern string

	// Target is the identifier to extract in ModeIdentifier.
	Target contentid.ID

	// Verify recomputes every block's digest before using it. When
	// false, archive bytes are trusted and written unchecked.
	// ModeIdentifier ignores this and always verifies.
	Verify bool

	// Strict makes integrity and size failures abort the run instead
	// of skipping the affected file.
	Strict bool

	// Workers bounds concurrent file writes. Zero means
	// runtime.NumCPU().
	Workers int

	// DefaultName names the output when a root (or the target) is a
	// file rather than a directory.
	DefaultName string

	// MaxDepth bounds DAG nesting. Zero means DefaultMaxDepth.
	MaxDepth int

	// Logger receives per-file warnings and the run summary. Nil means
	// slog.Default().
	Logger *slog.Logger

	// ReaderOptions are passed to car.NewReader.
	ReaderOptions []car.ReaderOption
}

// DefaultOptions returns options for a verified extract-all.
func DefaultOptions() Options {
	return Options{
		Mode:        ModeAll,
		Verify:      true,
		Workers:     runtime.NumCPU(),
		DefaultName: DefaultName,
		MaxDepth:    DefaultMaxDepth,
	}
}

// withDefaults fills zero values and checks mode-specific fields.
func (o Options) withDefaults() (Options, error) {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.DefaultName == "" {
		o.DefaultName = DefaultName
	}
	if err := dagnode.ValidateName(o.DefaultName); err != nil {
		return o, fmt.Errorf("default name: %w", err)
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	switch o.Mode {
	case ModeAll:
	case ModePattern:
		if o.Pattern == "" {
			return o, fmt.Errorf("pattern mode requires a pattern")
		}
	case ModeIdentifier:
		if !o.Target.Defined() {
			return o, fmt.Errorf("identifier mode requires a target identifier")
		}
		o.Verify = true
		o.Strict = true
	default:
		return o, fmt.Errorf("unknown extraction mode %s", o.Mode)
	}
	return o, nil
}
