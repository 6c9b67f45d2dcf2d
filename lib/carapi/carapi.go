// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package carapi is the coarse boundary over [extract]: each entry
// point takes paths and strings, runs one extraction with default
// options, and reports success as a bool. The error is logged, not
// returned; callers that need to tell a corrupt archive from missing
// content or an integrity mismatch use package extract directly.
//
// A bulk extraction that skipped any file reports false even though
// the rest was written.
package carapi

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/carextract/lib/contentid"
	"github.com/bureau-foundation/carextract/lib/extract"
)

// Logger receives the error of every failed call. Nil means
// slog.Default().
var Logger *slog.Logger

func logger() *slog.Logger {
	if Logger != nil {
		return Logger
	}
	return slog.Default()
}

// ExtractAll writes every file reachable from the archive's roots
// under outputPath.
func ExtractAll(archivePath, outputPath string) bool {
	return run(archivePath, outputPath, extract.DefaultOptions())
}

// ExtractByPattern writes the files whose root-relative path matches
// pattern: a glob if it contains *, ? or [, otherwise a path suffix.
func ExtractByPattern(archivePath, pattern, outputPath string) bool {
	options := extract.DefaultOptions()
	options.Mode = extract.ModePattern
	options.Pattern = pattern
	return run(archivePath, outputPath, options)
}

// ExtractVerifiedByIdentifier writes the subtree named by identifier,
// given in text form, verifying every block it touches. On any
// failure nothing is left under outputPath.
func ExtractVerifiedByIdentifier(archivePath, identifier, outputPath string) bool {
	target, err := contentid.Decode(identifier)
	if err != nil {
		logger().Error("invalid content identifier", "cid", identifier, "error", err)
		return false
	}
	options := extract.DefaultOptions()
	options.Mode = extract.ModeIdentifier
	options.Target = target
	return run(archivePath, outputPath, options)
}

func run(archivePath, outputPath string, options extract.Options) bool {
	log := logger().With("archive", archivePath, "output", outputPath)
	options.Logger = log
	if _, err := extract.ExtractFile(context.Background(), archivePath, outputPath, options); err != nil {
		log.Error("extraction failed", "mode", options.Mode.String(), "error", err)
		return false
	}
	return true
}
