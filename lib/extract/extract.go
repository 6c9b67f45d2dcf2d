// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package extract materializes the files of a CAR archive on disk.
//
// An extraction reads the whole archive once into a [car.Index], then
// walks the UnixFS DAG from the header roots. The walker runs on the
// calling goroutine: it resolves directories, creates them in
// traversal order, and hands each file to a bounded worker pool that
// reassembles the file's chunks into a temporary sibling and renames
// it into place. The index is read-only during the walk, so workers
// share it without locking.
//
// Three modes select what is written (see [Mode]). Failures are
// classified as:
//
//   - format errors ([carerr.FormatError]) and I/O errors: abort the
//     run in every mode
//   - missing blocks ([ResolutionError]), digest mismatches
//     ([car.IntegrityError]), size mismatches and unsafe symlinks:
//     in ModeAll and ModePattern the affected file or subtree is
//     skipped and recorded, and the run ends with an [IncompleteError].
//     With Options.Strict set, integrity and size failures abort, so
//     skipping a damaged file and extracting the rest needs Verify
//     without Strict.
//   - in ModeIdentifier every failure aborts, and everything the call
//     wrote is removed, so no unverified bytes are left presented as
//     verified.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/remeh/sizedwaitgroup"

	"github.com/bureau-foundation/carextract/lib/car"
	"github.com/bureau-foundation/carextract/lib/contentid"
	"github.com/bureau-foundation/carextract/lib/dagnode"
	"github.com/bureau-foundation/carextract/lib/pathmatch"
)

// Extract reads an archive from r and writes the selected content
// under destination, creating it if needed.
//
// On success the error is nil. A bulk run that skipped some paths
// returns the report together with an *IncompleteError. Any other
// error means the run aborted; the report then describes what had
// been written before the abort.
func Extract(ctx context.Context, r io.Reader, destination string, options Options) (*Report, error) {
	return extract(ctx, r, nil, destination, options)
}

// ExtractFile is Extract over a file on disk. Uncompressed archives
// are indexed by offset and re-read on demand instead of being held in
// memory.
func ExtractFile(ctx context.Context, archivePath, destination string, options Options) (*Report, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	var source io.ReaderAt
	if info.Mode().IsRegular() {
		source = file
		options.ReaderOptions = append(slices.Clone(options.ReaderOptions), car.WithStreamSize(info.Size()))
	}
	return extract(ctx, file, source, destination, options)
}

func extract(ctx context.Context, r io.Reader, source io.ReaderAt, destination string, options Options) (*Report, error) {
	options, err := options.withDefaults()
	if err != nil {
		return nil, err
	}
	if destination == "" {
		return nil, fmt.Errorf("destination directory is required")
	}

	x := &extraction{
		options: options,
		logger:  options.Logger.With("mode", options.Mode.String()),
	}
	x.tally.report.Mode = options.Mode

	if options.Mode == ModePattern {
		x.pattern, err = pathmatch.Compile(options.Pattern)
		if err != nil {
			return nil, err
		}
	}

	reader, err := car.NewReader(r, options.ReaderOptions...)
	if err != nil {
		return nil, fmt.Errorf("reading archive header: %w", err)
	}
	defer reader.Close()

	x.index, err = car.BuildIndex(ctx, reader, source)
	if err != nil {
		return nil, fmt.Errorf("indexing archive: %w", err)
	}
	header := x.index.Header()
	x.tally.report.Roots = header.Roots
	x.tally.report.BlocksIndexed = x.index.Len()
	x.tally.report.Compressed = reader.Compression() != car.CompressionNone

	x.logger.Debug("archive indexed",
		"version", header.Version,
		"roots", len(header.Roots),
		"blocks", x.index.Len(),
		"compression", reader.Compression().String(),
		"offset_backed", x.index.OffsetBacked(),
	)
	if !options.Verify {
		x.logger.Warn("block verification disabled, archive contents are trusted")
	}

	_, statErr := os.Stat(destination)
	createdDestination := errors.Is(statErr, fs.ErrNotExist)
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination: %w", err)
	}

	walkCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	x.cancel = cancel
	x.pool = sizedwaitgroup.New(options.Workers)

	if options.Mode == ModeIdentifier {
		err = x.runIdentifier(walkCtx, destination)
	} else {
		err = x.runBulk(walkCtx, destination)
	}
	report := x.tally.finish()

	if err != nil {
		if options.Mode == ModeIdentifier && createdDestination {
			// Only succeeds if empty; the staging directory is gone.
			os.Remove(destination)
		}
		return report, err
	}
	if len(report.Failures) > 0 {
		x.logger.Warn("extraction incomplete",
			"files", report.FilesWritten,
			"failures", len(report.Failures),
		)
		return report, &IncompleteError{Failures: report.Failures}
	}
	x.logger.Info("extraction complete",
		"files", report.FilesWritten,
		"directories", report.DirectoriesCreated,
		"bytes", report.BytesWritten,
	)
	return report, nil
}

// extraction is the state of one Extract call.
type extraction struct {
	options Options
	logger  *slog.Logger
	index   *car.Index
	pattern pathmatch.Pattern

	pool   sizedwaitgroup.SizedWaitGroup
	cancel context.CancelCauseFunc
	tally  tally
}

// runBulk walks every root for ModeAll and ModePattern. With one root
// its content lands directly in destination; with several, each root
// gets a subdirectory named by its identifier.
func (x *extraction) runBulk(ctx context.Context, destination string) error {
	roots := uniqueRoots(x.index.Header().Roots)
	for _, root := range roots {
		base := destination
		if len(roots) > 1 {
			base = filepath.Join(destination, root.String())
		}
		if err := x.walkRoot(ctx, root, base); err != nil {
			x.abort(err)
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	x.pool.Wait()
	return x.cause(ctx)
}

// runIdentifier extracts the target subtree into a staging directory
// and moves it into place only after every block has verified.
func (x *extraction) runIdentifier(ctx context.Context, destination string) error {
	target := x.options.Target
	if !x.index.Has(target) {
		return &ResolutionError{Kind: MissingBlock, ID: target}
	}

	found, err := x.find(ctx, target)
	if err != nil {
		return err
	}
	if found == nil {
		return &ResolutionError{Kind: NotReachable, ID: target}
	}

	staging, err := os.MkdirTemp(destination, ".bureau-car-staging-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	relative := found.name
	if _, isDirectory := found.node.(*dagnode.DirectoryNode); isDirectory {
		relative = ""
	} else if relative == "" {
		relative = x.options.DefaultName
	}
	if err := x.emit(ctx, found.node, target, found.ancestry, relative, staging); err != nil {
		x.abort(err)
	}
	x.pool.Wait()
	if err := x.cause(ctx); err != nil {
		x.logger.Warn("verified extraction failed, output removed", "target", target.String(), "error", err)
		return err
	}
	return commitStaging(staging, destination)
}

// abort records a fatal error and stops scheduling further work. The
// first error wins.
func (x *extraction) abort(err error) {
	x.cancel(err)
}

// cause returns the fatal error of the run, if any. Cancellation of
// the caller's context is reported as its own error.
func (x *extraction) cause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

// recoverable reports whether err should skip the affected path
// rather than abort the run.
func (x *extraction) recoverable(err error) bool {
	if x.options.Mode == ModeIdentifier {
		return false
	}
	var resolution *ResolutionError
	var symlink *UnsafeSymlinkError
	if errors.As(err, &resolution) || errors.As(err, &symlink) {
		return true
	}
	var integrity *car.IntegrityError
	var size *SizeMismatchError
	if errors.As(err, &integrity) || errors.As(err, &size) {
		return !x.options.Strict
	}
	return false
}

// handle records a recoverable failure and returns nil, or returns err
// unchanged when it must abort the run.
func (x *extraction) handle(err error, path string, id contentid.ID) error {
	if err == nil {
		return nil
	}
	if !x.recoverable(err) {
		return err
	}
	x.logger.Warn("skipping path", "path", path, "cid", id.String(), "error", err)
	x.tally.fail(Failure{Path: path, ID: id, Err: err})
	return nil
}

func uniqueRoots(roots []contentid.ID) []contentid.ID {
	seen := make(map[string]struct{}, len(roots))
	unique := make([]contentid.ID, 0, len(roots))
	for _, root := range roots {
		if _, ok := seen[root.Key()]; ok {
			continue
		}
		seen[root.Key()] = struct{}{}
		unique = append(unique, root)
	}
	return unique
}
