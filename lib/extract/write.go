// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/carextract/lib/carerr"
	"github.com/bureau-foundation/carextract/lib/contentid"
	"github.com/bureau-foundation/carextract/lib/dagnode"
)

// writeBufferSize is the buffered writer size for output files.
const writeBufferSize = 256 * 1024

// emitFile schedules a file write on the worker pool. In pattern mode
// unselected paths are skipped before any block is read.
func (x *extraction) emitFile(ctx context.Context, node dagnode.Node, id contentid.ID, trail *ancestry, relative, base string) error {
	if x.options.Mode == ModePattern && !x.pattern.Match(relative) {
		return nil
	}
	output := filepath.Join(base, filepath.FromSlash(relative))

	// AddWithContext fails only when the run is already aborting; the
	// cause is reported by the caller.
	if err := x.pool.AddWithContext(ctx); err != nil {
		return nil
	}
	go func() {
		defer x.pool.Done()
		written, err := x.writeFile(ctx, node, id, trail, relative, output)
		if err == nil {
			x.tally.file(int64(written))
			x.logger.Debug("wrote file", "path", relative, "cid", id.String(), "bytes", written)
			return
		}
		if err := x.handle(err, relative, id); err != nil {
			x.abort(err)
		}
	}()
	return nil
}

// writeFile reassembles a file into a temporary sibling of output and
// renames it into place. On any error the temporary file is removed and
// output is left untouched.
func (x *extraction) writeFile(ctx context.Context, node dagnode.Node, id contentid.ID, trail *ancestry, relative, output string) (written uint64, err error) {
	directory := filepath.Dir(output)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", directory, err)
	}
	temporary, err := os.CreateTemp(directory, "."+filepath.Base(output)+".*.partial")
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", relative, err)
	}
	defer func() {
		if err != nil {
			temporary.Close()
			os.Remove(temporary.Name())
		}
	}()

	buffered := bufio.NewWriterSize(temporary, writeBufferSize)
	written, err = x.writeContent(ctx, buffered, node, id, trail, relative)
	if err != nil {
		return 0, err
	}
	if err = buffered.Flush(); err != nil {
		return 0, fmt.Errorf("writing %s: %w", relative, err)
	}
	if err = temporary.Chmod(0o644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", relative, err)
	}
	if err = temporary.Close(); err != nil {
		return 0, fmt.Errorf("writing %s: %w", relative, err)
	}
	if err = os.Rename(temporary.Name(), output); err != nil {
		return 0, fmt.Errorf("placing %s: %w", relative, err)
	}
	return written, nil
}

// writeContent writes the bytes of a file node: inline data, then each
// chunk in listed order, recursing through intermediate file nodes.
func (x *extraction) writeContent(ctx context.Context, w io.Writer, node dagnode.Node, id contentid.ID, trail *ancestry, relative string) (uint64, error) {
	if node == nil {
		var err error
		node, err = x.load(id, relative)
		if err != nil {
			return 0, err
		}
	}

	switch n := node.(type) {
	case *dagnode.RawLeaf:
		if _, err := w.Write(n.Data); err != nil {
			return 0, fmt.Errorf("writing %s: %w", relative, err)
		}
		return uint64(len(n.Data)), nil

	case *dagnode.FileNode:
		if _, err := w.Write(n.Data); err != nil {
			return 0, fmt.Errorf("writing %s: %w", relative, err)
		}
		total := uint64(len(n.Data))
		for _, chunk := range n.Chunks {
			if ctx.Err() != nil {
				return total, context.Cause(ctx)
			}
			chunkTrail, err := trail.push(chunk.ID, x.options.MaxDepth)
			if err != nil {
				return total, err
			}
			written, err := x.writeContent(ctx, w, nil, chunk.ID, chunkTrail, relative)
			total += written
			if err != nil {
				return total, err
			}
		}
		if n.HasFileSize && n.FileSize != total {
			return total, &SizeMismatchError{ID: id, Path: relative, Declared: n.FileSize, Actual: total}
		}
		return total, nil

	default:
		return 0, carerr.New(carerr.MalformedNode, "%s in file %q is a %T, not file content", id, relative, node)
	}
}

// emitSymlink creates a symlink whose target is relative and resolves
// inside the extraction root. The link is created under a temporary
// name and renamed so an existing path is replaced atomically.
func (x *extraction) emitSymlink(link *dagnode.Symlink, relative, base string) error {
	if x.options.Mode == ModePattern && !x.pattern.Match(relative) {
		return nil
	}
	target := link.Target
	if path.IsAbs(target) || filepath.IsAbs(target) {
		return &UnsafeSymlinkError{Path: relative, Target: target}
	}
	resolved := path.Join(path.Dir(relative), target)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return &UnsafeSymlinkError{Path: relative, Target: target}
	}

	output := filepath.Join(base, filepath.FromSlash(relative))
	directory := filepath.Dir(output)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	temporary := filepath.Join(directory, "."+filepath.Base(output)+".symlink")
	if err := os.Remove(temporary); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("creating symlink %s: %w", relative, err)
	}
	if err := os.Symlink(target, temporary); err != nil {
		return fmt.Errorf("creating symlink %s: %w", relative, err)
	}
	if err := os.Rename(temporary, output); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("placing symlink %s: %w", relative, err)
	}
	x.tally.symlink()
	return nil
}

// mkdir creates one directory, counting it only if it did not already
// exist.
func (x *extraction) mkdir(directory string) error {
	if err := os.MkdirAll(filepath.Dir(directory), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	err := os.Mkdir(directory, 0o755)
	if err == nil {
		x.tally.directory()
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		info, statErr := os.Stat(directory)
		if statErr == nil && info.IsDir() {
			return nil
		}
	}
	return fmt.Errorf("creating %s: %w", directory, err)
}

// commitStaging moves everything under staging into destination,
// merging into directories that already exist there.
func commitStaging(staging, destination string) error {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("reading staging directory: %w", err)
	}
	for _, entry := range entries {
		source := filepath.Join(staging, entry.Name())
		target := filepath.Join(destination, entry.Name())
		if entry.IsDir() {
			if info, err := os.Lstat(target); err == nil && info.IsDir() {
				if err := commitStaging(source, target); err != nil {
					return err
				}
				continue
			}
		}
		if err := os.Rename(source, target); err != nil {
			return fmt.Errorf("placing %s: %w", entry.Name(), err)
		}
	}
	return nil
}
