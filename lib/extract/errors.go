// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/carextract/lib/contentid"
)

// ResolutionKind classifies a ResolutionError.
type ResolutionKind uint8

const (
	// MissingBlock: a referenced identifier has no block in the
	// archive.
	MissingBlock ResolutionKind = iota + 1

	// NotReachable: the target identifier is in the archive but no
	// root links to it.
	NotReachable
)

func (k ResolutionKind) String() string {
	switch k {
	case MissingBlock:
		return "missing_block"
	case NotReachable:
		return "not_reachable"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ResolutionError reports an identifier that could not be resolved to
// content.
type ResolutionError struct {
	Kind ResolutionKind
	ID   contentid.ID

	// Path is the root-relative output path that needed the block, or
	// empty when the failure is not tied to a path.
	Path string
}

func (e *ResolutionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s: %s (needed for %s)", e.Kind, e.ID, e.Path)
}

// SizeMismatchError reports a file whose reassembled length differs
// from the size its node declares.
type SizeMismatchError struct {
	ID       contentid.ID
	Path     string
	Declared uint64
	Actual   uint64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("file %s (%s) declares %d bytes, chunks hold %d", e.Path, e.ID, e.Declared, e.Actual)
}

// UnsafeSymlinkError reports a symlink whose target is absolute or
// resolves outside the extraction root.
type UnsafeSymlinkError struct {
	Path   string
	Target string
}

func (e *UnsafeSymlinkError) Error() string {
	return fmt.Sprintf("symlink %s -> %s escapes the extraction root", e.Path, e.Target)
}

// Failure is one path that was not extracted.
type Failure struct {
	Path string
	ID   contentid.ID
	Err  error
}

// IncompleteError is returned by bulk extractions that wrote what they
// could but skipped some paths. The Report lists the same failures.
type IncompleteError struct {
	Failures []Failure
}

func (e *IncompleteError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "extraction incomplete: %d path(s) failed", len(e.Failures))
	for i, failure := range e.Failures {
		if i == 3 {
			fmt.Fprintf(&builder, "; and %d more", len(e.Failures)-i)
			break
		}
		fmt.Fprintf(&builder, "; %s: %v", failure.Path, failure.Err)
	}
	return builder.String()
}

// Unwrap exposes every failure's error to errors.Is and errors.As.
func (e *IncompleteError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, failure := range e.Failures {
		errs[i] = failure.Err
	}
	return errs
}
