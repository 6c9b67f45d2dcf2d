// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package carerr defines the format error taxonomy shared by every
// layer of the CAR decoder: identifier parsing, frame reading, node
// decoding, and DAG traversal.
//
// A [FormatError] means the archive itself is unusable past the point
// where it was raised. Callers never skip over one and continue reading
// from the same position. Each error carries a [Kind] so embedding
// callers can branch on the failure class:
//
//	var formatErr *carerr.FormatError
//	if errors.As(err, &formatErr) && formatErr.Kind == carerr.InvalidFrameLength {
//	    // truncated or corrupt archive
//	}
//
// The kind sentinels also work with errors.Is:
//
//	if errors.Is(err, carerr.ErrTruncatedIdentifier) { ... }
package carerr

import (
	"errors"
	"fmt"
)

// Kind classifies a FormatError.
type Kind uint8

const (
	// TruncatedIdentifier: fewer bytes remain than a CID declares.
	TruncatedIdentifier Kind = iota + 1

	// UnknownAlgorithm: the multihash code is not one the verifier
	// can compute.
	UnknownAlgorithm

	// InvalidIdentifier: the CID is structurally invalid (bad version,
	// varint overflow, digest length not matching the algorithm).
	InvalidIdentifier

	// InvalidFrameLength: a block frame declares zero bytes, more bytes
	// than the reader allows, or more bytes than the stream holds.
	InvalidFrameLength

	// InvalidHeader: the archive header is missing, oversized, or does
	// not decode as a CAR header.
	InvalidHeader

	// UnsupportedVersion: the archive header names a CAR version other
	// than 1 or 2.
	UnsupportedVersion

	// UnsupportedNodeType: the block's content type (or UnixFS type) is
	// not one this decoder interprets.
	UnsupportedNodeType

	// MalformedNode: the block's content type is supported but its
	// bytes do not decode (bad protobuf, duplicate entry names, unsafe
	// entry names).
	MalformedNode

	// ExcessiveDepth: DAG traversal exceeded the configured depth
	// bound or revisited an identifier in its own ancestry.
	ExcessiveDepth
)

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	switch k {
	case TruncatedIdentifier:
		return "truncated_identifier"
	case UnknownAlgorithm:
		return "unknown_algorithm"
	case InvalidIdentifier:
		return "invalid_identifier"
	case InvalidFrameLength:
		return "invalid_frame_length"
	case InvalidHeader:
		return "invalid_header"
	case UnsupportedVersion:
		return "unsupported_version"
	case UnsupportedNodeType:
		return "unsupported_node_type"
	case MalformedNode:
		return "malformed_node"
	case ExcessiveDepth:
		return "excessive_depth"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Sentinels for errors.Is. A *FormatError matches the sentinel of its
// kind.
var (
	ErrTruncatedIdentifier = &FormatError{Kind: TruncatedIdentifier}
	ErrUnknownAlgorithm    = &FormatError{Kind: UnknownAlgorithm}
	ErrInvalidIdentifier   = &FormatError{Kind: InvalidIdentifier}
	ErrInvalidFrameLength  = &FormatError{Kind: InvalidFrameLength}
	ErrInvalidHeader       = &FormatError{Kind: InvalidHeader}
	ErrUnsupportedVersion  = &FormatError{Kind: UnsupportedVersion}
	ErrUnsupportedNodeType = &FormatError{Kind: UnsupportedNodeType}
	ErrMalformedNode       = &FormatError{Kind: MalformedNode}
	ErrExcessiveDepth      = &FormatError{Kind: ExcessiveDepth}
)

// FormatError reports a malformed archive, identifier, or node.
type FormatError struct {
	Kind Kind

	// Offset is the absolute archive byte offset of the frame being
	// decoded, or -1 when the error is not tied to a position.
	Offset int64

	// Detail is a human-readable description.
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

// New returns a FormatError with no position.
func New(kind Kind, format string, args ...any) *FormatError {
	return &FormatError{Kind: kind, Offset: -1, Detail: fmt.Sprintf(format, args...)}
}

// Wrap returns a FormatError with no position wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *FormatError {
	return &FormatError{Kind: kind, Offset: -1, Detail: fmt.Sprintf(format, args...), Err: err}
}

// At returns a copy of e positioned at offset. If e already carries a
// position it is returned unchanged.
func (e *FormatError) At(offset int64) *FormatError {
	if e.Offset >= 0 {
		return e
	}
	positioned := *e
	positioned.Offset = offset
	return &positioned
}

func (e *FormatError) Error() string {
	message := e.Kind.String()
	if e.Detail != "" {
		message += ": " + e.Detail
	}
	if e.Offset >= 0 {
		message += fmt.Sprintf(" (at offset %d)", e.Offset)
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Is matches another *FormatError of the same kind, so the package
// sentinels work with errors.Is.
func (e *FormatError) Is(target error) bool {
	other, ok := target.(*FormatError)
	return ok && other.Kind == e.Kind
}

// KindOf returns the kind of the first FormatError in err's chain, or
// zero if there is none.
func KindOf(err error) Kind {
	var formatErr *FormatError
	if errors.As(err, &formatErr) {
		return formatErr.Kind
	}
	return 0
}
