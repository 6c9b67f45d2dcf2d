// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathmatch decides which extracted paths a pattern selects.
//
// Paths are relative to an archive root, use "/" as the separator, and
// have no leading slash: "docs/guide/intro.md". Matching is
// case-sensitive and byte-exact.
//
// A pattern containing any of the glob metacharacters *, ? or [ is a
// glob, matched against the whole relative path:
//
//   - "*" and "?" follow path.Match and never match "/"
//   - "**" as a whole segment matches zero or more segments, in any
//     position and any number of times: "**/*.md", "docs/**",
//     "a/**/b/**/c"
//   - a leading "/" is ignored: "/docs/*" is "docs/*"
//
// Any other pattern is a literal suffix: it selects every path that
// ends with it. ".txt" selects every path ending in .txt, and
// "second/AD299.txt" selects that file at any depth. A literal with a
// leading "/" is anchored at the root and selects only that exact
// path: "/README.md" matches "README.md" but not "docs/README.md".
package pathmatch

import (
	"fmt"
	"path"
	"strings"
)

// Pattern is a compiled path pattern. The zero value matches nothing.
type Pattern struct {
	raw      string
	literal  bool
	anchored bool
	segments []string
}

// Compile parses pattern. Empty patterns and malformed character
// classes are errors.
func Compile(pattern string) (Pattern, error) {
	if pattern == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	trimmed := strings.TrimPrefix(pattern, "/")
	if trimmed == "" {
		return Pattern{}, fmt.Errorf("pattern %q selects no path", pattern)
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return Pattern{raw: pattern, literal: true, anchored: trimmed != pattern}, nil
	}

	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		if segment == "**" {
			continue
		}
		if strings.Contains(segment, "**") {
			return Pattern{}, fmt.Errorf("pattern %q: ** must be a whole path segment", pattern)
		}
		if _, err := path.Match(segment, segment); err != nil {
			return Pattern{}, fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return Pattern{raw: pattern, segments: segments}, nil
}

// MustCompile is Compile that panics on error, for patterns known at
// compile time.
func MustCompile(pattern string) Pattern {
	compiled, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return compiled
}

// String returns the pattern as written.
func (p Pattern) String() string {
	return p.raw
}

// Literal reports whether the pattern is a literal suffix rather than
// a glob.
func (p Pattern) Literal() bool {
	return p.literal
}

// Match reports whether the relative path is selected.
func (p Pattern) Match(relative string) bool {
	if p.raw == "" {
		return false
	}
	if p.anchored {
		return relative == p.raw[1:]
	}
	if p.literal {
		return strings.HasSuffix(relative, p.raw)
	}
	return matchSegments(p.segments, strings.Split(relative, "/"))
}

// CouldMatchBelow reports whether any path strictly below the directory
// could match. The root directory is "". A false result lets the caller
// skip the subtree without changing which files are selected.
func (p Pattern) CouldMatchBelow(directory string) bool {
	if p.raw == "" {
		return false
	}
	if p.literal {
		return true
	}
	if directory == "" {
		return len(p.segments) > 0
	}
	return prefixCouldMatch(p.segments, strings.Split(directory, "/"))
}

func matchSegments(pattern, segments []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			// Collapse runs of ** and try every split point.
			for len(pattern) > 0 && pattern[0] == "**" {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return allNonEmpty(segments)
			}
			for skip := 0; skip <= len(segments); skip++ {
				if skip > 0 && segments[skip-1] == "" {
					return false
				}
				if matchSegments(pattern, segments[skip:]) {
					return true
				}
			}
			return false
		}
		if len(segments) == 0 || !matchGlob(pattern[0], segments[0]) {
			return false
		}
		pattern = pattern[1:]
		segments = segments[1:]
	}
	return len(segments) == 0
}

// prefixCouldMatch reports whether the directory segments can be
// consumed by a prefix of the pattern with pattern left over for at
// least one more segment.
func prefixCouldMatch(pattern, directory []string) bool {
	for len(directory) > 0 {
		if len(pattern) == 0 {
			return false
		}
		if pattern[0] == "**" {
			return true
		}
		if !matchGlob(pattern[0], directory[0]) {
			return false
		}
		pattern = pattern[1:]
		directory = directory[1:]
	}
	return len(pattern) > 0
}

func matchGlob(pattern, segment string) bool {
	matched, err := path.Match(pattern, segment)
	return err == nil && matched
}

func allNonEmpty(segments []string) bool {
	for _, segment := range segments {
		if segment == "" {
			return false
		}
	}
	return true
}
