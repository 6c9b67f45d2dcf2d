// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pathmatch

import (
	"strings"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		// Literal suffix.
		{"suffix extension", ".txt", "a/b/notes.txt", true},
		{"suffix extension mismatch", ".txt", "a/b/notes.md", false},
		{"suffix path at depth", "second/AD299.txt", "first/second/AD299.txt", true},
		{"suffix path at root", "second/AD299.txt", "second/AD299.txt", true},
		{"suffix is case sensitive", ".TXT", "notes.txt", false},
		{"suffix exact", "README", "README", true},
		{"anchored literal at root", "/README.md", "README.md", true},
		{"anchored literal not at depth", "/README.md", "docs/README.md", false},
		{"anchored literal path", "/docs/README.md", "docs/README.md", true},

		// Single-segment globs.
		{"star top level", "*.txt", "notes.txt", true},
		{"star does not cross slash", "*.txt", "a/notes.txt", false},
		{"star in middle", "a/*/c.txt", "a/b/c.txt", true},
		{"question mark", "file?.bin", "file1.bin", true},
		{"question mark not slash", "a?b", "a/b", false},
		{"character class", "log[0-9].txt", "log7.txt", true},
		{"character class mismatch", "log[0-9].txt", "logx.txt", false},
		{"glob case sensitive", "*.TXT", "a.txt", false},

		// Double star.
		{"universal", "**", "a/b/c", true},
		{"prefix doublestar", "**/*.md", "docs/guide/intro.md", true},
		{"prefix doublestar zero segments", "**/*.md", "intro.md", true},
		{"suffix doublestar", "docs/**", "docs/a/b", true},
		{"suffix doublestar exact", "docs/**", "docs", true},
		{"suffix doublestar other prefix", "docs/**", "src/a", false},
		{"interior doublestar", "a/**/c", "a/x/y/c", true},
		{"interior doublestar zero", "a/**/c", "a/c", true},
		{"interior doublestar rejects empty segment", "a/**/c", "a//c", false},
		{"multiple doublestars", "a/**/b/**/c.txt", "a/1/b/2/3/c.txt", true},
		{"multiple doublestars mismatch", "a/**/b/**/c.txt", "a/1/x/2/c.txt", false},
		{"leading slash ignored", "/docs/*", "docs/a", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			pattern, err := Compile(test.pattern)
			if err != nil {
				t.Fatalf("Compile(%q): %v", test.pattern, err)
			}
			if got := pattern.Match(test.path); got != test.want {
				t.Errorf("Compile(%q).Match(%q) = %v, want %v", test.pattern, test.path, got, test.want)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, pattern := range []string{"", "/", "[", "a/[b", "a**b/c", "x/**y"} {
		if _, err := Compile(pattern); err == nil {
			t.Errorf("Compile(%q) accepted", pattern)
		}
	}
}

func TestCouldMatchBelow(t *testing.T) {
	tests := []struct {
		pattern   string
		directory string
		want      bool
	}{
		{".txt", "anything/at/all", true},
		{"*.txt", "", true},
		{"*.txt", "docs", false},
		{"docs/*.md", "docs", true},
		{"docs/*.md", "src", false},
		{"docs/*.md", "docs/deep", false},
		{"docs/**", "docs/a/b", true},
		{"**/*.md", "x/y", true},
		{"a/*/c", "a/b", true},
		{"a/*/c", "a/b/c", false},
	}
	for _, test := range tests {
		pattern := MustCompile(test.pattern)
		if got := pattern.CouldMatchBelow(test.directory); got != test.want {
			t.Errorf("Compile(%q).CouldMatchBelow(%q) = %v, want %v", test.pattern, test.directory, got, test.want)
		}
	}
}

// Pruning must never hide a match: whenever a path matches, every
// ancestor directory must report CouldMatchBelow.
func TestPruningIsConservative(t *testing.T) {
	paths := []string{"a.txt", "docs/a.md", "docs/guide/b.md", "src/x/y/z.go", "second/AD299.txt"}
	patterns := []string{".txt", "*.txt", "**/*.md", "docs/*", "src/**/z.go", "second/AD299.txt", "**"}
	for _, raw := range patterns {
		pattern := MustCompile(raw)
		for _, candidate := range paths {
			if !pattern.Match(candidate) {
				continue
			}
			directory := ""
			for {
				if !pattern.CouldMatchBelow(directory) {
					t.Errorf("pattern %q matches %q but prunes %q", raw, candidate, directory)
				}
				rest := candidate[len(directory):]
				if directory != "" {
					rest = rest[1:]
				}
				slash := strings.IndexByte(rest, '/')
				if slash < 0 {
					break
				}
				if directory == "" {
					directory = rest[:slash]
				} else {
					directory += "/" + rest[:slash]
				}
			}
		}
	}
}

func TestZeroPatternMatchesNothing(t *testing.T) {
	var pattern Pattern
	if pattern.Match("a") || pattern.CouldMatchBelow("") {
		t.Error("zero Pattern selected something")
	}
}
