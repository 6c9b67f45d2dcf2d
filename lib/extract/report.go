// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"sort"
	"sync"

	"github.com/bureau-foundation/carextract/lib/contentid"
)

// Report summarizes an extraction.
type Report struct {
	Mode  Mode
	Roots []contentid.ID

	BlocksIndexed int
	Compressed    bool

	FilesWritten       int
	SymlinksCreated    int
	DirectoriesCreated int
	BytesWritten       int64

	// Failures lists skipped paths sorted by path. Populated only by
	// bulk modes.
	Failures []Failure
}

// tally accumulates report counters from concurrent workers.
type tally struct {
	mu       sync.Mutex
	report   Report
	failures []Failure
}

func (t *tally) file(bytes int64) {
	t.mu.Lock()
	t.report.FilesWritten++
	t.report.BytesWritten += bytes
	t.mu.Unlock()
}

func (t *tally) symlink() {
	t.mu.Lock()
	t.report.SymlinksCreated++
	t.mu.Unlock()
}

func (t *tally) directory() {
	t.mu.Lock()
	t.report.DirectoriesCreated++
	t.mu.Unlock()
}

func (t *tally) fail(failure Failure) {
	t.mu.Lock()
	t.failures = append(t.failures, failure)
	t.mu.Unlock()
}

// finish returns the report with failures sorted so concurrent
// completion order does not leak into the result.
func (t *tally) finish() *Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	report := t.report
	report.Failures = append([]Failure(nil), t.failures...)
	sort.SliceStable(report.Failures, func(i, j int) bool {
		return report.Failures[i].Path < report.Failures[j].Path
	})
	return &report
}
