// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package car

import (
	"context"
	"fmt"
	"io"

	"github.com/bureau-foundation/carextract/lib/contentid"
)

// cancelCheckInterval is how many blocks BuildIndex reads between
// context checks.
const cancelCheckInterval = 256

// Index maps identifiers to block data for one archive. It is built
// once by [BuildIndex] and never mutated afterwards; all methods are
// safe for concurrent use.
type Index struct {
	header  Header
	entries map[string]indexEntry

	// order lists identifiers in first-occurrence archive order.
	order []contentid.ID

	// source backs offset entries. Nil when every entry holds its data
	// in memory.
	source io.ReaderAt

	totalBytes int64
}

type indexEntry struct {
	data   []byte
	offset int64
	length int
}

// BuildIndex drains r into an Index.
//
// When source is non-nil and the archive is not compressed, entries
// record only the offset and length of each block and Get re-reads them
// from source; source must then be the same bytes r was reading. A
// compressed archive always indexes in memory because its offsets
// refer to the decompressed stream.
//
// The first occurrence of a duplicated identifier wins. Format errors
// from the reader abort indexing.
func BuildIndex(ctx context.Context, r *Reader, source io.ReaderAt) (*Index, error) {
	if r.Compression() != CompressionNone {
		source = nil
	}
	index := &Index{
		header:  r.Header(),
		entries: make(map[string]indexEntry),
		source:  source,
	}

	count := 0
	err := r.ForEach(func(block Block) error {
		count++
		if count%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		key := block.ID.Key()
		if _, exists := index.entries[key]; exists {
			return nil
		}
		entry := indexEntry{offset: block.DataOffset, length: len(block.Data)}
		if index.source == nil {
			entry.data = block.Data
		}
		index.entries[key] = entry
		index.order = append(index.order, block.ID)
		index.totalBytes += int64(len(block.Data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}

// Header returns the header of the indexed archive.
func (x *Index) Header() Header {
	return x.header
}

// Get returns the data stored under id. Identity identifiers resolve
// to their inline content whether or not the archive carries a block
// for them. The returned slice must not be modified.
func (x *Index) Get(id contentid.ID) ([]byte, bool, error) {
	entry, ok := x.entries[id.Key()]
	if !ok {
		if id.IsIdentity() {
			return id.Digest(), true, nil
		}
		return nil, false, nil
	}
	if x.source == nil {
		return entry.data, true, nil
	}
	data := make([]byte, entry.length)
	if _, err := x.source.ReadAt(data, entry.offset); err != nil {
		return nil, false, fmt.Errorf("reading block %s at offset %d: %w", id, entry.offset, err)
	}
	return data, true, nil
}

// Has reports whether id resolves, counting identity identifiers as
// always present.
func (x *Index) Has(id contentid.ID) bool {
	if id.IsIdentity() {
		return true
	}
	_, ok := x.entries[id.Key()]
	return ok
}

// Len returns the number of distinct blocks in the archive.
func (x *Index) Len() int {
	return len(x.order)
}

// Size returns the total data bytes of distinct blocks.
func (x *Index) Size() int64 {
	return x.totalBytes
}

// IDs returns the distinct identifiers in archive order.
func (x *Index) IDs() []contentid.ID {
	return append([]contentid.ID(nil), x.order...)
}

// OffsetBacked reports whether the index re-reads blocks from the
// archive rather than holding them in memory.
func (x *Index) OffsetBacked() bool {
	return x.source != nil
}
