// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cartest builds CAR archives in memory for tests.
//
// [Builder] is a small reference encoder: it chunks file content into
// raw leaves, links them with UnixFS file nodes, assembles directories
// (plain or HAMT-sharded), and serializes everything with car.Writer.
// It also exposes the operations tests need to produce damaged
// archives: replacing a block's bytes without changing its identifier,
// dropping blocks, and writing blocks in any order.
//
// Builder methods panic on internal encoding failures, which cannot
// happen with in-memory buffers. Helpers that touch the filesystem take
// a testing.TB-shaped interface and fail the test instead.
//
// This package depends only on the CAR and node packages it exercises.
package cartest

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bureau-foundation/carextract/lib/car"
	"github.com/bureau-foundation/carextract/lib/contentid"
	"github.com/bureau-foundation/carextract/lib/dagnode"
	"github.com/bureau-foundation/carextract/lib/digest"
)

// DefaultChunkSize is the leaf size used when a Builder does not set
// one. Small enough that modest test files span several chunks.
const DefaultChunkSize = 64

// TB is the subset of testing.TB the helpers use.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

type block struct {
	id   contentid.ID
	data []byte
}

// Builder accumulates blocks for one archive.
type Builder struct {
	// ChunkSize is the maximum raw leaf size. Files no larger than one
	// chunk are stored as a single raw leaf.
	ChunkSize int

	// HashCode is the multihash code for new blocks. Defaults to
	// sha2-256.
	HashCode uint64

	// V0 makes dag-pb nodes use CIDv0 identifiers, as older encoders
	// did. Requires the sha2-256 hash.
	V0 bool

	blocks []block
}

// NewBuilder returns a Builder with default settings.
func NewBuilder() *Builder {
	return &Builder{ChunkSize: DefaultChunkSize, HashCode: digest.SHA2_256}
}

func (b *Builder) sum(codec uint64, data []byte) contentid.ID {
	hashCode := b.HashCode
	if hashCode == 0 {
		hashCode = digest.SHA2_256
	}
	if codec == contentid.DagPB && b.V0 {
		return contentid.SumV0(data)
	}
	id, err := contentid.Sum(codec, hashCode, data)
	if err != nil {
		panic(fmt.Sprintf("cartest: hashing block: %v", err))
	}
	return id
}

func (b *Builder) chunkSize() int {
	if b.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return b.ChunkSize
}

// AddBlock appends a block exactly as given. The identifier is not
// checked against the data.
func (b *Builder) AddBlock(id contentid.ID, data []byte) {
	b.blocks = append(b.blocks, block{id: id, data: bytes.Clone(data)})
}

// AddRaw stores data as a raw leaf.
func (b *Builder) AddRaw(data []byte) contentid.ID {
	id := b.sum(contentid.Raw, data)
	b.AddBlock(id, data)
	return id
}

// AddNode stores an encoded dag-pb node.
func (b *Builder) AddNode(data []byte) contentid.ID {
	id := b.sum(contentid.DagPB, data)
	b.AddBlock(id, data)
	return id
}

// AddFile stores content as a single raw leaf when it fits in one
// chunk, or as a file node over ChunkSize leaves otherwise.
func (b *Builder) AddFile(content []byte) contentid.ID {
	size := b.chunkSize()
	if len(content) <= size {
		return b.AddRaw(content)
	}
	var chunks [][]byte
	for start := 0; start < len(content); start += size {
		end := min(start+size, len(content))
		chunks = append(chunks, content[start:end])
	}
	return b.AddChunkedFile(chunks...)
}

// AddChunkedFile stores each chunk as a raw leaf and links them, in
// the given order, under one file node.
func (b *Builder) AddChunkedFile(chunks ...[]byte) contentid.ID {
	links := make([]dagnode.ChunkLink, len(chunks))
	for i, chunk := range chunks {
		links[i] = dagnode.ChunkLink{ID: b.AddRaw(chunk), Size: uint64(len(chunk))}
	}
	return b.AddNode(dagnode.EncodeFile(nil, links))
}

// AddDirectory stores a directory listing entries in the given order.
func (b *Builder) AddDirectory(entries ...dagnode.Entry) contentid.ID {
	return b.AddNode(dagnode.EncodeDirectory(entries))
}

// AddShardedDirectory stores entries in a two-level HAMT: the first
// half directly in the root shard, the rest in one sub-shard linked
// from it. Bucket prefixes are assigned by position; the decoder does
// not check them against name hashes.
func (b *Builder) AddShardedDirectory(entries ...dagnode.Entry) contentid.ID {
	const fanout = 256
	half := len(entries) / 2
	bucketed := func(list []dagnode.Entry, offset int) []dagnode.Entry {
		out := make([]dagnode.Entry, len(list))
		for i, entry := range list {
			entry.Name = fmt.Sprintf("%02X%s", (offset+i)%fanout, entry.Name)
			out[i] = entry
		}
		return out
	}

	top := bucketed(entries[:half], 0)
	if rest := entries[half:]; len(rest) > 0 {
		subShard := b.AddNode(dagnode.EncodeShard(fanout, bucketed(rest, 0)))
		top = append(top, dagnode.Entry{Name: fmt.Sprintf("%02X", fanout-1), ID: subShard})
	}
	return b.AddNode(dagnode.EncodeShard(fanout, top))
}

// AddSymlink stores a symlink node.
func (b *Builder) AddSymlink(target string) contentid.ID {
	return b.AddNode(dagnode.EncodeSymlink(target))
}

// AddTree stores a file tree given as slash-separated relative paths
// to contents and returns the root directory. Directory entries are
// sorted by name. A path ending in "/" creates an empty directory.
func (b *Builder) AddTree(files map[string][]byte) contentid.ID {
	type directory struct {
		files       map[string][]byte
		directories map[string]*directory
	}
	newDirectory := func() *directory {
		return &directory{files: map[string][]byte{}, directories: map[string]*directory{}}
	}
	root := newDirectory()
	for path, content := range files {
		current := root
		parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
		last := len(parts) - 1
		if strings.HasSuffix(path, "/") {
			last = len(parts)
		}
		for _, part := range parts[:last] {
			next, ok := current.directories[part]
			if !ok {
				next = newDirectory()
				current.directories[part] = next
			}
			current = next
		}
		if last < len(parts) {
			current.files[parts[last]] = content
		}
	}

	var store func(*directory) contentid.ID
	store = func(d *directory) contentid.ID {
		names := make([]string, 0, len(d.files)+len(d.directories))
		ids := make(map[string]contentid.ID, cap(names))
		for name, content := range d.files {
			names = append(names, name)
			ids[name] = b.AddFile(content)
		}
		for name, child := range d.directories {
			names = append(names, name)
			ids[name] = store(child)
		}
		sort.Strings(names)
		entries := make([]dagnode.Entry, len(names))
		for i, name := range names {
			entries[i] = dagnode.Entry{Name: name, ID: ids[name]}
		}
		return b.AddDirectory(entries...)
	}
	return store(root)
}

// Entry is shorthand for a directory entry.
func Entry(name string, id contentid.ID) dagnode.Entry {
	return dagnode.Entry{Name: name, ID: id}
}

// Get returns the data of the first block stored under id, or nil.
func (b *Builder) Get(id contentid.ID) []byte {
	for _, stored := range b.blocks {
		if stored.id.Equal(id) {
			return stored.data
		}
	}
	return nil
}

// Replace swaps the data of every block stored under id, keeping the
// identifier. The archive then fails verification for that block.
func (b *Builder) Replace(id contentid.ID, data []byte) {
	for i := range b.blocks {
		if b.blocks[i].id.Equal(id) {
			b.blocks[i].data = bytes.Clone(data)
		}
	}
}

// Tamper flips one bit of the last byte of the block stored under id.
func (b *Builder) Tamper(id contentid.ID) {
	data := bytes.Clone(b.Get(id))
	if len(data) == 0 {
		panic(fmt.Sprintf("cartest: no data to tamper for %s", id))
	}
	data[len(data)-1] ^= 0x01
	b.Replace(id, data)
}

// Remove drops every block stored under id.
func (b *Builder) Remove(id contentid.ID) {
	kept := b.blocks[:0]
	for _, stored := range b.blocks {
		if !stored.id.Equal(id) {
			kept = append(kept, stored)
		}
	}
	b.blocks = kept
}

// Len returns the number of stored blocks.
func (b *Builder) Len() int {
	return len(b.blocks)
}

// Archive serializes the blocks as a CARv1 archive naming roots. Blocks
// are written in reverse insertion order, so roots come first as most
// encoders emit them; readers must not depend on that.
func (b *Builder) Archive(roots ...contentid.ID) []byte {
	var buffer bytes.Buffer
	writer, err := car.NewWriter(&buffer, roots)
	if err != nil {
		panic(fmt.Sprintf("cartest: writing header: %v", err))
	}
	for i := len(b.blocks) - 1; i >= 0; i-- {
		if err := writer.WriteBlock(b.blocks[i].id, b.blocks[i].data); err != nil {
			panic(fmt.Sprintf("cartest: writing block: %v", err))
		}
	}
	return buffer.Bytes()
}

// ArchiveV2 wraps Archive in the CARv2 envelope.
func (b *Builder) ArchiveV2(roots ...contentid.ID) []byte {
	var buffer bytes.Buffer
	if err := car.WriteV2(&buffer, b.Archive(roots...), 7); err != nil {
		panic(fmt.Sprintf("cartest: writing CARv2: %v", err))
	}
	return buffer.Bytes()
}

// WriteArchive writes data to a file named name under directory and
// returns its path.
func WriteArchive(t TB, directory, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(directory, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing archive %s: %v", path, err)
	}
	return path
}

// ReadTree returns every regular file under root keyed by its
// slash-separated relative path. Directories map to nil under a key
// ending in "/", so empty directories are visible to comparisons.
func ReadTree(t TB, root string) map[string][]byte {
	t.Helper()
	tree := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if relative == "." {
			return nil
		}
		relative = filepath.ToSlash(relative)
		switch {
		case entry.IsDir():
			tree[relative+"/"] = nil
		case entry.Type().IsRegular():
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			tree[relative] = content
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reading tree %s: %v", root, err)
	}
	return tree
}

// WithDirectories returns files plus a "dir/" key for every ancestor
// directory of every path, matching the shape ReadTree produces.
func WithDirectories(files map[string][]byte) map[string][]byte {
	result := make(map[string][]byte, len(files))
	for path, content := range files {
		if strings.HasSuffix(path, "/") {
			result[path] = nil
		} else {
			result[path] = content
		}
		for {
			slash := strings.LastIndex(strings.TrimSuffix(path, "/"), "/")
			if slash < 0 {
				break
			}
			path = path[:slash+1]
			result[path] = nil
			path = strings.TrimSuffix(path, "/")
		}
	}
	return result
}

// EqualTrees reports the first difference between two ReadTree-shaped
// maps, or "" if they are equal.
func EqualTrees(got, want map[string][]byte) string {
	keys := make([]string, 0, len(got)+len(want))
	for key := range got {
		keys = append(keys, key)
	}
	for key := range want {
		if _, ok := got[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		gotContent, gotOK := got[key]
		wantContent, wantOK := want[key]
		switch {
		case !gotOK:
			return fmt.Sprintf("missing %s", key)
		case !wantOK:
			return fmt.Sprintf("unexpected %s", key)
		case !bytes.Equal(gotContent, wantContent):
			return fmt.Sprintf("%s: content %q, want %q", key, gotContent, wantContent)
		}
	}
	return ""
}
