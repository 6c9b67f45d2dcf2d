// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dagnode decodes blocks into the file-system node variants the
// extractor walks: raw leaves, chunked files, directories (plain and
// HAMT-sharded), and symlinks.
//
// Dispatch is on the identifier's content type. Raw blocks are leaves.
// dag-pb blocks are protobuf PBNodes whose Data field holds a UnixFS
// message saying what kind of node it is:
//
//	PBNode  { 2: repeated PBLink Links; 1: bytes Data }
//	PBLink  { 1: bytes Hash; 2: string Name; 3: uint64 Tsize }
//	UnixFS  { 1: Type; 2: bytes Data; 3: uint64 filesize;
//	          4: repeated uint64 blocksizes; 5: hashType; 6: fanout }
//
// Any other content type, or a UnixFS type this package does not
// interpret, is a [carerr.UnsupportedNodeType] error. The wire format is
// read with protowire directly; no generated code is involved.
package dagnode

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/bureau-foundation/carextract/lib/carerr"
	"github.com/bureau-foundation/carextract/lib/contentid"
)

// Node is one decoded block. The concrete type is one of *RawLeaf,
// *FileNode, *DirectoryNode, or *Symlink.
type Node interface {
	node()
}

// RawLeaf is a chunk of file content.
type RawLeaf struct {
	Data []byte
}

// FileNode is a file assembled from inline data followed by its chunks
// in listed order.
type FileNode struct {
	// Data is content stored in the node itself, preceding any chunks.
	Data []byte

	Chunks []ChunkLink

	// FileSize is the declared total size, when HasFileSize is set.
	FileSize    uint64
	HasFileSize bool
}

// ChunkLink references one chunk of a file.
type ChunkLink struct {
	ID contentid.ID

	// Size is the chunk's content length as declared by the parent.
	Size uint64
}

// DirectoryNode lists named children in stored order.
type DirectoryNode struct {
	Entries []Entry

	// Sharded is set for HAMT shards. Entries with ShardLink set point
	// at sub-shards whose entries belong to this same directory.
	Sharded bool
	Fanout  uint64
}

// Entry is one named child of a directory.
type Entry struct {
	Name string
	ID   contentid.ID

	// DirectoryHint is set when the entry is known to be a directory
	// without resolving it. dag-pb links carry no type, so only
	// sub-shard links set it.
	DirectoryHint bool

	// ShardLink marks a HAMT sub-shard. Its Name is empty.
	ShardLink bool

	// Size is the link's cumulative size hint.
	Size uint64
}

// Symlink is a symbolic link.
type Symlink struct {
	Target string
}

func (*RawLeaf) node()       {}
func (*FileNode) node()      {}
func (*DirectoryNode) node() {}
func (*Symlink) node()       {}

// UnixFS data types.
const (
	typeRaw       = 0
	typeDirectory = 1
	typeFile      = 2
	typeMetadata  = 3
	typeSymlink   = 4
	typeHAMTShard = 5
)

// hamtHashMurmur3 is the only hash function HAMT shards use.
const hamtHashMurmur3 = 0x22

// Decode interprets data as the node id names.
func Decode(id contentid.ID, data []byte) (Node, error) {
	switch id.Codec() {
	case contentid.Raw:
		return &RawLeaf{Data: data}, nil
	case contentid.DagPB:
		node, err := decodeDagPB(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", id, err)
		}
		return node, nil
	default:
		return nil, carerr.New(carerr.UnsupportedNodeType, "block %s has content type 0x%x", id, id.Codec())
	}
}

func decodeDagPB(data []byte) (Node, error) {
	pb, err := parsePBNode(data)
	if err != nil {
		return nil, err
	}
	if !pb.hasData {
		return nil, carerr.New(carerr.UnsupportedNodeType, "dag-pb node carries no UnixFS data")
	}
	fs, err := parseUnixFS(pb.data)
	if err != nil {
		return nil, err
	}

	switch fs.dataType {
	case typeRaw, typeFile:
		if fs.dataType == typeRaw && len(pb.links) == 0 {
			return &RawLeaf{Data: fs.data}, nil
		}
		return decodeFile(pb, fs)

	case typeDirectory:
		entries, err := directoryEntries(pb.links, 0)
		if err != nil {
			return nil, err
		}
		return &DirectoryNode{Entries: entries}, nil

	case typeHAMTShard:
		return decodeShard(pb, fs)

	case typeSymlink:
		if len(fs.data) == 0 {
			return nil, carerr.New(carerr.MalformedNode, "symlink has an empty target")
		}
		return &Symlink{Target: string(fs.data)}, nil

	case typeMetadata:
		return nil, carerr.New(carerr.UnsupportedNodeType, "UnixFS metadata nodes are not interpreted")

	default:
		return nil, carerr.New(carerr.UnsupportedNodeType, "UnixFS type %d", fs.dataType)
	}
}

func decodeFile(pb pbNode, fs unixFSData) (*FileNode, error) {
	if len(fs.blockSizes) != 0 && len(fs.blockSizes) != len(pb.links) {
		return nil, carerr.New(carerr.MalformedNode,
			"file lists %d block sizes for %d links", len(fs.blockSizes), len(pb.links))
	}
	file := &FileNode{
		Data:        fs.data,
		Chunks:      make([]ChunkLink, len(pb.links)),
		FileSize:    fs.fileSize,
		HasFileSize: fs.hasFileSize,
	}
	for i, link := range pb.links {
		size := link.size
		if len(fs.blockSizes) != 0 {
			size = fs.blockSizes[i]
		}
		file.Chunks[i] = ChunkLink{ID: link.id, Size: size}
	}
	return file, nil
}

func decodeShard(pb pbNode, fs unixFSData) (*DirectoryNode, error) {
	if fs.hashType != hamtHashMurmur3 {
		return nil, carerr.New(carerr.UnsupportedNodeType, "HAMT hash function 0x%x", fs.hashType)
	}
	if fs.fanout < 2 || bits.OnesCount64(fs.fanout) != 1 {
		return nil, carerr.New(carerr.MalformedNode, "HAMT fanout %d is not a power of two", fs.fanout)
	}
	prefix := len(fmt.Sprintf("%X", fs.fanout-1))
	entries, err := directoryEntries(pb.links, prefix)
	if err != nil {
		return nil, err
	}
	return &DirectoryNode{Entries: entries, Sharded: true, Fanout: fs.fanout}, nil
}

// directoryEntries validates link names and, for shards, strips the
// hex bucket prefix of the given width. A shard link whose name is
// only the prefix is a sub-shard.
func directoryEntries(links []pbLink, prefix int) ([]Entry, error) {
	entries := make([]Entry, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for i, link := range links {
		name := link.name
		entry := Entry{ID: link.id, Size: link.size}
		if prefix > 0 {
			if len(name) < prefix || !isHex(name[:prefix]) {
				return nil, carerr.New(carerr.MalformedNode, "shard link %d name %q lacks a %d-digit bucket", i, name, prefix)
			}
			if len(name) == prefix {
				entry.ShardLink = true
				entry.DirectoryHint = true
				entries = append(entries, entry)
				continue
			}
			name = name[prefix:]
		}
		if err := ValidateName(name); err != nil {
			return nil, carerr.Wrap(carerr.MalformedNode, err, "entry %d", i)
		}
		if _, duplicate := seen[name]; duplicate {
			return nil, carerr.New(carerr.MalformedNode, "duplicate entry name %q", name)
		}
		seen[name] = struct{}{}
		entry.Name = name
		entries = append(entries, entry)
	}
	return entries, nil
}

// ValidateName rejects entry names that are not a single path
// component: empty, ".", "..", or containing a separator or NUL.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("name %q", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("name %q contains a separator or NUL", name)
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
