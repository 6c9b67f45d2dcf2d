// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dagnode

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bureau-foundation/carextract/lib/carerr"
	"github.com/bureau-foundation/carextract/lib/contentid"
)

type pbNode struct {
	links   []pbLink
	data    []byte
	hasData bool
}

type pbLink struct {
	id   contentid.ID
	name string
	size uint64
}

type unixFSData struct {
	dataType    uint64
	data        []byte
	fileSize    uint64
	hasFileSize bool
	blockSizes  []uint64
	hashType    uint64
	fanout      uint64
}

// fieldVisitor handles one field of a protobuf message. It returns the
// number of bytes consumed from value, or a negative protowire error
// code.
type fieldVisitor func(number protowire.Number, wireType protowire.Type, value []byte) (int, error)

// walkMessage calls visit for every field of a protobuf message.
// Unknown fields are skipped.
func walkMessage(message string, data []byte, visit fieldVisitor) error {
	for len(data) > 0 {
		number, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return carerr.Wrap(carerr.MalformedNode, protowire.ParseError(n), "%s tag", message)
		}
		data = data[n:]
		consumed, err := visit(number, wireType, data)
		if err != nil {
			return err
		}
		if consumed == 0 {
			consumed = protowire.ConsumeFieldValue(number, wireType, data)
		}
		if consumed < 0 {
			return carerr.Wrap(carerr.MalformedNode, protowire.ParseError(consumed), "%s field %d", message, number)
		}
		data = data[consumed:]
	}
	return nil
}

func parsePBNode(data []byte) (pbNode, error) {
	var node pbNode
	err := walkMessage("PBNode", data, func(number protowire.Number, wireType protowire.Type, value []byte) (int, error) {
		if wireType != protowire.BytesType {
			return 0, nil
		}
		switch number {
		case 1:
			fieldBytes, n := protowire.ConsumeBytes(value)
			if n >= 0 {
				node.data = fieldBytes
				node.hasData = true
			}
			return n, nil
		case 2:
			linkBytes, n := protowire.ConsumeBytes(value)
			if n < 0 {
				return n, nil
			}
			link, err := parsePBLink(linkBytes)
			if err != nil {
				return 0, err
			}
			node.links = append(node.links, link)
			return n, nil
		}
		return 0, nil
	})
	return node, err
}

func parsePBLink(data []byte) (pbLink, error) {
	var link pbLink
	var hash []byte
	err := walkMessage("PBLink", data, func(number protowire.Number, wireType protowire.Type, value []byte) (int, error) {
		switch {
		case number == 1 && wireType == protowire.BytesType:
			fieldBytes, n := protowire.ConsumeBytes(value)
			hash = fieldBytes
			return n, nil
		case number == 2 && wireType == protowire.BytesType:
			fieldBytes, n := protowire.ConsumeBytes(value)
			link.name = string(fieldBytes)
			return n, nil
		case number == 3 && wireType == protowire.VarintType:
			size, n := protowire.ConsumeVarint(value)
			link.size = size
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return pbLink{}, err
	}
	if hash == nil {
		return pbLink{}, carerr.New(carerr.MalformedNode, "PBLink has no hash")
	}
	id, err := contentid.ParseExact(hash)
	if err != nil {
		return pbLink{}, carerr.Wrap(carerr.MalformedNode, err, "PBLink %q hash", link.name)
	}
	link.id = id
	return link, nil
}

func parseUnixFS(data []byte) (unixFSData, error) {
	var fs unixFSData
	hasType := false
	err := walkMessage("UnixFS", data, func(number protowire.Number, wireType protowire.Type, value []byte) (int, error) {
		switch {
		case number == 1 && wireType == protowire.VarintType:
			dataType, n := protowire.ConsumeVarint(value)
			fs.dataType = dataType
			hasType = n >= 0
			return n, nil
		case number == 2 && wireType == protowire.BytesType:
			fieldBytes, n := protowire.ConsumeBytes(value)
			fs.data = fieldBytes
			return n, nil
		case number == 3 && wireType == protowire.VarintType:
			fileSize, n := protowire.ConsumeVarint(value)
			fs.fileSize = fileSize
			fs.hasFileSize = n >= 0
			return n, nil
		case number == 4 && wireType == protowire.VarintType:
			size, n := protowire.ConsumeVarint(value)
			fs.blockSizes = append(fs.blockSizes, size)
			return n, nil
		case number == 4 && wireType == protowire.BytesType:
			// Packed encoding of the repeated field.
			packed, n := protowire.ConsumeBytes(value)
			if n < 0 {
				return n, nil
			}
			for len(packed) > 0 {
				size, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return m, nil
				}
				fs.blockSizes = append(fs.blockSizes, size)
				packed = packed[m:]
			}
			return n, nil
		case number == 5 && wireType == protowire.VarintType:
			hashType, n := protowire.ConsumeVarint(value)
			fs.hashType = hashType
			return n, nil
		case number == 6 && wireType == protowire.VarintType:
			fanout, n := protowire.ConsumeVarint(value)
			fs.fanout = fanout
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return unixFSData{}, err
	}
	if !hasType {
		return unixFSData{}, carerr.New(carerr.MalformedNode, "UnixFS data has no type")
	}
	return fs, nil
}

// EncodeRawLeaf returns a dag-pb node holding data as a UnixFS Raw
// leaf. Most encoders emit raw-codec blocks instead; this form appears
// in older archives.
func EncodeRawLeaf(data []byte) []byte {
	return encodePBNode(nil, encodeUnixFS(unixFSData{dataType: typeRaw, data: data}))
}

// EncodeFile returns a dag-pb UnixFS file node with inline data
// followed by chunks. The declared file size is the sum of both.
func EncodeFile(inline []byte, chunks []ChunkLink) []byte {
	fs := unixFSData{dataType: typeFile, data: inline, hasFileSize: true, fileSize: uint64(len(inline))}
	links := make([]pbLink, len(chunks))
	for i, chunk := range chunks {
		links[i] = pbLink{id: chunk.ID, size: chunk.Size}
		fs.blockSizes = append(fs.blockSizes, chunk.Size)
		fs.fileSize += chunk.Size
	}
	return encodePBNode(links, encodeUnixFS(fs))
}

// EncodeDirectory returns a dag-pb UnixFS directory listing entries in
// the given order. Names are not validated.
func EncodeDirectory(entries []Entry) []byte {
	links := make([]pbLink, len(entries))
	for i, entry := range entries {
		links[i] = pbLink{id: entry.ID, name: entry.Name, size: entry.Size}
	}
	return encodePBNode(links, encodeUnixFS(unixFSData{dataType: typeDirectory}))
}

// EncodeShard returns a HAMT shard node. Each entry's Name must already
// carry its hex bucket prefix; sub-shard names are the prefix alone.
func EncodeShard(fanout uint64, entries []Entry) []byte {
	links := make([]pbLink, len(entries))
	for i, entry := range entries {
		links[i] = pbLink{id: entry.ID, name: entry.Name, size: entry.Size}
	}
	fs := unixFSData{dataType: typeHAMTShard, hashType: hamtHashMurmur3, fanout: fanout}
	return encodePBNode(links, encodeUnixFS(fs))
}

// EncodeSymlink returns a dag-pb UnixFS symlink.
func EncodeSymlink(target string) []byte {
	return encodePBNode(nil, encodeUnixFS(unixFSData{dataType: typeSymlink, data: []byte(target)}))
}

// encodePBNode writes links before data, the canonical dag-pb order.
func encodePBNode(links []pbLink, data []byte) []byte {
	var out []byte
	for _, link := range links {
		var linkBytes []byte
		linkBytes = protowire.AppendTag(linkBytes, 1, protowire.BytesType)
		linkBytes = protowire.AppendBytes(linkBytes, link.id.Bytes())
		linkBytes = protowire.AppendTag(linkBytes, 2, protowire.BytesType)
		linkBytes = protowire.AppendString(linkBytes, link.name)
		linkBytes = protowire.AppendTag(linkBytes, 3, protowire.VarintType)
		linkBytes = protowire.AppendVarint(linkBytes, link.size)
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, linkBytes)
	}
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	return protowire.AppendBytes(out, data)
}

func encodeUnixFS(fs unixFSData) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, fs.dataType)
	if len(fs.data) > 0 {
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, fs.data)
	}
	if fs.hasFileSize {
		out = protowire.AppendTag(out, 3, protowire.VarintType)
		out = protowire.AppendVarint(out, fs.fileSize)
	}
	for _, size := range fs.blockSizes {
		out = protowire.AppendTag(out, 4, protowire.VarintType)
		out = protowire.AppendVarint(out, size)
	}
	if fs.hashType != 0 {
		out = protowire.AppendTag(out, 5, protowire.VarintType)
		out = protowire.AppendVarint(out, fs.hashType)
	}
	if fs.fanout != 0 {
		out = protowire.AppendTag(out, 6, protowire.VarintType)
		out = protowire.AppendVarint(out, fs.fanout)
	}
	return out
}
