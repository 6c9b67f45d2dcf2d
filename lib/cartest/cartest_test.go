// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cartest

import (
	"bytes"
	"testing"

	"github.com/bureau-foundation/carextract/lib/contentid"
	"github.com/bureau-foundation/carextract/lib/dagnode"
)

func TestAddFileChunking(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 20)

	tests := []struct {
		name      string
		chunkSize int
		content   []byte
		chunks    int
	}{
		{"unset chunk size uses default", 0, content, 4},
		{"explicit chunk size", 100, content, 2},
		{"fits one chunk", 0, []byte("small"), 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			builder := &Builder{ChunkSize: test.chunkSize}
			id := builder.AddFile(test.content)

			if test.chunks == 0 {
				if id.Codec() != contentid.Raw {
					t.Fatalf("codec = %d, want raw leaf", id.Codec())
				}
				if !bytes.Equal(builder.Get(id), test.content) {
					t.Error("raw leaf does not hold the content")
				}
				return
			}

			node, err := dagnode.Decode(id, builder.Get(id))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			file, ok := node.(*dagnode.FileNode)
			if !ok {
				t.Fatalf("node is %T, want *dagnode.FileNode", node)
			}
			if len(file.Chunks) != test.chunks {
				t.Fatalf("chunks = %d, want %d", len(file.Chunks), test.chunks)
			}
			var reassembled []byte
			for _, chunk := range file.Chunks {
				reassembled = append(reassembled, builder.Get(chunk.ID)...)
			}
			if !bytes.Equal(reassembled, test.content) {
				t.Error("chunks do not reassemble to the content")
			}
		})
	}
}
