// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package car

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/carextract/lib/carerr"
	"github.com/bureau-foundation/carextract/lib/contentid"
	"github.com/bureau-foundation/carextract/lib/digest"
)

type testBlock struct {
	id   contentid.ID
	data []byte
}

func rawBlock(t *testing.T, data string) testBlock {
	t.Helper()
	id, err := contentid.Sum(contentid.Raw, digest.SHA2_256, []byte(data))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	return testBlock{id: id, data: []byte(data)}
}

func buildArchive(t *testing.T, roots []contentid.ID, blocks ...testBlock) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer, err := NewWriter(&buffer, roots)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, block := range blocks {
		if err := writer.WriteBlock(block.id, block.data); err != nil {
			t.Fatalf("WriteBlock: %v", err)
		}
	}
	if writer.Written() != int64(buffer.Len()) {
		t.Fatalf("Written() = %d, buffer holds %d", writer.Written(), buffer.Len())
	}
	return buffer.Bytes()
}

// headerFrame returns a length-prefixed header from raw CBOR fields.
func headerFrame(t *testing.T, raw rawHeader) []byte {
	t.Helper()
	encoded, err := headerEncMode.Marshal(raw)
	if err != nil {
		t.Fatalf("encoding header: %v", err)
	}
	return append(binary.AppendUvarint(nil, uint64(len(encoded))), encoded...)
}

func readAll(t *testing.T, reader *Reader) []Block {
	t.Helper()
	var blocks []Block
	if err := reader.ForEach(func(block Block) error {
		blocks = append(blocks, block)
		return nil
	}); err != nil {
		t.Fatalf("reading blocks: %v", err)
	}
	return blocks
}

func TestReaderRoundtrip(t *testing.T) {
	blocks := []testBlock{rawBlock(t, "alpha"), rawBlock(t, "beta"), rawBlock(t, "gamma")}
	archive := buildArchive(t, []contentid.ID{blocks[0].id}, blocks...)

	reader, err := NewReader(bytes.NewReader(archive), WithStreamSize(int64(len(archive))))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	header := reader.Header()
	if header.Version != 1 {
		t.Errorf("Version = %d, want 1", header.Version)
	}
	if len(header.Roots) != 1 || !header.Roots[0].Equal(blocks[0].id) {
		t.Errorf("Roots = %v, want [%s]", header.Roots, blocks[0].id)
	}
	if reader.Compression() != CompressionNone {
		t.Errorf("Compression = %s", reader.Compression())
	}

	read := readAll(t, reader)
	if len(read) != len(blocks) {
		t.Fatalf("read %d blocks, want %d", len(read), len(blocks))
	}
	for i, block := range read {
		if !block.ID.Equal(blocks[i].id) {
			t.Errorf("block %d: id %s, want %s", i, block.ID, blocks[i].id)
		}
		if !bytes.Equal(block.Data, blocks[i].data) {
			t.Errorf("block %d: data %q, want %q", i, block.Data, blocks[i].data)
		}
		// Offsets must point at the same bytes in the archive.
		end := block.DataOffset + int64(len(block.Data))
		if !bytes.Equal(archive[block.DataOffset:end], block.Data) {
			t.Errorf("block %d: DataOffset %d does not address its data", i, block.DataOffset)
		}
		if block.FrameOffset >= block.DataOffset {
			t.Errorf("block %d: FrameOffset %d not before DataOffset %d", i, block.FrameOffset, block.DataOffset)
		}
	}
	if reader.Offset() != int64(len(archive)) {
		t.Errorf("Offset = %d after EOF, want %d", reader.Offset(), len(archive))
	}
}

func TestReaderFrameErrors(t *testing.T) {
	root := rawBlock(t, "root")
	prefix := buildArchive(t, []contentid.ID{root.id})
	valid := buildArchive(t, []contentid.ID{root.id}, root)

	// A frame that claims to hold a CIDv0 but is only 10 bytes long.
	// The bytes after it would complete the identifier if the parser
	// were allowed to read past the frame.
	shortCID := append([]byte{}, prefix...)
	shortCID = append(shortCID, 10, 0x12, 0x20)
	shortCID = append(shortCID, bytes.Repeat([]byte{0xaa}, 8+32)...)

	tests := []struct {
		name    string
		archive []byte
		options []ReaderOption
		want    *carerr.FormatError
	}{
		{
			name:    "zero length frame",
			archive: append(append([]byte{}, prefix...), 0x00),
			want:    carerr.ErrInvalidFrameLength,
		},
		{
			name:    "frame longer than stream",
			archive: append(append([]byte{}, prefix...), 100, 1, 2, 3),
			want:    carerr.ErrInvalidFrameLength,
		},
		{
			name:    "frame longer than declared stream size",
			archive: append(append([]byte{}, prefix...), 100, 1, 2, 3),
			options: []ReaderOption{WithStreamSize(int64(len(prefix) + 4))},
			want:    carerr.ErrInvalidFrameLength,
		},
		{
			name:    "frame over maximum",
			archive: valid,
			options: []ReaderOption{WithMaxFrameSize(8)},
			want:    carerr.ErrInvalidFrameLength,
		},
		{
			name:    "truncated length varint",
			archive: append(append([]byte{}, prefix...), 0x80),
			want:    carerr.ErrInvalidFrameLength,
		},
		{
			name:    "identifier confined to frame",
			archive: shortCID,
			want:    carerr.ErrTruncatedIdentifier,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			reader, err := NewReader(bytes.NewReader(test.archive), test.options...)
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			_, err = reader.Next()
			if !errors.Is(err, test.want) {
				t.Fatalf("Next() error = %v, want kind %s", err, test.want.Kind)
			}
			var formatErr *carerr.FormatError
			if !errors.As(err, &formatErr) || formatErr.Offset != int64(len(prefix)) {
				t.Errorf("error offset = %d, want %d", formatErr.Offset, len(prefix))
			}
		})
	}
}

func TestReaderHeaderErrors(t *testing.T) {
	root := rawBlock(t, "root")
	rootTag := []byte{0x00}
	rootTag = append(rootTag, root.id.Bytes()...)

	tests := []struct {
		name    string
		archive []byte
		want    *carerr.FormatError
	}{
		{"empty", nil, carerr.ErrInvalidHeader},
		{"zero length header", []byte{0x00}, carerr.ErrInvalidHeader},
		{"truncated header", []byte{0x20, 0xa2}, carerr.ErrInvalidHeader},
		{"not cbor", []byte{0x02, 0xff, 0xff}, carerr.ErrInvalidHeader},
		{"no roots", headerFrame(t, rawHeader{Version: 1}), carerr.ErrInvalidHeader},
		{
			"version 3",
			headerFrame(t, rawHeader{Version: 3, Roots: []cbor.Tag{{Number: cidTag, Content: rootTag}}}),
			carerr.ErrUnsupportedVersion,
		},
		{
			"root without multibase prefix",
			headerFrame(t, rawHeader{Version: 1, Roots: []cbor.Tag{{Number: cidTag, Content: root.id.Bytes()}}}),
			carerr.ErrInvalidHeader,
		},
		{
			"root with wrong tag",
			headerFrame(t, rawHeader{Version: 1, Roots: []cbor.Tag{{Number: 7, Content: rootTag}}}),
			carerr.ErrInvalidHeader,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(test.archive))
			if !errors.Is(err, test.want) {
				t.Errorf("NewReader error = %v, want kind %s", err, test.want.Kind)
			}
		})
	}
}

func TestReaderCARv2(t *testing.T) {
	blocks := []testBlock{rawBlock(t, "one"), rawBlock(t, "two")}
	payload := buildArchive(t, []contentid.ID{blocks[1].id}, blocks...)

	var buffer bytes.Buffer
	if err := WriteV2(&buffer, payload, 13); err != nil {
		t.Fatalf("WriteV2: %v", err)
	}
	// Trailing bytes stand in for an index; they must never be read as
	// frames.
	buffer.Write([]byte{0x00, 0x00, 0x00})
	archive := buffer.Bytes()

	reader, err := NewReader(bytes.NewReader(archive), WithStreamSize(int64(len(archive))))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	header := reader.Header()
	if header.Version != 2 {
		t.Errorf("Version = %d, want 2", header.Version)
	}
	if header.DataOffset != int64(len(v2Pragma)+v2HeaderSize+13) {
		t.Errorf("DataOffset = %d", header.DataOffset)
	}
	if len(header.Roots) != 1 || !header.Roots[0].Equal(blocks[1].id) {
		t.Errorf("Roots = %v", header.Roots)
	}
	read := readAll(t, reader)
	if len(read) != 2 {
		t.Fatalf("read %d blocks, want 2", len(read))
	}
	for i, block := range read {
		end := block.DataOffset + int64(len(block.Data))
		if !bytes.Equal(archive[block.DataOffset:end], blocks[i].data) {
			t.Errorf("block %d: DataOffset %d is not absolute", i, block.DataOffset)
		}
	}
}

func TestReaderCARv2RejectsBadEnvelope(t *testing.T) {
	envelope := v2Envelope{DataOffset: 10, DataSize: 5}
	archive := append(append([]byte{}, v2Pragma...), envelope.bytes()...)
	if _, err := NewReader(bytes.NewReader(archive)); !errors.Is(err, carerr.ErrInvalidHeader) {
		t.Errorf("overlapping data offset: %v", err)
	}

	envelope = v2Envelope{DataOffset: 51, DataSize: 1000}
	archive = append(append([]byte{}, v2Pragma...), envelope.bytes()...)
	archive = append(archive, 0x01)
	_, err := NewReader(bytes.NewReader(archive), WithStreamSize(int64(len(archive))))
	if !errors.Is(err, carerr.ErrInvalidHeader) {
		t.Errorf("data size past end: %v", err)
	}

	for _, envelope := range []v2Envelope{
		{DataOffset: 51, DataSize: 1<<63 + 5},
		{DataOffset: 1 << 63, DataSize: 5},
		{DataOffset: 51, DataSize: 1<<63 - 10},
	} {
		archive = append(append([]byte{}, v2Pragma...), envelope.bytes()...)
		if _, err := NewReader(bytes.NewReader(archive)); !errors.Is(err, carerr.ErrInvalidHeader) {
			t.Errorf("data range [%d, +%d): %v", envelope.DataOffset, envelope.DataSize, err)
		}
	}
}

func TestReaderCompressed(t *testing.T) {
	blocks := []testBlock{rawBlock(t, "compressed one"), rawBlock(t, "compressed two")}
	archive := buildArchive(t, []contentid.ID{blocks[0].id}, blocks...)

	var zstdBuffer bytes.Buffer
	encoder, err := zstd.NewWriter(&zstdBuffer)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	encoder.Write(archive)
	if err := encoder.Close(); err != nil {
		t.Fatalf("closing zstd encoder: %v", err)
	}

	var lz4Buffer bytes.Buffer
	lz4Writer := lz4.NewWriter(&lz4Buffer)
	lz4Writer.Write(archive)
	if err := lz4Writer.Close(); err != nil {
		t.Fatalf("closing lz4 writer: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want Compression
	}{
		{"zstd", zstdBuffer.Bytes(), CompressionZstd},
		{"lz4", lz4Buffer.Bytes(), CompressionLZ4},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// The stream size describes the compressed file and must be
			// ignored for frame bounds.
			reader, err := NewReader(bytes.NewReader(test.data), WithStreamSize(int64(len(test.data))))
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			defer reader.Close()
			if reader.Compression() != test.want {
				t.Errorf("Compression = %s, want %s", reader.Compression(), test.want)
			}
			read := readAll(t, reader)
			if len(read) != len(blocks) {
				t.Fatalf("read %d blocks, want %d", len(read), len(blocks))
			}
			for i := range read {
				if !bytes.Equal(read[i].Data, blocks[i].data) {
					t.Errorf("block %d data mismatch", i)
				}
			}
		})
	}

	// Without decompression the zstd magic is just a bad header.
	if _, err := NewReader(bytes.NewReader(zstdBuffer.Bytes()), WithoutDecompression()); err == nil {
		t.Error("compressed archive parsed with decompression disabled")
	}
}

func TestVerify(t *testing.T) {
	block := rawBlock(t, "verified")
	if err := Verify(block.id, block.data); err != nil {
		t.Errorf("Verify(valid) = %v", err)
	}

	err := Verify(block.id, []byte("tampered"))
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("Verify(tampered) = %v, want *IntegrityError", err)
	}
	if integrityErr.Algorithm != "sha2-256" {
		t.Errorf("Algorithm = %s", integrityErr.Algorithm)
	}
	if bytes.Equal(integrityErr.Expected, integrityErr.Actual) {
		t.Error("mismatch reports equal digests")
	}

	inline, err := contentid.Sum(contentid.Raw, digest.Identity, []byte("inline"))
	if err != nil {
		t.Fatalf("Sum(identity): %v", err)
	}
	if err := Verify(inline, []byte("inline")); err != nil {
		t.Errorf("Verify(identity) = %v", err)
	}
	if err := Verify(inline, []byte("inline!")); !errors.As(err, &integrityErr) {
		t.Errorf("Verify(identity, wrong length) = %v", err)
	}
}

func TestBuildIndex(t *testing.T) {
	first := rawBlock(t, "first")
	second := rawBlock(t, "second")
	// A later duplicate with different bytes must not replace the first
	// occurrence.
	duplicate := testBlock{id: first.id, data: []byte("impostor")}
	archive := buildArchive(t, []contentid.ID{first.id}, first, second, duplicate)

	inline, err := contentid.Sum(contentid.Raw, digest.Identity, []byte("inline"))
	if err != nil {
		t.Fatalf("Sum(identity): %v", err)
	}
	missing := rawBlock(t, "missing")

	for _, offsetBacked := range []bool{false, true} {
		name := "memory"
		var source io.ReaderAt
		if offsetBacked {
			name = "offset"
			source = bytes.NewReader(archive)
		}
		t.Run(name, func(t *testing.T) {
			reader, err := NewReader(bytes.NewReader(archive))
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			index, err := BuildIndex(context.Background(), reader, source)
			if err != nil {
				t.Fatalf("BuildIndex: %v", err)
			}
			if index.OffsetBacked() != offsetBacked {
				t.Errorf("OffsetBacked = %v", index.OffsetBacked())
			}
			if index.Len() != 2 {
				t.Errorf("Len = %d, want 2", index.Len())
			}
			if index.Size() != int64(len(first.data)+len(second.data)) {
				t.Errorf("Size = %d", index.Size())
			}
			ids := index.IDs()
			if len(ids) != 2 || !ids[0].Equal(first.id) || !ids[1].Equal(second.id) {
				t.Errorf("IDs = %v", ids)
			}

			data, ok, err := index.Get(first.id)
			if err != nil || !ok {
				t.Fatalf("Get(first) = %v, %v", ok, err)
			}
			if !bytes.Equal(data, first.data) {
				t.Errorf("Get(first) = %q, want first occurrence", data)
			}

			data, ok, err = index.Get(inline)
			if err != nil || !ok || string(data) != "inline" {
				t.Errorf("Get(identity) = %q, %v, %v", data, ok, err)
			}
			if !index.Has(inline) {
				t.Error("Has(identity) = false")
			}

			if _, ok, _ := index.Get(missing.id); ok {
				t.Error("Get(missing) found a block")
			}
			if index.Has(missing.id) {
				t.Error("Has(missing) = true")
			}
		})
	}
}

func TestBuildIndexPropagatesFormatErrors(t *testing.T) {
	root := rawBlock(t, "root")
	archive := append(buildArchive(t, []contentid.ID{root.id}, root), 0x00)
	reader, err := NewReader(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := BuildIndex(context.Background(), reader, nil); !errors.Is(err, carerr.ErrInvalidFrameLength) {
		t.Errorf("BuildIndex = %v, want invalid_frame_length", err)
	}
}
