// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package car

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how an archive stream was compressed on disk.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

// String returns the human-readable name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Frame magics. Neither can begin a CAR: an uncompressed archive
// starts with a small header-length varint, never 0x28 or 0x04 followed
// by these bytes.
var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// sniffCompression peeks at the stream's first bytes and, if they are
// a zstd or LZ4 frame magic, returns a decompressing reader over it.
// The returned closer releases decoder resources and may be nil.
func sniffCompression(buffered *bufio.Reader) (io.Reader, Compression, io.Closer, error) {
	magic, err := buffered.Peek(4)
	if err != nil {
		// Shorter than any magic: let the header parser report it.
		return buffered, CompressionNone, nil, nil
	}

	switch {
	case bytes.Equal(magic, zstdMagic):
		decoder, err := zstd.NewReader(buffered,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, CompressionNone, nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		return decoder, CompressionZstd, zstdCloser{decoder}, nil

	case bytes.Equal(magic, lz4Magic):
		return lz4.NewReader(buffered), CompressionLZ4, nil, nil

	default:
		return buffered, CompressionNone, nil, nil
	}
}

// zstdCloser adapts zstd.Decoder.Close, which returns nothing.
type zstdCloser struct {
	decoder *zstd.Decoder
}

func (c zstdCloser) Close() error {
	c.decoder.Close()
	return nil
}
