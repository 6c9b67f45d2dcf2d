// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package car

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/carextract/lib/carerr"
	"github.com/bureau-foundation/carextract/lib/contentid"
)

// Default limits. A frame or header larger than these is treated as
// corrupt rather than allocated.
const (
	DefaultMaxFrameSize  = 32 << 20
	DefaultMaxHeaderSize = 32 << 20
)

// Block is one (identifier, data) record from the archive.
type Block struct {
	ID   contentid.ID
	Data []byte

	// FrameOffset is the absolute offset of the frame's length prefix
	// in the (decompressed) archive stream.
	FrameOffset int64

	// DataOffset is the absolute offset of Data.
	DataOffset int64
}

type readerOptions struct {
	maxFrameSize  int64
	maxHeaderSize int64
	streamSize    int64
	decompression bool
}

// ReaderOption configures NewReader.
type ReaderOption func(*readerOptions)

// WithMaxFrameSize bounds the declared length of a single block frame.
func WithMaxFrameSize(size int64) ReaderOption {
	return func(o *readerOptions) {
		if size > 0 {
			o.maxFrameSize = size
		}
	}
}

// WithMaxHeaderSize bounds the declared length of the archive header.
func WithMaxHeaderSize(size int64) ReaderOption {
	return func(o *readerOptions) {
		if size > 0 {
			o.maxHeaderSize = size
		}
	}
}

// WithStreamSize tells the reader the total archive length, so a frame
// declaring more bytes than remain is rejected before any allocation.
// Ignored for compressed input, where the decompressed length is
// unknown.
func WithStreamSize(size int64) ReaderOption {
	return func(o *readerOptions) {
		o.streamSize = size
	}
}

// WithoutDecompression disables zstd/LZ4 detection.
func WithoutDecompression() ReaderOption {
	return func(o *readerOptions) {
		o.decompression = false
	}
}

// Reader is a forward-only cursor over an archive's blocks.
type Reader struct {
	source      *countingReader
	header      Header
	options     readerOptions
	compression Compression
	closer      io.Closer
}

// NewReader parses the archive header from r and returns a reader
// positioned at the first block.
func NewReader(r io.Reader, options ...ReaderOption) (*Reader, error) {
	opts := readerOptions{
		maxFrameSize:  DefaultMaxFrameSize,
		maxHeaderSize: DefaultMaxHeaderSize,
		streamSize:    -1,
		decompression: true,
	}
	for _, option := range options {
		option(&opts)
	}

	buffered := bufio.NewReaderSize(r, 64*1024)
	reader := &Reader{options: opts}

	var stream io.Reader = buffered
	if opts.decompression {
		decompressed, compression, closer, err := sniffCompression(buffered)
		if err != nil {
			return nil, err
		}
		stream = decompressed
		reader.compression = compression
		reader.closer = closer
	}

	limit := int64(-1)
	if reader.compression == CompressionNone && opts.streamSize >= 0 {
		limit = opts.streamSize
	}
	reader.source = newCountingReader(stream, limit)

	if err := reader.readHeader(); err != nil {
		reader.Close()
		return nil, err
	}
	return reader, nil
}

// Header returns the parsed archive header.
func (r *Reader) Header() Header {
	return r.header
}

// Compression reports how the archive stream was compressed.
func (r *Reader) Compression() Compression {
	return r.compression
}

// Offset returns the absolute offset of the next unread byte.
func (r *Reader) Offset() int64 {
	return r.source.offset
}

// Close releases decompressor resources. It does not close the
// underlying reader.
func (r *Reader) Close() error {
	if r.closer != nil {
		err := r.closer.Close()
		r.closer = nil
		return err
	}
	return nil
}

func (r *Reader) readHeader() error {
	headerBytes, err := r.readHeaderBytes()
	if err != nil {
		return err
	}
	version, roots, err := decodeHeader(headerBytes)
	if err != nil {
		return err
	}

	switch version {
	case 1:
		if len(roots) == 0 {
			return carerr.New(carerr.InvalidHeader, "archive names no roots")
		}
		r.header = Header{Version: 1, Roots: roots}
		return nil

	case 2:
		return r.readV2Header(headerBytes)

	default:
		return carerr.New(carerr.UnsupportedVersion, "CAR version %d", version)
	}
}

// readV2Header consumes the CARv2 envelope, skips to the payload, and
// parses the inner CARv1 header. The reader is then limited to the
// payload so the trailing index is never interpreted as blocks.
func (r *Reader) readV2Header(pragmaHeader []byte) error {
	// The pragma is a fixed byte sequence; anything else claiming
	// version 2 is malformed.
	if !bytes.Equal(pragmaHeader, v2Pragma[1:]) {
		return carerr.New(carerr.InvalidHeader, "CARv2 pragma is not canonical")
	}

	envelopeBytes := make([]byte, v2HeaderSize)
	if _, err := io.ReadFull(r.source, envelopeBytes); err != nil {
		return carerr.Wrap(carerr.InvalidHeader, err, "reading CARv2 header")
	}
	envelope, err := parseV2Envelope(envelopeBytes)
	if err != nil {
		return err
	}

	skip := int64(envelope.DataOffset) - r.source.offset
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, r.source, skip); err != nil {
			return carerr.Wrap(carerr.InvalidHeader, err, "skipping to CARv2 data offset %d", envelope.DataOffset)
		}
	}
	if !r.source.narrow(int64(envelope.DataSize)) {
		return carerr.New(carerr.InvalidHeader,
			"CARv2 data range [%d, +%d) exceeds the archive", envelope.DataOffset, envelope.DataSize)
	}

	innerBytes, err := r.readHeaderBytes()
	if err != nil {
		return fmt.Errorf("reading CARv2 payload header: %w", err)
	}
	innerVersion, roots, err := decodeHeader(innerBytes)
	if err != nil {
		return fmt.Errorf("reading CARv2 payload header: %w", err)
	}
	if innerVersion != 1 {
		return carerr.New(carerr.UnsupportedVersion, "CARv2 payload declares version %d, want 1", innerVersion)
	}
	if len(roots) == 0 {
		return carerr.New(carerr.InvalidHeader, "archive names no roots")
	}

	r.header = Header{
		Version:    2,
		Roots:      roots,
		DataOffset: int64(envelope.DataOffset),
		DataSize:   int64(envelope.DataSize),
	}
	return nil
}

func (r *Reader) readHeaderBytes() ([]byte, error) {
	offset := r.source.offset
	length, err := binary.ReadUvarint(r.source)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, carerr.New(carerr.InvalidHeader, "archive is empty").At(offset)
		}
		return nil, carerr.Wrap(carerr.InvalidHeader, err, "reading header length").At(offset)
	}
	if length == 0 || length > uint64(r.options.maxHeaderSize) {
		return nil, carerr.New(carerr.InvalidHeader,
			"header length %d outside (0, %d]", length, r.options.maxHeaderSize).At(offset)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r.source, data); err != nil {
		return nil, carerr.Wrap(carerr.InvalidHeader, err, "header declares %d bytes", length).At(offset)
	}
	return data, nil
}

// Next returns the next block, or io.EOF at the end of the archive.
//
// A frame whose declared length is zero, exceeds the configured
// maximum, or runs past the end of the stream is an InvalidFrameLength
// error; no partial block is returned. The identifier is parsed only
// within the frame's bytes.
func (r *Reader) Next() (Block, error) {
	frameOffset := r.source.offset
	length, err := binary.ReadUvarint(r.source)
	if err != nil {
		if err == io.EOF {
			return Block{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Block{}, carerr.New(carerr.InvalidFrameLength, "frame length varint truncated").At(frameOffset)
		}
		// binary.ReadUvarint reports overflow with an unexported error;
		// anything else is an I/O failure from the source.
		if r.source.err == nil {
			return Block{}, carerr.Wrap(carerr.InvalidFrameLength, err, "frame length").At(frameOffset)
		}
		return Block{}, fmt.Errorf("reading frame at offset %d: %w", frameOffset, err)
	}

	if length == 0 {
		return Block{}, carerr.New(carerr.InvalidFrameLength, "frame declares zero bytes").At(frameOffset)
	}
	if length > uint64(r.options.maxFrameSize) {
		return Block{}, carerr.New(carerr.InvalidFrameLength,
			"frame declares %d bytes, limit is %d", length, r.options.maxFrameSize).At(frameOffset)
	}
	if remaining := r.source.remaining(); remaining >= 0 && length > uint64(remaining) {
		return Block{}, carerr.New(carerr.InvalidFrameLength,
			"frame declares %d bytes, %d remain", length, remaining).At(frameOffset)
	}

	frame := make([]byte, length)
	read, err := io.ReadFull(r.source, frame)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Block{}, carerr.New(carerr.InvalidFrameLength,
				"frame declares %d bytes, stream ended after %d", length, read).At(frameOffset)
		}
		return Block{}, fmt.Errorf("reading frame at offset %d: %w", frameOffset, err)
	}

	id, consumed, err := contentid.Parse(frame)
	if err != nil {
		var formatErr *carerr.FormatError
		if errors.As(err, &formatErr) {
			return Block{}, formatErr.At(frameOffset)
		}
		return Block{}, fmt.Errorf("frame at offset %d: %w", frameOffset, err)
	}

	dataOffset := r.source.offset - int64(len(frame)-consumed)
	return Block{
		ID:          id,
		Data:        frame[consumed:],
		FrameOffset: frameOffset,
		DataOffset:  dataOffset,
	}, nil
}

// ForEach calls fn for every remaining block until io.EOF or an error.
func (r *Reader) ForEach(fn func(Block) error) error {
	for {
		block, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(block); err != nil {
			return err
		}
	}
}

// countingReader tracks the absolute offset of a stream and optionally
// stops at a limit. It implements io.ByteReader for varint decoding.
type countingReader struct {
	source io.Reader
	offset int64

	// limit is the absolute offset reads stop at, or -1.
	limit int64

	// err records the last non-EOF error from source so callers can
	// tell I/O failures from malformed data.
	err error

	single [1]byte
}

func newCountingReader(source io.Reader, limit int64) *countingReader {
	return &countingReader{source: source, limit: limit}
}

// remaining returns the bytes left before the limit, or -1 if the
// stream is unbounded.
func (c *countingReader) remaining() int64 {
	if c.limit < 0 {
		return -1
	}
	return c.limit - c.offset
}

// narrow sets the limit to size bytes past the current offset. Returns
// false if that extends past an existing limit.
func (c *countingReader) narrow(size int64) bool {
	end := c.offset + size
	if c.limit >= 0 && end > c.limit {
		return false
	}
	c.limit = end
	return true
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.limit >= 0 {
		remaining := c.limit - c.offset
		if remaining <= 0 {
			return 0, io.EOF
		}
		if int64(len(p)) > remaining {
			p = p[:remaining]
		}
	}
	n, err := c.source.Read(p)
	c.offset += int64(n)
	if err != nil && err != io.EOF {
		c.err = err
	}
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	n, err := io.ReadFull(c, c.single[:])
	if n == 1 {
		return c.single[0], nil
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return 0, err
}
