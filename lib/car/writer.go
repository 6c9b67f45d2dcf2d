// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package car

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bureau-foundation/carextract/lib/contentid"
)

// Writer produces a CARv1 archive. Blocks are written in call order
// and never verified; writing a block under the wrong identifier is how
// corrupt fixtures are made.
type Writer struct {
	destination io.Writer
	written     int64
	scratch     [binary.MaxVarintLen64]byte
}

// NewWriter writes a CARv1 header naming roots and returns a writer for
// the blocks that follow.
func NewWriter(destination io.Writer, roots []contentid.ID) (*Writer, error) {
	header, err := encodeHeader(roots)
	if err != nil {
		return nil, err
	}
	writer := &Writer{destination: destination}
	if err := writer.writeFrame(header); err != nil {
		return nil, fmt.Errorf("writing CAR header: %w", err)
	}
	return writer, nil
}

// WriteBlock appends one frame carrying id and data.
func (w *Writer) WriteBlock(id contentid.ID, data []byte) error {
	idBytes := id.Bytes()
	frame := make([]byte, 0, len(idBytes)+len(data))
	frame = append(frame, idBytes...)
	frame = append(frame, data...)
	if err := w.writeFrame(frame); err != nil {
		return fmt.Errorf("writing block %s: %w", id, err)
	}
	return nil
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

func (w *Writer) writeFrame(payload []byte) error {
	n := binary.PutUvarint(w.scratch[:], uint64(len(payload)))
	if err := w.write(w.scratch[:n]); err != nil {
		return err
	}
	return w.write(payload)
}

func (w *Writer) write(data []byte) error {
	n, err := w.destination.Write(data)
	w.written += int64(n)
	return err
}

// WriteV2 wraps a complete CARv1 archive in the CARv2 envelope with
// padding bytes between the header and the payload. No index is
// written.
func WriteV2(destination io.Writer, payload []byte, padding int) error {
	if padding < 0 {
		return fmt.Errorf("negative CARv2 padding %d", padding)
	}
	envelope := v2Envelope{
		DataOffset: uint64(len(v2Pragma) + v2HeaderSize + padding),
		DataSize:   uint64(len(payload)),
	}
	for _, part := range [][]byte{v2Pragma, envelope.bytes(), make([]byte, padding), payload} {
		if _, err := destination.Write(part); err != nil {
			return fmt.Errorf("writing CARv2 archive: %w", err)
		}
	}
	return nil
}
