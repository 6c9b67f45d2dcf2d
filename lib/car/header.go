// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package car

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/bureau-foundation/carextract/lib/carerr"
	"github.com/bureau-foundation/carextract/lib/contentid"
)

// cidTag is the CBOR tag number IPLD uses for links.
const cidTag = 42

// v2HeaderSize is the fixed CARv2 header following the pragma.
const v2HeaderSize = 40

// v2Pragma is the CARv1-framed header every CARv2 file starts with:
// uvarint(10) then the DAG-CBOR map {"version": 2}.
var v2Pragma = []byte{0x0a, 0xa1, 0x67, 'v', 'e', 'r', 's', 'i', 'o', 'n', 0x02}

// Header is the parsed archive header.
type Header struct {
	// Version is the container format version: 1 or 2.
	Version int

	// Roots are the root identifiers in header order. They carry no
	// positional relationship to the blocks that follow.
	Roots []contentid.ID

	// DataOffset and DataSize locate the CARv1 payload inside a CARv2
	// file. Zero for CARv1.
	DataOffset int64
	DataSize   int64
}

// rawHeader is the DAG-CBOR shape of a CAR header. Roots decode as
// tagged byte strings.
type rawHeader struct {
	Version uint64     `cbor:"version"`
	Roots   []cbor.Tag `cbor:"roots,omitempty"`
}

var (
	headerEncMode cbor.EncMode
	headerDecMode cbor.DecMode
)

func init() {
	var err error
	headerEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("car: CBOR encoder initialization failed: " + err.Error())
	}
	headerDecMode, err = cbor.DecOptions{
		// A header with duplicate keys is ambiguous; reject it rather
		// than picking one.
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("car: CBOR decoder initialization failed: " + err.Error())
	}
}

// decodeHeader parses the CBOR bytes of a CAR header. The version is
// returned even when roots are absent so the caller can detect the
// CARv2 pragma.
func decodeHeader(data []byte) (uint64, []contentid.ID, error) {
	var raw rawHeader
	if err := headerDecMode.Unmarshal(data, &raw); err != nil {
		return 0, nil, carerr.Wrap(carerr.InvalidHeader, err, "decoding header CBOR")
	}

	roots := make([]contentid.ID, 0, len(raw.Roots))
	for i, tag := range raw.Roots {
		if tag.Number != cidTag {
			return 0, nil, carerr.New(carerr.InvalidHeader, "root %d has CBOR tag %d, want %d", i, tag.Number, cidTag)
		}
		content, ok := tag.Content.([]byte)
		if !ok {
			return 0, nil, carerr.New(carerr.InvalidHeader, "root %d is %T, want byte string", i, tag.Content)
		}
		// IPLD prefixes binary CIDs in CBOR with the identity multibase
		// byte.
		if len(content) == 0 || content[0] != 0x00 {
			return 0, nil, carerr.New(carerr.InvalidHeader, "root %d lacks the 0x00 multibase prefix", i)
		}
		id, err := contentid.ParseExact(content[1:])
		if err != nil {
			return 0, nil, fmt.Errorf("parsing root %d: %w", i, err)
		}
		roots = append(roots, id)
	}
	return raw.Version, roots, nil
}

// encodeHeader produces the CBOR bytes of a CARv1 header.
func encodeHeader(roots []contentid.ID) ([]byte, error) {
	raw := rawHeader{Version: 1, Roots: make([]cbor.Tag, len(roots))}
	for i, root := range roots {
		raw.Roots[i] = cbor.Tag{Number: cidTag, Content: append([]byte{0x00}, root.Bytes()...)}
	}
	data, err := headerEncMode.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding CAR header: %w", err)
	}
	return data, nil
}

// v2Envelope is the fixed CARv2 header.
type v2Envelope struct {
	Characteristics [16]byte
	DataOffset      uint64
	DataSize        uint64
	IndexOffset     uint64
}

func parseV2Envelope(data []byte) (v2Envelope, error) {
	if len(data) != v2HeaderSize {
		return v2Envelope{}, carerr.New(carerr.InvalidHeader, "CARv2 header is %d bytes, want %d", len(data), v2HeaderSize)
	}
	var envelope v2Envelope
	copy(envelope.Characteristics[:], data[:16])
	envelope.DataOffset = binary.LittleEndian.Uint64(data[16:24])
	envelope.DataSize = binary.LittleEndian.Uint64(data[24:32])
	envelope.IndexOffset = binary.LittleEndian.Uint64(data[32:40])

	// Offsets are used as int64 from here on.
	if envelope.DataOffset > math.MaxInt64 || envelope.DataSize > math.MaxInt64 {
		return v2Envelope{}, carerr.New(carerr.InvalidHeader,
			"CARv2 data range [%d, +%d) is out of range", envelope.DataOffset, envelope.DataSize)
	}
	minimumOffset := uint64(len(v2Pragma) + v2HeaderSize)
	if envelope.DataOffset < minimumOffset {
		return v2Envelope{}, carerr.New(carerr.InvalidHeader,
			"CARv2 data offset %d overlaps the header (minimum %d)", envelope.DataOffset, minimumOffset)
	}
	if envelope.DataSize == 0 {
		return v2Envelope{}, carerr.New(carerr.InvalidHeader, "CARv2 data size is zero")
	}
	if envelope.DataSize > math.MaxInt64-envelope.DataOffset {
		return v2Envelope{}, carerr.New(carerr.InvalidHeader, "CARv2 data range overflows")
	}
	return envelope, nil
}

func (e v2Envelope) bytes() []byte {
	var buffer bytes.Buffer
	buffer.Write(e.Characteristics[:])
	var word [8]byte
	for _, value := range []uint64{e.DataOffset, e.DataSize, e.IndexOffset} {
		binary.LittleEndian.PutUint64(word[:], value)
		buffer.Write(word[:])
	}
	return buffer.Bytes()
}
