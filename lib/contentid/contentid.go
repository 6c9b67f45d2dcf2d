// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentid parses and constructs content identifiers (CIDs).
//
// A CID names a block by a hash of its bytes and says how to interpret
// them. The binary forms are:
//
//	CIDv0: <multihash>                      (always sha2-256, dag-pb)
//	CIDv1: <uvarint 1><uvarint codec><multihash>
//	multihash: <uvarint hash code><uvarint digest length><digest>
//
// [Parse] consumes a CID from the front of a byte slice, which is how
// block frames carry them. [Decode] accepts the textual forms (base58
// "Qm…" and multibase-prefixed strings) through go-cid and then runs
// the same binary parser, so every identifier in the engine passes the
// same validation regardless of where it came from.
//
// Identifiers compare byte-exactly: a CIDv0 and a CIDv1 naming the same
// content are different identifiers.
package contentid

import (
	"bytes"
	"encoding/binary"
	"fmt"

	gocid "github.com/ipfs/go-cid"

	"github.com/bureau-foundation/carextract/lib/carerr"
	"github.com/bureau-foundation/carextract/lib/digest"
)

// Version is the CID version.
type Version uint8

const (
	V0 Version = 0
	V1 Version = 1
)

// Content-type codes (multicodec) the engine interprets.
const (
	Raw     = uint64(gocid.Raw)
	DagPB   = uint64(gocid.DagProtobuf)
	DagCBOR = uint64(gocid.DagCBOR)
)

// v0Prefix is the multihash header every CIDv0 starts with:
// sha2-256, 32-byte digest.
var v0Prefix = [2]byte{0x12, 0x20}

// v0Length is the total length of a binary CIDv0.
const v0Length = 34

// ID is a parsed content identifier. The zero value is not a valid
// identifier; use [ID.Defined] to test for it.
type ID struct {
	version  Version
	codec    uint64
	hashCode uint64
	digest   string
}

// New constructs an identifier and validates it against the digest
// table. A V0 identifier must use dag-pb and sha2-256.
func New(version Version, codec, hashCode uint64, digestBytes []byte) (ID, error) {
	id := ID{version: version, codec: codec, hashCode: hashCode, digest: string(digestBytes)}
	if err := id.validate(); err != nil {
		return ID{}, err
	}
	return id, nil
}

// Sum hashes data with the named algorithm at its default size and
// returns the CIDv1 naming it.
func Sum(codec, hashCode uint64, data []byte) (ID, error) {
	algorithm, ok := digest.Lookup(hashCode)
	if !ok {
		return ID{}, carerr.New(carerr.UnknownAlgorithm, "hash code 0x%x", hashCode)
	}
	size := algorithm.DefaultSize
	if hashCode == digest.Identity {
		size = len(data)
	}
	sum, err := algorithm.Sum(data, size)
	if err != nil {
		return ID{}, carerr.Wrap(carerr.InvalidIdentifier, err, "computing digest")
	}
	return New(V1, codec, hashCode, sum)
}

// SumV0 returns the CIDv0 of a dag-pb block.
func SumV0(data []byte) ID {
	id, err := Sum(DagPB, digest.SHA2_256, data)
	if err != nil {
		panic("contentid: sha2-256 digest failed: " + err.Error())
	}
	id.version = V0
	return id
}

func (id ID) validate() error {
	algorithm, ok := digest.Lookup(id.hashCode)
	if !ok {
		return carerr.New(carerr.UnknownAlgorithm, "hash algorithm %s", digest.Name(id.hashCode))
	}
	switch id.version {
	case V0:
		if id.codec != DagPB || id.hashCode != digest.SHA2_256 {
			return carerr.New(carerr.InvalidIdentifier,
				"CIDv0 must be dag-pb/sha2-256, got codec 0x%x hash %s", id.codec, algorithm.Name)
		}
	case V1:
	default:
		return carerr.New(carerr.InvalidIdentifier, "unsupported CID version %d", id.version)
	}
	if !algorithm.ValidSize(len(id.digest)) {
		return carerr.New(carerr.InvalidIdentifier,
			"%s digest is %d bytes", algorithm.Name, len(id.digest))
	}
	return nil
}

// Parse consumes one binary CID from the front of data and returns it
// with the number of bytes consumed.
func Parse(data []byte) (ID, int, error) {
	if len(data) == 0 {
		return ID{}, 0, carerr.New(carerr.TruncatedIdentifier, "empty identifier")
	}

	// CIDv0 is a bare sha2-256 multihash. A CIDv1 can never start with
	// 0x12 because its first varint is the version (1).
	if data[0] == v0Prefix[0] {
		if len(data) < 2 || data[1] != v0Prefix[1] {
			if len(data) < 2 {
				return ID{}, 0, carerr.New(carerr.TruncatedIdentifier, "CIDv0 header needs 2 bytes")
			}
			return ID{}, 0, carerr.New(carerr.InvalidIdentifier,
				"CIDv0 digest length byte is 0x%02x, want 0x20", data[1])
		}
		if len(data) < v0Length {
			return ID{}, 0, carerr.New(carerr.TruncatedIdentifier,
				"CIDv0 needs %d bytes, %d remain", v0Length, len(data))
		}
		id := ID{
			version:  V0,
			codec:    DagPB,
			hashCode: digest.SHA2_256,
			digest:   string(data[2:v0Length]),
		}
		return id, v0Length, nil
	}

	position := 0
	next := func(field string) (uint64, error) {
		value, n := binary.Uvarint(data[position:])
		switch {
		case n == 0:
			return 0, carerr.New(carerr.TruncatedIdentifier, "%s varint truncated after %d bytes", field, position)
		case n < 0:
			return 0, carerr.New(carerr.InvalidIdentifier, "%s varint overflows 64 bits", field)
		}
		position += n
		return value, nil
	}

	version, err := next("version")
	if err != nil {
		return ID{}, 0, err
	}
	if version != uint64(V1) {
		return ID{}, 0, carerr.New(carerr.InvalidIdentifier, "unsupported CID version %d", version)
	}
	codec, err := next("codec")
	if err != nil {
		return ID{}, 0, err
	}
	hashCode, err := next("hash code")
	if err != nil {
		return ID{}, 0, err
	}
	digestLength, err := next("digest length")
	if err != nil {
		return ID{}, 0, err
	}

	algorithm, ok := digest.Lookup(hashCode)
	if !ok {
		return ID{}, 0, carerr.New(carerr.UnknownAlgorithm, "hash algorithm %s", digest.Name(hashCode))
	}
	remaining := uint64(len(data) - position)
	if digestLength > remaining {
		return ID{}, 0, carerr.New(carerr.TruncatedIdentifier,
			"%s digest declares %d bytes, %d remain", algorithm.Name, digestLength, remaining)
	}
	if !algorithm.ValidSize(int(digestLength)) {
		return ID{}, 0, carerr.New(carerr.InvalidIdentifier,
			"%s digest is %d bytes", algorithm.Name, digestLength)
	}

	end := position + int(digestLength)
	id := ID{
		version:  V1,
		codec:    codec,
		hashCode: hashCode,
		digest:   string(data[position:end]),
	}
	return id, end, nil
}

// ParseExact parses data as exactly one binary CID.
func ParseExact(data []byte) (ID, error) {
	id, n, err := Parse(data)
	if err != nil {
		return ID{}, err
	}
	if n != len(data) {
		return ID{}, carerr.New(carerr.InvalidIdentifier,
			"%d trailing bytes after identifier", len(data)-n)
	}
	return id, nil
}

// Decode parses the textual form of a CID: base58btc for CIDv0
// ("Qm…"), or any multibase-prefixed encoding for CIDv1.
func Decode(text string) (ID, error) {
	parsed, err := gocid.Decode(text)
	if err != nil {
		return ID{}, carerr.Wrap(carerr.InvalidIdentifier, err, "decoding %q", text)
	}
	return ParseExact(parsed.Bytes())
}

// Version returns the CID version.
func (id ID) Version() Version { return id.version }

// Codec returns the content-type (multicodec) code.
func (id ID) Codec() uint64 { return id.codec }

// HashCode returns the multihash code of the digest algorithm.
func (id ID) HashCode() uint64 { return id.hashCode }

// Digest returns a copy of the digest bytes.
func (id ID) Digest() []byte { return []byte(id.digest) }

// Defined reports whether id is a parsed identifier rather than the
// zero value. Every CIDv0 carries a 32-byte digest, and the zero value is a V0 with
// no digest, so only an empty V0 is undefined.
func (id ID) Defined() bool { return id.version == V1 || id.digest != "" }

// IsIdentity reports whether the identifier inlines its content.
func (id ID) IsIdentity() bool { return id.hashCode == digest.Identity }

// Bytes returns the canonical binary form.
func (id ID) Bytes() []byte {
	if id.version == V0 {
		result := make([]byte, 0, v0Length)
		result = append(result, v0Prefix[:]...)
		return append(result, id.digest...)
	}
	result := make([]byte, 0, 4*binary.MaxVarintLen64+len(id.digest))
	result = binary.AppendUvarint(result, uint64(V1))
	result = binary.AppendUvarint(result, id.codec)
	result = binary.AppendUvarint(result, id.hashCode)
	result = binary.AppendUvarint(result, uint64(len(id.digest)))
	return append(result, id.digest...)
}

// Key returns the binary form as a string, suitable as a map key.
func (id ID) Key() string { return string(id.Bytes()) }

// Equal compares identifiers byte-exactly: version, tags, and digest.
func (id ID) Equal(other ID) bool { return bytes.Equal(id.Bytes(), other.Bytes()) }

// Equal reports whether a and b are byte-identical identifiers.
func Equal(a, b ID) bool { return a.Equal(b) }

// Algorithm returns the digest algorithm named by the identifier.
func Algorithm(id ID) (digest.Algorithm, error) {
	algorithm, ok := digest.Lookup(id.hashCode)
	if !ok {
		return digest.Algorithm{}, carerr.New(carerr.UnknownAlgorithm, "hash algorithm %s", digest.Name(id.hashCode))
	}
	return algorithm, nil
}

// String renders the identifier in its conventional text form:
// base58btc for CIDv0, base32 multibase for CIDv1.
func (id ID) String() string {
	if !id.Defined() {
		return "<undefined>"
	}
	parsed, err := gocid.Cast(id.Bytes())
	if err != nil {
		return fmt.Sprintf("<invalid cid %x>", id.Bytes())
	}
	return parsed.String()
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Decode(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
