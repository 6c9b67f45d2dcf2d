// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest is the table of hash algorithms the CAR verifier can
// compute, keyed by multihash code.
//
// Identifiers name their hash algorithm by a multihash code. An
// identifier whose code is not in this table cannot be verified, so the
// identifier codec rejects it at parse time rather than letting an
// unverifiable block through. Codes and canonical names come from
// go-multihash so they stay aligned with the multiformats table.
//
// Fixed-size algorithms (SHA-2, SHA-3, BLAKE2) require the digest to be
// exactly their output size. BLAKE3 is an extendable-output function and
// accepts any digest length up to [MaxBLAKE3Size]. Identity "hashes" are
// the content itself and accept any length up to [MaxIdentitySize].
package digest

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sort"

	mh "github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// Multihash codes for the supported algorithms.
const (
	Identity   = uint64(mh.IDENTITY)
	SHA2_256   = uint64(mh.SHA2_256)
	SHA2_512   = uint64(mh.SHA2_512)
	SHA3_224   = uint64(mh.SHA3_224)
	SHA3_256   = uint64(mh.SHA3_256)
	SHA3_384   = uint64(mh.SHA3_384)
	SHA3_512   = uint64(mh.SHA3_512)
	BLAKE3     = uint64(mh.BLAKE3)
	BLAKE2b256 = uint64(mh.BLAKE2B_MIN) + 31
	BLAKE2b512 = uint64(mh.BLAKE2B_MAX)
	BLAKE2s256 = uint64(mh.BLAKE2S_MAX)
)

// MaxBLAKE3Size bounds BLAKE3 digest lengths accepted in identifiers.
const MaxBLAKE3Size = 128

// MaxIdentitySize bounds inline (identity) content in identifiers.
// Identity CIDs embed their content, so an unbounded length would let
// a single identifier allocate arbitrary memory.
const MaxIdentitySize = 4096

// Algorithm describes one hash algorithm.
type Algorithm struct {
	// Code is the multihash code.
	Code uint64

	// Name is the canonical multihash name (e.g. "sha2-256").
	Name string

	// Size is the digest size in bytes. Zero for variable-length
	// algorithms (identity, BLAKE3).
	Size int

	// DefaultSize is the digest size used when producing new digests.
	DefaultSize int

	// newHash constructs a fixed-size hasher. Nil for variable-length
	// algorithms.
	newHash func() hash.Hash

	// sum computes a digest of the requested length for
	// variable-length algorithms.
	sum func(data []byte, size int) []byte
}

// ValidSize reports whether size is an acceptable digest length for
// this algorithm.
func (a Algorithm) ValidSize(size int) bool {
	switch a.Code {
	case Identity:
		return size >= 0 && size <= MaxIdentitySize
	case BLAKE3:
		return size >= 1 && size <= MaxBLAKE3Size
	default:
		return size == a.Size
	}
}

// Sum computes the digest of data truncated or extended to size bytes.
// Size must satisfy ValidSize.
func (a Algorithm) Sum(data []byte, size int) ([]byte, error) {
	if !a.ValidSize(size) {
		return nil, fmt.Errorf("%s: digest size %d is not valid", a.Name, size)
	}
	if a.sum != nil {
		return a.sum(data, size), nil
	}
	hasher := a.newHash()
	hasher.Write(data)
	return hasher.Sum(nil), nil
}

// Verify recomputes the digest of data and reports whether it equals
// expected. The returned slice is the recomputed digest, useful for
// mismatch diagnostics.
func (a Algorithm) Verify(data, expected []byte) (bool, []byte, error) {
	actual, err := a.Sum(data, len(expected))
	if err != nil {
		return false, nil, err
	}
	return bytes.Equal(actual, expected), actual, nil
}

var algorithms = map[uint64]Algorithm{}

func register(algorithm Algorithm) {
	if name, ok := mh.Codes[algorithm.Code]; ok {
		algorithm.Name = name
	}
	if algorithm.DefaultSize == 0 {
		algorithm.DefaultSize = algorithm.Size
	}
	algorithms[algorithm.Code] = algorithm
}

func init() {
	register(Algorithm{Code: SHA2_256, Name: "sha2-256", Size: sha256.Size, newHash: sha256.New})
	register(Algorithm{Code: SHA2_512, Name: "sha2-512", Size: sha512.Size, newHash: sha512.New})
	register(Algorithm{Code: SHA3_224, Name: "sha3-224", Size: 28, newHash: sha3.New224})
	register(Algorithm{Code: SHA3_256, Name: "sha3-256", Size: 32, newHash: sha3.New256})
	register(Algorithm{Code: SHA3_384, Name: "sha3-384", Size: 48, newHash: sha3.New384})
	register(Algorithm{Code: SHA3_512, Name: "sha3-512", Size: 64, newHash: sha3.New512})
	register(Algorithm{Code: BLAKE2b256, Name: "blake2b-256", Size: blake2b.Size256, newHash: mustKeyless(blake2b.New256)})
	register(Algorithm{Code: BLAKE2b512, Name: "blake2b-512", Size: blake2b.Size, newHash: mustKeyless(blake2b.New512)})
	register(Algorithm{Code: BLAKE2s256, Name: "blake2s-256", Size: blake2s.Size, newHash: mustKeyless(blake2s.New256)})
	register(Algorithm{Code: BLAKE3, Name: "blake3", DefaultSize: 32, sum: sumBLAKE3})
	register(Algorithm{Code: Identity, Name: "identity", sum: sumIdentity})
}

// mustKeyless adapts a keyed-hash constructor called with a nil key,
// which never fails.
func mustKeyless(constructor func(key []byte) (hash.Hash, error)) func() hash.Hash {
	return func() hash.Hash {
		hasher, err := constructor(nil)
		if err != nil {
			panic("digest: keyless hash initialization failed: " + err.Error())
		}
		return hasher
	}
}

func sumBLAKE3(data []byte, size int) []byte {
	hasher := blake3.New()
	hasher.Write(data)
	if size == 32 {
		return hasher.Sum(nil)
	}
	output := make([]byte, size)
	// Digest is an XOF reader; Read never returns an error.
	hasher.Digest().Read(output)
	return output
}

// sumIdentity ignores size: content of the wrong length must still
// fail the comparison in Verify.
func sumIdentity(data []byte, _ int) []byte {
	return bytes.Clone(data)
}

// Lookup returns the algorithm registered under code.
func Lookup(code uint64) (Algorithm, bool) {
	algorithm, ok := algorithms[code]
	return algorithm, ok
}

// Name returns the multihash name for code, whether or not the
// algorithm is supported, or a hex rendering for unknown codes.
func Name(code uint64) string {
	if algorithm, ok := algorithms[code]; ok {
		return algorithm.Name
	}
	if name, ok := mh.Codes[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", code)
}

// Supported returns all registered algorithms sorted by code.
func Supported() []Algorithm {
	result := make([]Algorithm, 0, len(algorithms))
	for _, algorithm := range algorithms {
		result = append(result, algorithm)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result
}
