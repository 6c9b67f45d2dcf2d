// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestLookupKnownAlgorithms(t *testing.T) {
	tests := []struct {
		code uint64
		name string
		size int
	}{
		{SHA2_256, "sha2-256", 32},
		{SHA2_512, "sha2-512", 64},
		{SHA3_224, "sha3-224", 28},
		{SHA3_256, "sha3-256", 32},
		{SHA3_384, "sha3-384", 48},
		{SHA3_512, "sha3-512", 64},
		{BLAKE2b256, "blake2b-256", 32},
		{BLAKE2b512, "blake2b-512", 64},
		{BLAKE2s256, "blake2s-256", 32},
		{BLAKE3, "blake3", 0},
		{Identity, "identity", 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			algorithm, ok := Lookup(test.code)
			if !ok {
				t.Fatalf("Lookup(0x%x) not found", test.code)
			}
			if algorithm.Name != test.name {
				t.Errorf("Name = %q, want %q", algorithm.Name, test.name)
			}
			if algorithm.Size != test.size {
				t.Errorf("Size = %d, want %d", algorithm.Size, test.size)
			}
			if algorithm.DefaultSize == 0 && test.code != Identity {
				t.Error("DefaultSize is zero")
			}
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, ok := Lookup(0xd5); ok { // md5
		t.Error("md5 should not be supported")
	}
	if Name(0xd5) != "md5" {
		t.Errorf("Name(md5) = %q, want md5", Name(0xd5))
	}
	if Name(0x7fffffff) != "0x7fffffff" {
		t.Errorf("Name(unregistered) = %q", Name(0x7fffffff))
	}
}

func TestSHA256MatchesStdlib(t *testing.T) {
	data := []byte("hello car")
	algorithm, _ := Lookup(SHA2_256)
	sum, err := algorithm.Sum(data, 32)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	expected := sha256.Sum256(data)
	if hex.EncodeToString(sum) != hex.EncodeToString(expected[:]) {
		t.Errorf("sha2-256 mismatch: %x vs %x", sum, expected)
	}
}

func TestBLAKE3VariableLength(t *testing.T) {
	algorithm, _ := Lookup(BLAKE3)
	data := []byte("extendable output")

	short, err := algorithm.Sum(data, 32)
	if err != nil {
		t.Fatalf("Sum(32): %v", err)
	}
	long, err := algorithm.Sum(data, 64)
	if err != nil {
		t.Fatalf("Sum(64): %v", err)
	}
	if len(short) != 32 || len(long) != 64 {
		t.Fatalf("lengths = %d, %d", len(short), len(long))
	}
	// XOF output is a prefix-stable stream.
	if hex.EncodeToString(long[:32]) != hex.EncodeToString(short) {
		t.Error("64-byte BLAKE3 output does not extend the 32-byte output")
	}
	if _, err := algorithm.Sum(data, 0); err == nil {
		t.Error("zero-length BLAKE3 digest should be rejected")
	}
}

func TestVerify(t *testing.T) {
	data := []byte("payload")
	for _, algorithm := range Supported() {
		t.Run(algorithm.Name, func(t *testing.T) {
			size := algorithm.DefaultSize
			if algorithm.Code == Identity {
				size = len(data)
			}
			expected, err := algorithm.Sum(data, size)
			if err != nil {
				t.Fatalf("Sum: %v", err)
			}
			ok, _, err := algorithm.Verify(data, expected)
			if err != nil || !ok {
				t.Fatalf("Verify(original) = %v, %v", ok, err)
			}
			tampered := append([]byte(nil), data...)
			tampered[0] ^= 0xff
			ok, actual, err := algorithm.Verify(tampered, expected)
			if err != nil {
				t.Fatalf("Verify(tampered): %v", err)
			}
			if ok {
				t.Error("tampered data verified")
			}
			if len(actual) == 0 {
				t.Error("recomputed digest not returned")
			}
		})
	}
}

func TestFixedSizeRejectsWrongLength(t *testing.T) {
	algorithm, _ := Lookup(SHA2_256)
	if algorithm.ValidSize(20) {
		t.Error("sha2-256 accepted a 20-byte digest")
	}
	if _, _, err := algorithm.Verify([]byte("x"), make([]byte, 20)); err == nil {
		t.Error("Verify with wrong digest length should fail")
	}
}
