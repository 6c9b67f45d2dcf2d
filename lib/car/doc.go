// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package car reads Content-Addressable Archives: a header naming root
// identifiers followed by a sequence of length-prefixed blocks.
//
// The package is organized in layers, each usable independently:
//
//   - Framing: [Reader] is a single forward cursor. [NewReader] parses
//     the header (CARv1, or the CARv2 envelope around a CARv1 payload)
//     and [Reader.Next] yields one [Block] per frame. A frame is a
//     uvarint length followed by that many bytes: a CID, then the block
//     data. The CID is parsed strictly inside the frame, so a corrupt
//     identifier can never consume bytes belonging to the next frame.
//
//   - Input: zstd- and LZ4-compressed archives (.car.zst, .car.lz4)
//     are detected by their frame magic and decompressed transparently.
//
//   - Verification: [Verify] recomputes a block's digest with the
//     algorithm its identifier names and compares it byte-for-byte.
//     Reading never verifies implicitly; callers decide.
//
//   - Indexing: [BuildIndex] drains a reader into an [Index] keyed by
//     identifier. The index retains block bytes in memory, or only
//     offsets when the archive is a plain file that can be re-read with
//     ReadAt. It is built once and read-only afterwards, so concurrent
//     lookups need no locking.
//
//   - Writing: [Writer] produces CARv1 archives and [WriteV2] wraps one
//     in the CARv2 envelope. The extraction engine never writes
//     archives; the writer exists for fixtures and tooling.
//
// Header layout (DAG-CBOR, decoded with fxamacker/cbor):
//
//	{"version": 1, "roots": [tag42(0x00 || cid), ...]}
//
// CARv2 layout:
//
//	pragma (11 bytes: a CARv1 header declaring version 2)
//	characteristics (16) | data offset (8 LE) | data size (8 LE) | index offset (8 LE)
//	... padding ...
//	CARv1 payload at data offset, data size bytes long
//	optional index (ignored)
package car
