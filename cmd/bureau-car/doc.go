// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-car decodes, verifies, and extracts CAR (Content-Addressable
// aRchive) files. It provides subcommands to extract the UnixFS file
// tree (all of it, paths matching a pattern, or one verified subtree
// named by CID), inspect an archive's header and blocks, verify every
// block against its identifier, and list root identifiers.
package main
