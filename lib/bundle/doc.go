// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle reads and writes snapshot bundles: a point-in-time
// capture of every daemon reply, saved to a file for later inspection
// or attached to a bug report.
//
// A bundle file is a fixed header followed by one CBOR document:
//
//	magic       8 bytes   "SYSMONDB"
//	format      1 byte    currently 1
//	compression 1 byte    [Compression]
//	size        uvarint   uncompressed payload length
//	digest      32 bytes  BLAKE3-256 of the uncompressed payload
//	payload     rest      the compressed CBOR [Bundle]
//
// Sections hold each reply exactly as the daemon encoded it, so a
// bundle written by one version can be decoded by any later version
// that still understands the reply types.
package bundle
