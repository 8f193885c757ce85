// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration shared by the IPC
// socket, the CLI client, and isolated probe replies.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
//
//	data, err := codec.Marshal(snapshot)
//	err = codec.Unmarshal(data, &snapshot)
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// Types that only cross the socket or the probe pipe use `cbor` tags.
// Sampler records that the CLI can also print as JSON (--json) use
// `json` tags; fxamacker/cbor reads `json` tags when no `cbor` tag is
// present. Never put both on one field.
package codec
