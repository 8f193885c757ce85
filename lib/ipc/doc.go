// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc serves the daemon's sampled state and commands on a Unix
// socket. Each connection carries exactly one CBOR request and one
// CBOR response, then closes:
//
//	request:  {action: "disks", ...action fields}
//	response: {ok: true, data: <cbor>}  or  {ok: false, code: "not_found", error: "..."}
//
// [Register] binds every action to a [Backend]; cmd/sysmond passes its
// gatherer, cmd/sysmonctl talks to the socket through [Client]. The
// request and reply types in this package are shared by both sides.
package ipc
