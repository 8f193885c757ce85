// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package isolate runs probes that may crash the process (vendor
// ioctls, driver queries, loaders that abort on bad hardware) in a
// short-lived child process so that a crash costs one probe result
// and not the daemon.
//
// The child is the daemon's own binary, re-executed with
// SYSMOND_ISOLATE_PROBE set to the probe name. Every binary that
// registers probes must call [Main] before doing anything else in
// main (and in TestMain for test binaries):
//
//	func main() {
//	    isolate.Main()
//	    if err := run(); err != nil {
//	        process.Fatal(err)
//	    }
//	}
//
// The parent writes the CBOR-encoded request to the child's stdin and
// reads one CBOR reply from its stdout. Failures come back as
// *[Error] with a [Kind] that separates a crash (signal or abnormal
// exit), an error returned by the probe, an undecodable reply, and a
// timeout. A child that outlives its timeout is killed.
package isolate
