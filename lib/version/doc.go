// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the sysmond binaries.
//
// Values are injected at build time with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/sysmond/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Builds without ldflags fall back to the VCS stamp the Go toolchain
// embeds in the binary. [Info] is the --version string and is also
// reported by the daemon's status action.
package version
