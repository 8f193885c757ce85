// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for the sysmond binaries:
// fatal error reporting before the structured logger exists, and the
// signal-bound root context every main runs under.
package process
