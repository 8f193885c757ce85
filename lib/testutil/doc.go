// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a temporary directory in /tmp for Unix domain
// sockets. Socket paths are limited to 108 bytes (sun_path), which a
// deeply nested t.TempDir() can exceed.
//
// [RequireReceive] and [RequireClosed] wrap the
// select-with-timeout pattern so tests never block forever on a
// channel. They are the only place tests wait on the wall clock;
// everything else uses a fake clock.
//
// All helpers call t.Fatalf on failure.
package testutil
