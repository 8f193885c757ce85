// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the sysmond configuration file.
//
// The file is YAML, or JSON with comments when its name ends in .json
// or .jsonc. [LoadFile] starts from [Default] and overlays the file;
// [Load] does the same for the path in SYSMOND_CONFIG and returns the
// defaults when the variable is unset. There is no search path.
//
// Path fields expand ${VAR} and ${VAR:-default} after loading. Command
// line flags are applied by the caller on top of the loaded values.
package config
