// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for bureau-car.
//
// Configuration is loaded from a single file specified by either the
// BUREAU_CAR_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search. A command run without
// either uses [Default].
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas; anything else is YAML. Both map onto the same keys.
//
// The file may carry environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production defaults are stricter:
// integrity and size mismatches abort extraction instead of skipping
// the affected file.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Extract, Reader, Logging
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.ExtractOptions] -- translates the file into
//     extraction options
package config
