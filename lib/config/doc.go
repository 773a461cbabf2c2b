// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads netplay configuration.
//
// Configuration comes from a single file named by the NETPLAY_CONFIG
// environment variable or a --config flag. There is no automatic
// discovery. YAML is the primary format; files ending in .jsonc or
// .json are accepted with comments stripped.
//
// A file may carry development, staging, and production sections that
// override the directory, transport, and logging sections when the
// environment field matches. Production logs JSON unless told
// otherwise.
//
// Addresses, ICE server URLs, and the player name expand ${VAR} and
// ${VAR:-default} from the process environment.
package config
