// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for netplay binaries.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] are injected with
// -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/netplay/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// [BuildID] is the value written into the "b" property of every
// session this build creates.
package version
