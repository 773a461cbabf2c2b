// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for netplay binaries.
// NewLogger builds the stderr logger from the logging config; Fatal
// reports errors returned from run() before or after that logger
// exists.
package process
