// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by netplay tests.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the select
// with a wall-clock safety timeout so a broken test fails instead of
// hanging. Everything else in the tests runs on lib/clock's fake
// clock; these helpers are the only place real timeouts appear.
//
// [DiscardLogger] is the logger handed to components under test.
//
// All helpers fail the test with t.Fatalf rather than returning
// errors.
package testutil
