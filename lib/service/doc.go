// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the request-response socket protocol shared
// by netplay services and their clients.
//
// A request is one CBOR map carrying an "action" field plus
// action-specific fields. The server answers with one [Response]
// envelope and closes the connection. Handlers are registered per
// action on a [SocketServer]; a handler returns a result value or an
// error, and an error implementing [Coder] carries a machine-readable
// code through to the client's [ServiceError].
//
// Addresses are "unix:<path>" for a Unix socket or "host:port" for
// TCP. [Listen] and [Client] accept the same forms, so a service and
// its clients share one configuration value.
package service
