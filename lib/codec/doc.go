// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration shared by every netplay wire
// protocol: relay frames between participants and the session host,
// and request/response messages on the directory socket.
//
// Encoding is RFC 8949 Core Deterministic (sorted map keys, shortest
// integers), so equal values always produce equal bytes. CBOR items are
// self-delimiting, so a connection carries a plain sequence of items
// with no extra framing:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
