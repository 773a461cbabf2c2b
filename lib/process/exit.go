// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Fatal prints "error: err" to stderr and exits 1. Binaries call it
// from main with the error run() returned:
//
//	func main() {
//		if err := run(); err != nil {
//			process.Fatal(err)
//		}
//	}
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
