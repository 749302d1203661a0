// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package main

import (
	"fmt"
	"os"

	"github.com/passkeyhq/go-passkey/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
