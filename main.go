// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// vscpnode - VSCP Level I node engine and bus tools
//
// Runs a Level I node against a serial CAN adapter or a WebSocket bridge and
// provides commands to monitor and query a live segment.

package main

import (
	"os"

	"github.com/Thermoquad/vscpnode/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
