// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Link flags
	framing    string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "vscpnode",
	Short: "VSCP Level I node and bus tools",
	Long: `vscpnode - A VSCP Level I node engine with bus tooling.

Runs a complete Level I node (nickname discovery, protocol registers,
heartbeat, alarm and log events) against a serial CAN adapter or a WebSocket
bridge, and provides commands to monitor and query a live segment.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200] [--framing binary|slcan]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the VSCP_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version: "1.0.0",
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Link flags
	rootCmd.PersistentFlags().StringVarP(&framing, "framing", "f", "", "Frame format: binary or slcan (default from config, else binary)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Node configuration file (YAML)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
