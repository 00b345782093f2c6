// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/transport"
	"github.com/spf13/cobra"
)

var (
	linkTestTimeout int
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test connection by waiting for a valid VSCP frame",
	Long: `Wait for a valid VSCP frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any frame
that decodes and validates. Frames that fail to decode are counted and
skipped, which is expected while the decoder synchronizes.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking the framing and bitrate of a CAN adapter or bridge.`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	codec, err := selectCodec(nil)
	if err != nil {
		return err
	}

	var invalid atomic.Uint64
	frames := make(chan vscp.Message, 1)
	observe := func(msg *vscp.Message, decodeErr error) {
		if decodeErr != nil || vscp.ValidateMessage(*msg) != nil {
			invalid.Add(1)
			return
		}
		select {
		case frames <- *msg:
		default:
		}
	}

	link, connInfo, err := OpenLink(codec, transport.WithFrameObserver(observe))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	fmt.Printf("vscpnode - Link Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", linkTestTimeout)
	fmt.Printf("Waiting for valid VSCP frame...\n\n")

	select {
	case msg := <-frames:
		if n := invalid.Load(); n > 0 {
			fmt.Printf("(skipped %d invalid frames before sync)\n", n)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  %s", vscp.FormatMessage(msg))
		if id, err := vscp.CANID(msg); err == nil {
			fmt.Printf("  CAN ID: 0x%08X\n", id)
		}
		os.Exit(0)

	case <-link.Done():
		fmt.Fprintf(os.Stderr, "Read error: %v\n", link.Err())
		os.Exit(2)

	case <-time.After(time.Duration(linkTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", linkTestTimeout)
		os.Exit(1)
	}

	return nil
}
