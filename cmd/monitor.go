// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/frame"
	"github.com/Thermoquad/vscpnode/pkg/vscp/transport"
	"github.com/spf13/cobra"
)

var (
	monitorStatsInterval int
	monitorErrorsOnly    bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display bus traffic in human-readable format",
	Long: `Continuously decode and display VSCP frames as they arrive.

Each frame is printed with a timestamp, class, type, origin nickname and a
decoded payload. Frames that fail to decode or validate are reported as
errors, and a statistics summary is printed periodically.

Examples:
  # SLCAN adapter, statistics every 30 seconds
  vscpnode monitor --port /dev/ttyACM0 --framing slcan --stats-interval 30

  # Only report problems
  vscpnode monitor --url ws://bridge.local/vscp --errors-only`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 10, "Statistics interval in seconds (0 disables)")
	monitorCmd.Flags().BoolVar(&monitorErrorsOnly, "errors-only", false, "Only print frames with errors")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	codec, err := selectCodec(nil)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	stats := frame.NewStatistics()

	observe := func(msg *vscp.Message, decodeErr error) {
		var validationErr error
		if msg != nil {
			validationErr = vscp.ValidateMessage(*msg)
		}

		mu.Lock()
		stats.Update(msg, decodeErr, validationErr)
		mu.Unlock()

		timestamp := time.Now().Format("15:04:05.000")
		switch {
		case decodeErr != nil:
			fmt.Printf("[%s] [ERROR] %v\n", timestamp, decodeErr)
		case validationErr != nil:
			fmt.Printf("[%s] [INVALID] %v\n", timestamp, validationErr)
			fmt.Printf("  %s", vscp.FormatMessage(*msg))
		case !monitorErrorsOnly:
			fmt.Printf("[%s] %s", timestamp, vscp.FormatMessage(*msg))
		}
	}

	link, connInfo, err := OpenLink(codec, transport.WithFrameObserver(observe))
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("vscpnode - Bus Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	var statsC <-chan time.Time
	if monitorStatsInterval > 0 {
		statsTicker := time.NewTicker(time.Duration(monitorStatsInterval) * time.Second)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	// The observer prints everything, the queue only needs draining
	drain := time.NewTicker(50 * time.Millisecond)
	defer drain.Stop()

	printStats := func() {
		mu.Lock()
		summary := stats.String()
		mu.Unlock()
		fmt.Println()
		fmt.Print(summary)
		fmt.Println()
	}

	for {
		select {
		case <-drain.C:
			for {
				if _, ok := link.Read(); !ok {
					break
				}
			}

		case <-statsC:
			printStats()

		case <-link.Done():
			printStats()
			if err := link.Err(); err != nil && !errors.Is(err, ErrConnectionClosed) {
				return fmt.Errorf("read error: %w", err)
			}
			log.Printf("Connection closed")
			return nil

		case <-interrupt:
			printStats()
			return nil
		}
	}
}
