// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/spf13/cobra"
)

var (
	whoisTimeout int
	whoisTarget  uint8
	whoisOrigin  uint8
)

var whoisCmd = &cobra.Command{
	Use:   "whois",
	Short: "List the nodes on a segment",
	Long: `Send WHO_IS_THERE and collect the responses.

Every node answers with seven frames carrying its GUID and MDF URL. The
frames are reassembled per nickname and printed once complete.

Examples:
  # Ask every node on the segment
  vscpnode whois --port /dev/ttyACM0 --framing slcan

  # Ask one node
  vscpnode whois --url ws://bridge.local/vscp --target 0x21

Exit codes:
  0 - At least one node answered
  1 - No node answered before the timeout
  2 - Connection error`,
	RunE: runWhois,
}

func init() {
	rootCmd.AddCommand(whoisCmd)
	whoisCmd.Flags().IntVar(&whoisTimeout, "timeout", 3, "Timeout in seconds")
	whoisCmd.Flags().Uint8Var(&whoisTarget, "target", vscp.NicknameFree, "Nickname to query (0xFF asks every node)")
	whoisCmd.Flags().Uint8Var(&whoisOrigin, "origin", vscp.NicknameSegmentController, "Nickname the request is sent from")
}

// whoisCollector reassembles WHO_IS_THERE responses per origin nickname.
type whoisCollector struct {
	frames map[uint8]map[uint8][]byte
	nodes  map[uint8]vscp.WhoIsThereResponse
}

func newWhoisCollector() *whoisCollector {
	return &whoisCollector{
		frames: make(map[uint8]map[uint8][]byte),
		nodes:  make(map[uint8]vscp.WhoIsThereResponse),
	}
}

// Add records one message. It returns the response and true when msg
// completes a node's response set.
func (c *whoisCollector) Add(msg vscp.Message) (vscp.WhoIsThereResponse, bool) {
	if msg.Class != vscp.ClassProtocol || msg.Type != vscp.TypeProtocolWhoIsThereResponse || msg.DataNum == 0 {
		return vscp.WhoIsThereResponse{}, false
	}
	if _, done := c.nodes[msg.OriginAddr]; done {
		return vscp.WhoIsThereResponse{}, false
	}

	frames, ok := c.frames[msg.OriginAddr]
	if !ok {
		frames = make(map[uint8][]byte)
		c.frames[msg.OriginAddr] = frames
	}
	frames[msg.Data[0]] = append([]byte(nil), msg.Payload()...)

	resp, complete := vscp.AssembleWhoIsThere(frames)
	if !complete {
		return resp, false
	}
	c.nodes[msg.OriginAddr] = resp
	delete(c.frames, msg.OriginAddr)
	return resp, true
}

// Nicknames returns the nicknames with a complete response, ascending.
func (c *whoisCollector) Nicknames() []uint8 {
	ids := make([]uint8, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Incomplete returns the nicknames that sent some but not all frames.
func (c *whoisCollector) Incomplete() []uint8 {
	ids := make([]uint8, 0, len(c.frames))
	for id := range c.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func runWhois(cmd *cobra.Command, args []string) error {
	codec, err := selectCodec(nil)
	if err != nil {
		return err
	}

	link, connInfo, err := OpenLink(codec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	fmt.Printf("vscpnode - Who Is There\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Target: 0x%02X\n", whoisTarget)
	fmt.Printf("Timeout: %d seconds\n\n", whoisTimeout)

	fmt.Printf("Sending WHO_IS_THERE...\n")
	if err := link.Write(vscp.NewWhoIsThere(whoisOrigin, whoisTarget)); err != nil {
		fmt.Printf("SEND FAILED: %v\n", err)
		os.Exit(2)
	}

	collector := newWhoisCollector()
	deadline := time.After(time.Duration(whoisTimeout) * time.Second)
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

wait:
	for {
		select {
		case <-poll.C:
			for {
				msg, ok := link.Read()
				if !ok {
					break
				}
				resp, complete := collector.Add(msg)
				if !complete {
					continue
				}
				fmt.Printf("\nNode found:\n")
				fmt.Printf("  Nickname: 0x%02X\n", msg.OriginAddr)
				fmt.Printf("  GUID:     %s\n", resp.GUID)
				fmt.Printf("  MDF URL:  %s\n", resp.MDFURL)
				if whoisTarget != vscp.NicknameFree && msg.OriginAddr == whoisTarget {
					break wait
				}
			}

		case <-link.Done():
			fmt.Printf("READ FAILED: %v\n", link.Err())
			os.Exit(2)

		case <-deadline:
			break wait
		}
	}

	nodes := collector.Nicknames()

	fmt.Printf("\n--- Who is there summary ---\n")
	fmt.Printf("Nodes found: %d\n", len(nodes))
	for _, id := range collector.Incomplete() {
		fmt.Printf("Incomplete response from 0x%02X\n", id)
	}

	if len(nodes) == 0 {
		fmt.Printf("No nodes answered. Check framing, connection and bus power.\n")
		os.Exit(1)
	}

	return nil
}
