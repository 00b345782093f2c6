// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/transport"
	"github.com/spf13/cobra"
)

var (
	registerTarget  uint8
	registerOrigin  uint8
	registerTimeout int
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Read and write registers of a remote node",
	Long: `Read and write the register page of a node on the segment.

Registers 0x00-0x7F belong to the application and are paged by the page
select registers 0x92/0x93. Registers 0x80-0xFF hold the node identity,
configuration and status.

Examples:
  # Read the node control register of node 0x21
  vscpnode register read 0x83 --target 0x21 --port /dev/ttyACM0

  # Set zone and sub-zone
  vscpnode register write 0x98 3 --target 0x21 --port /dev/ttyACM0

  # Dump the protocol registers
  vscpnode register dump 0x80 128 --target 0x21 --url ws://bridge.local/vscp

Exit codes:
  0 - Response received
  1 - No response before the timeout
  2 - Connection error`,
}

var registerReadCmd = &cobra.Command{
	Use:   "read <register>",
	Short: "Read one register",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegisterRead,
}

var registerWriteCmd = &cobra.Command{
	Use:   "write <register> <value>",
	Short: "Write one register and show what it holds afterwards",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegisterWrite,
}

var registerDumpCmd = &cobra.Command{
	Use:   "dump <start> <count>",
	Short: "Read a block of registers with PAGE_READ",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegisterDump,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.AddCommand(registerReadCmd, registerWriteCmd, registerDumpCmd)

	registerCmd.PersistentFlags().Uint8Var(&registerTarget, "target", 0, "Nickname of the node to address")
	registerCmd.PersistentFlags().Uint8Var(&registerOrigin, "origin", vscp.NicknameSegmentController, "Nickname requests are sent from")
	registerCmd.PersistentFlags().IntVar(&registerTimeout, "timeout", 2, "Timeout in seconds")
	registerCmd.MarkPersistentFlagRequired("target")
}

// parseByte parses a register number or value. Go literal prefixes such as
// 0x are accepted.
func parseByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q", s)
	}
	return uint8(v), nil
}

// pageCollector reassembles RW_PAGE_RESPONSE frames from one node. Each frame
// carries a sequence number followed by up to seven register values.
type pageCollector struct {
	origin uint8
	count  int
	frames map[uint8][]byte
	total  int
}

func newPageCollector(origin uint8, count int) *pageCollector {
	return &pageCollector{
		origin: origin,
		count:  count,
		frames: make(map[uint8][]byte),
	}
}

// Add records msg and reports whether all requested values arrived.
func (c *pageCollector) Add(msg vscp.Message) bool {
	if msg.Class != vscp.ClassProtocol || msg.Type != vscp.TypeProtocolRWPageResponse ||
		msg.OriginAddr != c.origin || msg.DataNum == 0 {
		return c.Done()
	}
	seq := msg.Data[0]
	if _, dup := c.frames[seq]; !dup {
		values := append([]byte(nil), msg.Data[1:msg.DataNum]...)
		c.frames[seq] = values
		c.total += len(values)
	}
	return c.Done()
}

// Done reports whether all requested values arrived.
func (c *pageCollector) Done() bool {
	return c.total >= c.count
}

// Values returns the received values in sequence order.
func (c *pageCollector) Values() []byte {
	seqs := make([]int, 0, len(c.frames))
	for seq := range c.frames {
		seqs = append(seqs, int(seq))
	}
	sort.Ints(seqs)

	var out []byte
	for _, seq := range seqs {
		out = append(out, c.frames[uint8(seq)]...)
	}
	return out
}

// exchange sends req and polls the link until match reports completion or
// the timeout expires.
func exchange(link *transport.StreamAdapter, req vscp.Message, match func(vscp.Message) bool) bool {
	if err := link.Write(req); err != nil {
		fmt.Fprintf(os.Stderr, "SEND FAILED: %v\n", err)
		os.Exit(2)
	}

	deadline := time.After(time.Duration(registerTimeout) * time.Second)
	poll := time.NewTicker(5 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-poll.C:
			for {
				msg, ok := link.Read()
				if !ok {
					break
				}
				if match(msg) {
					return true
				}
			}
		case <-link.Done():
			fmt.Fprintf(os.Stderr, "READ FAILED: %v\n", link.Err())
			os.Exit(2)
		case <-deadline:
			return false
		}
	}
}

func openRegisterLink() *transport.StreamAdapter {
	codec, err := selectCodec(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	link, connInfo, err := OpenLink(codec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("Connection: %s\n", connInfo)
	return link
}

// rwResponseFrom matches the RW_RESPONSE of target for reg.
func rwResponseFrom(target, reg uint8, value *uint8) func(vscp.Message) bool {
	return func(msg vscp.Message) bool {
		if msg.Class != vscp.ClassProtocol || msg.Type != vscp.TypeProtocolRWResponse ||
			msg.OriginAddr != target || msg.DataNum < 2 || msg.Data[0] != reg {
			return false
		}
		*value = msg.Data[1]
		return true
	}
}

func runRegisterRead(cmd *cobra.Command, args []string) error {
	reg, err := parseByte(args[0])
	if err != nil {
		return err
	}

	link := openRegisterLink()
	defer link.Close()

	var value uint8
	req := vscp.NewReadRegister(registerOrigin, registerTarget, reg)
	if !exchange(link, req, rwResponseFrom(registerTarget, reg, &value)) {
		fmt.Fprintf(os.Stderr, "TIMEOUT: node 0x%02X did not answer within %ds\n", registerTarget, registerTimeout)
		os.Exit(1)
	}

	fmt.Printf("0x%02X = 0x%02X (%d)\n", reg, value, value)
	return nil
}

func runRegisterWrite(cmd *cobra.Command, args []string) error {
	reg, err := parseByte(args[0])
	if err != nil {
		return err
	}
	value, err := parseByte(args[1])
	if err != nil {
		return err
	}

	link := openRegisterLink()
	defer link.Close()

	var result uint8
	req := vscp.NewWriteRegister(registerOrigin, registerTarget, reg, value)
	if !exchange(link, req, rwResponseFrom(registerTarget, reg, &result)) {
		fmt.Fprintf(os.Stderr, "TIMEOUT: node 0x%02X did not answer within %ds\n", registerTarget, registerTimeout)
		os.Exit(1)
	}

	fmt.Printf("0x%02X = 0x%02X (%d)\n", reg, result, result)
	if result != value {
		fmt.Printf("Register did not take the value 0x%02X (read-only or write protected)\n", value)
	}
	return nil
}

func runRegisterDump(cmd *cobra.Command, args []string) error {
	start, err := parseByte(args[0])
	if err != nil {
		return err
	}
	count, err := parseByte(args[1])
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("count must be at least 1")
	}
	if int(start)+int(count) > 0x100 {
		count = uint8(0x100 - int(start))
	}

	link := openRegisterLink()
	defer link.Close()

	collector := newPageCollector(registerTarget, int(count))
	req := vscp.NewPageRead(registerOrigin, registerTarget, start, count)
	if !exchange(link, req, collector.Add) && len(collector.Values()) == 0 {
		fmt.Fprintf(os.Stderr, "TIMEOUT: node 0x%02X did not answer within %ds\n", registerTarget, registerTimeout)
		os.Exit(1)
	}

	fmt.Print(formatRegisterDump(start, collector.Values()))
	return nil
}

// formatRegisterDump renders values as a hex table, eight registers a row.
func formatRegisterDump(start uint8, values []byte) string {
	var result string
	for i, v := range values {
		if i%8 == 0 {
			if i > 0 {
				result += "\n"
			}
			result += fmt.Sprintf("0x%02X:", int(start)+i)
		}
		result += fmt.Sprintf(" %02X", v)
	}
	if len(values) > 0 {
		result += "\n"
	}
	return result
}
