// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/nodeconfig"
	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/core"
	"github.com/Thermoquad/vscpnode/pkg/vscp/store"
	"github.com/Thermoquad/vscpnode/pkg/vscp/transport"
	"github.com/spf13/cobra"
)

const (
	simStep             = 10 * time.Millisecond
	simControllerPeriod = time.Second
	simSegmentCRC       = 0x5A
)

var (
	simNodes      int
	simController bool
	simStagger    int
	simMaxTime    time.Duration
	simVerbose    bool
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Simulate nickname discovery on an in-memory segment",
	Long: `Run several nodes on an in-memory segment until every node holds a nickname.

Time is simulated in 10 ms steps, so a discovery that takes a minute on a real
bus finishes instantly. Each node processes one message per step, the same as
a firmware node on its process tick.

With --controller a segment controller is added at nickname 0. It answers
probes for nickname 0, assigns nicknames with SET_NICKNAME and sends the
segment heartbeat. Nodes start --stagger steps apart so that only one node
waits for an assignment at a time.

Examples:
  vscpnode sim --nodes 8
  vscpnode sim --nodes 4 --controller --verbose`,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().IntVarP(&simNodes, "nodes", "n", 4, "Number of simulated nodes")
	simCmd.Flags().BoolVar(&simController, "controller", false, "Add a segment controller")
	simCmd.Flags().IntVar(&simStagger, "stagger", 20, "Steps between node starts")
	simCmd.Flags().DurationVar(&simMaxTime, "max-time", 5*time.Minute, "Simulated time limit")
	simCmd.Flags().BoolVarP(&simVerbose, "verbose", "v", false, "Log engine messages")
}

// segmentController is a minimal segment controller at nickname 0.
type segmentController struct {
	port     *transport.Port
	crc      uint8
	period   time.Duration
	taken    map[uint8]bool
	pending  int
	lastBeat time.Time
	beating  bool
}

func newSegmentController(port *transport.Port, crc uint8) *segmentController {
	return &segmentController{
		port:   port,
		crc:    crc,
		period: simControllerPeriod,
		taken:  map[uint8]bool{vscp.NicknameSegmentController: true},
	}
}

func (c *segmentController) step(now time.Time) {
	for {
		msg, ok := c.port.Read()
		if !ok {
			break
		}
		c.handle(msg)
	}

	for ; c.pending > 0; c.pending-- {
		if id, ok := c.allocate(); ok {
			c.port.Write(vscp.NewSetNickname(vscp.NicknameSegmentController, vscp.NicknameFree, id))
		}
	}

	if !c.beating || now.Sub(c.lastBeat) >= c.period {
		c.beating = true
		c.lastBeat = now
		c.port.Write(vscp.NewSegCtrlHeartbeat(vscp.NicknameSegmentController, c.crc, uint32(now.Unix())))
	}
}

func (c *segmentController) handle(msg vscp.Message) {
	if msg.Class != vscp.ClassProtocol || msg.DataNum == 0 {
		return
	}
	switch msg.Type {
	case vscp.TypeProtocolNewNodeOnline:
		if msg.OriginAddr != vscp.NicknameFree {
			c.taken[msg.OriginAddr] = true
			return
		}
		if msg.Data[0] == vscp.NicknameSegmentController {
			c.port.Write(vscp.NewProbeAck(vscp.NicknameSegmentController))
			c.pending++
		}
	case vscp.TypeProtocolNicknameAccepted:
		c.taken[msg.Data[0]] = true
	}
}

func (c *segmentController) allocate() (uint8, bool) {
	for id := 1; id < vscp.NicknameFree; id++ {
		if !c.taken[uint8(id)] {
			c.taken[uint8(id)] = true
			return uint8(id), true
		}
	}
	return 0, false
}

type simNode struct {
	guid    vscp.GUID
	opts    []core.Option
	muxOpts []transport.Option
	startAt int
	engine  *core.Engine
}

// simulation runs nodes and an optional controller on one segment under a
// simulated clock.
type simulation struct {
	segment    *transport.Segment
	nodes      []*simNode
	controller *segmentController
	now        time.Time
	round      int
}

// simGUID returns the GUID of simulated node i.
func simGUID(i int) vscp.GUID {
	guid := vscp.GUID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFE}
	guid[14] = byte((i + 1) >> 8)
	guid[15] = byte(i + 1)
	return guid
}

func newSimulation(nodes int, controller bool, stagger int, logger func(i int) core.Logger) *simulation {
	s := &simulation{
		segment: transport.NewSegment(nodeconfig.DefaultQueueSize),
		now:     time.Unix(1_700_000_000, 0),
	}
	clock := func() time.Time { return s.now }

	if controller {
		s.controller = newSegmentController(s.segment.Connect(), simSegmentCRC)
	}

	for i := 0; i < nodes; i++ {
		guid := simGUID(i)
		cfg := nodeconfig.Example(guid)

		opts := append(cfg.EngineOptions(),
			core.WithStore(store.NewMemory()),
			core.WithClock(clock),
		)
		if logger != nil {
			opts = append(opts, core.WithLogger(logger(i)))
		}

		s.nodes = append(s.nodes, &simNode{
			guid:    guid,
			opts:    opts,
			muxOpts: cfg.MultiplexerOptions(),
			startAt: i * stagger,
		})
	}
	return s
}

// Step advances the clock one step and runs the controller and every
// started node once. A node attaches to the segment when it starts, so it
// never sees traffic from before its power-on.
func (s *simulation) Step() {
	s.now = s.now.Add(simStep)

	if s.controller != nil {
		s.controller.step(s.now)
	}

	for _, n := range s.nodes {
		if n.engine == nil {
			if s.round < n.startAt {
				continue
			}
			n.engine = core.New(transport.NewMultiplexer(s.segment.Connect(), n.muxOpts...), n.opts...)
			if err := n.engine.Init(); err != nil {
				continue
			}
		}
		n.engine.Process()
	}
	s.round++
}

// Settled reports whether every node is active or has failed.
func (s *simulation) Settled() bool {
	for _, n := range s.nodes {
		if n.engine == nil {
			return false
		}
		switch n.engine.State() {
		case core.StateActive, core.StateError:
		default:
			return false
		}
	}
	return true
}

// Run steps until the segment settles or limit steps have run.
func (s *simulation) Run(limit int) bool {
	for i := 0; i < limit; i++ {
		s.Step()
		if s.Settled() {
			return true
		}
	}
	return false
}

// Elapsed returns the simulated time since the start.
func (s *simulation) Elapsed() time.Duration {
	return time.Duration(s.round) * simStep
}

// Duplicates returns nicknames held by more than one active node.
func (s *simulation) Duplicates() []uint8 {
	seen := make(map[uint8]int)
	var dups []uint8
	for _, n := range s.nodes {
		if n.engine == nil {
			continue
		}
		id, ok := n.engine.NicknameID().Get()
		if !ok {
			continue
		}
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}

func runSim(cmd *cobra.Command, args []string) error {
	if simNodes < 1 || simNodes >= vscp.NicknameFree {
		return fmt.Errorf("--nodes must be between 1 and %d", vscp.NicknameFree-1)
	}
	if simStagger < 0 {
		return fmt.Errorf("--stagger must not be negative")
	}

	var logger func(i int) core.Logger
	if simVerbose {
		logger = func(i int) core.Logger {
			return newStdLogger(log.New(os.Stderr, fmt.Sprintf("node%-3d ", i), 0), true)
		}
	}

	sim := newSimulation(simNodes, simController, simStagger, logger)

	fmt.Printf("vscpnode - Segment Simulation\n")
	fmt.Printf("Nodes: %d, segment controller: %t\n\n", simNodes, simController)

	settled := sim.Run(int(simMaxTime / simStep))

	fmt.Printf("%-5s %-47s %-9s %s\n", "NODE", "GUID", "NICKNAME", "STATE")
	for i, n := range sim.nodes {
		if n.engine == nil {
			fmt.Printf("%-5d %-47s %-9s %s\n", i, n.guid, "-", "NOT_STARTED")
			continue
		}
		fmt.Printf("%-5d %-47s %-9s %s\n", i, n.guid, n.engine.NicknameID(), n.engine.State())
	}

	fmt.Printf("\nSimulated time: %s\n", sim.Elapsed())
	if !settled {
		return fmt.Errorf("segment did not settle within %s", simMaxTime)
	}
	if dups := sim.Duplicates(); len(dups) > 0 {
		return fmt.Errorf("duplicate nicknames: %v", dups)
	}
	return nil
}
