// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/nodeconfig"
	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/core"
	"github.com/Thermoquad/vscpnode/pkg/vscp/host"
	"github.com/Thermoquad/vscpnode/pkg/vscp/store"
	"github.com/Thermoquad/vscpnode/pkg/vscp/transport"
	"github.com/spf13/cobra"
)

var (
	nodeGUID    string
	nodeTUI     bool
	nodeVerbose bool
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a VSCP Level I node on the bus",
	Long: `Run a complete VSCP Level I node.

The node loads its identity from the configuration file and its persisted
state (nickname, zone, user id, control flags) from the store, claims a
nickname on the segment and then answers protocol requests, sends the
periodic heartbeat and prints every event it receives.

Press Enter to drop the nickname and start segment initialization, the same
as holding the init button on a hardware node.

Without --config a throwaway node is run from --guid with in-memory storage.

Examples:
  vscpnode node --config node.yaml --port /dev/ttyACM0 --framing slcan
  vscpnode node --guid FF:FF:FF:FF:FF:FF:FF:FE:00:00:00:00:00:00:00:01 --url ws://bridge.local/vscp --tui`,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.Flags().StringVar(&nodeGUID, "guid", "", "Node GUID when running without --config")
	nodeCmd.Flags().BoolVar(&nodeTUI, "tui", false, "Show an interactive status display")
	nodeCmd.Flags().BoolVarP(&nodeVerbose, "verbose", "v", false, "Log debug messages")
}

// nodeRig is one node wired to a live link.
type nodeRig struct {
	cfg      *nodeconfig.Config
	store    core.Store
	link     *transport.StreamAdapter
	mux      *transport.Multiplexer
	engine   *core.Engine
	connInfo string
}

func loadNodeConfig() (*nodeconfig.Config, error) {
	if configPath != "" {
		return nodeconfig.Load(configPath)
	}
	if nodeGUID == "" {
		return nil, errors.New("either --config or --guid must be specified")
	}
	guid, err := vscp.ParseGUID(nodeGUID)
	if err != nil {
		return nil, fmt.Errorf("invalid --guid: %w", err)
	}
	return nodeconfig.Example(guid), nil
}

// openNodeStore opens the configured store and seeds it from the
// configuration.
func openNodeStore(cfg *nodeconfig.Config) (core.Store, error) {
	var st core.Store
	if cfg.Store.Path == nodeconfig.StoreMemory {
		st = store.NewMemory()
	} else {
		f, err := store.OpenFile(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		st = f
	}
	if err := cfg.Seed(st); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}
	return st, nil
}

// buildNode opens the link and creates an engine on it. The engine is not
// initialized yet.
func buildNode(cfg *nodeconfig.Config, logger core.Logger, opts ...core.Option) (*nodeRig, error) {
	st, err := openNodeStore(cfg)
	if err != nil {
		return nil, err
	}

	codec, err := selectCodec(cfg)
	if err != nil {
		return nil, err
	}

	link, connInfo, err := OpenLink(codec, cfg.StreamOptions()...)
	if err != nil {
		return nil, err
	}

	mux := transport.NewMultiplexer(link, cfg.MultiplexerOptions()...)

	engineOpts := append(cfg.EngineOptions(),
		core.WithStore(st),
		core.WithLogger(logger),
		core.WithAppRegisters(core.NewMemoryRegisters()),
	)
	engineOpts = append(engineOpts, opts...)

	return &nodeRig{
		cfg:      cfg,
		store:    st,
		link:     link,
		mux:      mux,
		engine:   core.New(mux, engineOpts...),
		connInfo: connInfo,
	}, nil
}

// pulseButton reports pressed for a fixed number of polls after Trigger,
// long enough to pass the runner's debounce.
type pulseButton struct {
	remaining atomic.Int32
}

func (b *pulseButton) Trigger() {
	b.remaining.Store(host.DefaultDebounce)
}

func (b *pulseButton) Pressed() bool {
	for {
		n := b.remaining.Load()
		if n <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// watchEnter triggers the button on every line read from r.
func watchEnter(r io.Reader, button *pulseButton) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		button.Trigger()
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadNodeConfig()
	if err != nil {
		return err
	}

	if nodeTUI {
		return runNodeTUI(cfg)
	}

	logger := newStdLogger(log.Default(), nodeVerbose)

	printEvent := func(msg vscp.Message) {
		timestamp := time.Now().Format("15:04:05.000")
		fmt.Printf("[%s] %s", timestamp, vscp.FormatMessage(msg))
	}

	var rig *nodeRig
	printStatus := func(prev, next core.State) {
		timestamp := time.Now().Format("15:04:05.000")
		fmt.Printf("[%s] [STATE] %s -> %s (nickname %s)\n", timestamp, prev, next, rig.engine.NicknameID())
	}

	rig, err = buildNode(cfg, logger,
		core.WithEventHandler(printEvent),
		core.WithStatusHandler(printStatus),
	)
	if err != nil {
		return err
	}
	defer rig.link.Close()

	fmt.Printf("vscpnode - Level I Node\n")
	fmt.Printf("Connection: %s\n", rig.connInfo)
	fmt.Printf("GUID: %s\n", cfg.Node.GUID)
	fmt.Printf("Store: %s\n", cfg.Store.Path)
	fmt.Printf("Press Enter to start segment initialization, Ctrl+C to exit\n\n")

	if err := rig.engine.Init(); err != nil {
		return fmt.Errorf("node init failed: %w", err)
	}

	button := &pulseButton{}
	go watchEnter(os.Stdin, button)

	runnerOpts := append(cfg.RunnerOptions(),
		host.WithButton(button),
		host.WithLogger(logger),
	)
	runner := host.NewRunner(rig.engine, runnerOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		select {
		case <-rig.link.Done():
			if err := rig.link.Err(); err != nil {
				log.Printf("Connection lost: %v", err)
			}
			stop()
		case <-ctx.Done():
		}
	}()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("\nTransmit errors: %d, dropped frames: %d, decode errors: %d\n",
		rig.mux.TakeTxErrors(), rig.link.Dropped(), rig.link.DecodeErrors())
	return nil
}
