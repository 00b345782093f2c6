// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/nodeconfig"
	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/core"
	"github.com/Thermoquad/vscpnode/pkg/vscp/host"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type nodeLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// nodeFeed collects what the engine reports from inside Process. The TUI
// drives Process from Update, so no locking is needed.
type nodeFeed struct {
	entries    []nodeLogEntry
	maxEntries int
	green, red bool
}

func (f *nodeFeed) add(message string, isError bool) {
	f.entries = append(f.entries, nodeLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(f.entries) > f.maxEntries {
		f.entries = f.entries[len(f.entries)-f.maxEntries:]
	}
}

// tuiLogger routes engine log lines into the event log.
type tuiLogger struct {
	feed    *nodeFeed
	verbose bool
}

func (l tuiLogger) Debug(msg string, kv ...interface{}) {
	if l.verbose {
		l.feed.add(formatLogLine("DEBUG", msg, kv), false)
	}
}

func (l tuiLogger) Info(msg string, kv ...interface{}) {
	l.feed.add(formatLogLine("INFO", msg, kv), false)
}

func (l tuiLogger) Error(msg string, kv ...interface{}) {
	l.feed.add(formatLogLine("ERROR", msg, kv), true)
}

// TUI model
type nodeModel struct {
	rig    *nodeRig
	runner *host.Runner
	button *pulseButton
	feed   *nodeFeed

	processPeriod time.Duration
	lampPeriod    time.Duration

	spinner  spinner.Model
	viewport viewport.Model
	input    textinput.Model
	typing   bool

	txErrors uint64
	alarm    uint8
	linkLost bool

	width    int
	height   int
	quitting bool
}

// Messages
type nodeTickMsg time.Time
type lampTickMsg time.Time

func runNodeTUI(cfg *nodeconfig.Config) error {
	feed := &nodeFeed{maxEntries: 200}
	logger := tuiLogger{feed: feed, verbose: nodeVerbose}

	onEvent := func(msg vscp.Message) {
		feed.add(strings.TrimSuffix(vscp.FormatMessage(msg), "\n"), false)
	}
	onStatus := func(prev, next core.State) {
		feed.add(fmt.Sprintf("State %s -> %s", prev, next), next == core.StateError)
	}

	rig, err := buildNode(cfg, logger,
		core.WithEventHandler(onEvent),
		core.WithStatusHandler(onStatus),
	)
	if err != nil {
		return err
	}
	defer rig.link.Close()

	if err := rig.engine.Init(); err != nil {
		return fmt.Errorf("node init failed: %w", err)
	}

	button := &pulseButton{}
	lamps := host.WithLamps(
		host.PinFunc(func(on bool) { feed.green = on }),
		host.PinFunc(func(on bool) { feed.red = on }),
	)
	runnerOpts := append(cfg.RunnerOptions(), host.WithButton(button), host.WithLogger(logger), lamps)
	runner := host.NewRunner(rig.engine, runnerOpts...)

	m := initialNodeModel(rig, runner, button, feed)
	m.processPeriod = time.Duration(cfg.Runner.ProcessPeriodMs) * time.Millisecond
	m.lampPeriod = time.Duration(cfg.Runner.LampPeriodMs) * time.Millisecond

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func initialNodeModel(rig *nodeRig, runner *host.Runner, button *pulseButton, feed *nodeFeed) nodeModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	ti := textinput.New()
	ti.Placeholder = "class type [data ...]  e.g. 20 3 0 1 2"
	ti.CharLimit = 64
	ti.Width = 50

	vp := viewport.New(76, 10)

	return nodeModel{
		rig:           rig,
		runner:        runner,
		button:        button,
		feed:          feed,
		processPeriod: host.DefaultProcessPeriod,
		lampPeriod:    host.DefaultLampPeriod,
		spinner:       sp,
		viewport:      vp,
		input:         ti,
		width:         80,
		height:        24,
	}
}

func (m nodeModel) Init() tea.Cmd {
	return tea.Batch(
		m.nodeTickCmd(),
		m.lampTickCmd(),
		m.spinner.Tick,
	)
}

func (m nodeModel) nodeTickCmd() tea.Cmd {
	return tea.Tick(m.processPeriod, func(t time.Time) tea.Msg {
		return nodeTickMsg(t)
	})
}

func (m nodeModel) lampTickCmd() tea.Cmd {
	return tea.Tick(m.lampPeriod, func(t time.Time) tea.Msg {
		return lampTickMsg(t)
	})
}

func (m nodeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.typing {
			return m.handleInputKey(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "i", "enter":
			m.button.Trigger()
		case "a":
			m.alarm |= 0x01
			m.rig.engine.SetAlarm(0x01)
			m.feed.add("Alarm raised", false)
		case "s":
			m.typing = true
			m.input.SetValue("")
			return m, m.input.Focus()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = max(msg.Height-18, 5)

	case nodeTickMsg:
		if err := m.runner.Tick(); err != nil {
			m.feed.add(fmt.Sprintf("Process failed: %v", err), true)
		}
		m.txErrors += uint64(m.rig.mux.TakeTxErrors())
		if !m.linkLost {
			select {
			case <-m.rig.link.Done():
				m.linkLost = true
				m.feed.add(fmt.Sprintf("Connection lost: %v", m.rig.link.Err()), true)
			default:
			}
		}
		m.refreshLog()
		return m, m.nodeTickCmd()

	case lampTickMsg:
		m.runner.LampTick()
		return m, m.lampTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m nodeModel) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.typing = false
		m.input.Blur()
		return m, nil
	case "enter":
		m.typing = false
		m.input.Blur()
		m.sendEvent(m.input.Value())
		m.refreshLog()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// sendEvent transmits an event typed as "class type [data ...]".
func (m *nodeModel) sendEvent(spec string) {
	class, typ, data, err := parseEventSpec(spec)
	if err != nil {
		m.feed.add(fmt.Sprintf("Invalid event: %v", err), true)
		return
	}

	tx := m.rig.engine.PrepareTxMessage(class, typ, vscp.PriorityNormal)
	if err := tx.SetData(data...); err != nil {
		m.feed.add(fmt.Sprintf("Invalid event: %v", err), true)
		return
	}
	if err := m.rig.engine.SendEvent(tx); err != nil {
		m.feed.add(fmt.Sprintf("Send failed: %v", err), true)
		return
	}
	m.feed.add(fmt.Sprintf("Sent %s.%s", vscp.FormatClass(class), vscp.FormatType(class, typ)), false)
}

// parseEventSpec parses "class type [data ...]". Numbers accept Go literal
// prefixes such as 0x.
func parseEventSpec(spec string) (uint16, uint8, []byte, error) {
	fields := strings.Fields(spec)
	if len(fields) < 2 {
		return 0, 0, nil, errors.New("need class and type")
	}

	class, err := strconv.ParseUint(fields[0], 0, 16)
	if err != nil || class > vscp.MaxLevel1 {
		return 0, 0, nil, fmt.Errorf("class %q is not a Level I class", fields[0])
	}
	typ, err := strconv.ParseUint(fields[1], 0, 8)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("type %q: %w", fields[1], err)
	}
	if len(fields)-2 > vscp.MaxData {
		return 0, 0, nil, fmt.Errorf("at most %d data bytes", vscp.MaxData)
	}

	data := make([]byte, 0, len(fields)-2)
	for _, f := range fields[2:] {
		b, err := strconv.ParseUint(f, 0, 8)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("data byte %q: %w", f, err)
		}
		data = append(data, byte(b))
	}
	return uint16(class), uint8(typ), data, nil
}

func (m *nodeModel) refreshLog() {
	atBottom := m.viewport.AtBottom()

	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	timeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	var b strings.Builder
	for _, entry := range m.feed.entries {
		line := entry.message
		if entry.isError {
			line = errorStyle.Render(line)
		}
		b.WriteString(timeStyle.Render(entry.timestamp.Format("15:04:05.000")))
		b.WriteString(" ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m nodeModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	engine := m.rig.engine

	var s strings.Builder
	s.WriteString(titleStyle.Render("VSCPNODE - LEVEL I NODE"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Press 'q' to quit", m.rig.connInfo)))
	s.WriteString("\n\n")

	// Node status
	state := engine.State()
	var stateText string
	switch state {
	case core.StateActive:
		stateText = valueStyle.Render(state.String())
	case core.StateInitializing:
		stateText = m.spinner.View() + warningStyle.Render(fmt.Sprintf("%s (probing 0x%02X)", state, engine.DiscoveryCandidate()))
	case core.StateError:
		stateText = errorStyle.Render(state.String())
	default:
		stateText = warningStyle.Render(state.String())
	}

	lamp := func(on bool, color string) string {
		if on {
			return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render("●")
		}
		return headerStyle.Render("○")
	}

	var status strings.Builder
	status.WriteString(fmt.Sprintf("%s %s   %s %s %s\n",
		labelStyle.Render("State:"), stateText,
		labelStyle.Render("Lamps:"), lamp(m.feed.green, "10"), lamp(m.feed.red, "9"),
	))
	status.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Nickname:"), valueStyle.Render(engine.NicknameID().String()),
		labelStyle.Render("Zone:"), valueStyle.Render(fmt.Sprintf("%d/%d", engine.Zone(), engine.SubZone())),
		labelStyle.Render("Segment time:"), valueStyle.Render(fmt.Sprintf("%d", engine.SegmentTime())),
	))
	status.WriteString(fmt.Sprintf("%s %s\n",
		labelStyle.Render("GUID:"), valueStyle.Render(engine.GUID().String()),
	))

	alarmText := valueStyle.Render("0x00")
	if m.alarm != 0 {
		alarmText = warningStyle.Render(fmt.Sprintf("0x%02X raised", m.alarm))
	}
	txText := valueStyle.Render("0")
	if m.txErrors > 0 {
		txText = errorStyle.Render(fmt.Sprintf("%d", m.txErrors))
	}
	status.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("Alarm:"), alarmText,
		labelStyle.Render("Tx errors:"), txText,
		labelStyle.Render("Dropped:"), valueStyle.Render(fmt.Sprintf("%d", m.rig.link.Dropped())),
		labelStyle.Render("Decode errors:"), valueStyle.Render(fmt.Sprintf("%d", m.rig.link.DecodeErrors())),
	))

	s.WriteString(boxStyle.Render(status.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Event Log:"))
	s.WriteString("\n")
	if len(m.feed.entries) == 0 {
		s.WriteString(boxStyle.Render(headerStyle.Render("No events yet")))
	} else {
		s.WriteString(boxStyle.Render(m.viewport.View()))
	}
	s.WriteString("\n")

	if m.typing {
		s.WriteString(labelStyle.Render("Send event: "))
		s.WriteString(m.input.View())
		s.WriteString("\n")
		s.WriteString(headerStyle.Render("enter send • esc cancel"))
	} else {
		s.WriteString(headerStyle.Render("i init button • a raise alarm • s send event • ↑/↓ scroll • q quit"))
	}

	return s.String()
}
