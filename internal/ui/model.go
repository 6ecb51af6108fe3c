// ABOUTME: Bubbletea model for the monitor TUI
// ABOUTME: Renders connection, clock sync, and stream statistics
package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// StatusMsg updates TUI state. Pointer fields distinguish "unchanged" from
// zero values.
type StatusMsg struct {
	Connected  *bool
	Streaming  *bool
	ServerAddr string
	LastError  string

	ClockSynced   *bool
	ClockOffsetMs float64

	DeviceSynced   *bool
	DeviceOffsetMs float64
	DeviceStdDevMs float64

	Received       int64
	BufferDepth    int
	BufferCapacity int
	SamplingRateHz float64

	GazeX, GazeY float64
}

// Model represents the TUI state.
type Model struct {
	connected  bool
	streaming  bool
	serverAddr string
	lastError  string

	clockSynced   bool
	clockOffsetMs float64

	deviceSynced   bool
	deviceOffsetMs float64
	deviceStdDevMs float64

	received       int64
	bufferDepth    int
	bufferCapacity int
	samplingRateHz float64

	gazeX, gazeY float64

	showDebug bool
	width     int
	height    int
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.showDebug = !m.showDebug
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := titleStyle.Render("GazeLink Monitor") + "\n\n"
	s += m.renderConnection()
	s += m.renderSync()
	s += m.renderStream()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += dimStyle.Render("\nd:Debug  q:Quit\n")
	return s
}

func (m Model) renderConnection() string {
	status := badStyle.Render("Disconnected")
	if m.connected {
		status = okStyle.Render(fmt.Sprintf("Connected to %s", m.serverAddr))
	}

	s := fmt.Sprintf("Connection: %s\n", status)
	if m.lastError != "" {
		s += fmt.Sprintf("Last error: %s\n", warnStyle.Render(m.lastError))
	}
	return s
}

func (m Model) renderSync() string {
	clock := badStyle.Render("not synced")
	if m.clockSynced {
		clock = okStyle.Render(fmt.Sprintf("%+.2fms", m.clockOffsetMs))
	}

	device := badStyle.Render("not synced")
	if m.deviceSynced {
		device = okStyle.Render(fmt.Sprintf("%+.2fms (stddev %.2fms)", m.deviceOffsetMs, m.deviceStdDevMs))
	}

	return fmt.Sprintf("Server clock offset: %s\nDevice clock offset: %s\n", clock, device)
}

func (m Model) renderStream() string {
	if !m.streaming {
		return "Stream: " + dimStyle.Render("idle") + "\n"
	}

	return fmt.Sprintf("Stream: %s  %.1f Hz  gaze (%.3f, %.3f)\nBuffer: %d/%d samples  RX: %d\n",
		okStyle.Render("tracking"), m.samplingRateHz, m.gazeX, m.gazeY,
		m.bufferDepth, m.bufferCapacity, m.received)
}

func (m Model) renderDebug() string {
	return dimStyle.Render(fmt.Sprintf("\nDEBUG: clock=%+.3fms device=%+.3fms depth=%d\n",
		m.clockOffsetMs, m.deviceOffsetMs, m.bufferDepth))
}

// applyStatus merges a status update into the model.
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.Streaming != nil {
		m.streaming = *msg.Streaming
	}
	if msg.ServerAddr != "" {
		m.serverAddr = msg.ServerAddr
	}
	if msg.LastError != "" {
		m.lastError = msg.LastError
	}
	if msg.ClockSynced != nil {
		m.clockSynced = *msg.ClockSynced
		m.clockOffsetMs = msg.ClockOffsetMs
	}
	if msg.DeviceSynced != nil {
		m.deviceSynced = *msg.DeviceSynced
		m.deviceOffsetMs = msg.DeviceOffsetMs
		m.deviceStdDevMs = msg.DeviceStdDevMs
	}
	if msg.Received != 0 {
		m.received = msg.Received
		m.bufferDepth = msg.BufferDepth
		m.bufferCapacity = msg.BufferCapacity
		m.samplingRateHz = msg.SamplingRateHz
		m.gazeX = msg.GazeX
		m.gazeY = msg.GazeY
	}
}
