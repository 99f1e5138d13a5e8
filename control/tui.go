// Package control implements the bubbletea-based terminal control surface:
// a grid of tracks, a per-track parameter scope, and transport controls,
// standing in for the hardware button/encoder grid a physical loop
// sequencer would expose.
package control

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loopseq/engine"
)

var (
	primaryColor   = lipgloss.Color("#00FFFF")
	accentColor    = lipgloss.Color("#00FF00")
	dimColor       = lipgloss.Color("#666666")
	recordingColor = lipgloss.Color("#FF4444")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))

	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	trackIdleStyle = lipgloss.NewStyle().
			Width(12).
			Align(lipgloss.Center).
			Border(lipgloss.NormalBorder()).
			BorderForeground(dimColor)

	trackPlayingStyle = trackIdleStyle.Copy().
				Foreground(accentColor).
				BorderForeground(accentColor)

	trackRecordingStyle = trackIdleStyle.Copy().
				Bold(true).
				Foreground(recordingColor).
				BorderForeground(recordingColor)

	trackSelectedStyle = lipgloss.NewStyle().Foreground(primaryColor)

	paramStyle = lipgloss.NewStyle().Foreground(dimColor)
)

// tickMsg drives the periodic redraw; the model reads live state off the
// Engine on every tick rather than subscribing to it, since the terminal
// repaint rate (10Hz) and the engine's own tick rate (24 PPQN) need not be
// coupled.
type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the bubbletea model for the control surface. It never mutates
// the engine directly except through Track/Tempo/Param methods, which are
// all safe to call concurrently with the engine's own goroutines.
type Model struct {
	engine *engine.Engine

	selectedTrack int
	scope         bool // true: browsing per-track params instead of transport
	paramIndex    int
	shift         bool

	width, height int
	quitting      bool
	status        string
}

// NewModel builds a control surface bound to eng.
func NewModel(eng *engine.Engine) *Model {
	return &Model{engine: eng, width: 100, height: 30}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.EnterAltScreen)
}

func (m *Model) currentTrack() *engine.Track {
	if m.selectedTrack < 0 || m.selectedTrack >= len(m.engine.Tracks) {
		return nil
	}
	return m.engine.Tracks[m.selectedTrack]
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tickCmd()

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	tr := m.currentTrack()

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "esc":
		m.scope = false
		return m, nil

	case "f":
		// Stands in for a hardware Shift button (a coarse-step modifier on
		// the encoders): terminals don't deliver a bare modifier keypress,
		// so this is a toggle rather than a held key.
		m.shift = !m.shift
		return m, nil

	case "tab":
		m.scope = !m.scope
		return m, nil

	case "left":
		if m.scope {
			params := engine.TrackParams(tr)
			if len(params) > 0 {
				m.paramIndex = (m.paramIndex - 1 + len(params)) % len(params)
			}
			return m, nil
		}
		if m.selectedTrack > 0 {
			m.selectedTrack--
		}
		return m, nil

	case "right":
		if m.scope {
			params := engine.TrackParams(tr)
			if len(params) > 0 {
				m.paramIndex = (m.paramIndex + 1) % len(params)
			}
			return m, nil
		}
		if m.selectedTrack < len(m.engine.Tracks)-1 {
			m.selectedTrack++
		}
		return m, nil

	case "up", "down":
		delta := 1
		if msg.String() == "down" {
			delta = -1
		}
		if m.shift {
			delta *= 4
		}
		var params []engine.Param
		if m.scope && tr != nil {
			params = engine.TrackParams(tr)
		} else {
			params = engine.TempoParams(m.engine.Tempo)
		}
		if len(params) > 0 {
			params[m.paramIndex%len(params)].Cycle(delta)
		}
		return m, nil

	case "p":
		if tr != nil {
			tr.ScheduleRecord()
			m.status = fmt.Sprintf("track %d: record queued", tr.ID()+1)
		}
		return m, nil

	case "o":
		if tr != nil {
			tr.ScheduleStart()
			m.status = fmt.Sprintf("track %d: play queued", tr.ID()+1)
		}
		return m, nil

	case "s":
		if tr != nil {
			tr.ScheduleStop()
			m.status = fmt.Sprintf("track %d: stop queued", tr.ID()+1)
		}
		return m, nil

	case "c":
		if tr != nil {
			tr.Reset()
			m.status = fmt.Sprintf("track %d: cleared", tr.ID()+1)
		}
		return m, nil

	case "ctrl+s":
		if err := m.engine.Save(); err != nil {
			m.status = fmt.Sprintf("save failed: %v", err)
		} else {
			m.status = "state saved"
		}
		return m, nil
	}

	if n := trackButtonIndex(msg.String()); n >= 0 && n < len(m.engine.Tracks) {
		m.selectedTrack = n
		return m, nil
	}

	return m, nil
}

func trackButtonIndex(key string) int {
	if len(key) != 1 || key[0] < '1' || key[0] > '9' {
		return -1
	}
	return int(key[0] - '1')
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("loopseq"))
	b.WriteString("  ")
	b.WriteString(headerStyle.Render(fmt.Sprintf("bpm %d  bar %.0f", int(m.engine.Tempo.BPM()), m.engine.Tempo.Position()/m.engine.Tempo.BarSize()+1)))
	b.WriteString("\n\n")

	for i, tr := range m.engine.Tracks {
		style := trackIdleStyle
		switch tr.State() {
		case engine.Playing:
			style = trackPlayingStyle
		case engine.Recording:
			style = trackRecordingStyle
		}
		label := fmt.Sprintf("trk %d\n%.1f/%d", i+1, tr.Position(), tr.Bars())
		if i == m.selectedTrack {
			label = trackSelectedStyle.Render(label)
		}
		b.WriteString(style.Render(label))
		b.WriteString(" ")
	}
	b.WriteString("\n\n")

	tr := m.currentTrack()
	if m.scope && tr != nil {
		params := engine.TrackParams(tr)
		for i, p := range params {
			line := fmt.Sprintf("%-10s %s", p.Name, p.Get())
			if i == m.paramIndex {
				line = trackSelectedStyle.Render(line)
			} else {
				line = paramStyle.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	} else {
		b.WriteString(paramStyle.Render("tab: params   1-9: select track   p/o/s: record/play/stop   c: clear   f: shift   ctrl+s: save\n"))
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render(m.status))
	}

	return b.String()
}
