// Package tui renders the interactive timer frontend on top of an attached
// client session.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/focusd/focusd/internal/client"
	"github.com/focusd/focusd/internal/protocol"
)

var (
	styleTime = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#f9fafb"))
	styleBreak = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#22c55e"))
	stylePaused = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d97706"))
	styleDimmed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6b7280"))
	styleFrame = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4b5563")).
			Padding(0, 2)
)

type eventMsg client.Event

type sessionClosedMsg struct{}

// waitEvent blocks for the next session event. Re-issued after every
// delivery, mirroring a read loop.
func waitEvent(s *client.Session) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-s.Events()
		if !ok {
			return sessionClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Model is the root Bubble Tea model.
type Model struct {
	session *client.Session
	keys    KeyMap
	width   int
	height  int

	view *protocol.ViewState
	bar  progress.Model

	// Phase progress denominator, in seconds. The wire only carries the
	// remaining time, so the total is the largest remaining seen since the
	// last phase change.
	phaseLabel string
	phaseTotal int

	// Exit state, inspected via Result after the program returns.
	farewell string
	err      error
}

// New creates the root model over an attached session.
func New(session *client.Session) *Model {
	return &Model{
		session: session,
		keys:    DefaultKeyMap(),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// Init starts consuming session events.
func (m *Model) Init() tea.Cmd {
	return waitEvent(m.session)
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if w := msg.Width - 8; w > 0 && w < m.bar.Width {
			m.bar.Width = w
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		if msg.Quit {
			m.farewell = "server stopped"
			return m, tea.Quit
		}
		m.view = msg.View
		m.trackPhase(*msg.View)
		return m, waitEvent(m.session)

	case sessionClosedMsg:
		if err := m.session.Err(); err != nil {
			m.err = fmt.Errorf("connection lost: %w", err)
		} else if m.farewell == "" {
			m.farewell = "detached, timer keeps running"
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.farewell = "server stopped"
		m.session.Send(protocol.MsgQuit)
		return m, nil

	case key.Matches(msg, m.keys.Detach):
		m.farewell = "detached, timer keeps running"
		m.session.Send(protocol.MsgDetach)
		return m, nil

	case key.Matches(msg, m.keys.PlayPause):
		m.session.Send(protocol.MsgPlayPause)
		return m, nil

	case key.Matches(msg, m.keys.Skip):
		m.session.Send(protocol.MsgSkip)
		return m, nil

	case key.Matches(msg, m.keys.Reset):
		m.session.Send(protocol.MsgReset)
		return m, nil

	case key.Matches(msg, m.keys.Postpone):
		m.session.Send(protocol.MsgPostponeBreak)
		return m, nil
	}

	return m, nil
}

// trackPhase maintains the progress denominator across ticks. A label
// change or a remaining time that grew means a new phase started.
func (m *Model) trackPhase(v protocol.ViewState) {
	label := phaseLabel(v)
	secs := parseClock(v.Time)
	if label != m.phaseLabel || secs > m.phaseTotal {
		m.phaseLabel = label
		m.phaseTotal = secs
	}
}

func (m *Model) percentDone() float64 {
	if m.view == nil || m.phaseTotal == 0 {
		return 0
	}
	return 1 - float64(parseClock(m.view.Time))/float64(m.phaseTotal)
}

// View renders the full timer display.
func (m *Model) View() string {
	if m.view == nil {
		return styleDimmed.Render("connecting...")
	}
	v := *m.view

	label := phaseLabel(v)
	labelStyle := styleTime
	switch {
	case v.IsPostponed:
		labelStyle = stylePaused
	case v.IsBreak:
		labelStyle = styleBreak
	}

	state := ""
	if v.IsPaused {
		state = stylePaused.Render("  paused")
	}

	body := lipgloss.JoinVertical(lipgloss.Center,
		labelStyle.Render(label)+styleDimmed.Render(fmt.Sprintf("  round %d", v.Round)),
		styleTime.Render(v.Time)+state,
		m.bar.ViewAs(m.percentDone()),
	)

	help := styleDimmed.Render("space:play/pause  s:skip  r:reset  p:postpone  d:detach  q:stop")

	return lipgloss.JoinVertical(lipgloss.Left, styleFrame.Render(body), help)
}

func phaseLabel(v protocol.ViewState) string {
	switch {
	case v.IsPostponed:
		return fmt.Sprintf("postponed break (%d)", v.PostponeCount)
	case v.IsBreak:
		return "break"
	}
	return "focus"
}

// parseClock reads an "MM:SS" display time back into seconds. The display
// string is the only remaining-time information on the wire.
func parseClock(s string) int {
	mm, ss, ok := strings.Cut(s, ":")
	if !ok {
		return 0
	}
	var min, sec int
	if _, err := fmt.Sscanf(mm, "%d", &min); err != nil {
		return 0
	}
	if _, err := fmt.Sscanf(ss, "%d", &sec); err != nil {
		return 0
	}
	return min*60 + sec
}

// Result reports how the program ended: a farewell line for clean exits, a
// non-nil error otherwise.
func (m *Model) Result() (string, error) {
	return m.farewell, m.err
}
