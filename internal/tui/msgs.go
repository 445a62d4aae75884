package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/HexSleeves/guesscard/internal/bus"
	"github.com/HexSleeves/guesscard/internal/game"
	"github.com/HexSleeves/guesscard/internal/transcript"
)

type TickMsg struct{ At time.Time }

type StartedMsg struct {
	Card          string
	Treatment     string
	MaxIterations int
}

type StateMsg struct {
	State     string
	Iteration int
}

type TurnMsg struct {
	Role      transcript.Role
	Text      string
	Iteration int
}

type DoneMsg struct {
	Reason     string
	Iterations int
	Summary    string
	Error      string
}

type LogMsg struct{ Text string }

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// FromBus converts a game bus message into a TUI message. ok is false for
// messages the view does not show.
func FromBus(msg bus.Message) (tea.Msg, bool) {
	switch p := msg.Payload.(type) {
	case game.StartedEvent:
		return StartedMsg{Card: p.Card.String(), Treatment: p.Treatment, MaxIterations: p.MaxIterations}, true
	case game.StateEvent:
		return StateMsg{State: p.State.String(), Iteration: p.Iteration}, true
	case game.TurnEvent:
		return TurnMsg{Role: p.Role, Text: p.Response, Iteration: p.Iteration}, true
	case game.EndedEvent:
		return DoneMsg{Reason: string(p.Reason), Iterations: p.Iterations, Summary: p.Summary}, true
	}
	if msg.Type == bus.MsgRunFailed {
		text, _ := msg.Payload.(string)
		return DoneMsg{Reason: "failed", Error: text}, true
	}
	return nil, false
}

// Forward relays the run's bus messages to s until the subscription is
// cancelled. Messages the run published before Forward was called are sent
// first.
func Forward(b *bus.MessageBus, runID string, s Sender) *bus.Subscription {
	relay := func(msg bus.Message) {
		if runID != "" && msg.RunID != runID {
			return
		}
		if m, ok := FromBus(msg); ok {
			s.Send(m)
		}
	}
	for _, msg := range b.History(0) {
		relay(msg)
	}
	return b.SubscribeAll(relay)
}

// LogWriter turns log output into LogMsg lines so logging does not tear the
// alt screen.
type LogWriter struct {
	s Sender
}

func NewLogWriter(s Sender) *LogWriter {
	return &LogWriter{s: s}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	for _, l := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if l != "" {
			w.s.Send(LogMsg{Text: l})
		}
	}
	return len(p), nil
}
