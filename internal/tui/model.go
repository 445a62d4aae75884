package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/HexSleeves/guesscard/internal/transcript"
)

const (
	maxLines     = 500
	tickInterval = time.Second
)

// Model is the Bubble Tea model for watching one game.
type Model struct {
	runID     string
	card      string
	treatment string

	lines []line

	// State
	iteration int
	maxIter   int
	state     string
	startTime time.Time
	done      bool
	reason    string
	finalMsg  string
	failed    bool

	// UI state
	width     int
	height    int
	scroll    int // offset from bottom
	showCard  bool
	quitting  bool
	elapsedAt time.Time
}

type line struct {
	role transcript.Role // empty for info lines
	text string
}

func New(runID string, maxIterations int) Model {
	now := time.Now()
	return Model{
		runID:     runID,
		maxIter:   maxIterations,
		state:     "not_started",
		startTime: now,
		elapsedAt: now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.WindowSize())
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg{At: t}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.scroll < len(m.lines)-1 {
				m.scroll++
			}
		case "down", "j":
			if m.scroll > 0 {
				m.scroll--
			}
		case "end", "G":
			m.scroll = 0
		case "c":
			m.showCard = !m.showCard
		default:
			// Any other key quits after done
			if m.done {
				m.quitting = true
				return m, tea.Quit
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		if !m.done {
			m.elapsedAt = msg.At
		}
		return m, tickCmd()

	case StartedMsg:
		m.card = msg.Card
		m.treatment = msg.Treatment
		if msg.MaxIterations > 0 {
			m.maxIter = msg.MaxIterations
		}
		m.addLine("", "Run "+m.runID+" treatment "+msg.Treatment)

	case StateMsg:
		m.state = msg.State
		m.iteration = msg.Iteration

	case TurnMsg:
		for _, l := range strings.Split(strings.TrimSpace(msg.Text), "\n") {
			m.addLine(msg.Role, l)
		}
		m.scroll = 0

	case DoneMsg:
		m.done = true
		m.state = "ended"
		m.iteration = msg.Iterations
		m.reason = msg.Reason
		m.failed = msg.Error != "" || msg.Reason == "aborted"
		m.finalMsg = msg.Summary
		if msg.Error != "" {
			m.finalMsg = msg.Error
		}
		m.addLine(transcript.RoleSystem, m.finalMsg)
		m.addLine("", "Press any key to exit...")
		m.scroll = 0
		return m, tickCmd()

	case LogMsg:
		m.addLine("", msg.Text)
		m.scroll = 0
	}

	return m, nil
}

func (m *Model) addLine(role transcript.Role, text string) {
	m.lines = append(m.lines, line{role: role, text: text})
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

// Done reports whether the game has ended.
func (m Model) Done() bool { return m.done }
