package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/HexSleeves/guesscard/internal/transcript"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	judgeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	guesserStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("156"))
	systemStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	infoStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	borderStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
)

func roleStyle(r transcript.Role) lipgloss.Style {
	switch r {
	case transcript.RoleJudge:
		return judgeStyle
	case transcript.RoleGuesser:
		return guesserStyle
	case transcript.RoleSystem:
		return systemStyle
	}
	return infoStyle
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	width := m.width
	if width <= 0 {
		width = 80
	}
	height := m.height
	if height <= 0 {
		height = 24
	}

	header := m.renderHeader()
	footer := m.renderFooter()
	bodyHeight := height - lipgloss.Height(header) - lipgloss.Height(footer) - 2
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	body := borderStyle.Width(width - 2).Height(bodyHeight).Render(m.renderLines(bodyHeight, width-6))

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("Guess the Card")
	run := statusStyle.Render("run " + m.runID)
	if m.treatment != "" {
		run += statusStyle.Render("  treatment " + m.treatment)
	}
	card := statusStyle.Render("  card hidden (c)")
	if m.showCard && m.card != "" {
		card = statusStyle.Render("  card " + m.card)
	}
	return title + "  " + run + card
}

func (m Model) renderFooter() string {
	elapsed := m.elapsedAt.Sub(m.startTime).Truncate(time.Second)
	status := fmt.Sprintf("iteration %d/%d  state %s  %s", m.iteration, m.maxIter, m.state, elapsed)
	if m.done {
		verdict := okStyle.Render("ended: " + m.reason)
		if m.failed {
			verdict = errorStyle.Render("ended: " + m.reason)
		}
		return verdict + "  " + statusStyle.Render(status)
	}
	return statusStyle.Render(status + "  ↑/↓ scroll  q quit")
}

func (m Model) renderLines(height, width int) string {
	if len(m.lines) == 0 {
		return infoStyle.Render("Waiting for the first turn...")
	}

	end := len(m.lines) - m.scroll
	if end < 0 {
		end = 0
	}
	start := end - height
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for i, l := range m.lines[start:end] {
		if i > 0 {
			b.WriteByte('\n')
		}
		text := l.text
		if l.role != "" {
			text = l.role.Pretty() + " " + text
		}
		if width > 1 {
			text = runewidth.Truncate(text, width, "…")
		}
		b.WriteString(roleStyle(l.role).Render(text))
	}
	return b.String()
}
