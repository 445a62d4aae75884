package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Row is one immutable record of an agent turn or a system event.
type Row struct {
	ID           string
	RunID        string
	RunStartedAt time.Time
	Role         Role
	Card         string
	LLM          json.RawMessage
	Response     string
	Context      string
	Treatment    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// String is the replay line for the row.
func (r Row) String() string {
	return fmt.Sprintf("%s %s", r.Role.Pretty(), strings.TrimSpace(r.Response))
}

// Replay joins rows into the canonical replay log. Rows must already be in
// creation order.
func Replay(rows []Row) string {
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n")
}

// Verdict is the auditor's structured judgement of a run.
type Verdict struct {
	GuesserWon bool   `json:"guesser_won"`
	Overview   string `json:"overview"`
}

// Label is one audit of a run. A run may have many.
type Label struct {
	ID        string
	RunID     string
	Verdict   Verdict
	Context   string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunSummary aggregates a run for listings.
type RunSummary struct {
	RunID     string
	StartedAt time.Time
	Card      string
	Treatment string
	Rows      int
	Labels    int
	LastEvent string
}
