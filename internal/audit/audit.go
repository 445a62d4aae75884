// Package audit asks a model whether the guesser won a finished run and
// stores the answer as a label.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/HexSleeves/guesscard/internal/bus"
	"github.com/HexSleeves/guesscard/internal/transcript"
)

// DefaultModel is the model the labeler is built with unless configured.
const DefaultModel = "gpt-3.5-turbo"

// DefaultInterval spaces bulk labeling calls at four per minute.
const DefaultInterval = 15 * time.Second

var ErrNoTranscript = errors.New("run has no transcript rows")

// LabelParseError is returned when the audit model's answer is not a usable
// verdict. Nothing is stored for the run.
type LabelParseError struct {
	Response string
	Reason   string
}

func (e *LabelParseError) Error() string {
	return fmt.Sprintf("parse label: %s", e.Reason)
}

const promptTemplate = `# System
You are auditing the result of a conversation. The guesser or judge may lie or make a mistake.
The guesser must guess the card with the statement 'The card is a <value> of <suit>'.

# Conversation
%s

# Response Format
Use the following JSON structure for your response. Your response will be used by software, not a human.
` + "```" + `
{ guesser_won: bool, overview: str }
` + "```" + `

Did the guesser correctly guess the card to be the %s?`

// Prompt renders the audit prompt for a replayed conversation.
func Prompt(log, card string) string {
	return fmt.Sprintf(promptTemplate, log, card)
}

// Store is the part of the transcript store the labeler reads and writes.
type Store interface {
	RunRows(ctx context.Context, runID string) ([]transcript.Row, error)
	RunIDs(ctx context.Context, unlabeledOnly bool) ([]string, error)
	AppendLabel(ctx context.Context, label transcript.Label) (transcript.Label, error)
}

// Backend completes audit prompts.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Metadata() map[string]any
}

type Labeler struct {
	store   Store
	backend Backend
	limiter *rate.Limiter
	bus     *bus.MessageBus
	logger  *log.Logger
}

type Option func(*Labeler)

// WithLimiter replaces the limiter pacing bulk labeling.
func WithLimiter(l *rate.Limiter) Option {
	return func(lb *Labeler) { lb.limiter = l }
}

func WithBus(b *bus.MessageBus) Option {
	return func(lb *Labeler) { lb.bus = b }
}

func WithLogger(l *log.Logger) Option {
	return func(lb *Labeler) { lb.logger = l }
}

func NewLabeler(store Store, backend Backend, opts ...Option) *Labeler {
	lb := &Labeler{
		store:   store,
		backend: backend,
		limiter: rate.NewLimiter(rate.Every(DefaultInterval), 1),
		logger:  log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(lb)
	}
	return lb
}

func (lb *Labeler) model() string {
	if m, ok := lb.backend.Metadata()["model"].(string); ok {
		return m
	}
	return ""
}

// LabelRun audits one run and stores the verdict.
func (lb *Labeler) LabelRun(ctx context.Context, runID string) (transcript.Label, error) {
	rows, err := lb.store.RunRows(ctx, runID)
	if err != nil {
		return transcript.Label{}, fmt.Errorf("label run %s: %w", runID, err)
	}
	if len(rows) == 0 {
		return transcript.Label{}, fmt.Errorf("label run %s: %w", runID, ErrNoTranscript)
	}

	prompt := Prompt(transcript.Replay(rows), cardOf(rows))
	response, err := lb.backend.Complete(ctx, prompt)
	if err != nil {
		lb.publish(bus.MsgLabelFailed, runID, err.Error())
		return transcript.Label{}, fmt.Errorf("label run %s: %w", runID, err)
	}

	verdict, err := ParseVerdict(response)
	if err != nil {
		lb.publish(bus.MsgLabelFailed, runID, err.Error())
		return transcript.Label{}, fmt.Errorf("label run %s: %w", runID, err)
	}

	label, err := lb.store.AppendLabel(ctx, transcript.Label{
		RunID:   runID,
		Verdict: verdict,
		Context: prompt,
		Model:   lb.model(),
	})
	if err != nil {
		return transcript.Label{}, fmt.Errorf("label run %s: %w", runID, err)
	}
	lb.logger.Printf("[Audit] Labeled run %s guesser_won=%v", runID, verdict.GuesserWon)
	lb.publish(bus.MsgLabelCreated, runID, label)
	return label, nil
}

func cardOf(rows []transcript.Row) string {
	for _, r := range rows {
		if r.Card != "" {
			return r.Card
		}
	}
	return "unknown card"
}

func (lb *Labeler) publish(t bus.MsgType, runID string, payload any) {
	if lb.bus == nil {
		return
	}
	lb.bus.Publish(bus.Message{Type: t, RunID: runID, Payload: payload})
}

// ParseVerdict extracts {"guesser_won": bool, "overview": string} from a
// model answer. Surrounding prose and markdown fences are tolerated.
func ParseVerdict(response string) (transcript.Verdict, error) {
	raw := extractJSON(response)
	if raw == "" {
		return transcript.Verdict{}, &LabelParseError{Response: response, Reason: "no JSON object found"}
	}
	if !gjson.Valid(raw) {
		return transcript.Verdict{}, &LabelParseError{Response: response, Reason: "invalid JSON"}
	}

	won := gjson.Get(raw, "guesser_won")
	if won.Type != gjson.True && won.Type != gjson.False {
		return transcript.Verdict{}, &LabelParseError{Response: response, Reason: "guesser_won must be a boolean"}
	}
	overview := gjson.Get(raw, "overview")
	if overview.Type != gjson.String {
		return transcript.Verdict{}, &LabelParseError{Response: response, Reason: "overview must be a string"}
	}
	return transcript.Verdict{GuesserWon: won.Bool(), Overview: overview.String()}, nil
}

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			s = rest[:end]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
