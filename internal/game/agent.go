package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HexSleeves/guesscard/internal/buffer"
	"github.com/HexSleeves/guesscard/internal/transcript"
)

// ErrPersistence marks a turn whose completion succeeded but whose
// transcript row could not be written.
var ErrPersistence = errors.New("persist transcript row")

// Backend is what an Agent needs from a chat backend.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Dialect() buffer.Dialect
	Metadata() map[string]any
}

// Sink receives transcript rows. *store.Store satisfies it.
type Sink interface {
	AppendRow(ctx context.Context, row transcript.Row) (transcript.Row, error)
}

// Run identifies one game.
type Run struct {
	ID        string
	StartedAt time.Time
}

// NewRun returns a run with a time-based id.
func NewRun() (Run, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return Run{}, fmt.Errorf("new run id: %w", err)
	}
	return Run{ID: id.String(), StartedAt: time.Now().UTC()}, nil
}

// Agent is one player: a buffer, a backend, and a transcript sink.
type Agent struct {
	role      transcript.Role
	run       Run
	buf       *buffer.Buffer
	backend   Backend
	sink      Sink
	card      string
	treatment string
}

func NewAgent(role transcript.Role, run Run, backend Backend, sink Sink, retention buffer.Retention, card Card, treatment string) *Agent {
	return &Agent{
		role:      role,
		run:       run,
		buf:       buffer.New(backend.Dialect(), retention),
		backend:   backend,
		sink:      sink,
		card:      card.String(),
		treatment: treatment,
	}
}

func (a *Agent) Role() transcript.Role { return a.role }

// Buffer exposes the agent's conversation for seeding and inspection.
func (a *Agent) Buffer() *buffer.Buffer { return a.buf }

// Send runs one turn: incoming is added as a human message, the rendered
// buffer is completed, the reply is added as an assistant message and the
// turn is persisted. A failed turn leaves the buffer as it was.
func (a *Agent) Send(ctx context.Context, incoming string) (string, error) {
	snap := a.buf.Snapshot()

	a.buf.AddHuman(incoming)
	out, err := a.backend.Complete(ctx, a.buf.Render())
	if err != nil {
		a.buf.Restore(snap)
		return "", fmt.Errorf("%s turn: %w", a.role, err)
	}
	a.buf.AddAssistant(out)

	meta, err := json.Marshal(a.backend.Metadata())
	if err != nil {
		a.buf.Restore(snap)
		return "", fmt.Errorf("%w: %s turn: encode llm metadata: %w", ErrPersistence, a.role, err)
	}

	_, err = a.sink.AppendRow(ctx, transcript.Row{
		RunID:        a.run.ID,
		RunStartedAt: a.run.StartedAt,
		Role:         a.role,
		Card:         a.card,
		LLM:          meta,
		Response:     out,
		Context:      a.buf.Render(),
		Treatment:    a.treatment,
	})
	if err != nil {
		a.buf.Restore(snap)
		return "", fmt.Errorf("%w: %s turn: %w", ErrPersistence, a.role, err)
	}
	return out, nil
}
