// Package game runs Guess the Card between a judge agent and a guesser agent.
package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"strings"

	"github.com/HexSleeves/guesscard/internal/buffer"
	"github.com/HexSleeves/guesscard/internal/bus"
	"github.com/HexSleeves/guesscard/internal/llm"
	"github.com/HexSleeves/guesscard/internal/transcript"
)

const (
	DefaultMaxIterations = 15

	// EOFToken is what the judge says once the card has been guessed.
	EOFToken = "EOF"
)

type State int

const (
	StateNotStarted State = iota
	StateJudgePrimed
	StateGuesserPrimed
	StateJudging
	StateGuessing
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateJudgePrimed:
		return "judge_primed"
	case StateGuesserPrimed:
		return "guesser_primed"
	case StateJudging:
		return "judging"
	case StateGuessing:
		return "guessing"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Reason string

const (
	ReasonEOF           Reason = "eof"
	ReasonMaxIterations Reason = "max_iterations"
	ReasonTimeout       Reason = "timeout"
	ReasonAborted       Reason = "aborted"
)

// Result describes a finished game.
type Result struct {
	RunID      string
	Card       Card
	Treatment  string
	Reason     Reason
	Iterations int
	Summary    string // text of the closing system row
}

// Bus payloads.
type (
	StartedEvent struct {
		Card          Card
		Treatment     string
		MaxIterations int
	}
	StateEvent struct {
		State     State
		Iteration int
	}
	TurnEvent struct {
		Role      transcript.Role
		Response  string
		Iteration int
	}
	EndedEvent struct {
		Reason     Reason
		Iterations int
		Summary    string
	}
)

type Config struct {
	Judge   Backend
	Guesser Backend
	Sink    Sink

	Card          *Card // nil draws from the deck
	Treatment     string
	MaxIterations int

	Rand    *rand.Rand
	Bus     *bus.MessageBus
	Logger  *log.Logger
	Verbose bool
}

// Game is a single run. It is not safe for concurrent use; play several
// games at once with PlayMany.
type Game struct {
	run       Run
	card      Card
	treatment Treatment
	maxIter   int
	prompts   Prompts

	judge   *Agent
	guesser *Agent
	sink    Sink

	state      State
	iterations int

	bus     *bus.MessageBus
	logger  *log.Logger
	verbose bool
}

func New(cfg Config) (*Game, error) {
	if cfg.Judge == nil || cfg.Guesser == nil {
		return nil, errors.New("new game: judge and guesser backends are required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("new game: transcript sink is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	treatment, ok := LookupTreatment(cfg.Treatment)
	if !ok {
		logger.Printf("[Game] Unknown treatment %q, using %q", cfg.Treatment, treatment.Name)
	}

	maxIter := cfg.MaxIterations
	if maxIter < 1 {
		maxIter = DefaultMaxIterations
	}

	card := Draw(cfg.Rand)
	if cfg.Card != nil {
		card = *cfg.Card
	}

	run, err := NewRun()
	if err != nil {
		return nil, err
	}

	g := &Game{
		run:       run,
		card:      card,
		treatment: treatment,
		maxIter:   maxIter,
		prompts:   treatment.Format(card),
		sink:      cfg.Sink,
		bus:       cfg.Bus,
		logger:    logger,
		verbose:   cfg.Verbose,
	}
	g.judge = NewAgent(transcript.RoleJudge, run, cfg.Judge, cfg.Sink, buffer.RetentionSeedOnly, card, treatment.Name)
	g.guesser = NewAgent(transcript.RoleGuesser, run, cfg.Guesser, cfg.Sink, buffer.RetentionFull, card, treatment.Name)
	return g, nil
}

func (g *Game) Run() Run             { return g.run }
func (g *Game) Card() Card           { return g.card }
func (g *Game) Treatment() Treatment { return g.treatment }
func (g *Game) MaxIterations() int   { return g.maxIter }
func (g *Game) State() State         { return g.state }

// Play runs the game to completion. A timeout ends the game normally with
// ReasonTimeout. Any other backend failure writes a closing row, then is
// returned alongside a ReasonAborted result. Persistence failures are
// returned as is.
func (g *Game) Play(ctx context.Context) (*Result, error) {
	if g.state != StateNotStarted {
		return nil, fmt.Errorf("play run %s: already %s", g.run.ID, g.state)
	}

	g.logger.Printf("[Game] Run %s treatment=%s max_iterations=%d", g.run.ID, g.treatment.Name, g.maxIter)
	g.publish(bus.MsgRunStarted, StartedEvent{Card: g.card, Treatment: g.treatment.Name, MaxIterations: g.maxIter})

	g.judge.Buffer().Seed(buffer.Message{Persona: buffer.PersonaHuman, Content: g.prompts.Judge})
	g.setState(StateJudgePrimed)

	guesserOut, err := g.guesser.Send(ctx, g.prompts.Guesser)
	if err != nil {
		return g.fail(ctx, err)
	}
	g.turn(g.guesser, guesserOut)
	g.setState(StateGuesserPrimed)

	for {
		g.setState(StateJudging)
		judgeOut, err := g.judge.Send(ctx, guesserOut)
		if err != nil {
			return g.fail(ctx, err)
		}
		g.turn(g.judge, judgeOut)

		g.setState(StateGuessing)
		guesserOut, err = g.guesser.Send(ctx, judgeOut)
		if err != nil {
			return g.fail(ctx, err)
		}
		g.turn(g.guesser, guesserOut)

		g.iterations++
		eof := strings.Contains(judgeOut, EOFToken)
		if eof || g.iterations >= g.maxIter {
			verb := "did not"
			reason := ReasonMaxIterations
			if eof {
				verb = "did"
				reason = ReasonEOF
			}
			summary := fmt.Sprintf("Ending condition met. The judge %s end the game. Total iterations played %d.", verb, g.iterations)
			return g.end(ctx, reason, summary)
		}
	}
}

func (g *Game) fail(ctx context.Context, err error) (*Result, error) {
	if errors.Is(err, ErrPersistence) {
		g.state = StateEnded
		g.logger.Printf("[Game] Run %s: %v", g.run.ID, err)
		g.publish(bus.MsgRunFailed, err.Error())
		return nil, err
	}

	if errors.Is(err, llm.ErrTimeout) {
		summary := fmt.Sprintf("Timeout occurred. Total iterations played %d. %v", g.iterations, err)
		return g.end(ctx, ReasonTimeout, summary)
	}

	summary := fmt.Sprintf("Run aborted. Total iterations played %d. %v", g.iterations, err)
	res, endErr := g.end(ctx, ReasonAborted, summary)
	if endErr != nil {
		return nil, errors.Join(err, endErr)
	}
	return res, err
}

// end writes the closing system row. It is written even when ctx has been
// cancelled so an interrupted run still says why it stopped.
func (g *Game) end(ctx context.Context, reason Reason, summary string) (*Result, error) {
	g.state = StateEnded
	_, err := g.sink.AppendRow(context.WithoutCancel(ctx), transcript.Row{
		RunID:        g.run.ID,
		RunStartedAt: g.run.StartedAt,
		Role:         transcript.RoleSystem,
		Card:         g.card.String(),
		LLM:          []byte("{}"),
		Response:     summary,
		Treatment:    g.treatment.Name,
	})
	if err != nil {
		err = fmt.Errorf("%w: closing row: %w", ErrPersistence, err)
		g.publish(bus.MsgRunFailed, err.Error())
		return nil, err
	}

	g.logger.Printf("[Game] Run %s ended: %s after %d iterations", g.run.ID, reason, g.iterations)
	g.publish(bus.MsgRunStateChanged, StateEvent{State: StateEnded, Iteration: g.iterations})
	g.publish(bus.MsgRunEnded, EndedEvent{Reason: reason, Iterations: g.iterations, Summary: summary})
	return &Result{
		RunID:      g.run.ID,
		Card:       g.card,
		Treatment:  g.treatment.Name,
		Reason:     reason,
		Iterations: g.iterations,
		Summary:    summary,
	}, nil
}

func (g *Game) setState(s State) {
	g.state = s
	if g.verbose {
		g.logger.Printf("[Game] Run %s -> %s (iteration %d)", g.run.ID, s, g.iterations)
	}
	g.publish(bus.MsgRunStateChanged, StateEvent{State: s, Iteration: g.iterations})
}

func (g *Game) turn(a *Agent, response string) {
	if g.verbose {
		buf := a.Buffer()
		g.logger.Printf("[Game] Run %s %s %q (%s buffer holds %d messages)", g.run.ID, a.Role(), response, buf.Retention(), buf.Len())
	}
	g.publish(bus.MsgRunTurn, TurnEvent{Role: a.Role(), Response: response, Iteration: g.iterations})
}

func (g *Game) publish(t bus.MsgType, payload any) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(bus.Message{Type: t, RunID: g.run.ID, Payload: payload})
}
