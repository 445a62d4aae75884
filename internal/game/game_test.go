package game

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/HexSleeves/guesscard/internal/buffer"
	"github.com/HexSleeves/guesscard/internal/bus"
	"github.com/HexSleeves/guesscard/internal/llm"
	"github.com/HexSleeves/guesscard/internal/store"
	"github.com/HexSleeves/guesscard/internal/transcript"
)

// stubBackend replays scripted replies and records the prompts it saw.
// Once the script runs out the last reply repeats.
type stubBackend struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

type reply struct {
	text string
	err  error
}

func says(texts ...string) *stubBackend {
	b := &stubBackend{}
	for _, t := range texts {
		b.replies = append(b.replies, reply{text: t})
	}
	return b
}

func (b *stubBackend) then(err error) *stubBackend {
	b.replies = append(b.replies, reply{err: err})
	return b
}

func (b *stubBackend) Complete(ctx context.Context, prompt string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, prompt)
	r := b.replies[0]
	if len(b.replies) > 1 {
		b.replies = b.replies[1:]
	}
	return r.text, r.err
}

func (b *stubBackend) Dialect() buffer.Dialect  { return buffer.DialectPlain }
func (b *stubBackend) Metadata() map[string]any { return map[string]any{"model": "stub"} }

// memorySink keeps rows in memory and can fail the n-th append.
type memorySink struct {
	mu       sync.Mutex
	rows     []transcript.Row
	attempts int
	failAt   int // 1-based; 0 never fails
}

func (s *memorySink) AppendRow(ctx context.Context, row transcript.Row) (transcript.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failAt > 0 && s.attempts == s.failAt {
		return row, errors.New("disk full")
	}
	s.rows = append(s.rows, row)
	return row, nil
}

func (s *memorySink) roles() string {
	var out []string
	for _, r := range s.rows {
		out = append(out, string(r.Role))
	}
	return strings.Join(out, ",")
}

func aceOfSpades() *Card {
	return &Card{Value: "ace", Suit: "spades"}
}

func TestPlayScenarioSixRows(t *testing.T) {
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "game.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	judge := says("correct", "EOF")
	guesser := says("Is the suit of the card spades?", "The card is a ace of spades", "Thanks for playing")

	g, err := New(Config{Judge: judge, Guesser: guesser, Sink: st, Card: aceOfSpades(), MaxIterations: 15})
	if err != nil {
		t.Fatal(err)
	}
	res, err := g.Play(context.Background())
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.Reason != ReasonEOF {
		t.Errorf("reason=%s, want eof", res.Reason)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations=%d, want 2", res.Iterations)
	}

	rows, err := st.RunRows(context.Background(), res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 6 {
		t.Fatalf("rows=%d, want 6:\n%s", len(rows), transcript.Replay(rows))
	}
	wantRoles := []transcript.Role{
		transcript.RoleGuesser,
		transcript.RoleJudge, transcript.RoleGuesser,
		transcript.RoleJudge, transcript.RoleGuesser,
		transcript.RoleSystem,
	}
	for i, r := range rows {
		if r.Role != wantRoles[i] {
			t.Errorf("row %d role=%s, want %s", i, r.Role, wantRoles[i])
		}
		if r.Card != "ace of spades" || r.Treatment != DefaultTreatment {
			t.Errorf("row %d card=%q treatment=%q", i, r.Card, r.Treatment)
		}
	}
	want := "Ending condition met. The judge did end the game. Total iterations played 2."
	if rows[5].Response != want {
		t.Errorf("system row=%q", rows[5].Response)
	}
	if !strings.Contains(string(rows[1].LLM), `"stub"`) {
		t.Errorf("llm column=%s", rows[1].LLM)
	}
}

func TestPlayStopsAtIterationCap(t *testing.T) {
	for _, max := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			sink := &memorySink{}
			g, err := New(Config{Judge: says("higher"), Guesser: says("Is the value 5?"), Sink: sink, MaxIterations: max})
			if err != nil {
				t.Fatal(err)
			}
			res, err := g.Play(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if res.Reason != ReasonMaxIterations || res.Iterations != max {
				t.Errorf("result=%+v", res)
			}
			if len(sink.rows) != 1+2*max+1 {
				t.Errorf("rows=%d, want %d", len(sink.rows), 1+2*max+1)
			}
			if !strings.Contains(sink.rows[len(sink.rows)-1].Response, "did not end the game") {
				t.Errorf("closing row=%q", sink.rows[len(sink.rows)-1].Response)
			}
		})
	}
}

func TestPlayNonPositiveCapUsesDefault(t *testing.T) {
	g, err := New(Config{Judge: says("x"), Guesser: says("y"), Sink: &memorySink{}, MaxIterations: 0})
	if err != nil {
		t.Fatal(err)
	}
	if g.MaxIterations() != DefaultMaxIterations {
		t.Errorf("max=%d", g.MaxIterations())
	}
}

func TestPlayEOFAnywhereInJudgeOutput(t *testing.T) {
	sink := &memorySink{}
	g, _ := New(Config{Judge: says("Well done, that is my card. EOF."), Guesser: says("The card is a 2 of hearts"), Sink: sink, MaxIterations: 10})

	res, err := g.Play(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonEOF || res.Iterations != 1 {
		t.Errorf("result=%+v", res)
	}
	// The guesser still answers the judge before the game ends.
	if got := sink.roles(); got != "guesser,judge,guesser,system" {
		t.Errorf("roles=%s", got)
	}
}

func TestPlayIgnoresEOFFromGuesser(t *testing.T) {
	sink := &memorySink{}
	g, _ := New(Config{Judge: says("lower", "eof"), Guesser: says("EOF EOF"), Sink: sink, MaxIterations: 2})

	res, err := g.Play(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonMaxIterations || res.Iterations != 2 {
		t.Errorf("result=%+v", res)
	}
}

func TestPlayTimeoutEndsRun(t *testing.T) {
	sink := &memorySink{}
	judge := says("higher").then(fmt.Errorf("judge-model: %w after 10s", llm.ErrTimeout))
	g, _ := New(Config{Judge: judge, Guesser: says("Is the value 5?"), Sink: sink, MaxIterations: 10})

	res, err := g.Play(context.Background())
	if err != nil {
		t.Fatalf("timeout should end the run without error, got %v", err)
	}
	if res.Reason != ReasonTimeout || res.Iterations != 1 {
		t.Errorf("result=%+v", res)
	}
	last := sink.rows[len(sink.rows)-1]
	if last.Role != transcript.RoleSystem || !strings.HasPrefix(last.Response, "Timeout occurred. Total iterations played 1.") {
		t.Errorf("closing row=%+v", last)
	}
	if g.State() != StateEnded {
		t.Errorf("state=%s", g.State())
	}
}

func TestPlayTimeoutWhilePriming(t *testing.T) {
	sink := &memorySink{}
	g, _ := New(Config{Judge: says("x"), Guesser: (&stubBackend{}).then(llm.ErrTimeout), Sink: sink})

	res, err := g.Play(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonTimeout || res.Iterations != 0 {
		t.Errorf("result=%+v", res)
	}
	if got := sink.roles(); got != "system" {
		t.Errorf("roles=%s", got)
	}
}

func TestPlayProviderFailureAborts(t *testing.T) {
	sink := &memorySink{}
	guesser := says("Is the value 5?").then(fmt.Errorf("gpt-4: %w: 502", llm.ErrUnavailable))
	g, _ := New(Config{Judge: says("higher"), Guesser: guesser, Sink: sink, MaxIterations: 10})

	res, err := g.Play(context.Background())
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if res == nil || res.Reason != ReasonAborted {
		t.Fatalf("result=%+v", res)
	}
	if got := sink.roles(); got != "guesser,judge,system" {
		t.Errorf("roles=%s", got)
	}
}

func TestPlayPersistenceFailureWritesNothingMore(t *testing.T) {
	sink := &memorySink{failAt: 3}
	g, _ := New(Config{Judge: says("higher"), Guesser: says("Is the value 5?"), Sink: sink, MaxIterations: 10})

	res, err := g.Play(context.Background())
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if res != nil {
		t.Errorf("result=%+v", res)
	}
	if sink.attempts != 3 {
		t.Errorf("append attempts=%d, want 3", sink.attempts)
	}
}

func TestPlayTwiceFails(t *testing.T) {
	g, _ := New(Config{Judge: says("EOF"), Guesser: says("hi"), Sink: &memorySink{}})
	if _, err := g.Play(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Play(context.Background()); err == nil {
		t.Fatal("expected error on second Play")
	}
}

func TestJudgeSeesOnlyRulesAndLatestMessage(t *testing.T) {
	judge := says("higher", "lower", "EOF")
	guesser := says("first question", "second question", "third question", "done")
	g, _ := New(Config{Judge: judge, Guesser: guesser, Sink: &memorySink{}, Card: aceOfSpades()})

	if _, err := g.Play(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(judge.prompts) != 3 {
		t.Fatalf("judge calls=%d", len(judge.prompts))
	}
	last := judge.prompts[2]
	if !strings.Contains(last, "The card you picked from the deck is ace of spades") {
		t.Errorf("judge lost its rules:\n%s", last)
	}
	if strings.Contains(last, "first question") || strings.Contains(last, "second question") {
		t.Errorf("judge prompt kept history:\n%s", last)
	}
	if !strings.HasSuffix(last, "human: third question") {
		t.Errorf("judge prompt does not end with latest message:\n%s", last)
	}

	// The guesser keeps everything.
	gp := guesser.prompts[len(guesser.prompts)-1]
	for _, want := range []string{"first question", "higher", "lower", "EOF"} {
		if !strings.Contains(gp, want) {
			t.Errorf("guesser prompt missing %q", want)
		}
	}
}

func TestAgentSendRestoresBufferOnFailure(t *testing.T) {
	run, _ := NewRun()
	backend := says("ok").then(llm.ErrMalformed)
	sink := &memorySink{}
	a := NewAgent(transcript.RoleGuesser, run, backend, sink, buffer.RetentionFull, Card{Value: "2", Suit: "hearts"}, DefaultTreatment)

	if _, err := a.Send(context.Background(), "one"); err != nil {
		t.Fatal(err)
	}
	before := a.Buffer().Render()

	if _, err := a.Send(context.Background(), "two"); !errors.Is(err, llm.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if a.Buffer().Render() != before {
		t.Errorf("buffer changed after failed turn:\n%s", a.Buffer().Render())
	}
	if len(sink.rows) != 1 {
		t.Errorf("rows=%d, want 1", len(sink.rows))
	}
	if sink.rows[0].Context != "human: one\nassistant: ok" {
		t.Errorf("context=%q", sink.rows[0].Context)
	}
}

func TestPlayPublishesEvents(t *testing.T) {
	b := bus.New(100)
	var mu sync.Mutex
	counts := map[bus.MsgType]int{}
	b.SubscribeAll(func(msg bus.Message) {
		mu.Lock()
		counts[msg.Type]++
		mu.Unlock()
	})

	g, _ := New(Config{Judge: says("correct", "EOF"), Guesser: says("a", "b", "c"), Sink: &memorySink{}, Bus: b})
	if _, err := g.Play(context.Background()); err != nil {
		t.Fatal(err)
	}

	if counts[bus.MsgRunStarted] != 1 || counts[bus.MsgRunEnded] != 1 {
		t.Errorf("counts=%v", counts)
	}
	if counts[bus.MsgRunTurn] != 5 {
		t.Errorf("turns=%d, want 5", counts[bus.MsgRunTurn])
	}
	for _, m := range b.History(0) {
		if m.RunID != g.Run().ID {
			t.Errorf("message %s has run id %q", m.Type, m.RunID)
		}
	}
	ended := b.History(1)[0]
	if ev, ok := ended.Payload.(EndedEvent); !ok || ev.Reason != ReasonEOF {
		t.Errorf("last message=%+v", ended)
	}
}

func TestUnknownTreatmentFallsBack(t *testing.T) {
	sink := &memorySink{}
	g, err := New(Config{Judge: says("EOF"), Guesser: says("x"), Sink: sink, Treatment: "no-such-treatment"})
	if err != nil {
		t.Fatal(err)
	}
	if g.Treatment().Name != DefaultTreatment {
		t.Errorf("treatment=%s", g.Treatment().Name)
	}
	g.Play(context.Background())
	for _, r := range sink.rows {
		if r.Treatment != DefaultTreatment {
			t.Errorf("row treatment=%q", r.Treatment)
		}
	}
}

func TestNewRequiresBackendsAndSink(t *testing.T) {
	if _, err := New(Config{Guesser: says("x"), Sink: &memorySink{}}); err == nil {
		t.Error("expected error without judge")
	}
	if _, err := New(Config{Judge: says("x"), Guesser: says("x")}); err == nil {
		t.Error("expected error without sink")
	}
}

func TestPlayMany(t *testing.T) {
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "game.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	results, err := PlayMany(context.Background(), 6, 3, func(i int) (*Game, error) {
		return New(Config{
			Judge:         says("higher", "EOF"),
			Guesser:       says(fmt.Sprintf("game %d", i)),
			Sink:          st,
			MaxIterations: 5,
			Rand:          rand.New(rand.NewPCG(uint64(i), 1)),
		})
	})
	if err != nil {
		t.Fatalf("PlayMany: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("results=%d", len(results))
	}
	seen := map[string]bool{}
	for i, r := range results {
		if r == nil || r.Reason != ReasonEOF || r.Iterations != 2 {
			t.Errorf("game %d result=%+v", i, r)
			continue
		}
		seen[r.RunID] = true
	}
	if len(seen) != 6 {
		t.Errorf("distinct run ids=%d", len(seen))
	}

	ids, _ := st.RunIDs(context.Background(), false)
	if len(ids) != 6 {
		t.Errorf("stored runs=%d", len(ids))
	}
	for _, id := range ids {
		rows, _ := st.RunRows(context.Background(), id)
		if len(rows) != 6 {
			t.Errorf("run %s rows=%d, want 6", id, len(rows))
		}
	}
}

func TestPlayManyCollectsErrors(t *testing.T) {
	results, err := PlayMany(context.Background(), 3, 2, func(i int) (*Game, error) {
		if i == 1 {
			return nil, errors.New("no backend")
		}
		return New(Config{Judge: says("EOF"), Guesser: says("x"), Sink: &memorySink{}})
	})
	if err == nil || !strings.Contains(err.Error(), "game 1") {
		t.Fatalf("err=%v", err)
	}
	if results[0] == nil || results[1] != nil || results[2] == nil {
		t.Errorf("results=%v", results)
	}
}

func TestVerboseLogShowsBufferSizes(t *testing.T) {
	var logs bytes.Buffer
	g, err := New(Config{
		Judge:         says("no"),
		Guesser:       says("spades?"),
		Sink:          &memorySink{},
		Card:          aceOfSpades(),
		MaxIterations: 2,
		Logger:        log.New(&logs, "", 0),
		Verbose:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Play(context.Background()); err != nil {
		t.Fatal(err)
	}

	out := logs.String()
	for _, want := range []string{
		// rules plus the latest question; judge answers are not kept
		`judge "no" (seed-only buffer holds 2 messages)`,
		`guesser "spades?" (full buffer holds 2 messages)`,
		`guesser "spades?" (full buffer holds 6 messages)`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "seed-only buffer holds 3") {
		t.Errorf("judge buffer grew:\n%s", out)
	}
}
