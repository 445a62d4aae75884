package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/HexSleeves/guesscard/internal/audit"
	"github.com/HexSleeves/guesscard/internal/llm"
	"github.com/HexSleeves/guesscard/internal/store"
	"github.com/HexSleeves/guesscard/internal/transcript"
)

type testEnv struct {
	dir    string
	config string
	db     string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	for _, k := range []string{"GUESSCARD_CONFIG", "GUESSCARD_DB", "GUESSCARD_JUDGE_MODEL", "GUESSCARD_GUESSER_MODEL",
		"GUESSCARD_AUDIT_MODEL", "GUESSCARD_OLLAMA", "OPENAI_API_KEY", "TOGETHER_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	return testEnv{dir: dir, config: filepath.Join(dir, "guesscard.json"), db: filepath.Join(dir, "game.db")}
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(log.New(io.Discard, "", 0))
	app.Writer = &out
	app.ErrWriter = &out
	full := append([]string{"guesscard", "--config", e.config, "--db", e.db}, args...)
	err := app.Run(context.Background(), full)
	return out.String(), err
}

func (e testEnv) seed(t *testing.T, runID string) {
	t.Helper()
	st, err := store.Open(context.Background(), e.db)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	for _, r := range []struct {
		role transcript.Role
		text string
	}{
		{transcript.RoleGuesser, "Is the suit of the card spades?"},
		{transcript.RoleJudge, "correct"},
		{transcript.RoleGuesser, "The card is a ace of spades"},
		{transcript.RoleJudge, "EOF"},
		{transcript.RoleGuesser, "Thanks"},
		{transcript.RoleSystem, "Ending condition met. The judge did end the game. Total iterations played 2."},
	} {
		if _, err := st.AppendRow(context.Background(), transcript.Row{
			RunID: runID, Role: r.role, Response: r.text, Card: "ace of spades", Treatment: "default",
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := newTestEnv(t).run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "guesscard v"+version) {
		t.Errorf("out=%q", out)
	}
}

func TestLabelRequiresSelection(t *testing.T) {
	_, err := newTestEnv(t).run(t, "label")
	if err == nil || !strings.Contains(err.Error(), "--run-id, --new or --all") {
		t.Fatalf("err=%v", err)
	}
}

func TestLabelFailsFastWithoutKey(t *testing.T) {
	_, err := newTestEnv(t).run(t, "label", "--new")
	if !errors.Is(err, llm.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestPlayUnknownModel(t *testing.T) {
	_, err := newTestEnv(t).run(t, "play", "--judge-model", "gpt-9000")
	if !errors.Is(err, llm.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestPlayRejectsBadCard(t *testing.T) {
	_, err := newTestEnv(t).run(t, "play", "--card", "joker")
	if err == nil {
		t.Fatal("expected error for unknown card")
	}
}

func TestInitWritesConfigOnce(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.run(t, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(e.config); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := os.Stat(e.db); err != nil {
		t.Fatalf("database not created: %v", err)
	}
	if _, err := e.run(t, "init"); err == nil {
		t.Fatal("second init should refuse to overwrite")
	}
	if _, err := e.run(t, "init", "--force"); err != nil {
		t.Fatalf("init --force: %v", err)
	}
}

func TestReplay(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, "run-1")

	out, err := e.run(t, "replay", "--run-id", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	want := "guesser : Is the suit of the card spades?\njudge   : correct\n"
	if !strings.Contains(out, want) {
		t.Errorf("replay output:\n%s", out)
	}

	again, _ := e.run(t, "replay", "--run-id", "run-1")
	if again != out {
		t.Error("replay is not stable")
	}

	if !strings.Contains(out, "Run run-1 Card ace of spades") {
		t.Errorf("replay header missing:\n%s", out)
	}

	if _, err := e.run(t, "replay", "--run-id", "missing"); !errors.Is(err, audit.ErrNoTranscript) {
		t.Errorf("expected ErrNoTranscript for unknown run, got %v", err)
	}
}

func TestRunsAndExport(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, "run-1")
	e.seed(t, "run-2")

	out, err := e.run(t, "runs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "run-1") || !strings.Contains(out, "run-2") {
		t.Errorf("runs output:\n%s", out)
	}

	path := filepath.Join(e.dir, "train.jsonl")
	exportOut, err := e.run(t, "export", "--out", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(exportOut, "Wrote 6 examples from 2 runs") {
		t.Errorf("export output:\n%s", exportOut)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 6 {
		t.Errorf("lines=%d, want 6", n)
	}
}

// fakeOllama writes a script that stands in for the ollama CLI and always
// answers with reply.
func fakeOllama(t *testing.T, dir, reply string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	path := filepath.Join(dir, "ollama")
	script := "#!/bin/sh\ncat >/dev/null\necho '" + reply + "'\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPlayEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv("GUESSCARD_OLLAMA", fakeOllama(t, e.dir, "EOF"))

	out, err := e.run(t, "play", "--judge-model", "ollama/llama2", "--guesser-model", "ollama/llama2", "--card", "2 of hearts")
	if err != nil {
		t.Fatalf("play: %v\n%s", err, out)
	}
	for _, want := range []string{
		"Run ",
		"Judge primed",
		"judge   : EOF",
		"The judge did end the game. Total iterations played 1.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("play output missing %q:\n%s", want, out)
		}
	}

	st, err := store.Open(context.Background(), e.db)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ids, _ := st.RunIDs(context.Background(), false)
	if len(ids) != 1 {
		t.Fatalf("runs=%d", len(ids))
	}
	rows, _ := st.RunRows(context.Background(), ids[0])
	if len(rows) != 4 || rows[0].Card != "2 of hearts" {
		t.Errorf("rows=%d card=%q", len(rows), rows[0].Card)
	}
}

func TestPlayManyEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv("GUESSCARD_OLLAMA", fakeOllama(t, e.dir, "EOF"))

	_, err := e.run(t, "play-many", "--games", "3", "--parallel", "2",
		"--judge-model", "ollama/llama2", "--guesser-model", "ollama/llama2")
	if err != nil {
		t.Fatalf("play-many: %v", err)
	}

	st, err := store.Open(context.Background(), e.db)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if ids, _ := st.RunIDs(context.Background(), false); len(ids) != 3 {
		t.Errorf("runs=%d, want 3", len(ids))
	}
}

func TestLabelShowsUnreadableAuditResponse(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, "run-1")
	t.Setenv("GUESSCARD_OLLAMA", fakeOllama(t, e.dir, "I believe the guesser won the game"))

	out, err := e.run(t, "label", "--run-id", "run-1", "--model", "ollama/llama2")
	var parseErr *audit.LabelParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected LabelParseError, got %v", err)
	}
	if !strings.Contains(out, "I believe the guesser won the game") {
		t.Errorf("single run output lacks the model answer:\n%s", out)
	}

	out, err = e.run(t, "label", "--new", "--model", "ollama/llama2")
	if err != nil {
		t.Fatalf("label --new: %v", err)
	}
	if !strings.Contains(out, "Run run-1 not labeled") || !strings.Contains(out, "I believe the guesser won the game") {
		t.Errorf("bulk output lacks the model answer:\n%s", out)
	}
}

func TestLabelWithReadableVerdict(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, "run-1")
	t.Setenv("GUESSCARD_OLLAMA", fakeOllama(t, e.dir, `{"guesser_won": true, "overview": "guessed the ace"}`))

	out, err := e.run(t, "label", "--run-id", "run-1", "--model", "ollama/llama2")
	if err != nil {
		t.Fatalf("label: %v", err)
	}
	if !strings.Contains(out, "Run run-1 guesser_won=true: guessed the ace") {
		t.Errorf("label output:\n%s", out)
	}

	out, err = e.run(t, "replay", "--run-id", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "guesser_won=true guessed the ace") {
		t.Errorf("replay output lacks the label:\n%s", out)
	}
}
