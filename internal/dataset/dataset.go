// Package dataset turns stored runs into chat-format JSONL for fine-tuning
// a guesser model.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"

	"github.com/HexSleeves/guesscard/internal/game"
	"github.com/HexSleeves/guesscard/internal/transcript"
)

type Source interface {
	RunIDs(ctx context.Context, unlabeledOnly bool) ([]string, error)
	RunRows(ctx context.Context, runID string) ([]transcript.Row, error)
	Labels(ctx context.Context, runID string) ([]transcript.Label, error)
}

// Example is one JSONL line.
type Example struct {
	Messages []openai.ChatCompletionMessageParamUnion `json:"messages"`
}

type Options struct {
	// WonOnly keeps runs whose latest label says the guesser won.
	WonOnly bool
}

type Stats struct {
	Runs     int
	Examples int
	// Skipped holds runs whose treatment text no longer matches what was played.
	Skipped []string
}

// Export writes one example per guesser turn of every selected run.
func Export(ctx context.Context, src Source, w io.Writer, opts Options) (Stats, error) {
	ids, err := src.RunIDs(ctx, false)
	if err != nil {
		return Stats{}, fmt.Errorf("list runs: %w", err)
	}

	enc := json.NewEncoder(w)
	var stats Stats
	for _, id := range ids {
		if opts.WonOnly {
			won, err := guesserWon(ctx, src, id)
			if err != nil {
				return stats, err
			}
			if !won {
				continue
			}
		}

		rows, err := src.RunRows(ctx, id)
		if err != nil {
			return stats, fmt.Errorf("rows for run %s: %w", id, err)
		}
		examples, err := Examples(rows)
		if errors.Is(err, ErrPromptChanged) {
			stats.Skipped = append(stats.Skipped, id)
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("run %s: %w", id, err)
		}
		for _, ex := range examples {
			if err := enc.Encode(ex); err != nil {
				return stats, fmt.Errorf("write example: %w", err)
			}
		}
		if len(examples) > 0 {
			stats.Runs++
			stats.Examples += len(examples)
		}
	}
	return stats, nil
}

func guesserWon(ctx context.Context, src Source, runID string) (bool, error) {
	labels, err := src.Labels(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("labels for run %s: %w", runID, err)
	}
	if len(labels) == 0 {
		return false, nil
	}
	return labels[len(labels)-1].Verdict.GuesserWon, nil
}

// ErrPromptChanged marks a run whose stored guesser context does not contain
// the opening prompt its treatment renders today.
var ErrPromptChanged = errors.New("treatment prompt changed since the run was played")

// Examples rebuilds the guesser's side of one run. The opening prompt is
// rendered from the run's card and treatment and checked against the context
// stored with the first guesser turn; judge replies become user messages and
// guesser replies assistant messages.
func Examples(rows []transcript.Row) ([]Example, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	card, err := game.ParseCard(rows[0].Card)
	if err != nil {
		return nil, err
	}
	treatment, _ := game.LookupTreatment(rows[0].Treatment)
	opening := treatment.Format(card).Guesser

	for _, r := range rows {
		if r.Role != transcript.RoleGuesser {
			continue
		}
		if r.Context != "" && !strings.Contains(r.Context, opening) {
			return nil, fmt.Errorf("%w: treatment %q", ErrPromptChanged, treatment.Name)
		}
		break
	}

	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(opening),
	}
	var out []Example
	for _, r := range rows {
		switch r.Role {
		case transcript.RoleJudge:
			msgs = append(msgs, openai.UserMessage(r.Response))
		case transcript.RoleGuesser:
			msgs = append(msgs, openai.AssistantMessage(r.Response))
			out = append(out, Example{Messages: append([]openai.ChatCompletionMessageParamUnion(nil), msgs...)})
		}
	}
	return out, nil
}
