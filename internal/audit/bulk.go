package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/HexSleeves/guesscard/internal/llm"
	"github.com/HexSleeves/guesscard/internal/transcript"
)

// Selection picks which runs LabelRuns audits.
type Selection int

const (
	// SelectNew audits runs without any label. Re-running it skips runs
	// labeled by an earlier pass.
	SelectNew Selection = iota
	// SelectAll audits every run, adding another label to labeled ones.
	SelectAll
)

func (s Selection) String() string {
	if s == SelectAll {
		return "all"
	}
	return "new"
}

// RunFailure records a run that could not be labeled.
type RunFailure struct {
	RunID string
	Err   error
}

type Report struct {
	Selected int
	Labeled  []transcript.Label
	Failed   []RunFailure
}

// LabelRuns audits the selected runs one at a time, paced by the labeler's
// limiter. A run that fails (bad verdict, provider error) is recorded and
// left unlabeled. Store failures and cancellation stop the pass.
func (lb *Labeler) LabelRuns(ctx context.Context, sel Selection) (Report, error) {
	ids, err := lb.store.RunIDs(ctx, sel == SelectNew)
	if err != nil {
		return Report{}, fmt.Errorf("select %s runs: %w", sel, err)
	}

	report := Report{Selected: len(ids)}
	lb.logger.Printf("[Audit] %d %s runs to label", len(ids), sel)

	for _, id := range ids {
		if err := lb.limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("wait for label slot: %w", err)
		}

		label, err := lb.LabelRun(ctx, id)
		if err == nil {
			report.Labeled = append(report.Labeled, label)
			continue
		}
		if ctx.Err() != nil {
			return report, err
		}

		var parseErr *LabelParseError
		if !errors.As(err, &parseErr) && !isProviderError(err) {
			return report, err
		}
		lb.logger.Printf("[Audit] Skipping run %s: %v", id, err)
		report.Failed = append(report.Failed, RunFailure{RunID: id, Err: err})
	}
	return report, nil
}

func isProviderError(err error) bool {
	for _, target := range []error{llm.ErrTimeout, llm.ErrRateLimited, llm.ErrUnavailable, llm.ErrMalformed} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
