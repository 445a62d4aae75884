package game

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

// Factory builds the i-th game of a batch.
type Factory func(i int) (*Game, error)

// PlayMany plays n independent games with at most parallel in flight.
// Results are indexed by game number; a game that failed to build or was
// cut short by a persistence error leaves a nil entry. The returned error
// joins every per-game error.
func PlayMany(ctx context.Context, n, parallel int, newGame Factory) ([]*Result, error) {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]*Result, n)

	p := pool.New().WithErrors().WithMaxGoroutines(parallel)
	for i := 0; i < n; i++ {
		p.Go(func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("game %d: %w", i, err)
			}
			g, err := newGame(i)
			if err != nil {
				return fmt.Errorf("game %d: %w", i, err)
			}
			res, err := g.Play(ctx)
			results[i] = res
			if err != nil {
				return fmt.Errorf("game %d (run %s): %w", i, g.Run().ID, err)
			}
			return nil
		})
	}
	err := p.Wait()
	return results, err
}
