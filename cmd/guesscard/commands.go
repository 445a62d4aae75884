package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/guesscard/internal/audit"
	"github.com/HexSleeves/guesscard/internal/config"
	"github.com/HexSleeves/guesscard/internal/dataset"
	"github.com/HexSleeves/guesscard/internal/game"
	"github.com/HexSleeves/guesscard/internal/llm"
	"github.com/HexSleeves/guesscard/internal/store"
)

func labelCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "label",
		Usage: "use a model to label finished runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run-id", Aliases: []string{"r"}, Usage: "label a single run"},
			&cli.BoolFlag{Name: "new", Aliases: []string{"n"}, Usage: "label every run that has no label yet"},
			&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "label every run"},
			&cli.StringFlag{Name: "model", Usage: "audit model id (overrides config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			runID, onlyNew, all := cmd.String("run-id"), cmd.Bool("new"), cmd.Bool("all")
			if runID == "" && !onlyNew && !all {
				return errors.New("label: one of --run-id, --new or --all is required")
			}

			env, err := setup(cmd, logger)
			if err != nil {
				return err
			}
			model := env.cfg.Audit.Model
			if v := cmd.String("model"); v != "" {
				model = v
			}
			backend, err := env.backend(model)
			if err != nil {
				return err
			}
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			labeler := audit.NewLabeler(st, backend,
				audit.WithLimiter(env.labelLimiter()),
				audit.WithLogger(env.logger),
			)

			if runID != "" {
				label, err := labeler.LabelRun(ctx, runID)
				if err != nil {
					printAuditResponse(runID, err)
					return err
				}
				pterm.Success.Printfln("Run %s guesser_won=%v: %s", runID, label.Verdict.GuesserWon, label.Verdict.Overview)
				return nil
			}

			sel := audit.SelectAll
			if onlyNew {
				sel = audit.SelectNew
			}
			report, err := labeler.LabelRuns(ctx, sel)
			for _, l := range report.Labeled {
				pterm.Success.Printfln("Run %s guesser_won=%v", l.RunID, l.Verdict.GuesserWon)
			}
			for _, f := range report.Failed {
				pterm.Warning.Printfln("Run %s not labeled: %v", f.RunID, f.Err)
				printAuditResponse(f.RunID, f.Err)
			}
			pterm.Info.Printfln("%d of %d runs labeled", len(report.Labeled), report.Selected)
			return err
		},
	}
}

// printAuditResponse shows what the audit model said when its answer could
// not be read as a verdict.
func printAuditResponse(runID string, err error) {
	var parseErr *audit.LabelParseError
	if !errors.As(err, &parseErr) {
		return
	}
	pterm.Warning.Printfln("Audit response for run %s:\n%s", runID, parseErr.Response)
}

func replayCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "print the transcript of a run",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run-id", Aliases: []string{"r"}, Usage: "run to replay", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd, logger)
			if err != nil {
				return err
			}
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			runID := cmd.String("run-id")
			card, err := st.Card(ctx, runID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("run %s: %w", runID, audit.ErrNoTranscript)
			}
			if err != nil {
				return err
			}
			rows, err := st.RunRows(ctx, runID)
			if err != nil {
				return err
			}
			pterm.Info.Printfln("Run %s Card %s", runID, card)
			for _, r := range rows {
				fmt.Fprintln(env.out, r.String())
			}

			labels, err := st.Labels(ctx, runID)
			if err != nil {
				return err
			}
			for _, l := range labels {
				pterm.Info.Printfln("Label by %s: guesser_won=%v %s", l.Model, l.Verdict.GuesserWon, l.Verdict.Overview)
			}
			return nil
		},
	}
}

func runsCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "list recent runs",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "number of runs to show (0 for all)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd, logger)
			if err != nil {
				return err
			}
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(ctx, int(cmd.Int("limit")))
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				pterm.Info.Println("No runs yet")
				return nil
			}

			data := pterm.TableData{{"Run", "Started", "Card", "Treatment", "Rows", "Labels", "Last event"}}
			for _, r := range runs {
				started := "-"
				if !r.StartedAt.IsZero() {
					started = r.StartedAt.Local().Format("2006-01-02 15:04:05")
				}
				data = append(data, []string{
					r.RunID, started, r.Card, r.Treatment,
					strconv.Itoa(r.Rows), strconv.Itoa(r.Labels), truncate(r.LastEvent, 60),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func exportCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write runs as chat-format JSONL for fine-tuning a guesser",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file", Required: true},
			&cli.BoolFlag{Name: "won-only", Usage: "only runs whose latest label says the guesser won"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd, logger)
			if err != nil {
				return err
			}
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			path := cmd.String("out")
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			stats, err := dataset.Export(ctx, st, f, dataset.Options{WonOnly: cmd.Bool("won-only")})
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			for _, id := range stats.Skipped {
				pterm.Warning.Printfln("Run %s skipped: %v", id, dataset.ErrPromptChanged)
			}
			pterm.Success.Printfln("Wrote %d examples from %d runs to %s", stats.Examples, stats.Runs, path)
			return nil
		},
	}
}

func configCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "show the effective configuration",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd, logger)
			if err != nil {
				return err
			}
			cfg := env.cfg
			set := func(key string) string {
				if key == "" {
					return "not set"
				}
				return "set"
			}
			data := pterm.TableData{
				{"Setting", "Value"},
				{"Config file", cmd.String("config")},
				{"Database", cfg.Database},
				{"Judge model", cfg.Game.JudgeModel},
				{"Guesser model", cfg.Game.GuesserModel},
				{"Treatment", cfg.Game.Treatment},
				{"Max iterations", strconv.Itoa(cfg.Game.MaxIterations)},
				{"Call timeout", cfg.Game.CallTimeout.String()},
				{"Max attempts", strconv.Itoa(cfg.Game.MaxAttempts)},
				{"Parallel games", strconv.Itoa(cfg.Game.Parallel)},
				{"Audit model", cfg.Audit.Model},
				{"Label rate", strconv.FormatFloat(cfg.Audit.RatePerMinute, 'g', -1, 64) + "/min"},
				{"OPENAI_API_KEY", set(cfg.Providers.OpenAIKey)},
				{"TOGETHER_API_KEY", set(cfg.Providers.TogetherKey)},
				{"ANTHROPIC_API_KEY", set(cfg.Providers.AnthropicKey)},
				{"Treatments", strings.Join(game.Treatments(), ", ")},
				{"Models", strings.Join(llm.Models(), ", ")},
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}
}

func initCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "write a default config file and create the database",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "overwrite an existing config file"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.String("config")
			if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			if db := cmd.String("db"); db != "" {
				cfg.Database = db
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}

			env, err := setup(cmd, logger)
			if err != nil {
				return err
			}
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			if err := st.Close(); err != nil {
				return err
			}
			pterm.Success.Printfln("Wrote %s and created %s", path, env.cfg.Database)
			return nil
		},
	}
}
