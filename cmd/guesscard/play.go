package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/guesscard/internal/bus"
	"github.com/HexSleeves/guesscard/internal/game"
	"github.com/HexSleeves/guesscard/internal/store"
	"github.com/HexSleeves/guesscard/internal/tui"
)

func gameFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "iterations",
			Aliases: []string{"i"},
			Usage:   "max number of judge/guesser cycles (default from config: 15)",
		},
		&cli.StringFlag{
			Name:    "treatment",
			Aliases: []string{"t"},
			Usage:   "prompt treatment",
		},
		&cli.StringFlag{
			Name:  "judge-model",
			Usage: "model id for the judge",
		},
		&cli.StringFlag{
			Name:  "guesser-model",
			Usage: "model id for the guesser",
		},
	}
}

// gameSettings is the game config after flags are applied.
type gameSettings struct {
	judgeModel   string
	guesserModel string
	treatment    string
	maxIter      int
	card         *game.Card
}

func resolveGame(cmd *cli.Command, env *appEnv) (gameSettings, error) {
	s := gameSettings{
		judgeModel:   env.cfg.Game.JudgeModel,
		guesserModel: env.cfg.Game.GuesserModel,
		treatment:    env.cfg.Game.Treatment,
		maxIter:      env.cfg.Game.MaxIterations,
	}
	if v := cmd.String("judge-model"); v != "" {
		s.judgeModel = v
	}
	if v := cmd.String("guesser-model"); v != "" {
		s.guesserModel = v
	}
	if v := cmd.String("treatment"); v != "" {
		s.treatment = v
	}
	if cmd.IsSet("iterations") {
		n := int(cmd.Int("iterations"))
		if n < 1 {
			return s, fmt.Errorf("--iterations must be at least 1, got %d", n)
		}
		s.maxIter = n
	}
	if cmd.IsSet("card") {
		c, err := game.ParseCard(cmd.String("card"))
		if err != nil {
			return s, err
		}
		s.card = &c
	}
	return s, nil
}

// newGame builds backends and a game. Backends are built per game so that
// concurrent games do not share limiter state.
func (e *appEnv) newGame(s gameSettings, st *store.Store, b *bus.MessageBus) (*game.Game, error) {
	judge, err := e.backend(s.judgeModel)
	if err != nil {
		return nil, err
	}
	guesser, err := e.backend(s.guesserModel)
	if err != nil {
		return nil, err
	}
	return game.New(game.Config{
		Judge:         judge,
		Guesser:       guesser,
		Sink:          st,
		Card:          s.card,
		Treatment:     s.treatment,
		MaxIterations: s.maxIter,
		Bus:           b,
		Logger:        e.logger,
		Verbose:       e.verbose,
	})
}

func playCommand(logger *log.Logger) *cli.Command {
	flags := append(gameFlags(),
		&cli.StringFlag{
			Name:  "card",
			Usage: `secret card, e.g. "queen of hearts" (default: drawn at random)`,
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "watch the game in a terminal UI",
		},
	)
	return &cli.Command{
		Name:  "play",
		Usage: "play one game",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd, logger)
			if err != nil {
				return err
			}
			settings, err := resolveGame(cmd, env)
			if err != nil {
				return err
			}
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			b := bus.New(256)
			g, err := env.newGame(settings, st, b)
			if err != nil {
				return err
			}

			if cmd.Bool("tui") {
				return playTUI(ctx, env, g, b)
			}

			sub := b.SubscribeAll(printEvent)
			defer sub.Unsubscribe()

			pterm.Info.Printfln("Run %s Treatment %s", g.Run().ID, g.Treatment().Name)
			if env.verbose {
				pterm.Debug.Printfln("Judge prompt:\n%s", g.Treatment().Format(g.Card()).Judge)
			}
			res, err := g.Play(ctx)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
}

func playTUI(ctx context.Context, env *appEnv, g *game.Game, b *bus.MessageBus) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.New(g.Run().ID, g.MaxIterations()), tea.WithAltScreen(), tea.WithContext(ctx))
	sub := tui.Forward(b, g.Run().ID, p)
	defer sub.Unsubscribe()

	out := env.logger.Writer()
	env.logger.SetOutput(tui.NewLogWriter(p))
	defer env.logger.SetOutput(out)

	type outcome struct {
		res *game.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.Play(ctx)
		done <- outcome{res, err}
	}()

	_, runErr := p.Run()
	// Quitting the view early abandons the game.
	cancel()
	o := <-done
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", runErr)
	}
	if o.err != nil {
		return o.err
	}
	printResult(o.res)
	return nil
}

func printEvent(msg bus.Message) {
	switch p := msg.Payload.(type) {
	case game.StateEvent:
		if p.State == game.StateJudgePrimed {
			pterm.Info.Println("Judge primed")
		}
	case game.TurnEvent:
		pterm.Println(p.Role.Pretty() + " " + p.Response)
	}
}

func printResult(res *game.Result) {
	if res.Reason == game.ReasonEOF {
		pterm.Success.Println(res.Summary)
		return
	}
	pterm.Warning.Println(res.Summary)
}

func playManyCommand(logger *log.Logger) *cli.Command {
	flags := append(gameFlags(),
		&cli.IntFlag{
			Name:     "games",
			Aliases:  []string{"g"},
			Usage:    "number of games to play",
			Required: true,
		},
		&cli.IntFlag{
			Name:    "parallel",
			Aliases: []string{"p"},
			Usage:   "games in flight at once (default from config: 1)",
		},
	)
	return &cli.Command{
		Name:  "play-many",
		Usage: "play several independent games",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd, logger)
			if err != nil {
				return err
			}
			settings, err := resolveGame(cmd, env)
			if err != nil {
				return err
			}
			n := int(cmd.Int("games"))
			if n < 1 {
				return fmt.Errorf("--games must be at least 1, got %d", n)
			}
			parallel := env.cfg.Game.Parallel
			if cmd.IsSet("parallel") {
				parallel = int(cmd.Int("parallel"))
			}

			// Fail on bad models before starting anything.
			if _, err := env.backend(settings.judgeModel); err != nil {
				return err
			}
			if _, err := env.backend(settings.guesserModel); err != nil {
				return err
			}

			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			b := bus.New(1)
			sub := b.Subscribe(bus.MsgRunStarted, func(msg bus.Message) {
				pterm.Info.Printfln("Starting run %s", msg.RunID)
			})
			defer sub.Unsubscribe()

			results, err := game.PlayMany(ctx, n, parallel, func(i int) (*game.Game, error) {
				return env.newGame(settings, st, b)
			})

			data := pterm.TableData{{"#", "Run", "Card", "Reason", "Iterations"}}
			for i, r := range results {
				if r == nil {
					data = append(data, []string{strconv.Itoa(i), "-", "-", "failed", "-"})
					continue
				}
				data = append(data, []string{strconv.Itoa(i), r.RunID, r.Card.String(), string(r.Reason), strconv.Itoa(r.Iterations)})
			}
			if tableErr := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); tableErr != nil {
				env.logger.Printf("[Game] Render summary: %v", tableErr)
			}
			return err
		},
	}
}
