package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/HexSleeves/guesscard/internal/config"
	"github.com/HexSleeves/guesscard/internal/llm"
	"github.com/HexSleeves/guesscard/internal/store"
)

const version = "0.1.0"

// appEnv is what every command needs once flags and config are resolved.
type appEnv struct {
	cfg     *config.Config
	logger  *log.Logger
	verbose bool
	out     io.Writer
}

func newApp(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "guesscard",
		Usage: "two language models play Guess the Card",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   config.DefaultPath,
				Usage:   "path to config file",
				Sources: cli.EnvVars("GUESSCARD_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "sqlite database path (overrides config)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose logging",
			},
		},
		Commands: []*cli.Command{
			playCommand(logger),
			playManyCommand(logger),
			labelCommand(logger),
			replayCommand(logger),
			runsCommand(logger),
			exportCommand(logger),
			configCommand(logger),
			initCommand(logger),
			{
				Name:  "version",
				Usage: "show version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Fprintf(cmd.Root().Writer, "guesscard v%s\n", version)
					return nil
				},
			},
		},
	}
}

// setup loads config, applies global flags and prepares output.
func setup(cmd *cli.Command, logger *log.Logger) (*appEnv, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if db := cmd.String("db"); db != "" {
		cfg.Database = db
	}

	verbose := cmd.Bool("verbose")
	if verbose {
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
		pterm.EnableDebugMessages()
	}

	out := cmd.Root().Writer
	if out == nil {
		out = os.Stdout
	}
	bindOutput(out)
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		pterm.DisableColor()
	}

	return &appEnv{cfg: cfg, logger: logger, verbose: verbose, out: out}, nil
}

// bindOutput points pterm at w. The prefix printers and the table printer
// carry their own writers and ignore SetDefaultOutput.
func bindOutput(w io.Writer) {
	pterm.SetDefaultOutput(w)
	pterm.Info = *pterm.Info.WithWriter(w)
	pterm.Success = *pterm.Success.WithWriter(w)
	pterm.Warning = *pterm.Warning.WithWriter(w)
	pterm.Error = *pterm.Error.WithWriter(w)
	pterm.Debug = *pterm.Debug.WithWriter(w)
	pterm.DefaultTable = *pterm.DefaultTable.WithWriter(w)
}

func (e *appEnv) openStore(ctx context.Context) (*store.Store, error) {
	s, err := store.Open(ctx, e.cfg.Database)
	if err != nil {
		return nil, err
	}
	if e.verbose {
		e.logger.Printf("[Store] Opened %s", e.cfg.Database)
	}
	return s, nil
}

func (e *appEnv) providers() llm.ProviderConfig {
	p := e.cfg.Providers
	return llm.ProviderConfig{
		OpenAIKey:       p.OpenAIKey,
		OpenAIBaseURL:   p.OpenAIBaseURL,
		TogetherKey:     p.TogetherKey,
		TogetherBaseURL: p.TogetherBaseURL,
		AnthropicKey:    p.AnthropicKey,
		OllamaCommand:   p.OllamaCommand,
		Options: []llm.Option{
			llm.WithTimeout(e.cfg.Game.CallTimeout),
			llm.WithRetry(e.cfg.Game.MaxAttempts, llm.DefaultBaseDelay),
		},
	}
}

func (e *appEnv) backend(modelID string) (*llm.Backend, error) {
	b, err := llm.NewFromConfig(modelID, e.providers())
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", modelID, err)
	}
	return b, nil
}

func (e *appEnv) labelLimiter() *rate.Limiter {
	perMinute := e.cfg.Audit.RatePerMinute
	if perMinute <= 0 {
		perMinute = 4
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), 1)
}
