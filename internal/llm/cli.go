package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIClient runs a local inference CLI (ollama and friends) once per prompt.
// No API key is involved; the model runs wherever the CLI points.
type CLIClient struct {
	command string
	args    []string // args before the prompt, e.g. ["run", "llama2"]
	pipe    bool     // if true, pipe prompt to stdin instead of appending as arg
}

// NewCLIClient creates a Client backed by a CLI tool.
// For ollama: NewCLIClient("ollama", []string{"run", "llama2"}, true)
func NewCLIClient(command string, args []string, pipe bool) *CLIClient {
	return &CLIClient{
		command: command,
		args:    args,
		pipe:    pipe,
	}
}

func (c *CLIClient) Complete(ctx context.Context, prompt string) (string, error) {
	args := append([]string(nil), c.args...)

	var cmd *exec.Cmd
	if c.pipe {
		cmd = exec.CommandContext(ctx, c.command, args...)
		cmd.Stdin = strings.NewReader(prompt)
	} else {
		args = append(args, prompt)
		cmd = exec.CommandContext(ctx, c.command, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s failed: %w (stderr: %s)", ErrUnavailable, c.command, err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", fmt.Errorf("%w: %s produced no output", ErrMalformed, c.command)
	}
	return out, nil
}
