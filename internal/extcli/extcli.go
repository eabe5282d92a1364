// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extcli runs external command-line tools: JSON formatters, the
// Gemini CLI, OCR binaries, and model lifecycle scripts.
package extcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// ErrNotFound is returned when the command binary is not on PATH.
var ErrNotFound = errors.New("command not found")

// Runner abstracts process execution for testing.
type Runner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout []byte, stderr []byte, err error)
}

type osRunner struct{}

func (osRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	var out, errOut bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err := cmd.Run()
	return out.Bytes(), errOut.Bytes(), err
}

// DefaultRunner executes real processes via os/exec.
var DefaultRunner Runner = osRunner{}

// Command is a named executable with fixed arguments.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration

	// Runner overrides DefaultRunner when set.
	Runner Runner
}

// Parse splits a shell-style command line into a Command.
func Parse(line string) (Command, error) {
	words, err := shellwords.Parse(line)
	if err != nil {
		return Command{}, fmt.Errorf("parsing command %q: %w", line, err)
	}
	if len(words) == 0 {
		return Command{}, fmt.Errorf("parsing command %q: empty", line)
	}
	return Command{Name: words[0], Args: words[1:]}, nil
}

// String returns the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

func (c Command) runner() Runner {
	if c.Runner != nil {
		return c.Runner
	}
	return DefaultRunner
}

// Available reports whether the binary resolves on PATH.
func (c Command) Available() bool {
	_, err := c.runner().LookPath(c.Name)
	return err == nil
}

// Run executes the command with stdin and extra arguments appended, and
// returns its stdout. A non-zero exit includes trimmed stderr in the error.
func (c Command) Run(ctx context.Context, stdin string, extraArgs ...string) (string, error) {
	r := c.runner()
	if _, err := r.LookPath(c.Name); err != nil {
		return "", fmt.Errorf("%s: %w", c.Name, ErrNotFound)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.Args...), extraArgs...)
	var in io.Reader
	if stdin != "" {
		in = strings.NewReader(stdin)
	}

	out, errOut, err := r.Run(ctx, c.Name, args, in)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("running %s: %w", c.Name, ctx.Err())
		}
		msg := strings.TrimSpace(string(errOut))
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return "", fmt.Errorf("running %s: %w: %s", c.Name, err, msg)
	}
	return string(out), nil
}
