// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gemini drives a local Gemini CLI as an out-of-process helper.
// It completes single extraction fields the inference server keeps
// failing and consolidates a drafted knowledge entry into one validated
// JSON object. The CLI is invoked with --output-format json and receives
// the prompt on stdin.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/extcli"
	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/internal/usage"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// DefaultMaxChars truncates the document text sent for consolidation.
const DefaultMaxChars = 800000

var (
	// ErrDisabled is returned when no CLI is configured.
	ErrDisabled = errors.New("gemini cli disabled")

	// ErrLimit is returned once the daily call cap is reached.
	ErrLimit = errors.New("gemini cli daily limit reached")

	// ErrInvalidOutput is returned when the CLI reply holds no JSON object.
	ErrInvalidOutput = errors.New("gemini cli returned no valid JSON object")
)

// Usage tracks calls against the daily cap.
type Usage interface {
	Allow(tool string) bool
	Record(tool string, tokensIn, tokensOut int) error
}

// Client runs the CLI.
type Client struct {
	cmd      extcli.Command
	usage    Usage
	maxChars int
	log      logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the process runner.
func WithRunner(r extcli.Runner) Option { return func(c *Client) { c.cmd.Runner = r } }

// WithUsage enforces and records the daily cap.
func WithUsage(u Usage) Option { return func(c *Client) { c.usage = u } }

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option { return func(c *Client) { c.log = log } }

// New returns a client for cfg, or nil when the CLI is not configured or
// consolidation is skipped.
func New(cfg types.ConsolidatorConfig, opts ...Option) (*Client, error) {
	if cfg.CLIPath == "" || cfg.Skip {
		return nil, nil
	}
	cmd, err := extcli.Parse(cfg.CLIPath)
	if err != nil {
		return nil, err
	}
	cmd.Args = append(cmd.Args, "--output-format", "json")
	cmd.Timeout = cfg.Timeout

	c := &Client{cmd: cmd, maxChars: cfg.MaxChars, log: logrus.StandardLogger()}
	if c.maxChars <= 0 {
		c.maxChars = DefaultMaxChars
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Name implements extract.FieldFallback.
func (c *Client) Name() string { return usage.ToolGemini }

// Available reports whether the CLI binary resolves.
func (c *Client) Available() bool { return c != nil && c.cmd.Available() }

// Ask sends prompt and returns the model's response text.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	if c == nil {
		return "", ErrDisabled
	}
	if c.usage != nil && !c.usage.Allow(usage.ToolGemini) {
		return "", ErrLimit
	}
	out, err := c.cmd.Run(ctx, prompt)
	if err != nil {
		return "", err
	}
	resp, err := unwrap(out)
	if err != nil {
		return "", err
	}
	if c.usage != nil {
		if err := c.usage.Record(usage.ToolGemini, len(prompt)/4, len(resp)/4); err != nil {
			c.log.WithError(err).Warn("recording gemini usage failed")
		}
	}
	return resp, nil
}

// CompleteField implements extract.FieldFallback.
func (c *Client) CompleteField(ctx context.Context, prompt string) (string, error) {
	return c.Ask(ctx, prompt)
}

// cliReply is the --output-format json envelope.
type cliReply struct {
	Response string `json:"response"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// unwrap returns the response field of the CLI envelope, or the raw
// output when it is not an envelope.
func unwrap(out string) (string, error) {
	trimmed := strings.TrimSpace(out)
	var r cliReply
	if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
		return trimmed, nil
	}
	if r.Error != nil && r.Error.Message != "" {
		return "", fmt.Errorf("gemini cli: %s", r.Error.Message)
	}
	if r.Response != "" {
		return r.Response, nil
	}
	return trimmed, nil
}

// Draft is what consolidation sees of a document.
type Draft struct {
	DocumentID string
	Text       string
	Outputs    map[string]any
	Quality    types.QualityReport
}

// Consolidate asks the CLI to merge the agent outputs into one knowledge
// entry object. Only a reply holding a JSON object is accepted.
func (c *Client) Consolidate(ctx context.Context, d Draft) (map[string]any, error) {
	prompt, err := c.consolidationPrompt(d)
	if err != nil {
		return nil, err
	}
	resp, err := c.Ask(ctx, prompt)
	if err != nil {
		return nil, err
	}
	obj, ok := parseObject(resp)
	if !ok {
		return nil, fmt.Errorf("%s: %w", d.DocumentID, ErrInvalidOutput)
	}
	return obj, nil
}

func (c *Client) consolidationPrompt(d Draft) (string, error) {
	outputs, err := json.MarshalIndent(d.Outputs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding agent outputs: %w", err)
	}
	quality, err := json.Marshal(d.Quality)
	if err != nil {
		return "", err
	}
	text := d.Text
	if r := []rune(text); len(r) > c.maxChars {
		text = string(r[:c.maxChars])
	}

	var b strings.Builder
	b.WriteString("You are consolidating a research knowledge entry. Check every agent output against the source text, ")
	b.WriteString("correct unsupported claims, and return ONE JSON object with the keys of the agent outputs. ")
	b.WriteString("Return only JSON.\n\n")
	fmt.Fprintf(&b, "DOCUMENT ID: %s\n\nQUALITY: %s\n\nAGENT OUTPUTS:\n%s\n\nSOURCE TEXT:\n%s\n", d.DocumentID, quality, outputs, text)
	return b.String(), nil
}

func parseObject(s string) (map[string]any, bool) {
	s = llm.Clean(s)
	try := func(text string) (map[string]any, bool) {
		v, err := llm.ParseStrict(text)
		if err != nil {
			return nil, false
		}
		obj, ok := v.(map[string]any)
		return obj, ok
	}
	if obj, ok := try(s); ok {
		return obj, true
	}
	if span, ok := llm.ExtractJSONObject(s); ok {
		return try(span)
	}
	return nil, false
}
