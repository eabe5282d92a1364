// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/enlitens-kb/internal/extcli"
)

// Stage names one step of the parse cascade.
type Stage string

const (
	StageJSON      Stage = "json"
	StageSlice     Stage = "slice"
	StageYAML      Stage = "yaml"
	StageRepair    Stage = "repair"
	StageFormatter Stage = "formatter"
)

var errNotContainer = errors.New("value is not an object or array")

// Formatter repairs broken JSON out of process.
type Formatter interface {
	Name() string
	Format(ctx context.Context, broken string) (string, error)
}

// CommandFormatter pipes broken JSON to an external command and reads the
// repaired document from stdout.
type CommandFormatter struct {
	Command extcli.Command
}

func (f CommandFormatter) Name() string { return f.Command.Name }

func (f CommandFormatter) Format(ctx context.Context, broken string) (string, error) {
	return f.Command.Run(ctx, broken)
}

// DefaultFormatterTimeout bounds one external formatter run.
const DefaultFormatterTimeout = 180 * time.Second

// NewCommandFormatters builds formatters from shell-style command lines.
// Lines that fail to parse are skipped with a warning. A non-positive
// timeout uses DefaultFormatterTimeout.
func NewCommandFormatters(lines []string, timeout time.Duration, log logrus.FieldLogger) []Formatter {
	if timeout <= 0 {
		timeout = DefaultFormatterTimeout
	}
	var out []Formatter
	for _, line := range lines {
		cmd, err := extcli.Parse(line)
		if err != nil {
			log.WithError(err).Warn("ignoring json formatter")
			continue
		}
		cmd.Timeout = timeout
		out = append(out, CommandFormatter{Command: cmd})
	}
	return out
}

// Parser turns cleaned model text into a JSON value, trying progressively
// more permissive stages.
type Parser struct {
	Formatters []Formatter
	Log        logrus.FieldLogger
}

// Parse runs the cascade: strict JSON, bracket slice, YAML, JSON repair,
// then each external formatter. The result is always an object or array.
func (p *Parser) Parse(ctx context.Context, text string) (any, Stage, error) {
	text = Clean(text)
	if text == "" {
		return nil, "", ErrEmpty
	}

	if v, err := ParseStrict(text); err == nil {
		return v, StageJSON, nil
	}

	candidate := text
	if span, ok := ExtractJSONObject(text); ok {
		candidate = span
		if v, err := ParseStrict(span); err == nil {
			return v, StageSlice, nil
		}
	}

	if v, err := ParseYAML(candidate); err == nil {
		return v, StageYAML, nil
	}

	if v, err := Repair(candidate); err == nil {
		return v, StageRepair, nil
	}

	for _, f := range p.Formatters {
		out, err := f.Format(ctx, candidate)
		if err != nil {
			p.logger().WithError(err).WithField("formatter", f.Name()).Debug("formatter failed")
			continue
		}
		if v, err := ParseStrict(strings.TrimSpace(out)); err == nil {
			return v, StageFormatter, nil
		}
	}

	return nil, "", fmt.Errorf("%w: no parse stage accepted the reply", ErrMalformed)
}

func (p *Parser) logger() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}

// ParseStrict decodes standard JSON and requires an object or array.
func ParseStrict(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return container(v)
}

// ParseYAML decodes s as YAML, which accepts single quotes, unquoted keys
// and trailing commas in flow style, and normalizes the result through
// JSON so numbers and maps have the same Go types as ParseStrict.
func ParseYAML(s string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	if _, err := container(v); err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return ParseStrict(string(b))
}

// Repair runs the JSON repair library over s.
func Repair(s string) (any, error) {
	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, err
	}
	return ParseStrict(fixed)
}

func container(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	}
	return nil, errNotContainer
}

// asObject unwraps a parsed value into an object. A single-element array
// holding an object is accepted.
func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		if len(t) == 1 {
			m, ok := t[0].(map[string]any)
			return m, ok
		}
	}
	return nil, false
}
