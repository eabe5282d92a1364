// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFormatter struct {
	out   string
	err   error
	calls int
}

func (s *stubFormatter) Name() string { return "stub" }

func (s *stubFormatter) Format(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.out, s.err
}

func TestParser_Stages(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantStage Stage
		wantKey   string
	}{
		{"strict", `{"a": 1}`, StageJSON, "a"},
		{"slice", `Sure! {"a": 1} hope it helps`, StageSlice, "a"},
		{"slice after citation marker", "Per source [1], here is the result:\n{\"a\": 1}", StageSlice, "a"},
		{"fenced", "```json\n{\"a\": 1}\n```", StageJSON, "a"},
		{"yaml single quotes", `{'a': 'b'}`, StageYAML, "a"},
		{"yaml holding a list", `{'a': [1, 2]}`, StageYAML, "a"},
		{"repair truncated", `{"a": "b", "c": [1, 2`, StageRepair, "c"},
	}
	p := &Parser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, stage, err := p.Parse(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStage, stage)
			obj, ok := v.(map[string]any)
			require.True(t, ok)
			assert.Contains(t, obj, tt.wantKey)
		})
	}
}

func TestParser_FormatterFallback(t *testing.T) {
	bad := &stubFormatter{err: errors.New("boom")}
	good := &stubFormatter{out: `{"fixed": true}`}
	p := &Parser{Formatters: []Formatter{bad, good}}

	v, stage, err := p.Parse(context.Background(), "@@@")
	require.NoError(t, err)
	assert.Equal(t, StageFormatter, stage)
	assert.Equal(t, map[string]any{"fixed": true}, v)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

func TestParser_AllStagesFail(t *testing.T) {
	p := &Parser{}
	_, _, err := p.Parse(context.Background(), "@@@")
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = p.Parse(context.Background(), "<think>only thoughts</think>")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestParseYAML_NormalizesNumbers(t *testing.T) {
	v, err := ParseYAML("{count: 3, items: [x, y]}")
	require.NoError(t, err)
	obj := v.(map[string]any)
	assert.Equal(t, float64(3), obj["count"])
	assert.Equal(t, []any{"x", "y"}, obj["items"])
}

func TestParseStrict_RejectsScalars(t *testing.T) {
	_, err := ParseStrict(`"just a string"`)
	assert.Error(t, err)
	_, err = ParseStrict(`42`)
	assert.Error(t, err)
}
