// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"think block", "<think>reasoning here</think>{\"a\":1}", `{"a":1}`},
		{"reflection block", "<reflection>hmm</reflection>ok", "ok"},
		{"dangling preamble", "I should answer carefully.</think>\nanswer", "answer"},
		{"code fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"final tags and confidence", "<final>{\"a\":1}</final>\nConfidence: 0.9", `{"a":1}`},
		{"multiline think", "<THINK>\nline one\nline two\n</THINK>\n\ntext", "text"},
		{"plain text untouched", "just text", "just text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.input))
		})
	}
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"<th<think>x</think>ink>y</think>z",
		"```\n```json\n{}\n```\n```",
		"Confidence: 0.5\nConfidence: 0.7\n{\"a\": 1}",
		"<final><final>x</final></final>",
		"  <think>a</think>  <reflection>b</reflection> c ",
	}
	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), "input %q", in)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"embedded object", `Here you go: {"a": {"b": "}"}} trailing`, `{"a": {"b": "}"}}`, true},
		{"scalar array skipped", `[1,2] and {"x":1}`, `{"x":1}`, true},
		{"citation marker preamble", "Per source [1], here is the result:\n{\"a\":1}", `{"a":1}`, true},
		{"bracketed prose after object", `{"a": [1]} see [2] and [3]`, `{"a": [1]}`, true},
		{"object array", `result: [{"a":1},{"b":2}] done`, `[{"a":1},{"b":2}]`, true},
		{"scalar array only", `see [1, 2]`, `[1, 2]`, true},
		{"nested in non-json object", `{'a': [1], 'b': {"c": 2}}`, `{'a': [1], 'b': {"c": 2}}`, true},
		{"escaped quote", `x {"q": "say \"hi\" {"} y`, `{"q": "say \"hi\" {"}`, true},
		{"no json", "no json here", "", false},
		{"unbalanced falls back", `{"a": 1`, `{"a": 1`, true},
		{"mismatched falls back", `{"a": [1}, "b": 2}`, `{"a": [1}, "b": 2}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
