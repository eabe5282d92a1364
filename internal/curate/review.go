// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package curate

import (
	"context"
	"fmt"
	"strings"

	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const (
	reviewPersonaChars = 4000
	reviewHealthChars  = 4000
	reviewVoiceChars   = 2000
	judgeTokens        = 1536
	judgeAttempts      = 2
)

var reviewTmpl = mustTemplate("review", `Review this curated context bundle for a research paper.

Check three things:
1. Mechanism alignment: do the personas and brief connect to the paper's mechanisms ({{.Topics}})? Papers that share a mechanism with the personas without studying them directly are valid matches (alignment: {{.Confidence}}).
2. Statistical support: does the health brief cite concrete local numbers?
3. Voice: does the text follow the voice guide?

Reply with JSON:
{"overall_pass": bool, "mechanism_alignment_ok": bool, "statistical_support_ok": bool, "liz_voice_ok": bool, "mechanism_feedback": "", "statistics_feedback": "", "voice_feedback": "", "issues": []}

Paper: {{.Title}}

Personas:
{{.Personas}}

Health brief:
{{.Health}}

Voice guide:
{{.Voice}}
`)

// review judges a bundle. Transport failures are returned; any other
// failure counts as a failed review.
func (c *Curator) review(ctx context.Context, in Input, cc *types.CuratedContext) (types.ReviewResult, error) {
	obj, err := c.gen.GenerateJSON(ctx, llm.Request{
		Tool: "context_review",
		Prompt: render(reviewTmpl, map[string]any{
			"Topics":     orNone(in.Alignment.PrimaryTopics),
			"Confidence": in.Alignment.AlignmentConfidence,
			"Title":      in.Title,
			"Personas":   truncate(cc.PersonasText, reviewPersonaChars),
			"Health":     truncate(cc.HealthBrief, reviewHealthChars),
			"Voice":      truncate(cc.VoiceGuide, reviewVoiceChars),
		}),
		MaxTokens:   judgeTokens,
		Temperature: llm.Temp(0.1),
	}, judgeAttempts)
	if err != nil {
		if llm.IsServiceError(err) {
			return types.ReviewResult{}, fmt.Errorf("reviewing context: %w", err)
		}
		c.log.WithError(err).Warn("reviewer failed")
		return types.ReviewResult{Issues: []string{fmt.Sprintf("reviewer returned no usable verdict: %v", err)}}, nil
	}
	return ReviewFrom(obj), nil
}

// ReviewFrom reads a reviewer reply. Absent flags are false.
func ReviewFrom(obj map[string]any) types.ReviewResult {
	return types.ReviewResult{
		OverallPass:          boolValue(obj["overall_pass"]),
		MechanismAlignmentOK: boolValue(obj["mechanism_alignment_ok"]),
		StatisticalSupportOK: boolValue(obj["statistical_support_ok"]),
		VoiceOK:              boolValue(obj["liz_voice_ok"]),
		MechanismFeedback:    stringValue(obj["mechanism_feedback"]),
		StatisticsFeedback:   stringValue(obj["statistics_feedback"]),
		VoiceFeedback:        stringValue(obj["voice_feedback"]),
		Issues:               stringList(obj["issues"]),
	}
}

func boolValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "pass", "ok":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s := stringValue(it); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	}
	return nil
}
