// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package curate

import (
	"context"
	"fmt"
	"strings"

	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

var verifyTmpl = mustTemplate("verify", `Verify this curated context bundle before it is used to write content.

Decide whether the personas fit the paper, whether the health brief is accurate and grounded in local numbers, and whether the voice guide is usable. Mechanistic links count as a fit (alignment: {{.Confidence}}; themes: {{.Themes}}).

Reply with JSON:
{"status": "pass" or "revise", "persona_feedback": "", "health_feedback": "", "voice_feedback": "", "issues": [], "personas_ok": bool, "health_ok": bool, "voice_ok": bool}

Paper: {{.Title}}

Personas:
{{.Personas}}

Health brief:
{{.Health}}

Voice guide:
{{.Voice}}
`)

// verify runs the verifier over a bundle. Transport failures are
// returned; any other failed call yields status error.
func (c *Curator) verify(ctx context.Context, in Input, cc *types.CuratedContext) (types.VerificationResult, error) {
	obj, err := c.gen.GenerateJSON(ctx, llm.Request{
		Tool: "context_verification",
		Prompt: render(verifyTmpl, map[string]any{
			"Confidence": cc.AlignmentProfile.AlignmentConfidence,
			"Themes":     orNone(cc.AlignmentProfile.RelatedPersonaThemes),
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
			return types.VerificationResult{}, fmt.Errorf("verifying context: %w", err)
		}
		c.log.WithError(err).Warn("verifier failed")
		return types.VerificationResult{Status: types.StatusError, Issues: []string{fmt.Sprintf("verifier error: %v", err)}}, nil
	}
	return VerificationFrom(obj), nil
}

// VerificationFrom reads a verifier reply. Any status other than pass is
// revise.
func VerificationFrom(obj map[string]any) types.VerificationResult {
	status := types.StatusRevise
	if strings.EqualFold(stringValue(obj["status"]), string(types.StatusPass)) {
		status = types.StatusPass
	}
	return types.VerificationResult{
		Status:          status,
		PersonaFeedback: stringValue(obj["persona_feedback"]),
		HealthFeedback:  stringValue(obj["health_feedback"]),
		VoiceFeedback:   stringValue(obj["voice_feedback"]),
		Issues:          stringList(obj["issues"]),
		PersonasOK:      boolValue(obj["personas_ok"]),
		HealthOK:        boolValue(obj["health_ok"]),
		VoiceOK:         boolValue(obj["voice_ok"]),
	}
}
