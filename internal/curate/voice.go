// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package curate

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pdiddy/enlitens-kb/internal/llm"
)

const (
	transcriptChars = 12000
	frameworkChars  = 6000
	voiceTokens     = 2048
)

// FallbackVoiceGuide is used when no voice sources can be read or the
// model cannot produce a guide.
const FallbackVoiceGuide = `Voice guide
- Warm, direct and plain-spoken; talk to the reader as a capable adult.
- Lead with the brain mechanism, then what it feels like, then what helps.
- Neurodivergence is difference, not deficit; never shame or pathologise.
- Use concrete everyday examples; avoid jargon unless it is explained.
- Be honest about what the evidence does and does not show.`

// VoiceGuide holds the brand voice guide for the life of a process. It is
// built once on first use and shared by every document.
type VoiceGuide struct {
	mu     sync.Mutex
	text   string
	source string
}

// NewVoiceGuide returns an empty guide.
func NewVoiceGuide() *VoiceGuide { return &VoiceGuide{} }

// Text returns the cached guide, empty before the first Ensure.
func (v *VoiceGuide) Text() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.text
}

// Source reports where the guide came from: "generated", "fallback" or
// "preset".
func (v *VoiceGuide) Source() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.source
}

// Set installs a guide directly.
func (v *VoiceGuide) Set(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.text, v.source = text, "preset"
}

var voiceTmpl = mustTemplate("voice", `Write a concise voice guide for content that speaks to neurodivergent adults, based on the founder's own words below.

Cover tone, sentence style, phrases to use, phrases to avoid, and how to explain brain science. Use short bullet points.
{{if .Framework}}
Framework notes:
{{.Framework}}
{{end}}
Transcripts:
{{.Transcripts}}
`)

// Ensure returns the guide, generating it from transcripts and framework
// files on first call. Only transport failures are returned as errors.
func (v *VoiceGuide) Ensure(ctx context.Context, gen Generator, transcriptsPath string, frameworkPaths []string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.text != "" {
		return v.text, nil
	}

	transcripts := readTruncated(transcriptsPath, transcriptChars)
	var frameworks []string
	for _, p := range frameworkPaths {
		if s := readTruncated(p, frameworkChars); s != "" {
			frameworks = append(frameworks, s)
		}
	}
	if transcripts == "" && len(frameworks) == 0 {
		v.text, v.source = FallbackVoiceGuide, "fallback"
		return v.text, nil
	}

	out, err := gen.Generate(ctx, llm.Request{
		Tool: "voice_guide",
		Prompt: render(voiceTmpl, map[string]string{
			"Transcripts": transcripts,
			"Framework":   strings.Join(frameworks, "\n\n"),
		}),
		MaxTokens: voiceTokens,
		Creative:  true,
	})
	if err != nil {
		if llm.IsServiceError(err) {
			return "", fmt.Errorf("generating voice guide: %w", err)
		}
		v.text, v.source = FallbackVoiceGuide, "fallback"
		return v.text, nil
	}
	v.text, v.source = Sanitize(strings.TrimSpace(out)), "generated"
	return v.text, nil
}

func readTruncated(path string, n int) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return truncate(strings.TrimSpace(string(data)), n)
}
