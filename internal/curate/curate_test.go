// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package curate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// --- fake generator ---

type fakeGen struct {
	mu    sync.Mutex
	text  map[string]func(n int, req llm.Request) (string, error)
	json  map[string]func(n int, req llm.Request) (map[string]any, error)
	calls []llm.Request
}

func newFakeGen() *fakeGen {
	return &fakeGen{
		text: map[string]func(int, llm.Request) (string, error){
			"persona_selection": func(int, llm.Request) (string, error) {
				return `{"selected": [` + selected(1, 2, 3, 4, 5) + `]}`, nil
			},
			"health_brief": func(int, llm.Request) (string, error) { return fullBrief, nil },
			"voice_guide":  func(int, llm.Request) (string, error) { return "Be warm.", nil },
		},
		json: map[string]func(int, llm.Request) (map[string]any, error){
			"context_review":       func(int, llm.Request) (map[string]any, error) { return map[string]any{"overall_pass": true}, nil },
			"context_verification": func(int, llm.Request) (map[string]any, error) { return map[string]any{"status": "pass"}, nil },
		},
	}
}

func (g *fakeGen) record(req llm.Request) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.Tool == req.Tool {
			n++
		}
	}
	g.calls = append(g.calls, req)
	return n + 1
}

func (g *fakeGen) Generate(_ context.Context, req llm.Request) (string, error) {
	n := g.record(req)
	h, ok := g.text[req.Tool]
	if !ok {
		return "", fmt.Errorf("unexpected tool %s", req.Tool)
	}
	return h(n, req)
}

func (g *fakeGen) GenerateJSON(_ context.Context, req llm.Request, _ int) (map[string]any, error) {
	n := g.record(req)
	h, ok := g.json[req.Tool]
	if !ok {
		return nil, fmt.Errorf("unexpected tool %s", req.Tool)
	}
	return h(n, req)
}

func (g *fakeGen) callsFor(tool string) []llm.Request {
	var out []llm.Request
	for _, c := range g.calls {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

const fullBrief = `## Headline
Dopamine shapes focus.

## Mechanism Bridge
Dopamine links to motivation on the journey.

## Key Numbers
- 12% of adults report ADHD traits
- 3 in 10 wait over 6 months
- 40 clinics serve the region
- 2 hospitals run adult programs

## How It Lands
It lands gently.

## What We Need To Say
Say it plainly.

## Local Solutions vs Gaps
Some services, long waits.`

func selected(ids ...int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf(`{"filename": "persona_%02d.json", "justification": "fits %d"}`, id, id)
	}
	return strings.Join(parts, ",")
}

func testPersonas(n int) []Persona {
	out := make([]Persona, n)
	for i := range out {
		out[i] = NewPersona(fmt.Sprintf("persona_%02d.json", i+1), map[string]any{
			"age":        "30s",
			"gender":     "woman",
			"locality":   "South City",
			"diagnoses":  []any{"ADHD"},
			"life_stage": "early career",
			"challenges": []any{"time blindness at work"},
		})
	}
	return out
}

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testInput() Input {
	return Input{
		DocumentID: "dopamine-1234abcd",
		Title:      "Dopamine and executive load",
		Text:       "Adults with ADHD show dopamine differences in the prefrontal cortex.",
		Alignment: types.AlignmentProfile{
			PrimaryTopics:        []string{"dopamine", "prefrontal"},
			RelatedPersonaThemes: []string{"adhd self-regulation", "executive function"},
			AlignmentConfidence:  types.AlignmentDirect,
		},
		Entities: types.EntityBuckets{"neurotransmitters": {"dopamine"}, "diagnoses": {"adhd"}},
	}
}

func newTestCurator(gen Generator, personas []Persona, opts ...Option) *Curator {
	opts = append([]Option{WithLogger(quiet()), WithReport("The region has 12 clinics. Waits are long. About 30% lack insurance.", "")}, opts...)
	return New(gen, personas, types.CurationConfig{TopK: 5}, opts...)
}

// --- sanitize ---

func TestSanitize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"your journey", "your experience"},
		{"Journey ahead", "Experience ahead"},
		{"two pathways", "two processes"},
		{"ROADMAP", "PLAN"},
		{"Roadmaps and journeys", "Plans and experiences"},
		{"journeyman stays", "journeyman stays"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), tt.in)
	}
}

// --- personas ---

func TestLoadPersonas(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("profile_b.json", `{"age": 41}`)
	write("persona_a.json", `{"age": "20s", "diagnoses": "ADHD; anxiety"}`)
	write("persona_bad.json", `{not json`)
	write("notes.json", `{}`)
	write("my_persona_x.json", `{}`)

	got, err := LoadPersonas(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "persona_a.json", got[0].Filename)
	assert.Equal(t, "profile_b.json", got[1].Filename)
	assert.Equal(t, []string{"adhd", "anxiety"}, got[0].Diagnoses())
	assert.Equal(t, "41", got[1].Field("age"))

	_, err = LoadPersonas(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestCatalogLine(t *testing.T) {
	p := NewPersona("persona_01.json", map[string]any{
		"demographics": map[string]any{"age": "30s", "city": "Maplewood"},
		"diagnoses":    []any{"ADHD", "Anxiety"},
		"challenges":   []any{"time blindness"},
	})
	assert.Equal(t, "id=persona_01.json | age=30s | locality=Maplewood | diagnoses=adhd, anxiety | challenges=time blindness", p.CatalogLine())
}

func TestFallbackScore(t *testing.T) {
	p := NewPersona("persona_01.json", map[string]any{
		"diagnoses":  []any{"ADHD"},
		"challenges": []any{"time blindness at work"},
		"notes":      "responds to dopamine framing",
	})
	docTokens := documentTokens("ADHD adults report time blindness")

	got := FallbackScore(p, []string{"dopamine", "prefrontal"}, docTokens)
	assert.InDelta(t, 0.5+2.0+1.5+0.75, got, 1e-9)
	assert.Equal(t, got, FallbackScore(p, []string{"dopamine", "prefrontal"}, docTokens))
}

func TestRankPersonas_TiesByFilename(t *testing.T) {
	ps := testPersonas(3)
	ps[0], ps[2] = ps[2], ps[0]
	ranked := rankPersonas(ps, nil, nil)
	assert.Equal(t, "persona_01.json", ranked[0].persona.Filename)
	assert.Equal(t, "persona_03.json", ranked[2].persona.Filename)
}

func TestSelectPersonas_PadsShortfall(t *testing.T) {
	gen := newFakeGen()
	gen.text["persona_selection"] = func(int, llm.Request) (string, error) {
		return `{"selected": [` + selected(3, 5) + `]}`, nil
	}
	c := newTestCurator(gen, testPersonas(7))

	sel, err := c.selectPersonas(context.Background(), testInput(), 1, nil)
	require.NoError(t, err)
	require.Len(t, sel.personas, 5)

	var names []string
	for _, sp := range sel.personas {
		names = append(names, sp.Filename)
	}
	assert.Equal(t, []string{"persona_03.json", "persona_05.json", "persona_01.json", "persona_02.json", "persona_04.json"}, names)
	for i, sp := range sel.personas {
		if i < 2 {
			assert.True(t, sp.SelectionMeta.LLMSelected)
			assert.Nil(t, sp.SelectionMeta.FallbackScore)
			continue
		}
		assert.False(t, sp.SelectionMeta.LLMSelected)
		require.NotNil(t, sp.SelectionMeta.FallbackScore)
	}
	assert.Contains(t, sel.warnings[0], "returned 2 of 5")

	again, err := c.selectPersonas(context.Background(), testInput(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, sel.personas, again.personas)
}

func TestSelectPersonas_RegexFallback(t *testing.T) {
	gen := newFakeGen()
	gen.text["persona_selection"] = func(int, llm.Request) (string, error) {
		return "I would pick persona_02.json and persona_06.json because they fit.", nil
	}
	c := newTestCurator(gen, testPersonas(6))

	sel, err := c.selectPersonas(context.Background(), testInput(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "persona_02.json", sel.personas[0].Filename)
	assert.Equal(t, "persona_06.json", sel.personas[1].Filename)
	assert.True(t, sel.personas[1].SelectionMeta.LLMSelected)
}

func TestSelectPersonas_UnknownAndDuplicateIgnored(t *testing.T) {
	gen := newFakeGen()
	gen.text["persona_selection"] = func(int, llm.Request) (string, error) {
		return `["persona_01.json", "persona_01.json", "persona_99.json"]`, nil
	}
	c := newTestCurator(gen, testPersonas(5))

	sel, err := c.selectPersonas(context.Background(), testInput(), 1, nil)
	require.NoError(t, err)
	assert.Len(t, sel.personas, 5)
	assert.Equal(t, "persona_01.json", sel.personas[0].Filename)
	assert.True(t, sel.personas[0].SelectionMeta.LLMSelected)
	assert.False(t, sel.personas[1].SelectionMeta.LLMSelected)
}

func TestSelectPersonas_AttemptPolicy(t *testing.T) {
	gen := newFakeGen()
	c := newTestCurator(gen, testPersonas(40))
	for attempt := 1; attempt <= 4; attempt++ {
		_, err := c.selectPersonas(context.Background(), testInput(), attempt, nil)
		require.NoError(t, err)
	}
	calls := gen.callsFor("persona_selection")
	wantSizes := []int{30, 25, 20, 20}
	wantTemps := []float64{0.40, 0.35, 0.30, 0.30}
	for i, call := range calls {
		assert.Equal(t, wantSizes[i], strings.Count(call.Prompt, "- id=persona_"), "attempt %d", i+1)
		require.NotNil(t, call.Temperature)
		assert.InDelta(t, wantTemps[i], *call.Temperature, 1e-9)
	}
}

func TestClampTopK(t *testing.T) {
	assert.Equal(t, 5, clampTopK(0))
	assert.Equal(t, 5, clampTopK(2))
	assert.Equal(t, 7, clampTopK(7))
	assert.Equal(t, 10, clampTopK(50))
}

// --- bridge and health ---

func TestPersonasText(t *testing.T) {
	sp := []types.SelectedPersona{{Filename: "persona_01.json", Persona: map[string]any{"challenges": []any{"a long journey to diagnosis"}}}}
	got := PersonasText(testInput().Alignment, sp)
	assert.True(t, strings.HasPrefix(got, "MECHANISM BRIDGE\n"))
	assert.Contains(t, got, "- persona_01.json: dopamine, prefrontal helps explain a long experience to diagnosis.")
	assert.NotContains(t, got, "journey")
}

func TestEnsureSections(t *testing.T) {
	brief := "Intro text\n\n# Headline\nBig news.\n\n## Key Numbers\n- 12% of adults\n- 3 clinics\n- no number here\n\n## Random\nignored"
	fills := map[string]string{"Key Numbers": "- 1 fill\n- 2 fill\n- 3 fill"}
	for _, s := range BriefSections {
		if s != "Key Numbers" {
			fills[s] = "filled " + s
		}
	}

	got, filled := EnsureSections(brief, fills)
	assert.Equal(t, []string{"Mechanism Bridge", "How It Lands", "What We Need To Say", "Local Solutions vs Gaps"}, filled)

	sections := parseSections(got)
	require.Len(t, sections, len(BriefSections))
	for i, s := range sections {
		assert.Equal(t, BriefSections[i], s.title)
	}
	assert.Equal(t, "Big news.", strings.TrimSpace(sections[0].body))
	assert.Equal(t, 4, NumericBullets(sections[2].body))
	assert.Contains(t, sections[2].body, "- 2 fill")
	assert.NotContains(t, sections[2].body, "- 3 fill")
	assert.NotContains(t, got, "Random")
}

func TestEnsureSections_HeadingVariants(t *testing.T) {
	brief := "## local solutions VS. gaps\nsome\n\n## **Headline**\nbold"
	got, filled := EnsureSections(brief, map[string]string{"Key Numbers": ""})
	assert.NotContains(t, filled, "Local Solutions vs Gaps")
	assert.NotContains(t, filled, "Headline")
	assert.Contains(t, got, "## Headline\nbold")
}

func TestNumericSnippets(t *testing.T) {
	got := NumericSnippets("The region has 12 clinics. Waits are long. About 30% lack insurance.", 5)
	assert.Equal(t, []string{"The region has 12 clinics.", "About 30% lack insurance."}, got)
	assert.Empty(t, NumericSnippets("No numbers at all.", 5))
}

func TestSynthHealth_DefaultStatisticsAndGuardrails(t *testing.T) {
	gen := newFakeGen()
	c := newTestCurator(gen, nil, WithReport("Nothing numeric here.", "digest text"))

	brief, warnings, err := c.synthHealth(context.Background(), testInput(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Contains(t, brief, "## Key Local Statistics\n- "+defaultStatistics[0]+"\n- "+defaultStatistics[1])
	assert.True(t, strings.HasSuffix(brief, VoiceGuardrails))
	assert.Contains(t, brief, "motivation on the experience")
	assert.Contains(t, gen.calls[0].Prompt, "digest text")
}

func TestSynthHealth_GenerationFailureFillsSkeleton(t *testing.T) {
	gen := newFakeGen()
	gen.text["health_brief"] = func(int, llm.Request) (string, error) { return "", llm.ErrEmpty }
	c := newTestCurator(gen, nil)

	brief, warnings, err := c.synthHealth(context.Background(), testInput(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
	for _, s := range BriefSections {
		assert.Contains(t, brief, "## "+s)
	}
	assert.Contains(t, brief, "- The region has 12 clinics.")
}

func TestDemographicSummary(t *testing.T) {
	sp := []types.SelectedPersona{
		{Filename: "a", Persona: map[string]any{"locality": "North", "diagnoses": []any{"ADHD"}}},
		{Filename: "b", Persona: map[string]any{"locality": "North", "diagnoses": []any{"ADHD", "autism"}}},
	}
	assert.Equal(t, "2 personas. Localities: North (2). Diagnoses: adhd (2), autism (1). Life stages: none recorded.", DemographicSummary(sp))
}

// --- voice ---

func TestVoiceGuide_FallbackWithoutSources(t *testing.T) {
	gen := newFakeGen()
	v := NewVoiceGuide()
	got, err := v.Ensure(context.Background(), gen, "", nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackVoiceGuide, got)
	assert.Equal(t, "fallback", v.Source())
	assert.Empty(t, gen.calls)
}

func TestVoiceGuide_GeneratedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.txt")
	require.NoError(t, os.WriteFile(path, []byte("We talk about your brain, not your flaws."), 0o644))
	gen := newFakeGen()
	v := NewVoiceGuide()

	for i := 0; i < 2; i++ {
		got, err := v.Ensure(context.Background(), gen, path, nil)
		require.NoError(t, err)
		assert.Equal(t, "Be warm.", got)
	}
	assert.Len(t, gen.callsFor("voice_guide"), 1)
	assert.Equal(t, "generated", v.Source())
}

func TestVoiceGuide_ServiceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.txt")
	require.NoError(t, os.WriteFile(path, []byte("words"), 0o644))
	gen := newFakeGen()
	gen.text["voice_guide"] = func(int, llm.Request) (string, error) {
		return "", &llm.ServiceError{Endpoint: "x", Status: 503}
	}
	_, err := NewVoiceGuide().Ensure(context.Background(), gen, path, nil)
	assert.True(t, llm.IsServiceError(err))
}

// --- review and verify ---

func TestReviewFrom(t *testing.T) {
	rv := ReviewFrom(map[string]any{"overall_pass": "yes", "liz_voice_ok": true, "issues": "one issue"})
	assert.True(t, rv.OverallPass)
	assert.True(t, rv.VoiceOK)
	assert.False(t, rv.StatisticalSupportOK)
	assert.Equal(t, []string{"one issue"}, rv.Issues)
}

func TestReview_MalformedFails(t *testing.T) {
	gen := newFakeGen()
	gen.json["context_review"] = func(int, llm.Request) (map[string]any, error) { return nil, llm.ErrMalformed }
	c := newTestCurator(gen, nil)

	rv, err := c.review(context.Background(), testInput(), &types.CuratedContext{})
	require.NoError(t, err)
	assert.False(t, rv.OverallPass)
	assert.NotEmpty(t, rv.Issues)
	require.NotNil(t, gen.calls[0].Temperature)
	assert.InDelta(t, 0.1, *gen.calls[0].Temperature, 1e-9)
}

func TestVerificationFrom(t *testing.T) {
	assert.Equal(t, types.StatusPass, VerificationFrom(map[string]any{"status": "PASS"}).Status)
	assert.Equal(t, types.StatusRevise, VerificationFrom(map[string]any{"status": "maybe"}).Status)
	assert.Equal(t, types.StatusRevise, VerificationFrom(map[string]any{}).Status)
}

func TestVerify_ErrorStatus(t *testing.T) {
	gen := newFakeGen()
	gen.json["context_verification"] = func(int, llm.Request) (map[string]any, error) { return nil, errors.New("boom") }
	c := newTestCurator(gen, nil)
	vr, err := c.verify(context.Background(), testInput(), &types.CuratedContext{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, vr.Status)
}

func TestReviewAndVerify_ServiceErrorReturned(t *testing.T) {
	gen := newFakeGen()
	down := func(int, llm.Request) (map[string]any, error) {
		return nil, &llm.ServiceError{Endpoint: "http://llm", Status: 503}
	}
	gen.json["context_review"] = down
	gen.json["context_verification"] = down
	c := newTestCurator(gen, nil)

	_, err := c.review(context.Background(), testInput(), &types.CuratedContext{})
	assert.True(t, llm.IsServiceError(err))
	_, err = c.verify(context.Background(), testInput(), &types.CuratedContext{})
	assert.True(t, llm.IsServiceError(err))
}

// --- loop ---

func TestCurate_PassesFirstAttempt(t *testing.T) {
	gen := newFakeGen()
	c := newTestCurator(gen, testPersonas(8))

	res, err := c.Curate(context.Background(), testInput())
	require.NoError(t, err)
	cc := res.Context
	assert.Equal(t, types.StatusPass, cc.Verification.FinalStatus)
	assert.True(t, cc.Review.FinalPass)
	assert.Len(t, cc.Review.Attempts, 1)
	assert.Len(t, cc.Verification.Attempts, 1)
	assert.Len(t, cc.SelectedPersonas, 5)
	assert.Equal(t, FallbackVoiceGuide, cc.VoiceGuide)
	assert.Equal(t, Estimate(cc), cc.TokenEstimate)
	assert.Greater(t, cc.TokenEstimate.Total, 0)
	assert.Equal(t, testInput().Alignment, cc.AlignmentProfile)
	assert.NotContains(t, cc.HealthBrief, "journey")
}

func TestCurate_FeedbackCarriedAcrossAttempts(t *testing.T) {
	gen := newFakeGen()
	gen.json["context_review"] = func(n int, _ llm.Request) (map[string]any, error) {
		if n < 3 {
			return map[string]any{"overall_pass": false, "mechanism_feedback": fmt.Sprintf("tie dopamine to focus %d", n)}, nil
		}
		return map[string]any{"overall_pass": true}, nil
	}
	c := newTestCurator(gen, testPersonas(8))

	res, err := c.Curate(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, types.StatusPass, res.Context.Verification.FinalStatus)
	assert.Len(t, res.Context.Review.Attempts, 3)
	assert.Len(t, gen.callsFor("context_verification"), 1, "failed reviews skip the verifier until the last attempt")

	sel := gen.callsFor("persona_selection")
	require.Len(t, sel, 3)
	assert.NotContains(t, sel[0].Prompt, "tie dopamine")
	assert.Contains(t, sel[1].Prompt, "tie dopamine to focus 1")
	assert.Contains(t, sel[2].Prompt, "tie dopamine to focus 2")
	assert.Len(t, gen.callsFor("voice_guide"), 0)
}

func TestCurate_ExhaustedReturnsRevise(t *testing.T) {
	gen := newFakeGen()
	gen.json["context_verification"] = func(int, llm.Request) (map[string]any, error) {
		return map[string]any{"status": "revise", "health_feedback": "needs numbers"}, nil
	}
	c := newTestCurator(gen, testPersonas(5))

	res, err := c.Curate(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, types.StatusRevise, res.Context.Verification.FinalStatus)
	assert.Len(t, res.Context.Verification.Attempts, 3)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1], "did not pass verification after 3 attempts")
	assert.Contains(t, gen.callsFor("health_brief")[1].Prompt, "needs numbers")
}

func TestCurate_ServiceErrorEscalates(t *testing.T) {
	gen := newFakeGen()
	gen.text["persona_selection"] = func(int, llm.Request) (string, error) {
		return "", &llm.ServiceError{Endpoint: "x", Status: 500}
	}
	c := newTestCurator(gen, testPersonas(5))

	_, err := c.Curate(context.Background(), testInput())
	assert.True(t, llm.IsServiceError(err))
}

func TestCurate_ReviewerServiceErrorEscalates(t *testing.T) {
	gen := newFakeGen()
	gen.json["context_review"] = func(int, llm.Request) (map[string]any, error) {
		return nil, &llm.ServiceError{Endpoint: "x", Status: 502}
	}
	c := newTestCurator(gen, testPersonas(5))

	res, err := c.Curate(context.Background(), testInput())
	assert.Nil(t, res)
	assert.True(t, llm.IsServiceError(err))
	assert.Len(t, gen.callsFor("context_review"), 1, "no further attempts after a transport failure")
	assert.Empty(t, gen.callsFor("context_verification"))
}

func TestCurate_VerifierServiceErrorEscalates(t *testing.T) {
	gen := newFakeGen()
	gen.json["context_verification"] = func(int, llm.Request) (map[string]any, error) {
		return nil, &llm.ServiceError{Endpoint: "x", Status: 504}
	}
	c := newTestCurator(gen, testPersonas(5))

	_, err := c.Curate(context.Background(), testInput())
	assert.True(t, llm.IsServiceError(err))
}

func TestCurate_UnusableVerdictEndsWithErrorStatus(t *testing.T) {
	gen := newFakeGen()
	gen.json["context_verification"] = func(int, llm.Request) (map[string]any, error) {
		return nil, llm.ErrMalformed
	}
	c := newTestCurator(gen, testPersonas(5))

	res, err := c.Curate(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, res.Context.Verification.FinalStatus)
	assert.Len(t, res.Context.Verification.Attempts, 3)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1], "did not pass verification after 3 attempts")
}

func TestReverify_OnlyRunsVerifier(t *testing.T) {
	gen := newFakeGen()
	c := newTestCurator(gen, testPersonas(6))
	first, err := c.Curate(context.Background(), testInput())
	require.NoError(t, err)

	gen.calls = nil
	again, err := c.Reverify(context.Background(), testInput(), first.Context)
	require.NoError(t, err)
	require.Len(t, gen.calls, 1)
	assert.Equal(t, "context_verification", gen.calls[0].Tool)
	assert.Equal(t, types.StatusPass, again.Context.Verification.FinalStatus)
	assert.Equal(t, first.Context.SelectedPersonas, again.Context.SelectedPersonas)
	assert.Equal(t, first.Context.HealthBrief, again.Context.HealthBrief)
	assert.Len(t, again.Context.Verification.Attempts, 2)
	assert.Len(t, first.Context.Verification.Attempts, 1, "original bundle untouched")
}

type stubLookup struct {
	queries []string
	defErr  error
}

func (s *stubLookup) LocalResources(_ context.Context, q string) ([]types.LocalResource, error) {
	s.queries = append(s.queries, q)
	return []types.LocalResource{{Name: "Clinic", Address: "1 Main St"}}, nil
}

func (s *stubLookup) Define(_ context.Context, term string) (string, error) {
	if s.defErr != nil {
		return "", s.defErr
	}
	return "definition of " + term, nil
}

func TestCurate_OptionalLookups(t *testing.T) {
	gen := newFakeGen()
	lk := &stubLookup{}
	c := New(gen, testPersonas(5), types.CurationConfig{Region: "St. Louis, MO", EntityDefinitions: true},
		WithLogger(quiet()), WithReport("", ""), WithLookup(lk))

	res, err := c.Curate(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"adhd self-regulation support near St. Louis, MO"}, lk.queries)
	assert.Len(t, res.Context.LocalResources, 1)
	assert.Equal(t, "definition of dopamine", res.Context.EntityDefinitions["dopamine"])

	lk.defErr = errors.New("offline")
	res, err = c.Curate(context.Background(), testInput())
	require.NoError(t, err)
	assert.Nil(t, res.Context.EntityDefinitions)
}

func TestNewFromConfig_MissingPersonaDir(t *testing.T) {
	c, err := NewFromConfig(newFakeGen(), types.CurationConfig{PersonaDir: filepath.Join(t.TempDir(), "none")}, WithLogger(quiet()))
	require.NoError(t, err)
	res, err := c.Curate(context.Background(), testInput())
	require.NoError(t, err)
	assert.Empty(t, res.Context.SelectedPersonas)
	assert.Contains(t, res.Warnings, "no personas available")
}
