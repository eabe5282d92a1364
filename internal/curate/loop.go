// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package curate builds the grounding bundle for a paper: client
// personas, a regional health brief and the brand voice guide. Each
// attempt is reviewed and verified; feedback from a failed attempt is
// carried into the next as plain data.
package curate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const (
	defaultMaxAttempts = 3
	definitionTerms    = 5
)

// Generator is the subset of the inference client the curator uses.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
	GenerateJSON(ctx context.Context, req llm.Request, maxAttempts int) (map[string]any, error)
}

// Lookup supplies optional external context. Errors are logged and
// ignored.
type Lookup interface {
	LocalResources(ctx context.Context, query string) ([]types.LocalResource, error)
	Define(ctx context.Context, term string) (string, error)
}

// Input describes the paper being curated.
type Input struct {
	DocumentID string
	Title      string
	Text       string
	Alignment  types.AlignmentProfile
	Entities   types.EntityBuckets
}

// Result is a curated bundle plus non-fatal warnings.
type Result struct {
	Context  *types.CuratedContext
	Warnings []string
}

// Feedback carries reviewer and verifier comments into the next attempt.
type Feedback struct {
	Attempt    int
	Mechanism  string
	Statistics string
	Persona    string
	Health     string
	Voice      string
	Issues     []string
}

func feedbackFrom(attempt int, rv types.ReviewResult, vr *types.VerificationResult) *Feedback {
	fb := &Feedback{
		Attempt:    attempt,
		Mechanism:  rv.MechanismFeedback,
		Statistics: rv.StatisticsFeedback,
		Voice:      rv.VoiceFeedback,
		Issues:     append([]string{}, rv.Issues...),
	}
	if vr != nil {
		fb.Persona = vr.PersonaFeedback
		fb.Health = vr.HealthFeedback
		if vr.VoiceFeedback != "" {
			fb.Voice = strings.TrimSpace(fb.Voice + " " + vr.VoiceFeedback)
		}
		fb.Issues = append(fb.Issues, vr.Issues...)
	}
	return fb
}

func (f *Feedback) personaText() string {
	if f == nil {
		return ""
	}
	return joinNonEmpty(f.Mechanism, f.Persona, strings.Join(f.Issues, "; "))
}

func (f *Feedback) healthText() string {
	if f == nil {
		return ""
	}
	return joinNonEmpty(f.Statistics, f.Health, f.Voice)
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, "- "+p)
		}
	}
	return strings.Join(out, "\n")
}

// Curator runs the curation loop.
type Curator struct {
	gen      Generator
	parser   *llm.Parser
	personas []Persona
	voice    *VoiceGuide
	lookup   Lookup
	report   string
	digest   string
	cfg      types.CurationConfig
	log      logrus.FieldLogger
}

// Option configures a Curator.
type Option func(*Curator)

// WithLookup enables local resource and definition lookups.
func WithLookup(l Lookup) Option { return func(c *Curator) { c.lookup = l } }

// WithVoiceGuide shares a voice guide across curators.
func WithVoiceGuide(v *VoiceGuide) Option { return func(c *Curator) { c.voice = v } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(c *Curator) { c.log = l } }

// WithReport sets the regional health report and digest text directly.
func WithReport(report, digest string) Option {
	return func(c *Curator) { c.report, c.digest = report, digest }
}

// New returns a curator over a loaded persona set. The health report and
// digest are read from cfg paths unless WithReport is given.
func New(gen Generator, personas []Persona, cfg types.CurationConfig, opts ...Option) *Curator {
	c := &Curator{
		gen:      gen,
		parser:   &llm.Parser{},
		personas: personas,
		cfg:      cfg,
		log:      logrus.StandardLogger(),
		report:   readTruncated(cfg.HealthReportPath, 1<<20),
		digest:   readTruncated(cfg.DigestPath, digestChars),
	}
	for _, o := range opts {
		o(c)
	}
	if c.voice == nil {
		c.voice = NewVoiceGuide()
	}
	return c
}

// NewFromConfig loads personas from cfg.PersonaDir. A missing directory
// leaves the curator without personas.
func NewFromConfig(gen Generator, cfg types.CurationConfig, opts ...Option) (*Curator, error) {
	personas, err := LoadPersonas(cfg.PersonaDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return New(gen, personas, cfg, opts...), nil
}

// Voice returns the shared voice guide.
func (c *Curator) Voice() *VoiceGuide { return c.voice }

func (c *Curator) maxAttempts() int {
	if c.cfg.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return c.cfg.MaxAttempts
}

// Curate runs up to MaxAttempts plan, review and verify rounds. It
// returns on the first verifier pass, otherwise the last bundle marked
// revise, or error when the last verifier call gave no usable verdict.
// Only transport failures of the subagents are returned as errors.
func (c *Curator) Curate(ctx context.Context, in Input) (*Result, error) {
	log := c.log.WithField("document_id", in.DocumentID)
	res := &Result{}

	var (
		fb       *Feedback
		reviews  types.ReviewLog
		verifs   types.VerificationLog
		last     *types.CuratedContext
		extras   *enrichment
		attempts = c.maxAttempts()
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := log.WithField("attempt", attempt)

		sel, err := c.selectPersonas(ctx, in, attempt, fb)
		if err != nil {
			return nil, fmt.Errorf("selecting personas: %w", err)
		}
		res.Warnings = append(res.Warnings, sel.warnings...)
		personasText := PersonasText(in.Alignment, sel.personas)

		if extras == nil {
			extras = c.enrich(ctx, in)
		}

		brief, warnings, err := c.synthHealth(ctx, in, sel.personas, fb)
		if err != nil {
			return nil, fmt.Errorf("synthesizing health brief: %w", err)
		}
		res.Warnings = append(res.Warnings, warnings...)

		voice, err := c.voice.Ensure(ctx, c.gen, c.cfg.TranscriptsPath, c.cfg.FrameworkPaths)
		if err != nil {
			return nil, err
		}

		cc := &types.CuratedContext{
			SelectedPersonas:  sel.personas,
			PersonasText:      personasText,
			HealthBrief:       brief,
			VoiceGuide:        voice,
			AlignmentProfile:  in.Alignment,
			LocalResources:    extras.resources,
			EntityDefinitions: extras.definitions,
		}
		cc.TokenEstimate = Estimate(cc)

		rv, err := c.review(ctx, in, cc)
		if err != nil {
			return nil, err
		}
		reviews.Attempts = append(reviews.Attempts, rv)
		reviews.FinalPass = rv.OverallPass
		cc.Review = copyReviews(reviews)
		log.WithField("overall_pass", rv.OverallPass).Info("curation reviewed")

		if !rv.OverallPass && attempt < attempts {
			cc.Verification = copyVerifications(verifs, types.StatusRevise)
			fb = feedbackFrom(attempt, rv, nil)
			last = cc
			continue
		}

		vr, err := c.verify(ctx, in, cc)
		if err != nil {
			return nil, err
		}
		verifs.Attempts = append(verifs.Attempts, vr)
		log.WithField("status", vr.Status).Info("curation verified")
		if vr.Status == types.StatusPass {
			cc.Verification = copyVerifications(verifs, types.StatusPass)
			res.Context = cc
			return res, nil
		}
		cc.Verification = copyVerifications(verifs, unresolved(vr))
		fb = feedbackFrom(attempt, rv, &vr)
		last = cc
	}

	res.Warnings = append(res.Warnings, fmt.Sprintf("curation did not pass verification after %d attempts", attempts))
	log.WithField("status", last.Verification.FinalStatus).Warn("curation finished without a pass")
	res.Context = last
	return res, nil
}

// Reverify runs only the verifier over an existing bundle and returns a
// copy carrying the new verdict.
func (c *Curator) Reverify(ctx context.Context, in Input, bundle *types.CuratedContext) (*Result, error) {
	if bundle == nil {
		return nil, fmt.Errorf("reverify: nil bundle")
	}
	cc := *bundle
	cc.Review = copyReviews(bundle.Review)
	vr, err := c.verify(ctx, in, &cc)
	if err != nil {
		return nil, err
	}
	verifs := types.VerificationLog{Attempts: append(append([]types.VerificationResult{}, bundle.Verification.Attempts...), vr)}

	res := &Result{Context: &cc}
	if vr.Status == types.StatusPass {
		cc.Verification = copyVerifications(verifs, types.StatusPass)
		return res, nil
	}
	cc.Verification = copyVerifications(verifs, unresolved(vr))
	res.Warnings = append(res.Warnings, "cached curation failed re-verification")
	return res, nil
}

// Estimate counts chars/4 per block.
func Estimate(cc *types.CuratedContext) types.TokenEstimate {
	te := types.TokenEstimate{
		Personas:    len([]rune(cc.PersonasText)) / 4,
		HealthBrief: len([]rune(cc.HealthBrief)) / 4,
		VoiceGuide:  len([]rune(cc.VoiceGuide)) / 4,
	}
	te.Total = te.Personas + te.HealthBrief + te.VoiceGuide
	return te
}

func copyReviews(r types.ReviewLog) types.ReviewLog {
	return types.ReviewLog{Attempts: append([]types.ReviewResult{}, r.Attempts...), FinalPass: r.FinalPass}
}

// unresolved is the final status of a bundle whose last verdict was not
// pass: error when the verifier gave no usable verdict, otherwise revise.
func unresolved(last types.VerificationResult) types.VerificationStatus {
	if last.Status == types.StatusError {
		return types.StatusError
	}
	return types.StatusRevise
}

func copyVerifications(v types.VerificationLog, status types.VerificationStatus) types.VerificationLog {
	return types.VerificationLog{Attempts: append([]types.VerificationResult{}, v.Attempts...), FinalStatus: status}
}

type enrichment struct {
	resources   []types.LocalResource
	definitions map[string]string
}

// enrich runs the optional lookups once per document.
func (c *Curator) enrich(ctx context.Context, in Input) *enrichment {
	out := &enrichment{}
	if c.lookup == nil {
		return out
	}
	if c.cfg.Region != "" {
		query := "neurodivergent adult mental health services"
		if len(in.Alignment.RelatedPersonaThemes) > 0 {
			query = in.Alignment.RelatedPersonaThemes[0] + " support"
		}
		res, err := c.lookup.LocalResources(ctx, query+" near "+c.cfg.Region)
		if err != nil {
			c.log.WithError(err).Info("local resource lookup failed")
		}
		out.resources = res
	}
	if c.cfg.EntityDefinitions {
		terms := in.Entities.Flatten()
		if len(terms) > definitionTerms {
			terms = terms[:definitionTerms]
		}
		for _, t := range terms {
			def, err := c.lookup.Define(ctx, t)
			if err != nil || def == "" {
				if err != nil {
					c.log.WithError(err).WithField("term", t).Info("definition lookup failed")
				}
				continue
			}
			if out.definitions == nil {
				out.definitions = map[string]string{}
			}
			out.definitions[t] = def
		}
	}
	return out
}
