// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/internal/metrics"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// repair runs the cascade over every failing field: a dedicated rescue
// prompt, then the external fallback, then graceful degradation.
func (e *Extractor) repair(ctx context.Context, ext *types.ScientificExtraction, source string, report Report, res *Result) error {
	for _, field := range report.Failing() {
		rule := e.rules[field]
		log := e.log.WithField("field", field)

		fixed, err := e.rescue(ctx, ext, source, field, rule)
		if err != nil {
			return err
		}
		if fixed {
			metrics.RepairSteps.WithLabelValues("rescue").Inc()
			res.Repaired = append(res.Repaired, field)
			log.Info("field rescued")
			continue
		}

		if e.fallback != nil {
			if e.tryFallback(ctx, ext, source, field, rule, log) {
				metrics.RepairSteps.WithLabelValues("fallback").Inc()
				res.Repaired = append(res.Repaired, field)
				continue
			}
		}

		metrics.RepairSteps.WithLabelValues("degrade").Inc()
		e.degrade(ext, field, rule, res, log)
	}
	return nil
}

// rescue retries one field with a dedicated prompt. It returns true once
// the field satisfies its rule.
func (e *Extractor) rescue(ctx context.Context, ext *types.ScientificExtraction, source, field string, rule FieldRule) (bool, error) {
	for attempt := 1; attempt <= rescueAttempts; attempt++ {
		problem := "too short"
		if fieldState(ext, field, rule) == stateMissing {
			problem = "empty"
		}
		obj, err := e.gen.GenerateJSON(ctx, llm.Request{
			Tool:         "field_rescue",
			SystemPrompt: systemPrompt,
			Prompt:       renderRescuePrompt(source, field, rule, problem, previousDraft(ext, field)),
			MaxTokens:    fieldMaxTokens,
			Schema:       extractionSchema(field),
		}, e.cfg.JSONAttempts)
		if err != nil {
			if llm.IsServiceError(err) {
				return false, err
			}
			continue
		}
		mergeField(ext, extractionFrom(obj), field)
		if fieldState(ext, field, rule) == stateOK {
			return true, nil
		}
	}
	return false, nil
}

// tryFallback asks the external fallback for the field. Its output is
// accepted only when it parses and satisfies the rule.
func (e *Extractor) tryFallback(ctx context.Context, ext *types.ScientificExtraction, source, field string, rule FieldRule, log logrus.FieldLogger) bool {
	prompt := renderRescuePrompt(source, field, rule, "unusable after several attempts", previousDraft(ext, field))
	raw, err := e.fallback.CompleteField(ctx, prompt)
	if err != nil {
		log.WithError(err).WithField("fallback", e.fallback.Name()).Warn("field fallback failed")
		return false
	}
	v, _, err := e.parser.Parse(ctx, raw)
	if err != nil {
		log.WithError(err).Warn("field fallback returned invalid JSON")
		return false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	trial := *ext
	trial.Citations = append([]string{}, ext.Citations...)
	mergeField(&trial, extractionFrom(obj), field)
	if fieldState(&trial, field, rule) != stateOK {
		log.WithField("fallback", e.fallback.Name()).Warn("field fallback output failed validation")
		return false
	}
	*ext = trial
	log.WithField("fallback", e.fallback.Name()).Info("field completed by fallback")
	return true
}

// degrade applies the last resort: missing fields get the placeholder;
// shallow fields follow the configured policy.
func (e *Extractor) degrade(ext *types.ScientificExtraction, field string, rule FieldRule, res *Result, log logrus.FieldLogger) {
	st := fieldState(ext, field, rule)
	if st == stateOK {
		return
	}
	res.Degraded = append(res.Degraded, field)

	if st == stateShallow && e.cfg.Shallow == types.ShallowAccept {
		msg := fmt.Sprintf("%s accepted below minimum length (%d)", field, fieldSize(ext, field))
		res.Warnings = append(res.Warnings, msg)
		log.Warn(msg)
		return
	}

	if field == types.FieldCitations {
		msg := fmt.Sprintf("citations below minimum (%d of %d)", len(ext.Citations), rule.MinItems)
		if len(ext.Citations) == 0 {
			ext.Citations = []string{Placeholder(field)}
			msg = "citations unavailable"
		}
		res.Warnings = append(res.Warnings, msg)
		log.Warn(msg)
		return
	}

	msg := fmt.Sprintf("%s replaced by placeholder", field)
	if st == stateShallow {
		msg = fmt.Sprintf("%s replaced by placeholder (only %d characters)", field, fieldSize(ext, field))
	}
	ext.SetNarrative(field, Placeholder(field))
	res.Warnings = append(res.Warnings, msg)
	log.Warn(msg)
}

func previousDraft(ext *types.ScientificExtraction, field string) string {
	if field == types.FieldCitations {
		if len(ext.Citations) == 0 {
			return ""
		}
		return fmt.Sprint(ext.Citations)
	}
	v := ext.Narrative(field)
	if IsPlaceholder(field, v) {
		return ""
	}
	return v
}
