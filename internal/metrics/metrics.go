// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics holds the Prometheus collectors shared by pipeline stages.
// Collectors register with the default registry; the serve command exposes
// them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMRequests counts inference calls by tool and outcome
	// (valid, malformed, truncated, transport).
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enlitens_llm_requests_total",
		Help: "Inference requests by tool and outcome",
	}, []string{"tool", "outcome"})

	// LLMTokens counts tokens by direction ("in" or "out").
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enlitens_llm_tokens_total",
		Help: "Tokens exchanged with the inference server",
	}, []string{"direction"})

	// Documents counts ingested documents by outcome
	// (processed, failed, skipped, duplicate).
	Documents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enlitens_documents_total",
		Help: "Documents handled by the ingest orchestrator",
	}, []string{"outcome"})

	// StageDuration observes per-stage wall time.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enlitens_stage_duration_seconds",
		Help:    "Pipeline stage latency in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
	}, []string{"stage"})

	// EnrichmentLookups counts external lookups by source and result
	// (hit, miss, blocked, error).
	EnrichmentLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enlitens_enrichment_lookups_total",
		Help: "External enrichment lookups by source and result",
	}, []string{"source", "result"})

	// RepairSteps counts extraction repair cascade steps by step name.
	RepairSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enlitens_extraction_repairs_total",
		Help: "Extraction repair cascade steps taken",
	}, []string{"step"})

	// MirrorWrites counts persistence mirror upserts by mirror and result
	// (ok, error).
	MirrorWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enlitens_mirror_writes_total",
		Help: "Knowledge entry upserts by persistence mirror",
	}, []string{"mirror", "result"})
)
