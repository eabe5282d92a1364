// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package usage keeps the daily AI usage ledger (logs/ai_usage.json) and
// enforces per-tool daily caps. Every call loads, modifies and saves the
// file; concurrent processes may race and the last write wins.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const maxEvents = 50

// Well-known tool names with daily caps.
const (
	ToolGemini       = "gemini_cli"
	ToolDeepResearch = "deep_research"
	ToolCodexLocal   = "codex_local"
	ToolFactCheck    = "openai_factcheck"
)

// Ledger is the usage file plus its limits.
type Ledger struct {
	path      string
	limits    map[string]int
	costPer1K map[string]float64

	// now is replaceable in tests.
	now func() time.Time
	mu  sync.Mutex
}

// New returns a ledger backed by cfg.Path.
func New(cfg types.UsageConfig) *Ledger {
	return &Ledger{
		path:      cfg.Path,
		limits:    cfg.Limits,
		costPer1K: cfg.CostPer1K,
		now:       time.Now,
	}
}

// Record adds one call for tool with its token counts.
func (l *Ledger) Record(tool string, tokensIn, tokensOut int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.load()
	if err != nil {
		return err
	}

	now := l.now().UTC()
	day := now.Format(time.DateOnly)
	bucket := data[day]
	if bucket == nil {
		bucket = &types.DailyUsage{}
		data[day] = bucket
	}
	if bucket.Tools == nil {
		bucket.Tools = map[string]*types.ToolUsage{}
	}
	tu := bucket.Tools[tool]
	if tu == nil {
		tu = &types.ToolUsage{}
		bucket.Tools[tool] = tu
	}

	cost := float64(tokensIn+tokensOut) / 1000 * l.costPer1K[tool]
	stamp := now.Format(time.RFC3339)
	tu.Count++
	tu.TokensIn += tokensIn
	tu.TokensOut += tokensOut
	tu.CostUSD += cost
	tu.LastUsed = stamp
	tu.Events = append(tu.Events, types.UsageEvent{Timestamp: stamp, TokensIn: tokensIn, TokensOut: tokensOut, CostUSD: cost})
	if len(tu.Events) > maxEvents {
		tu.Events = tu.Events[len(tu.Events)-maxEvents:]
	}

	return l.save(data)
}

// Allow reports whether tool is under its daily cap. Tools without a
// configured cap are always allowed.
func (l *Ledger) Allow(tool string) bool {
	limit := l.limits[tool]
	if limit <= 0 {
		return true
	}
	return l.Count(tool) < limit
}

// Count returns today's call count for tool.
func (l *Ledger) Count(tool string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.load()
	if err != nil {
		return 0
	}
	bucket := data[l.now().UTC().Format(time.DateOnly)]
	if bucket == nil || bucket.Tools[tool] == nil {
		return 0
	}
	return bucket.Tools[tool].Count
}

// Snapshot returns the whole ledger.
func (l *Ledger) Snapshot() (types.UsageLedger, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Days returns the ledger's days in ascending order.
func Days(u types.UsageLedger) []string {
	days := make([]string, 0, len(u))
	for d := range u {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

func (l *Ledger) load() (types.UsageLedger, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.UsageLedger{}, nil
		}
		return nil, fmt.Errorf("reading usage ledger: %w", err)
	}
	u := types.UsageLedger{}
	if len(data) == 0 {
		return u, nil
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("parsing usage ledger %s: %w", l.path, err)
	}
	return u, nil
}

func (l *Ledger) save(u types.UsageLedger) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating usage directory: %w", err)
	}
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling usage ledger: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing usage ledger: %w", err)
	}
	return os.Rename(tmp, l.path)
}
