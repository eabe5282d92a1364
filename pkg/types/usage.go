// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// UsageEvent is one recorded call.
type UsageEvent struct {
	Timestamp string  `json:"timestamp" yaml:"timestamp"`
	TokensIn  int     `json:"tokens_in" yaml:"tokens_in"`
	TokensOut int     `json:"tokens_out" yaml:"tokens_out"`
	CostUSD   float64 `json:"cost_usd" yaml:"cost_usd"`
}

// ToolUsage aggregates one tool's calls within a day.
type ToolUsage struct {
	Count     int          `json:"count" yaml:"count"`
	TokensIn  int          `json:"tokens_in" yaml:"tokens_in"`
	TokensOut int          `json:"tokens_out" yaml:"tokens_out"`
	CostUSD   float64      `json:"cost_usd" yaml:"cost_usd"`
	LastUsed  string       `json:"last_used" yaml:"last_used"`
	Events    []UsageEvent `json:"events" yaml:"events"`
}

// DailyUsage holds per-tool usage for one day.
type DailyUsage struct {
	Tools map[string]*ToolUsage `json:"tools" yaml:"tools"`
}

// UsageLedger maps a YYYY-MM-DD day to its usage bucket.
type UsageLedger map[string]*DailyUsage
