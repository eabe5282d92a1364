// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package diag summarizes the JSON processing log: entries per level,
// which documents succeeded or failed, the most frequent errors and the
// mean processing time per document.
package diag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pdiddy/enlitens-kb/internal/logging"
)

// ErrorCount is one distinct error message and how often it occurred.
type ErrorCount struct {
	Message string `json:"message" yaml:"message"`
	Count   int    `json:"count" yaml:"count"`
}

// Report is the result of analysing a log.
type Report struct {
	Lines       int            `json:"lines" yaml:"lines"`
	Unparsed    int            `json:"unparsed" yaml:"unparsed"`
	Levels      map[string]int `json:"levels" yaml:"levels"`
	Succeeded   []string       `json:"succeeded" yaml:"succeeded"`
	Failed      []string       `json:"failed" yaml:"failed"`
	Skipped     int            `json:"skipped" yaml:"skipped"`
	TopErrors   []ErrorCount   `json:"top_errors" yaml:"top_errors"`
	MeanSeconds float64        `json:"mean_seconds" yaml:"mean_seconds"`
}

// DefaultTopErrors is the number of error messages kept in a report.
const DefaultTopErrors = 10

const maxErrorLen = 200

// AnalyzeFile analyses the log at path.
func AnalyzeFile(path string, top int) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Analyze(f, top)
}

// Analyze reads JSON log lines from r. Lines that are not JSON objects
// are counted as unparsed. A document that failed and later succeeded is
// reported as succeeded only.
func Analyze(r io.Reader, top int) (*Report, error) {
	if top <= 0 {
		top = DefaultTopErrors
	}
	rep := &Report{Levels: map[string]int{}}
	errs := map[string]int{}
	outcome := map[string]string{}
	var order []string
	var totalSeconds float64
	var timed int

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 8<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rep.Lines++

		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			rep.Unparsed++
			continue
		}
		level := str(rec["level"])
		if level == "" {
			level = "unknown"
		}
		rep.Levels[level]++

		id := str(rec[logging.FieldDocumentID])
		switch str(rec[logging.FieldEvent]) {
		case logging.EventDocumentProcessed:
			if id != "" {
				if _, seen := outcome[id]; !seen {
					order = append(order, id)
				}
				outcome[id] = "ok"
			}
			if s, ok := rec[logging.FieldSeconds].(float64); ok {
				totalSeconds += s
				timed++
			}
		case logging.EventDocumentFailed:
			if id != "" {
				if _, seen := outcome[id]; !seen {
					order = append(order, id)
					outcome[id] = "failed"
				}
			}
		case logging.EventDocumentSkipped:
			rep.Skipped++
		}

		if level == "error" || level == "fatal" || level == "panic" {
			msg := str(rec["error"])
			if msg == "" {
				msg = str(rec["msg"])
			}
			errs[truncate(msg)]++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}

	for _, id := range order {
		if outcome[id] == "ok" {
			rep.Succeeded = append(rep.Succeeded, id)
		} else {
			rep.Failed = append(rep.Failed, id)
		}
	}
	if timed > 0 {
		rep.MeanSeconds = totalSeconds / float64(timed)
	}

	for msg, n := range errs {
		rep.TopErrors = append(rep.TopErrors, ErrorCount{Message: msg, Count: n})
	}
	sort.Slice(rep.TopErrors, func(i, j int) bool {
		a, b := rep.TopErrors[i], rep.TopErrors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Message < b.Message
	})
	if len(rep.TopErrors) > top {
		rep.TopErrors = rep.TopErrors[:top]
	}
	return rep, nil
}

// Write prints a plain-text report.
func (r *Report) Write(w io.Writer) {
	fmt.Fprintf(w, "lines: %d (unparsed %d)\n", r.Lines, r.Unparsed)

	levels := make([]string, 0, len(r.Levels))
	for l := range r.Levels {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	for _, l := range levels {
		fmt.Fprintf(w, "  %-8s %d\n", l, r.Levels[l])
	}

	fmt.Fprintf(w, "documents: %d succeeded, %d failed, %d skipped\n", len(r.Succeeded), len(r.Failed), r.Skipped)
	for _, id := range r.Failed {
		fmt.Fprintf(w, "  failed  %s\n", id)
	}
	if r.MeanSeconds > 0 {
		fmt.Fprintf(w, "mean seconds per document: %.1f\n", r.MeanSeconds)
	}
	if len(r.TopErrors) > 0 {
		fmt.Fprintln(w, "top errors:")
		for _, e := range r.TopErrors {
			fmt.Fprintf(w, "  %4d  %s\n", e.Count, e.Message)
		}
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxErrorLen {
		return string(r[:maxErrorLen]) + "..."
	}
	return s
}
