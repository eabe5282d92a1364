// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

const timeLayout = time.RFC3339

// now is replaced in tests.
var now = time.Now

// Status is the ledger side file consumers read before opening it.
type Status struct {
	Status            string         `json:"status"`
	Reason            string         `json:"reason"`
	Timestamp         string         `json:"timestamp"`
	AffectedDocuments []string       `json:"affected_documents"`
	Details           map[string]any `json:"details,omitempty"`
}

// StatusPath returns {dir}/{base}_status.json for a ledger path, where
// base is the ledger file name without its extension.
func StatusPath(ledgerPath string) string {
	base := strings.TrimSuffix(filepath.Base(ledgerPath), filepath.Ext(ledgerPath))
	return filepath.Join(filepath.Dir(ledgerPath), base+"_status.json")
}

// ReadStatus reads a status file. A missing file means ok.
func ReadStatus(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Status{Status: StatusOK, AffectedDocuments: []string{}}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("reading ledger status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("parsing ledger status %s: %w", path, err)
	}
	if st.Status == "" {
		st.Status = StatusOK
	}
	return st, nil
}

// WriteStatus replaces the status file atomically.
func WriteStatus(path string, st Status) error {
	if st.AffectedDocuments == nil {
		st.AffectedDocuments = []string{}
	}
	if st.Timestamp == "" {
		st.Timestamp = now().UTC().Format(timeLayout)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing ledger status: %w", err)
	}
	return os.Rename(tmp, path)
}

// Reset marks the ledger at ledgerPath ok again.
func Reset(ledgerPath, reason string) error {
	return WriteStatus(StatusPath(ledgerPath), Status{Status: StatusOK, Reason: reason})
}
