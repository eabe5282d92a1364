// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// Cache persists chunk summaries at {dir}/{document_id}.json. A cached
// entry is reused only when the chunk fingerprint matches, so a change in
// window size or text invalidates it.
type Cache struct {
	dir string
}

// cachedSummaries is the on-disk form.
type cachedSummaries struct {
	DocumentID  string               `json:"document_id"`
	Fingerprint string               `json:"fingerprint"`
	Summaries   []types.ChunkSummary `json:"summaries"`
}

// NewCache returns a cache rooted at dir. An empty dir disables caching.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Fingerprint hashes the chunk texts in order.
func Fingerprint(chunks []string) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Load returns cached summaries for documentID when the fingerprint
// matches. ok is false on a miss.
func (c *Cache) Load(documentID, fingerprint string) ([]types.ChunkSummary, bool) {
	if c == nil || c.dir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.path(documentID))
	if err != nil {
		return nil, false
	}
	var cs cachedSummaries
	if err := json.Unmarshal(data, &cs); err != nil || cs.Fingerprint != fingerprint {
		return nil, false
	}
	return cs.Summaries, true
}

// Store writes summaries for documentID.
func (c *Cache) Store(documentID, fingerprint string, summaries []types.ChunkSummary) error {
	if c == nil || c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating chunk cache: %w", err)
	}
	data, err := json.MarshalIndent(cachedSummaries{DocumentID: documentID, Fingerprint: fingerprint, Summaries: summaries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling chunk cache: %w", err)
	}
	tmp := c.path(documentID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing chunk cache: %w", err)
	}
	return os.Rename(tmp, c.path(documentID))
}

func (c *Cache) path(documentID string) string {
	return filepath.Join(c.dir, documentID+".json")
}
