// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// DefaultBundleDir is where curated bundles are cached.
const DefaultBundleDir = "cache/curation"

// BundleCache stores curated context bundles at {dir}/{document_id}.json.
// A cached bundle is not trusted as is: the pipeline re-verifies it before
// use. A nil cache or an empty dir disables caching.
type BundleCache struct {
	dir string
}

// NewBundleCache returns a cache rooted at dir.
func NewBundleCache(dir string) *BundleCache {
	return &BundleCache{dir: dir}
}

// Load returns the cached bundle for documentID.
func (c *BundleCache) Load(documentID string) (*types.CuratedContext, bool) {
	if c == nil || c.dir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.path(documentID))
	if err != nil {
		return nil, false
	}
	var cc types.CuratedContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, false
	}
	return &cc, true
}

// Store writes cc for documentID.
func (c *BundleCache) Store(documentID string, cc *types.CuratedContext) error {
	if c == nil || c.dir == "" || cc == nil {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating curation cache: %w", err)
	}
	data, err := json.MarshalIndent(cc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling curation bundle: %w", err)
	}
	tmp := c.path(documentID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing curation bundle: %w", err)
	}
	return os.Rename(tmp, c.path(documentID))
}

func (c *BundleCache) path(documentID string) string {
	return filepath.Join(c.dir, documentID+".json")
}
