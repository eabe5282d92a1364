// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// fileCache stores one JSON record per key at
// {dir}/{source}/{slug}-{hash8}.json. Entries never expire; the last
// write wins.
type fileCache struct {
	dir string
}

func newFileCache(dir string) *fileCache { return &fileCache{dir: dir} }

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// cacheName returns the file name for key.
func cacheName(key string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(key), "-"), "-")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	if slug == "" {
		slug = "item"
	}
	sum := sha256.Sum256([]byte(key))
	return slug + "-" + hex.EncodeToString(sum[:])[:8] + ".json"
}

func (fc *fileCache) path(source, key string) string {
	return filepath.Join(fc.dir, source, cacheName(key))
}

func (fc *fileCache) load(source, key string) (json.RawMessage, bool) {
	if fc.dir == "" {
		return nil, false
	}
	data, err := os.ReadFile(fc.path(source, key))
	if err != nil || !json.Valid(data) {
		return nil, false
	}
	return json.RawMessage(data), true
}

func (fc *fileCache) store(source, key string, rec json.RawMessage) error {
	if fc.dir == "" {
		return nil
	}
	p := fc.path(source, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating enrichment cache: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, rec, 0o644); err != nil {
		return fmt.Errorf("writing enrichment cache: %w", err)
	}
	return os.Rename(tmp, p)
}
