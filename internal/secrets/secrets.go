// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files.
// Each file holds one secret: the filename is the key and the trimmed
// contents are the value. Known keys fill the environment variables the
// configuration layer reads, so a key in .secrets/ behaves like the
// variable being set.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultDir is the secrets directory relative to the working directory.
const DefaultDir = ".secrets"

// Known maps secret file names to the environment variables they stand in
// for.
var Known = map[string]string{
	"llm-api-key":                   "LLM_API_KEY",
	"openai-api-key":                "OPENAI_API_KEY",
	"google-maps-api-key":           "GOOGLE_MAPS_API_KEY",
	"semantic-scholar-api-key":      "SEMANTIC_SCHOLAR_API_KEY",
	"wikimedia-enterprise-username": "WIKIMEDIA_ENTERPRISE_USERNAME",
	"wikimedia-enterprise-password": "WIKIMEDIA_ENTERPRISE_PASSWORD",
	"neo4j-password":                "ENLITENS_NEO4J_PASSWORD",
	"postgres-dsn":                  "ENLITENS_POSTGRES_DSN",
	"s3-access-key":                 "ENLITENS_S3_ACCESS_KEY",
	"s3-secret-key":                 "ENLITENS_S3_SECRET_KEY",
}

// Load reads all files in dir and returns a map of filename to trimmed
// contents. A missing directory is not an error. Unreadable files are
// logged and skipped.
func Load(dir string, log logrus.FieldLogger) (map[string]string, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.WithError(err).WithField("secret", name).Warn("could not read secret")
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Env returns the environment variable values supplied by known secrets.
// Unknown files are ignored.
func Env(secrets map[string]string) map[string]string {
	out := map[string]string{}
	for name, value := range secrets {
		if env, ok := Known[name]; ok {
			out[env] = value
		}
	}
	return out
}

// Names returns the loaded secret names in sorted order, for logs.
func Names(secrets map[string]string) []string {
	keys := make([]string, 0, len(secrets))
	for k := range secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
