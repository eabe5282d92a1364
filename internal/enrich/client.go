// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package enrich looks up external context for a paper: Wikipedia
// summaries for key terms, Crossref and Semantic Scholar records for
// cited DOIs, and nearby services through Google Places. Every lookup
// passes a host allowlist, robots.txt, and a per-host rate limit, and
// successful records are cached on disk indefinitely.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/httputil"
	"github.com/pdiddy/enlitens-kb/internal/metrics"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// DefaultAllowedHosts lists the hosts enrichment may contact when the
// configuration names none.
var DefaultAllowedHosts = []string{
	"en.wikipedia.org",
	"api.enterprise.wikimedia.com",
	"api.crossref.org",
	"api.semanticscholar.org",
	"maps.googleapis.com",
}

const (
	maxAttempts  = 3
	maxBodyBytes = 4 << 20
)

var (
	// ErrHostNotAllowed is returned for a URL outside the allowlist.
	ErrHostNotAllowed = errors.New("host not in enrichment allowlist")

	// ErrRobotsDisallowed is returned when robots.txt forbids the path.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

	// ErrNotFound is returned for a 404 from the source.
	ErrNotFound = errors.New("record not found")
)

// source describes one upstream API.
type source struct {
	name   string
	robots bool
	cached bool
}

var (
	srcWikipedia = source{name: "wikipedia", robots: true, cached: true}
	srcCrossref  = source{name: "crossref", robots: true, cached: true}
	srcSemantic  = source{name: "semantic_scholar", robots: true, cached: true}
	srcPlaces    = source{name: "places"}
)

// Client performs enrichment lookups.
type Client struct {
	http    *http.Client
	cfg     types.EnrichmentConfig
	allowed map[string]bool
	robots  *robotsChecker
	limits  *hostLimiter
	cache   *fileCache
	log     logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(c *Client) { c.log = l } }

// New returns a Client for cfg.
func New(cfg types.EnrichmentConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "enlitens-kb/0.1"
	}
	hosts := cfg.AllowedHosts
	if len(hosts) == 0 {
		hosts = DefaultAllowedHosts
	}
	c := &Client{
		http:    &http.Client{Timeout: timeout},
		cfg:     cfg,
		allowed: make(map[string]bool, len(hosts)),
		cache:   newFileCache(cfg.CacheDir),
		log:     logrus.StandardLogger(),
	}
	for _, h := range hosts {
		c.allowed[strings.ToLower(strings.TrimSpace(h))] = true
	}
	for _, o := range opts {
		o(c)
	}
	c.robots = newRobotsChecker(c.http, cfg.UserAgent)
	c.limits = newHostLimiter(cfg.RatePerSecond)
	return c
}

// Enabled reports whether document enrichment is turned on.
func (c *Client) Enabled() bool { return c != nil && c.cfg.Enabled }

// lookup returns the record for key from src, consulting the file cache
// first. convert turns a 200 response body into the stored record.
func (c *Client) lookup(ctx context.Context, src source, key, rawURL string, convert func([]byte) (json.RawMessage, error)) (json.RawMessage, error) {
	if src.cached {
		if rec, ok := c.cache.load(src.name, key); ok {
			metrics.EnrichmentLookups.WithLabelValues(src.name, "hit").Inc()
			return rec, nil
		}
	}
	body, err := c.get(ctx, src, rawURL)
	if err != nil {
		result := "error"
		if errors.Is(err, ErrHostNotAllowed) || errors.Is(err, ErrRobotsDisallowed) {
			result = "blocked"
		}
		metrics.EnrichmentLookups.WithLabelValues(src.name, result).Inc()
		return nil, err
	}
	rec, err := convert(body)
	if err != nil {
		metrics.EnrichmentLookups.WithLabelValues(src.name, "error").Inc()
		return nil, fmt.Errorf("parsing %s response: %w", src.name, err)
	}
	metrics.EnrichmentLookups.WithLabelValues(src.name, "miss").Inc()
	if src.cached {
		if err := c.cache.store(src.name, key, rec); err != nil {
			c.log.WithError(err).WithField("source", src.name).Warn("enrichment cache write failed")
		}
	}
	return rec, nil
}

// get fetches rawURL after the allowlist, robots and rate checks.
func (c *Client) get(ctx context.Context, src source, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if !c.allowed[host] {
		return nil, fmt.Errorf("%s: %w", host, ErrHostNotAllowed)
	}

	delay := time.Duration(0)
	if src.robots {
		ok, d := c.robots.allowed(ctx, u)
		if !ok {
			return nil, fmt.Errorf("%s: %w", u.Path, ErrRobotsDisallowed)
		}
		delay = d
	}
	if err := c.limits.wait(ctx, u.Host, delay); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	switch src {
	case srcWikipedia:
		if c.cfg.WikimediaUser != "" {
			req.SetBasicAuth(c.cfg.WikimediaUser, c.cfg.WikimediaPassword)
		}
	case srcSemantic:
		if c.cfg.SemanticScholarAPIKey != "" {
			req.Header.Set("x-api-key", c.cfg.SemanticScholarAPIKey)
		}
	}

	resp, err := httputil.DoWithRetry(ctx, c.http, req, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", src.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", src.name, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", src.name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", src.name, err)
	}
	return body, nil
}
