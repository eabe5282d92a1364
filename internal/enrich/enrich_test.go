// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/enlitens-kb/internal/httputil"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// fakeAPI serves every upstream from one httptest server and counts hits
// per path prefix.
type fakeAPI struct {
	robots    string
	robotsHit int32
	hits      map[string]*int32
	handlers  map[string]http.HandlerFunc
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{hits: map[string]*int32{}, handlers: map[string]http.HandlerFunc{}}
}

func (f *fakeAPI) handle(prefix string, h http.HandlerFunc) {
	var n int32
	f.hits[prefix] = &n
	f.handlers[prefix] = h
}

func (f *fakeAPI) count(prefix string) int { return int(atomic.LoadInt32(f.hits[prefix])) }

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/robots.txt" {
		atomic.AddInt32(&f.robotsHit, 1)
		if f.robots == "" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, f.robots)
		return
	}
	for prefix, h := range f.handlers {
		if strings.HasPrefix(r.URL.Path, prefix) {
			atomic.AddInt32(f.hits[prefix], 1)
			h(w, r)
			return
		}
	}
	http.NotFound(w, r)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// setup points every base URL at the fake server and returns a client
// allowed to reach it.
func setup(t *testing.T, api *fakeAPI, mutate func(*types.EnrichmentConfig)) *Client {
	t.Helper()
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)

	oldWiki, oldCross, oldSem, oldPlaces, oldDelay := wikipediaAPIBase, crossrefAPIBase, semanticAPIBase, placesAPIBase, httputil.RetryBaseDelay
	wikipediaAPIBase = ts.URL + "/api/rest_v1/page/summary/"
	crossrefAPIBase = ts.URL + "/works/"
	semanticAPIBase = ts.URL + "/graph/v1/paper/DOI:"
	placesAPIBase = ts.URL + "/maps/api/place/textsearch/json"
	httputil.RetryBaseDelay = time.Millisecond
	t.Cleanup(func() {
		wikipediaAPIBase, crossrefAPIBase, semanticAPIBase, placesAPIBase, httputil.RetryBaseDelay = oldWiki, oldCross, oldSem, oldPlaces, oldDelay
	})

	cfg := types.EnrichmentConfig{
		HTTPConfig:    types.HTTPConfig{UserAgent: "enlitens-test/1.0"},
		Enabled:       true,
		CacheDir:      t.TempDir(),
		AllowedHosts:  []string{"127.0.0.1"},
		RatePerSecond: 1000,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, WithHTTPClient(ts.Client()), WithLogger(quietLogger()))
}

func wikiHandler(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimPrefix(r.URL.Path, "/api/rest_v1/page/summary/")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"type":        "standard",
		"title":       strings.ReplaceAll(title, "_", " "),
		"description": "Organic chemical",
		"extract":     title + " is a neuromodulator.",
		"content_urls": map[string]any{
			"desktop": map[string]any{"page": "https://en.wikipedia.org/wiki/" + title},
		},
	})
}

func TestSanitizeTerm(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"  dopamine  ", "dopamine", true},
		{"prefrontal   cortex.", "prefrontal cortex", true},
		{`{"term": "x"}`, "", false},
		{"[dopamine]", "", false},
		{`term": value`, "", false},
		{"", "", false},
		{"one two three four five six seven eight", "one two three four five six seven eight", true},
		{"one two three four five six seven eight nine", "", false},
		{strings.Repeat("a", 81), "", false},
		{strings.Repeat("a", 80), strings.Repeat("a", 80), true},
	}
	for _, tt := range tests {
		got, ok := SanitizeTerm(tt.in)
		assert.Equal(t, tt.ok, ok, "SanitizeTerm(%q)", tt.in)
		assert.Equal(t, tt.want, got, "SanitizeTerm(%q)", tt.in)
	}
}

func TestCacheName(t *testing.T) {
	name := cacheName("Prefrontal Cortex")
	assert.Regexp(t, `^prefrontal-cortex-[0-9a-f]{8}\.json$`, name)
	assert.NotEqual(t, cacheName("a/b"), cacheName("a b"), "distinct keys must not collide")
	assert.Regexp(t, `^item-[0-9a-f]{8}\.json$`, cacheName("日本"))
}

func TestWikipediaCachesRecord(t *testing.T) {
	api := newFakeAPI()
	api.handle("/api/rest_v1/page/summary/", wikiHandler)
	c := setup(t, api, nil)

	rec, err := c.Wikipedia(context.Background(), "Dopamine")
	require.NoError(t, err)
	assert.Equal(t, "Dopamine", rec.Title)
	assert.Equal(t, "Dopamine is a neuromodulator.", rec.Extract)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Dopamine", rec.URL)

	again, err := c.Wikipedia(context.Background(), "Dopamine")
	require.NoError(t, err)
	assert.Equal(t, rec, again)
	assert.Equal(t, 1, api.count("/api/rest_v1/page/summary/"), "second lookup should be served from cache")

	matches, _ := filepath.Glob(filepath.Join(c.cfg.CacheDir, "wikipedia", "dopamine-*.json"))
	assert.Len(t, matches, 1)
}

func TestWikipediaMultiWordTitle(t *testing.T) {
	api := newFakeAPI()
	var gotPath string
	api.handle("/api/rest_v1/page/summary/", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		wikiHandler(w, r)
	})
	c := setup(t, api, nil)

	def, err := c.Define(context.Background(), "prefrontal cortex")
	require.NoError(t, err)
	assert.Equal(t, "/api/rest_v1/page/summary/prefrontal_cortex", gotPath)
	assert.Contains(t, def, "neuromodulator")
}

func TestWikipediaEmptyExtractIsNotCached(t *testing.T) {
	api := newFakeAPI()
	api.handle("/api/rest_v1/page/summary/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"title":"Nothing","extract":""}`)
	})
	c := setup(t, api, nil)

	_, err := c.Wikipedia(context.Background(), "nothing")
	require.Error(t, err)
	_, err = c.Wikipedia(context.Background(), "nothing")
	require.Error(t, err)
	assert.Equal(t, 2, api.count("/api/rest_v1/page/summary/"))
}

func TestRobotsDisallowBlocksAndIsCached(t *testing.T) {
	api := newFakeAPI()
	api.robots = "User-agent: *\nDisallow: /api/\n"
	api.handle("/api/rest_v1/page/summary/", wikiHandler)
	c := setup(t, api, nil)

	_, err := c.Wikipedia(context.Background(), "Dopamine")
	require.ErrorIs(t, err, ErrRobotsDisallowed)
	_, err = c.Wikipedia(context.Background(), "Serotonin")
	require.ErrorIs(t, err, ErrRobotsDisallowed)

	assert.Equal(t, 0, api.count("/api/rest_v1/page/summary/"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.robotsHit), "robots.txt should be fetched once per host")
}

func TestHostOutsideAllowlist(t *testing.T) {
	api := newFakeAPI()
	api.handle("/api/rest_v1/page/summary/", wikiHandler)
	c := setup(t, api, func(cfg *types.EnrichmentConfig) { cfg.AllowedHosts = []string{"en.wikipedia.org"} })

	_, err := c.Wikipedia(context.Background(), "Dopamine")
	require.ErrorIs(t, err, ErrHostNotAllowed)
	assert.Equal(t, 0, api.count("/api/rest_v1/page/summary/"))
}

func TestRetriesServerErrors(t *testing.T) {
	api := newFakeAPI()
	var calls int32
	api.handle("/works/", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"ok","message":{"DOI":"10.1000/xyz","title":["A trial"],"container-title":["J Neuro"],"issued":{"date-parts":[[2021,4]]},"author":[{"given":"Ada","family":"Lane"}],"is-referenced-by-count":12}}`)
	})
	c := setup(t, api, nil)

	raw, err := c.Crossref(context.Background(), "https://doi.org/10.1000/XYZ")
	require.NoError(t, err)
	var rec CitationRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, CitationRecord{DOI: "10.1000/xyz", Title: "A trial", Venue: "J Neuro", Year: 2021, Authors: []string{"Ada Lane"}, CitationCount: 12}, rec)
	assert.Equal(t, 3, api.count("/works/"))
}

func TestRetriesExhausted(t *testing.T) {
	api := newFakeAPI()
	api.handle("/works/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) })
	c := setup(t, api, nil)

	_, err := c.Crossref(context.Background(), "10.1000/xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
	assert.Equal(t, maxAttempts, api.count("/works/"))
}

func TestSemanticScholarSendsKeyAndFields(t *testing.T) {
	api := newFakeAPI()
	var key, fields string
	api.handle("/graph/v1/paper/", func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("x-api-key")
		fields = r.URL.Query().Get("fields")
		fmt.Fprint(w, `{"paperId":"p1","title":"Dopamine and reward","venue":"Neuron","year":2019,"citationCount":88,"influentialCitationCount":7,"authors":[{"name":"R. Wise"}]}`)
	})
	c := setup(t, api, func(cfg *types.EnrichmentConfig) { cfg.SemanticScholarAPIKey = "s2-key" })

	raw, err := c.SemanticScholar(context.Background(), "10.1016/j.neuron.2019.01.001")
	require.NoError(t, err)
	assert.Equal(t, "s2-key", key)
	assert.Equal(t, semanticFields, fields)
	var rec CitationRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, 88, rec.CitationCount)
	assert.Equal(t, 7, rec.Influential)
	assert.Equal(t, []string{"R. Wise"}, rec.Authors)
}

func TestWikimediaBasicAuth(t *testing.T) {
	api := newFakeAPI()
	var user, pass string
	var ok bool
	api.handle("/api/rest_v1/page/summary/", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		wikiHandler(w, r)
	})
	c := setup(t, api, func(cfg *types.EnrichmentConfig) {
		cfg.WikimediaUser = "enlitens"
		cfg.WikimediaPassword = "secret"
	})

	_, err := c.Wikipedia(context.Background(), "Dopamine")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "enlitens", user)
	assert.Equal(t, "secret", pass)
}

func TestEnrichPayload(t *testing.T) {
	api := newFakeAPI()
	api.handle("/api/rest_v1/page/summary/", wikiHandler)
	api.handle("/works/", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	api.handle("/graph/v1/paper/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"paperId":"p1","title":"Reward circuits","year":2020}`)
	})
	c := setup(t, api, nil)

	terms := []string{"Dopamine", "dopamine", `{"bad": 1}`, "Serotonin"}
	dois := []string{"10.1000/abc", "doi:10.1000/ABC"}
	e := c.Enrich(context.Background(), terms, dois)

	require.NotNil(t, e)
	assert.Len(t, e.Wikipedia, 2)
	assert.Contains(t, e.Wikipedia, "dopamine")
	assert.Contains(t, e.Wikipedia, "serotonin")

	require.Len(t, e.Citations, 1, "duplicate DOIs collapse after normalisation")
	recs := e.Citations["10.1000/abc"]
	assert.NotContains(t, recs, "crossref", "a 404 leaves no record")
	assert.Contains(t, recs, "semantic_scholar")
	assert.Equal(t, 1, api.count("/graph/v1/paper/"))
}

func TestEnrichRespectsLimits(t *testing.T) {
	api := newFakeAPI()
	api.handle("/api/rest_v1/page/summary/", wikiHandler)
	c := setup(t, api, func(cfg *types.EnrichmentConfig) { cfg.MaxTerms = 2 })

	e := c.Enrich(context.Background(), []string{"alpha", "beta", "gamma", "delta"}, nil)
	assert.Len(t, e.Wikipedia, 2)
	assert.Equal(t, 2, api.count("/api/rest_v1/page/summary/"))
	assert.Empty(t, e.Citations)
}

func TestLocalResources(t *testing.T) {
	api := newFakeAPI()
	var query string
	api.handle("/maps/api/place/textsearch/json", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("query")
		fmt.Fprint(w, `{"status":"OK","results":[
			{"name":"Clinic A","formatted_address":"1 Main St","rating":4.6},
			{"name":"Clinic B","formatted_address":"2 Main St"}]}`)
	})

	noKey := setup(t, api, nil)
	got, err := noKey.LocalResources(context.Background(), "adhd support near St. Louis")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, api.count("/maps/api/place/textsearch/json"))

	c := setup(t, api, func(cfg *types.EnrichmentConfig) { cfg.GoogleMapsAPIKey = "maps-key" })
	got, err = c.LocalResources(context.Background(), "adhd support near St. Louis")
	require.NoError(t, err)
	assert.Equal(t, "adhd support near St. Louis", query)
	assert.Equal(t, []types.LocalResource{
		{Name: "Clinic A", Address: "1 Main St", Rating: 4.6},
		{Name: "Clinic B", Address: "2 Main St"},
	}, got)
}

func TestLocalResourcesDeniedStatus(t *testing.T) {
	api := newFakeAPI()
	api.handle("/maps/api/place/textsearch/json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"REQUEST_DENIED","results":[]}`)
	})
	c := setup(t, api, func(cfg *types.EnrichmentConfig) { cfg.GoogleMapsAPIKey = "bad" })

	_, err := c.LocalResources(context.Background(), "therapy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_DENIED")
}

func TestCacheSurvivesNewClient(t *testing.T) {
	api := newFakeAPI()
	api.handle("/api/rest_v1/page/summary/", wikiHandler)
	c := setup(t, api, nil)
	_, err := c.Wikipedia(context.Background(), "Dopamine")
	require.NoError(t, err)

	// A fresh client over the same directory must not touch the network.
	c2 := New(c.cfg, WithHTTPClient(&http.Client{Transport: failingTransport{}}), WithLogger(quietLogger()))
	rec, err := c2.Wikipedia(context.Background(), "dopamine")
	require.NoError(t, err)
	assert.Equal(t, "Dopamine", rec.Title)

	entries, err := os.ReadDir(filepath.Join(c.cfg.CacheDir, "wikipedia"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("network disabled")
}
