// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/enlitens-kb/internal/httputil"
)

func TestMain(m *testing.M) {
	httputil.RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

type scriptedReply struct {
	content string
	finish  string
	status  int
}

// scriptedServer serves chat completions from a fixed script and records
// every request body.
type scriptedServer struct {
	mu       sync.Mutex
	script   []scriptedReply
	requests []chatRequest
	*httptest.Server
}

func newScriptedServer(t *testing.T, script ...scriptedReply) *scriptedServer {
	s := &scriptedServer{script: script}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		json.Unmarshal(body, &req)

		s.mu.Lock()
		idx := len(s.requests)
		s.requests = append(s.requests, req)
		if idx >= len(s.script) {
			idx = len(s.script) - 1
		}
		reply := s.script[idx]
		s.mu.Unlock()

		if reply.status != 0 {
			w.WriteHeader(reply.status)
			w.Write([]byte("server exploded"))
			return
		}
		finish := reply.finish
		if finish == "" {
			finish = "stop"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": reply.content},
				"finish_reason": finish,
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *scriptedServer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type recorder struct {
	mu    sync.Mutex
	tools map[string]int
	in    int
}

func (r *recorder) Record(tool string, in, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = map[string]int{}
	}
	r.tools[tool]++
	r.in += in
	return nil
}

func testClient(url string, usage UsageRecorder) *Client {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Client{BaseURL: url, Model: "test-model", HTTP: http.DefaultClient, Usage: usage, Log: log, MaxTokensCap: 1000}
}

func TestGenerate_CleansReply(t *testing.T) {
	srv := newScriptedServer(t, scriptedReply{content: "<think>hidden</think>Visible answer"})
	c := testClient(srv.URL, nil)

	out, err := c.Generate(context.Background(), Request{Tool: "brief", Prompt: "hi", Creative: true})
	require.NoError(t, err)
	assert.Equal(t, "Visible answer", out)

	require.Len(t, srv.requests, 1)
	assert.Equal(t, "system", srv.requests[0].Messages[0].Role)
	assert.Equal(t, creativeTemperature, srv.requests[0].Temperature)
	assert.Nil(t, srv.requests[0].ResponseFormat)
}

func TestGenerateJSON_CorrectiveRetry(t *testing.T) {
	srv := newScriptedServer(t,
		scriptedReply{content: "I cannot comply @@@"},
		scriptedReply{content: `{"ok": true}`},
	)
	rec := &recorder{}
	c := testClient(srv.URL, rec)

	obj, err := c.GenerateJSON(context.Background(), Request{Tool: "selector", Prompt: "pick"}, 3)
	require.NoError(t, err)
	assert.Equal(t, true, obj["ok"])

	require.Equal(t, 2, srv.calls())
	second := srv.requests[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, "assistant", second[2].Role)
	assert.Equal(t, correctiveJSON, second[3].Content)
	assert.Equal(t, "json_object", srv.requests[0].ResponseFormat.Type)
	assert.Equal(t, 2, rec.tools["selector"])
	assert.Equal(t, 20, rec.in)
}

func TestGenerateJSON_Exhausted(t *testing.T) {
	srv := newScriptedServer(t, scriptedReply{content: "@@@"})
	c := testClient(srv.URL, nil)

	_, err := c.GenerateJSON(context.Background(), Request{Tool: "x", Prompt: "p"}, 2)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 2, srv.calls())
}

func TestGenerateJSON_ServiceError(t *testing.T) {
	srv := newScriptedServer(t, scriptedReply{status: http.StatusInternalServerError})
	c := testClient(srv.URL, nil)

	_, err := c.GenerateJSON(context.Background(), Request{Tool: "x", Prompt: "p"}, 3)
	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Status)
	assert.Contains(t, se.Body, "exploded")
	assert.True(t, IsServiceError(err))
	// DoWithRetry uses the whole transport budget; no corrective turns follow.
	assert.Equal(t, transportAttempts, srv.calls())
}

func TestGenerateJSON_ConnectionRefused(t *testing.T) {
	c := testClient("http://127.0.0.1:1", nil)
	_, err := c.GenerateJSON(context.Background(), Request{Tool: "x", Prompt: "p", Timeout: time.Second}, 1)
	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 0, se.Status)
}

type items struct {
	Items []string `json:"items"`
	Note  string   `json:"note"`
}

var itemsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"items": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"note":  map[string]any{"type": "string"},
	},
}

func TestGenerateStructured_GrowsTokensOnTruncation(t *testing.T) {
	srv := newScriptedServer(t,
		scriptedReply{content: `{"items": ["a"`, finish: "length"},
		scriptedReply{content: `{"items": ["a", "b"]}`},
	)
	c := testClient(srv.URL, nil)

	var out items
	err := c.GenerateStructured(context.Background(), Request{Tool: "chunk", Prompt: "p", MaxTokens: 100, Schema: itemsSchema}, &out, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Items)

	require.Equal(t, 2, srv.calls())
	assert.Equal(t, 100, srv.requests[0].MaxTokens)
	assert.Equal(t, 150, srv.requests[1].MaxTokens)
	assert.Equal(t, "json_schema", srv.requests[0].ResponseFormat.Type)
	assert.True(t, srv.requests[0].ResponseFormat.JSONSchema.Strict)
}

func TestGenerateStructured_TokenGrowthCapped(t *testing.T) {
	c := &Client{MaxTokensCap: 1000}
	assert.Equal(t, 1000, c.grow(800))
	assert.Equal(t, 750, c.grow(500))
}

func TestGenerateStructured_RejectsAllEmptyLists(t *testing.T) {
	srv := newScriptedServer(t,
		scriptedReply{content: `{"items": [], "note": "nothing"}`},
		scriptedReply{content: `{"items": ["x"]}`},
	)
	c := testClient(srv.URL, nil)

	var out items
	err := c.GenerateStructured(context.Background(), Request{Tool: "chunk", Prompt: "p", Schema: itemsSchema}, &out, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, out.Items)
	assert.Equal(t, correctiveEmptyLists, srv.requests[1].Messages[3].Content)
}

func TestGenerateStructured_RequiresSchema(t *testing.T) {
	c := testClient("http://unused", nil)
	var out items
	assert.Error(t, c.GenerateStructured(context.Background(), Request{Tool: "x"}, &out, 1))
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0.5]},{"index":0,"embedding":[0.25]}],"usage":{"prompt_tokens":4}}`))
	}))
	defer srv.Close()
	c := testClient(srv.URL, nil)

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.25}, {0.5}}, vecs)
}
