// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm is the client for an OpenAI-compatible inference server.
// It cleans model replies, parses them through a permissive cascade, runs
// corrective retries, and records token usage per tool.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/httputil"
	"github.com/pdiddy/enlitens-kb/internal/metrics"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const (
	defaultTimeout      = 900 * time.Second
	defaultMaxTokens    = 4096
	defaultMaxTokensCap = 16384
	factualTemperature  = 0.2
	creativeTemperature = 0.6
	transportAttempts   = 3
	logSnippet          = 1000
)

const defaultSystemPrompt = "You are a careful research assistant. Follow the requested output format exactly."

const correctiveJSON = "Your previous reply was not valid JSON. Reply again with only a single JSON object that matches the requested fields. Do not add commentary, code fences, or reasoning."

const correctiveEmptyLists = "Your previous reply left every list empty. Fill the lists with content drawn from the source text and reply with only the JSON object."

// UsageRecorder receives token counts for each call, keyed by tool.
type UsageRecorder interface {
	Record(tool string, tokensIn, tokensOut int) error
}

// Request is one generation request.
type Request struct {
	// Tool labels the call for usage accounting and metrics.
	Tool string

	Prompt       string
	SystemPrompt string

	// MaxTokens is the completion budget; zero uses the client default.
	MaxTokens int

	// Temperature overrides the default when non-nil.
	Temperature *float64

	// Creative selects the creative default temperature.
	Creative bool

	// Timeout overrides the client timeout when positive.
	Timeout time.Duration

	// Schema is a JSON schema for structured output.
	Schema map[string]any
}

// Temp returns a pointer for Request.Temperature.
func Temp(v float64) *float64 { return &v }

// Client talks to /chat/completions and /embeddings.
type Client struct {
	BaseURL        string
	Model          string
	APIKey         string
	EmbeddingModel string
	MaxTokens      int
	MaxTokensCap   int
	Timeout        time.Duration

	HTTP   *http.Client
	Parser *Parser
	Usage  UsageRecorder
	Log    logrus.FieldLogger
}

// New builds a client from config.
func New(cfg types.LLMConfig, usage UsageRecorder, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		BaseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		Model:          cfg.Model,
		APIKey:         cfg.APIKey,
		EmbeddingModel: cfg.EmbeddingModel,
		MaxTokens:      cfg.MaxTokens,
		MaxTokensCap:   cfg.MaxTokensCap,
		Timeout:        cfg.Timeout,
		HTTP:           &http.Client{},
		Parser:         &Parser{Formatters: NewCommandFormatters(cfg.JSONFormatters, cfg.FormatterTimeout, log), Log: log},
		Usage:          usage,
		Log:            log,
	}
}

// OutcomeKind classifies one reply.
type OutcomeKind int

const (
	OutcomeValid OutcomeKind = iota
	OutcomeMalformed
	OutcomeTruncated
	OutcomeTransport
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeValid:
		return "valid"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeTruncated:
		return "truncated"
	}
	return "transport"
}

// Outcome is the tagged result of one inference round.
type Outcome struct {
	Kind   OutcomeKind
	Object map[string]any
	Raw    string
	Stage  Stage
	Err    error
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type reply struct {
	content      string
	finishReason string
}

// Generate returns the cleaned text reply for a prompt.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	r, err := c.complete(ctx, req, c.messages(req), c.maxTokens(req), nil)
	if err != nil {
		return "", err
	}
	text := Clean(r.content)
	if text == "" {
		c.count(req.Tool, OutcomeMalformed)
		return "", ErrEmpty
	}
	c.count(req.Tool, OutcomeValid)
	return text, nil
}

// GenerateJSON asks for a JSON object and retries with a corrective turn
// until a reply parses, up to maxAttempts (default 3).
func (c *Client) GenerateJSON(ctx context.Context, req Request, maxAttempts int) (map[string]any, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	format := &responseFormat{Type: "json_object"}
	if req.Schema != nil {
		format = schemaFormat(req)
	}

	msgs := c.messages(req)
	tokens := c.maxTokens(req)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out := c.round(ctx, req, msgs, tokens, format)
		c.count(req.Tool, out.Kind)
		switch out.Kind {
		case OutcomeTransport:
			return nil, out.Err
		case OutcomeValid:
			return out.Object, nil
		case OutcomeTruncated:
			if out.Object != nil {
				return out.Object, nil
			}
			tokens = c.grow(tokens)
		}
		c.logMalformed(req.Tool, attempt, out.Raw)
		msgs = append(msgs,
			chatMessage{Role: "assistant", Content: out.Raw},
			chatMessage{Role: "user", Content: correctiveJSON},
		)
	}
	return nil, fmt.Errorf("%s: %w after %d attempts", req.Tool, ErrMalformed, maxAttempts)
}

// GenerateStructured decodes a schema-constrained reply into out. It grows
// max_tokens by 1.5x on truncated replies and rejects objects whose list
// properties are all empty. Partial objects are accepted.
func (c *Client) GenerateStructured(ctx context.Context, req Request, out any, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if req.Schema == nil {
		return fmt.Errorf("%s: structured generation requires a schema", req.Tool)
	}
	format := schemaFormat(req)

	msgs := c.messages(req)
	tokens := c.maxTokens(req)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		res := c.round(ctx, req, msgs, tokens, format)
		if res.Kind == OutcomeTransport {
			c.count(req.Tool, res.Kind)
			return res.Err
		}
		if res.Kind == OutcomeTruncated {
			c.count(req.Tool, res.Kind)
			if attempt == maxRetries && res.Object != nil && !allListsEmpty(req.Schema, res.Object) {
				if err := decodeInto(res.Object, out); err == nil {
					return nil
				}
			}
			tokens = c.grow(tokens)
			c.Log.WithFields(logrus.Fields{"tool": req.Tool, "max_tokens": tokens}).Info("reply truncated, growing max_tokens")
			continue
		}
		if res.Kind == OutcomeValid && allListsEmpty(req.Schema, res.Object) {
			res.Kind = OutcomeMalformed
			c.count(req.Tool, res.Kind)
			msgs = append(msgs,
				chatMessage{Role: "assistant", Content: res.Raw},
				chatMessage{Role: "user", Content: correctiveEmptyLists},
			)
			continue
		}
		if res.Kind == OutcomeValid {
			if err := decodeInto(res.Object, out); err == nil {
				c.count(req.Tool, OutcomeValid)
				return nil
			}
		}
		c.count(req.Tool, OutcomeMalformed)
		c.logMalformed(req.Tool, attempt, res.Raw)
		msgs = append(msgs,
			chatMessage{Role: "assistant", Content: res.Raw},
			chatMessage{Role: "user", Content: correctiveJSON},
		)
	}
	return fmt.Errorf("%s: %w after %d attempts", req.Tool, ErrMalformed, maxRetries)
}

// round performs one request and classifies the reply.
func (c *Client) round(ctx context.Context, req Request, msgs []chatMessage, tokens int, format *responseFormat) Outcome {
	r, err := c.complete(ctx, req, msgs, tokens, format)
	if err != nil {
		return Outcome{Kind: OutcomeTransport, Err: err}
	}
	out := Outcome{Kind: OutcomeMalformed, Raw: r.content}
	v, stage, perr := c.parser().Parse(ctx, r.content)
	if perr == nil {
		if obj, ok := asObject(v); ok {
			out.Kind, out.Object, out.Stage = OutcomeValid, obj, stage
		} else {
			perr = errNotContainer
		}
	}
	out.Err = perr
	if r.finishReason == "length" {
		// Object may still hold a repaired partial reply.
		out.Kind = OutcomeTruncated
	}
	return out
}

func (c *Client) complete(ctx context.Context, req Request, msgs []chatMessage, tokens int, format *responseFormat) (reply, error) {
	body := chatRequest{
		Model:          c.Model,
		Messages:       msgs,
		MaxTokens:      tokens,
		Temperature:    temperature(req),
		ResponseFormat: format,
	}
	var resp chatResponse
	if err := c.post(ctx, req, "/chat/completions", body, &resp); err != nil {
		return reply{}, err
	}

	c.record(req.Tool, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return reply{}, nil
	}
	return reply{content: resp.Choices[0].Message.Content, finishReason: resp.Choices[0].FinishReason}, nil
}

// post sends a JSON body and decodes the JSON response. Transport errors
// and non-2xx statuses are returned as *ServiceError.
func (c *Client) post(ctx context.Context, req Request, path string, in, out any) error {
	endpoint := c.BaseURL + path
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httputil.DoWithRetry(ctx, client, httpReq, transportAttempts)
	if err != nil {
		return newServiceError(endpoint, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return newServiceError(endpoint, 0, "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newServiceError(endpoint, resp.StatusCode, string(data), nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newServiceError(endpoint, resp.StatusCode, string(data), fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func (c *Client) messages(req Request) []chatMessage {
	system := req.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: req.Prompt},
	}
}

func (c *Client) maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return defaultMaxTokens
}

func (c *Client) grow(tokens int) int {
	limit := c.MaxTokensCap
	if limit <= 0 {
		limit = defaultMaxTokensCap
	}
	next := int(math.Ceil(float64(tokens) * 1.5))
	if next > limit {
		next = limit
	}
	return next
}

func (c *Client) parser() *Parser {
	if c.Parser == nil {
		c.Parser = &Parser{Log: c.Log}
	}
	return c.Parser
}

func (c *Client) record(tool string, in, out int) {
	metrics.LLMTokens.WithLabelValues("in").Add(float64(in))
	metrics.LLMTokens.WithLabelValues("out").Add(float64(out))
	if c.Usage == nil {
		return
	}
	if err := c.Usage.Record(toolName(tool), in, out); err != nil {
		c.Log.WithError(err).Warn("recording usage")
	}
}

func (c *Client) count(tool string, kind OutcomeKind) {
	metrics.LLMRequests.WithLabelValues(toolName(tool), kind.String()).Inc()
}

func (c *Client) logMalformed(tool string, attempt int, raw string) {
	c.Log.WithFields(logrus.Fields{
		"tool":    tool,
		"attempt": attempt,
		"raw":     snippet(raw),
		"cleaned": snippet(Clean(raw)),
	}).Warn("model reply was not valid JSON")
}

func schemaFormat(req Request) *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: &jsonSchemaFormat{
			Name:   toolName(req.Tool),
			Schema: req.Schema,
			Strict: true,
		},
	}
}

func temperature(req Request) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	if req.Creative {
		return creativeTemperature
	}
	return factualTemperature
}

func toolName(tool string) string {
	if tool == "" {
		return "llm"
	}
	return tool
}

func snippet(s string) string {
	if len(s) > logSnippet {
		return s[:logSnippet]
	}
	return s
}

// allListsEmpty reports whether the schema declares array properties and
// every one of them is empty or absent in obj.
func allListsEmpty(schema map[string]any, obj map[string]any) bool {
	props, _ := schema["properties"].(map[string]any)
	lists := 0
	for name, p := range props {
		spec, _ := p.(map[string]any)
		if spec["type"] != "array" {
			continue
		}
		lists++
		if arr, ok := obj[name].([]any); ok && len(arr) > 0 {
			return false
		}
	}
	return lists > 0
}

func decodeInto(obj map[string]any, out any) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
