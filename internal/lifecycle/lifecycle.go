// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package lifecycle starts and stops a local inference server around a
// batch run (--auto-start, --auto-stop) and waits for it to answer.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/extcli"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// PollInterval is the delay between health probes. Tests shorten it.
var PollInterval = 2 * time.Second

const (
	probeTimeout          = 5 * time.Second
	defaultStartupTimeout = 10 * time.Minute
)

// ErrNotConfigured is returned by Start or Stop without a command.
var ErrNotConfigured = errors.New("no lifecycle command configured")

// Manager runs the configured start and stop commands.
type Manager struct {
	start, stop *extcli.Command
	baseURL     string
	apiKey      string
	timeout     time.Duration
	http        *http.Client
	log         logrus.FieldLogger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRunner runs the commands through r.
func WithRunner(r extcli.Runner) Option {
	return func(m *Manager) {
		if m.start != nil {
			m.start.Runner = r
		}
		if m.stop != nil {
			m.stop.Runner = r
		}
	}
}

// WithHTTPClient sets the client used for health probes.
func WithHTTPClient(c *http.Client) Option { return func(m *Manager) { m.http = c } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(m *Manager) { m.log = l } }

// New returns a manager for cfg. Empty command lines leave the matching
// operation unconfigured.
func New(cfg types.LLMConfig, opts ...Option) (*Manager, error) {
	m := &Manager{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.StartupTimeout,
		http:    &http.Client{Timeout: probeTimeout},
		log:     logrus.StandardLogger(),
	}
	if m.timeout <= 0 {
		m.timeout = defaultStartupTimeout
	}
	var err error
	if m.start, err = parse(cfg.StartCommand); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}
	if m.stop, err = parse(cfg.StopCommand); err != nil {
		return nil, fmt.Errorf("stop command: %w", err)
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func parse(line string) (*extcli.Command, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	c, err := extcli.Parse(line)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Healthy reports whether GET {base}/models answers 200.
func (m *Manager) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Start runs the start command unless the server already answers, then
// waits until it is healthy.
func (m *Manager) Start(ctx context.Context) error {
	if m.Healthy(ctx) {
		m.log.WithField("base_url", m.baseURL).Info("inference server already running")
		return nil
	}
	if m.start == nil {
		return fmt.Errorf("start: %w", ErrNotConfigured)
	}
	m.log.WithField("command", m.start.String()).Info("starting inference server")
	if _, err := m.start.Run(ctx, ""); err != nil {
		return fmt.Errorf("starting inference server: %w", err)
	}
	return m.WaitReady(ctx)
}

// WaitReady polls until the server is healthy or the startup timeout
// passes.
func (m *Manager) WaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	start := time.Now()
	for {
		if m.Healthy(ctx) {
			m.log.WithField("seconds", time.Since(start).Seconds()).Info("inference server ready")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("inference server at %s not ready after %s: %w", m.baseURL, m.timeout, ctx.Err())
		case <-time.After(PollInterval):
		}
	}
}

// Stop runs the stop command.
func (m *Manager) Stop(ctx context.Context) error {
	if m.stop == nil {
		return fmt.Errorf("stop: %w", ErrNotConfigured)
	}
	m.log.WithField("command", m.stop.String()).Info("stopping inference server")
	if _, err := m.stop.Run(ctx, ""); err != nil {
		return fmt.Errorf("stopping inference server: %w", err)
	}
	return nil
}
