// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package lifecycle

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

func init() { PollInterval = 10 * time.Millisecond }

type recordRunner struct {
	calls []string
	onRun func()
}

func (r *recordRunner) LookPath(file string) (string, error) { return "/usr/bin/" + file, nil }

func (r *recordRunner) Run(_ context.Context, name string, args []string, _ io.Reader) ([]byte, []byte, error) {
	r.calls = append(r.calls, name)
	if r.onRun != nil {
		r.onRun()
	}
	return nil, nil, nil
}

func healthServer(t *testing.T, up *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" || !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newManager(t *testing.T, srv *httptest.Server, r *recordRunner, startup time.Duration) *Manager {
	t.Helper()
	log, _ := test.NewNullLogger()
	m, err := New(types.LLMConfig{
		BaseURL:        srv.URL + "/v1/",
		APIKey:         "k",
		StartCommand:   "scripts/start_vllm.sh --model medgemma",
		StopCommand:    "pkill -f vllm",
		StartupTimeout: startup,
	}, WithRunner(r), WithLogger(log))
	require.NoError(t, err)
	return m
}

func TestStartWaitsForHealth(t *testing.T) {
	var up atomic.Bool
	srv := healthServer(t, &up)
	r := &recordRunner{onRun: func() {
		go func() {
			time.Sleep(30 * time.Millisecond)
			up.Store(true)
		}()
	}}
	m := newManager(t, srv, r, time.Second)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []string{"scripts/start_vllm.sh"}, r.calls)
	assert.True(t, m.Healthy(context.Background()))
}

func TestStartSkipsWhenRunning(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	r := &recordRunner{}
	m := newManager(t, healthServer(t, &up), r, time.Second)
	require.NoError(t, m.Start(context.Background()))
	assert.Empty(t, r.calls)
}

func TestStartTimesOut(t *testing.T) {
	var up atomic.Bool
	m := newManager(t, healthServer(t, &up), &recordRunner{}, 50*time.Millisecond)
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestStop(t *testing.T) {
	var up atomic.Bool
	r := &recordRunner{}
	m := newManager(t, healthServer(t, &up), r, time.Second)
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{"pkill"}, r.calls)
}

func TestNotConfigured(t *testing.T) {
	var up atomic.Bool
	srv := healthServer(t, &up)
	m, err := New(types.LLMConfig{BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Start(context.Background()), ErrNotConfigured)
	assert.ErrorIs(t, m.Stop(context.Background()), ErrNotConfigured)

	_, err = New(types.LLMConfig{StartCommand: `start "unterminated`})
	assert.Error(t, err)
}
