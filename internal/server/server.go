// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes a read-only HTTP view of the knowledge base:
// ledger status, usage, the processing log summary, indexed entries, and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/pdiddy/enlitens-kb/internal/diag"
	"github.com/pdiddy/enlitens-kb/internal/knowledge"
	"github.com/pdiddy/enlitens-kb/internal/ledger"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// DefaultAddr is the listen address of the serve command.
const DefaultAddr = "127.0.0.1:8787"

const shutdownTimeout = 10 * time.Second

// Entries reads indexed knowledge entries.
type Entries interface {
	Documents(ctx context.Context, limit int) ([]knowledge.DocumentSummary, error)
	Entry(ctx context.Context, documentID string) (*types.KnowledgeEntry, error)
}

// Usage exposes the usage ledger.
type Usage interface {
	Snapshot() (types.UsageLedger, error)
}

// Server serves the observability routes.
type Server struct {
	ledgerPath string
	logPath    string
	entries    Entries
	usage      Usage
	md         goldmark.Markdown
	log        logrus.FieldLogger
}

// Option configures a Server.
type Option func(*Server)

// WithEntries serves entries from e. Without it the entry routes answer 503.
func WithEntries(e Entries) Option { return func(s *Server) { s.entries = e } }

// WithUsage serves the usage ledger from u.
func WithUsage(u Usage) Option { return func(s *Server) { s.usage = u } }

// WithLogPath sets the processing log summarised by /api/logs/summary.
func WithLogPath(path string) Option { return func(s *Server) { s.logPath = path } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(s *Server) { s.log = l } }

// New returns a server for the ledger at ledgerPath.
func New(ledgerPath string, opts ...Option) *Server {
	s := &Server{
		ledgerPath: ledgerPath,
		md:         goldmark.New(),
		log:        logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recovery, s.logRequests)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/entries/{id}", s.entryPage).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/usage", s.usageLedger).Methods(http.MethodGet)
	api.HandleFunc("/logs/summary", s.logSummary).Methods(http.MethodGet)
	api.HandleFunc("/entries", s.listEntries).Methods(http.MethodGet)
	api.HandleFunc("/entries/{id}", s.entry).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.WithField("addr", addr).Info("serving knowledge base")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusReport is the body of /api/status.
type StatusReport struct {
	Ledger  string        `json:"ledger"`
	Entries int           `json:"entries"`
	Status  ledger.Status `json:"status"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	st, err := ledger.ReadStatus(ledger.StatusPath(s.ledgerPath))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	rep := StatusReport{Ledger: s.ledgerPath, Status: st}
	err = ledger.Scan(s.ledgerPath, func(ledger.Header) error {
		rep.Entries++
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) usageLedger(w http.ResponseWriter, _ *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("usage ledger not configured"))
		return
	}
	u, err := s.usage.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) logSummary(w http.ResponseWriter, r *http.Request) {
	if s.logPath == "" {
		writeError(w, http.StatusServiceUnavailable, errors.New("processing log not configured"))
		return
	}
	top, err := intParam(r, "top", diag.DefaultTopErrors)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := diag.AnalyzeFile(s.logPath, top)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	if !s.hasEntries(w) {
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	docs, err := s.entries.Documents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if docs == nil {
		docs = []knowledge.DocumentSummary{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) entry(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) entryPage(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n", htmlTitle(e))
	if err := s.md.Convert([]byte(Markdown(e)), w); err != nil {
		s.log.WithError(err).WithField("document_id", e.DocumentID).Warn("rendering entry")
	}
	fmt.Fprint(w, "</body></html>\n")
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*types.KnowledgeEntry, bool) {
	if !s.hasEntries(w) {
		return nil, false
	}
	id := mux.Vars(r)["id"]
	e, err := s.entries.Entry(r.Context(), id)
	if errors.Is(err, knowledge.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return e, true
}

func (s *Server) hasEntries(w http.ResponseWriter) bool {
	if s.entries == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("knowledge index not configured"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  rec.status,
			"seconds": time.Since(start).Seconds(),
		}).Debug("request")
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.log.WithFields(logrus.Fields{
					"path":  r.URL.Path,
					"panic": v,
					"stack": string(debug.Stack()),
				}).Error("handler panicked")
				writeError(w, http.StatusInternalServerError, errors.New("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
