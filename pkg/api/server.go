// Package api exposes the daemon's local HTTP surface: current usage,
// on-demand refreshes, the event log, accounts, and exports. It binds
// to localhost; there is no auth layer because the keychain already
// gates the secrets behind it.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/quotabar/quotabar/pkg/accounts"
	"github.com/quotabar/quotabar/pkg/orchestrator"
	"github.com/quotabar/quotabar/pkg/provider"
	"github.com/quotabar/quotabar/pkg/reports"
	"github.com/quotabar/quotabar/pkg/store"
)

// EventReader is the slice of the store the API reads the log through.
type EventReader interface {
	RecentEvents(ctx context.Context, providerID string, limit int) ([]*store.Event, error)
}

// Server encapsulates the HTTP API server.
type Server struct {
	orch     *orchestrator.Orchestrator
	events   EventReader
	accounts *accounts.Store
	fetcher  accounts.Fetcher
	reports  *reports.Generator
	server   *http.Server
}

// NewServer wires the routes. A nil events, accounts, fetcher or
// reports disables the corresponding endpoints with 404s rather than
// panics.
func NewServer(orch *orchestrator.Orchestrator, events EventReader, accts *accounts.Store, fetcher accounts.Fetcher, gen *reports.Generator, addr string) *Server {
	s := &Server{
		orch:     orch,
		events:   events,
		accounts: accts,
		fetcher:  fetcher,
		reports:  gen,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/usage", s.handleUsage)
	mux.HandleFunc("/v1/usage/", s.handleUsageOne)
	mux.HandleFunc("/v1/refresh/", s.handleRefresh)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/export", s.handleExport)
	mux.HandleFunc("/v1/accounts/", s.handleAccounts)

	if addr == "" {
		addr = "127.0.0.1:8808"
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      withLogging(withRecovery(mux)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the HTTP server (blocking).
func (s *Server) Start() error {
	log.WithField("addr", s.server.Addr).Info("api server starting")
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info("api server stopping")
	return s.server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUsage returns the latest known result for every provider.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	all := s.orch.Latest().All()
	out := make(map[provider.ID]UsageResponse, len(all))
	for id, res := range all {
		out[id] = toUsageResponse(*res)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUsageOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerFromPath(w, r.URL.Path, "/v1/usage/")
	if !ok {
		return
	}
	res := s.orch.Latest().Get(id)
	if res == nil {
		writeError(w, http.StatusNotFound, "no data yet for "+string(id))
		return
	}
	writeJSON(w, http.StatusOK, toUsageResponse(*res))
}

// handleRefresh triggers a synchronous fetch. The source mode comes
// from the query string and defaults to auto.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerFromPath(w, r.URL.Path, "/v1/refresh/")
	if !ok {
		return
	}

	mode := provider.ModeAuto
	if m := r.URL.Query().Get("mode"); m != "" {
		mode = provider.SourceMode(m)
		if !mode.Valid() {
			writeError(w, http.StatusBadRequest, "unknown mode "+m)
			return
		}
	}

	res := s.orch.Refresh(r.Context(), id, mode)
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, toUsageResponse(res))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.events == nil {
		writeError(w, http.StatusNotFound, "event log disabled")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	events, err := s.events.RecentEvents(r.Context(), r.URL.Query().Get("provider"), limit)
	if err != nil {
		log.WithError(err).Error("failed to read events")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleExport streams usage history as CSV or JSON.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.reports == nil {
		writeError(w, http.StatusNotFound, "exports disabled")
		return
	}

	params := reports.Params{Provider: r.URL.Query().Get("provider")}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		params.Since = t
	}

	format := reports.Format(r.URL.Query().Get("format"))
	reader, err := s.reports.Generate(r.Context(), params, format)
	if err != nil {
		log.WithError(err).Error("failed to generate export")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch format {
	case reports.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	default:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="usage.csv"`)
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, reader)
}

// handleAccounts serves /v1/accounts/{provider} for listing and adding,
// /v1/accounts/{provider}/usage for the aggregate fetch, and
// /v1/accounts/{provider}/{id} for removal.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		writeError(w, http.StatusNotFound, "accounts disabled")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	parts := strings.SplitN(rest, "/", 2)
	id := provider.ID(parts[0])
	if !id.Valid() {
		writeError(w, http.StatusNotFound, "unknown provider "+parts[0])
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "usage":
		s.handleAccountUsage(w, r, id)

	case r.Method == http.MethodGet && len(parts) == 1:
		list, err := s.accounts.Load(id)
		if err != nil {
			log.WithError(err).Error("failed to load accounts")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		out := make([]AccountResponse, 0, len(list.Accounts))
		for _, a := range list.Accounts {
			out = append(out, AccountResponse{ID: a.ID, Label: a.Label, AddedAt: a.AddedAt, LastUsedAt: a.LastUsedAt})
		}
		writeJSON(w, http.StatusOK, out)

	case r.Method == http.MethodPost && len(parts) == 1:
		var req addAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Secret == "" {
			writeError(w, http.StatusBadRequest, "secret is required")
			return
		}
		acct, err := s.accounts.Add(id, req.Label, req.Secret)
		if err != nil {
			log.WithError(err).Error("failed to add account")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusCreated, AccountResponse{ID: acct.ID, Label: acct.Label, AddedAt: acct.AddedAt})

	case r.Method == http.MethodDelete && len(parts) == 2:
		if err := s.accounts.Remove(id, parts[1]); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAccountUsage fans out to every stored account and returns the
// merged snapshot plus the per-account outcomes.
func (s *Server) handleAccountUsage(w http.ResponseWriter, r *http.Request, id provider.ID) {
	if s.fetcher == nil {
		writeError(w, http.StatusNotFound, "account usage disabled")
		return
	}
	list, err := s.accounts.Load(id)
	if err != nil {
		log.WithError(err).Error("failed to load accounts")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(list.Accounts) == 0 {
		writeError(w, http.StatusNotFound, "no accounts for "+string(id))
		return
	}

	merged, results := accounts.RefreshAll(r.Context(), id, list.Accounts, s.fetcher)
	writeJSON(w, http.StatusOK, AccountUsageResponse{
		Provider: id,
		Merged:   merged,
		Accounts: results,
	})
}

func providerFromPath(w http.ResponseWriter, path, prefix string) (provider.ID, bool) {
	id := provider.ID(strings.TrimPrefix(path, prefix))
	if !id.Valid() {
		writeError(w, http.StatusNotFound, "unknown provider "+string(id))
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.WithField("panic", err).WithField("path", r.URL.Path).Error("panic recovered")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	})
}
