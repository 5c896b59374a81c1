// Package httpapi exposes the Gatekeeper admission engine over HTTP: a
// POST /evaluate endpoint that runs internal/gatekeeper.Evaluate, a GET
// /health liveness endpoint, and the Prometheus /metrics scrape endpoint.
// Grounded on sawpanic-cryptorun's internal/interfaces/http/server.go
// (mux.Router, a chained middleware stack, a local-only ServerConfig built
// from net.Listen port-probing, graceful Shutdown), generalized from a
// read-only candidate-browsing API to a single write-shaped decision
// endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gatekeeper/internal/drp"
	"github.com/sawpanic/gatekeeper/internal/gatekeeper"
	"github.com/sawpanic/gatekeeper/internal/gates"
	"github.com/sawpanic/gatekeeper/internal/metrics"
	"github.com/sawpanic/gatekeeper/internal/persistence"
)

// Config holds server configuration, mirroring the teacher's local-only
// default host binding.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns the default local-only server configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         8090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Engine is the subset of collaborators the HTTP layer needs to run an
// admission evaluation. Callers own the Machinery's long-lived components
// (DRP machine, reservation ledger/writer).
type Engine struct {
	Cfg     gates.Config
	Machine *gatekeeper.Machinery
	DRP     *drp.Machine
	Metrics *metrics.Registry

	// Decisions is optional: when nil, admission outcomes are not audited.
	Decisions persistence.DecisionsRepo
}

// Server is the Gatekeeper's local HTTP admission API.
type Server struct {
	router *mux.Router
	server *http.Server
	engine *Engine
	config Config
	start  time.Time
}

// NewServer probes the configured port (failing fast if it's busy, the way
// the teacher's NewServer does) and wires the route table.
func NewServer(config Config, engine *Engine) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("httpapi: port %d busy or unavailable: %w", config.Port, err)
	}
	listener.Close()

	s := &Server{
		router: mux.NewRouter(),
		engine: engine,
		config: config,
		start:  time.Now(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/evaluate", s.handleEvaluate).Methods(http.MethodPost)
	s.router.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)

	if s.engine != nil && s.engine.Metrics != nil {
		s.router.Handle("/metrics", s.engine.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not_found")
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// healthResponse is the liveness payload.
type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	DRPState      string `json:"drp_state,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(s.start).Seconds(),
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
	}
	writeJSON(w, http.StatusOK, resp)
}

type snapshotResponse struct {
	Published      bool   `json:"published"`
	SnapshotID     int64  `json:"snapshot_id,omitempty"`
	LogicalClockMs int64  `json:"logical_clock_ms,omitempty"`
	PublishedAtUTC string `json:"published_at_utc,omitempty"`
	Stale          bool   `json:"stale,omitempty"`
}

// handleSnapshot reports the snapshot ID, logical clock, publish time and
// staleness of the registry's current snapshot (the most recently evaluated
// request's), so ops dashboards can check the engine is seeing fresh ticks
// without re-running an admission decision.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil || s.engine.Machine == nil || s.engine.Machine.Snapshots == nil {
		writeJSON(w, http.StatusOK, snapshotResponse{Published: false})
		return
	}

	snap, ok := s.engine.Machine.Snapshots.Current()
	if !ok {
		writeJSON(w, http.StatusOK, snapshotResponse{Published: false})
		return
	}

	writeJSON(w, http.StatusOK, snapshotResponse{
		Published:      true,
		SnapshotID:     snap.SnapshotID,
		LogicalClockMs: snap.LogicalClockMs,
		PublishedAtUTC: snap.PublishedAtUTC.UTC().Format(time.RFC3339Nano),
		Stale:          snap.IsStale(time.Now(), s.engine.Machine.Snapshots.MaxAgeMs()),
	})
}

// evaluateRequest/evaluateResponse shapes the /evaluate wire contract. The
// request embeds gatekeeper.Request verbatim; the response embeds
// gatekeeper.Outcome verbatim, so the transport layer carries no semantics
// of its own beyond error translation.
type evaluateRequest struct {
	Request gatekeeper.Request `json:"request"`
	Base    gates.Context      `json:"base"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var body evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	if s.engine == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "engine_not_configured")
		return
	}

	drpState := drp.Normal
	if s.engine.DRP != nil {
		drpState = s.engine.DRP.State()
	}

	timer := (*metrics.ChainTimer)(nil)
	if s.engine.Metrics != nil {
		timer = s.engine.Metrics.StartChainTimer()
	}

	out, err := gatekeeper.Evaluate(r.Context(), s.engine.Cfg, s.engine.Machine, drpState, body.Base, body.Request)
	if timer != nil {
		timer.Stop()
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "evaluation_failed")
		return
	}

	if s.engine.Metrics != nil {
		outcome := "pass"
		if !out.Allowed {
			outcome = "block"
			s.engine.Metrics.RecordBlock(string(out.Reason))
		}
		if out.RejectedAtGate != "" {
			s.engine.Metrics.RecordGate(out.RejectedAtGate, outcome)
		}
	}

	if s.engine.Decisions != nil {
		go s.auditDecision(body, out, drpState)
	}

	writeJSON(w, http.StatusOK, out)
}

// auditDecision persists the outcome off the request path, mirroring the
// hot-path rule that gklog follows: the admission response never waits on
// a database round trip. Failures are logged, never retried inline.
func (s *Server) auditDecision(body evaluateRequest, out gatekeeper.Outcome, drpState drp.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	trace := map[string]interface{}{}
	if out.Chain != nil {
		for name, r := range out.Chain.Gates {
			trace[name] = r
		}
	}

	rec := persistence.DecisionRecord{
		Timestamp:       time.Now(),
		Instrument:      body.Request.Signal.Instrument,
		PortfolioID:     body.Request.Portfolio.PortfolioID,
		Allowed:         out.Allowed,
		Reason:          string(out.Reason),
		RejectedAtGate:  out.RejectedAtGate,
		AllowedRiskPct:  out.AllowedRiskPct,
		SizeQty:         out.SizeQty,
		SizeNotionalUSD: out.SizeNotionalUSD,
		DRPState:        string(drpState),
		GateTrace:       trace,
	}

	if _, err := s.engine.Decisions.Insert(ctx, rec); err != nil {
		log.Error().Err(err).Str("instrument", rec.Instrument).Msg("httpapi: decision audit insert failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// Start begins serving. It blocks until the listener returns an error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("httpapi: starting gatekeeper server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Address returns the bound address.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
