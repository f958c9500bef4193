// Package server implements the HTTP surface of the cabildo transcription
// service.
//
// Endpoints:
//
//   - GET  /health            — service banner for legacy frontends.
//   - POST /transcribe        — upload audio, block until the transcript is
//     ready, and return it enriched with speaker names.
//   - POST /transcribe/async  — upload audio, start a job, return 202 with
//     the job ID immediately.
//   - GET  /status/{id}       — poll a job once; completed jobs are enriched
//     and persisted.
//   - GET  /healthz, /readyz  — liveness and readiness probes.
//   - GET  /metrics           — Prometheus scrape endpoint.
//
// All provider calls run behind a shared circuit breaker; responses use a
// uniform JSON envelope with a top-level "status" field.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cabildolabs/cabildo/internal/attribution"
	"github.com/cabildolabs/cabildo/internal/health"
	"github.com/cabildolabs/cabildo/internal/jobstore"
	"github.com/cabildolabs/cabildo/internal/observe"
	"github.com/cabildolabs/cabildo/internal/resilience"
	"github.com/cabildolabs/cabildo/pkg/transcriber"
)

// Version is the service version reported by GET /health.
const Version = "4.5.0"

// defaultMaxUploadBytes caps uploads at 500 MiB, matching the largest
// council-session recordings seen in production.
const defaultMaxUploadBytes = 500 << 20

// Config holds the server's collaborators and tunables.
type Config struct {
	// Provider is the external transcription backend. Required.
	Provider transcriber.Provider

	// Attributor runs speaker name attribution on completed transcripts.
	// Required.
	Attributor *attribution.Attributor

	// Jobs persists transcription jobs. Required; use a
	// [jobstore.MemStore] when durability is not needed.
	Jobs jobstore.Store

	// Metrics receives instrument updates. When nil,
	// [observe.DefaultMetrics] is used.
	Metrics *observe.Metrics

	// CORSOrigins lists allowed browser origins. Empty allows any origin.
	CORSOrigins []string

	// MaxUploadBytes caps the uploaded audio size. Zero selects the
	// 500 MiB default.
	MaxUploadBytes int64
}

// Server is the HTTP API of the cabildo service. It is safe for concurrent
// use; all mutable state lives in the job store and the circuit breaker.
type Server struct {
	provider   transcriber.Provider
	attributor *attribution.Attributor
	jobs       jobstore.Store
	metrics    *observe.Metrics
	breaker    *resilience.CircuitBreaker

	corsOrigins    []string
	maxUploadBytes int64
}

// New creates a [Server] from cfg.
func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	return &Server{
		provider:   cfg.Provider,
		attributor: cfg.Attributor,
		jobs:       cfg.Jobs,
		metrics:    m,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "transcriber",
		}),
		corsOrigins:    cfg.CORSOrigins,
		maxUploadBytes: maxBytes,
	}
}

// Handler returns the fully assembled [http.Handler]: routes, health probes,
// the metrics endpoint, and the CORS + observability middleware stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /transcribe/async", s.handleTranscribeAsync)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Method-less fallbacks so wrong-method requests get the JSON envelope
	// instead of the ServeMux plain-text 405.
	mux.HandleFunc("/health", methodNotAllowed)
	mux.HandleFunc("/transcribe", methodNotAllowed)
	mux.HandleFunc("/transcribe/async", methodNotAllowed)
	mux.HandleFunc("/status/{id}", methodNotAllowed)
	mux.HandleFunc("/jobs", methodNotAllowed)
	mux.HandleFunc("/", notFound)

	probes := health.New(health.Checker{
		Name:  "jobstore",
		Check: s.jobs.Ping,
	})
	probes.Register(mux)

	var h http.Handler = mux
	h = observe.Middleware(s.metrics)(h)
	h = corsMiddleware(s.corsOrigins)(h)
	return h
}

// handleHealth serves the legacy service banner used by the frontend to
// verify connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "council session transcription API",
		"version": Version,
	})
}
