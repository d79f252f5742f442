// Package web serves the country catalog over HTTP: a JSON API for records
// and statistics, CSV/YAML import and CSV export, an HTML overview page,
// health and Prometheus metrics endpoints.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/analyzer/internal/catalog"
	"github.com/JonMunkholm/analyzer/internal/config"
	"github.com/JonMunkholm/analyzer/internal/ingest"
	appmw "github.com/JonMunkholm/analyzer/internal/web/middleware"
)

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the country analyzer.
type Server struct {
	catalog *catalog.Catalog
	store   Pinger
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	metrics *metrics.Set
	imports *ingest.Limiter
}

// NewServer creates a Server over an already-loaded catalog.
func NewServer(cat *catalog.Catalog, store Pinger, cfg *config.Config) *Server {
	s := &Server{
		catalog: cat,
		store:   store,
		cfg:     cfg,
		router:  chi.NewRouter(),
		metrics: metrics.NewSet(),
		imports: ingest.NewLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWait),
	}
	s.metrics.NewGauge("catalog_records", func() float64 { return float64(cat.Len()) })
	s.metrics.NewGauge("imports_active", func() float64 { return float64(s.imports.Active()) })

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(appmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(appmw.Logger)
	s.router.Use(s.instrument)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleIndex)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/metrics", s.handleMetrics)

	auth := appmw.APIKeyAuth(s.cfg.Security.RequireAPIKey, s.cfg.Security.APIKeys)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/countries", s.handleListCountries)
		r.Get("/countries/{code}", s.handleGetCountry)
		r.Get("/export", s.handleExport)

		r.Get("/stats/min/{field}", s.handleMin)
		r.Get("/stats/max/{field}", s.handleMax)
		r.Get("/stats/correlation", s.handleCorrelation)
		r.Get("/stats/summary", s.handleSummary)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/countries", s.handleCreateCountry)
			r.Put("/countries/{code}", s.handleUpdateCountry)
			r.Delete("/countries/{code}", s.handleDeleteCountry)
			r.Post("/import", s.handleImport)
		})
	})
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// instrument counts requests per route and status and records latency.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := appmw.RoutePattern(r)
		s.metrics.GetOrCreateCounter(fmt.Sprintf(`http_requests_total{method=%q,route=%q,status="%d"}`, r.Method, route, status)).Inc()
		s.metrics.GetOrCreateHistogram(fmt.Sprintf(`http_request_duration_seconds{route=%q}`, route)).UpdateDuration(start)
	})
}

// countOp records the outcome of a catalog write: "ok" or the error code.
func (s *Server) countOp(op, outcome string) {
	s.metrics.GetOrCreateCounter(fmt.Sprintf(`catalog_writes_total{op=%q,outcome=%q}`, op, outcome)).Inc()
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
