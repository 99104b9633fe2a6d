// internal/httpserver/server.go
//
// HTTP server wiring for the hatchery backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs,
//     request logging, Prometheus counters).
//   - Public endpoints: "/", "/health", "/metrics".
//   - Session endpoints (optional auth): mounted under /sessions.
//   - Auth endpoints: /auth/*; usage dashboard: /usage/me.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Optional auth decorates requests with user context when a valid token is present;
//     guests are identified by an anonymous cookie instead.

package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/poco/internal/config"
	"github.com/robalobadob/poco/internal/genesis"
	"github.com/robalobadob/poco/internal/i18n"
	"github.com/robalobadob/poco/internal/metrics"
	"github.com/robalobadob/poco/internal/store"
	"github.com/robalobadob/poco/internal/usage"
)

// Weather resolves coordinates to a hatch environment.
type Weather interface {
	Lookup(ctx context.Context, lat, lon float64) (genesis.Environment, error)
}

// Deps are the collaborators a Server needs. DB, Catalog, Weather and Usage may be nil.
type Deps struct {
	Config   config.Config
	Sessions store.Store
	Provider genesis.Provider
	DB       *sql.DB
	Catalog  *i18n.Catalog
	Weather  Weather
	Usage    usage.Store
}

// Server bundles router, session store and DB handle.
type Server struct {
	r        *chi.Mux
	cfg      config.Config
	sessions store.Store
	provider genesis.Provider
	db       *sql.DB
	catalog  *i18n.Catalog
	weather  Weather
	usage    usage.Store
	limiter  *rateLimiter
	now      func() time.Time
}

// New constructs a Server, installs middleware, and registers routes.
func New(d Deps) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		cfg:      d.Config,
		sessions: d.Sessions,
		provider: d.Provider,
		db:       d.DB,
		catalog:  d.Catalog,
		weather:  d.Weather,
		usage:    d.Usage,
		limiter:  newRateLimiter(d.Config.RateLimitRPS, d.Config.RateLimitBurst),
		now:      time.Now,
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(requestLogger)
	s.r.Use(chimw.Recoverer)
	s.r.Use(chimw.Timeout(3 * time.Minute)) // image generation is slow
	s.r.Use(metrics.Middleware)
	s.r.Use(jsonContentType)
	s.r.Use(s.cors)

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"service":"poco","endpoints":["/health","/metrics","/sessions","/auth/*","/usage/me"]}`))
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	s.r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Sessions: OPTIONAL AUTH (guests can play)
	s.mountSessions(s.r.With(s.withOptionalAuth()))

	// Usage dashboard: OPTIONAL AUTH (guests see their anonymous usage)
	s.r.With(s.withOptionalAuth()).Get("/usage/me", s.handleUsage)

	s.mountAuthRoutes()

	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for the configured client origin.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.cfg.ClientOrigin
	if origin == "" {
		origin = "http://localhost:3000"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger writes one zerolog line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("reqId", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("http")
	})
}

// ------------------------------- helpers -----------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
