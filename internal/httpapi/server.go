package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hamed0406/ipsafe/internal/domain"
	apimw "github.com/hamed0406/ipsafe/internal/httpapi/middleware"
	"github.com/hamed0406/ipsafe/internal/repo"
)

// maxLimit caps ?limit= on history routes.
const maxLimit = 500

// LiveChecker runs one safety probe and stores its result.
type LiveChecker interface {
	RunOnce(ctx context.Context) (*domain.CheckResult, error)
}

type Server struct {
	Logger    *zap.Logger
	Checks    repo.CheckStore
	Decisions repo.DecisionStore
	Live      LiveChecker
}

func NewServer(l *zap.Logger, cs repo.CheckStore, ds repo.DecisionStore, live LiveChecker) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Checks: cs, Decisions: ds, Live: live}
}

// Router wires routes. Read routes need any key, POST /api/check an admin
// key; both are rate limited per client IP.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, publicRPM, publicBurst, adminRPM, adminBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(corsHandler(allowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(publicRPM, publicBurst))
		r.Use(apimw.RequireAny(keys))
		r.Get("/api/safety", s.handleSafety)
		r.Get("/api/checks", s.handleChecks)
		r.Get("/api/decisions", s.handleDecisions)
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(adminRPM, adminBurst))
		r.Use(apimw.RequireAdmin(keys))
		r.Post("/api/check", s.handleCheck)
	})

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	})
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	cr, err := s.Checks.Latest(r.Context())
	if err != nil {
		s.fail(w, r, "latest check", err)
		return
	}
	if cr == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no checks yet"})
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if s.Live == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "live checks disabled"})
		return
	}
	start := time.Now()
	cr, err := s.Live.RunOnce(r.Context())
	if err != nil && cr == nil {
		s.fail(w, r, "live check", err)
		return
	}
	if err != nil {
		// probe ran but could not be stored; the caller still gets the result
		s.Logger.Warn("live_check_not_stored", zap.Error(err))
	}
	s.Logger.Info("live_check",
		zap.String("url", cr.URL),
		zap.Bool("safe", cr.Safe),
		zap.Duration("took", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, cr)
}

func (s *Server) handleChecks(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.Checks.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, r, "recent checks", err)
		return
	}
	if rows == nil {
		rows = []domain.CheckResult{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.Decisions == nil {
		writeJSON(w, http.StatusOK, []domain.Decision{})
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.Decisions.Decisions(r.Context(), limit)
	if err != nil {
		s.fail(w, r, "decisions", err)
		return
	}
	if rows == nil {
		rows = []domain.Decision{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// parseLimit reads ?limit=N. Missing means repo.DefaultLimit.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return repo.DefaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, maxLimit), true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, what string, err error) {
	s.Logger.Error("api_error",
		zap.String("op", what),
		zap.String("path", r.URL.Path),
		zap.String("request_id", chimw.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": what + " failed"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
