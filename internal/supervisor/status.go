package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/journal"
	"github.com/ashureev/diplobot/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	healthCheckTimeout  = 5 * time.Second
	defaultJournalLimit = 20
	maxJournalLimit     = 200
)

type pinger interface {
	Ping(ctx context.Context) error
}

// StatusHandler serves read-only session status.
type StatusHandler struct {
	registry *Registry
	journal  journal.Journal
	logger   *slog.Logger
	started  time.Time
}

// NewStatusHandler creates a status handler. j may be nil when the journal
// is disabled.
func NewStatusHandler(registry *Registry, j journal.Journal, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{
		registry: registry,
		journal:  j,
		logger:   logger,
		started:  time.Now(),
	}
}

// NewStatusRouter builds the chi router for the status API.
func NewStatusRouter(h *StatusHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(CORS([]string{"*"}))
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the status routes.
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{power}", h.GetSession)
	r.Get("/sessions/{power}/journal", h.GetJournal)
}

// Health reports process liveness and journal reachability.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "journal": "disabled"}
	status := map[string]any{
		"status":   "healthy",
		"sessions": h.registry.Len(),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"checks":   checks,
	}
	statusCode := http.StatusOK

	if p, ok := h.journal.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", "error", err)
			status["status"] = "degraded"
			checks["journal"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["journal"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}

// ListSessions returns the stats of every registered session.
func (h *StatusHandler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	members := h.registry.Members()
	stats := make([]session.Stats, 0, len(members))
	for _, m := range members {
		stats = append(stats, m.Stats())
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": stats})
}

// GetSession returns one session's stats.
func (h *StatusHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	m := h.registry.Get(chi.URLParam(r, "power"))
	if m == nil {
		Error(w, http.StatusNotFound, "no session for power")
		return
	}
	JSON(w, http.StatusOK, m.Stats())
}

// GetJournal returns the most recent journal entries for a power.
func (h *StatusHandler) GetJournal(w http.ResponseWriter, r *http.Request) {
	power := domain.NormalizePower(chi.URLParam(r, "power"))
	if !slices.Contains(domain.StandardPowers, power) {
		Error(w, http.StatusNotFound, "unknown power")
		return
	}
	if h.journal == nil {
		Error(w, http.StatusNotFound, "journal disabled")
		return
	}

	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := h.journal.Recent(r.Context(), power, limit)
	if err != nil {
		h.logger.Error("Failed to read journal", "power", power, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	JSON(w, http.StatusOK, map[string]any{"power": power, "entries": entries})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// CORS returns middleware that allows read-only cross-origin access from
// the given origins.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Serve runs the status server on addr until ctx is done, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Status server stopped")
	return nil
}
