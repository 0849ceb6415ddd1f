// Package handlers provides the HTTP surface of the arena: catalog reads,
// lobby actions, battle history and logs, and the same turn actions the
// real-time channel offers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/auth"
	"github.com/cory-johannsen/arena/internal/gameserver"
)

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Services *gameserver.Services
	Verifier *auth.Verifier
	// Realtime serves the websocket upgrade at /ws; it authenticates on its own.
	Realtime http.Handler
	// Ping reports storage health for /healthz. Nil means always healthy.
	Ping   func(ctx context.Context) error
	Logger *zap.Logger
}

// API holds the request handlers.
type API struct {
	svc    *gameserver.Services
	ping   func(ctx context.Context) error
	logger *zap.Logger
}

// NewRouter builds the HTTP router.
//
// Precondition: deps.Services, deps.Verifier and deps.Logger must be non-nil.
func NewRouter(deps Deps) http.Handler {
	a := &API{svc: deps.Services, ping: deps.Ping, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Get("/healthz", a.health)
	if deps.Realtime != nil {
		r.Handle("/ws", deps.Realtime)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(deps.Verifier, a.fail))

		r.Get("/creatures", a.listCreatures)
		r.Get("/creatures/{id}", a.getCreature)
		r.Get("/creatures/{id}/moves", a.creatureMoves)

		r.Post("/battles", a.createBattle)
		r.Post("/battles/join", a.joinBattle)
		r.Post("/battles/random", a.randomMatch)
		r.Get("/battles/active", a.activeBattles)
		r.Get("/battles/history", a.battleHistory)
		r.Get("/battles/recent", a.recentBattles)
		r.Get("/battles/{id}/logs", a.battleLogs)
		r.Post("/battles/{id}/logs", a.postLog)
		r.Post("/battles/{id}/moves", a.useMove)
		r.Post("/battles/{id}/finalize", a.finalize)
	})
	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if a.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ping(ctx); err != nil {
			a.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": a.svc.Registry.Len(),
	})
}

// requestLogger logs one line per request at debug, or warn for 5xx.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn("request failed", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}
