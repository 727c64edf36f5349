// Package server assembles the HTTP API: routing, middleware, and the
// endpoint handlers.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/config"
)

// Server is the HTTP front of the service.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// New builds the router and middleware stack around the handlers.
func New(cfg *config.Config, handlers *Handlers, auth *Authenticator, limiter *RateLimiter, log zerolog.Logger) *Server {
	log = log.With().Str("component", "server").Logger()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Timeout(time.Duration(cfg.MaxRequestTime) * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Compress(5))
	r.Use(BodyLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Use(limiter.Middleware)

			r.Post("/backtest", handlers.SubmitBacktest)
			r.Get("/backtest/{id}", handlers.GetBacktest)
			r.Delete("/backtest/{id}", handlers.CancelBacktest)
			r.Post("/backtest-sync", handlers.RunBacktestSync)
			r.Get("/system/status", handlers.SystemStatus)
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: time.Duration(cfg.MaxRequestTime+30) * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		log: log,
	}
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs one line per request at debug level; handler-level
// logs carry the detail.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("Request")
		})
	}
}
