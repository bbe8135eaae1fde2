// Package server exposes the circle's queries over HTTP. Mutations come from
// the host ledger, never from this surface, so every route is a GET.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/circlelabs/circle"
	"github.com/circlelabs/circle/config"
)

type Server struct {
	cfg      config.ServerConfig
	contract *circle.Contract
	logger   zerolog.Logger
	registry *prometheus.Registry
	http     *http.Server
}

func New(cfg config.ServerConfig, contract *circle.Contract, logger zerolog.Logger, registry *prometheus.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		contract: contract,
		logger:   logger,
		registry: registry,
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddress).Msg("query server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(s.rateLimiter())

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Get("/circle", s.handleCircle)
	r.Get("/rules", s.handleRules)
	r.Get("/members", s.handleListMembers)
	r.Get("/members/{address}", s.handleMember)
	r.Get("/escrow/{address}", s.handleEscrow)
	r.Get("/batches/{id}", s.handleBatch)
	r.Get("/proposals", s.handleListProposals)
	r.Get("/proposals/{id}", s.handleProposal)
	r.Get("/proposals/{id}/votes", s.handleVotes)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

func (s *Server) rateLimiter() func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
