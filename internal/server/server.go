// Package server hosts the gate proxy, admin API, metrics, health endpoints
// and janitor of a running maintenance gate.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/developingchet/maintenance-gate/internal/admin"
	"github.com/developingchet/maintenance-gate/internal/allowlist"
	"github.com/developingchet/maintenance-gate/internal/api"
	"github.com/developingchet/maintenance-gate/internal/config"
	"github.com/developingchet/maintenance-gate/internal/filter"
	"github.com/developingchet/maintenance-gate/internal/janitor"
	"github.com/developingchet/maintenance-gate/internal/maintenance"
	"github.com/developingchet/maintenance-gate/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BinaryVersion is set at startup from the -X main.Version ldflags value.
var BinaryVersion = "dev"

// Server wires the maintenance state, gate, filter and admin surface to their
// listeners.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	state    *maintenance.State
	filter   *filter.Filter
	admin    *admin.Service
	janitor  *janitor.Janitor
	upstream *url.URL
	log      zerolog.Logger
}

// New builds a Server over store. The caller owns store and closes it after
// Run returns.
func New(cfg *config.Config, store storage.Store, log zerolog.Logger) (*Server, error) {
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}

	state := maintenance.NewState(store, log.With().Str("component", "state").Logger())
	allow := allowlist.New(store, log.With().Str("component", "allowlist").Logger())
	gate := maintenance.NewGate(state, allow, cfg.FailClosed, log.With().Str("component", "gate").Logger())

	f, err := filter.New(gate, cfg.FilterOptions(), nil, log.With().Str("component", "filter").Logger())
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		store:    store,
		state:    state,
		filter:   f,
		admin:    admin.New(state, allow, log.With().Str("component", "admin").Logger()),
		janitor:  janitor.New(state, allow, cfg.JanitorInterval, log.With().Str("component", "janitor").Logger()),
		upstream: upstream,
		log:      log,
	}, nil
}

// Run starts all listeners and the janitor, and blocks until ctx is cancelled
// or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.serve(gctx, "gate", s.cfg.ListenAddr, s.gateHandler())
	})

	if s.cfg.AdminAddr != "" {
		g.Go(func() error {
			return s.serve(gctx, "admin api", s.cfg.AdminAddr, api.NewRouter(s.admin, s.cfg.AdminToken, s.log))
		})
	}

	// Prometheus metrics server
	if s.cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error {
			return s.serve(gctx, "metrics", s.cfg.MetricsAddr, mux)
		})
	}

	// Health endpoints
	g.Go(func() error {
		return s.serve(gctx, "health", s.cfg.HealthAddr, s.healthHandler())
	})

	g.Go(func() error {
		return s.janitor.Run(gctx)
	})

	s.log.Info().Str("version", BinaryVersion).Str("upstream", s.upstream.Redacted()).
		Str("listen", s.cfg.ListenAddr).Msg("maintenance gate running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.state.Wait()
	return nil
}

// serve runs one HTTP server until ctx is cancelled, then shuts it down
// gracefully within the configured timeout.
func (s *Server) serve(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msgf("%s server started", name)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msgf("%s server: graceful shutdown incomplete", name)
		_ = srv.Close()
	}
	return nil
}

// healthHandler serves liveness and store-backed readiness probes.
func (s *Server) healthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}
