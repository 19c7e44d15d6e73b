// Package server wires every component into a running process
// (component G): it builds the admission pipeline from configuration,
// accepts connections, and runs the admin (/healthz, /metrics) listener
// alongside the public one.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"sentryproxy/internal/admission"
	"sentryproxy/internal/clock"
	"sentryproxy/internal/config"
	"sentryproxy/internal/filter"
	"sentryproxy/internal/forwarder"
	"sentryproxy/internal/logging"
	"sentryproxy/internal/metrics"
	"sentryproxy/internal/registry"
	"sentryproxy/internal/timeoutrules"
)

const (
	sweepInterval        = 60 * time.Second
	sweepMaxVisitPerTick = 1000
	registrySizeInterval = 15 * time.Second
)

// Server bundles the running listeners and their shared state.
type Server struct {
	cfg       *config.Config
	log       *logging.Logger
	metrics   *metrics.Registry
	registry  *registry.Registry
	pipeline  *admission.Pipeline
	publicSrv *http.Server
	adminSrv  *http.Server
	stop      chan struct{}
}

// New builds a Server from a loaded, validated Config.
func New(cfg *config.Config, log *logging.Logger) (*Server, error) {
	clk := clock.Real()

	reg := registry.New(registry.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		MaxEntries:        cfg.Limits.RegistryMaxEntries,
	}, clk)

	f, err := filter.New(cfg.Filter.BlockedPatterns)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	var rules []timeoutrules.Rule
	for _, o := range cfg.TimeoutOverride {
		rules = append(rules, timeoutrules.Rule{
			Path:    o.Path,
			Timeout: time.Duration(o.TimeoutSecs) * time.Second,
		})
	}
	resolver := timeoutrules.New(rules, cfg.DefaultTimeout())

	fwd, err := forwarder.New(cfg.Proxy.Upstream)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	metricsReg := metrics.New()

	pipeline := admission.New(admission.Deps{
		Registry:       reg,
		Filter:         f,
		Resolver:       resolver,
		Forwarder:      fwd,
		MaxBodySize:    cfg.Limits.MaxBodySize,
		BotRedirectURL: cfg.Filter.BotRedirectURL,
		Redirects:      cfg.ErrorRedirects,
	})

	s := &Server{
		cfg:      cfg,
		log:      log,
		metrics:  metricsReg,
		registry: reg,
		pipeline: pipeline,
		stop:     make(chan struct{}),
	}

	s.publicSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.loggingMiddleware(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.AdminListen != "" {
		s.adminSrv = &http.Server{
			Addr:              cfg.Server.AdminListen,
			Handler:           s.adminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return s, nil
}

// Run starts the listeners and the background sweeper, and blocks until
// ctx is cancelled (normally by a signal handler in cmd/sentryproxy).
// It returns nil on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.registry.StartSweeper(sweepInterval, sweepMaxVisitPerTick, s.stop)
	go s.reportRegistrySize()

	s.log.Infof("listening on %s, upstream %s", s.cfg.Server.ListenAddr, s.cfg.Proxy.Upstream)
	for _, o := range s.cfg.TimeoutOverride {
		s.log.Infof("timeout override: %s -> %ds", o.Path, o.TimeoutSecs)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := s.publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public listener: %w", err)
			return
		}
		errCh <- nil
	}()

	if s.adminSrv != nil {
		go func() {
			if err := s.adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin listener: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return err
		}
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	close(s.stop)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.publicSrv.Shutdown(ctx)
	if s.adminSrv != nil {
		_ = s.adminSrv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) reportRegistrySize() {
	ticker := time.NewTicker(registrySizeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.metrics.SetRegistrySize(s.registry.Len())
		}
	}
}

// loggingMiddleware extracts the client IP (trusted: the edge terminator
// is the only peer, spec.md §4.G), runs the pipeline, and emits one log
// line and one metrics observation per request.
func (s *Server) loggingMiddleware() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		outcome := s.pipeline.ServeHTTP(rec, r)

		latency := time.Since(start)
		s.metrics.ObserveOutcome(string(outcome))
		if outcome == admission.OutcomeAdmitted {
			s.metrics.ObserveForwardLatency(latency)
		}

		s.log.LogRequest(logging.Entry{
			RequestID: requestID,
			RemoteIP:  admission.ClientIP(r.RemoteAddr),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    rec.status,
			LatencyMS: latency.Milliseconds(),
			Outcome:   string(outcome),
			Upstream:  s.cfg.Proxy.Upstream,
		})
	})
}

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
