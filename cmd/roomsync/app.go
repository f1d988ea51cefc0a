package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/actuallyakshat/realtime-todos/internal/api"
	"github.com/actuallyakshat/realtime-todos/internal/auth"
	"github.com/actuallyakshat/realtime-todos/internal/coalesce"
	"github.com/actuallyakshat/realtime-todos/internal/config"
	"github.com/actuallyakshat/realtime-todos/internal/connection"
	"github.com/actuallyakshat/realtime-todos/internal/loop"
	"github.com/actuallyakshat/realtime-todos/internal/metrics"
	"github.com/actuallyakshat/realtime-todos/internal/poller"
	"github.com/actuallyakshat/realtime-todos/internal/session"
	"github.com/actuallyakshat/realtime-todos/internal/version"
)

const shutdownTimeout = 5 * time.Second

// app wires one engine for one identity.
type app struct {
	cfg      *config.Config
	creds    *auth.Credentials
	logger   *slog.Logger
	client   *api.Client
	registry *prometheus.Registry
	loop     *loop.Loop
	engine   *session.Engine

	ctx  context.Context
	stop context.CancelFunc
}

// loadConfig reads and validates the config, applying flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadAndValidate(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.username != "" {
		cfg.Identity.Username = opts.username
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// engineConfig maps the file config onto the engine's packages.
func engineConfig(cfg *config.Config, creds *auth.Credentials) session.Config {
	return session.Config{
		Username: creds.Username,
		Manager: connection.ManagerConfig{
			WSURL:                cfg.Server.WSURL,
			Token:                creds.Token,
			ConnectTimeout:       cfg.Transport.ConnectTimeout,
			ReconnectDelay:       cfg.Transport.ReconnectDelay,
			MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
			Client: connection.ClientConfig{
				HandshakeTimeout: cfg.Transport.HandshakeTimeout,
				PingInterval:     cfg.Transport.PingInterval,
				PingTimeout:      cfg.Transport.PingTimeout,
				WriteTimeout:     cfg.Transport.WriteTimeout,
				BufferSize:       cfg.Transport.BufferSize,
			},
		},
		Writes: coalesce.Config{
			ThrottleInterval: cfg.Writes.ThrottleInterval,
			RequestTimeout:   cfg.Writes.RequestTimeout,
		},
		Poller: poller.Config{
			Interval: cfg.Poller.ResyncInterval,
			Timeout:  cfg.API.Timeout,
		},
		RequestTimeout: cfg.Writes.RequestTimeout,
	}
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	creds, err := auth.LoadCredentials(cfg.Identity.Token, cfg.Identity.TokenFile, cfg.Identity.Username)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	client := api.NewClient(
		cfg.Server.RestURL,
		creds.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(
		metrics.WithRegistry(registry),
		metrics.WithConstLabels(prometheus.Labels{"version": version.Version}),
	)

	ctx, stop := context.WithCancel(context.Background())
	l := loop.New(logger)

	engine, err := session.NewEngine(ctx, engineConfig(cfg, creds), l, client, logger, session.WithObserver(m))
	if err != nil {
		stop()
		return nil, err
	}

	if !creds.ExpiresAt.IsZero() {
		logger.Debug("token loaded", "username", creds.Username, "expires_at", creds.ExpiresAt)
	}

	return &app{
		cfg:      cfg,
		creds:    creds,
		logger:   logger,
		client:   client,
		registry: registry,
		loop:     l,
		engine:   engine,
		ctx:      ctx,
		stop:     stop,
	}, nil
}

// run drives the loop, the optional metrics server and surface until surface
// returns or ctx is cancelled. The engine is closed before the loop stops.
func (a *app) run(ctx context.Context, surface func(ctx context.Context) error) error {
	defer a.stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.loop.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if a.cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           newServer(a.cfg.Metrics.Path, a.registry, engineHealth{a.engine}, a.logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("starting metrics server", "addr", srv.Addr, "path", a.cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer a.stop()
		err := surface(gctx)
		if cerr := a.engine.Close(); cerr != nil && !errors.Is(cerr, loop.ErrStopped) {
			a.logger.Warn("engine close failed", "error", cerr)
		}
		return errStopGroup(err)
	})

	err := g.Wait()
	if errors.Is(err, errSurfaceDone) {
		return nil
	}
	return err
}

// errSurfaceDone cancels the group once the surface returns cleanly.
var errSurfaceDone = errors.New("surface done")

func errStopGroup(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return errSurfaceDone
	}
	return err
}

// engineHealth adapts an Engine to the health endpoint.
type engineHealth struct {
	engine *session.Engine
}

func (h engineHealth) Status() connection.Status {
	return h.engine.Status()
}

func (h engineHealth) Pending() int {
	if s := h.engine.Current(); s != nil {
		return s.Pending()
	}
	return 0
}
