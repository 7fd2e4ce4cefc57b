package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/store"
)

const (
	shutdownMessage     = "Server is shutting down"
	storeStartupTimeout = 10 * time.Second
)

// app owns every long-lived component of the relay process.
type app struct {
	cfg config.Config
	log *slog.Logger

	store      store.Store
	mirror     *store.Mirror
	controller *room.Controller
	signaling  *signaling.Server
	http       *httpserver.Server
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	policy, err := origin.NewPolicy(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	mirror := store.NewMirror(store.MirrorConfig{
		Store:        st,
		QueueSize:    cfg.MirrorQueueSize,
		WriteTimeout: cfg.MirrorWriteTimeout,
		Logger:       logger.With("component", "mirror"),
		Metrics:      m,
	})

	hub := signaling.NewHub(logger)
	controller := room.NewController(room.Config{
		Notifier: hub,
		Recorder: mirror,
		Logger:   logger.With("component", "rooms"),
		Metrics:  m,
	})
	rl := relay.New(relay.Config{
		Registry:        controller.Registry(),
		Notifier:        hub,
		MaxPayloadBytes: cfg.MaxRelayPayloadBytes,
		Logger:          logger.With("component", "relay"),
		Metrics:         m,
	})
	sig := signaling.NewServer(signaling.Config{
		Controller:           controller,
		Relay:                rl,
		Hub:                  hub,
		CheckOrigin:          policy.CheckOrigin,
		Logger:               logger.With("component", "signaling"),
		Metrics:              m,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		WriteWait:            cfg.SignalingWSWriteWait,
		SendQueueSize:        cfg.SignalingSendQueueSize,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
	})

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Deps{
		Controller: controller,
		Store:      st,
		Metrics:    m,
		Gauges: []metrics.Gauge{{
			Name:  "aero_webrtc_signal_relay_mirror_pending",
			Help:  "Room transitions waiting to be written to the store.",
			Value: mirror.Pending,
		}},
		Origins: policy,
	})
	sig.RegisterRoutes(srv.Mux())

	return &app{
		cfg:        cfg,
		log:        logger,
		store:      st,
		mirror:     mirror,
		controller: controller,
		signaling:  sig,
		http:       srv,
	}, nil
}

// openStore picks PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("room persistence in memory")
		return store.NewMemory(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, storeStartupTimeout)
	defer cancel()

	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	// Rooms left open by a previous process have no live members.
	if err := pg.CloseStale(ctx, time.Now()); err != nil {
		_ = pg.Close()
		return nil, err
	}
	logger.Info("room persistence in postgres")
	return pg, nil
}

// run serves until ctx is cancelled, then announces the shutdown, waits the
// grace period and tears everything down in dependency order.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.http.Serve(ln)
	}()

	statusCtx, stopStatus := context.WithCancel(ctx)
	defer stopStatus()
	go a.logStatus(statusCtx)

	select {
	case err := <-errCh:
		closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if cerr := a.signaling.Close(closeCtx); cerr != nil {
			a.log.Error("signaling close failed", "err", cerr)
		}
		a.closeStorage(closeCtx)
		return err
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	}

	n := a.signaling.Announce(shutdownMessage)
	a.log.Info("shutdown announced", "clients", n, "grace", a.cfg.ShutdownGrace)
	if a.cfg.ShutdownGrace > 0 {
		time.Sleep(a.cfg.ShutdownGrace)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.log.Error("http server shutdown failed", "err", err)
	}
	if err := a.signaling.Close(shutdownCtx); err != nil {
		a.log.Error("signaling close failed", "err", err)
	}
	a.closeStorage(shutdownCtx)

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// closeStorage drains pending room transitions and closes the store.
func (a *app) closeStorage(ctx context.Context) {
	if err := a.mirror.Close(ctx); err != nil {
		a.log.Error("mirror drain incomplete", "err", err, "pending", a.mirror.Pending())
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("store close failed", "err", err)
	}
}

func (a *app) logStatus(ctx context.Context) {
	if a.cfg.StatusLogInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.StatusLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.log.Info("status",
				"active_connections", a.controller.Registry().Len(),
				"active_rooms", a.controller.Table().Len(),
				"mirror_pending", a.mirror.Pending(),
			)
		}
	}
}
