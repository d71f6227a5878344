// Package main provides the gateway's entry point: wallet-auth challenge
// through onboarding, preflight, provisioning dispatch and runtime control.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/enclagent/gateway/applications/gatewayapi"
	"github.com/enclagent/gateway/domain/eventbus"
	"github.com/enclagent/gateway/domain/onboarding"
	"github.com/enclagent/gateway/domain/policy"
	"github.com/enclagent/gateway/domain/provisioning"
	"github.com/enclagent/gateway/domain/session"
	"github.com/enclagent/gateway/domain/timeline"
	"github.com/enclagent/gateway/infrastructure/config"
	"github.com/enclagent/gateway/infrastructure/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("CRITICAL: load config: %v", err)
	}

	logger := logging.NewFromEnv("gateway")

	sessions, timelines, closeStores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("CRITICAL: build stores: %v", err)
	}
	defer closeStores()

	var dispatcher *provisioning.Dispatcher
	if cfg.Provisioning.Backend != provisioning.BackendUnconfigured {
		dispatcher = provisioning.NewDispatcher(
			cfg.Provisioning.Backend,
			cfg.Provisioning.Command,
			time.Duration(cfg.Provisioning.TimeoutMs)*time.Millisecond,
			cfg.Provisioning.DefaultInstanceURL,
		)
	}

	server := gatewayapi.NewServer(gatewayapi.Deps{
		Config:      cfg,
		Sessions:    sessions,
		Timelines:   timelines,
		Onboarding:  onboarding.NewMemoryStore(),
		Templates:   policy.NewLibrary(),
		Provisioner: dispatcher,
		Bus:         eventbus.New(cfg.EventBus.SSEQueueCapacity),
	})

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go runExpirySweeper(sweepCtx, sessions, logger, time.Duration(cfg.Session.ExpirySweepIntervalMs)*time.Millisecond)
	defer stopSweep()

	port := cfg.Server.Port
	if port <= 0 {
		port = 8080
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + strconv.Itoa(port),
		Handler:           server.Routes(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // SSE streams hold the connection open indefinitely.
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info(ctx, "gateway listening", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("CRITICAL: server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutting down", nil)
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithContext(ctx).WithError(err).Error("graceful shutdown failed")
	}
}

// buildStores wires the session store and timeline recorder to Postgres when
// a DSN is configured, falling back to the in-memory implementations for
// local development and tests.
func buildStores(ctx context.Context, cfg *config.GatewayConfig, logger *logging.Logger) (session.Store, timeline.Recorder, func(), error) {
	if cfg.Database.DSN == "" {
		return session.NewMemoryStore(), timeline.NewMemoryRecorder(), func() {}, nil
	}

	store, err := session.OpenPostgresStore(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	if cfg.Database.MigrateOnStart {
		if err := session.ApplyMigrations(ctx, db); err != nil {
			_ = store.Close()
			_ = db.Close()
			return nil, nil, nil, err
		}
	}

	recorder := timeline.NewPostgresRecorder(db)
	logger.Info(ctx, "using postgres-backed session and timeline stores", nil)

	return store, recorder, func() {
		_ = store.Close()
		_ = db.Close()
	}, nil
}

// runExpirySweeper periodically expires any session whose challenge or
// provisioning window has lapsed. The interval comes from
// EXPIRY_SWEEP_INTERVAL_MS.
func runExpirySweeper(ctx context.Context, sessions session.Store, logger *logging.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired, err := sessions.ExpireDue(ctx, now.UTC())
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("expiry sweep failed")
				continue
			}
			if len(expired) > 0 {
				logger.Info(ctx, "expiry sweep expired sessions", map[string]interface{}{"count": len(expired)})
			}
		}
	}
}
