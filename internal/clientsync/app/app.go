package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/commonassist/casehub/internal/clientsync/domain"
	httpapi "github.com/commonassist/casehub/internal/clientsync/http"
	"github.com/commonassist/casehub/internal/clientsync/metrics"
	"github.com/commonassist/casehub/internal/clientsync/registry"
	"github.com/commonassist/casehub/internal/clientsync/service"
	"github.com/commonassist/casehub/internal/clientsync/store"
	"github.com/commonassist/casehub/internal/clientsync/store/drivers/postgres"
	"github.com/commonassist/casehub/internal/clientsync/store/drivers/sqlite"
	"github.com/commonassist/casehub/pkg/blobx"
	"github.com/commonassist/casehub/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application wires the registry, one open connection per store and the
// sync/audit services. One-shot commands construct it, act and Close; daemon
// mode hands control to Run.
type Application struct {
	cfg    Config
	logger *slog.Logger

	registry *registry.Registry
	conns    service.Conns
	blobs    blobx.Store

	// Per-instance metrics registry, so repeated constructions in one
	// process never collide on collector registration.
	promRegistry *prometheus.Registry
	recorder     *metrics.Recorder

	syncService  *service.SyncService
	auditService *service.AuditService
	scheduler    *service.AuditScheduler

	opsServer *http.Server
}

// New creates an Application with every registered store opened and all
// services initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "clientsync",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	reg, err := registry.Load(cfg.RegistryFile)
	if err != nil {
		return nil, err
	}
	app.registry = reg

	ctx := context.Background()
	if err := app.openStores(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	blobs, err := blobx.Open(ctx, cfg.Snapshots)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("snapshot storage: %w", err)
	}
	app.blobs = blobs

	if err := app.initServices(); err != nil {
		_ = app.Close()
		return nil, err
	}

	return app, nil
}

// openStores opens one connection per registered store. Dependent store
// schemas are never created here, only introspected later.
func (app *Application) openStores(ctx context.Context) error {
	app.conns = make(service.Conns, len(app.registry.List()))
	for _, st := range app.registry.List() {
		var (
			conn store.Conn
			err  error
		)
		switch st.Driver {
		case "postgres":
			conn, err = postgres.Open(ctx, st.DSN)
		default:
			conn, err = sqlite.Open(st.DSN)
		}
		if err != nil {
			return fmt.Errorf("open store %s: %w", st.ID, err)
		}
		app.conns[st.ID] = conn
		app.logger.Info("store opened", "store_id", st.ID, "driver", conn.Driver(), "master", st.Master)
	}
	return nil
}

// initServices initializes the coordinator, the auditor and the scheduler.
func (app *Application) initServices() error {
	policy, err := domain.ParseRepairPolicy(app.cfg.AuditPolicy)
	if err != nil {
		return fmt.Errorf("audit policy: %w", err)
	}

	app.promRegistry = prometheus.NewRegistry()
	app.recorder = metrics.NewRecorder(app.promRegistry)
	locks := service.NewIDLocker(app.cfg.LockTimeout)

	app.syncService = &service.SyncService{
		Registry: app.registry,
		Conns:    app.conns,
		Locks:    locks,
		Metrics:  app.recorder,
	}

	app.auditService = service.NewAuditService(app.registry, app.conns, locks, app.blobs, app.cfg.ScanRate)
	app.auditService.Metrics = app.recorder

	app.scheduler = service.NewAuditScheduler(app.auditService, app.logger, app.cfg.AuditInterval, policy)
	return nil
}

// Sync returns the write coordinator.
func (app *Application) Sync() *service.SyncService { return app.syncService }

// Audit returns the consistency auditor.
func (app *Application) Audit() *service.AuditService { return app.auditService }

// Registry returns the validated store registry.
func (app *Application) Registry() *registry.Registry { return app.registry }

// Conns returns the open store connections keyed by store id.
func (app *Application) Conns() service.Conns { return app.conns }

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger { return app.logger }

// MigrateMaster applies the embedded baseline schema to the master store.
// Dependent stores belong to their modules and are never migrated here.
func (app *Application) MigrateMaster() error {
	master := app.registry.Master()
	conn := app.conns[master.ID]
	m, ok := conn.(store.Migrator)
	if !ok {
		return fmt.Errorf("master store %s (%s driver) has no embedded migrations", master.ID, conn.Driver())
	}
	if err := m.ApplyMigrations(); err != nil {
		return fmt.Errorf("migrate master %s: %w", master.ID, err)
	}
	app.logger.Info("master migrations applied", "store_id", master.ID)
	return nil
}

// Run starts daemon mode and blocks until shutdown is requested: the audit
// scheduler plus an optional operational listener serving metrics and probes.
func (app *Application) Run() error {
	app.scheduler.Start()

	app.logger.Info("clientsync daemon starting",
		"stores", len(app.registry.List()),
		"audit_interval", app.cfg.AuditInterval,
		"audit_policy", app.scheduler.Policy,
		"version", BuildVersion)

	serverErrors := make(chan error, 1)
	if app.cfg.MetricsAddr != "" {
		router := httpapi.NewRouter(BuildVersion, app.registry, app.conns, app.promRegistry, app.logger)
		router.ApplyRoutes()

		app.opsServer = &http.Server{
			Addr:              app.cfg.MetricsAddr,
			Handler:           router,
			ReadHeaderTimeout: 3 * time.Second,
		}
		go func() {
			serverErrors <- app.opsServer.ListenAndServe()
		}()
		app.logger.Info("ops listener started", "addr", app.cfg.MetricsAddr)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully stops the daemon: ops listener first, then the
// scheduler (blocking on any in-progress audit), then the store connections.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down clientsync daemon...")

	if app.opsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
		defer cancel()
		if err := app.opsServer.Shutdown(ctx); err != nil {
			app.logger.Error("graceful ops server shutdown failed", "error", err)
			if err := app.opsServer.Close(); err != nil {
				app.logger.Error("error closing ops server", "error", err)
			}
		}
	}

	app.scheduler.Stop()

	if err := app.Close(); err != nil {
		return err
	}

	app.logger.Info("clientsync daemon stopped")
	return nil
}

// Close releases every open store connection.
func (app *Application) Close() error {
	var firstErr error
	for id, conn := range app.conns {
		if err := conn.Close(); err != nil {
			app.logger.Error("error closing store", "store_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
