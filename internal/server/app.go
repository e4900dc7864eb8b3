// Package server initializes and runs the sync server: it opens the
// authoritative store, wires the append pipeline and broadcast hub, and
// serves the HTTP API with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/export"
	"github.com/trialware/diarysync/internal/logging"
	"github.com/trialware/diarysync/internal/server/broadcast"
	"github.com/trialware/diarysync/internal/server/config"
	"github.com/trialware/diarysync/internal/server/db"
	"github.com/trialware/diarysync/internal/server/httpapi"
	"github.com/trialware/diarysync/internal/server/services"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	sync     *services.SyncService
	hub      *broadcast.Hub
	archiver *export.Archiver
}

func NewApp(c *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	conn, err := db.Open(context.Background(), c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	registry := event.DefaultRegistry()
	if len(c.EnabledEventTypes) > 0 {
		registry.Restrict(c.EnabledEventTypes)
	}

	hub := broadcast.NewHub()
	syncService := services.NewSyncService(conn, registry, hub, logger)

	archiver, err := export.NewArchiver(c)
	if err != nil {
		return nil, fmt.Errorf("archiver init error: %w", err)
	}

	return &App{config: c, logger: logger, sync: syncService, hub: hub, archiver: archiver}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	handler := httpapi.NewHandler(app.sync, app.hub, app.logger)
	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: httpapi.NewRouter(handler, []byte(app.config.SecretKey)),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, err.Error())
		}
	}()

	app.logger.Info(ctx, "listening", "addr", app.config.EndpointAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startArchiveLoop(ctx)
	}()

	wg.Wait()
}

// startArchiveLoop uploads yesterday's integrity bundles once at startup,
// then every 24 hours.
func (app *App) startArchiveLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	app.archiveYesterday(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.archiveYesterday(ctx)
		}
	}
}

func (app *App) archiveYesterday(ctx context.Context) {
	day := time.Now().UTC().AddDate(0, 0, -1)
	keys, err := app.sync.ArchiveDay(ctx, app.archiver, day)
	if err != nil {
		app.logger.Error(ctx, "daily archive run failed", "error", err.Error())
		return
	}
	app.logger.Info(ctx, "daily archive complete", "day", day.Format("2006-01-02"), "objects", len(keys))
}
