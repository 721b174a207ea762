package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vijayshreepathak/QuantAlert/internal/handler/live"
	mid "github.com/vijayshreepathak/QuantAlert/internal/middleware"
	"github.com/vijayshreepathak/QuantAlert/internal/usecase"
	"github.com/vijayshreepathak/QuantAlert/pkg/config"
	xhttp "github.com/vijayshreepathak/QuantAlert/pkg/http"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// Closer is an infrastructure client released after every worker stopped.
type Closer struct {
	Name  string
	Close func() error
}

// Infra lists the clients to close on shutdown, in order.
type Infra []Closer

// App encapsulates the entire application lifecycle.
type App struct {
	cfg          *config.Config
	lgr          *logger.Logger
	dispatcher   *usecase.NotificationDispatcher
	pipeline     *usecase.TickPipeline
	egress       *usecase.TickEgress
	buffer       *mid.ArchiveBuffer
	snapshot     *usecase.SnapshotJob
	orchestrator *usecase.FeedOrchestrator
	hub          *live.Hub
	httpServer   *xhttp.Server
	infra        Infra
}

// New creates a new App instance with all dependencies. buffer, snapshot and hub may be nil.
func New(
	cfg *config.Config,
	lgr *logger.Logger,
	dispatcher *usecase.NotificationDispatcher,
	pipeline *usecase.TickPipeline,
	egress *usecase.TickEgress,
	buffer *mid.ArchiveBuffer,
	snapshot *usecase.SnapshotJob,
	orchestrator *usecase.FeedOrchestrator,
	hub *live.Hub,
	httpServer *xhttp.Server,
	infra Infra,
) *App {
	return &App{
		cfg:          cfg,
		lgr:          lgr,
		dispatcher:   dispatcher,
		pipeline:     pipeline,
		egress:       egress,
		buffer:       buffer,
		snapshot:     snapshot,
		orchestrator: orchestrator,
		hub:          hub,
		httpServer:   httpServer,
		infra:        infra,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	if err := a.start(); err != nil {
		_ = a.shutdown()
		return err
	}

	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		// The orchestrator only returns on its own when even the fallback is gone.
		if err := a.orchestrator.Run(ctx); err != nil {
			a.lgr.Error("feed orchestrator stopped", logger.Error(err))
			cancel()
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		if sigCtx.Err() != nil {
			a.lgr.Info("shutdown signal received")
		} else {
			runErr = errors.New("feed orchestrator exited")
		}
	case err := <-a.httpServer.Err():
		runErr = fmt.Errorf("http server: %w", err)
	}

	cancel()
	<-orchDone
	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// start brings workers up in dependency order: consumers of a stage start before its producers.
func (a *App) start() error {
	if err := a.dispatcher.Start(); err != nil {
		return fmt.Errorf("start notification dispatcher: %w", err)
	}
	if a.buffer != nil {
		// Stop owns the buffer's lifetime so ticks drained at shutdown still reach the archive.
		a.buffer.Start(context.Background())
	}
	if a.snapshot != nil {
		if err := a.snapshot.Start(); err != nil {
			return err
		}
	}
	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.lgr.Info("quantalert started",
		logger.String("env", a.cfg.Environment),
		logger.Strings("providers", a.cfg.ProviderOrder()),
		logger.Strings("symbols", a.cfg.Feed.Symbols),
		logger.Int("port", a.cfg.Server.Port))
	return nil
}

// shutdown stops everything in reverse start order within the shutdown timeout.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.lgr.Error("http shutdown error", logger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.snapshot != nil {
		a.snapshot.Stop()
	}
	if err := a.pipeline.Stop(ctx); err != nil {
		a.lgr.Warn("tick pipeline stop", logger.Error(err))
		errs = append(errs, err)
	}
	a.egress.Close()
	if a.buffer != nil {
		a.buffer.Stop()
	}
	if err := a.dispatcher.Stop(ctx); err != nil {
		a.lgr.Warn("notification dispatcher stop", logger.Error(err))
		errs = append(errs, err)
	}

	for _, c := range a.infra {
		if err := c.Close(); err != nil {
			a.lgr.Warn("close "+c.Name, logger.Error(err))
		}
	}

	if ctx.Err() != nil {
		a.lgr.Warn("shutdown deadline exceeded", logger.Duration("timeout", a.cfg.Server.ShutdownTimeout))
	}
	a.lgr.Info("shutdown complete")
	a.lgr.RemoveCollector()
	return errors.Join(errs...)
}
