package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/truthmarkets/settled/internal/pipeline"
	"github.com/truthmarkets/settled/internal/server"
	"github.com/truthmarkets/settled/internal/server/handler"
	"github.com/truthmarkets/settled/internal/server/ws"
	"github.com/truthmarkets/settled/internal/service"
)

// services bundles the domain services shared by the operating modes.
type services struct {
	claims     *service.ClaimService
	positions  *service.PositionService
	registry   *service.RegistryService
	resolution *service.ResolutionService
}

func (a *App) buildServices(deps *Dependencies) *services {
	claimSvc := service.NewClaimService(
		deps.ClaimStore, deps.ParamsStore, deps.ClaimCache,
		deps.SignalBus, deps.AuditStore, a.logger,
	)
	positionSvc := service.NewPositionService(
		deps.PositionStore, deps.ClaimStore, deps.SettlementStore,
		deps.SignalBus, deps.AuditStore, a.logger,
	)
	registrySvc := service.NewRegistryService(
		deps.ResolverStore, deps.ParamsStore, deps.SignalBus,
		deps.AuditStore, a.logger,
	)
	resolutionSvc := service.NewResolutionService(
		registrySvc, claimSvc, deps.BlobWriter, a.logger,
	)
	return &services{
		claims:     claimSvc,
		positions:  positionSvc,
		registry:   registrySvc,
		resolution: resolutionSvc,
	}
}

// ServerMode runs the HTTP + WebSocket API only. Deadline sweeps and
// archival are expected to run in a separate watch-mode instance.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// WatchMode runs the background pipeline only: the deadline watcher, the
// notification relay, and the cold-storage archiver.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	if !a.cfg.Watcher.Enabled {
		a.logger.WarnContext(ctx, "watcher.enabled is false, but watch mode always runs the sweep")
	}

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	orch := a.buildOrchestrator(deps, svcs)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// FullMode runs the API and the background pipeline in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)

	if a.cfg.Watcher.Enabled {
		orch := a.buildOrchestrator(deps, svcs)
		g.Go(func() error {
			return orch.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "watcher.enabled is false, deadline sweeps are not running")
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// buildOrchestrator assembles the background pipeline. The relay is wired
// only when the signal bus exists, and the archiver only when both archival
// and object storage are configured.
func (a *App) buildOrchestrator(deps *Dependencies, svcs *services) *pipeline.Orchestrator {
	watcher := pipeline.NewDeadlineWatcher(
		deps.ClaimStore, svcs.claims, deps.LockManager,
		a.cfg.Watcher.BatchSize, a.logger,
	)

	var relay *pipeline.EventRelay
	if deps.SignalBus != nil {
		relay = pipeline.NewEventRelay(deps.SignalBus, deps.Notifier, a.logger)
	}

	var archiver *pipeline.Archiver
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}

	return pipeline.NewOrchestrator(
		watcher, relay, archiver,
		a.cfg.Watcher.SweepInterval.Duration,
		a.cfg.Archive.Cron,
		a.logger,
	)
}

// startHTTPServer adds the HTTP server goroutines to the given errgroup.
// The WebSocket hub is attached only when the signal bus exists; without
// Redis the REST API still works but live event streaming does not.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, time.Now().UTC(), a.logger),
		Claims:    handler.NewClaimHandler(svcs.claims, svcs.resolution, a.logger),
		Positions: handler.NewPositionHandler(svcs.positions, a.logger),
		Resolvers: handler.NewResolverHandler(svcs.registry, a.logger),
		Params:    handler.NewParamsHandler(svcs.registry, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			err := hub.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("websocket hub: %w", err)
		})
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
