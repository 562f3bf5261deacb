package app

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/server"
	"github.com/alanyoungcy/marketledger/internal/server/handler"
	"github.com/alanyoungcy/marketledger/internal/server/ws"
	"github.com/alanyoungcy/marketledger/internal/service"
)

const (
	writerLeaseKey  = "marketd:writer"
	shutdownTimeout = 5 * time.Second
)

// ServeMode restores state and runs the HTTP API, the event relay, the
// WebSocket hub, the writer lease and the periodic archive until ctx is done.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	// The lease is taken before any state is loaded so a second writer
	// cannot restore over a live one.
	if deps.Leases != nil {
		lease := service.NewWriterLease(deps.Leases, writerLeaseKey, a.cfg.Redis.WriterLease.Duration, a.logger)
		if err := lease.Acquire(ctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		g.Go(func() error { return lease.Hold(ctx) })
	}

	snapshots := a.snapshotService(deps)
	if err := a.restore(ctx, deps, snapshots); err != nil {
		return err
	}

	g.Go(func() error { return deps.Relay.Run(ctx) })

	if snapshots != nil && a.cfg.Archive.Enabled {
		interval := a.cfg.Archive.Interval.Duration
		g.Go(func() error { return snapshots.Run(ctx, interval) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: serve mode: %w", err)
	}
	return nil
}

// SnapshotMode restores state and writes one archive.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting snapshot mode")

	snapshots := a.snapshotService(deps)
	if snapshots == nil {
		return fmt.Errorf("app: snapshot mode requires object storage")
	}
	if err := a.restore(ctx, deps, snapshots); err != nil {
		return err
	}
	path, err := snapshots.Take(ctx)
	if err != nil {
		return fmt.Errorf("app: snapshot mode: %w", err)
	}
	a.logger.InfoContext(ctx, "snapshot written", slog.String("path", path))
	return nil
}

func (a *App) snapshotService(deps *Dependencies) *service.SnapshotService {
	if deps.Archiver == nil {
		return nil
	}
	return service.NewSnapshotService(deps.Marketplace, deps.Registry, deps.Bank, deps.Archiver, a.logger)
}

// restore rebuilds the ledger: the latest archive first, then the
// PostgreSQL tables, which win for ledger rows. Asset and fund balances come
// from the archive alone. Seed funds apply only to a fresh ledger.
func (a *App) restore(ctx context.Context, deps *Dependencies, snapshots *service.SnapshotService) error {
	restored := false
	var archived *domain.Snapshot
	if snapshots != nil && (a.cfg.Archive.RestoreOnStart || deps.LedgerStore == nil) {
		ok, err := snapshots.RestoreLatest(ctx)
		if err != nil {
			return fmt.Errorf("app: restore archive: %w", err)
		}
		if ok {
			snap := deps.Marketplace.Snapshot(ctx)
			archived = &snap
		}
		restored = ok
	}
	if deps.LedgerStore != nil {
		if err := deps.Marketplace.Load(ctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		restored = restored || deps.Allocator.Items.Current() > 1 || deps.Allocator.Collections.Current() > 1
		// Balances live only in the archive, so rows committed after it
		// leave them stale.
		if archived != nil && !reflect.DeepEqual(*archived, deps.Marketplace.Snapshot(ctx)) {
			a.logger.WarnContext(ctx, "app: ledger rows are newer than the archived balances",
				slog.Uint64("archived_items", archived.Counters.Items),
				slog.Uint64("stored_items", deps.Allocator.Items.Current()),
			)
		}
	}
	if restored || len(a.cfg.Market.SeedFunds) == 0 {
		return nil
	}
	if err := seedFunds(deps.Bank, a.cfg.Market.SeedFunds); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "seed funds credited", slog.Int("accounts", len(a.cfg.Market.SeedFunds)))
	return nil
}

// startHTTPServer builds the handlers and router and runs the server inside
// g, shutting it down once ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channel:        a.cfg.Relay.Channel,
		Stream:         a.cfg.Relay.Stream,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      time.Now().UTC(),
	})
	g.Go(func() error { return hub.Run(ctx) })

	h := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks, a.logger),
		Items:       handler.NewItemHandler(deps.Marketplace, a.logger),
		Collections: handler.NewCollectionHandler(deps.Marketplace, a.logger),
		Market:      handler.NewMarketHandler(deps.Marketplace, deps.Bank, deps.Registry, a.logger),
		Hub:         hub,
		Metrics:     deps.Metrics,
		Limiter:     deps.RateLimiter,
	}
	if deps.AuditStore != nil {
		h.Events = handler.NewEventHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequireSignatures: a.cfg.Server.RequireSignatures,
		Domain:            deps.Domain,
		EnableMint:        a.cfg.Server.EnableMint,
		RateLimit:         a.cfg.Server.RateLimit,
		RateWindow:        a.cfg.Server.RateWindow.Duration,
	}, h, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
