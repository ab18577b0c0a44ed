package app

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"marlin/internal/config"
	"marlin/internal/config/loader"
	"marlin/internal/engine"
	"marlin/internal/executor"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/notifier"
	"marlin/internal/portfolio"
	"marlin/internal/risk"
	"marlin/internal/store/gormstore"
	statushttp "marlin/internal/transport/http"
)

// App owns application-level orchestration: restore state, preheat market
// data, then run the feed, engine and HTTP server until the context ends.
type App struct {
	cfg         *config.Config
	marketStore *market.Store
	pm          *portfolio.Manager
	corr        *risk.CorrelationTracker
	eng         *engine.Engine
	feed        marketFeed
	httpSrv     *statushttp.Server
	db          *gormstore.Store
	dispatcher  *notifier.Dispatcher
	profiles    *loader.ProfileLoader
	exec        executor.Executor

	shutdownOnce sync.Once
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.pm.Start()
	defer a.shutdown()

	if err := a.restore(ctx); err != nil {
		return err
	}
	if err := a.feed.Preheat(ctx, a.marketStore); err != nil {
		return fmt.Errorf("preheat failed: %w", err)
	}
	a.corr.Refresh(a.cfg.Market.NormalizedSymbols())
	a.eng.Start()
	logger.Infof("✓ marlin running (env=%s, market=%s, executor=%s, http=%s)",
		a.cfg.App.Env, a.cfg.Market.Name, a.cfg.Executor.Mode, a.httpSrv.Addr())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.feed.Run(ctx)
	})
	return group.Wait()
}

// restore loads the newest persisted snapshot, if any, back into the
// portfolio before any live event is processed.
func (a *App) restore(ctx context.Context) error {
	snap, ok, err := a.db.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot failed: %w", err)
	}
	if !ok {
		logger.Infof("no persisted snapshot, starting fresh with balance %.2f", a.cfg.Portfolio.InitialBalance)
		return nil
	}
	if err := a.pm.Restore(ctx, snap); err != nil {
		return fmt.Errorf("restore snapshot failed: %w", err)
	}
	logger.Infof("✓ restored portfolio snapshot (equity=%.2f, %d positions, %d orders)",
		snap.Equity, len(snap.Positions), len(snap.OrderLog))
	return nil
}

// shutdown tears the stack down in dependency order: stop producing events,
// drain pending fills, stop the portfolio actor, then flush side channels.
func (a *App) shutdown() {
	a.shutdownOnce.Do(func() {
		a.eng.Stop()
		if paper, ok := a.exec.(*executor.Paper); ok {
			paper.Close()
		}
		a.pm.Stop()
		if a.dispatcher != nil {
			a.dispatcher.Stop()
		}
		if a.profiles != nil {
			_ = a.profiles.Close()
		}
		if err := a.db.Close(); err != nil {
			logger.Errorf("store close failed: %v", err)
		}
		logger.Infof("marlin stopped")
	})
}

// Engine exposes the engine instance for tests and replay harnesses.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.eng
}

// Portfolio exposes the portfolio manager for tests and replay harnesses.
func (a *App) Portfolio() *portfolio.Manager {
	if a == nil {
		return nil
	}
	return a.pm
}
