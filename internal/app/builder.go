package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marlin/internal/config"
	"marlin/internal/config/loader"
	"marlin/internal/decision"
	"marlin/internal/engine"
	"marlin/internal/executor"
	"marlin/internal/gateway/binance"
	"marlin/internal/gateway/synthetic"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/notifier"
	"marlin/internal/portfolio"
	"marlin/internal/risk"
	"marlin/internal/store/gormstore"
	"marlin/internal/strategy"
	statushttp "marlin/internal/transport/http"
)

// AppBuilder assembles the full stack from config. Constructor functions are
// injectable so tests can substitute fakes.
type AppBuilder struct {
	cfg *config.Config

	storeFn func(string) (*gormstore.Store, error)
	feedFn  func(*config.Config, marketFeedSink) (marketFeed, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:     cfg,
		storeFn: gormstore.New,
		feedFn:  buildFeed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithStoreFn overrides persistence construction, used by tests.
func WithStoreFn(fn func(string) (*gormstore.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.storeFn = fn }
}

// WithFeedFn overrides feed construction, used by tests.
func WithFeedFn(fn func(*config.Config, marketFeedSink) (marketFeed, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.feedFn = fn }
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	symbols := cfg.Market.NormalizedSymbols()
	logger.Infof("✓ trading %d symbols: %v", len(symbols), symbols)

	marketStore := market.NewStore(cfg.Market.MaxCached)

	set, minScore, profiles, err := buildStrategySet(cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ strategy set loaded (%d strategies, min_score=%.2f)", len(set), minScore)

	alerts, dispatcher := buildAlerts(cfg.Notify)

	pm := portfolio.NewManager(cfg.Portfolio.InitialBalance, alerts)

	db, err := b.storeFn(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store failed: %w", err)
	}

	corr := risk.NewCorrelationTracker(marketStore, cfg.Portfolio.CorrelationWindow)
	riskMgr := risk.NewManager(cfg.Risk, corr, alerts)

	exec, relay := buildExecutor(cfg.Executor)

	eng := engine.New(engine.Config{
		Symbols:         symbols,
		MaxStaleness:    time.Duration(cfg.Market.MaxStalenessSeconds) * time.Second,
		MaintenanceCron: cfg.App.MaintenanceCron,
	}, set, decision.NewAggregator(set, minScore), riskMgr, pm, exec, marketStore)
	eng.SetSnapshotSaver(db)
	eng.SetCorrelationRefresher(corr)

	if profiles != nil {
		profileName := strings.ToLower(strings.TrimSpace(cfg.Strategy.Profile))
		profiles.Subscribe(func(snap loader.ProfileSnapshot) {
			def, ok := snap.Profiles[profileName]
			if !ok {
				logger.Warnf("profile %q missing after reload, keeping current strategy set", profileName)
				return
			}
			newSet, err := def.Build()
			if err != nil {
				logger.Errorf("profile %q rebuild failed: %v", profileName, err)
				return
			}
			eng.ReplaceStrategySet(newSet, def.MinScore)
		})
	}

	var fills executor.FillHandler
	if relay != nil {
		fills = relay.Deliver
	}
	router := statushttp.NewRouter(pm, riskMgr, marketStore, db, eng, fills)
	httpSrv, err := statushttp.NewServer(statushttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Router: router,
	})
	if err != nil {
		return nil, err
	}

	feed, err := b.feedFn(cfg, eng)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:         cfg,
		marketStore: marketStore,
		pm:          pm,
		corr:        corr,
		eng:         eng,
		feed:        feed,
		httpSrv:     httpSrv,
		db:          db,
		dispatcher:  dispatcher,
		profiles:    profiles,
		exec:        exec,
	}, nil
}

// buildStrategySet resolves the configured preset or YAML profile into a
// weighted strategy set.
func buildStrategySet(cfg *config.Config) ([]strategy.Weighted, float64, *loader.ProfileLoader, error) {
	if path := strings.TrimSpace(cfg.Strategy.ProfilesPath); path != "" {
		profiles, err := loader.NewProfileLoader(path)
		if err != nil {
			return nil, 0, nil, err
		}
		def, ok := profiles.Profile(cfg.Strategy.Profile)
		if !ok {
			profiles.Close()
			return nil, 0, nil, fmt.Errorf("profile %q not found in %s", cfg.Strategy.Profile, path)
		}
		set, err := def.Build()
		if err != nil {
			profiles.Close()
			return nil, 0, nil, err
		}
		minScore := def.MinScore
		if minScore == 0 {
			minScore = cfg.Strategy.MinScore
		}
		return set, minScore, profiles, nil
	}
	set, ok := strategy.Preset(cfg.Strategy.Preset)
	if !ok {
		return nil, 0, nil, fmt.Errorf("unknown strategy preset %q", cfg.Strategy.Preset)
	}
	return set, cfg.Strategy.MinScore, nil, nil
}

func buildAlerts(cfg config.NotifyConfig) (notifier.Emitter, *notifier.Dispatcher) {
	if !cfg.Telegram.Enabled {
		return notifier.NopEmitter{}, nil
	}
	dispatcher := notifier.NewDispatcher(notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID), 64)
	return dispatcher, dispatcher
}

// buildExecutor returns the executor for the configured mode. The relay is
// non-nil only in webhook mode, where the HTTP server needs to push reported
// fills into it.
func buildExecutor(cfg config.ExecutorConfig) (executor.Executor, *executor.Relay) {
	if strings.ToLower(cfg.Mode) == "webhook" {
		relay := executor.NewRelay()
		return relay, relay
	}
	return executor.NewPaper(time.Duration(cfg.LatencyMS)*time.Millisecond, cfg.SlippagePct), nil
}

type marketFeedSink interface {
	OnTick(t market.Tick)
	OnCandle(symbol string, c market.Candle)
}

type marketFeed interface {
	Preheat(ctx context.Context, store *market.Store) error
	Run(ctx context.Context) error
}

func buildFeed(cfg *config.Config, sink marketFeedSink) (marketFeed, error) {
	switch strings.ToLower(cfg.Market.Name) {
	case "binance":
		return binance.NewFeed(binance.Config{
			RESTBaseURL: cfg.Market.RESTURL,
			Symbols:     cfg.Market.NormalizedSymbols(),
			Interval:    cfg.Market.Interval,
			PreheatBars: cfg.Market.PreheatBars,
		}, sink)
	case "paper":
		interval, err := parseInterval(cfg.Market.Interval)
		if err != nil {
			return nil, err
		}
		return synthetic.NewFeed(synthetic.Config{
			Symbols:     cfg.Market.NormalizedSymbols(),
			Interval:    interval,
			PreheatBars: cfg.Market.PreheatBars,
		}, sink), nil
	default:
		return nil, fmt.Errorf("unknown market %q", cfg.Market.Name)
	}
}

// parseInterval understands exchange-style intervals: 1m, 5m, 1h, 4h, 1d.
func parseInterval(raw string) (time.Duration, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasSuffix(raw, "d") {
		days, err := time.ParseDuration(strings.TrimSuffix(raw, "d") + "h")
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q", raw)
		}
		return days * 24, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", raw)
	}
	return dur, nil
}
