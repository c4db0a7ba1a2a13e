package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/config"
	"github.com/alejandrodnm/polyedge/internal/adapters/binance"
	"github.com/alejandrodnm/polyedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyedge/internal/adapters/onchain"
	"github.com/alejandrodnm/polyedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyedge/internal/application/engine"
	"github.com/alejandrodnm/polyedge/internal/crossarb"
	"github.com/alejandrodnm/polyedge/internal/feeds"
	"github.com/alejandrodnm/polyedge/internal/filter"
	"github.com/alejandrodnm/polyedge/internal/metrics"
	"github.com/alejandrodnm/polyedge/internal/ml"
	"github.com/alejandrodnm/polyedge/internal/paper"
	"github.com/alejandrodnm/polyedge/internal/portfolio"
	"github.com/alejandrodnm/polyedge/internal/ports"
	"github.com/alejandrodnm/polyedge/internal/regime"
	"github.com/alejandrodnm/polyedge/internal/router"
	"github.com/alejandrodnm/polyedge/internal/sizing"
)

// app agrupa los adapters compartidos por todos los subcomandos.
type app struct {
	cfg     *config.Config
	client  *polymarket.Client
	console *notify.Console

	// Solo con credenciales live.
	trading *polymarket.TradingClient
	merge   *onchain.MergeClient
}

func newApp(cfg *config.Config) *app {
	return &app{
		cfg: cfg,
		client: polymarket.NewClient(polymarket.Config{
			CLOBBase:     cfg.API.CLOBBase,
			GammaBase:    cfg.API.GammaBase,
			DataBase:     cfg.API.DataBase,
			UpDownAssets: cfg.API.UpDownAssets,
		}),
		console: notify.NewConsole(),
	}
}

// connectVenue autentica contra el CLOB y crea el cliente de trading.
func (a *app) connectVenue(ctx context.Context) error {
	auth, err := polymarket.NewAuthClient(polymarket.Config{
		CLOBBase:  a.cfg.API.CLOBBase,
		GammaBase: a.cfg.API.GammaBase,
		DataBase:  a.cfg.API.DataBase,
	}, a.cfg.Live.PrivateKey)
	if err != nil {
		return err
	}
	if err := auth.EnsureCreds(ctx); err != nil {
		return err
	}
	a.trading, err = polymarket.NewTradingClient(auth, a.cfg.Live.RPCURL)
	return err
}

// connectLive prepara venue y merge on-chain. Sin rpc_url el merge queda
// deshabilitado y el balance sale del CLOB.
func (a *app) connectLive(ctx context.Context) error {
	if err := a.connectVenue(ctx); err != nil {
		return err
	}
	if a.cfg.Live.RPCURL == "" {
		slog.Warn("live mode without rpc_url: cross-arb merge disabled")
		return nil
	}
	var err error
	a.merge, err = onchain.NewMergeClient(a.cfg.Live.RPCURL, a.cfg.Live.PrivateKey)
	if err != nil {
		return err
	}
	if err := a.merge.EnsureApprovals(ctx); err != nil {
		slog.Warn("token approvals check failed", "err", err)
	}
	return nil
}

// openPaper construye el paper trader y carga su estado previo si existe.
func (a *app) openPaper() (*paper.AutoTrader, error) {
	pc := a.cfg.Paper
	t := paper.NewTrader(paper.Config{
		InitialBalance: decimal.NewFromFloat(pc.InitialBalance),
		FeeRate:        decimal.NewFromFloat(pc.FeeRate),
		Slippage:       decimal.NewFromFloat(pc.Slippage),
	})
	at := paper.NewAutoTrader(t, paper.AutoConfig{
		TakeProfitPct: decimal.NewFromFloat(a.cfg.AutoClose.TakeProfitPct),
		StopLossPct:   decimal.NewFromFloat(a.cfg.AutoClose.StopLossPct),
		StateFile:     pc.StateFile,
		AuditFile:     pc.AuditFile,
		SnapshotsDir:  pc.SnapshotsDir,
		AutoSave:      config.Enabled(pc.AutoSave),
		LogPrices:     config.Enabled(pc.LogPrices),
	})
	if err := at.Load(); err != nil {
		return nil, fmt.Errorf("load paper state: %w", err)
	}
	return at, nil
}

func riskConfig(cfg *config.Config) engine.RiskConfig {
	return engine.RiskConfig{
		MaxPositionPct:    cfg.Risk.MaxPositionPct,
		MaxExposurePct:    cfg.Risk.MaxExposurePct,
		MaxDailyLossPct:   cfg.Risk.MaxDailyLossPct,
		MinBalanceReserve: decimal.NewFromFloat(cfg.Risk.MinBalanceReserve),
		MaxOpenPositions:  cfg.Risk.MaxOpenPositions,
		MaxTradesPerHour:  cfg.Strategy.MaxTradesPerHour,
	}
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	ec := engine.DefaultConfig()
	ec.ScanInterval = cfg.ScanInterval()
	ec.MarketLimit = cfg.Strategy.MarketLimit
	ec.Workers = cfg.Strategy.AnalysisWorkers
	ec.CompoundEnabled = config.Enabled(cfg.Strategy.CompoundEnabled)
	ec.DryRunBalance = decimal.NewFromFloat(cfg.Paper.InitialBalance)
	ec.ArbAmount = decimal.NewFromFloat(cfg.CrossArb.MaxPosition)
	ec.Risk = riskConfig(cfg)

	method, err := portfolio.ParseMethod(cfg.Portfolio.Method)
	if err != nil {
		return ec, err
	}
	ec.Portfolio.Method = method
	ec.Portfolio.Tolerance = cfg.Portfolio.MatrixTolerance
	ec.Portfolio.Constraints.MaxWeight = cfg.Portfolio.MaxWeight
	return ec, nil
}

func routerConfig(cfg *config.Config) (router.Config, router.OptimizerConfig, error) {
	rc := cfg.Router
	algo, err := router.ParseAlgorithm(rc.Algorithm)
	if err != nil {
		return router.Config{}, router.OptimizerConfig{}, err
	}
	sor := router.DefaultConfig()
	sor.Algorithm = algo
	sor.MinChildFraction = decimal.NewFromFloat(rc.MinChildFraction)
	sor.MaxVenues = rc.MaxVenues
	sor.AllowPartial = config.Enabled(rc.AllowPartial)
	sor.MaxSlippageBps = rc.MaxSlippageBps
	sor.RetryOnFailure = config.Enabled(rc.RetryOnFailure)
	sor.StaleThreshold = time.Duration(rc.StaleThresholdMs) * time.Millisecond

	opt := router.DefaultOptimizerConfig()
	opt.MaxCrossBps = rc.MaxCrossBps
	opt.LimitEdgeBps = rc.LimitEdgeBps
	return sor, opt, nil
}

func filterConfig(cfg *config.Config) filter.Config {
	fc := cfg.Filter
	return filter.Config{
		Cooldown:      time.Duration(fc.CooldownMinutes) * time.Minute,
		ShortCooldown: time.Duration(fc.CryptoCooldownMinutes) * time.Minute,
		Fusion: filter.FusionConfig{
			MinTrendConfidence: fc.MinTrendConfidence,
			MinMomentum:        fc.MinMomentum,
			RequireAgreement:   config.Enabled(fc.RequireAgreement),
		},
		Window: filter.TimeWindow{
			Min: time.Duration(fc.MinMinutesBeforeClose * float64(time.Minute)),
			Max: time.Duration(fc.MaxMinutesBeforeClose * float64(time.Minute)),
		},
	}
}

func hubConfig(cfg *config.Config) feeds.HubConfig {
	hc := feeds.DefaultHubConfig()
	rc := regime.DefaultConfig()
	rc.ADXTrendThreshold = cfg.Regime.ADXTrendThreshold
	rc.ADXStrongThreshold = cfg.Regime.ADXStrongThreshold
	rc.VolatilityHighPercentile = cfg.Regime.VolatilityHighPercentile
	rc.VolatilityCrisisPercentile = cfg.Regime.VolatilityCrisisPercentile
	rc.SmoothingPeriod = cfg.Regime.SmoothingPeriod
	rc.UseHurst = config.Enabled(cfg.Regime.UseHurst)
	hc.Regime = rc
	return hc
}

func crossArbConfig(cfg *config.Config) crossarb.Config {
	ac := crossarb.DefaultConfig()
	ac.MinSpread = decimal.NewFromFloat(cfg.CrossArb.MinSpread)
	ac.MaxSpread = decimal.NewFromFloat(cfg.CrossArb.MaxSpread)
	ac.MinRemaining = time.Duration(cfg.CrossArb.MinSeconds) * time.Second
	ac.MaxRemaining = time.Duration(cfg.CrossArb.MaxSeconds) * time.Second
	ac.MaxPosition = decimal.NewFromFloat(cfg.CrossArb.MaxPosition)
	ac.FeeRate = decimal.NewFromFloat(cfg.CrossArb.FeeRate)
	return ac
}

// buildRunner compone el engine para el modo pedido. El paper trader solo se
// crea en ModePaper; venue y merge solo en ModeLive.
func (a *app) buildRunner(mode engine.Mode, store ports.PersistentStore, commands <-chan engine.Command) (*engine.Runner, error) {
	cfg := a.cfg
	ec, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}
	sorCfg, optCfg, err := routerConfig(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	state := engine.NewBotState(nil)
	initial := decimal.NewFromFloat(cfg.Paper.InitialBalance)

	var (
		venue   ports.OrderVenue
		pt      *paper.AutoTrader
		arbExec crossarb.Executor
	)
	stats := crossarb.NewTracker()
	switch mode {
	case engine.ModeLive:
		venue = a.trading
		var merge ports.MergeExecutor
		if a.merge != nil {
			merge = a.merge
		}
		arbExec = crossarb.NewLiveExecutor(a.trading, merge, stats)
	case engine.ModePaper:
		if pt, err = a.openPaper(); err != nil {
			return nil, err
		}
		arbExec = crossarb.NewPaperExecutor(initial, stats)
	default:
		arbExec = crossarb.NewPaperExecutor(initial, stats)
	}

	executor, err := engine.NewExecutor(mode, ec.Risk, state, engine.ExecutorDeps{
		Books:     a.client,
		Venue:     venue,
		Paper:     pt,
		Router:    router.New(sorCfg),
		Optimizer: router.NewPriceOptimizer(optCfg),
	})
	if err != nil {
		return nil, err
	}

	hub := feeds.NewHub(hubConfig(cfg), nil, nil)
	stream := binance.NewStreamClient(binance.Config{
		URL:            cfg.Feeds.BinanceWS,
		Symbols:        cfg.Feeds.Symbols,
		ReconnectDelay: cfg.ReconnectDelay(),
		BufferSize:     cfg.Feeds.ChannelSize,
	})
	stream.OnReconnect = func(name string) { m.FeedReconnects.WithLabelValues(name).Inc() }

	sc := sizing.Config{
		MinEdge:        cfg.Strategy.MinEdge,
		MinConfidence:  cfg.Strategy.MinConfidence,
		KellyFraction:  cfg.Strategy.KellyFraction,
		MaxPositionPct: cfg.Risk.MaxPositionPct,
	}
	model := ml.NewTechnicalModel(ml.NewPredictor(ml.DefaultPredictorConfig()), hub)

	// ShouldTrade solo recibe mercados crypto, todos de horizonte corto.
	sigFilter := filter.New(filterConfig(cfg), func(string) bool { return true }, nil)

	breaker := engine.NewCircuitBreaker(
		cfg.Risk.MaxConsecutiveLosses,
		time.Duration(cfg.Risk.LossCooldownMinutes)*time.Minute,
		initial.Mul(decimal.NewFromFloat(cfg.Risk.MaxDrawdownPct)).Neg(),
		nil,
	)

	d := engine.Deps{
		Markets:     a.client,
		History:     a.client,
		State:       state,
		Executor:    executor,
		Venue:       venue,
		Paper:       pt,
		Model:       model,
		Signals:     sizing.NewSignalGenerator(sc),
		Compounder:  sizing.NewCompounder(sc, initial, config.Enabled(cfg.Strategy.CompoundSqrtScaling)),
		Filter:      sigFilter,
		Breaker:     breaker,
		Hub:         hub,
		Prices:      stream,
		Trades:      stream,
		Notifier:    a.console,
		Store:       store,
		Metrics:     m,
		MetricsAddr: cfg.Metrics.Addr,
		Commands:    commands,
	}
	if config.Enabled(cfg.CrossArb.Enabled) {
		d.Arb = crossarb.NewScanner(a.client, crossArbConfig(cfg), stats)
		d.ArbExec = arbExec
	}
	return engine.New(ec, d)
}
