// Package engine orquesta el bot: feeds, escaneo de mercados, filtros,
// asignación de cartera, ejecución, cierres automáticos y reportes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polyedge/internal/crossarb"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/feeds"
	"github.com/alejandrodnm/polyedge/internal/filter"
	"github.com/alejandrodnm/polyedge/internal/metrics"
	"github.com/alejandrodnm/polyedge/internal/orderbook"
	"github.com/alejandrodnm/polyedge/internal/paper"
	"github.com/alejandrodnm/polyedge/internal/portfolio"
	"github.com/alejandrodnm/polyedge/internal/ports"
	"github.com/alejandrodnm/polyedge/internal/regime"
	"github.com/alejandrodnm/polyedge/internal/sizing"
)

// Config parametriza el Runner.
type Config struct {
	ScanInterval       time.Duration
	PausedWait         time.Duration
	BalanceRetry       time.Duration
	ArbInterval        time.Duration
	ReportCheck        time.Duration
	MarketLimit        int
	Workers            int
	CompoundEnabled    bool
	MinLiquidity       decimal.Decimal
	MinCryptoLiquidity decimal.Decimal
	DryRunBalance      decimal.Decimal
	ArbAmount          decimal.Decimal
	SocialAlertScore   float64
	ReturnsWindow      int
	Risk               RiskConfig
	Portfolio          portfolio.Config
}

// DefaultConfig devuelve los intervalos y umbrales por defecto.
func DefaultConfig() Config {
	return Config{
		ScanInterval:       180 * time.Second,
		PausedWait:         10 * time.Second,
		BalanceRetry:       60 * time.Second,
		ArbInterval:        30 * time.Second,
		ReportCheck:        5 * time.Minute,
		MarketLimit:        100,
		CompoundEnabled:    true,
		MinLiquidity:       decimal.NewFromInt(10000),
		MinCryptoLiquidity: decimal.NewFromInt(1000),
		DryRunBalance:      decimal.NewFromInt(1000),
		ArbAmount:          decimal.NewFromInt(100),
		SocialAlertScore:   0.7,
		ReturnsWindow:      60,
		Risk:               DefaultRiskConfig(),
		Portfolio:          portfolio.DefaultConfig(),
	}
}

// Deps son los componentes que el Runner compone. Markets, State y Executor
// son obligatorios; el resto se omite si es nil.
type Deps struct {
	Markets  ports.MarketDataSource
	History  ports.TradeHistory
	State    *BotState
	Executor *Executor
	Venue    ports.OrderVenue
	Paper    *paper.AutoTrader

	Model      ports.ProbabilityModel
	Signals    *sizing.SignalGenerator
	Compounder *sizing.Compounder
	Filter     *filter.SignalFilter
	Breaker    *CircuitBreaker

	Hub          *feeds.Hub
	Prices       ports.PriceStream
	Trades       ports.TradeStream
	Social       *feeds.Aggregator
	SocialSource ports.SignalSource

	Arb     *crossarb.Scanner
	ArbExec crossarb.Executor

	Notifier    ports.Notifier
	Store       ports.PersistentStore
	Metrics     *metrics.Metrics
	MetricsAddr string
	Commands    <-chan Command
}

// ScanReport resume un ciclo del loop de trading.
type ScanReport struct {
	Paused   bool
	Balance  decimal.Decimal
	Markets  int
	Signals  int
	Accepted int
	Executed int
	Rejected int
	Closed   int
	Duration time.Duration
}

var errBalance = errors.New("balance unavailable")

// Runner es el dueño de todos los subsistemas durante la ejecución.
type Runner struct {
	cfg Config
	d   Deps
	now func() time.Time

	mu         sync.Mutex
	lastPrice  map[string]float64
	lastTrade  map[string]time.Time // token -> último trade visto para VPIN
	returns    map[string][]float64
	entries    map[string]domain.Signal // token -> señal de entrada
	arbEntered map[string]bool
	reportDay  time.Time
}

// New valida las dependencias y crea el Runner.
func New(cfg Config, d Deps) (*Runner, error) {
	const op = "engine.New"
	switch {
	case d.Markets == nil:
		return nil, domain.Errorf(domain.KindConfig, op, "market data source is required")
	case d.State == nil:
		return nil, domain.Errorf(domain.KindConfig, op, "bot state is required")
	case d.Executor == nil:
		return nil, domain.Errorf(domain.KindConfig, op, "executor is required")
	case d.Model != nil && d.Signals == nil && d.Compounder == nil:
		return nil, domain.Errorf(domain.KindConfig, op, "a model needs a signal generator or compounder")
	case d.Arb != nil && d.ArbExec == nil:
		return nil, domain.Errorf(domain.KindConfig, op, "cross-arb scanner needs an executor")
	}
	if d.Filter == nil {
		d.Filter = filter.New(filter.DefaultConfig(), nil, nil)
	}
	if d.Paper != nil {
		// Posiciones recuperadas del estado paper cuentan para los límites de riesgo.
		for _, p := range d.Paper.Positions() {
			d.State.Restore(Holding{TokenID: p.TokenID, MarketID: p.MarketID, Shares: p.Shares, Cost: p.CostBasis})
		}
	}
	return &Runner{
		cfg:        cfg,
		d:          d,
		now:        time.Now,
		lastPrice:  make(map[string]float64),
		lastTrade:  make(map[string]time.Time),
		returns:    make(map[string][]float64),
		entries:    make(map[string]domain.Signal),
		arbEntered: make(map[string]bool),
		reportDay:  utcDay(time.Now()),
	}, nil
}

// Run arranca feeds, servidor de métricas, loops de arbitraje y reportes y el
// loop de trading. Vuelve cuando ctx se cancela o un subsistema falla.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if r.d.Hub != nil && (r.d.Prices != nil || r.d.Trades != nil) {
		var (
			prices <-chan domain.PriceTick
			trades <-chan domain.TradeTick
			err    error
		)
		if r.d.Prices != nil {
			if prices, err = r.d.Prices.Prices(gctx); err != nil {
				return fmt.Errorf("engine.Run: price stream: %w", err)
			}
		}
		if r.d.Trades != nil {
			if trades, err = r.d.Trades.Trades(gctx); err != nil {
				return fmt.Errorf("engine.Run: trade stream: %w", err)
			}
		}
		g.Go(func() error { return r.d.Hub.Run(gctx, prices, trades) })
	}

	if r.d.Social != nil && r.d.SocialSource != nil {
		out := make(chan feeds.Aggregated, 100)
		g.Go(func() error { return r.d.Social.Run(gctx, r.d.SocialSource, out) })
		g.Go(func() error { r.consumeSocial(gctx, out); return nil })
	}

	if r.d.Metrics != nil && r.d.MetricsAddr != "" {
		srv := metrics.NewServer(r.d.MetricsAddr, r.d.Metrics, func() any { return r.Status() })
		g.Go(func() error { return srv.Run(gctx) })
	}

	if r.d.Arb != nil {
		g.Go(func() error {
			r.every(gctx, r.cfg.ArbInterval, func() {
				if _, err := r.RunArbOnce(gctx); err != nil {
					slog.Warn("cross-arb cycle failed", "err", err)
				}
			})
			return nil
		})
	}

	if r.d.Store != nil && r.d.Notifier != nil {
		g.Go(func() error {
			r.every(gctx, r.cfg.ReportCheck, func() { r.maybeDailyReport(gctx) })
			return nil
		})
	}

	g.Go(func() error { return r.tradingLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// every ejecuta fn en cada tick hasta que ctx se cancele.
func (r *Runner) every(ctx context.Context, d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

func (r *Runner) tradingLoop(ctx context.Context) error {
	slog.Info("trading loop started", "mode", r.d.Executor.Mode().String(), "interval", r.cfg.ScanInterval)
	for {
		rep, err := r.RunOnce(ctx)
		wait := r.cfg.ScanInterval
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errBalance):
			slog.Error("balance fetch failed", "err", err)
			r.notifyError(ctx, err)
			wait = r.cfg.BalanceRetry
		case err != nil:
			slog.Error("scan failed", "err", err)
			r.notifyError(ctx, err)
		case rep.Paused:
			slog.Info("trading paused, exits checked", "closed", rep.Closed)
			wait = r.cfg.PausedWait
		default:
			slog.Info("scan complete",
				"markets", rep.Markets,
				"signals", rep.Signals,
				"accepted", rep.Accepted,
				"executed", rep.Executed,
				"rejected", rep.Rejected,
				"closed", rep.Closed,
				"balance", rep.Balance.StringFixed(2),
				"took", rep.Duration.Round(time.Millisecond),
			)
		}
		if !r.sleep(ctx, wait) {
			return nil
		}
	}
}

// sleep espera d atendiendo comandos. Devuelve false si ctx se canceló.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		case cmd, ok := <-r.d.Commands:
			if !ok {
				r.d.Commands = nil
				continue
			}
			r.HandleCommand(ctx, cmd)
		}
	}
}

// drainCommands procesa los comandos pendientes sin bloquear.
func (r *Runner) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd, ok := <-r.d.Commands:
			if !ok {
				r.d.Commands = nil
				return
			}
			r.HandleCommand(ctx, cmd)
		default:
			return
		}
	}
}

// RunOnce ejecuta un ciclo completo: comandos, balance, cierres automáticos,
// análisis concurrente, filtros, asignación y ejecución. El fallo de un
// mercado nunca aborta el ciclo. En pausa solo se omiten las entradas nuevas:
// TP/SL y liquidaciones siguen corriendo.
func (r *Runner) RunOnce(ctx context.Context) (ScanReport, error) {
	start := r.now()
	r.drainCommands(ctx)

	balance, err := r.balance(ctx)
	if err != nil {
		return ScanReport{}, err
	}
	rep := ScanReport{Balance: balance}
	if r.d.Compounder != nil {
		r.d.Compounder.UpdateBalance(balance)
	}

	if r.d.Paper != nil {
		rep.Closed = r.checkPaperExits(ctx, balance)
	}

	markets, err := r.d.Markets.ListMarkets(ctx, domain.MarketFilter{ActiveOnly: true, Limit: r.cfg.MarketLimit})
	if err != nil {
		return rep, fmt.Errorf("engine.RunOnce: list markets: %w", err)
	}
	rep.Markets = len(markets)
	r.trackReturns(markets)
	if r.d.Paper != nil {
		rep.Closed += r.settleResolved(ctx, markets)
	}

	if !r.tradingAllowed() {
		rep.Paused = true
		r.updateGauges(balance)
		rep.Duration = r.now().Sub(start)
		return rep, nil
	}

	cands := analyzeConcurrent(ctx, markets, r.cfg.Workers, func(ctx context.Context, m domain.Market) (candidate, bool, error) {
		return r.analyze(ctx, m, balance)
	})
	rep.Signals = len(cands)

	accepted := r.filterCandidates(cands)
	accepted = r.allocate(accepted, balance)
	rep.Accepted = len(accepted)

	for _, c := range accepted {
		if ctx.Err() != nil {
			break
		}
		if r.execute(ctx, c, balance) {
			rep.Executed++
		} else {
			rep.Rejected++
		}
	}

	r.d.Filter.Deduplicator().Cleanup()
	r.updateGauges(balance)
	if r.d.Metrics != nil {
		r.d.Metrics.ObserveScan(start)
	}
	rep.Duration = r.now().Sub(start)
	return rep, nil
}

// tradingAllowed es false con pausa del operador, límite diario o breaker abierto.
func (r *Runner) tradingAllowed() bool {
	if r.d.State.Paused() {
		return false
	}
	return r.d.Breaker == nil || r.d.Breaker.IsOpen()
}

func (r *Runner) balance(ctx context.Context) (decimal.Decimal, error) {
	switch r.d.Executor.Mode() {
	case ModeLive:
		b, err := r.d.Venue.Balance(ctx)
		if err != nil {
			return domain.Zero, fmt.Errorf("engine: %w: %w", errBalance, err)
		}
		return b, nil
	case ModePaper:
		return r.d.Paper.Balance(), nil
	}
	return r.cfg.DryRunBalance, nil
}

// trackReturns guarda el retorno del precio YES de cada mercado entre escaneos.
func (r *Runner) trackReturns(markets []domain.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range markets {
		p := domain.Float(m.YesPrice())
		if p <= 0 {
			continue
		}
		if last, ok := r.lastPrice[m.ID]; ok && last > 0 {
			s := append(r.returns[m.ID], p/last-1)
			if n := r.cfg.ReturnsWindow; n > 0 && len(s) > n {
				s = s[len(s)-n:]
			}
			r.returns[m.ID] = s
		}
		r.lastPrice[m.ID] = p
	}
}

// analyze genera la señal de un mercado: estrategia realtime para crypto y
// modelo de probabilidad para el resto (o si realtime no dispara).
func (r *Runner) analyze(ctx context.Context, m domain.Market, balance decimal.Decimal) (candidate, bool, error) {
	asset, crypto := feeds.AssetFor(m)
	minLiq := r.cfg.MinLiquidity
	if crypto {
		minLiq = r.cfg.MinCryptoLiquidity
	}
	if m.Liquidity.LessThan(minLiq) {
		return candidate{}, false, nil
	}
	if !crypto {
		asset = ""
	}

	if crypto && r.d.Hub != nil {
		r.observeBook(ctx, m)
		if sig, ok := r.d.Hub.Signal(m); ok {
			sig.SuggestedSize = r.regimeSize(asset, sig.SuggestedSize)
			return candidate{market: m, signal: sig, source: "realtime", asset: asset}, sig.SuggestedSize > 0, nil
		}
	}

	if r.d.Model == nil {
		return candidate{}, false, nil
	}
	pred, err := r.d.Model.Predict(ctx, m)
	if err != nil {
		return candidate{}, false, fmt.Errorf("model %s: %w", r.d.Model.ID(), err)
	}
	var (
		sig domain.Signal
		ok  bool
	)
	if r.cfg.CompoundEnabled && r.d.Compounder != nil {
		sig, ok = r.d.Compounder.Generate(m, pred, balance)
	} else if r.d.Signals != nil {
		sig, ok = r.d.Signals.Generate(m, pred)
	}
	if !ok {
		return candidate{}, false, nil
	}
	if crypto {
		sig.SuggestedSize = r.regimeSize(asset, sig.SuggestedSize)
	}
	return candidate{market: m, signal: sig, source: r.d.Model.ID(), asset: asset}, sig.SuggestedSize > 0, nil
}

// observeBook alimenta el imbalance del book YES al hub para el modelo técnico.
func (r *Runner) observeBook(ctx context.Context, m domain.Market) {
	yes, ok := m.YesToken()
	if !ok {
		return
	}
	book, err := r.d.Markets.GetBook(ctx, yes.TokenID)
	if err != nil {
		slog.Debug("book fetch failed", "market", m.ID, "err", err)
		return
	}
	a := r.d.Executor.Tracker().For(yes.TokenID)
	a.OnSnapshot(book)
	r.observeTrades(ctx, yes.TokenID, a)
	if imb, ok := a.Imbalance(); ok {
		r.d.Hub.SetImbalance(m.ID, imb.Average)
	}
}

// observeTrades pasa al analizador los trades públicos nuevos del token.
func (r *Runner) observeTrades(ctx context.Context, tokenID string, a *orderbook.Analyzer) {
	if r.d.History == nil {
		return
	}
	ticks, err := r.d.History.FetchTrades(ctx, tokenID)
	if err != nil {
		slog.Debug("trade history fetch failed", "token", shortID(tokenID), "err", err)
		return
	}
	r.mu.Lock()
	last := r.lastTrade[tokenID]
	r.mu.Unlock()

	fed := 0
	for _, t := range ticks {
		if !t.Timestamp.After(last) {
			continue
		}
		a.OnTrade(t)
		last = t.Timestamp
		fed++
	}
	r.mu.Lock()
	r.lastTrade[tokenID] = last
	r.mu.Unlock()
	if fed > 0 {
		slog.Debug("trades fed to analyzer", "token", shortID(tokenID), "count", fed)
	}
}

// regimeSize escala el tamaño por el régimen del subyacente y lo limita al
// máximo por posición.
func (r *Runner) regimeSize(asset string, size float64) float64 {
	if r.d.Hub != nil {
		if det, ok := r.d.Hub.Regime(feeds.PairSymbol(asset)); ok {
			size *= regime.StrategyFor(det.Regime).SizeMultiplier
		}
	}
	if r.cfg.Risk.MaxPositionPct > 0 {
		size = min(size, r.cfg.Risk.MaxPositionPct)
	}
	return size
}

// filterCandidates aplica cooldown y, para crypto, ventana y fusión
// tendencia/momentum. Corre en el loop de trading, sin concurrencia.
func (r *Runner) filterCandidates(cands []candidate) []candidate {
	out := cands[:0]
	for _, c := range cands {
		if c.asset == "" || r.d.Hub == nil {
			if !r.d.Filter.Deduplicator().CanTrade(c.market.ID) {
				r.reject("cooldown", c, "market recently traded (cooldown)")
				continue
			}
			out = append(out, c)
			continue
		}

		symbol := feeds.PairSymbol(c.asset)
		fc := filter.Candidate{MarketID: c.market.ID, Close: c.market.EndTime}
		if tr, ok := r.d.Hub.Trend(symbol); ok {
			fc.Trend = &tr
		}
		if mom, ok := r.d.Hub.Momentum(symbol); ok {
			v := mom.Change1m / 100
			fc.Momentum = &v
		}
		res := r.d.Filter.ShouldTrade(fc)
		if !res.ShouldTrade {
			r.reject("filter", c, res.Reason)
			continue
		}
		if res.Fusion != nil && res.Fusion.Direction != filter.NoDirection && res.Fusion.Direction != signalDirection(c) {
			r.reject("direction", c, "signal against fused direction")
			continue
		}
		out = append(out, c)
	}
	return out
}

// signalDirection devuelve Up si la señal gana cuando el subyacente sube.
func signalDirection(c candidate) filter.Direction {
	up := true
	if yes, ok := c.market.YesToken(); ok && yes.TokenID != c.signal.TokenID {
		up = false
	}
	if c.signal.Side == domain.Sell {
		up = !up
	}
	if up {
		return filter.Up
	}
	return filter.Down
}

func (r *Runner) reject(reason string, c candidate, detail string) {
	slog.Debug("signal rejected", "reason", reason, "market", c.market.ID, "detail", detail)
	if r.d.Metrics != nil {
		r.d.Metrics.Rejections.WithLabelValues(reason).Inc()
	}
}

// allocate reparte el capital pedido por las señales con el optimizador de
// cartera. Cada señal queda limitada a su presupuesto.
func (r *Runner) allocate(cands []candidate, balance decimal.Decimal) []candidate {
	if len(cands) < 2 || !balance.IsPositive() {
		return cands
	}
	assets := make([]string, len(cands))
	total := 0.0
	for i, c := range cands {
		assets[i] = c.market.ID
		total += c.signal.SuggestedSize
	}

	r.mu.Lock()
	periods := -1
	for _, a := range assets {
		if n := len(r.returns[a]); periods < 0 || n < periods {
			periods = n
		}
	}
	returns := make([][]float64, max(periods, 0))
	for t := range returns {
		row := make([]float64, len(assets))
		for i, a := range assets {
			s := r.returns[a]
			row[i] = s[len(s)-periods+t]
		}
		returns[t] = row
	}
	r.mu.Unlock()

	res := portfolio.Allocate(r.cfg.Portfolio, assets, returns)
	budgets := portfolio.Budgets(balance.Mul(decimal.NewFromFloat(total)), res)
	for i := range cands {
		budget := domain.Float(domain.Div(budgets[cands[i].market.ID], balance))
		cands[i].signal.SuggestedSize = min(cands[i].signal.SuggestedSize, budget)
	}
	slog.Debug("portfolio allocation", "method", res.Method.String(), "assets", len(assets), "periods", len(returns), "fallback", res.Fallback)
	return cands
}

// execute ejecuta una señal y registra el resultado. Devuelve true si hubo trade.
func (r *Runner) execute(ctx context.Context, c candidate, balance decimal.Decimal) bool {
	if r.d.Metrics != nil {
		r.d.Metrics.Signals.WithLabelValues(c.source).Inc()
	}
	slog.Info("signal",
		"source", c.source,
		"side", c.signal.Side.String(),
		"market", domain.TruncateQuestion(c.market.Question, c.market.ID, 60),
		"model", fmt.Sprintf("%.1f%%", c.signal.ModelProb*100),
		"price", fmt.Sprintf("%.1f%%", c.signal.MarketProb*100),
		"edge", fmt.Sprintf("%.1f%%", c.signal.Edge*100),
	)
	if r.d.Notifier != nil {
		if err := r.d.Notifier.SignalFound(ctx, c.market, c.signal); err != nil {
			slog.Warn("notify signal failed", "err", err)
		}
	}

	ex, err := r.d.Executor.Execute(ctx, c.market, c.signal, balance)
	if err != nil {
		if domain.IsKind(err, domain.KindRiskLimit) {
			r.reject("risk", c, err.Error())
			slog.Info("signal blocked by risk limits", "market", c.market.ID, "err", err)
			return false
		}
		r.reject("execution", c, err.Error())
		slog.Warn("execution failed", "market", c.market.ID, "err", err)
		r.notifyError(ctx, err)
		return false
	}

	if c.asset == "" {
		r.d.Filter.Deduplicator().MarkTraded(c.market.ID)
	}
	if r.d.Metrics != nil {
		r.d.Metrics.Trades.WithLabelValues(ex.Trade.Side.String(), r.d.Executor.Mode().String()).Inc()
	}
	if ex.Simulated {
		return true
	}
	r.mu.Lock()
	r.entries[ex.Trade.TokenID] = c.signal
	r.mu.Unlock()
	r.persist(ctx, ex.Trade)
	return true
}

// persist guarda el trade y lo notifica. Ambos son best-effort.
func (r *Runner) persist(ctx context.Context, t domain.Trade) {
	if r.d.Store != nil {
		if err := r.d.Store.SaveTrade(ctx, t); err != nil {
			slog.Error("save trade failed", "trade", t.ID, "err", err)
		}
	}
	if r.d.Notifier != nil {
		if err := r.d.Notifier.TradeExecuted(ctx, t); err != nil {
			slog.Warn("notify trade failed", "err", err)
		}
	}
}

// checkPaperExits refresca precios del paper trader y registra los cierres TP/SL.
func (r *Runner) checkPaperExits(ctx context.Context, balance decimal.Decimal) int {
	closes, err := r.d.Paper.UpdateAndCheck(ctx, r.d.Markets)
	if err != nil {
		slog.Warn("paper update failed", "err", err)
	}
	for _, c := range closes {
		r.onClose(ctx, c.Trade.Trade(), balance)
	}
	return len(closes)
}

// settleResolved liquida las posiciones paper de mercados que ya no están activos.
func (r *Runner) settleResolved(ctx context.Context, active []domain.Market) int {
	open := make(map[string]struct{}, len(active))
	for _, m := range active {
		open[m.ID] = struct{}{}
	}
	seen := make(map[string]bool)
	closed := 0
	for _, p := range r.d.Paper.Positions() {
		if _, ok := open[p.MarketID]; ok || seen[p.MarketID] {
			continue
		}
		seen[p.MarketID] = true
		m, err := r.d.Markets.GetMarket(ctx, p.MarketID)
		if err != nil {
			slog.Debug("resolved market lookup failed", "market", p.MarketID, "err", err)
			continue
		}
		if !m.Closed {
			continue
		}
		yesWins := m.YesPrice().GreaterThanOrEqual(domain.MustDec("0.5"))
		recs, err := r.d.Paper.SettleMarket(m.ID, yesWins)
		if err != nil {
			slog.Warn("paper settlement failed", "market", m.ID, "err", err)
		}
		for _, rec := range recs {
			r.onClose(ctx, rec.Trade(), r.d.Paper.Balance())
		}
		closed += len(recs)
	}
	return closed
}

// onClose registra el PnL de un cierre en el estado, el compounder y el breaker.
func (r *Runner) onClose(ctx context.Context, t domain.Trade, balance decimal.Decimal) {
	if r.d.State.AddPnL(t.PnL, r.cfg.Risk.MaxDailyLoss(balance)) {
		msg := fmt.Sprintf("Daily loss limit: PnL %s exceeded %.1f%% of balance. Trading paused; resume to continue.",
			r.d.State.DailyPnL().StringFixed(2), r.cfg.Risk.MaxDailyLossPct*100)
		slog.Warn("daily loss limit hit, trading paused", "daily_pnl", r.d.State.DailyPnL().StringFixed(2))
		r.riskAlert(ctx, msg)
	}

	r.mu.Lock()
	entry, ok := r.entries[t.TokenID]
	delete(r.entries, t.TokenID)
	r.mu.Unlock()
	if r.d.Compounder != nil {
		edge, conf := 0.0, 0.0
		if ok {
			edge, conf = entry.Edge, entry.Confidence
		}
		r.d.Compounder.RecordResult(t.PnL, edge, conf)
	}
	if r.d.Breaker != nil {
		if reason, fired := r.d.Breaker.Record(t.PnL); fired {
			slog.Warn("circuit breaker tripped", "reason", reason)
			r.riskAlert(ctx, "Circuit breaker: "+reason)
		}
	}
	r.d.State.Close(t.TokenID)
	if r.d.Metrics != nil {
		r.d.Metrics.Trades.WithLabelValues(t.Side.String(), r.d.Executor.Mode().String()).Inc()
	}
	r.persist(ctx, t)
}

func (r *Runner) updateGauges(balance decimal.Decimal) {
	if r.d.Metrics == nil {
		return
	}
	r.d.Metrics.Balance.Set(domain.Float(balance))
	r.d.Metrics.OpenPositions.Set(float64(len(r.d.State.Holdings())))
	r.d.Metrics.DailyPnL.Set(domain.Float(r.d.State.DailyPnL()))
}

func (r *Runner) riskAlert(ctx context.Context, msg string) {
	if r.d.Notifier == nil {
		return
	}
	if err := r.d.Notifier.RiskAlert(ctx, msg); err != nil {
		slog.Warn("notify risk alert failed", "err", err)
	}
}

func (r *Runner) notifyError(ctx context.Context, err error) {
	if r.d.Notifier == nil || ctx.Err() != nil {
		return
	}
	if nerr := r.d.Notifier.Error(ctx, err); nerr != nil {
		slog.Warn("notify error failed", "err", nerr)
	}
}

// consumeSocial loguea las señales sociales agregadas y avisa las más fuertes.
func (r *Runner) consumeSocial(ctx context.Context, in <-chan feeds.Aggregated) {
	for {
		select {
		case <-ctx.Done():
			return
		case agg := <-in:
			slog.Info("aggregated social signal",
				"token", agg.Token,
				"direction", string(agg.Direction),
				"score", fmt.Sprintf("%.2f", agg.Score),
				"sources", len(agg.Sources),
			)
			if r.d.Metrics != nil {
				r.d.Metrics.Signals.WithLabelValues("social").Inc()
			}
			if agg.Score < r.cfg.SocialAlertScore || r.d.Notifier == nil {
				continue
			}
			msg := fmt.Sprintf("High confidence signal: %s %s (score %.0f%%, confidence %.0f%%, %s, %d sources)\n%s",
				agg.Token, agg.Direction, agg.Score*100, agg.Confidence*100, agg.Timeframe, len(agg.Sources), agg.Reasoning)
			if err := r.d.Notifier.Send(ctx, msg); err != nil {
				slog.Warn("notify social signal failed", "err", err)
			}
		}
	}
}
