// Package feeds mantiene el estado en tiempo real de los subyacentes: precios,
// momentum, velas, régimen y sentimiento social. Alimenta al modelo técnico.
package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/filter"
	"github.com/alejandrodnm/polyedge/internal/ml"
	"github.com/alejandrodnm/polyedge/internal/regime"
)

// HubConfig parametriza el Hub.
type HubConfig struct {
	History     time.Duration // historial de precios para momentum
	BarInterval time.Duration // vela corta; las medias y largas son 5x y 15x
	MaxBars     int
	StaleAfter  time.Duration
	MinMomentum float64 // % en 1 minuto para la señal realtime
	MinEdge     float64
	Regime      regime.Config
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		History:     10 * time.Minute,
		BarInterval: time.Minute,
		MaxBars:     500,
		StaleAfter:  5 * time.Second,
		MinMomentum: 0.02,
		MinEdge:     0.03,
		Regime:      regime.DefaultConfig(),
	}
}

// Momentum es el último precio de un símbolo con sus variaciones en %.
type Momentum struct {
	Symbol    string
	Price     decimal.Decimal
	Change1m  float64
	Change5m  float64
	Timestamp time.Time
}

type point struct {
	t     time.Time
	price decimal.Decimal
}

type symbolState struct {
	history []point
	last    Momentum
	short   *BarBuilder
	medium  *BarBuilder
	long    *BarBuilder
	regimes *regime.MultiTimeframe
}

// Hub es seguro para uso concurrente. Implementa ml.InputSource.
type Hub struct {
	cfg    HubConfig
	social *Aggregator
	now    func() time.Time

	mu        sync.RWMutex
	symbols   map[string]*symbolState
	imbalance map[string]float64 // por market id
}

var _ ml.InputSource = (*Hub)(nil)

// NewHub crea un hub. social y now pueden ser nil.
func NewHub(cfg HubConfig, social *Aggregator, now func() time.Time) *Hub {
	if now == nil {
		now = time.Now
	}
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = time.Minute
	}
	return &Hub{
		cfg:       cfg,
		social:    social,
		now:       now,
		symbols:   make(map[string]*symbolState),
		imbalance: make(map[string]float64),
	}
}

func (h *Hub) state(symbol string) *symbolState {
	st, ok := h.symbols[symbol]
	if !ok {
		st = &symbolState{
			short:   NewBarBuilder(h.cfg.BarInterval, h.cfg.MaxBars),
			medium:  NewBarBuilder(5*h.cfg.BarInterval, h.cfg.MaxBars),
			long:    NewBarBuilder(15*h.cfg.BarInterval, h.cfg.MaxBars),
			regimes: regime.NewMultiTimeframe(h.cfg.Regime),
		}
		h.symbols[symbol] = st
	}
	return st
}

// OnPrice registra un precio. Solo actualiza momentum.
func (h *Hub) OnPrice(t domain.PriceTick) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(strings.ToUpper(t.Symbol), t.Price, t.Timestamp)
}

// OnTrade registra un trade: actualiza momentum y las velas.
func (h *Hub) OnTrade(t domain.TradeTick) {
	symbol := strings.ToUpper(t.Symbol)
	h.mu.Lock()
	st := h.record(symbol, t.Price, t.Timestamp)
	price, qty := domain.Float(t.Price), domain.Float(t.Quantity)
	closedShort, okShort := st.short.Add(t.Timestamp, price, qty)
	closedMedium, okMedium := st.medium.Add(t.Timestamp, price, qty)
	closedLong, okLong := st.long.Add(t.Timestamp, price, qty)
	regimes := st.regimes
	h.mu.Unlock()

	// los detectores tienen su propio lock
	if okShort {
		if det, ok := regimes.UpdateShort(closedShort); ok && regimes.Short.Changed() {
			slog.Info("regime changed", "symbol", symbol, "regime", det.Regime, "confidence", fmt.Sprintf("%.2f", det.Confidence))
		}
	}
	if okMedium {
		regimes.UpdateMedium(closedMedium)
	}
	if okLong {
		regimes.UpdateLong(closedLong)
	}
}

func (h *Hub) record(symbol string, price decimal.Decimal, ts time.Time) *symbolState {
	st := h.state(symbol)
	if ts.IsZero() {
		ts = h.now()
	}
	st.history = append(st.history, point{t: ts, price: price})
	cutoff := ts.Add(-h.cfg.History)
	drop := 0
	for drop < len(st.history) && !st.history[drop].t.After(cutoff) {
		drop++
	}
	st.history = st.history[drop:]

	st.last = Momentum{
		Symbol:    symbol,
		Price:     price,
		Change1m:  change(st.history, ts, time.Minute),
		Change5m:  change(st.history, ts, 5*time.Minute),
		Timestamp: ts,
	}
	if abs(st.last.Change1m) > 0.1 {
		slog.Info("significant move", "symbol", symbol, "price", price.StringFixed(2),
			"change_1m", fmt.Sprintf("%.3f%%", st.last.Change1m),
			"change_5m", fmt.Sprintf("%.3f%%", st.last.Change5m))
	}
	return st
}

// change devuelve la variación % entre el último precio y el último anterior a now-d
// (o el más viejo disponible).
func change(history []point, now time.Time, d time.Duration) float64 {
	if len(history) == 0 {
		return 0
	}
	cutoff := now.Add(-d)
	old := history[0].price
	for _, p := range history {
		if p.t.After(cutoff) {
			break
		}
		old = p.price
	}
	cur := history[len(history)-1].price
	if !old.IsPositive() {
		return 0
	}
	return domain.Float(cur.Sub(old).Div(old)) * 100
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Momentum devuelve el último estado del símbolo.
func (h *Hub) Momentum(symbol string) (Momentum, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.symbols[strings.ToUpper(symbol)]
	if !ok || len(st.history) == 0 {
		return Momentum{}, false
	}
	return st.last, true
}

// Snapshot devuelve el último estado de todos los símbolos.
func (h *Hub) Snapshot() []Momentum {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Momentum, 0, len(h.symbols))
	for _, st := range h.symbols {
		if len(st.history) > 0 {
			out = append(out, st.last)
		}
	}
	return out
}

// Stale devuelve true si el símbolo no recibió datos en StaleAfter.
func (h *Hub) Stale(symbol string) bool {
	m, ok := h.Momentum(symbol)
	if !ok {
		return true
	}
	return h.cfg.StaleAfter > 0 && h.now().Sub(m.Timestamp) > h.cfg.StaleAfter
}

// Bars devuelve las velas cortas cerradas más la vela en formación.
func (h *Hub) Bars(symbol string) []domain.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.symbols[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	bars := st.short.Bars()
	if cur, ok := st.short.Current(); ok {
		bars = append(bars, cur)
	}
	return bars
}

// Regime devuelve la detección corta vigente.
func (h *Hub) Regime(symbol string) (regime.Detection, bool) {
	h.mu.RLock()
	st, ok := h.symbols[strings.ToUpper(symbol)]
	h.mu.RUnlock()
	if !ok {
		return regime.Detection{}, false
	}
	return st.regimes.Short.Current()
}

// Consensus devuelve el consenso multi-timeframe del símbolo.
func (h *Hub) Consensus(symbol string) (regime.Consensus, bool) {
	h.mu.RLock()
	st, ok := h.symbols[strings.ToUpper(symbol)]
	h.mu.RUnlock()
	if !ok {
		return regime.Consensus{}, false
	}
	return st.regimes.Consensus()
}

// Trend traduce el régimen corto a la tendencia que consume el filtro.
func (h *Hub) Trend(symbol string) (filter.TrendSignal, bool) {
	det, ok := h.Regime(symbol)
	if !ok {
		return filter.TrendSignal{}, false
	}
	switch det.Regime {
	case regime.BullishTrend:
		return filter.TrendSignal{Direction: filter.Up, Confidence: det.Confidence}, true
	case regime.BearishTrend:
		return filter.TrendSignal{Direction: filter.Down, Confidence: det.Confidence}, true
	}
	return filter.TrendSignal{Direction: filter.NoDirection, Confidence: det.Confidence}, true
}

// SetImbalance guarda el imbalance del book del mercado para el modelo.
func (h *Hub) SetImbalance(marketID string, v float64) {
	h.mu.Lock()
	h.imbalance[marketID] = v
	h.mu.Unlock()
}

// InputFor arma la entrada del modelo técnico. ok es false si el mercado no
// tiene subyacente conocido, no hay velas o el feed está viejo.
func (h *Hub) InputFor(market domain.Market) (ml.Input, bool) {
	base, ok := AssetFor(market)
	if !ok {
		return ml.Input{}, false
	}
	symbol := PairSymbol(base)
	if h.Stale(symbol) {
		return ml.Input{}, false
	}
	bars := h.Bars(symbol)
	if len(bars) == 0 {
		return ml.Input{}, false
	}
	m, _ := h.Momentum(symbol)
	in := ml.Input{Bars: bars, Price: domain.Float(m.Price)}

	h.mu.RLock()
	if v, ok := h.imbalance[market.ID]; ok {
		in.Imbalance = &v
	}
	h.mu.RUnlock()
	if h.social != nil {
		if s, ok := h.social.Sentiment(base); ok {
			in.Sentiment = &s
		}
	}
	if det, ok := h.Regime(symbol); ok {
		in.Regime = &det
	}
	return in, true
}

// Signal es la estrategia realtime: con momentum de 1 minuto suficiente compra
// el outcome en esa dirección si el precio deja edge.
func (h *Hub) Signal(market domain.Market) (domain.Signal, bool) {
	base, ok := AssetFor(market)
	if !ok {
		return domain.Signal{}, false
	}
	symbol := PairSymbol(base)
	if h.Stale(symbol) {
		return domain.Signal{}, false
	}
	m, ok := h.Momentum(symbol)
	if !ok || abs(m.Change1m) < h.cfg.MinMomentum {
		return domain.Signal{}, false
	}

	up := m.Change1m > 0
	prob := 0.5 + min(abs(m.Change1m)*2, 0.4)
	tok, ok := directionToken(market, up)
	if !ok {
		return domain.Signal{}, false
	}
	price := domain.Float(tok.Price)
	edge := prob - price
	if edge < h.cfg.MinEdge {
		slog.Debug("realtime edge too small", "symbol", symbol, "edge", fmt.Sprintf("%.3f", edge))
		return domain.Signal{}, false
	}
	return domain.Signal{
		MarketID:      market.ID,
		TokenID:       tok.TokenID,
		Side:          domain.Buy,
		ModelProb:     prob,
		MarketProb:    price,
		Edge:          edge,
		Confidence:    0.7,
		SuggestedSize: 0.1,
		Reason:        fmt.Sprintf("realtime momentum %s 1m=%.3f%%", symbol, m.Change1m),
		Timestamp:     h.now(),
	}, true
}

func directionToken(m domain.Market, up bool) (domain.Token, bool) {
	if up {
		if t, ok := m.TokenByOutcome("Up"); ok {
			return t, true
		}
		return m.YesToken()
	}
	if t, ok := m.TokenByOutcome("Down"); ok {
		return t, true
	}
	return m.NoToken()
}

// Run consume los feeds hasta que ctx se cancele o ambos canales se cierren.
// Cualquiera de los dos puede ser nil.
func (h *Hub) Run(ctx context.Context, prices <-chan domain.PriceTick, trades <-chan domain.TradeTick) error {
	for prices != nil || trades != nil {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-prices:
			if !ok {
				prices = nil
				continue
			}
			h.OnPrice(p)
		case t, ok := <-trades:
			if !ok {
				trades = nil
				continue
			}
			h.OnTrade(t)
		}
	}
	return nil
}

var assets = []struct {
	base string
	keys []string
}{
	{"BTC", []string{"bitcoin", "btc"}},
	{"ETH", []string{"ethereum", "eth"}},
	{"SOL", []string{"solana", "sol"}},
	{"XRP", []string{"xrp", "ripple"}},
	{"DOGE", []string{"dogecoin", "doge"}},
}

// AssetFor detecta el subyacente cripto de un mercado por el slug o por
// palabras completas de la pregunta.
func AssetFor(m domain.Market) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(m.Slug+" "+m.Question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		for _, a := range assets {
			for _, k := range a.keys {
				if w == k {
					return a.base, true
				}
			}
		}
	}
	return "", false
}

// PairSymbol devuelve el par spot contra USDT ("BTC" -> "BTCUSDT").
func PairSymbol(base string) string {
	return strings.ToUpper(base) + "USDT"
}
