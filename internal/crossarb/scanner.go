// Package crossarb detecta y ejecuta arbitraje entre los dos outcomes de los
// mercados cripto Up/Down: si up + down < 1, comprar ambos garantiza cobrar $1
// por par en la resolución.
package crossarb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

// Symbols son los subyacentes con mercados Up/Down recurrentes.
var Symbols = []string{"btc", "eth", "xrp", "sol", "doge"}

// Config parametriza el scanner.
type Config struct {
	MinSpread    decimal.Decimal
	MaxSpread    decimal.Decimal // por encima se considera dato corrupto
	MinRemaining time.Duration
	MaxRemaining time.Duration
	MaxPosition  decimal.Decimal // USDC por oportunidad
	FeeRate      decimal.Decimal
	// Depths son los capitales (USDC) a los que se evalúa el book.
	Depths []decimal.Decimal
}

// DefaultConfig: spread 1%–10%, entre 1 y 10 minutos para el cierre, $100 por trade.
func DefaultConfig() Config {
	return Config{
		MinSpread:    domain.MustDec("0.01"),
		MaxSpread:    domain.MustDec("0.10"),
		MinRemaining: 60 * time.Second,
		MaxRemaining: 600 * time.Second,
		MaxPosition:  decimal.NewFromInt(100),
		Depths: []decimal.Decimal{
			decimal.NewFromInt(50), decimal.NewFromInt(100),
			decimal.NewFromInt(200), decimal.NewFromInt(500),
		},
	}
}

// DepthLevel es el análisis del par a un capital dado recorriendo los asks.
type DepthLevel struct {
	Capital    decimal.Decimal
	AvgUp      decimal.Decimal
	AvgDown    decimal.Decimal
	Total      decimal.Decimal
	Gap        decimal.Decimal // 1 - total - fees
	Profitable bool
}

// Opportunity es un par Up/Down comprable por menos de $1.
type Opportunity struct {
	Symbol          string
	Slug            string
	ConditionID     string
	UpTokenID       string
	DownTokenID     string
	UpPrice         decimal.Decimal
	DownPrice       decimal.Decimal
	TotalCost       decimal.Decimal
	Spread          decimal.Decimal // 1 - total
	ProfitPerDollar decimal.Decimal
	ExpectedProfit  decimal.Decimal // a MaxPosition
	NegRisk         bool
	EndTime         time.Time
	Remaining       time.Duration
	DetectedAt      time.Time
	Depth           []DepthLevel
}

// Pairs devuelve cuántos pares completos compra amount.
func (o Opportunity) Pairs(amount decimal.Decimal) decimal.Decimal {
	return domain.Div(amount, o.TotalCost)
}

// Profit devuelve la ganancia garantizada de invertir amount.
func (o Opportunity) Profit(amount decimal.Decimal) decimal.Decimal {
	return o.Pairs(amount).Sub(amount)
}

// Allocation reparte amount entre los dos lados en proporción a sus precios,
// de modo que ambos compren la misma cantidad de shares.
func (o Opportunity) Allocation(amount decimal.Decimal) (up, down decimal.Decimal) {
	pairs := o.Pairs(amount)
	return pairs.Mul(o.UpPrice), pairs.Mul(o.DownPrice)
}

// Valid devuelve true si el mercado sigue abierto en now.
func (o Opportunity) Valid(now time.Time) bool {
	return o.EndTime.After(now)
}

// MaxProfitableCapital devuelve el mayor capital evaluado que sigue siendo rentable.
func (o Opportunity) MaxProfitableCapital() decimal.Decimal {
	best := domain.Zero
	for _, d := range o.Depth {
		if d.Profitable {
			best = d.Capital
		}
	}
	return best
}

// Symbol devuelve el subyacente de un mercado Up/Down cripto a partir de su slug
// ("btc-updown-15m-1700000000"). ok es false para cualquier otro mercado.
func Symbol(m domain.Market) (string, bool) {
	slug := strings.ToLower(m.Slug)
	prefix, _, found := strings.Cut(slug, "-updown-")
	if !found {
		return "", false
	}
	for _, s := range Symbols {
		if prefix == s {
			return strings.ToUpper(s), true
		}
	}
	return "", false
}

// IsCrypto es el predicado que usa el loop para aplicar el umbral de liquidez cripto.
func IsCrypto(m domain.Market) bool {
	_, ok := Symbol(m)
	return ok
}

// Scanner busca oportunidades en cada ciclo. Es seguro para uso concurrente.
type Scanner struct {
	src   ports.MarketDataSource
	cfg   Config
	stats *Tracker

	mu        sync.Mutex
	recent    map[string]Opportunity      // por condition id
	bookCache map[string]domain.OrderBook // último book por token
	now       func() time.Time
}

// NewScanner crea un scanner. stats puede ser nil.
func NewScanner(src ports.MarketDataSource, cfg Config, stats *Tracker) *Scanner {
	if stats == nil {
		stats = NewTracker()
	}
	return &Scanner{
		src:       src,
		cfg:       cfg,
		stats:     stats,
		recent:    make(map[string]Opportunity),
		bookCache: make(map[string]domain.OrderBook),
		now:       time.Now,
	}
}

// Stats devuelve el tracker del scanner.
func (s *Scanner) Stats() *Tracker { return s.stats }

// Scan lista los mercados activos, evalúa los Up/Down cripto y devuelve las
// oportunidades ordenadas por spread descendente.
func (s *Scanner) Scan(ctx context.Context) ([]Opportunity, error) {
	markets, err := s.src.ListMarkets(ctx, domain.MarketFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("crossarb.Scan: list markets: %w", err)
	}
	now := s.now()

	var opps []Opportunity
	for _, m := range markets {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsCrypto(m) {
			continue
		}
		m = s.refresh(ctx, m)
		opp, ok := s.Evaluate(m, now)
		if !ok {
			continue
		}
		opps = append(opps, opp)
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].Spread.GreaterThan(opps[j].Spread)
	})

	spreads := make([]decimal.Decimal, len(opps))
	s.mu.Lock()
	for i, o := range opps {
		s.recent[o.ConditionID] = o
		spreads[i] = o.Spread
	}
	s.mu.Unlock()
	s.stats.RecordScan(spreads)

	slog.Debug("cross-arb scan completed", "markets", len(markets), "opportunities", len(opps))
	return opps, nil
}

// refresh reemplaza los precios de los tokens por el best ask del CLOB
// y guarda la profundidad. Si el book falla se usa el precio del listado.
func (s *Scanner) refresh(ctx context.Context, m domain.Market) domain.Market {
	tokens := make([]domain.Token, len(m.Tokens))
	copy(tokens, m.Tokens)
	for i, t := range tokens {
		book, err := s.src.GetBook(ctx, t.TokenID)
		if err != nil {
			slog.Debug("cross-arb book unavailable", "slug", m.Slug, "token", t.TokenID, "err", err)
			continue
		}
		book.Normalize()
		if ask, ok := book.BestAsk(); ok {
			tokens[i].Price = ask.Price
		}
		s.mu.Lock()
		s.bookCache[t.TokenID] = book
		s.mu.Unlock()
	}
	m.Tokens = tokens
	return m
}

// Evaluate aplica los filtros de tiempo y spread a un mercado.
func (s *Scanner) Evaluate(m domain.Market, now time.Time) (Opportunity, bool) {
	if !m.Active || m.Closed {
		return Opportunity{}, false
	}
	symbol, ok := Symbol(m)
	if !ok {
		symbol = strings.ToUpper(m.Slug)
	}
	up, ok := m.TokenByOutcome("Up")
	if !ok {
		if up, ok = m.YesToken(); !ok {
			return Opportunity{}, false
		}
	}
	down, ok := m.TokenByOutcome("Down")
	if !ok {
		if down, ok = m.NoToken(); !ok {
			return Opportunity{}, false
		}
	}
	if !up.Price.IsPositive() || !down.Price.IsPositive() {
		return Opportunity{}, false
	}

	remaining := m.TimeRemaining(now)
	if remaining < s.cfg.MinRemaining {
		slog.Debug("cross-arb too late", "slug", m.Slug, "remaining", remaining)
		return Opportunity{}, false
	}
	if remaining > s.cfg.MaxRemaining {
		slog.Debug("cross-arb too early", "slug", m.Slug, "remaining", remaining)
		return Opportunity{}, false
	}

	total := up.Price.Add(down.Price)
	spread := domain.One.Sub(total)
	// las comisiones se descuentan solo para el umbral mínimo
	net := spread.Sub(total.Mul(s.cfg.FeeRate))
	if net.LessThan(s.cfg.MinSpread) {
		slog.Debug("cross-arb spread too low", "slug", m.Slug, "spread", net.StringFixed(4))
		return Opportunity{}, false
	}
	if spread.GreaterThan(s.cfg.MaxSpread) {
		slog.Warn("cross-arb spread suspiciously high", "slug", m.Slug, "spread", spread.StringFixed(4))
		return Opportunity{}, false
	}

	opp := Opportunity{
		Symbol:          symbol,
		Slug:            m.Slug,
		ConditionID:     m.ID,
		UpTokenID:       up.TokenID,
		DownTokenID:     down.TokenID,
		UpPrice:         up.Price,
		DownPrice:       down.Price,
		TotalCost:       total,
		Spread:          spread,
		ProfitPerDollar: domain.Div(spread, total),
		ExpectedProfit:  domain.Div(s.cfg.MaxPosition.Mul(spread), total),
		NegRisk:         m.NegRisk,
		EndTime:         m.EndTime,
		Remaining:       remaining,
		DetectedAt:      now,
	}

	s.mu.Lock()
	upBook, okUp := s.bookCache[up.TokenID]
	downBook, okDown := s.bookCache[down.TokenID]
	s.mu.Unlock()
	if okUp && okDown {
		opp.Depth = AnalyzeDepth(upBook, downBook, s.cfg.FeeRate, s.cfg.Depths)
	}

	slog.Info("cross-arb opportunity",
		"symbol", symbol,
		"up", up.Price.StringFixed(3),
		"down", down.Price.StringFixed(3),
		"spread_pct", spread.Mul(decimal.NewFromInt(100)).StringFixed(2),
		"remaining", remaining.Round(time.Second),
	)
	return opp, true
}

// AnalyzeDepth evalúa el par a cada capital recorriendo los asks de ambos books.
// Se corta en el primer capital que alguno de los lados no puede cubrir.
func AnalyzeDepth(upBook, downBook domain.OrderBook, feeRate decimal.Decimal, capitals []decimal.Decimal) []DepthLevel {
	var out []DepthLevel
	for _, c := range capitals {
		avgUp, okUp := VolumeWeightedPrice(upBook.Asks, c)
		avgDown, okDown := VolumeWeightedPrice(downBook.Asks, c)
		if !okUp || !okDown {
			break
		}
		total := avgUp.Add(avgDown)
		gap := domain.One.Sub(total).Sub(total.Mul(feeRate))
		out = append(out, DepthLevel{
			Capital:    c,
			AvgUp:      avgUp,
			AvgDown:    avgDown,
			Total:      total,
			Gap:        gap,
			Profitable: gap.IsPositive(),
		})
	}
	return out
}

// VolumeWeightedPrice devuelve el precio medio de gastar capital USDC en los asks.
// ok es false si el book no tiene profundidad suficiente.
func VolumeWeightedPrice(asks []domain.BookLevel, capital decimal.Decimal) (decimal.Decimal, bool) {
	if len(asks) == 0 || !capital.IsPositive() {
		return domain.Zero, false
	}
	shares := domain.Zero
	remaining := capital
	for _, a := range asks {
		if !a.Price.IsPositive() {
			continue
		}
		levelCost := a.Price.Mul(a.Quantity)
		if levelCost.LessThan(remaining) {
			shares = shares.Add(a.Quantity)
			remaining = remaining.Sub(levelCost)
			continue
		}
		shares = shares.Add(domain.Div(remaining, a.Price))
		remaining = domain.Zero
		break
	}
	if remaining.IsPositive() || shares.IsZero() {
		return domain.Zero, false
	}
	return domain.Div(capital, shares), true
}

// Recent devuelve las oportunidades vistas que siguen abiertas.
func (s *Scanner) Recent() []Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Opportunity, 0, len(s.recent))
	for _, o := range s.recent {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spread.GreaterThan(out[j].Spread) })
	return out
}

// Cleanup descarta las oportunidades y books de mercados ya cerrados.
func (s *Scanner) Cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.recent {
		if !o.Valid(now) {
			delete(s.recent, id)
			delete(s.bookCache, o.UpTokenID)
			delete(s.bookCache, o.DownTokenID)
		}
	}
}
