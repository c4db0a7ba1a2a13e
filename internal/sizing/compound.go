package sizing

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	resultWindow      = 50
	minResultsForMult = 5
	minKellyMult      = 0.5
	maxKellyMult      = 2.0
	maxGrowthFactor   = 2.0
	maxDynamicCap     = 0.10
)

// CompoundStats es el estado observable del Compounder.
type CompoundStats struct {
	TotalTrades       int
	Wins              int
	WinRate           float64
	TotalPnL          decimal.Decimal
	KellyMultiplier   float64
	WinStreak         int
	LoseStreak        int
	GrowthFromInitial float64 // balance actual / inicial
	PeakGrowth        float64 // pico / inicial
}

type tradeResult struct {
	pnl        decimal.Decimal
	edge       float64
	confidence float64
}

// Compounder ajusta el sizing Kelly según rachas, crecimiento del balance y drawdown.
type Compounder struct {
	cfg         Config
	sqrtScaling bool
	now         func() time.Time

	mu         sync.Mutex
	results    []tradeResult
	winStreak  int
	loseStreak int
	initial    decimal.Decimal
	balance    decimal.Decimal
	peak       decimal.Decimal
	kellyMult  float64
}

// NewCompounder crea un Compounder para un balance inicial.
func NewCompounder(cfg Config, initialBalance decimal.Decimal, sqrtScaling bool) *Compounder {
	return &Compounder{
		cfg:         cfg,
		sqrtScaling: sqrtScaling,
		now:         time.Now,
		initial:     initialBalance,
		balance:     initialBalance,
		peak:        initialBalance,
		kellyMult:   1.0,
	}
}

// RecordResult actualiza rachas y el multiplicador Kelly con un trade cerrado.
func (c *Compounder) RecordResult(pnl decimal.Decimal, edge, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pnl.IsPositive() {
		c.winStreak++
		c.loseStreak = 0
	} else {
		c.loseStreak++
		c.winStreak = 0
	}
	c.results = append(c.results, tradeResult{pnl: pnl, edge: edge, confidence: confidence})
	if len(c.results) > resultWindow {
		c.results = c.results[len(c.results)-resultWindow:]
	}
	c.adjustKellyMultiplier()
}

// UpdateBalance registra el balance actual para el cálculo de drawdown.
func (c *Compounder) UpdateBalance(balance decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = balance
	if balance.GreaterThan(c.peak) {
		c.peak = balance
	}
}

// Generate es como SignalGenerator.Generate pero con umbral y sizing dinámicos.
func (c *Compounder) Generate(market domain.Market, pred domain.Prediction, balance decimal.Decimal) (domain.Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	minEdge := c.dynamicEdgeThreshold(pred.Confidence)
	return buildSignal(market, pred, minEdge, c.cfg.MinConfidence, c.now(), func(effProb, price, conf float64) float64 {
		return c.size(effProb, price, conf, balance)
	})
}

// MinEdge devuelve el umbral de edge vigente para una confianza dada.
func (c *Compounder) MinEdge(confidence float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dynamicEdgeThreshold(confidence)
}

func (c *Compounder) dynamicEdgeThreshold(confidence float64) float64 {
	switch {
	case c.winStreak >= 3 && confidence >= 0.75:
		return c.cfg.MinEdge * 0.7
	case c.loseStreak >= 2:
		return c.cfg.MinEdge * 1.3
	default:
		return c.cfg.MinEdge
	}
}

func (c *Compounder) size(effProb, price, confidence float64, balance decimal.Decimal) float64 {
	potential := 1 - price
	edge := effProb - price
	if potential <= 0 || edge <= 0 {
		return 0
	}
	s := edge / potential * c.cfg.KellyFraction * c.kellyMult * confidence
	s *= c.growthFactor(balance)
	s *= c.drawdownFactor(balance)
	return math.Min(s, c.dynamicMaxPosition(balance))
}

func (c *Compounder) adjustKellyMultiplier() {
	if len(c.results) < minResultsForMult {
		return
	}
	var wins int
	var expected float64
	for _, r := range c.results {
		if r.pnl.IsPositive() {
			wins++
		}
		expected += r.confidence
	}
	n := float64(len(c.results))
	winRate := float64(wins) / n
	expected /= n

	switch {
	case winRate > expected+0.1:
		c.kellyMult = math.Min(c.kellyMult*1.1, maxKellyMult)
	case winRate < expected-0.1:
		c.kellyMult = math.Max(c.kellyMult*0.9, minKellyMult)
	case c.kellyMult > 1:
		c.kellyMult *= 0.98
	case c.kellyMult < 1:
		c.kellyMult *= 1.02
	}
}

// growthFactor escala el sizing con √(balance/inicial), máximo 2.
func (c *Compounder) growthFactor(balance decimal.Decimal) float64 {
	if !c.initial.IsPositive() {
		return 1
	}
	growth := domain.Float(domain.Div(balance, c.initial))
	if growth <= 0 {
		return 1
	}
	if c.sqrtScaling {
		growth = math.Sqrt(growth)
	}
	return math.Min(growth, maxGrowthFactor)
}

func (c *Compounder) drawdownFactor(balance decimal.Decimal) float64 {
	if !c.peak.IsPositive() {
		return 1
	}
	dd := domain.Float(domain.Div(c.peak.Sub(balance), c.peak))
	switch {
	case dd > 0.20:
		return 0.5
	case dd > 0.10:
		return 0.75
	default:
		return 1
	}
}

func (c *Compounder) dynamicMaxPosition(balance decimal.Decimal) float64 {
	base := c.cfg.MaxPositionPct
	if c.winStreak >= 5 && balance.GreaterThan(c.initial.Mul(domain.Dec(1.2))) {
		return math.Min(base*1.25, maxDynamicCap)
	}
	if c.loseStreak >= 3 {
		return base * 0.75
	}
	return base
}

// Stats devuelve una foto del estado.
func (c *Compounder) Stats() CompoundStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CompoundStats{
		TotalTrades:     len(c.results),
		TotalPnL:        domain.Zero,
		KellyMultiplier: c.kellyMult,
		WinStreak:       c.winStreak,
		LoseStreak:      c.loseStreak,
	}
	for _, r := range c.results {
		if r.pnl.IsPositive() {
			s.Wins++
		}
		s.TotalPnL = s.TotalPnL.Add(r.pnl)
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
	}
	if c.initial.IsPositive() {
		s.GrowthFromInitial = domain.Float(domain.Div(c.balance, c.initial))
		s.PeakGrowth = domain.Float(domain.Div(c.peak, c.initial))
	}
	return s
}
