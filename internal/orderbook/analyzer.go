// Package orderbook calcula métricas de microestructura sobre snapshots del book
// y el flujo de trades: imbalance, VPIN, icebergs, market makers e impacto.
package orderbook

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Config parametriza el Analyzer.
type Config struct {
	Levels             int
	DepthDecay         float64
	DirectionThreshold float64
	VPINBucketVolume   float64 // en unidades quote (price × qty)
	VPINBuckets        int
	IcebergThreshold   int
	IcebergTTL         time.Duration
	MMWindow           time.Duration
	MMMinSnapshots     int
	MaxSnapshots       int
	MaxTrades          int
}

// DefaultConfig devuelve los parámetros por defecto.
func DefaultConfig() Config {
	return Config{
		Levels:             10,
		DepthDecay:         0.8,
		DirectionThreshold: 0.15,
		VPINBucketVolume:   1000,
		VPINBuckets:        50,
		IcebergThreshold:   3,
		IcebergTTL:         5 * time.Minute,
		MMWindow:           60 * time.Second,
		MMMinSnapshots:     10,
		MaxSnapshots:       1000,
		MaxTrades:          10000,
	}
}

// withDefaults completa los campos no configurados.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Levels <= 0 {
		c.Levels = d.Levels
	}
	if c.DepthDecay <= 0 {
		c.DepthDecay = d.DepthDecay
	}
	if c.DirectionThreshold <= 0 {
		c.DirectionThreshold = d.DirectionThreshold
	}
	if c.MMWindow <= 0 {
		c.MMWindow = d.MMWindow
	}
	if c.MMMinSnapshots <= 0 {
		c.MMMinSnapshots = d.MMMinSnapshots
	}
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = d.MaxSnapshots
	}
	if c.MaxTrades <= 0 {
		c.MaxTrades = d.MaxTrades
	}
	return c
}

// Analyzer mantiene el historial acotado de un token.
type Analyzer struct {
	cfg Config

	mu        sync.Mutex
	snapshots []domain.OrderBook
	trades    []domain.TradeTick
	vpin      *VPIN
	icebergs  *IcebergDetector
}

// NewAnalyzer crea un Analyzer vacío.
func NewAnalyzer(cfg Config) *Analyzer {
	cfg = cfg.withDefaults()
	return &Analyzer{
		cfg:      cfg,
		vpin:     NewVPIN(cfg.VPINBucketVolume, cfg.VPINBuckets),
		icebergs: NewIcebergDetector(cfg.IcebergThreshold, cfg.IcebergTTL),
	}
}

// OnSnapshot registra un snapshot del book.
func (a *Analyzer) OnSnapshot(ob domain.OrderBook) {
	if ob.Timestamp.IsZero() {
		ob.Timestamp = time.Now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots = append(a.snapshots, ob)
	if len(a.snapshots) > a.cfg.MaxSnapshots {
		a.snapshots = a.snapshots[len(a.snapshots)-a.cfg.MaxSnapshots:]
	}
	a.icebergs.Observe(ob)
}

// OnTrade registra un trade ejecutado.
func (a *Analyzer) OnTrade(t domain.TradeTick) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trades = append(a.trades, t)
	if len(a.trades) > a.cfg.MaxTrades {
		a.trades = a.trades[len(a.trades)-a.cfg.MaxTrades:]
	}
	a.vpin.Add(t)
}

// Latest devuelve el último snapshot.
func (a *Analyzer) Latest() (domain.OrderBook, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.snapshots) == 0 {
		return domain.OrderBook{}, false
	}
	return a.snapshots[len(a.snapshots)-1], true
}

// Imbalance calcula el desequilibrio sobre el último snapshot.
func (a *Analyzer) Imbalance() (Imbalance, bool) {
	ob, ok := a.Latest()
	if !ok {
		return Imbalance{}, false
	}
	return ComputeImbalance(ob, a.cfg.Levels, a.cfg.DepthDecay, a.cfg.DirectionThreshold)
}

// VPIN devuelve la toxicidad del flujo.
func (a *Analyzer) VPIN() (VPINResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vpin.Value()
}

// Icebergs devuelve los icebergs detectados.
func (a *Analyzer) Icebergs() []Iceberg {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.icebergs.Icebergs()
}

// MarketMakers devuelve el perfil de market makers en la ventana hasta now.
func (a *Analyzer) MarketMakers(now time.Time) (MMProfile, bool) {
	a.mu.Lock()
	snaps := append([]domain.OrderBook(nil), a.snapshots...)
	a.mu.Unlock()
	return ProfileMarketMakers(snaps, now, a.cfg.MMWindow, a.cfg.MMMinSnapshots)
}

// PriceImpact estima el impacto de ejecutar size contra el último snapshot.
func (a *Analyzer) PriceImpact(side domain.Side, size decimal.Decimal) (float64, bool) {
	ob, ok := a.Latest()
	if !ok {
		return 0, false
	}
	return PriceImpact(ob, side, size)
}

// Summary agrupa todas las métricas disponibles. Los campos Has* indican
// cuáles se pudieron calcular.
type Summary struct {
	Imbalance    Imbalance
	HasImbalance bool
	VPIN         VPINResult
	HasVPIN      bool
	Icebergs     []Iceberg
	MM           MMProfile
	HasMM        bool
}

// Summary calcula todas las métricas en una sola pasada.
func (a *Analyzer) Summary(now time.Time) Summary {
	var s Summary
	s.Imbalance, s.HasImbalance = a.Imbalance()
	s.VPIN, s.HasVPIN = a.VPIN()
	s.Icebergs = a.Icebergs()
	s.MM, s.HasMM = a.MarketMakers(now)
	return s
}

// Tracker mantiene un Analyzer por token.
type Tracker struct {
	cfg       Config
	mu        sync.Mutex
	analyzers map[string]*Analyzer
}

// NewTracker crea un Tracker vacío.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, analyzers: make(map[string]*Analyzer)}
}

// For devuelve (creándolo si hace falta) el Analyzer de un token.
func (t *Tracker) For(tokenID string) *Analyzer {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.analyzers[tokenID]
	if !ok {
		a = NewAnalyzer(t.cfg)
		t.analyzers[tokenID] = a
	}
	return a
}

// Len devuelve cuántos tokens se siguen.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.analyzers)
}
