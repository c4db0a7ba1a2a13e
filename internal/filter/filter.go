package filter

import (
	"time"
)

// Config agrupa la configuración de los tres filtros.
type Config struct {
	Cooldown      time.Duration
	ShortCooldown time.Duration
	Fusion        FusionConfig
	Window        TimeWindow
}

// DefaultConfig devuelve los parámetros por defecto.
func DefaultConfig() Config {
	return Config{
		Cooldown:      15 * time.Minute,
		ShortCooldown: 2 * time.Minute,
		Fusion:        DefaultFusionConfig(),
		Window:        TimeWindow{Min: time.Minute, Max: 10 * time.Minute},
	}
}

// Candidate es la información que el filtro necesita de una señal.
type Candidate struct {
	MarketID string
	Trend    *TrendSignal
	Momentum *float64
	Close    time.Time // zero = cierre desconocido, no se aplica la ventana
}

// Result es el veredicto del filtro combinado.
type Result struct {
	ShouldTrade bool
	Reason      string
	Fusion      *FusionResult
}

// SignalFilter aplica cooldown, ventana y fusión. Marca el mercado como
// operado de forma atómica con la aceptación.
type SignalFilter struct {
	dedup        *Deduplicator
	fusion       SignalFusion
	window       TimeWindow
	shortHorizon func(marketID string) bool
	now          func() time.Time
}

// New crea un SignalFilter. shortHorizon puede ser nil (todos los mercados
// usan el cooldown normal).
func New(cfg Config, shortHorizon func(marketID string) bool, now func() time.Time) *SignalFilter {
	if now == nil {
		now = time.Now
	}
	if shortHorizon == nil {
		shortHorizon = func(string) bool { return false }
	}
	return &SignalFilter{
		dedup:        NewDeduplicator(cfg.Cooldown, cfg.ShortCooldown, now),
		fusion:       NewSignalFusion(cfg.Fusion),
		window:       cfg.Window,
		shortHorizon: shortHorizon,
		now:          now,
	}
}

// Deduplicator expone el deduplicador (cleanup periódico y stats).
func (f *SignalFilter) Deduplicator() *Deduplicator {
	return f.dedup
}

// ShouldTrade aplica los tres filtros.
func (f *SignalFilter) ShouldTrade(c Candidate) Result {
	cooldown := f.dedup.cooldown
	if f.shortHorizon(c.MarketID) {
		cooldown = f.dedup.shortCooldown
	}
	if !f.dedup.canTradeWithin(c.MarketID, cooldown) {
		return Result{Reason: "market recently traded (cooldown)"}
	}
	if !c.Close.IsZero() && !f.window.Contains(c.Close, f.now()) {
		return Result{Reason: "outside trading window"}
	}

	fr := f.fusion.Evaluate(c.Trend, c.Momentum)
	if !fr.ShouldTrade {
		return Result{Reason: fr.Reason, Fusion: &fr}
	}
	// Otro goroutine pudo marcar el mercado entre el check y aquí.
	if !f.dedup.tryMark(c.MarketID, cooldown) {
		return Result{Reason: "market recently traded (cooldown)", Fusion: &fr}
	}
	return Result{ShouldTrade: true, Reason: fr.Reason, Fusion: &fr}
}
