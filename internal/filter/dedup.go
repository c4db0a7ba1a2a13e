// Package filter decide si una señal se opera: cooldown por mercado,
// acuerdo entre tendencia y momentum, y ventana temporal antes del cierre.
package filter

import (
	"sync"
	"time"
)

// Deduplicator recuerda cuándo se operó cada mercado por última vez.
type Deduplicator struct {
	cooldown      time.Duration
	shortCooldown time.Duration
	now           func() time.Time

	mu     sync.RWMutex
	traded map[string]time.Time
}

// NewDeduplicator crea un Deduplicator. shortCooldown se usa para mercados de
// horizonte corto (crypto) en CanTradeDynamic.
func NewDeduplicator(cooldown, shortCooldown time.Duration, now func() time.Time) *Deduplicator {
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{
		cooldown:      cooldown,
		shortCooldown: shortCooldown,
		now:           now,
		traded:        make(map[string]time.Time),
	}
}

// CanTrade devuelve true si pasó el cooldown desde el último trade del mercado.
func (d *Deduplicator) CanTrade(marketID string) bool {
	return d.canTradeWithin(marketID, d.cooldown)
}

// CanTradeDynamic usa el cooldown corto cuando shortHorizon es true.
func (d *Deduplicator) CanTradeDynamic(marketID string, shortHorizon bool) bool {
	if shortHorizon {
		return d.canTradeWithin(marketID, d.shortCooldown)
	}
	return d.canTradeWithin(marketID, d.cooldown)
}

func (d *Deduplicator) canTradeWithin(marketID string, cooldown time.Duration) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	last, ok := d.traded[marketID]
	if !ok {
		return true
	}
	return d.now().Sub(last) >= cooldown
}

// MarkTraded registra un trade en el mercado.
func (d *Deduplicator) MarkTraded(marketID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.traded[marketID] = d.now()
}

// tryMark marca el mercado solo si el cooldown ya pasó; check y marca son atómicos.
func (d *Deduplicator) tryMark(marketID string, cooldown time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.traded[marketID]; ok && now.Sub(last) < cooldown {
		return false
	}
	d.traded[marketID] = now
	return true
}

// Cleanup elimina las entradas más viejas que 2×cooldown.
func (d *Deduplicator) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-2 * d.cooldown)
	for id, ts := range d.traded {
		if !ts.After(cutoff) {
			delete(d.traded, id)
		}
	}
}

// TradedCount devuelve cuántos mercados se están recordando.
func (d *Deduplicator) TradedCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.traded)
}
