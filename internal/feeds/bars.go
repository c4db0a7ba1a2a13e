package feeds

import (
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// BarBuilder agrega ticks en velas OHLCV de intervalo fijo alineadas al reloj.
// No es seguro para uso concurrente; el Hub lo protege con su lock.
type BarBuilder struct {
	interval time.Duration
	max      int
	current  *domain.Bar
	bars     []domain.Bar
}

// NewBarBuilder crea un builder que conserva como mucho keep velas cerradas.
func NewBarBuilder(interval time.Duration, keep int) *BarBuilder {
	if keep <= 0 {
		keep = 500
	}
	return &BarBuilder{interval: interval, max: keep}
}

// Add incorpora un tick. Si el tick abre un intervalo nuevo devuelve la vela
// que se acaba de cerrar. Ticks más viejos que la vela abierta se ignoran.
func (b *BarBuilder) Add(ts time.Time, price, qty float64) (domain.Bar, bool) {
	if price <= 0 {
		return domain.Bar{}, false
	}
	start := ts.Truncate(b.interval)
	if b.current == nil {
		b.open(start, price, qty)
		return domain.Bar{}, false
	}
	if start.Before(b.current.Timestamp) {
		return domain.Bar{}, false
	}
	if start.Equal(b.current.Timestamp) {
		c := b.current
		c.High = max(c.High, price)
		c.Low = min(c.Low, price)
		c.Close = price
		c.Volume += qty
		return domain.Bar{}, false
	}

	closed := *b.current
	b.bars = append(b.bars, closed)
	if len(b.bars) > b.max {
		b.bars = b.bars[len(b.bars)-b.max:]
	}
	b.open(start, price, qty)
	return closed, true
}

func (b *BarBuilder) open(start time.Time, price, qty float64) {
	b.current = &domain.Bar{
		Timestamp: start,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    qty,
	}
}

// Bars devuelve una copia de las velas cerradas, de la más vieja a la más nueva.
func (b *BarBuilder) Bars() []domain.Bar {
	out := make([]domain.Bar, len(b.bars))
	copy(out, b.bars)
	return out
}

// Current devuelve la vela en formación.
func (b *BarBuilder) Current() (domain.Bar, bool) {
	if b.current == nil {
		return domain.Bar{}, false
	}
	return *b.current, true
}

// Resample agrupa velas consecutivas de n en n. La última ventana incompleta se descarta.
func Resample(bars []domain.Bar, n int) []domain.Bar {
	if n <= 1 {
		return append([]domain.Bar(nil), bars...)
	}
	out := make([]domain.Bar, 0, len(bars)/n)
	for i := 0; i+n <= len(bars); i += n {
		w := bars[i : i+n]
		agg := domain.Bar{
			Timestamp: w[0].Timestamp,
			Open:      w[0].Open,
			High:      w[0].High,
			Low:       w[0].Low,
			Close:     w[n-1].Close,
		}
		for _, b := range w {
			agg.High = max(agg.High, b.High)
			agg.Low = min(agg.Low, b.Low)
			agg.Volume += b.Volume
		}
		out = append(out, agg)
	}
	return out
}
