package orderbook

import (
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// PriceImpact recorre un lado del book llenando size y devuelve
// (avg_fill - precio_inicial)/precio_inicial · 10000. Positivo para compras,
// negativo para ventas. Devuelve false si la profundidad no alcanza.
func PriceImpact(ob domain.OrderBook, side domain.Side, size decimal.Decimal) (float64, bool) {
	avg, ok := AvgFillPrice(ob.SideLevels(side), size)
	if !ok {
		return 0, false
	}
	initial := ob.SideLevels(side)[0].Price
	return domain.Float(domain.Div(avg.Sub(initial), initial).Mul(domain.BpsFactor)), true
}

// AvgFillPrice devuelve el precio medio de llenar size contra levels.
func AvgFillPrice(levels []domain.BookLevel, size decimal.Decimal) (decimal.Decimal, bool) {
	if len(levels) == 0 || !size.IsPositive() {
		return domain.Zero, false
	}
	remaining := size
	cost := domain.Zero
	for _, l := range levels {
		fill := decimal.Min(remaining, l.Quantity)
		cost = cost.Add(fill.Mul(l.Price))
		remaining = remaining.Sub(fill)
		if remaining.IsZero() {
			break
		}
	}
	if remaining.IsPositive() {
		return domain.Zero, false
	}
	return domain.Div(cost, size), true
}
