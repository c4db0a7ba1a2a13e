package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook representa el libro de órdenes de un token.
type OrderBook struct {
	TokenID   string
	Bids      []BookLevel // ordenados mayor a menor precio
	Asks      []BookLevel // ordenados menor a mayor precio
	Timestamp time.Time
}

// BookLevel es un nivel de precio en el orderbook.
type BookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Normalize ordena ambos lados (bids desc, asks asc) y descarta niveles vacíos.
func (ob *OrderBook) Normalize() {
	ob.Bids = cleanLevels(ob.Bids, false)
	ob.Asks = cleanLevels(ob.Asks, true)
}

func cleanLevels(levels []BookLevel, ascending bool) []BookLevel {
	out := levels[:0]
	for _, l := range levels {
		if l.Price.IsPositive() && l.Quantity.IsPositive() {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].Price.GreaterThan(out[j].Price)
	})
	return out
}

// IsEmpty devuelve true si no hay niveles en ninguno de los lados.
func (ob OrderBook) IsEmpty() bool {
	return len(ob.Bids) == 0 && len(ob.Asks) == 0
}

// BestBid devuelve el mejor nivel de compra.
func (ob OrderBook) BestBid() (BookLevel, bool) {
	if len(ob.Bids) == 0 {
		return BookLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk devuelve el mejor nivel de venta.
func (ob OrderBook) BestAsk() (BookLevel, bool) {
	if len(ob.Asks) == 0 {
		return BookLevel{}, false
	}
	return ob.Asks[0], true
}

// Mid devuelve (bid+ask)/2. Requiere ambos lados.
func (ob OrderBook) Mid() (decimal.Decimal, bool) {
	bid, okB := ob.BestBid()
	ask, okA := ob.BestAsk()
	if !okB || !okA {
		return Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Spread devuelve ask - bid.
func (ob OrderBook) Spread() (decimal.Decimal, bool) {
	bid, okB := ob.BestBid()
	ask, okA := ob.BestAsk()
	if !okB || !okA {
		return Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// SpreadBps devuelve (ask-bid)/mid · 10000.
func (ob OrderBook) SpreadBps() (float64, bool) {
	spread, ok := ob.Spread()
	if !ok {
		return 0, false
	}
	mid, _ := ob.Mid()
	if mid.IsZero() {
		return 0, false
	}
	return Float(Div(spread, mid).Mul(BpsFactor)), true
}

// Validate comprueba que el book no esté cruzado.
func (ob OrderBook) Validate() error {
	bid, okB := ob.BestBid()
	ask, okA := ob.BestAsk()
	if okB && okA && !bid.Price.LessThan(ask.Price) {
		return fmt.Errorf("orderbook %s crossed: bid %s >= ask %s: %w", ob.TokenID, bid.Price, ask.Price, ErrCrossedBook)
	}
	return nil
}

// TopBids devuelve como máximo n niveles de bids.
func (ob OrderBook) TopBids(n int) []BookLevel {
	if n <= 0 || n > len(ob.Bids) {
		return ob.Bids
	}
	return ob.Bids[:n]
}

// TopAsks devuelve como máximo n niveles de asks.
func (ob OrderBook) TopAsks(n int) []BookLevel {
	if n <= 0 || n > len(ob.Asks) {
		return ob.Asks
	}
	return ob.Asks[:n]
}

// SideLevels devuelve los niveles contra los que ejecuta una orden del lado dado:
// una compra consume asks y una venta consume bids.
func (ob OrderBook) SideLevels(side Side) []BookLevel {
	if side == Buy {
		return ob.Asks
	}
	return ob.Bids
}

// Depth suma las cantidades de los niveles dados.
func Depth(levels []BookLevel) decimal.Decimal {
	total := Zero
	for _, l := range levels {
		total = total.Add(l.Quantity)
	}
	return total
}

// DepthWithinUSDC calcula el valor (size × price) de las órdenes
// dentro de una distancia dada respecto al midpoint.
func (ob OrderBook) DepthWithinUSDC(maxDistance decimal.Decimal) decimal.Decimal {
	mid, ok := ob.Mid()
	if !ok {
		return Zero
	}
	total := Zero
	for _, b := range ob.Bids {
		if mid.Sub(b.Price).LessThanOrEqual(maxDistance) {
			total = total.Add(b.Quantity.Mul(b.Price))
		}
	}
	for _, a := range ob.Asks {
		if a.Price.Sub(mid).LessThanOrEqual(maxDistance) {
			total = total.Add(a.Quantity.Mul(a.Price))
		}
	}
	return total
}
