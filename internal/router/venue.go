// Package router implementa el smart order router (scoring de venues,
// algoritmos de reparto) y el optimizador de precio/tipo de orden.
package router

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/orderbook"
)

// VenueStatus es el estado operativo de un venue.
type VenueStatus int

const (
	VenueActive VenueStatus = iota
	VenueDegraded
	VenueUnavailable
)

func (s VenueStatus) String() string {
	switch s {
	case VenueDegraded:
		return "degraded"
	case VenueUnavailable:
		return "unavailable"
	default:
		return "active"
	}
}

// Venue describe un lugar de ejecución.
type Venue struct {
	ID       string
	Name     string
	Status   VenueStatus
	MakerFee decimal.Decimal
	TakerFee decimal.Decimal
	MinSize  decimal.Decimal
	MaxSize  decimal.Decimal // cero = sin límite
	Latency  time.Duration
	Symbols  []string // vacío = todos
	Priority int
}

// NewVenue crea un venue activo con fees de 10 bps y latencia de 50 ms.
func NewVenue(id string, symbols ...string) Venue {
	return Venue{
		ID:       id,
		Name:     id,
		Status:   VenueActive,
		MakerFee: domain.MustDec("0.001"),
		TakerFee: domain.MustDec("0.001"),
		MinSize:  domain.MustDec("0.0001"),
		Latency:  50 * time.Millisecond,
		Symbols:  symbols,
		Priority: 100,
	}
}

// Supports indica si el venue lista el símbolo.
func (v Venue) Supports(symbol string) bool {
	if len(v.Symbols) == 0 {
		return true
	}
	for _, s := range v.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Available devuelve true para venues activos o degradados.
func (v Venue) Available() bool {
	return v.Status == VenueActive || v.Status == VenueDegraded
}

// Fee devuelve la comisión maker o taker.
func (v Venue) Fee(maker bool) decimal.Decimal {
	if maker {
		return v.MakerFee
	}
	return v.TakerFee
}

// Liquidity es el snapshot de book de un venue para un símbolo.
type Liquidity struct {
	VenueID string
	Symbol  string
	Book    domain.OrderBook
}

// Available suma la cantidad del lado opuesto a side a precio igual o mejor
// que limit. limit cero = sin límite.
func (l Liquidity) Available(side domain.Side, limit decimal.Decimal) decimal.Decimal {
	total := domain.Zero
	for _, lv := range l.Book.SideLevels(side) {
		if !limit.IsZero() {
			if side == domain.Buy && lv.Price.GreaterThan(limit) {
				continue
			}
			if side == domain.Sell && lv.Price.LessThan(limit) {
				continue
			}
		}
		total = total.Add(lv.Quantity)
	}
	return total
}

// AvgPrice estima el precio medio de ejecutar qty. false si no hay profundidad.
func (l Liquidity) AvgPrice(side domain.Side, qty decimal.Decimal) (decimal.Decimal, bool) {
	return orderbook.AvgFillPrice(l.Book.SideLevels(side), qty)
}

// ImpactBps estima el costo contra el mid en bps (positivo = peor).
func (l Liquidity) ImpactBps(side domain.Side, qty decimal.Decimal) (float64, bool) {
	mid, ok := l.Book.Mid()
	if !ok {
		return 0, false
	}
	avg, ok := l.AvgPrice(side, qty)
	if !ok {
		return 0, false
	}
	diff := avg.Sub(mid)
	if side == domain.Sell {
		diff = diff.Neg()
	}
	return domain.Float(domain.Div(diff, mid).Mul(domain.BpsFactor)), true
}

// Feedback es el resultado de ejecutar un child order.
type Feedback struct {
	ChildID        string
	VenueID        string
	RequestedQty   decimal.Decimal
	FilledQty      decimal.Decimal
	RequestedPrice decimal.Decimal
	ActualPrice    decimal.Decimal
	SlippageBps    float64
	Latency        time.Duration
	Success        bool
	Err            string
}

// VenueMetrics acumula el desempeño de un venue. Reliability decae
// exponencialmente hacia la tasa de éxito reciente.
type VenueMetrics struct {
	TotalOrders     int
	SuccessfulFills int
	PartialFills    int
	FailedOrders    int
	AvgSlippageBps  float64
	AvgLatencyMs    float64
	Reliability     float64
	LastUpdated     time.Time
}

func newVenueMetrics() VenueMetrics {
	return VenueMetrics{Reliability: 1}
}

var fullFillRatio = domain.MustDec("0.99")

func (m *VenueMetrics) update(fb Feedback, now time.Time) {
	m.TotalOrders++
	switch {
	case !fb.Success:
		m.FailedOrders++
	case fb.FilledQty.GreaterThanOrEqual(fb.RequestedQty.Mul(fullFillRatio)):
		m.SuccessfulFills++
	case fb.FilledQty.IsPositive():
		m.PartialFills++
	}

	n := float64(m.TotalOrders)
	m.AvgSlippageBps = m.AvgSlippageBps*(n-1)/n + fb.SlippageBps/n
	m.AvgLatencyMs = m.AvgLatencyMs*(n-1)/n + float64(fb.Latency.Milliseconds())/n

	ok := 0.0
	if fb.Success {
		ok = 1
	}
	m.Reliability = m.Reliability*0.95 + ok*0.05
	m.LastUpdated = now
}

// FillRate devuelve la fracción de órdenes con algún fill (1 sin historial).
func (m VenueMetrics) FillRate() float64 {
	if m.TotalOrders == 0 {
		return 1
	}
	return float64(m.SuccessfulFills+m.PartialFills) / float64(m.TotalOrders)
}
