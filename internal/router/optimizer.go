package router

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Urgency es el modo de ejecución que elige el optimizador.
type Urgency int

const (
	Patient Urgency = iota
	Normal
	Immediate
)

func (u Urgency) String() string {
	switch u {
	case Patient:
		return "patient"
	case Immediate:
		return "immediate"
	default:
		return "normal"
	}
}

// UrgencyFor mapea una urgencia continua [0,1] a un modo.
func UrgencyFor(u float64) Urgency {
	switch {
	case u >= 0.8:
		return Immediate
	case u <= 0.2:
		return Patient
	default:
		return Normal
	}
}

// OptimizerConfig parametriza el optimizador de precio.
type OptimizerConfig struct {
	MaxCrossBps    float64
	LimitEdgeBps   float64
	Timeout        time.Duration
	ImbalanceRatio float64
	HistorySize    int // fills guardados por mercado
	MinRecords     int // fills necesarios para reajustar la curva
	MinBucket      int
}

// DefaultOptimizerConfig devuelve la configuración por defecto.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		MaxCrossBps:    20,
		LimitEdgeBps:   5,
		Timeout:        30 * time.Second,
		ImbalanceRatio: 1.5,
		HistorySize:    200,
		MinRecords:     50,
		MinBucket:      5,
	}
}

// CurvePoint relaciona la distancia pasiva al mid (bps) con la probabilidad de fill.
// Distancia positiva = más lejos del otro lado del book.
type CurvePoint struct {
	PassiveBps  float64
	Probability float64
}

func defaultCurve() []CurvePoint {
	return []CurvePoint{
		{-20, 0.95}, {-10, 0.85}, {-5, 0.70}, {0, 0.50}, {5, 0.30}, {10, 0.15}, {20, 0.05},
	}
}

// Recommendation es el tipo y precio sugeridos para una orden.
type Recommendation struct {
	Type            domain.OrderType
	Price           decimal.Decimal
	FillProbability float64
	ExpectedCostBps float64 // negativo = se captura spread
	Timeout         time.Duration
	Fallbacks       []decimal.Decimal
	Urgency         Urgency
	Reason          string
}

// FillRecord es una orden pasiva observada.
type FillRecord struct {
	PassiveBps float64
	Filled     bool
	EdgeBps    float64
	Timestamp  time.Time
}

// OptimizerStats resume la actividad del optimizador.
type OptimizerStats struct {
	Orders      int
	Fills       int
	FillRate    float64
	AvgEdgeBps  float64
	CurvePoints int
}

// PriceOptimizer elige tipo y precio a partir del book y la urgencia.
type PriceOptimizer struct {
	cfg OptimizerConfig

	mu      sync.RWMutex
	curve   []CurvePoint
	history map[string][]FillRecord
	orders  int
	fills   int
	edgeSum float64
}

// NewPriceOptimizer crea un optimizador con la curva por defecto.
func NewPriceOptimizer(cfg OptimizerConfig) *PriceOptimizer {
	return &PriceOptimizer{cfg: cfg, curve: defaultCurve(), history: make(map[string][]FillRecord)}
}

// PassiveBps devuelve la distancia pasiva de price respecto del mid para side.
func PassiveBps(side domain.Side, price, mid decimal.Decimal) float64 {
	if !mid.IsPositive() {
		return 0
	}
	d := mid.Sub(price)
	if side == domain.Sell {
		d = d.Neg()
	}
	return domain.Float(domain.Div(d, mid).Mul(domain.BpsFactor))
}

// FillProbability interpola la curva. Por debajo del primer punto 0.99,
// por encima del último 0.01.
func (p *PriceOptimizer) FillProbability(passiveBps float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return interpolate(p.curve, passiveBps)
}

func interpolate(curve []CurvePoint, x float64) float64 {
	if len(curve) == 0 {
		return 0.5
	}
	if x < curve[0].PassiveBps {
		return 0.99
	}
	last := curve[len(curve)-1]
	if x > last.PassiveBps {
		return 0.01
	}
	for i := 1; i < len(curve); i++ {
		a, b := curve[i-1], curve[i]
		if x <= b.PassiveBps {
			if b.PassiveBps == a.PassiveBps {
				return b.Probability
			}
			t := (x - a.PassiveBps) / (b.PassiveBps - a.PassiveBps)
			return a.Probability + t*(b.Probability-a.Probability)
		}
	}
	return last.Probability
}

// Optimize recomienda tipo y precio. modelEdge es la ventaja estimada del
// modelo (fracción); urgency está en [0,1].
func (p *PriceOptimizer) Optimize(book domain.OrderBook, side domain.Side, modelEdge, urgency float64) (Recommendation, error) {
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()
	if !okB || !okA {
		return Recommendation{}, domain.E(domain.KindExecution, "router.Optimize", domain.ErrEmptyBook)
	}
	mid, _ := book.Mid()
	spreadBps, _ := book.SpreadBps()
	mode := UrgencyFor(urgency)
	p.mu.Lock()
	p.orders++
	p.mu.Unlock()

	if spreadBps > 2*p.cfg.MaxCrossBps {
		price := shift(mid, side, -0.0001)
		return Recommendation{
			Type:            domain.LimitOrder(price),
			Price:           price,
			FillProbability: 0.30,
			Timeout:         p.cfg.Timeout,
			Fallbacks:       fallbacks(mid, side, 3),
			Urgency:         mode,
			Reason:          "wide spread: rest at mid",
		}, nil
	}

	switch mode {
	case Immediate:
		if spreadBps <= p.cfg.MaxCrossBps {
			price := ask.Price
			if side == domain.Sell {
				price = bid.Price
			}
			return Recommendation{
				Type:            domain.MarketOrder(),
				Price:           price,
				FillProbability: 0.99,
				ExpectedCostBps: spreadBps / 2,
				Urgency:         mode,
				Reason:          "tight spread: cross",
			}, nil
		}
		price := ask.Price
		if side == domain.Sell {
			price = bid.Price
		}
		return Recommendation{
			Type:            domain.IOCOrder(price),
			Price:           price,
			FillProbability: 0.90,
			ExpectedCostBps: spreadBps / 2,
			Urgency:         mode,
			Reason:          "urgent: ioc at touch",
		}, nil

	case Patient:
		edge := 2 * p.cfg.LimitEdgeBps
		price := shift(mid, side, -edge/1e4)
		return Recommendation{
			Type:            domain.PostOnlyOrder(price),
			Price:           price,
			FillProbability: p.FillProbability(edge * 2),
			ExpectedCostBps: -edge,
			Timeout:         2 * p.cfg.Timeout,
			Fallbacks:       fallbacks(mid, side, 5),
			Urgency:         mode,
			Reason:          "patient: post deep",
		}, nil
	}

	edge := p.cfg.LimitEdgeBps
	if favorable(book, side, p.cfg.ImbalanceRatio) {
		edge *= 1.5
	}
	price := shift(mid, side, -edge/1e4)
	// La cotización mejora el touch, así que se lee el lado agresivo de la curva.
	fill := p.FillProbability(-edge)
	typ := domain.LimitOrder(price)
	if math.Abs(modelEdge) >= 0.05 && fill >= 0.5 {
		typ = domain.PostOnlyOrder(price)
	}
	return Recommendation{
		Type:            typ,
		Price:           price,
		FillProbability: fill,
		ExpectedCostBps: -edge,
		Timeout:         p.cfg.Timeout,
		Fallbacks:       fallbacks(mid, side, 3),
		Urgency:         mode,
		Reason:          "normal: limit inside spread",
	}, nil
}

// shift mueve el precio una fracción del mid hacia el lado agresivo
// (frac > 0) o pasivo (frac < 0).
func shift(mid decimal.Decimal, side domain.Side, frac float64) decimal.Decimal {
	delta := mid.Mul(decimal.NewFromFloat(frac)).Mul(decimal.NewFromFloat(side.Sign()))
	return mid.Add(delta)
}

// fallbacks genera precios escalonados cada vez más agresivos.
func fallbacks(mid decimal.Decimal, side domain.Side, n int) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, shift(mid, side, float64(i)*0.001))
	}
	return out
}

// favorable: para compras, más oferta que demanda en el tope; para ventas al revés.
func favorable(book domain.OrderBook, side domain.Side, ratio float64) bool {
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	if !ask.Quantity.IsPositive() || !bid.Quantity.IsPositive() || ratio <= 0 {
		return false
	}
	r := domain.Float(domain.Div(bid.Quantity, ask.Quantity))
	if side == domain.Buy {
		return r <= 1/ratio
	}
	return r >= ratio
}

// RecordFill registra el resultado de una orden pasiva y reajusta la curva
// cuando hay historial suficiente.
func (p *PriceOptimizer) RecordFill(marketID string, rec FillRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec.Filled {
		p.fills++
		p.edgeSum += rec.EdgeBps
	}
	h := append(p.history[marketID], rec)
	if len(h) > p.cfg.HistorySize {
		h = h[len(h)-p.cfg.HistorySize:]
	}
	p.history[marketID] = h
	p.refit()
}

// refit agrupa todo el historial en buckets de 5 bps. Requiere lock.
func (p *PriceOptimizer) refit() {
	var all []FillRecord
	for _, h := range p.history {
		all = append(all, h...)
	}
	if len(all) < p.cfg.MinRecords {
		return
	}
	type bucket struct{ n, filled int }
	buckets := make(map[int]*bucket)
	for _, r := range all {
		k := int(math.Round(r.PassiveBps/5)) * 5
		b, ok := buckets[k]
		if !ok {
			b = &bucket{}
			buckets[k] = b
		}
		b.n++
		if r.Filled {
			b.filled++
		}
	}
	var curve []CurvePoint
	for k, b := range buckets {
		if b.n < p.cfg.MinBucket {
			continue
		}
		curve = append(curve, CurvePoint{PassiveBps: float64(k), Probability: float64(b.filled) / float64(b.n)})
	}
	if len(curve) < 3 {
		return
	}
	sort.Slice(curve, func(i, j int) bool { return curve[i].PassiveBps < curve[j].PassiveBps })
	p.curve = curve
}

// Curve devuelve una copia de la curva vigente.
func (p *PriceOptimizer) Curve() []CurvePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]CurvePoint(nil), p.curve...)
}

// Stats devuelve los contadores acumulados.
func (p *PriceOptimizer) Stats() OptimizerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := OptimizerStats{Orders: p.orders, Fills: p.fills, CurvePoints: len(p.curve)}
	if p.orders > 0 {
		s.FillRate = float64(p.fills) / float64(p.orders)
	}
	if p.fills > 0 {
		s.AvgEdgeBps = p.edgeSum / float64(p.fills)
	}
	return s
}
