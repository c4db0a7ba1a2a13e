package orderbook

import (
	"math"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Direction es la dirección de precio que predice el desequilibrio del book.
type Direction int

const (
	Neutral Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "neutral"
	}
}

// Imbalance agrupa las tres medidas de desequilibrio bid/ask sobre los top L niveles.
type Imbalance struct {
	Simple        float64
	Weighted      float64
	DepthWeighted float64
	Average       float64
	Direction     Direction
	Confidence    float64
	SpreadBps     float64
}

// ComputeImbalance calcula el desequilibrio del book. Todas las medidas están en [-1, 1].
// Devuelve false si falta alguno de los dos lados.
func ComputeImbalance(ob domain.OrderBook, levels int, decay, threshold float64) (Imbalance, bool) {
	mid, ok := ob.Mid()
	if !ok {
		return Imbalance{}, false
	}
	midF := domain.Float(mid)
	bids := ob.TopBids(levels)
	asks := ob.TopAsks(levels)

	var sb, sa, wb, wa, db, da float64
	for i, l := range bids {
		p, q := domain.Float(l.Price), domain.Float(l.Quantity)
		sb += q
		wb += q / (1 + math.Abs(p-midF))
		db += q * math.Pow(decay, float64(i))
	}
	for i, l := range asks {
		p, q := domain.Float(l.Price), domain.Float(l.Quantity)
		sa += q
		wa += q / (1 + math.Abs(p-midF))
		da += q * math.Pow(decay, float64(i))
	}

	imb := Imbalance{
		Simple:        ratio(sb, sa),
		Weighted:      ratio(wb, wa),
		DepthWeighted: ratio(db, da),
	}
	imb.Average = (imb.Simple + imb.Weighted + imb.DepthWeighted) / 3
	switch {
	case imb.Average > threshold:
		imb.Direction = Up
	case imb.Average < -threshold:
		imb.Direction = Down
	}
	imb.Confidence = math.Min(math.Abs(imb.Average), 1)
	imb.SpreadBps, _ = ob.SpreadBps()
	return imb, true
}

// ratio devuelve (b-a)/(b+a) o 0 si no hay volumen.
func ratio(b, a float64) float64 {
	if b+a <= 0 {
		return 0
	}
	return (b - a) / (b + a)
}
