package orderbook

import (
	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Toxicity es la banda de toxicidad del flujo según VPIN.
type Toxicity int

const (
	ToxicityLow Toxicity = iota
	ToxicityMedium
	ToxicityHigh
	ToxicityExtreme
)

func (t Toxicity) String() string {
	switch t {
	case ToxicityMedium:
		return "medium"
	case ToxicityHigh:
		return "high"
	case ToxicityExtreme:
		return "extreme"
	default:
		return "low"
	}
}

// ToxicityFor mapea un VPIN a su banda.
func ToxicityFor(vpin float64) Toxicity {
	switch {
	case vpin < 0.3:
		return ToxicityLow
	case vpin < 0.5:
		return ToxicityMedium
	case vpin < 0.7:
		return ToxicityHigh
	default:
		return ToxicityExtreme
	}
}

// VPINResult es el valor actual de VPIN.
type VPINResult struct {
	Value    float64
	Toxicity Toxicity
	Buckets  int
}

type volumeBucket struct {
	buy  float64
	sell float64
}

// VPIN agrupa el flujo de trades en buckets de volumen quote constante.
// No es seguro para uso concurrente; el Analyzer lo protege.
type VPIN struct {
	bucketSize float64
	maxBuckets int
	current    volumeBucket
	filled     float64
	buckets    []volumeBucket
}

// NewVPIN crea un calculador con buckets de bucketSize unidades quote.
func NewVPIN(bucketSize float64, maxBuckets int) *VPIN {
	if bucketSize <= 0 {
		bucketSize = 1000
	}
	if maxBuckets <= 0 {
		maxBuckets = 50
	}
	return &VPIN{bucketSize: bucketSize, maxBuckets: maxBuckets}
}

// Add acumula un trade. Un trade que desborda el bucket se reparte entre buckets.
func (v *VPIN) Add(t domain.TradeTick) {
	notional := domain.Float(t.Price.Mul(t.Quantity))
	for notional > 0 {
		room := v.bucketSize - v.filled
		take, full := notional, false
		if take >= room {
			take, full = room, true
		}
		if t.Side == domain.Buy {
			v.current.buy += take
		} else {
			v.current.sell += take
		}
		v.filled += take
		notional -= take
		if full {
			v.buckets = append(v.buckets, v.current)
			if len(v.buckets) > v.maxBuckets {
				v.buckets = v.buckets[len(v.buckets)-v.maxBuckets:]
			}
			v.current = volumeBucket{}
			v.filled = 0
		}
	}
}

// Value devuelve Σ|buy-sell| / Σ(buy+sell) sobre los buckets completos.
func (v *VPIN) Value() (VPINResult, bool) {
	if len(v.buckets) == 0 {
		return VPINResult{}, false
	}
	var imbalance, total float64
	for _, b := range v.buckets {
		d := b.buy - b.sell
		if d < 0 {
			d = -d
		}
		imbalance += d
		total += b.buy + b.sell
	}
	if total <= 0 {
		return VPINResult{}, false
	}
	value := imbalance / total
	return VPINResult{Value: value, Toxicity: ToxicityFor(value), Buckets: len(v.buckets)}, true
}
