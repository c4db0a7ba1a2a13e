// Package regime clasifica el régimen de mercado (tendencia, rango, volátil,
// crisis) a partir de barras OHLCV y expone parámetros de estrategia por régimen.
package regime

import (
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	atrHistoryLen     = 500
	minHistoryBars    = 200
	rangingADX        = 20.0
	rangingPercentile = 50.0
	crisisVolRatio    = 2.5
)

// Config parametriza el detector.
type Config struct {
	ADXTrendThreshold          float64
	ADXStrongThreshold         float64
	VolatilityHighPercentile   float64
	VolatilityCrisisPercentile float64
	MinBars                    int
	ADXPeriod                  int
	ATRPeriod                  int
	HurstPeriod                int
	SmoothingPeriod            int
	UseHurst                   bool
}

// DefaultConfig devuelve los parámetros por defecto.
func DefaultConfig() Config {
	return Config{
		ADXTrendThreshold:          25,
		ADXStrongThreshold:         40,
		VolatilityHighPercentile:   80,
		VolatilityCrisisPercentile: 95,
		MinBars:                    20,
		ADXPeriod:                  14,
		ATRPeriod:                  14,
		HurstPeriod:                100,
		SmoothingPeriod:            3,
		UseHurst:                   true,
	}
}

// Detection es el resultado de una actualización.
type Detection struct {
	Regime          Regime // suavizado por mayoría
	Raw             Regime // clasificación de esta barra
	Confidence      float64
	ADX             float64
	PlusDI          float64
	MinusDI         float64
	ATR             float64
	ATRPercentile   float64
	Hurst           float64
	HasHurst        bool
	VolatilityRatio float64
	TrendStrength   float64
	Timestamp       time.Time
	Strategy        Strategy
}

// Detector mantiene historial acotado de barras y detecciones.
type Detector struct {
	cfg Config

	mu         sync.Mutex
	bars       []domain.Bar
	atrHistory []float64
	history    []Regime
	last       *Detection
}

// NewDetector crea un Detector vacío.
func NewDetector(cfg Config) *Detector {
	if cfg.SmoothingPeriod <= 0 {
		cfg.SmoothingPeriod = 1
	}
	return &Detector{cfg: cfg}
}

// Update agrega una barra y devuelve la detección, o false si aún no hay
// suficientes barras.
func (d *Detector) Update(bar domain.Bar) (Detection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.bars = append(d.bars, bar)
	maxBars := d.cfg.HurstPeriod
	if maxBars < minHistoryBars {
		maxBars = minHistoryBars
	}
	if len(d.bars) > maxBars {
		d.bars = d.bars[len(d.bars)-maxBars:]
	}
	if len(d.bars) < d.cfg.MinBars {
		return Detection{}, false
	}

	adx, plus, minus := directional(d.bars, d.cfg.ADXPeriod)
	curATR := atr(d.bars, d.cfg.ATRPeriod)
	d.atrHistory = append(d.atrHistory, curATR)
	if len(d.atrHistory) > atrHistoryLen {
		d.atrHistory = d.atrHistory[len(d.atrHistory)-atrHistoryLen:]
	}
	pct := d.atrPercentile(curATR)
	ratio := 1.0
	if avg := mean(d.atrHistory); avg > 0 {
		ratio = curATR / avg
	}

	det := Detection{
		ADX:             adx,
		PlusDI:          plus,
		MinusDI:         minus,
		ATR:             curATR,
		ATRPercentile:   pct,
		VolatilityRatio: ratio,
		Timestamp:       bar.Timestamp,
	}
	if d.cfg.UseHurst && len(d.bars) >= d.cfg.HurstPeriod {
		det.Hurst, det.HasHurst = hurst(d.bars), true
	}
	det.Raw, det.Confidence = d.classify(det)

	d.history = append(d.history, det.Raw)
	if len(d.history) > d.cfg.SmoothingPeriod {
		d.history = d.history[len(d.history)-d.cfg.SmoothingPeriod:]
	}
	det.Regime = majority(d.history)
	det.TrendStrength = trendStrength(adx, plus, minus)
	det.Strategy = StrategyFor(det.Regime)

	d.last = &det
	return det, true
}

func (d *Detector) atrPercentile(cur float64) float64 {
	if len(d.atrHistory) == 0 {
		return 50
	}
	var below int
	for _, a := range d.atrHistory {
		if a < cur {
			below++
		}
	}
	return float64(below) / float64(len(d.atrHistory)) * 100
}

func (d *Detector) classify(det Detection) (Regime, float64) {
	c := d.cfg
	if det.ATRPercentile >= c.VolatilityCrisisPercentile && det.VolatilityRatio > crisisVolRatio {
		return Crisis, math.Min((det.ATRPercentile-90)/10, 1)
	}
	if det.ATRPercentile >= c.VolatilityHighPercentile && det.ADX < c.ADXTrendThreshold {
		return Volatile, math.Min((det.ATRPercentile-70)/30, 1)
	}
	if det.ADX >= c.ADXTrendThreshold {
		conf := 0.0
		if span := c.ADXStrongThreshold - c.ADXTrendThreshold; span > 0 {
			conf = (det.ADX - c.ADXTrendThreshold) / span
		}
		if det.HasHurst && det.Hurst > 0.6 {
			conf += (det.Hurst - 0.5) * 0.5
		}
		conf = math.Min(conf, 1)
		if det.PlusDI > det.MinusDI {
			return BullishTrend, conf
		}
		return BearishTrend, conf
	}
	if det.ADX < rangingADX && det.ATRPercentile < rangingPercentile {
		conf := (rangingADX - det.ADX) / rangingADX
		if det.HasHurst && det.Hurst < 0.4 {
			conf += (0.5 - det.Hurst) * 0.5
		}
		return Ranging, math.Min(conf, 1)
	}
	return Unknown, 0.5
}

// majority devuelve el régimen más frecuente; los empates los gana el más reciente.
func majority(history []Regime) Regime {
	if len(history) == 0 {
		return Unknown
	}
	counts := make(map[Regime]int, len(history))
	for _, r := range history {
		counts[r]++
	}
	best, bestCount := Unknown, 0
	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		if counts[r] > bestCount {
			best, bestCount = r, counts[r]
		}
	}
	return best
}

func trendStrength(adx, plus, minus float64) float64 {
	var directionalStrength float64
	if sum := plus + minus; sum > 0 {
		directionalStrength = math.Abs(plus-minus) / sum * 50
	}
	return math.Min(directionalStrength+adx, 100)
}

// Current devuelve la última detección.
func (d *Detector) Current() (Detection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Detection{}, false
	}
	return *d.last, true
}

// Changed devuelve true si las dos últimas clasificaciones difieren.
func (d *Detector) Changed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.history)
	return n >= 2 && d.history[n-1] != d.history[n-2]
}

// Reset borra todo el estado.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bars, d.atrHistory, d.history, d.last = nil, nil, nil, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
