// Package ml contiene el pipeline de predicción: extracción de features
// técnicas, sub-modelos direccionales, ensemble, fusión multi-factor y
// calibración de probabilidades.
package ml

import (
	"math"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Valores neutros cuando no hay historial suficiente.
const (
	NeutralRSI        = 50.0
	NeutralADX        = 25.0
	NeutralBollinger  = 0.5
	DefaultVolatility = 0.02
)

// FeatureConfig define las ventanas de los indicadores.
type FeatureConfig struct {
	RSIPeriod       int
	MACDFast        int
	MACDSlow        int
	BollingerPeriod int
	BollingerStdDev float64
	ADXPeriod       int
	VolumeWindow    int // barras por mitad en la comparación de volumen
}

// DefaultFeatureConfig devuelve las ventanas estándar.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		BollingerPeriod: 20,
		BollingerStdDev: 2,
		ADXPeriod:       14,
		VolumeWindow:    5,
	}
}

// Features es el vector de indicadores de un instante.
type Features struct {
	RSI               float64
	MACD              float64 // (EMA rápida - EMA lenta) / precio * 100
	BollingerPosition float64 // 0 = banda inferior, 1 = superior
	ADX               float64
	Momentum          float64 // cambio % de la última barra
	VolumeTrend       float64 // cambio % del volumen reciente vs anterior
	Volatility        float64 // desvío de log-returns
	DataCompleteness  float64 // fracción de indicadores con historial completo
}

// NeutralFeatures devuelve el vector por defecto sin datos.
func NeutralFeatures() Features {
	return Features{
		RSI:               NeutralRSI,
		BollingerPosition: NeutralBollinger,
		ADX:               NeutralADX,
		Volatility:        DefaultVolatility,
	}
}

// FeatureExtractor calcula Features a partir de barras OHLCV.
type FeatureExtractor struct {
	cfg FeatureConfig
}

// NewFeatureExtractor crea un extractor.
func NewFeatureExtractor(cfg FeatureConfig) *FeatureExtractor {
	return &FeatureExtractor{cfg: cfg}
}

// Extract calcula las features. price es el precio actual para la posición en
// las bandas; si es 0 se usa el último cierre.
func (e *FeatureExtractor) Extract(bars []domain.Bar, price float64) Features {
	if len(bars) == 0 {
		return NeutralFeatures()
	}
	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	if price == 0 {
		price = closes[len(closes)-1]
	}

	c := e.cfg
	complete := 0
	total := 6
	mark := func(ok bool) {
		if ok {
			complete++
		}
	}

	f := Features{}
	f.RSI = rsi(closes, c.RSIPeriod)
	mark(len(closes) > c.RSIPeriod)
	f.MACD = macd(closes, c.MACDFast, c.MACDSlow)
	mark(len(closes) >= c.MACDSlow)
	f.BollingerPosition = bollingerPosition(closes, price, c.BollingerPeriod, c.BollingerStdDev)
	mark(len(closes) >= c.BollingerPeriod)
	f.ADX = adx(bars, c.ADXPeriod)
	mark(len(bars) > c.ADXPeriod)
	f.Momentum = momentum(closes)
	f.VolumeTrend = volumeTrend(volumes, c.VolumeWindow)
	mark(len(volumes) >= 2*c.VolumeWindow)
	f.Volatility = volatility(closes)
	mark(len(closes) >= 2)
	f.DataCompleteness = float64(complete) / float64(total)
	return f
}

func rsi(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return NeutralRSI
	}
	var gains, losses float64
	for i := len(prices) - period; i < len(prices); i++ {
		ch := prices[i] - prices[i-1]
		if ch > 0 {
			gains += ch
		} else {
			losses -= ch
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		if avgGain == 0 {
			return NeutralRSI
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ema usa la SMA del primer período como semilla.
func ema(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return meanOf(prices)
	}
	k := 2 / (float64(period) + 1)
	v := meanOf(prices[:period])
	for _, p := range prices[period:] {
		v = (p-v)*k + v
	}
	return v
}

func macd(prices []float64, fast, slow int) float64 {
	if len(prices) < slow {
		return 0
	}
	last := prices[len(prices)-1]
	if last == 0 {
		return 0
	}
	return (ema(prices, fast) - ema(prices, slow)) / last * 100
}

func bollingerPosition(prices []float64, price float64, period int, k float64) float64 {
	if len(prices) < period {
		return NeutralBollinger
	}
	recent := prices[len(prices)-period:]
	sma := meanOf(recent)
	std := math.Sqrt(varianceOf(recent, sma))
	upper, lower := sma+k*std, sma-k*std
	if upper == lower {
		return NeutralBollinger
	}
	return clamp((price-lower)/(upper-lower), 0, 1)
}

func adx(bars []domain.Bar, period int) float64 {
	if len(bars) < period+1 {
		return NeutralADX
	}
	var plusDM, minusDM, trSum float64
	for i := len(bars) - period; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]
		up := cur.High - prev.High
		down := prev.Low - cur.Low
		if up > down && up > 0 {
			plusDM += up
		}
		if down > up && down > 0 {
			minusDM += down
		}
		trSum += math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
	}
	if trSum == 0 {
		return NeutralADX
	}
	plus, minus := plusDM/trSum*100, minusDM/trSum*100
	if plus+minus == 0 {
		return NeutralADX
	}
	return math.Abs(plus-minus) / (plus + minus) * 100
}

func momentum(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	cur, prev := prices[len(prices)-1], prices[len(prices)-2]
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}

// volumeTrend compara la media de las últimas n barras con las n anteriores.
func volumeTrend(volumes []float64, n int) float64 {
	if len(volumes) < 2*n {
		return 0
	}
	recent := meanOf(volumes[len(volumes)-n:])
	older := meanOf(volumes[len(volumes)-2*n : len(volumes)-n])
	if older == 0 {
		return 0
	}
	return (recent - older) / older * 100
}

func volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return DefaultVolatility
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && prices[i] > 0 {
			returns = append(returns, math.Log(prices[i]/prices[i-1]))
		}
	}
	if len(returns) == 0 {
		return DefaultVolatility
	}
	return math.Sqrt(varianceOf(returns, meanOf(returns)))
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// varianceOf devuelve la varianza poblacional.
func varianceOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		d := x - mean
		s += d * d
	}
	return s / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
