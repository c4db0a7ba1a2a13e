package regime

import (
	"math"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

func trueRange(cur, prev domain.Bar) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// directional calcula ADX (DX simplificado), +DI y -DI sobre los últimos period bars.
func directional(bars []domain.Bar, period int) (adx, plusDI, minusDI float64) {
	if len(bars) < period+1 {
		return 0, 0, 0
	}
	var plusDM, minusDM, trSum float64
	start := len(bars) - period
	for i := start; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]
		trSum += trueRange(cur, prev)
		up := cur.High - prev.High
		down := prev.Low - cur.Low
		if up > down && up > 0 {
			plusDM += up
		}
		if down > up && down > 0 {
			minusDM += down
		}
	}
	if trSum == 0 {
		return 0, 0, 0
	}
	plusDI = plusDM / trSum * 100
	minusDI = minusDM / trSum * 100
	if sum := plusDI + minusDI; sum > 0 {
		adx = math.Abs(plusDI-minusDI) / sum * 100
	}
	return adx, plusDI, minusDI
}

// atr devuelve el Average True Range de los últimos period bars.
func atr(bars []domain.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}
	var sum float64
	for i := len(bars) - period; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1])
	}
	return sum / float64(period)
}

var hurstScales = []int{8, 16, 32, 64}

// hurst estima el exponente de Hurst por análisis R/S. 0.5 si no hay datos suficientes.
func hurst(bars []domain.Bar) float64 {
	if len(bars) < 20 {
		return 0.5
	}
	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		p0, p1 := bars[i-1].Close, bars[i].Close
		if p0 > 0 && p1 > 0 {
			returns = append(returns, (p1-p0)/p0)
		}
	}

	var xs, ys []float64
	for _, scale := range hurstScales {
		blocks := len(returns) / scale
		if blocks == 0 {
			continue
		}
		var rsSum float64
		var rsCount int
		for b := 0; b < blocks; b++ {
			block := returns[b*scale : (b+1)*scale]
			var mean float64
			for _, r := range block {
				mean += r
			}
			mean /= float64(scale)
			var cum, lo, hi, sq float64
			for _, r := range block {
				dev := r - mean
				cum += dev
				lo = math.Min(lo, cum)
				hi = math.Max(hi, cum)
				sq += dev * dev
			}
			if std := math.Sqrt(sq / float64(scale)); std > 0 {
				rsSum += (hi - lo) / std
				rsCount++
			}
		}
		if rsCount == 0 {
			continue
		}
		if avg := rsSum / float64(rsCount); avg > 0 {
			xs = append(xs, math.Log(float64(scale)))
			ys = append(ys, math.Log(avg))
		}
	}
	if len(xs) < 2 {
		return 0.5
	}
	n := float64(len(xs))
	var sx, sy, sxy, sxx float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
		sxy += xs[i] * ys[i]
		sxx += xs[i] * xs[i]
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0.5
	}
	h := (n*sxy - sx*sy) / den
	return math.Max(0, math.Min(1, h))
}
