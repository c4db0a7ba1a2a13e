package ml

import (
	"math"
	"time"
)

// IDs de los sub-modelos técnicos.
const (
	ModelRSI       = "rsi_model"
	ModelMACD      = "macd_model"
	ModelBollinger = "bollinger_model"
	ModelMomentum  = "momentum_model"
)

// ModelPrediction es la salida de un sub-modelo.
type ModelPrediction struct {
	ModelID     string
	Probability float64
	Confidence  float64
	Uncertainty float64 // 0 = no informada
	Timestamp   time.Time
}

// TechnicalModels genera las predicciones de los sub-modelos técnicos.
func TechnicalModels(f Features, now time.Time) []ModelPrediction {
	macdProb := 0.5 + clamp(f.MACD, -1, 1)*0.2

	var bbProb float64
	switch {
	case f.BollingerPosition > 0.8:
		bbProb = 0.4
	case f.BollingerPosition < 0.2:
		bbProb = 0.6
	default:
		bbProb = 0.5
	}

	momConf := math.Min(math.Abs(f.Momentum), 1) * 0.7
	if f.ADX > 25 {
		momConf = math.Min(momConf*1.3, 1)
	}

	return []ModelPrediction{
		{ModelRSI, rsiProbability(f.RSI), rsiConfidence(f.RSI), 0.1, now},
		{ModelMACD, macdProb, math.Min(math.Abs(f.MACD), 1) * 0.8, 0.15, now},
		{ModelBollinger, bbProb, math.Abs(f.BollingerPosition-0.5) * 2, 0.12, now},
		{ModelMomentum, clamp(0.5+f.Momentum*0.1, 0.2, 0.8), momConf, 0.15, now},
	}
}

// rsiProbability aplica reversión a la media sobre el RSI: decreciente y
// continua, con pendiente uniforme en [0.25, 0.75].
func rsiProbability(rsi float64) float64 {
	return clamp(0.5+(50-rsi)/200, 0.25, 0.75)
}

func rsiConfidence(rsi float64) float64 {
	return math.Min(math.Abs(rsi-50)/50, 1) * 0.8
}
