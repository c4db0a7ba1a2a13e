package portfolio

import (
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Allocate optimiza returns[t][asset] con cfg. Sin historial suficiente o
// con error numérico devuelve equal weight con Fallback = true.
func Allocate(cfg Config, assets []string, returns [][]float64) Result {
	if len(assets) == 0 {
		return Result{}
	}
	opt, err := FromReturns(assets, returns, cfg)
	if err == nil {
		var r Result
		if r, err = opt.Optimize(); err == nil {
			return r
		}
	}
	if errors.Is(err, domain.ErrInsufficientData) {
		slog.Debug("portfolio allocation without history, using equal weight", "assets", len(assets), "periods", len(returns))
	} else {
		slog.Warn("portfolio allocation failed, using equal weight", "assets", len(assets), "err", err)
	}
	w := equalWeights(len(assets))
	return Result{
		Method:            EqualWeight,
		Assets:            assets,
		Weights:           w,
		EffectiveN:        float64(len(assets)),
		RiskContributions: make([]float64, len(assets)),
		MarginalRisk:      make([]float64, len(assets)),
		Fallback:          true,
	}
}

// Budgets reparte total según los pesos del resultado.
func Budgets(total decimal.Decimal, r Result) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(r.Assets))
	for i, a := range r.Assets {
		out[a] = total.Mul(decimal.NewFromFloat(r.Weights[i])).Round(6)
	}
	return out
}
