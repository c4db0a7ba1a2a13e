package portfolio

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// RiskBudgeter busca pesos cuyas contribuciones al riesgo igualen un presupuesto.
type RiskBudgeter struct {
	cov     [][]float64
	budgets []float64
	maxIter int
	tol     float64
}

// NewRiskBudgeter valida que los presupuestos sean no negativos y sumen 1 (±1e-4).
func NewRiskBudgeter(cov [][]float64, budgets []float64) (*RiskBudgeter, error) {
	if len(budgets) != len(cov) {
		return nil, fmt.Errorf("portfolio.NewRiskBudgeter: %d budgets for %d assets: %w", len(budgets), len(cov), domain.ErrInvalidInput)
	}
	var total float64
	for _, b := range budgets {
		if b < 0 {
			return nil, fmt.Errorf("portfolio.NewRiskBudgeter: negative budget %.4f: %w", b, domain.ErrInvalidInput)
		}
		total += b
	}
	if math.Abs(total-1) > 1e-4 {
		return nil, fmt.Errorf("portfolio.NewRiskBudgeter: budgets sum to %.6f: %w", total, domain.ErrInvalidInput)
	}
	return &RiskBudgeter{cov: cov, budgets: budgets, maxIter: 1000, tol: 1e-8}, nil
}

// Optimize parte de pesos iguales y corrige cada peso por √(objetivo/actual).
func (rb *RiskBudgeter) Optimize() []float64 {
	n := len(rb.budgets)
	w := equalWeights(n)
	for iter := 0; iter < rb.maxIter; iter++ {
		vol := math.Sqrt(variance(w, rb.cov))
		if vol < rb.tol {
			break
		}
		rc := riskContributions(w, rb.cov)
		var maxErr float64
		for i := range rc {
			maxErr = max(maxErr, math.Abs(rc[i]-rb.budgets[i]*vol))
		}
		if maxErr < rb.tol*vol {
			break
		}
		for i := range w {
			if rc[i] > 0 {
				w[i] *= math.Sqrt(rb.budgets[i] * vol / rc[i])
			}
		}
		if !normalize(w) {
			return equalWeights(n)
		}
	}
	return w
}

// RiskShares devuelve la fracción del riesgo total que aporta cada activo.
func RiskShares(w []float64, cov [][]float64) []float64 {
	rc := riskContributions(w, cov)
	if !normalize(rc) {
		return make([]float64, len(w))
	}
	return rc
}
