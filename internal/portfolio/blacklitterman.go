package portfolio

import (
	"fmt"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// View es una opinión sobre una combinación lineal de activos.
type View struct {
	Weights    []float64 // fila de P
	Return     float64   // Q
	Confidence float64   // (0, 1]
}

// BlackLitterman combina los retornos de equilibrio con views del usuario.
type BlackLitterman struct {
	cov         [][]float64
	equilibrium []float64
	tau         float64
	tol         float64
}

// NewBlackLitterman calcula Π = δ·Σ·w_mkt.
func NewBlackLitterman(marketWeights []float64, cov [][]float64, riskAversion, tau, tol float64) (*BlackLitterman, error) {
	if len(cov) != len(marketWeights) {
		return nil, fmt.Errorf("portfolio.NewBlackLitterman: %d weights for %dx%d covariance: %w",
			len(marketWeights), len(cov), len(cov), domain.ErrInvalidInput)
	}
	pi := matVec(cov, marketWeights)
	for i := range pi {
		pi[i] *= riskAversion
	}
	if tol <= 0 {
		tol = 1e-10
	}
	return &BlackLitterman{cov: cov, equilibrium: pi, tau: tau, tol: tol}, nil
}

// Equilibrium devuelve Π.
func (bl *BlackLitterman) Equilibrium() []float64 {
	return append([]float64(nil), bl.equilibrium...)
}

// Posterior devuelve E[R] = Π + τΣPᵀ(PτΣPᵀ + Ω)⁻¹(Q − PΠ) con
// Ω_ii = (1/max(c, 0.01) − 1)·P_i τΣ P_iᵀ.
func (bl *BlackLitterman) Posterior(views []View) ([]float64, error) {
	n, k := len(bl.equilibrium), len(views)
	if k == 0 {
		return bl.Equilibrium(), nil
	}
	for _, v := range views {
		if len(v.Weights) != n {
			return nil, fmt.Errorf("portfolio.Posterior: view has %d weights, want %d: %w", len(v.Weights), n, domain.ErrInvalidInput)
		}
	}

	// τΣPᵀ (n×k)
	tsp := make([][]float64, n)
	for i := range tsp {
		tsp[i] = make([]float64, k)
		for j, v := range views {
			for a := 0; a < n; a++ {
				tsp[i][j] += bl.tau * bl.cov[i][a] * v.Weights[a]
			}
		}
	}

	m := make([][]float64, k)
	for i, vi := range views {
		m[i] = make([]float64, k)
		for j := range views {
			for a := 0; a < n; a++ {
				m[i][j] += vi.Weights[a] * tsp[a][j]
			}
		}
		c := max(vi.Confidence, 0.01)
		m[i][i] += (1/c - 1) * m[i][i]
	}
	inv, err := Invert(m, bl.tol)
	if err != nil {
		return nil, fmt.Errorf("portfolio.Posterior: %w", err)
	}

	diff := make([]float64, k)
	for i, v := range views {
		diff[i] = v.Return - dot(v.Weights, bl.equilibrium)
	}
	adj := matVec(inv, diff)

	post := bl.Equilibrium()
	for i := range post {
		post[i] += dot(tsp[i], adj)
	}
	return post, nil
}
