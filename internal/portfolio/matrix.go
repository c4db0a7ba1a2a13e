package portfolio

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Invert invierte una matriz cuadrada por Gauss-Jordan con pivoteo parcial.
// Devuelve domain.ErrSingularMatrix si algún pivote queda por debajo de tol.
func Invert(m [][]float64, tol float64) ([][]float64, error) {
	n := len(m)
	aug := make([][]float64, n)
	for i := range m {
		if len(m[i]) != n {
			return nil, fmt.Errorf("portfolio.Invert: row %d has %d columns, want %d: %w", i, len(m[i]), n, domain.ErrInvalidInput)
		}
		aug[i] = make([]float64, 2*n)
		copy(aug[i], m[i])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(aug[row][col]) > math.Abs(aug[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(aug[pivot][col]) < tol {
			return nil, domain.E(domain.KindNumeric, "portfolio.Invert", domain.ErrSingularMatrix)
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		p := aug[col][col]
		for j := range aug[col] {
			aug[col][j] /= p
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			f := aug[row][col]
			if f == 0 {
				continue
			}
			for j := range aug[row] {
				aug[row][j] -= f * aug[col][j]
			}
		}
	}

	inv := make([][]float64, n)
	for i := range aug {
		inv[i] = aug[i][n:]
	}
	return inv, nil
}

func matVec(m [][]float64, v []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		for j, x := range row {
			out[i] += x * v[j]
		}
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// variance devuelve wᵀΣw, nunca negativa.
func variance(w []float64, cov [][]float64) float64 {
	return max(0, dot(w, matVec(cov, w)))
}

// normalize escala v para que sume 1. false si la suma no es positiva.
func normalize(v []float64) bool {
	s := sum(v)
	if s <= 0 {
		return false
	}
	for i := range v {
		v[i] /= s
	}
	return true
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// Covariance calcula medias y covarianza muestral (n-1) de returns[t][asset].
func Covariance(returns [][]float64) (mean []float64, cov [][]float64) {
	if len(returns) == 0 {
		return nil, nil
	}
	n := len(returns[0])
	mean = make([]float64, n)
	for _, row := range returns {
		for j, r := range row {
			mean[j] += r
		}
	}
	for j := range mean {
		mean[j] /= float64(len(returns))
	}
	cov = make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for _, row := range returns {
		for i := 0; i < n; i++ {
			di := row[i] - mean[i]
			for j := 0; j < n; j++ {
				cov[i][j] += di * (row[j] - mean[j])
			}
		}
	}
	if len(returns) > 1 {
		div := float64(len(returns) - 1)
		for i := range cov {
			for j := range cov[i] {
				cov[i][j] /= div
			}
		}
	}
	return mean, cov
}

// Correlation deriva la matriz de correlación de una covarianza.
func Correlation(cov [][]float64) [][]float64 {
	n := len(cov)
	corr := make([][]float64, n)
	for i := range corr {
		corr[i] = make([]float64, n)
		for j := range corr[i] {
			si, sj := math.Sqrt(max(0, cov[i][i])), math.Sqrt(max(0, cov[j][j]))
			switch {
			case si > 0 && sj > 0:
				corr[i][j] = cov[i][j] / (si * sj)
			case i == j:
				corr[i][j] = 1
			}
		}
	}
	return corr
}
