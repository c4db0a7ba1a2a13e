package portfolio

import "math"

// hrp implementa Hierarchical Risk Parity: clustering single-linkage sobre la
// distancia de correlación, orden cuasi-diagonal según la pertenencia a los
// clusters y bisección recursiva por varianza inversa.
func (o *Optimizer) hrp() []float64 {
	n := len(o.assets)
	if n == 1 {
		return []float64{1}
	}
	order := clusterOrder(distances(Correlation(o.cov)))
	w := ones(n)
	o.bisect(order, w)
	normalize(w)
	return w
}

// distances: d = √((1−ρ)/2).
func distances(corr [][]float64) [][]float64 {
	d := make([][]float64, len(corr))
	for i := range corr {
		d[i] = make([]float64, len(corr))
		for j := range corr[i] {
			d[i][j] = math.Sqrt(max(0, 0.5*(1-corr[i][j])))
		}
	}
	return d
}

// clusterOrder fusiona los dos clusters más cercanos hasta que queda uno y
// devuelve sus miembros en el orden de fusión.
func clusterOrder(dist [][]float64) []int {
	clusters := make([][]int, len(dist))
	for i := range clusters {
		clusters[i] = []int{i}
	}
	// linkage entre clusters vivos (single = mínima distancia entre miembros).
	link := func(a, b []int) float64 {
		best := math.Inf(1)
		for _, i := range a {
			for _, j := range b {
				best = min(best, dist[i][j])
			}
		}
		return best
	}
	for len(clusters) > 1 {
		bi, bj, bd := 0, 1, math.Inf(1)
		for i := range clusters {
			for j := i + 1; j < len(clusters); j++ {
				if d := link(clusters[i], clusters[j]); d < bd {
					bi, bj, bd = i, j, d
				}
			}
		}
		merged := append(append([]int(nil), clusters[bi]...), clusters[bj]...)
		clusters[bi] = merged
		clusters = append(clusters[:bj], clusters[bj+1:]...)
	}
	return clusters[0]
}

func (o *Optimizer) bisect(items []int, w []float64) {
	if len(items) <= 1 {
		return
	}
	half := len(items) / 2
	left, right := items[:half], items[half:]
	lv, rv := o.clusterVariance(left), o.clusterVariance(right)
	alpha := 1 - lv/(lv+rv)
	for _, i := range left {
		w[i] *= alpha
	}
	for _, i := range right {
		w[i] *= 1 - alpha
	}
	o.bisect(left, w)
	o.bisect(right, w)
}

// clusterVariance es la varianza de la cartera inverse-variance del cluster.
func (o *Optimizer) clusterVariance(items []int) float64 {
	iv := make([]float64, len(items))
	for k, i := range items {
		iv[k] = 1
		if v := o.cov[i][i]; v > 0 {
			iv[k] = 1 / v
		}
	}
	normalize(iv)
	var v float64
	for a, i := range items {
		for b, j := range items {
			v += iv[a] * iv[b] * o.cov[i][j]
		}
	}
	return max(v, 1e-10)
}
