// Package portfolio reparte capital entre activos: mínima varianza, máximo
// Sharpe, risk parity, HRP, máxima diversificación y objetivos de
// retorno/volatilidad, más Black-Litterman y presupuestos de riesgo.
package portfolio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Method es el criterio de optimización.
type Method int

const (
	EqualWeight Method = iota
	MinVariance
	MaxSharpe
	RiskParity
	HRP
	MaxDiversification
	TargetReturn
	TargetVolatility
)

var methodNames = map[Method]string{
	EqualWeight:        "equal_weight",
	MinVariance:        "min_variance",
	MaxSharpe:          "max_sharpe",
	RiskParity:         "risk_parity",
	HRP:                "hrp",
	MaxDiversification: "max_diversification",
	TargetReturn:       "target_return",
	TargetVolatility:   "target_volatility",
}

func (m Method) String() string { return methodNames[m] }

// ParseMethod convierte el nombre de configuración.
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range methodNames {
		if name == s {
			return m, nil
		}
	}
	return MinVariance, fmt.Errorf("portfolio.ParseMethod: %q: %w", s, domain.ErrInvalidInput)
}

// MinPeriods es la cantidad mínima de observaciones para FromReturns.
const MinPeriods = 10

// Constraints restringe los pesos resultantes.
type Constraints struct {
	MinWeight      float64
	MaxWeight      float64 // 0 = 1
	LongOnly       bool
	MaxAssets      int                // 0 = sin límite
	Sectors        map[string]string  // activo -> sector
	SectorLimits   map[string]float64 // sector -> peso máximo
	MaxTurnover    float64            // 0 = sin límite
	CurrentWeights []float64
}

// DefaultConstraints: long-only sin topes.
func DefaultConstraints() Constraints {
	return Constraints{MaxWeight: 1, LongOnly: true}
}

// Config parametriza el optimizador.
type Config struct {
	Method           Method
	RiskFreeRate     float64
	TargetReturn     float64
	TargetVolatility float64
	Tolerance        float64 // pivote mínimo de la inversión
	MaxIterations    int
	ConvergenceTol   float64
	Constraints      Constraints
}

// DefaultConfig devuelve mínima varianza con tolerancia 1e-10.
func DefaultConfig() Config {
	return Config{
		Method:         MinVariance,
		Tolerance:      1e-10,
		MaxIterations:  1000,
		ConvergenceTol: 1e-8,
		Constraints:    DefaultConstraints(),
	}
}

// Result es una cartera optimizada. Los slices siguen el orden de Assets.
type Result struct {
	Method               Method
	Assets               []string
	Weights              []float64
	ExpectedReturn       float64
	Volatility           float64
	Sharpe               float64
	DiversificationRatio float64
	EffectiveN           float64
	RiskContributions    []float64
	MarginalRisk         []float64
	Fallback             bool // true si se usó equal weight por matriz singular
}

// Weight devuelve el peso de un activo.
func (r Result) Weight(asset string) float64 {
	for i, a := range r.Assets {
		if a == asset {
			return r.Weights[i]
		}
	}
	return 0
}

// Optimizer guarda retornos esperados y covarianza de un universo de activos.
type Optimizer struct {
	cfg    Config
	assets []string
	mu     []float64
	cov    [][]float64
	vols   []float64
}

// FromReturns estima μ y Σ a partir de returns[t][asset].
func FromReturns(assets []string, returns [][]float64, cfg Config) (*Optimizer, error) {
	if len(returns) < MinPeriods {
		return nil, fmt.Errorf("portfolio.FromReturns: %d periods, need %d: %w", len(returns), MinPeriods, domain.ErrInsufficientData)
	}
	for t, row := range returns {
		if len(row) != len(assets) {
			return nil, fmt.Errorf("portfolio.FromReturns: period %d has %d assets, want %d: %w", t, len(row), len(assets), domain.ErrInvalidInput)
		}
	}
	mu, cov := Covariance(returns)
	return FromStatistics(assets, mu, cov, cfg)
}

// FromStatistics usa μ y Σ ya calculados.
func FromStatistics(assets []string, mu []float64, cov [][]float64, cfg Config) (*Optimizer, error) {
	n := len(assets)
	if n == 0 {
		return nil, fmt.Errorf("portfolio.FromStatistics: no assets: %w", domain.ErrInvalidInput)
	}
	if len(mu) != n || len(cov) != n {
		return nil, fmt.Errorf("portfolio.FromStatistics: dimension mismatch: %w", domain.ErrInvalidInput)
	}
	for _, row := range cov {
		if len(row) != n {
			return nil, fmt.Errorf("portfolio.FromStatistics: covariance is not square: %w", domain.ErrInvalidInput)
		}
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-10
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 1000
	}
	if cfg.ConvergenceTol <= 0 {
		cfg.ConvergenceTol = 1e-8
	}
	if cfg.Constraints.MaxWeight <= 0 {
		cfg.Constraints.MaxWeight = 1
	}
	vols := make([]float64, n)
	for i := range vols {
		vols[i] = math.Sqrt(max(0, cov[i][i]))
	}
	return &Optimizer{cfg: cfg, assets: assets, mu: mu, cov: cov, vols: vols}, nil
}

// Covariance devuelve la matriz de covarianza usada.
func (o *Optimizer) Covariance() [][]float64 { return o.cov }

// Optimize corre el método configurado. Si la covarianza es singular cae a
// equal weight y lo registra en el log.
func (o *Optimizer) Optimize() (Result, error) {
	w, err := o.weights(o.cfg.Method)
	fallback := false
	if errors.Is(err, domain.ErrSingularMatrix) {
		slog.Warn("singular covariance, falling back to equal weight",
			"method", o.cfg.Method.String(), "assets", len(o.assets))
		w, err, fallback = equalWeights(len(o.assets)), nil, true
	}
	if err != nil {
		return Result{}, err
	}
	w = o.applyConstraints(w)
	r := o.result(w)
	r.Fallback = fallback
	return r, nil
}

func (o *Optimizer) weights(m Method) ([]float64, error) {
	switch m {
	case EqualWeight:
		return equalWeights(len(o.assets)), nil
	case MinVariance:
		return o.minVariance()
	case MaxSharpe:
		return o.maxSharpe()
	case RiskParity:
		return o.riskParity(), nil
	case HRP:
		return o.hrp(), nil
	case MaxDiversification:
		return o.maxDiversification(), nil
	case TargetReturn:
		return o.targetReturn(o.cfg.TargetReturn)
	case TargetVolatility:
		return o.targetVolatility(o.cfg.TargetVolatility)
	}
	return nil, fmt.Errorf("portfolio.Optimize: unknown method %d: %w", m, domain.ErrInvalidInput)
}

// minVariance: w = Σ⁻¹1 / 1ᵀΣ⁻¹1.
func (o *Optimizer) minVariance() ([]float64, error) {
	inv, err := Invert(o.cov, o.cfg.Tolerance)
	if err != nil {
		return nil, err
	}
	w := matVec(inv, ones(len(o.assets)))
	den := sum(w)
	if math.Abs(den) < o.cfg.Tolerance {
		return nil, domain.E(domain.KindNumeric, "portfolio.minVariance", domain.ErrSingularMatrix)
	}
	for i := range w {
		w[i] /= den
	}
	return w, nil
}

// maxSharpe: w ∝ Σ⁻¹(μ − rf). Si el denominador se anula cae a mínima varianza.
func (o *Optimizer) maxSharpe() ([]float64, error) {
	inv, err := Invert(o.cov, o.cfg.Tolerance)
	if err != nil {
		return nil, err
	}
	excess := make([]float64, len(o.mu))
	for i, m := range o.mu {
		excess[i] = m - o.cfg.RiskFreeRate
	}
	w := matVec(inv, excess)
	den := sum(w)
	if math.Abs(den) < o.cfg.Tolerance {
		return o.minVariance()
	}
	for i := range w {
		w[i] /= den
	}
	return w, nil
}

// riskParity parte de inverse-vol y ajusta hasta igualar las contribuciones.
func (o *Optimizer) riskParity() []float64 {
	n := len(o.assets)
	w := make([]float64, n)
	for i, v := range o.vols {
		w[i] = 1
		if v > 0 {
			w[i] = 1 / v
		}
	}
	normalize(w)

	for iter := 0; iter < o.cfg.MaxIterations; iter++ {
		rc := riskContributions(w, o.cov)
		vol := math.Sqrt(variance(w, o.cov))
		target := vol / float64(n)
		var maxDiff float64
		for _, r := range rc {
			maxDiff = max(maxDiff, math.Abs(r-target))
		}
		if maxDiff < o.cfg.ConvergenceTol*100 {
			break
		}
		for i := range w {
			w[i] *= math.Sqrt(target / (rc[i] + o.cfg.ConvergenceTol))
		}
		normalize(w)
	}
	return w
}

// maxDiversification maximiza wᵀσ/√(wᵀΣw) por ascenso de gradiente proyectado.
func (o *Optimizer) maxDiversification() []float64 {
	const step = 0.001
	n := len(o.assets)
	w := make([]float64, n)
	for i, v := range o.vols {
		w[i] = 1
		if v > 0 {
			w[i] = 1 / v
		}
	}
	normalize(w)

	for iter := 0; iter < o.cfg.MaxIterations; iter++ {
		vol := math.Sqrt(variance(w, o.cov))
		if vol < o.cfg.Tolerance {
			break
		}
		wv := dot(w, o.vols)
		sw := matVec(o.cov, w)
		for i := range w {
			grad := o.vols[i]/vol - wv*(sw[i]/vol)/(vol*vol)
			w[i] = max(0, w[i]+step*grad)
		}
		if !normalize(w) {
			return equalWeights(n)
		}
	}
	return w
}

// frontier devuelve Σ⁻¹1, Σ⁻¹μ y las constantes A, B, C, D de la frontera eficiente.
func (o *Optimizer) frontier() (s1, smu []float64, a, b, c, d float64, err error) {
	inv, err := Invert(o.cov, o.cfg.Tolerance)
	if err != nil {
		return nil, nil, 0, 0, 0, 0, err
	}
	s1 = matVec(inv, ones(len(o.assets)))
	smu = matVec(inv, o.mu)
	a, b, c = sum(s1), sum(smu), dot(o.mu, smu)
	d = a*c - b*b
	if math.Abs(d) < o.cfg.Tolerance {
		return nil, nil, 0, 0, 0, 0, domain.E(domain.KindNumeric, "portfolio.frontier", domain.ErrSingularMatrix)
	}
	return s1, smu, a, b, c, d, nil
}

// targetReturn minimiza la varianza sujeto a wᵀμ = target y Σw = 1.
func (o *Optimizer) targetReturn(target float64) ([]float64, error) {
	s1, smu, a, b, c, d, err := o.frontier()
	if err != nil {
		return nil, err
	}
	w := make([]float64, len(s1))
	for i := range w {
		g := (s1[i]*c - smu[i]*b) / d
		h := (smu[i]*a - s1[i]*b) / d
		w[i] = g + h*target
	}
	return w, nil
}

// targetVolatility busca sobre la frontera el mayor retorno con volatilidad
// <= target. Si target está por debajo del mínimo devuelve mínima varianza.
func (o *Optimizer) targetVolatility(target float64) ([]float64, error) {
	mv, err := o.minVariance()
	if err != nil {
		return nil, err
	}
	if target <= math.Sqrt(variance(mv, o.cov)) {
		return mv, nil
	}
	lo := dot(mv, o.mu)
	hi := lo
	for _, m := range o.mu {
		hi = max(hi, m)
	}
	best := mv
	for iter := 0; iter < 100; iter++ {
		mid := (lo + hi) / 2
		w, err := o.targetReturn(mid)
		if err != nil {
			return nil, err
		}
		if math.Sqrt(variance(w, o.cov)) <= target {
			best, lo = w, mid
		} else {
			hi = mid
		}
		if hi-lo < o.cfg.ConvergenceTol {
			break
		}
	}
	return best, nil
}

// applyConstraints recorta, limita la cantidad de activos, renormaliza con
// topes iterativos y aplica límites sectoriales y de turnover.
func (o *Optimizer) applyConstraints(w []float64) []float64 {
	c := o.cfg.Constraints
	n := len(w)
	for i := range w {
		if c.LongOnly && w[i] < 0 {
			w[i] = 0
		}
		w[i] = max(w[i], c.MinWeight)
	}
	if !normalize(w) {
		w = equalWeights(n)
	}

	active := make([]bool, n)
	for i := range active {
		active[i] = true
	}
	if c.MaxAssets > 0 && c.MaxAssets < n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return w[idx[a]] > w[idx[b]] })
		for _, i := range idx[c.MaxAssets:] {
			w[i] = 0
			active[i] = false
		}
		normalize(w)
	}

	capWeights(w, c.MaxWeight, active)
	if len(c.SectorLimits) > 0 {
		o.capSectors(w)
		capWeights(w, c.MaxWeight, active)
	}

	if c.MaxTurnover > 0 && len(c.CurrentWeights) == n {
		var turnover float64
		for i := range w {
			turnover += math.Abs(w[i] - c.CurrentWeights[i])
		}
		if turnover > c.MaxTurnover {
			k := c.MaxTurnover / turnover
			for i := range w {
				w[i] = c.CurrentWeights[i] + (w[i]-c.CurrentWeights[i])*k
				active[i] = w[i] > 0
			}
			// Los pesos actuales pueden superar el tope.
			capWeights(w, c.MaxWeight, active)
		}
	}
	return w
}

// capWeights limita cada peso a maxW y reparte el excedente entre los activos
// no topados, en proporción a su peso. Los inactivos (fuera por MaxAssets) no
// reciben nada. Si todos los activos quedan topados el excedente queda sin asignar.
func capWeights(w []float64, maxW float64, active []bool) {
	if maxW <= 0 || maxW >= 1 {
		return
	}
	capped := make([]bool, len(w))
	for range w {
		var excess, free float64
		for i := range w {
			if capped[i] {
				continue
			}
			if w[i] > maxW {
				excess += w[i] - maxW
				w[i] = maxW
				capped[i] = true
			} else if active[i] {
				free += w[i]
			}
		}
		if excess <= 0 {
			return
		}
		if free <= 0 {
			// Sin peso libre: repartir por igual entre los activos con margen.
			var open []int
			for i := range w {
				if active[i] && !capped[i] && w[i] < maxW {
					open = append(open, i)
				}
			}
			if len(open) == 0 {
				return
			}
			for _, i := range open {
				w[i] += excess / float64(len(open))
			}
			continue
		}
		for i := range w {
			if active[i] && !capped[i] {
				w[i] += excess * w[i] / free
			}
		}
	}
}

func (o *Optimizer) capSectors(w []float64) {
	c := o.cfg.Constraints
	sectorOf := func(i int) string { return c.Sectors[o.assets[i]] }
	for range c.SectorLimits {
		totals := make(map[string]float64)
		for i := range w {
			totals[sectorOf(i)] += w[i]
		}
		var excess float64
		saturated := make(map[string]bool)
		for sector, limit := range c.SectorLimits {
			t := totals[sector]
			if t <= limit || t <= 0 {
				saturated[sector] = t >= limit
				continue
			}
			k := limit / t
			for i := range w {
				if sectorOf(i) == sector {
					w[i] *= k
				}
			}
			excess += t - limit
			saturated[sector] = true
		}
		if excess <= 0 {
			return
		}
		var free float64
		for i := range w {
			if !saturated[sectorOf(i)] {
				free += w[i]
			}
		}
		if free <= 0 {
			return
		}
		for i := range w {
			if !saturated[sectorOf(i)] {
				w[i] += excess * w[i] / free
			}
		}
	}
}

func riskContributions(w []float64, cov [][]float64) []float64 {
	rc := make([]float64, len(w))
	vol := math.Sqrt(variance(w, cov))
	if vol <= 0 {
		return rc
	}
	sw := matVec(cov, w)
	for i := range w {
		rc[i] = w[i] * sw[i] / vol
	}
	return rc
}

func (o *Optimizer) result(w []float64) Result {
	n := len(w)
	r := Result{
		Method:               o.cfg.Method,
		Assets:               o.assets,
		Weights:              w,
		ExpectedReturn:       dot(w, o.mu),
		Volatility:           math.Sqrt(variance(w, o.cov)),
		RiskContributions:    riskContributions(w, o.cov),
		MarginalRisk:         make([]float64, n),
		DiversificationRatio: 1,
		EffectiveN:           float64(n),
	}
	if r.Volatility > 0 {
		r.Sharpe = (r.ExpectedReturn - o.cfg.RiskFreeRate) / r.Volatility
		r.DiversificationRatio = dot(w, o.vols) / r.Volatility
		sw := matVec(o.cov, w)
		for i := range sw {
			r.MarginalRisk[i] = sw[i] / r.Volatility
		}
	}
	if sq := dot(w, w); sq > 0 {
		r.EffectiveN = 1 / sq
	}
	return r
}

// Assets devuelve los activos en el orden de los pesos.
func (o *Optimizer) Assets() []string { return o.assets }
