package ml

import (
	"math"
	"sync"
	"time"
)

// Category agrupa factores por fuente de información.
type Category int

const (
	Fundamental Category = iota
	Technical
	Microstructure
	Sentiment
	OnChain
	CopyTrade
	Model
)

const numCategories = 7

func (c Category) String() string {
	switch c {
	case Fundamental:
		return "fundamental"
	case Technical:
		return "technical"
	case Microstructure:
		return "microstructure"
	case Sentiment:
		return "sentiment"
	case OnChain:
		return "onchain"
	case CopyTrade:
		return "copytrade"
	default:
		return "model"
	}
}

// Factor es una señal direccional normalizada.
type Factor struct {
	ID         string
	Category   Category
	Value      float64
	Signal     float64 // [-1, 1], positivo = sube
	Confidence float64 // [0, 1]
	Timestamp  time.Time
}

// FusionConfig parametriza FactorFusion.
type FusionConfig struct {
	Orthogonalize bool
	RiskParity    bool
	MinWeight     float64
	MaxWeight     float64
	BaseWeight    float64
	ICWindow      int
	CategoryCaps  map[Category]float64
}

// DefaultFusionConfig devuelve los topes por categoría estándar.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Orthogonalize: true,
		RiskParity:    true,
		MinWeight:     0.05,
		MaxWeight:     0.4,
		BaseWeight:    0.2,
		ICWindow:      100,
		CategoryCaps: map[Category]float64{
			Model:          0.4,
			Technical:      0.3,
			Sentiment:      0.2,
			Microstructure: 0.3,
			Fundamental:    0.3,
			OnChain:        0.2,
			CopyTrade:      0.3,
		},
	}
}

// Contribution detalla el aporte de un factor al resultado.
type Contribution struct {
	FactorID     string
	Category     Category
	RawSignal    float64
	Signal       float64 // ortogonalizada
	Weight       float64
	Contribution float64
	IC           float64
}

// FusionResult es la señal combinada.
type FusionResult struct {
	Signal          float64
	Probability     float64
	Confidence      float64
	Diversity       float64
	Contributions   []Contribution
	CategoryWeights map[Category]float64
}

// FactorStats resume el desempeño histórico de un factor.
type FactorStats struct {
	Predictions int
	IC          float64
	HitRate     float64
	Volatility  float64
}

type factorPerf struct {
	signals  []float64
	outcomes []bool
	stats    FactorStats
}

const (
	defaultFactorVol = 0.1
	minICSamples     = 3
)

func (p *factorPerf) update(window int) {
	if len(p.signals) > window {
		p.signals = p.signals[len(p.signals)-window:]
		p.outcomes = p.outcomes[len(p.outcomes)-window:]
	}
	n := len(p.signals)
	p.stats.Predictions = n
	if n == 0 {
		return
	}

	var hits int
	ys := make([]float64, n)
	for i, s := range p.signals {
		if (s > 0) == p.outcomes[i] {
			hits++
		}
		ys[i] = -1
		if p.outcomes[i] {
			ys[i] = 1
		}
	}
	p.stats.HitRate = float64(hits) / float64(n)

	if n < minICSamples {
		p.stats.IC = 0
		p.stats.Volatility = defaultFactorVol
		return
	}
	p.stats.IC = pearson(p.signals, ys)
	p.stats.Volatility = math.Sqrt(varianceOf(p.signals, meanOf(p.signals)))
}

// FactorFusion combina factores con pesos por IC, paridad de riesgo y topes
// por categoría.
type FactorFusion struct {
	cfg FusionConfig

	mu   sync.RWMutex
	perf map[string]*factorPerf
	base map[string]float64
}

// NewFactorFusion crea el motor de fusión.
func NewFactorFusion(cfg FusionConfig) *FactorFusion {
	if cfg.ICWindow <= 0 {
		cfg.ICWindow = 100
	}
	if cfg.BaseWeight <= 0 {
		cfg.BaseWeight = 0.2
	}
	return &FactorFusion{
		cfg:  cfg,
		perf: make(map[string]*factorPerf),
		base: make(map[string]float64),
	}
}

// SetBaseWeight fija el peso base de un factor.
func (f *FactorFusion) SetBaseWeight(id string, w float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.base[id] = w
}

// RecordOutcome registra la señal emitida y si el resultado fue favorable.
func (f *FactorFusion) RecordOutcome(id string, signal float64, win bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.perf[id]
	if !ok {
		p = &factorPerf{stats: FactorStats{Volatility: defaultFactorVol, HitRate: 0.5}}
		f.perf[id] = p
	}
	p.signals = append(p.signals, signal)
	p.outcomes = append(p.outcomes, win)
	p.update(f.cfg.ICWindow)
}

// Stats devuelve las estadísticas del factor.
func (f *FactorFusion) Stats(id string) (FactorStats, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.perf[id]
	if !ok {
		return FactorStats{}, false
	}
	return p.stats, true
}

// Fuse combina los factores. Sin factores devuelve probabilidad 0.5 y confianza 0.
func (f *FactorFusion) Fuse(factors []Factor) FusionResult {
	if len(factors) == 0 {
		return FusionResult{Probability: 0.5, CategoryWeights: map[Category]float64{}}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	signals := make([]float64, len(factors))
	for i, fc := range factors {
		signals[i] = clamp(fc.Signal, -1, 1)
	}
	if f.cfg.Orthogonalize && len(factors) > 1 {
		signals = f.orthogonalize(factors, signals)
	}

	weights := f.applyCategoryCaps(factors, f.weights(factors))

	res := FusionResult{CategoryWeights: make(map[Category]float64)}
	var combined, total float64
	for i, fc := range factors {
		w := weights[i]
		combined += signals[i] * w
		total += w
		res.CategoryWeights[fc.Category] += w
		var ic float64
		if p, ok := f.perf[fc.ID]; ok {
			ic = p.stats.IC
		}
		res.Contributions = append(res.Contributions, Contribution{
			FactorID:     fc.ID,
			Category:     fc.Category,
			RawSignal:    fc.Signal,
			Signal:       signals[i],
			Weight:       w,
			Contribution: signals[i] * w,
			IC:           ic,
		})
	}
	if total > 0 {
		res.Signal = clamp(combined/total, -1, 1)
	}
	res.Probability = (res.Signal + 1) / 2

	var confSum float64
	for _, fc := range factors {
		confSum += clamp(fc.Confidence, 0, 1)
	}
	res.Diversity = diversity(factors)
	res.Confidence = confSum / float64(len(factors)) * (0.5 + 0.5*res.Diversity)
	return res
}

func (f *FactorFusion) weights(factors []Factor) []float64 {
	ws := make([]float64, len(factors))
	var total float64
	for i, fc := range factors {
		base, ok := f.base[fc.ID]
		if !ok {
			base = f.cfg.BaseWeight
		}
		icAdj, riskAdj := 1.0, 1.0
		vol := defaultFactorVol
		if p, ok := f.perf[fc.ID]; ok {
			icAdj = 1 + 0.5*p.stats.IC
			vol = p.stats.Volatility
		}
		if f.cfg.RiskParity && vol > 0.01 {
			riskAdj = 0.1 / vol
		}
		ws[i] = clamp(base*icAdj*riskAdj*clamp(fc.Confidence, 0, 1), f.cfg.MinWeight, f.cfg.MaxWeight)
		total += ws[i]
	}
	normalize(ws, total)
	return ws
}

func (f *FactorFusion) applyCategoryCaps(factors []Factor, ws []float64) []float64 {
	totals := make(map[Category]float64)
	for i, fc := range factors {
		totals[fc.Category] += ws[i]
	}
	out := make([]float64, len(ws))
	var sum float64
	for i, fc := range factors {
		out[i] = ws[i]
		if capW, ok := f.cfg.CategoryCaps[fc.Category]; ok && totals[fc.Category] > capW {
			out[i] = ws[i] * capW / totals[fc.Category]
		}
		sum += out[i]
	}
	normalize(out, sum)
	return out
}

// orthogonalize aplica Gram-Schmidt sobre las series históricas de señales y
// proyecta las señales actuales con los mismos coeficientes. Sin historial
// común suficiente devuelve las señales sin tocar.
func (f *FactorFusion) orthogonalize(factors []Factor, signals []float64) []float64 {
	n := -1
	for _, fc := range factors {
		p, ok := f.perf[fc.ID]
		if !ok {
			return signals
		}
		if n < 0 || len(p.signals) < n {
			n = len(p.signals)
		}
	}
	if n < minICSamples {
		return signals
	}

	residuals := make([][]float64, len(factors))
	out := make([]float64, len(signals))
	for i, fc := range factors {
		h := f.perf[fc.ID].signals
		r := centered(h[len(h)-n:])
		s := signals[i]
		for j := 0; j < i; j++ {
			norm := dot(residuals[j], residuals[j])
			if norm < 1e-12 {
				continue
			}
			beta := dot(r, residuals[j]) / norm
			for k := range r {
				r[k] -= beta * residuals[j][k]
			}
			s -= beta * out[j]
		}
		residuals[i] = r
		out[i] = clamp(s, -1, 1)
	}
	return out
}

func diversity(factors []Factor) float64 {
	if len(factors) < 2 {
		return 0
	}
	cats := make(map[Category]struct{})
	sigs := make([]float64, len(factors))
	for i, fc := range factors {
		cats[fc.Category] = struct{}{}
		sigs[i] = fc.Signal
	}
	catDiv := float64(len(cats)) / numCategories
	sigDiv := math.Min(varianceOf(sigs, meanOf(sigs))*4, 1)
	return 0.5*catDiv + 0.5*sigDiv
}

func normalize(ws []float64, total float64) {
	if total <= 0 {
		return
	}
	for i := range ws {
		ws[i] /= total
	}
}

func centered(xs []float64) []float64 {
	m := meanOf(xs)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x - m
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

func pearson(xs, ys []float64) float64 {
	cx, cy := centered(xs), centered(ys)
	vx, vy := dot(cx, cx), dot(cy, cy)
	if vx == 0 || vy == 0 {
		return 0
	}
	return dot(cx, cy) / math.Sqrt(vx*vy)
}
