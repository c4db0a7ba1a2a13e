package ml

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// CalibrationMethod selecciona el mapeo raw → calibrada.
type CalibrationMethod int

const (
	CalibrationNone CalibrationMethod = iota
	CalibrationPlatt
	CalibrationIsotonic
)

func (m CalibrationMethod) String() string {
	switch m {
	case CalibrationPlatt:
		return "platt"
	case CalibrationIsotonic:
		return "isotonic"
	default:
		return "none"
	}
}

// ParseCalibrationMethod convierte el nombre de configuración.
func ParseCalibrationMethod(s string) (CalibrationMethod, error) {
	switch s {
	case "", "none":
		return CalibrationNone, nil
	case "platt":
		return CalibrationPlatt, nil
	case "isotonic":
		return CalibrationIsotonic, nil
	}
	return CalibrationNone, fmt.Errorf("ml.ParseCalibrationMethod: %q: %w", s, domain.ErrInvalidInput)
}

// CalibratorConfig parametriza el calibrador.
type CalibratorConfig struct {
	Method     CalibrationMethod
	BufferSize int // muestras máximas retenidas
	Buckets    int // buckets para isotonic
	MinSamples int // mínimo para Refit
}

// DefaultCalibratorConfig devuelve Platt con buffer de 1000 muestras.
func DefaultCalibratorConfig() CalibratorConfig {
	return CalibratorConfig{
		Method:     CalibrationPlatt,
		BufferSize: 1000,
		Buckets:    20,
		MinSamples: 10,
	}
}

// Calibration es el resultado de calibrar una probabilidad.
type Calibration struct {
	Probability float64
	Reliability float64 // 0 sin ajuste, 1 con buffer lleno
}

type calSample struct {
	raw     float64
	outcome bool
}

type isoPoint struct {
	x, y float64
}

// Calibrator mantiene un buffer acotado de (raw, outcome) y el ajuste vigente.
type Calibrator struct {
	cfg CalibratorConfig

	mu      sync.RWMutex
	samples []calSample
	fitted  bool
	fitN    int
	a, b    float64 // Platt: σ(a·logit(p) + b)
	iso     []isoPoint
}

// NewCalibrator crea un calibrador sin ajustar (identidad).
func NewCalibrator(cfg CalibratorConfig) *Calibrator {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = 20
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	return &Calibrator{cfg: cfg, a: 1}
}

// AddSample agrega una observación. No reajusta; llamar a Refit.
func (c *Calibrator) AddSample(raw float64, outcome bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, calSample{raw: clamp(raw, 0, 1), outcome: outcome})
	if len(c.samples) > c.cfg.BufferSize {
		c.samples = c.samples[len(c.samples)-c.cfg.BufferSize:]
	}
}

// Samples devuelve el número de muestras en el buffer.
func (c *Calibrator) Samples() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}

// Refit recalcula el ajuste desde el buffer.
func (c *Calibrator) Refit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) < c.cfg.MinSamples {
		return fmt.Errorf("ml.Calibrator.Refit: %d samples: %w", len(c.samples), domain.ErrInsufficientData)
	}
	switch c.cfg.Method {
	case CalibrationPlatt:
		c.a, c.b = fitPlatt(c.samples)
	case CalibrationIsotonic:
		c.iso = fitIsotonic(c.samples, c.cfg.Buckets)
	}
	c.fitted = true
	c.fitN = len(c.samples)
	return nil
}

// Calibrate mapea una probabilidad cruda a calibrada.
func (c *Calibrator) Calibrate(p float64) Calibration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p = clamp(p, 0, 1)
	if c.cfg.Method == CalibrationNone {
		return Calibration{Probability: p, Reliability: 1}
	}
	if !c.fitted {
		return Calibration{Probability: p}
	}
	rel := math.Min(float64(c.fitN)/float64(c.cfg.BufferSize), 1)
	switch c.cfg.Method {
	case CalibrationPlatt:
		return Calibration{Probability: sigmoid(c.a*logit(p) + c.b), Reliability: rel}
	default:
		return Calibration{Probability: interpolate(c.iso, p), Reliability: rel}
	}
}

const probEps = 1e-6

func logit(p float64) float64 {
	p = clamp(p, probEps, 1-probEps)
	return math.Log(p / (1 - p))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// fitPlatt ajusta (a, b) por IRLS con los targets suavizados de Platt. El
// amortiguamiento en el hessiano resuelve el caso degenerado de un único
// valor de entrada.
func fitPlatt(samples []calSample) (float64, float64) {
	var pos, neg float64
	for _, s := range samples {
		if s.outcome {
			pos++
		} else {
			neg++
		}
	}
	hiTarget := (pos + 1) / (pos + 2)
	loTarget := 1 / (neg + 2)

	const (
		maxIter = 100
		damping = 1e-6
		tol     = 1e-10
	)
	a, b := 1.0, 0.0
	for iter := 0; iter < maxIter; iter++ {
		var g0, g1, h00, h01, h11 float64
		for _, s := range samples {
			x := logit(s.raw)
			t := loTarget
			if s.outcome {
				t = hiTarget
			}
			p := sigmoid(a*x + b)
			w := p * (1 - p)
			d := t - p
			g0 += d * x
			g1 += d
			h00 += w * x * x
			h01 += w * x
			h11 += w
		}
		h00 += damping
		h11 += damping
		det := h00*h11 - h01*h01
		if det == 0 {
			break
		}
		da := (h11*g0 - h01*g1) / det
		db := (h00*g1 - h01*g0) / det
		a += da
		b += db
		if math.Abs(da) < tol && math.Abs(db) < tol {
			break
		}
	}
	return a, b
}

// fitIsotonic agrupa en buckets y aplica pool-adjacent-violators.
func fitIsotonic(samples []calSample, buckets int) []isoPoint {
	type block struct {
		sumX, sumY, n float64
	}
	bins := make([]block, buckets)
	for _, s := range samples {
		i := int(s.raw * float64(buckets))
		if i >= buckets {
			i = buckets - 1
		}
		bins[i].sumX += s.raw
		if s.outcome {
			bins[i].sumY++
		}
		bins[i].n++
	}

	var stack []block
	for _, bl := range bins {
		if bl.n == 0 {
			continue
		}
		stack = append(stack, bl)
		for len(stack) > 1 {
			last, prev := stack[len(stack)-1], stack[len(stack)-2]
			if prev.sumY/prev.n <= last.sumY/last.n {
				break
			}
			stack = stack[:len(stack)-2]
			stack = append(stack, block{prev.sumX + last.sumX, prev.sumY + last.sumY, prev.n + last.n})
		}
	}

	points := make([]isoPoint, 0, len(stack))
	for _, bl := range stack {
		points = append(points, isoPoint{x: bl.sumX / bl.n, y: bl.sumY / bl.n})
	}
	return points
}

// interpolate evalúa la función escalonada lineal; fuera de rango satura.
func interpolate(points []isoPoint, x float64) float64 {
	if len(points) == 0 {
		return x
	}
	if x <= points[0].x {
		return points[0].y
	}
	last := points[len(points)-1]
	if x >= last.x {
		return last.y
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].x >= x })
	lo, hi := points[i-1], points[i]
	if hi.x == lo.x {
		return hi.y
	}
	return lo.y + (x-lo.x)/(hi.x-lo.x)*(hi.y-lo.y)
}
