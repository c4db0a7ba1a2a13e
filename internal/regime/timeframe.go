package regime

import (
	"math"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Alignment indica cuánto coinciden los tres timeframes.
type Alignment int

const (
	Conflicting Alignment = iota
	PartiallyAligned
	FullyAligned
)

func (a Alignment) String() string {
	switch a {
	case FullyAligned:
		return "fully_aligned"
	case PartiallyAligned:
		return "partially_aligned"
	default:
		return "conflicting"
	}
}

// Consensus combina las detecciones de los tres timeframes.
type Consensus struct {
	Primary    Regime
	Short      Regime
	Medium     Regime
	Long       Regime
	Alignment  Alignment
	Confidence float64
}

// MultiTimeframe compone tres detectores independientes (corto, medio, largo).
type MultiTimeframe struct {
	Short  *Detector
	Medium *Detector
	Long   *Detector
}

// NewMultiTimeframe crea los tres detectores con la misma configuración.
func NewMultiTimeframe(cfg Config) *MultiTimeframe {
	return &MultiTimeframe{
		Short:  NewDetector(cfg),
		Medium: NewDetector(cfg),
		Long:   NewDetector(cfg),
	}
}

// UpdateShort, UpdateMedium y UpdateLong alimentan cada timeframe por separado.
func (m *MultiTimeframe) UpdateShort(b domain.Bar) (Detection, bool)  { return m.Short.Update(b) }
func (m *MultiTimeframe) UpdateMedium(b domain.Bar) (Detection, bool) { return m.Medium.Update(b) }
func (m *MultiTimeframe) UpdateLong(b domain.Bar) (Detection, bool)   { return m.Long.Update(b) }

// Consensus devuelve el consenso o false si algún timeframe aún no tiene detección.
func (m *MultiTimeframe) Consensus() (Consensus, bool) {
	s, ok1 := m.Short.Current()
	md, ok2 := m.Medium.Current()
	l, ok3 := m.Long.Current()
	if !ok1 || !ok2 || !ok3 {
		return Consensus{}, false
	}
	return consensusOf(s, md, l), true
}

func consensusOf(s, m, l Detection) Consensus {
	c := Consensus{Short: s.Regime, Medium: m.Regime, Long: l.Regime}

	// Crisis en cualquier timeframe escala a todo el consenso.
	if s.Regime == Crisis || m.Regime == Crisis || l.Regime == Crisis {
		c.Primary = Crisis
		c.Alignment = Conflicting
		c.Confidence = 0.9
		return c
	}

	switch {
	case s.Regime == m.Regime && m.Regime == l.Regime:
		c.Alignment = FullyAligned
	case s.Regime == m.Regime || m.Regime == l.Regime:
		c.Alignment = PartiallyAligned
	default:
		c.Alignment = Conflicting
	}

	switch {
	case l.Confidence > 0.6:
		c.Primary = l.Regime
	case m.Confidence > 0.6:
		c.Primary = m.Regime
	default:
		c.Primary = s.Regime
	}

	avg := (s.Confidence + m.Confidence + l.Confidence) / 3
	switch c.Alignment {
	case FullyAligned:
		avg *= 1.2
	case Conflicting:
		avg *= 0.7
	}
	c.Confidence = math.Min(avg, 1)
	return c
}
