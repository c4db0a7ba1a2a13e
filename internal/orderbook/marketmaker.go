package orderbook

import (
	"math"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Activity es el nivel de actividad estimado de market makers.
type Activity int

const (
	ActivityAbsent Activity = iota
	ActivityLow
	ActivityNormal
	ActivityHigh
)

func (a Activity) String() string {
	switch a {
	case ActivityLow:
		return "low"
	case ActivityNormal:
		return "normal"
	case ActivityHigh:
		return "high"
	default:
		return "absent"
	}
}

// MMProfile describe el comportamiento de los market makers en la ventana.
type MMProfile struct {
	SpreadStability float64 // 1/(1+var/mean) del spread
	RefreshRate     float64 // snapshots por segundo
	DepthSymmetry   float64 // media de 1-|ΣB-ΣA|/(ΣB+ΣA) top 5
	EstimatedCount  int
	Activity        Activity
	Snapshots       int
}

const (
	mmTopLevels     = 5
	mmMinInWindow   = 5
	mmClusterRepeat = 3
	mmMaxCount      = 5
)

// ProfileMarketMakers analiza los snapshots dentro de window hasta now.
// minSnapshots es el mínimo de snapshots totales de historial.
func ProfileMarketMakers(snaps []domain.OrderBook, now time.Time, window time.Duration, minSnapshots int) (MMProfile, bool) {
	if len(snaps) < minSnapshots {
		return MMProfile{}, false
	}
	var inWindow []domain.OrderBook
	for _, s := range snaps {
		if !s.Timestamp.Before(now.Add(-window)) && !s.Timestamp.After(now) {
			inWindow = append(inWindow, s)
		}
	}
	if len(inWindow) < mmMinInWindow {
		return MMProfile{}, false
	}

	spreads := make([]float64, 0, len(inWindow))
	var symSum float64
	clusters := make(map[int64]int)
	for _, s := range inWindow {
		if sp, ok := s.Spread(); ok {
			spreads = append(spreads, domain.Float(sp))
		}
		b := domain.Float(domain.Depth(s.TopBids(mmTopLevels)))
		a := domain.Float(domain.Depth(s.TopAsks(mmTopLevels)))
		if b+a > 0 {
			symSum += 1 - math.Abs(b-a)/(b+a)
		}
		for _, l := range append(append([]domain.BookLevel{}, s.TopBids(mmTopLevels)...), s.TopAsks(mmTopLevels)...) {
			clusters[int64(math.Round(domain.Float(l.Quantity)*10))]++
		}
	}

	p := MMProfile{Snapshots: len(inWindow)}
	if mean := meanOf(spreads); mean > 0 {
		p.SpreadStability = 1 / (1 + varianceOf(spreads, mean)/mean)
	}
	span := inWindow[len(inWindow)-1].Timestamp.Sub(inWindow[0].Timestamp).Seconds()
	if span > 0 {
		p.RefreshRate = float64(len(inWindow)-1) / span
	}
	p.DepthSymmetry = symSum / float64(len(inWindow))
	for _, n := range clusters {
		if n >= mmClusterRepeat {
			p.EstimatedCount++
		}
	}
	if p.EstimatedCount > mmMaxCount {
		p.EstimatedCount = mmMaxCount
	}
	p.Activity = classifyActivity(p)
	return p, true
}

func classifyActivity(p MMProfile) Activity {
	if p.EstimatedCount == 0 {
		return ActivityAbsent
	}
	score := 0.4*p.SpreadStability + 0.3*p.DepthSymmetry + 0.3*math.Min(p.RefreshRate, 1)
	switch {
	case score >= 0.7:
		return ActivityHigh
	case score >= 0.4:
		return ActivityNormal
	default:
		return ActivityLow
	}
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func varianceOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += (x - mean) * (x - mean)
	}
	return s / float64(len(xs))
}
