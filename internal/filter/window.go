package filter

import "time"

// TimeWindow acepta señales solo entre Min y Max antes del cierre del mercado.
type TimeWindow struct {
	Min time.Duration
	Max time.Duration
}

// Contains devuelve true si min <= (close-now) <= max.
func (w TimeWindow) Contains(close, now time.Time) bool {
	remaining := close.Sub(now)
	return remaining >= w.Min && remaining <= w.Max
}
