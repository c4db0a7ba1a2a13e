package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyStats resume la actividad de trading de un día UTC.
type DailyStats struct {
	Date        time.Time
	Trades      int
	Buys        int
	Sells       int
	Volume      decimal.Decimal
	Fees        decimal.Decimal
	RealizedPnL decimal.Decimal
	Wins        int
	Losses      int
}

// WinRate devuelve wins/(wins+losses) o 0 si no hubo cierres.
func (s DailyStats) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total)
}

// StatsForDay agrega los trades de un día. Solo las ventas cuentan como
// cierres para wins/losses.
func StatsForDay(day time.Time, trades []Trade) DailyStats {
	d := day.UTC()
	s := DailyStats{
		Date:        time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		Volume:      Zero,
		Fees:        Zero,
		RealizedPnL: Zero,
	}
	for _, t := range trades {
		s.Trades++
		if t.Side == Buy {
			s.Buys++
		} else {
			s.Sells++
			switch {
			case t.PnL.IsPositive():
				s.Wins++
			case t.PnL.IsNegative():
				s.Losses++
			}
		}
		s.Volume = s.Volume.Add(t.Notional())
		s.Fees = s.Fees.Add(t.Fee)
		s.RealizedPnL = s.RealizedPnL.Add(t.PnL)
	}
	return s
}
