package crossarb

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Stats es un snapshot de la actividad de arbitraje.
type Stats struct {
	Scans       int
	Found       int
	Executed    int
	Invested    decimal.Decimal
	Profit      decimal.Decimal
	BestSpread  decimal.Decimal
	WorstSpread decimal.Decimal
	SpreadSum   decimal.Decimal
	Wins        int
	Losses      int
}

// WinRate devuelve el % de trades ganadores.
func (s Stats) WinRate() decimal.Decimal {
	n := s.Wins + s.Losses
	if n == 0 {
		return domain.Zero
	}
	return domain.Div(decimal.NewFromInt(int64(s.Wins)), decimal.NewFromInt(int64(n))).Mul(hundred)
}

// ROI devuelve profit / invested en %.
func (s Stats) ROI() decimal.Decimal {
	return domain.Div(s.Profit, s.Invested).Mul(hundred)
}

// AvgSpread devuelve el spread medio de las oportunidades encontradas.
func (s Stats) AvgSpread() decimal.Decimal {
	if s.Found == 0 {
		return domain.Zero
	}
	return domain.Div(s.SpreadSum, decimal.NewFromInt(int64(s.Found)))
}

// Tracker acumula Stats de forma concurrente.
type Tracker struct {
	mu sync.Mutex
	s  Stats
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordScan registra un escaneo y los spreads de lo encontrado.
func (t *Tracker) RecordScan(spreads []decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Scans++
	for _, sp := range spreads {
		t.s.Found++
		t.s.SpreadSum = t.s.SpreadSum.Add(sp)
		if sp.GreaterThan(t.s.BestSpread) {
			t.s.BestSpread = sp
		}
		if t.s.WorstSpread.IsZero() || sp.LessThan(t.s.WorstSpread) {
			t.s.WorstSpread = sp
		}
	}
}

// RecordTrade registra un trade cerrado.
func (t *Tracker) RecordTrade(invested, profit decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Executed++
	t.s.Invested = t.s.Invested.Add(invested)
	t.s.Profit = t.s.Profit.Add(profit)
	if profit.IsPositive() {
		t.s.Wins++
	} else {
		t.s.Losses++
	}
}

// Snapshot devuelve una copia de las estadísticas.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}
