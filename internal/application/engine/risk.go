package engine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// RiskConfig son los límites pre-trade. Los porcentajes son fracciones del balance.
type RiskConfig struct {
	MaxPositionPct    float64
	MaxExposurePct    float64
	MaxDailyLossPct   float64
	MinBalanceReserve decimal.Decimal
	MaxOpenPositions  int
	MaxTradesPerHour  int
}

// DefaultRiskConfig devuelve 5% por posición, 50% de exposición, 10% de pérdida diaria.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionPct:    0.05,
		MaxExposurePct:    0.50,
		MaxDailyLossPct:   0.10,
		MinBalanceReserve: decimal.NewFromInt(100),
		MaxOpenPositions:  10,
		MaxTradesPerHour:  10,
	}
}

// MaxDailyLoss devuelve la pérdida diaria máxima en USDC para balance.
func (c RiskConfig) MaxDailyLoss(balance decimal.Decimal) decimal.Decimal {
	return balance.Mul(decimal.NewFromFloat(c.MaxDailyLossPct))
}

// Check valida una señal contra los límites. sizeUSD es el monto a invertir.
// Los rechazos son errores domain.KindRiskLimit.
func (c RiskConfig) Check(st *BotState, sig domain.Signal, sizeUSD, balance decimal.Decimal) error {
	const op = "engine.RiskConfig.Check"

	if st.Paused() {
		return domain.Errorf(domain.KindRiskLimit, op, "trading paused")
	}
	if loss := c.MaxDailyLoss(balance); loss.IsPositive() && st.DailyPnL().LessThan(loss.Neg()) {
		return domain.Errorf(domain.KindRiskLimit, op, "daily loss limit exceeded: %s", st.DailyPnL().StringFixed(2))
	}
	if !st.AllowTrade(c.MaxTradesPerHour) {
		return domain.Errorf(domain.KindRiskLimit, op, "hourly trade limit (%d) reached", c.MaxTradesPerHour)
	}
	if c.MaxPositionPct > 0 && sig.SuggestedSize > c.MaxPositionPct+1e-9 {
		return domain.Errorf(domain.KindRiskLimit, op, "position %.4f exceeds max %.4f", sig.SuggestedSize, c.MaxPositionPct)
	}
	if c.MaxOpenPositions > 0 && !st.Holds(sig.TokenID) && len(st.Holdings()) >= c.MaxOpenPositions {
		return domain.Errorf(domain.KindRiskLimit, op, "max open positions (%d) reached", c.MaxOpenPositions)
	}
	if c.MaxExposurePct > 0 {
		next := st.Exposure().Add(sizeUSD)
		limit := balance.Mul(decimal.NewFromFloat(c.MaxExposurePct))
		if next.GreaterThan(limit) {
			return domain.Errorf(domain.KindRiskLimit, op, "max exposure exceeded: %s > %s", next.StringFixed(2), limit.StringFixed(2))
		}
	}
	if balance.Sub(sizeUSD).LessThan(c.MinBalanceReserve) {
		return domain.Errorf(domain.KindRiskLimit, op, "balance reserve %s would be breached", c.MinBalanceReserve.StringFixed(2))
	}
	return nil
}

// CircuitBreaker cuenta pérdidas consecutivas y corta el trading por un
// cooldown, o de forma permanente si el PnL acumulado cae bajo MaxDrawdown.
type CircuitBreaker struct {
	MaxLosses   int
	Cooldown    time.Duration
	MaxDrawdown decimal.Decimal // monto negativo; cero = sin límite

	now func() time.Time

	mu                sync.Mutex
	consecutiveLosses int
	cooldownUntil     time.Time
	totalPnL          decimal.Decimal
	triggered         bool
	reason            string
}

// NewCircuitBreaker crea un breaker.
func NewCircuitBreaker(maxLosses int, cooldown time.Duration, maxDrawdown decimal.Decimal, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{MaxLosses: maxLosses, Cooldown: cooldown, MaxDrawdown: maxDrawdown, now: now, totalPnL: domain.Zero}
}

// IsOpen devuelve true si se permite operar.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return !cb.triggered && !cb.now().Before(cb.cooldownUntil)
}

// Record registra el PnL de un cierre. Devuelve el motivo si el breaker se
// disparó con este resultado.
func (cb *CircuitBreaker) Record(pnl decimal.Decimal) (string, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.totalPnL = cb.totalPnL.Add(pnl)
	if !pnl.IsNegative() {
		cb.consecutiveLosses = 0
		return "", false
	}
	cb.consecutiveLosses++
	fired := false
	if cb.MaxLosses > 0 && cb.consecutiveLosses >= cb.MaxLosses {
		cb.cooldownUntil = cb.now().Add(cb.Cooldown)
		cb.consecutiveLosses = 0
		cb.reason = "consecutive losses"
		fired = true
	}
	if cb.MaxDrawdown.IsNegative() && cb.totalPnL.LessThan(cb.MaxDrawdown) && !cb.triggered {
		cb.triggered = true
		cb.reason = "max drawdown exceeded"
		fired = true
	}
	return cb.reason, fired
}

// Reset limpia el disparo permanente (comando resume).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.triggered = false
	cb.cooldownUntil = time.Time{}
	cb.consecutiveLosses = 0
	cb.mu.Unlock()
}
