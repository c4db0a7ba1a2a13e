package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// RunArbOnce escanea oportunidades de arbitraje up/down, entra en las nuevas
// y liquida las que cerraron. Devuelve la cantidad de entradas.
func (r *Runner) RunArbOnce(ctx context.Context) (int, error) {
	opps, err := r.d.Arb.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine.RunArbOnce: %w", err)
	}
	if r.d.Metrics != nil {
		r.d.Metrics.ArbOpportunities.Add(float64(len(opps)))
	}

	now := r.now()
	entered := 0
	var errs []error
	for _, o := range opps {
		if !o.Valid(now) || !r.tradingAllowed() {
			continue
		}
		r.mu.Lock()
		done := r.arbEntered[o.ConditionID]
		r.mu.Unlock()
		if done {
			continue
		}

		amount := r.cfg.ArbAmount
		if limit := o.MaxProfitableCapital(); limit.IsPositive() && limit.LessThan(amount) {
			amount = limit
		}
		e, err := r.d.ArbExec.Enter(ctx, o, amount)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientBalance) {
				slog.Info("cross-arb skipped, no balance", "symbol", o.Symbol)
				break
			}
			errs = append(errs, fmt.Errorf("enter %s: %w", o.Slug, err))
			continue
		}
		r.mu.Lock()
		r.arbEntered[o.ConditionID] = true
		r.mu.Unlock()
		entered++
		if r.d.Notifier != nil {
			msg := fmt.Sprintf("Cross-arb entry %s: %s pairs for $%s (spread %s%%, expected $%s)",
				o.Symbol, e.Pairs.StringFixed(2), e.Invested.StringFixed(2),
				o.Spread.Mul(domain.MustDec("100")).StringFixed(2), o.Profit(e.Invested).StringFixed(2))
			if err := r.d.Notifier.Send(ctx, msg); err != nil {
				slog.Warn("notify cross-arb entry failed", "err", err)
			}
		}
	}

	completed, err := r.d.ArbExec.Settle(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("settle: %w", err))
	}
	for _, c := range completed {
		r.mu.Lock()
		delete(r.arbEntered, c.ConditionID)
		r.mu.Unlock()
		r.d.State.AddPnL(c.Profit, domain.Zero)
		slog.Info("cross-arb settled",
			"symbol", c.Symbol,
			"invested", c.Invested.StringFixed(2),
			"returned", c.Returned.StringFixed(2),
			"profit", c.Profit.StringFixed(2),
			"merged", c.Merged,
		)
		r.persist(ctx, c.Trade())
	}
	r.d.Arb.Cleanup(now)

	if len(errs) > 0 {
		return entered, fmt.Errorf("engine.RunArbOnce: %w", errors.Join(errs...))
	}
	return entered, nil
}
