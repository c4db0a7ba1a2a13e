package crossarb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

// Executor abre pares Up/Down y los liquida al cierre del mercado.
type Executor interface {
	Enter(ctx context.Context, opp Opportunity, amount decimal.Decimal) (Entry, error)
	Settle(ctx context.Context, now time.Time) ([]Completed, error)
}

// Entry es un par comprado y pendiente de liquidar.
type Entry struct {
	ID          string
	Opp         Opportunity
	Invested    decimal.Decimal
	Pairs       decimal.Decimal
	UpOrderID   string
	DownOrderID string
	EnteredAt   time.Time
}

// Completed es un par liquidado: por resolución del mercado o por merge on-chain.
type Completed struct {
	ID            string
	Symbol        string
	Slug          string
	ConditionID   string
	Invested      decimal.Decimal
	Returned      decimal.Decimal
	Profit        decimal.Decimal
	SpreadAtEntry decimal.Decimal
	Merged        bool
	TxHash        string
	EnteredAt     time.Time
	ExitedAt      time.Time
}

// Trade convierte el cierre en un registro persistible.
func (c Completed) Trade() domain.Trade {
	return domain.Trade{
		ID:        c.ID,
		OrderID:   c.ID,
		MarketID:  c.ConditionID,
		Side:      domain.Sell,
		Price:     domain.One,
		Size:      c.Returned,
		PnL:       c.Profit,
		Timestamp: c.ExitedAt,
	}
}

func complete(e Entry, returned decimal.Decimal, now time.Time) Completed {
	return Completed{
		ID:            e.ID,
		Symbol:        e.Opp.Symbol,
		Slug:          e.Opp.Slug,
		ConditionID:   e.Opp.ConditionID,
		Invested:      e.Invested,
		Returned:      returned,
		Profit:        returned.Sub(e.Invested),
		SpreadAtEntry: e.Opp.Spread,
		EnteredAt:     e.EnteredAt,
		ExitedAt:      now,
	}
}

// PaperExecutor simula la compra de pares con un balance virtual.
type PaperExecutor struct {
	mu        sync.Mutex
	balance   decimal.Decimal
	initial   decimal.Decimal
	positions []Entry
	history   []Completed
	stats     *Tracker
	now       func() time.Time
}

// NewPaperExecutor crea un executor simulado. stats puede ser nil.
func NewPaperExecutor(initial decimal.Decimal, stats *Tracker) *PaperExecutor {
	return &PaperExecutor{balance: initial, initial: initial, stats: stats, now: time.Now}
}

// Enter descuenta amount del balance y registra pairs = amount / (up + down).
func (p *PaperExecutor) Enter(_ context.Context, opp Opportunity, amount decimal.Decimal) (Entry, error) {
	if !amount.IsPositive() || !opp.TotalCost.IsPositive() {
		return Entry{}, domain.E(domain.KindExecution, "crossarb.PaperExecutor.Enter", domain.ErrZeroSize)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.GreaterThan(p.balance) {
		slog.Warn("cross-arb paper insufficient balance", "balance", p.balance.StringFixed(2), "amount", amount.StringFixed(2))
		return Entry{}, domain.E(domain.KindExecution, "crossarb.PaperExecutor.Enter", domain.ErrInsufficientBalance)
	}
	e := Entry{
		ID:        uuid.NewString(),
		Opp:       opp,
		Invested:  amount,
		Pairs:     opp.Pairs(amount),
		EnteredAt: p.now(),
	}
	p.balance = p.balance.Sub(amount)
	p.positions = append(p.positions, e)
	slog.Info("cross-arb paper entered",
		"symbol", opp.Symbol,
		"amount", amount.StringFixed(2),
		"pairs", e.Pairs.StringFixed(2),
		"spread", opp.Spread.StringFixed(4),
	)
	return e, nil
}

// Settle liquida las posiciones cuyo mercado cerró: cada par paga $1.
func (p *PaperExecutor) Settle(_ context.Context, now time.Time) ([]Completed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var done []Completed
	active := p.positions[:0]
	for _, e := range p.positions {
		if e.Opp.EndTime.After(now) {
			active = append(active, e)
			continue
		}
		c := complete(e, e.Pairs, now)
		p.balance = p.balance.Add(c.Returned)
		p.history = append(p.history, c)
		done = append(done, c)
		if p.stats != nil {
			p.stats.RecordTrade(c.Invested, c.Profit)
		}
		slog.Info("cross-arb paper settled",
			"symbol", c.Symbol,
			"invested", c.Invested.StringFixed(2),
			"returned", c.Returned.StringFixed(2),
			"profit", c.Profit.StringFixed(4),
		)
	}
	p.positions = active
	return done, nil
}

// Balance devuelve el cash disponible.
func (p *PaperExecutor) Balance() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// PnL devuelve el resultado realizado: balance + capital abierto - inicial.
func (p *PaperExecutor) PnL() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	open := domain.Zero
	for _, e := range p.positions {
		open = open.Add(e.Invested)
	}
	return p.balance.Add(open).Sub(p.initial)
}

// Open devuelve una copia de las posiciones abiertas.
func (p *PaperExecutor) Open() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Entry(nil), p.positions...)
}

// History devuelve una copia de los pares liquidados.
func (p *PaperExecutor) History() []Completed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Completed(nil), p.history...)
}

// sharePrecision es la precisión de tamaño que acepta el CLOB.
const sharePrecision = 2

// LiveExecutor compra ambos lados en el CLOB y, si ambos llenan, hace merge
// on-chain para cobrar sin esperar la resolución. merge puede ser nil.
type LiveExecutor struct {
	venue ports.OrderVenue
	merge ports.MergeExecutor
	stats *Tracker

	mu   sync.Mutex
	open []Entry
}

// NewLiveExecutor crea un executor real.
func NewLiveExecutor(venue ports.OrderVenue, merge ports.MergeExecutor, stats *Tracker) *LiveExecutor {
	return &LiveExecutor{venue: venue, merge: merge, stats: stats}
}

// Enter coloca dos órdenes límite BUY del mismo tamaño. Si la segunda falla
// cancela la primera.
func (l *LiveExecutor) Enter(ctx context.Context, opp Opportunity, amount decimal.Decimal) (Entry, error) {
	const op = "crossarb.LiveExecutor.Enter"
	pairs := opp.Pairs(amount).RoundDown(sharePrecision)
	if !pairs.IsPositive() {
		return Entry{}, domain.E(domain.KindExecution, op, domain.ErrZeroSize)
	}
	bal, err := l.venue.Balance(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("%s: balance: %w", op, err)
	}
	if bal.LessThan(amount) {
		return Entry{}, domain.E(domain.KindExecution, op, domain.ErrInsufficientBalance)
	}

	upSt, err := l.venue.PlaceOrder(ctx, l.order(opp.UpTokenID, opp.UpPrice, pairs, opp.NegRisk))
	if err != nil {
		return Entry{}, fmt.Errorf("%s: up leg: %w", op, err)
	}
	downSt, err := l.venue.PlaceOrder(ctx, l.order(opp.DownTokenID, opp.DownPrice, pairs, opp.NegRisk))
	if err != nil {
		if cerr := l.venue.CancelOrder(ctx, upSt.OrderID); cerr != nil {
			slog.Error("cross-arb cancel up leg failed", "order", upSt.OrderID, "err", cerr)
		}
		return Entry{}, fmt.Errorf("%s: down leg: %w", op, err)
	}

	e := Entry{
		ID:          uuid.NewString(),
		Opp:         opp,
		Invested:    pairs.Mul(opp.TotalCost),
		Pairs:       pairs,
		UpOrderID:   upSt.OrderID,
		DownOrderID: downSt.OrderID,
		EnteredAt:   time.Now(),
	}
	l.mu.Lock()
	l.open = append(l.open, e)
	l.mu.Unlock()
	slog.Info("cross-arb live entered", "symbol", opp.Symbol, "pairs", pairs, "up_order", upSt.OrderID, "down_order", downSt.OrderID)
	return e, nil
}

func (l *LiveExecutor) order(tokenID string, price, size decimal.Decimal, negRisk bool) domain.Order {
	return domain.Order{
		TokenID: tokenID,
		Side:    domain.Buy,
		Price:   price,
		Size:    size,
		Type:    domain.LimitOrder(price),
		NegRisk: negRisk,
	}
}

// Settle revisa los pares abiertos. Los que llenaron ambos lados se fusionan;
// los que no llenaron al cierre se cancelan y se liquidan por la parte cubierta.
func (l *LiveExecutor) Settle(ctx context.Context, now time.Time) ([]Completed, error) {
	l.mu.Lock()
	pending := append([]Entry(nil), l.open...)
	l.mu.Unlock()

	var (
		done   []Completed
		closed = make(map[string]bool)
		errs   []error
	)
	for _, e := range pending {
		c, ok, err := l.settleOne(ctx, e, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		closed[e.ID] = true
		done = append(done, c)
		if l.stats != nil {
			l.stats.RecordTrade(c.Invested, c.Profit)
		}
	}

	l.mu.Lock()
	active := l.open[:0]
	for _, e := range l.open {
		if !closed[e.ID] {
			active = append(active, e)
		}
	}
	l.open = active
	l.mu.Unlock()
	return done, errors.Join(errs...)
}

func (l *LiveExecutor) settleOne(ctx context.Context, e Entry, now time.Time) (Completed, bool, error) {
	up, err := l.venue.GetOrder(ctx, e.UpOrderID)
	if err != nil {
		return Completed{}, false, fmt.Errorf("crossarb.Settle: up order %s: %w", e.UpOrderID, err)
	}
	down, err := l.venue.GetOrder(ctx, e.DownOrderID)
	if err != nil {
		return Completed{}, false, fmt.Errorf("crossarb.Settle: down order %s: %w", e.DownOrderID, err)
	}
	matched := decimal.Min(up.FilledSize, down.FilledSize)
	bothFilled := up.State == domain.OrderFilled && down.State == domain.OrderFilled

	if bothFilled && l.merge != nil {
		res, err := l.merge.MergePositions(ctx, e.Opp.ConditionID, matched, e.Opp.NegRisk)
		if err != nil {
			return Completed{}, false, fmt.Errorf("crossarb.Settle: merge %s: %w", e.Opp.ConditionID, err)
		}
		if !res.Success {
			slog.Warn("cross-arb merge reverted", "condition", e.Opp.ConditionID, "tx", res.TxHash, "err", res.Error)
			return Completed{}, false, nil
		}
		returned := res.USDCReceived
		if returned.IsZero() {
			returned = matched
		}
		c := complete(e, returned, now)
		c.Merged = true
		c.TxHash = res.TxHash
		slog.Info("cross-arb merged", "symbol", c.Symbol, "pairs", matched, "tx", res.TxHash, "profit", c.Profit.StringFixed(4))
		return c, true, nil
	}

	if e.Opp.EndTime.After(now) {
		return Completed{}, false, nil
	}
	for _, st := range []domain.OrderStatus{up, down} {
		if st.IsTerminal() {
			continue
		}
		if err := l.venue.CancelOrder(ctx, st.OrderID); err != nil {
			slog.Error("cross-arb cancel leg failed", "order", st.OrderID, "err", err)
		}
	}
	if !up.FilledSize.Equal(down.FilledSize) {
		slog.Warn("cross-arb unhedged leg at close", "symbol", e.Opp.Symbol, "up_filled", up.FilledSize, "down_filled", down.FilledSize)
	}
	// lo no llenado se canceló: el capital invertido es solo lo ejecutado
	e.Invested = up.FilledSize.Mul(e.Opp.UpPrice).Add(down.FilledSize.Mul(e.Opp.DownPrice))
	return complete(e, matched, now), true, nil
}
