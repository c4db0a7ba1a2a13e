package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/orderbook"
	"github.com/alejandrodnm/polyedge/internal/paper"
	"github.com/alejandrodnm/polyedge/internal/ports"
	"github.com/alejandrodnm/polyedge/internal/router"
)

// Mode es el modo de ejecución del bot.
type Mode int

const (
	ModeDryRun Mode = iota
	ModePaper
	ModeLive
)

func (m Mode) String() string {
	switch m {
	case ModePaper:
		return "paper"
	case ModeLive:
		return "live"
	}
	return "dry_run"
}

// VenueID es el venue con el que se registra Polymarket en el router.
const VenueID = "polymarket"

// urgentWindow: mercados que cierran antes de este plazo se ejecutan con urgencia alta.
const urgentWindow = 10 * time.Minute

// ExecutorDeps son los colaboradores del Executor. Paper es obligatorio en
// ModePaper y Venue en ModeLive.
type ExecutorDeps struct {
	Books     ports.MarketDataSource
	Venue     ports.OrderVenue
	Paper     *paper.AutoTrader
	Router    *router.Router
	Optimizer *router.PriceOptimizer
	Tracker   *orderbook.Tracker
}

// Execution es el resultado de ejecutar una señal.
type Execution struct {
	Trade          domain.Trade
	Outcome        paper.Outcome
	SizeUSD        decimal.Decimal
	Recommendation router.Recommendation
	Decision       router.Decision
	Simulated      bool
}

// Executor convierte señales en órdenes: chequeos de riesgo, precio límite
// desde el book, ruteo y colocación en el modo configurado.
type Executor struct {
	mode  Mode
	risk  RiskConfig
	state *BotState
	deps  ExecutorDeps
	now   func() time.Time
}

// NewExecutor valida las dependencias del modo.
func NewExecutor(mode Mode, risk RiskConfig, state *BotState, deps ExecutorDeps) (*Executor, error) {
	const op = "engine.NewExecutor"
	switch {
	case deps.Books == nil:
		return nil, domain.Errorf(domain.KindConfig, op, "market data source is required")
	case state == nil:
		return nil, domain.Errorf(domain.KindConfig, op, "bot state is required")
	case mode == ModePaper && deps.Paper == nil:
		return nil, domain.Errorf(domain.KindConfig, op, "paper mode needs a paper trader")
	case mode == ModeLive && deps.Venue == nil:
		return nil, domain.Errorf(domain.KindConfig, op, "live mode needs an order venue: %w", domain.ErrNoCredentials)
	}
	if deps.Router == nil {
		deps.Router = router.New(router.DefaultConfig())
	}
	if _, ok := deps.Router.Venue(VenueID); !ok {
		deps.Router.RegisterVenue(router.NewVenue(VenueID))
	}
	if deps.Optimizer == nil {
		deps.Optimizer = router.NewPriceOptimizer(router.DefaultOptimizerConfig())
	}
	if deps.Tracker == nil {
		deps.Tracker = orderbook.NewTracker(orderbook.DefaultConfig())
	}
	return &Executor{mode: mode, risk: risk, state: state, deps: deps, now: time.Now}, nil
}

// Mode devuelve el modo de ejecución.
func (e *Executor) Mode() Mode { return e.mode }

// Tracker devuelve el tracker de books (imbalance, VPIN por token).
func (e *Executor) Tracker() *orderbook.Tracker { return e.deps.Tracker }

// target resuelve el token que se compra. Una señal SELL sobre YES se ejecuta
// comprando NO al precio complementario.
func target(m domain.Market, sig domain.Signal) (domain.Token, paper.Outcome, float64, error) {
	tok, ok := m.TokenByID(sig.TokenID)
	if !ok {
		return domain.Token{}, "", 0, domain.Errorf(domain.KindMarketNotFound, "engine.target", "token %s not in market %s: %w", sig.TokenID, m.ID, domain.ErrMarketNotFound)
	}
	outcome := paper.Yes
	if yes, ok := m.YesToken(); !ok || yes.TokenID != tok.TokenID {
		outcome = paper.No
	}
	price := sig.MarketProb
	if sig.Side == domain.Sell {
		opp := paper.No
		if outcome == paper.No {
			opp = paper.Yes
		}
		var other domain.Token
		if opp == paper.Yes {
			other, ok = m.YesToken()
		} else {
			other, ok = m.NoToken()
		}
		if !ok || other.TokenID == tok.TokenID {
			return domain.Token{}, "", 0, domain.Errorf(domain.KindExecution, "engine.target", "market %s has no complementary token: %w", m.ID, domain.ErrInvalidInput)
		}
		tok, outcome, price = other, opp, 1-sig.MarketProb
	}
	if price <= 0 || price >= 1 {
		return domain.Token{}, "", 0, domain.Errorf(domain.KindExecution, "engine.target", "price %.4f: %w", price, domain.ErrInvalidPrice)
	}
	return tok, outcome, price, nil
}

// Execute ejecuta la señal con el balance dado. Los rechazos de riesgo son
// domain.KindRiskLimit; book vacío o tamaño cero son domain.KindExecution.
func (e *Executor) Execute(ctx context.Context, market domain.Market, sig domain.Signal, balance decimal.Decimal) (Execution, error) {
	const op = "engine.Executor.Execute"

	tok, outcome, price, err := target(market, sig)
	if err != nil {
		return Execution{}, err
	}
	sizeUSD := balance.Mul(decimal.NewFromFloat(sig.SuggestedSize)).RoundDown(2)
	if !sizeUSD.IsPositive() {
		return Execution{}, domain.E(domain.KindExecution, op, domain.ErrZeroSize)
	}
	if err := e.risk.Check(e.state, sig, sizeUSD, balance); err != nil {
		return Execution{}, err
	}

	book, err := e.deps.Books.GetBook(ctx, tok.TokenID)
	if err != nil {
		return Execution{}, fmt.Errorf("%s: book %s: %w", op, tok.TokenID, err)
	}
	if book.Timestamp.IsZero() {
		book.Timestamp = e.now()
	}
	book.Normalize()
	e.deps.Tracker.For(tok.TokenID).OnSnapshot(book)
	ask, ok := book.BestAsk()
	if !ok {
		return Execution{}, domain.Errorf(domain.KindExecution, op, "no asks for %s: %w", tok.TokenID, domain.ErrEmptyBook)
	}

	shares := domain.Div(sizeUSD, decimal.NewFromFloat(price)).RoundDown(2)
	if !shares.IsPositive() {
		return Execution{}, domain.E(domain.KindExecution, op, domain.ErrZeroSize)
	}

	urgency := 0.5
	if rem := market.TimeRemaining(e.now()); rem > 0 && rem < urgentWindow {
		urgency = 0.9
	}
	rec, err := e.deps.Optimizer.Optimize(book, domain.Buy, sig.Edge, urgency)
	if err != nil {
		rec = router.Recommendation{Type: domain.LimitOrder(ask.Price), Price: ask.Price, Reason: "best ask"}
	}

	// El ruteo estima costo y slippage de cruzar el book.
	if err := e.deps.Router.UpdateLiquidity(router.Liquidity{VenueID: VenueID, Symbol: tok.TokenID, Book: book}); err != nil {
		return Execution{}, fmt.Errorf("%s: %w", op, err)
	}
	parent := router.NewParentOrder(tok.TokenID, domain.Buy, shares, domain.MarketOrder())
	parent.Urgency = urgency
	dec := e.deps.Router.Route(parent)
	if len(dec.Children) == 0 {
		return Execution{}, domain.Errorf(domain.KindExecution, op, "no routable liquidity for %s: %w", tok.TokenID, domain.ErrEmptyBook)
	}
	// Solo una orden a mercado paga el slippage estimado; las límite lo acotan con su precio.
	if dec.ExceedsSlippage {
		if rec.Type.Kind == domain.TypeMarket {
			return Execution{}, domain.Errorf(domain.KindExecution, op, "expected slippage %.1f bps too high", dec.ExpectedSlippageBps)
		}
		slog.Debug("crossing would exceed slippage, keeping limit order", "token", tok.TokenID, "slippage_bps", dec.ExpectedSlippageBps)
	}

	ex := Execution{Outcome: outcome, SizeUSD: sizeUSD, Recommendation: rec, Decision: dec}
	now := e.now()

	switch e.mode {
	case ModeDryRun:
		slog.Info("SIMULATED order",
			"market", domain.TruncateQuestion(market.Question, market.ID, 40),
			"outcome", string(outcome),
			"usd", sizeUSD.StringFixed(2),
			"price", rec.Price.StringFixed(4),
			"type", rec.Type.String(),
			"potential", sizeUSD.Mul(decimal.NewFromFloat(sig.Edge)).StringFixed(2),
		)
		ex.Simulated = true
		ex.Trade = domain.Trade{
			ID: uuid.NewString(), OrderID: "dry-run", TokenID: tok.TokenID, MarketID: market.ID,
			Side: domain.Buy, Price: rec.Price, Size: shares, Fee: domain.Zero, PnL: domain.Zero, Timestamp: now,
		}
		return ex, nil

	case ModePaper:
		pos, err := e.deps.Paper.Buy(market, outcome, sizeUSD, sig.Reason)
		if err != nil {
			return Execution{}, fmt.Errorf("%s: %w", op, err)
		}
		ex.Trade = domain.Trade{
			ID: uuid.NewString(), OrderID: pos.ID, TokenID: pos.TokenID, MarketID: market.ID,
			Side: domain.Buy, Price: pos.EntryPrice, Size: pos.Shares,
			Fee: pos.CostBasis.Sub(sizeUSD), PnL: domain.Zero, Timestamp: pos.OpenedAt,
		}
		e.feedback(market.ID, book, rec, sig, shares, ex.Trade.Size, ex.Trade.Price, true)

	case ModeLive:
		order := domain.Order{TokenID: tok.TokenID, Side: domain.Buy, Price: rec.Price, Size: shares, Type: rec.Type, NegRisk: market.NegRisk}
		st, err := e.deps.Venue.PlaceOrder(ctx, order)
		if err != nil {
			e.deps.Router.RecordFeedback(router.Feedback{VenueID: VenueID, RequestedQty: shares, RequestedPrice: rec.Price, Err: err.Error()})
			return Execution{}, fmt.Errorf("%s: place order: %w", op, err)
		}
		ex.Trade = domain.Trade{
			ID: uuid.NewString(), OrderID: st.OrderID, TokenID: tok.TokenID, MarketID: market.ID,
			Side: domain.Buy, Price: rec.Price, Size: shares, Fee: domain.Zero, PnL: domain.Zero, Timestamp: now,
		}
		filled := st.FilledSize
		if st.State == domain.OrderFilled && filled.IsZero() {
			filled = shares
		}
		e.feedback(market.ID, book, rec, sig, shares, filled, rec.Price, st.State != domain.OrderRejected)
	}

	e.state.Record(ex.Trade)
	slog.Info("order executed",
		"mode", e.mode.String(),
		"market", market.ID,
		"outcome", string(outcome),
		"shares", ex.Trade.Size.StringFixed(2),
		"price", ex.Trade.Price.StringFixed(4),
		"type", rec.Type.String(),
	)
	return ex, nil
}

// feedback alimenta las métricas del venue y la curva de fills del optimizador.
func (e *Executor) feedback(marketID string, book domain.OrderBook, rec router.Recommendation, sig domain.Signal, requested, filled, actual decimal.Decimal, success bool) {
	mid, _ := book.Mid()
	var slip float64
	if rec.Price.IsPositive() {
		slip = domain.Float(domain.Div(actual.Sub(rec.Price), rec.Price).Mul(domain.BpsFactor))
	}
	e.deps.Router.RecordFeedback(router.Feedback{
		ChildID:        uuid.NewString(),
		VenueID:        VenueID,
		RequestedQty:   requested,
		FilledQty:      filled,
		RequestedPrice: rec.Price,
		ActualPrice:    actual,
		SlippageBps:    slip,
		Success:        success,
	})
	e.deps.Optimizer.RecordFill(marketID, router.FillRecord{
		PassiveBps: router.PassiveBps(domain.Buy, rec.Price, mid),
		Filled:     filled.IsPositive(),
		EdgeBps:    sig.Edge * 1e4,
		Timestamp:  e.now(),
	})
}
