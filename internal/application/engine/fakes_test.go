package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/paper"
)

type fakeMarkets struct {
	mu      sync.Mutex
	markets []domain.Market
	books   map[string]domain.OrderBook
	mids    map[string]decimal.Decimal
	extra   map[string]domain.Market // solo visibles vía GetMarket
}

func (f *fakeMarkets) ListMarkets(_ context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.Market(nil), f.markets...)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeMarkets) GetMarket(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.markets {
		if m.ID == id {
			return m, nil
		}
	}
	if m, ok := f.extra[id]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrMarketNotFound
}

func (f *fakeMarkets) GetBook(_ context.Context, tokenID string) (domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[tokenID]
	if !ok {
		return domain.OrderBook{}, errors.New("no book")
	}
	return b, nil
}

func (f *fakeMarkets) GetMidpoint(_ context.Context, tokenID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.mids[tokenID]
	if !ok {
		return domain.Zero, errors.New("no midpoint")
	}
	return p, nil
}

func (f *fakeMarkets) setMid(tokenID string, p decimal.Decimal) {
	f.mu.Lock()
	f.mids[tokenID] = p
	f.mu.Unlock()
}

type fakeModel struct {
	preds map[string]domain.Prediction
}

func (m *fakeModel) ID() string { return "fake" }

func (m *fakeModel) Predict(_ context.Context, market domain.Market) (domain.Prediction, error) {
	p, ok := m.preds[market.ID]
	if !ok {
		return domain.Prediction{}, domain.ErrInsufficientData
	}
	return p, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	texts   []string
	signals int
	trades  []domain.Trade
	alerts  []string
	reports []domain.DailyStats
	errs    int
}

func (n *fakeNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) SignalFound(context.Context, domain.Market, domain.Signal) error {
	n.mu.Lock()
	n.signals++
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) TradeExecuted(_ context.Context, t domain.Trade) error {
	n.mu.Lock()
	n.trades = append(n.trades, t)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) DailyReport(_ context.Context, s domain.DailyStats, _ decimal.Decimal) error {
	n.mu.Lock()
	n.reports = append(n.reports, s)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) RiskAlert(_ context.Context, reason string) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, reason)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) Error(context.Context, error) error {
	n.mu.Lock()
	n.errs++
	n.mu.Unlock()
	return nil
}

type fakeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *fakeStore) SaveTrade(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	s.trades = append(s.trades, t)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) GetDailyStats(context.Context) (domain.DailyStats, error) {
	return domain.DailyStats{}, nil
}

func (s *fakeStore) GetTrades(_ context.Context, from, to time.Time) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if !t.Timestamp.Before(from) && t.Timestamp.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) all() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Trade(nil), s.trades...)
}

// binary crea un mercado YES/NO con liquidez suficiente.
func binary(id, yes string) domain.Market {
	y := d(yes)
	return domain.Market{
		ID:        id,
		Question:  "Will " + id + " happen?",
		Active:    true,
		Liquidity: d("20000"),
		Tokens: []domain.Token{
			{TokenID: id + "-yes", Outcome: "Yes", Price: y},
			{TokenID: id + "-no", Outcome: "No", Price: domain.One.Sub(y)},
		},
	}
}

func book(token, bid, ask string) domain.OrderBook {
	return domain.OrderBook{
		TokenID: token,
		Bids:    []domain.BookLevel{{Price: d(bid), Quantity: d("1000")}},
		Asks:    []domain.BookLevel{{Price: d(ask), Quantity: d("1000")}},
	}
}

func newPaper(t *testing.T) *paper.AutoTrader {
	t.Helper()
	dir := t.TempDir()
	cfg := paper.DefaultAutoConfig()
	cfg.StateFile = filepath.Join(dir, "state.json")
	cfg.AuditFile = filepath.Join(dir, "audit.jsonl")
	cfg.SnapshotsDir = filepath.Join(dir, "snapshots")
	cfg.LogPrices = false
	return paper.NewAutoTrader(paper.NewTrader(paper.DefaultConfig()), cfg)
}
