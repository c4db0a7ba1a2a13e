package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// mapGammaMarkets convierte los DTOs de Gamma a domain.Market. Los mercados
// sin tokens del CLOB se descartan: no se pueden operar.
func mapGammaMarkets(raw []gammaMarket) []domain.Market {
	markets := make([]domain.Market, 0, len(raw))
	for _, r := range raw {
		if m, ok := mapGammaMarket(r); ok {
			markets = append(markets, m)
		}
	}
	return markets
}

// mapGammaMarket convierte un gammaMarket. outcomes, outcomePrices y
// clobTokenIds vienen como JSON embebido ("[\"Yes\", \"No\"]").
func mapGammaMarket(r gammaMarket) (domain.Market, bool) {
	ids := jsonStrings(r.ClobTokenIDs)
	if len(ids) == 0 {
		return domain.Market{}, false
	}
	names := jsonStrings(r.Outcomes)
	if len(names) == 0 {
		names = []string{"Yes", "No"}
	}
	prices := jsonStrings(r.OutcomePrices)

	id := r.ConditionID
	if id == "" {
		id = r.ID
	}
	m := domain.Market{
		ID:          id,
		Slug:        r.Slug,
		Question:    r.Question,
		Description: r.Description,
		EndTime:     parseEndDate(r.EndDate, r.EndDateISO),
		Volume:      parseDec(r.Volume.String()),
		Liquidity:   parseDec(r.Liquidity.String()),
		Active:      r.Active,
		Closed:      r.Closed,
		NegRisk:     r.NegRisk,
		Tokens:      make([]domain.Token, 0, len(ids)),
	}
	for i, tid := range ids {
		t := domain.Token{TokenID: tid, Price: domain.Zero}
		if i < len(names) {
			t.Outcome = names[i]
		}
		if i < len(prices) {
			t.Price = parseDec(prices[i])
		}
		m.Tokens = append(m.Tokens, t)
	}
	return m, true
}

// jsonStrings decodifica una lista JSON embebida. Acepta strings o números.
func jsonStrings(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out
	}
	var nums []json.Number
	if err := json.Unmarshal([]byte(s), &nums); err == nil {
		out = make([]string, len(nums))
		for i, n := range nums {
			out[i] = n.String()
		}
		return out
	}
	return nil
}

func parseDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return domain.Zero
	}
	return d
}

// parseEndDate prueba los formatos que usa Gamma.
func parseEndDate(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02T15:04:05Z",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse, now time.Time) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = mapOrderBook(r, now)
	}
	return result
}

// mapOrderBook convierte un book y lo normaliza (bids desc, asks asc).
// El CLOB devuelve los asks de mayor a menor.
func mapOrderBook(r orderBookResponse, now time.Time) domain.OrderBook {
	ob := domain.OrderBook{
		TokenID:   r.AssetID,
		Bids:      mapBookEntries(r.Bids),
		Asks:      mapBookEntries(r.Asks),
		Timestamp: parseTimestamp(r.Timestamp),
	}
	if ob.Timestamp.IsZero() {
		ob.Timestamp = now
	}
	ob.Normalize()
	return ob
}

func mapBookEntries(raw []bookEntryRaw) []domain.BookLevel {
	levels := make([]domain.BookLevel, 0, len(raw))
	for _, r := range raw {
		price, size := parseDec(r.Price), parseDec(r.Size)
		if !price.IsPositive() || !size.IsPositive() {
			continue
		}
		levels = append(levels, domain.BookLevel{Price: price, Quantity: size})
	}
	return levels
}

// mapDataTrade convierte un trade de la Data API en un TradeTick.
func mapDataTrade(rt rawDataTrade) (domain.TradeTick, bool) {
	side, err := domain.ParseSide(rt.Side)
	if err != nil {
		return domain.TradeTick{}, false
	}
	price, size := parseDec(rt.Price.String()), parseDec(rt.Size.String())
	if !price.IsPositive() || !size.IsPositive() {
		return domain.TradeTick{}, false
	}
	return domain.TradeTick{
		Symbol:    rt.Asset,
		Price:     price,
		Quantity:  size,
		Side:      side,
		Timestamp: parseTimestamp(rt.Timestamp.String()),
	}, true
}

// mapPosition convierte una posición de la Data API.
func mapPosition(p rawPosition) domain.Position {
	pos := domain.Position{
		TokenID:  p.Asset,
		MarketID: p.ConditionID,
		Side:     domain.Buy,
		Size:     parseDec(p.Size.String()),
		AvgEntry: parseDec(p.AvgPrice.String()),
	}
	pos.MarkToMarket(parseDec(p.CurPrice.String()))
	return pos
}

// parseTimestamp acepta unix en segundos o milisegundos, con o sin decimales, o ISO 8601.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseUSDC convierte micro-USDC ("1000000") a USDC.
func parseUSDC(s string) decimal.Decimal {
	return parseDec(s).Shift(-6)
}
