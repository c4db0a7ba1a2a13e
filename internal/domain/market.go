package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market representa un mercado de predicción en Polymarket.
// Los mercados binarios tienen exactamente dos tokens (YES/NO) cuyos precios suman ~1.
type Market struct {
	ID          string // condition id
	Slug        string
	Question    string
	Description string
	EndTime     time.Time // fecha de resolución
	Volume      decimal.Decimal
	Liquidity   decimal.Decimal
	Active      bool
	Closed      bool
	NegRisk     bool
	Tokens      []Token
}

// Token es uno de los outcomes del mercado.
type Token struct {
	TokenID string
	Outcome string          // "Yes" | "No" | "Up" | "Down" | ...
	Price   decimal.Decimal // último precio del CLOB, en [0,1]
}

// MarketFilter restringe el listado de mercados.
type MarketFilter struct {
	ActiveOnly   bool
	Limit        int
	MinLiquidity decimal.Decimal
	Keyword      string // coincidencia case-insensitive sobre la pregunta
}

// Matches devuelve true si el mercado pasa el filtro (el límite se aplica aparte).
func (f MarketFilter) Matches(m Market) bool {
	if f.ActiveOnly && (!m.Active || m.Closed) {
		return false
	}
	if f.MinLiquidity.IsPositive() && m.Liquidity.LessThan(f.MinLiquidity) {
		return false
	}
	if f.Keyword != "" && !strings.Contains(strings.ToLower(m.Question), strings.ToLower(f.Keyword)) {
		return false
	}
	return true
}

// IsBinary devuelve true si el mercado tiene exactamente dos outcomes.
func (m Market) IsBinary() bool {
	return len(m.Tokens) == 2
}

// TokenByOutcome busca un token por nombre de outcome (case-insensitive).
func (m Market) TokenByOutcome(outcome string) (Token, bool) {
	for _, t := range m.Tokens {
		if strings.EqualFold(t.Outcome, outcome) {
			return t, true
		}
	}
	return Token{}, false
}

// TokenByID busca un token por id.
func (m Market) TokenByID(tokenID string) (Token, bool) {
	for _, t := range m.Tokens {
		if t.TokenID == tokenID {
			return t, true
		}
	}
	return Token{}, false
}

// YesToken devuelve el token YES (o el primero si los outcomes no se llaman Yes/No).
func (m Market) YesToken() (Token, bool) {
	if t, ok := m.TokenByOutcome("Yes"); ok {
		return t, true
	}
	if len(m.Tokens) > 0 {
		return m.Tokens[0], true
	}
	return Token{}, false
}

// NoToken devuelve el token NO (o el segundo).
func (m Market) NoToken() (Token, bool) {
	if t, ok := m.TokenByOutcome("No"); ok {
		return t, true
	}
	if len(m.Tokens) > 1 {
		return m.Tokens[1], true
	}
	return Token{}, false
}

// YesPrice devuelve el precio del token YES o cero si no existe.
func (m Market) YesPrice() decimal.Decimal {
	t, ok := m.YesToken()
	if !ok {
		return Zero
	}
	return t.Price
}

// OutcomeSum devuelve la suma de precios de todos los outcomes.
// En un mercado sano es ~1; por debajo de 1 hay arbitraje.
func (m Market) OutcomeSum() decimal.Decimal {
	sum := Zero
	for _, t := range m.Tokens {
		sum = sum.Add(t.Price)
	}
	return sum
}

// TimeRemaining devuelve el tiempo hasta la resolución (cero si ya pasó o no se conoce).
func (m Market) TimeRemaining(now time.Time) time.Duration {
	if m.EndTime.IsZero() {
		return 0
	}
	d := m.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// HoursToResolution devuelve las horas hasta que el mercado se resuelve.
func (m Market) HoursToResolution(now time.Time) float64 {
	return m.TimeRemaining(now).Hours()
}

// TruncateQuestion devuelve la pregunta del mercado truncada a maxLen caracteres.
// Si la pregunta está vacía usa los primeros caracteres del id como fallback.
func TruncateQuestion(question, id string, maxLen int) string {
	q := question
	if q == "" {
		if len(id) > 20 {
			q = id[:20] + "..."
		} else {
			q = id
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
