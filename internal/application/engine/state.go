package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// CommandKind identifica una orden del operador.
type CommandKind int

const (
	CmdPause CommandKind = iota
	CmdResume
	CmdStatus
	CmdMarkets
	CmdPnL
	CmdPositions
)

func (k CommandKind) String() string {
	switch k {
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdStatus:
		return "status"
	case CmdMarkets:
		return "markets"
	case CmdPnL:
		return "pnl"
	case CmdPositions:
		return "positions"
	}
	return "unknown"
}

// ParseCommand acepta el nombre del comando con o sin "/" inicial.
func ParseCommand(s string) (CommandKind, error) {
	if len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	for k := CmdPause; k <= CmdPositions; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("engine.ParseCommand: %q: %w", s, domain.ErrInvalidInput)
}

// Command es un pedido del operador. Limit solo aplica a CmdMarkets.
type Command struct {
	Kind  CommandKind
	Limit int
}

// Holding es la exposición del bot en un token.
type Holding struct {
	TokenID  string
	MarketID string
	Shares   decimal.Decimal
	Cost     decimal.Decimal // USDC invertidos
}

// Status es la foto del estado que exponen /status y los comandos.
type Status struct {
	Paused        bool            `json:"paused"`
	LossLimitHit  bool            `json:"loss_limit_hit"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	OpenPositions int             `json:"open_positions"`
	Exposure      decimal.Decimal `json:"exposure"`
	TradesHour    int             `json:"trades_this_hour"`
	Day           string          `json:"day"`
}

// BotState es el estado compartido entre el loop de trading, los comandos y
// el servidor de métricas. Lecturas frecuentes, escrituras cortas.
type BotState struct {
	now func() time.Time

	mu           sync.RWMutex
	paused       bool
	lossLimitHit bool
	dailyPnL     decimal.Decimal
	day          time.Time
	holdings     map[string]*Holding
	hourlyCount  int
	hourStart    time.Time
}

// NewBotState crea el estado para el día UTC actual.
func NewBotState(now func() time.Time) *BotState {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &BotState{
		now:       now,
		dailyPnL:  domain.Zero,
		day:       utcDay(t),
		holdings:  make(map[string]*Holding),
		hourStart: t,
	}
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Pause detiene el trading hasta Resume.
func (s *BotState) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume reanuda el trading y limpia el flag de pérdida diaria.
func (s *BotState) Resume() {
	s.mu.Lock()
	s.paused = false
	s.lossLimitHit = false
	s.mu.Unlock()
}

// Paused indica si el trading está pausado.
func (s *BotState) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// DailyPnL devuelve el PnL realizado del día.
func (s *BotState) DailyPnL() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDay()
	return s.dailyPnL
}

// rollDay resetea el PnL diario al cambiar el día UTC. Requiere el lock de escritura.
func (s *BotState) rollDay() bool {
	d := utcDay(s.now())
	if d.Equal(s.day) {
		return false
	}
	s.day = d
	s.dailyPnL = domain.Zero
	return true
}

// RollDay fuerza el chequeo de cambio de día y devuelve true si hubo cambio.
func (s *BotState) RollDay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollDay()
}

// AddPnL suma pnl al día. Si la pérdida supera maxLoss (monto positivo) por
// primera vez, pausa el trading y devuelve true.
func (s *BotState) AddPnL(pnl, maxLoss decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDay()
	s.dailyPnL = s.dailyPnL.Add(pnl)
	if maxLoss.IsPositive() && s.dailyPnL.LessThan(maxLoss.Neg()) && !s.lossLimitHit {
		s.lossLimitHit = true
		s.paused = true
		return true
	}
	return false
}

// AllowTrade indica si queda cupo en la hora actual. La ventana se reinicia
// cuando pasó una hora o más.
func (s *BotState) AllowTrade(maxPerHour int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollHour()
	return maxPerHour <= 0 || s.hourlyCount < maxPerHour
}

func (s *BotState) rollHour() {
	now := s.now()
	if now.Sub(s.hourStart) >= time.Hour {
		s.hourlyCount = 0
		s.hourStart = now
	}
}

// Record registra un trade ejecutado: suma al cupo horario y actualiza la
// exposición del token. Las ventas reducen shares y costo proporcionalmente.
func (s *BotState) Record(t domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollHour()
	s.hourlyCount++

	h, ok := s.holdings[t.TokenID]
	if !ok {
		h = &Holding{TokenID: t.TokenID, MarketID: t.MarketID, Shares: domain.Zero, Cost: domain.Zero}
		s.holdings[t.TokenID] = h
	}
	if t.Side == domain.Buy {
		h.Shares = h.Shares.Add(t.Size)
		h.Cost = h.Cost.Add(t.Notional())
	} else {
		if h.Shares.IsPositive() {
			frac := domain.Div(t.Size, h.Shares)
			h.Cost = h.Cost.Sub(h.Cost.Mul(frac)).Round(6)
		}
		h.Shares = h.Shares.Sub(t.Size)
	}
	if !h.Shares.IsPositive() {
		delete(s.holdings, t.TokenID)
	}
}

// Restore carga una posición abierta de una sesión anterior sin contar en el
// cupo horario. Si el token ya existe suma shares y costo.
func (s *BotState) Restore(h Holding) {
	if !h.Shares.IsPositive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.holdings[h.TokenID]; ok {
		cur.Shares = cur.Shares.Add(h.Shares)
		cur.Cost = cur.Cost.Add(h.Cost)
		return
	}
	s.holdings[h.TokenID] = &h
}

// Close elimina la exposición de un token (cierre externo, settlement).
func (s *BotState) Close(tokenID string) {
	s.mu.Lock()
	delete(s.holdings, tokenID)
	s.mu.Unlock()
}

// Holds indica si hay posición en el token.
func (s *BotState) Holds(tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.holdings[tokenID]
	return ok
}

// Holdings devuelve las posiciones ordenadas por token.
func (s *BotState) Holdings() []Holding {
	s.mu.RLock()
	out := make([]Holding, 0, len(s.holdings))
	for _, h := range s.holdings {
		out = append(out, *h)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// Exposure devuelve el costo total de las posiciones abiertas.
func (s *BotState) Exposure() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := domain.Zero
	for _, h := range s.holdings {
		total = total.Add(h.Cost)
	}
	return total
}

// Snapshot devuelve el estado observable.
func (s *BotState) Snapshot() Status {
	s.mu.Lock()
	s.rollDay()
	s.rollHour()
	st := Status{
		Paused:        s.paused,
		LossLimitHit:  s.lossLimitHit,
		DailyPnL:      s.dailyPnL,
		OpenPositions: len(s.holdings),
		TradesHour:    s.hourlyCount,
		Day:           s.day.Format("2006-01-02"),
	}
	s.mu.Unlock()
	st.Exposure = s.Exposure()
	return st
}
