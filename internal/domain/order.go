package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side es el lado de una orden.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// Opposite devuelve el lado contrario.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign devuelve +1 para Buy y -1 para Sell.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// MarshalText permite serializar Side como "BUY"/"SELL" en JSON.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText acepta "BUY"/"SELL" y sus abreviaturas.
func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSide convierte un string al Side correspondiente.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY", "B", "BID":
		return Buy, nil
	case "SELL", "S", "ASK":
		return Sell, nil
	}
	return Buy, fmt.Errorf("parse side %q: %w", v, ErrInvalidInput)
}

// OrderKind identifica el tipo de ejecución.
type OrderKind int

const (
	TypeMarket OrderKind = iota
	TypeLimit
	TypeAggressiveLimit
	TypePostOnly
	TypeIOC
)

func (k OrderKind) String() string {
	switch k {
	case TypeLimit:
		return "LIMIT"
	case TypeAggressiveLimit:
		return "AGGRESSIVE_LIMIT"
	case TypePostOnly:
		return "POST_ONLY"
	case TypeIOC:
		return "IOC"
	default:
		return "MARKET"
	}
}

// OrderType combina el tipo con su precio límite (ignorado para Market).
type OrderType struct {
	Kind  OrderKind
	Price decimal.Decimal
}

func MarketOrder() OrderType                 { return OrderType{Kind: TypeMarket} }
func LimitOrder(p decimal.Decimal) OrderType { return OrderType{Kind: TypeLimit, Price: p} }
func AggressiveLimitOrder(p decimal.Decimal) OrderType {
	return OrderType{Kind: TypeAggressiveLimit, Price: p}
}
func PostOnlyOrder(p decimal.Decimal) OrderType { return OrderType{Kind: TypePostOnly, Price: p} }
func IOCOrder(p decimal.Decimal) OrderType      { return OrderType{Kind: TypeIOC, Price: p} }

// LimitPrice devuelve el precio límite y si el tipo lo tiene.
func (t OrderType) LimitPrice() (decimal.Decimal, bool) {
	if t.Kind == TypeMarket {
		return Zero, false
	}
	return t.Price, true
}

func (t OrderType) String() string {
	if t.Kind == TypeMarket {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", t.Kind, t.Price.StringFixed(4))
}

// Order es una petición de orden hacia el venue.
type Order struct {
	TokenID string
	Side    Side
	Price   decimal.Decimal
	Size    decimal.Decimal // en shares
	Type    OrderType
	NegRisk bool
}

// Notional devuelve price × size.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Size)
}

// OrderState es el estado del ciclo de vida de una orden en el venue.
type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderOpen      OrderState = "OPEN"
	OrderPartial   OrderState = "PARTIAL"
	OrderFilled    OrderState = "FILLED"
	OrderCancelled OrderState = "CANCELLED"
	OrderRejected  OrderState = "REJECTED"
)

// OrderStatus es la respuesta del venue sobre una orden.
type OrderStatus struct {
	OrderID       string
	TokenID       string
	Side          Side
	State         OrderState
	FilledSize    decimal.Decimal
	RemainingSize decimal.Decimal
	AvgPrice      decimal.Decimal
	CreatedAt     time.Time
}

// IsTerminal devuelve true si la orden ya no puede cambiar.
func (s OrderStatus) IsTerminal() bool {
	return s.State == OrderFilled || s.State == OrderCancelled || s.State == OrderRejected
}

// Trade es el registro de un fill.
type Trade struct {
	ID        string
	OrderID   string
	TokenID   string
	MarketID  string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Fee       decimal.Decimal
	PnL       decimal.Decimal // realizado; solo en cierres
	Timestamp time.Time
}

// Notional devuelve price × size.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// Position es una posición abierta en el venue.
type Position struct {
	TokenID       string
	MarketID      string
	Side          Side
	Size          decimal.Decimal
	AvgEntry      decimal.Decimal
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// MarkToMarket recalcula el PnL no realizado a un precio nuevo.
func (p *Position) MarkToMarket(price decimal.Decimal) {
	p.CurrentPrice = price
	diff := price.Sub(p.AvgEntry)
	if p.Side == Sell {
		diff = diff.Neg()
	}
	p.UnrealizedPnL = diff.Mul(p.Size)
}

// MergeResult es el resultado de un merge on-chain de un par YES+NO (o Up+Down).
type MergeResult struct {
	ConditionID  string
	TxHash       string
	GasUsed      uint64
	USDCReceived decimal.Decimal
	Success      bool
	Error        string
	ExecutedAt   time.Time
}
