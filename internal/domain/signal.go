package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal es una oportunidad de trading detectada en un escaneo.
// Se crea por escaneo y se consume una sola vez.
type Signal struct {
	MarketID      string
	TokenID       string
	Side          Side
	ModelProb     float64 // probabilidad estimada del outcome operado
	MarketProb    float64 // precio de mercado del outcome operado
	Edge          float64 // ModelProb - MarketProb
	Confidence    float64
	SuggestedSize float64 // fracción del equity
	Reason        string
	Timestamp     time.Time
}

// Prediction es la salida de un ProbabilityModel para la probabilidad de YES.
type Prediction struct {
	Probability float64
	Confidence  float64
	Reasoning   string
}

// PriceTick es un precio de un feed externo.
type PriceTick struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// TradeTick es un trade ejecutado en un feed externo o en el CLOB.
type TradeTick struct {
	Symbol    string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Side      Side // lado del agresor
	Timestamp time.Time
}

// RawSignal es un mensaje crudo de una fuente social/chat.
type RawSignal struct {
	Source      string
	Author      string
	AuthorTrust float64
	Content     string
	Timestamp   time.Time
	Metadata    map[string]string
}

// Bar es una vela OHLCV. Los valores son float64 porque solo alimentan estadísticas.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
