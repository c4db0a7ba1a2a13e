package domain

import (
	"errors"
	"fmt"
)

// Kind clasifica los errores para que el loop decida si reintenta, salta o pausa.
type Kind int

const (
	KindInternal Kind = iota
	KindConfig
	KindAuth
	KindNetwork
	KindAPI
	KindMarketNotFound
	KindExecution
	KindRiskLimit
	KindNumeric
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindAPI:
		return "api"
	case KindMarketNotFound:
		return "market_not_found"
	case KindExecution:
		return "execution"
	case KindRiskLimit:
		return "risk_limit"
	case KindNumeric:
		return "numeric"
	default:
		return "internal"
	}
}

// Error es un error tipado con la operación que lo produjo.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E construye un *Error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf construye un *Error con mensaje formateado (admite %w).
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// kindError asocia un Kind a los errores centinela.
type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

// Errores centinela. Se comparan con errors.Is.
var (
	ErrInvalidInput        error = &kindError{KindInternal, "invalid input"}
	ErrCrossedBook         error = &kindError{KindAPI, "crossed order book"}
	ErrEmptyBook           error = &kindError{KindExecution, "empty order book"}
	ErrMarketNotFound      error = &kindError{KindMarketNotFound, "market not found"}
	ErrPositionNotFound    error = &kindError{KindExecution, "position not found"}
	ErrInsufficientBalance error = &kindError{KindExecution, "insufficient balance"}
	ErrInvalidPrice        error = &kindError{KindExecution, "invalid price"}
	ErrZeroSize            error = &kindError{KindExecution, "order size is zero"}
	ErrRiskLimit           error = &kindError{KindRiskLimit, "risk limit exceeded"}
	ErrSingularMatrix      error = &kindError{KindNumeric, "singular matrix"}
	ErrDivideByZero        error = &kindError{KindNumeric, "divide by zero"}
	ErrInsufficientData    error = &kindError{KindNumeric, "insufficient data"}
	ErrNoCredentials       error = &kindError{KindAuth, "missing credentials"}
)

// KindOf devuelve el Kind del primer error tipado en la cadena.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindInternal
}

// IsKind devuelve true si err pertenece al Kind dado.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
