package domain

import (
	"github.com/shopspring/decimal"
)

// DivPrecision es la cantidad de dígitos fraccionarios que conservan las divisiones.
const DivPrecision = 28

var (
	// Zero y One evitan reconstruir constantes en cada cálculo.
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
	// BpsFactor convierte fracciones a basis points.
	BpsFactor = decimal.NewFromInt(10000)
)

// Dec construye un decimal desde un float (solo para constantes de config y tests).
func Dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// MustDec parsea un literal decimal y hace panic si no es válido.
// Pensado para constantes conocidas en tiempo de compilación.
func MustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Div divide con 28 dígitos de precisión. Devuelve cero si b es cero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return Zero
	}
	return a.DivRound(b, DivPrecision)
}

// Clamp limita v al rango [lo, hi].
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Float devuelve la representación float64 para cálculos estadísticos.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
