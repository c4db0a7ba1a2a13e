package ports

import (
	"context"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// ProbabilityModel estima la probabilidad de YES de un mercado.
type ProbabilityModel interface {
	// ID identifica al modelo en logs y pesos del ensemble.
	ID() string
	Predict(ctx context.Context, market domain.Market) (domain.Prediction, error)
}
