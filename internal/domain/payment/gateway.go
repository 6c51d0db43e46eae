package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var _ Gateway = StubGateway{}

// StubGateway accepts every charge and returns a random transaction id.
type StubGateway struct{}

func (StubGateway) Charge(ctx context.Context, _ string, _ decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "txn-" + uuid.New().String(), nil
}
