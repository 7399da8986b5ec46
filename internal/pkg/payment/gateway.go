package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MarkusWeber/ShotVault/internal/pkg/plans"
)

// Receipt is the gateway's confirmation of a successful charge.
type Receipt struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	ChargedAt time.Time       `json:"charged_at"`
}

// Gateway is the payment collaborator consumed by the transition executor.
// Charges happen before a transition commits, so a gateway failure aborts
// the transition with the subscription state untouched.
type Gateway interface {
	Charge(ctx context.Context, userID uint, plan plans.Plan, amount decimal.Decimal) (*Receipt, error)
	Refund(ctx context.Context, userID uint, amount decimal.Decimal) error
}
