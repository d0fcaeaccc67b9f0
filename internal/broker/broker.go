// Package broker abstracts the trading venue. The engine treats it as
// an opaque collaborator: retries and backoff on transient errors are
// the implementation's problem, and no response within the verification
// timeout means "unverified", never success or failure.
package broker

import (
	"context"

	"trade_engine/internal/models"
)

type Broker interface {
	// Name returns the broker identifier (e.g. "sim").
	Name() string

	// SubmitOrder sends a command to the venue and returns its order id.
	SubmitOrder(ctx context.Context, cmd models.Command) (string, error)

	// GetPositions returns the broker's live position book for one strategy
	// scope. This is the authoritative truth reconciliation trusts.
	GetPositions(ctx context.Context, strategy string) ([]models.Position, error)

	// GetOrderStatus reports the order-management status of a submitted order.
	GetOrderStatus(ctx context.Context, orderID string) (models.OrderStatus, error)
}
