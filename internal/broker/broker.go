// Package broker defines the execution-venue interface and provides the
// paper-trading simulator implementation.
package broker

import (
	"context"

	"github.com/efreitasn/papertrader/internal/domain"
)

// FillHandler receives the trade synthesized for a fill, keyed by the
// broker's own order ID. Handlers are invoked on the broker's goroutine and
// must not block for long.
type FillHandler func(brokerOrderID string, trade *domain.Trade)

// Broker abstracts an execution venue. Submit returns the venue's order ID;
// fills are reported asynchronously through the registered FillHandler, and
// Status supports poll-based reconciliation.
type Broker interface {
	// Name returns the venue identifier (e.g. "paper", "live").
	Name() string

	// Submit sends an order for execution and returns the broker order ID.
	Submit(ctx context.Context, order *domain.Order) (string, error)

	// Replace amends price/quantity fields of a working order in place.
	Replace(ctx context.Context, order *domain.Order) error

	// Cancel requests cancellation of a working order.
	Cancel(ctx context.Context, order *domain.Order) error

	// Status returns the venue's status string for a broker order ID. The
	// caller translates venue dialect into domain.OrderStatus.
	Status(ctx context.Context, brokerOrderID string) (string, error)

	// SetFillHandler registers the callback invoked once per fill event.
	SetFillHandler(h FillHandler)
}
