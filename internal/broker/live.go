package broker

import (
	"context"

	"github.com/efreitasn/papertrader/internal/domain"
)

// Live is a placeholder for a real brokerage connection. Every call fails
// with ErrBrokerUnavailable until an adapter is wired in, so selecting
// BROKER_MODE=live surfaces loudly instead of silently paper trading.
type Live struct{}

// NewLive returns the unconnected live venue.
func NewLive() *Live { return &Live{} }

func (l *Live) Name() string { return "live" }

func (l *Live) Submit(ctx context.Context, order *domain.Order) (string, error) {
	return "", domain.ErrBrokerUnavailable
}

func (l *Live) Replace(ctx context.Context, order *domain.Order) error {
	return domain.ErrBrokerUnavailable
}

func (l *Live) Cancel(ctx context.Context, order *domain.Order) error {
	return domain.ErrBrokerUnavailable
}

func (l *Live) Status(ctx context.Context, brokerOrderID string) (string, error) {
	return "", domain.ErrBrokerUnavailable
}

func (l *Live) SetFillHandler(h FillHandler) {}
