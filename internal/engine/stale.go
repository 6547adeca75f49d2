package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/efreitasn/papertrader/internal/domain"
	"github.com/efreitasn/papertrader/internal/store"
)

// StaleMonitor periodically flags active orders that have been working longer
// than maxAge. It only logs; a GTC order can legitimately work for days, so
// the operator decides whether to intervene.
type StaleMonitor struct {
	orders   store.OrderStore
	log      *slog.Logger
	maxAge   time.Duration
	interval time.Duration
}

// NewStaleMonitor builds a monitor over the order store.
func NewStaleMonitor(orders store.OrderStore, maxAge, interval time.Duration, log *slog.Logger) *StaleMonitor {
	return &StaleMonitor{
		orders:   orders,
		log:      log.With("component", "stale_monitor"),
		maxAge:   maxAge,
		interval: interval,
	}
}

// Scan returns the active orders older than maxAge as of now, logging each.
func (m *StaleMonitor) Scan(now time.Time) []*domain.Order {
	var stale []*domain.Order
	for _, o := range m.orders.ListActive() {
		age := now.Sub(o.CreatedAt)
		if age < m.maxAge {
			continue
		}
		stale = append(stale, o)
		m.log.Warn("stale active order",
			"order_id", o.OrderID,
			"symbol", o.Symbol,
			"status", string(o.Status),
			"age", age.String(),
		)
	}
	return stale
}

// Run scans on the configured interval until the context is cancelled.
func (m *StaleMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Scan(now)
		}
	}
}
