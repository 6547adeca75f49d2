package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/domain"
	"github.com/efreitasn/papertrader/internal/store"
)

func TestStaleMonitor_FlagsOnlyOldActiveOrders(t *testing.T) {
	orders := store.NewMemoryOrderStore()
	now := time.Now()
	price := decimal.NewFromInt(100)

	fresh := &domain.Order{
		OrderID: "order-fresh", Symbol: "RELIANCE", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeLimit, Quantity: 1, Price: &price,
		Status: domain.OrderStatusSubmitted, CreatedAt: now.Add(-time.Hour),
	}
	old := &domain.Order{
		OrderID: "order-old", Symbol: "RELIANCE", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeLimit, Quantity: 1, Price: &price,
		Status: domain.OrderStatusAcknowledged, CreatedAt: now.Add(-48 * time.Hour),
	}
	oldButFilled := &domain.Order{
		OrderID: "order-done", Symbol: "RELIANCE", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeLimit, Quantity: 1, Price: &price,
		Status: domain.OrderStatusFilled, CreatedAt: now.Add(-48 * time.Hour),
	}
	orders.Create(fresh)
	orders.Create(old)
	orders.Create(oldButFilled)

	m := NewStaleMonitor(orders, 24*time.Hour, time.Minute, discardLogger())

	stale := m.Scan(now)
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale order, got %d", len(stale))
	}
	if stale[0].OrderID != "order-old" {
		t.Fatalf("expected order-old, got %s", stale[0].OrderID)
	}
}
