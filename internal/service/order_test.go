package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/broker"
	"github.com/efreitasn/papertrader/internal/config"
	"github.com/efreitasn/papertrader/internal/domain"
	"github.com/efreitasn/papertrader/internal/engine"
	"github.com/efreitasn/papertrader/internal/store"
)

type orderFixture struct {
	manager   *OrderManager
	orders    *store.MemoryOrderStore
	trades    *store.MemoryTradeStore
	positions *store.MemoryPositionStore
	sim       *broker.Simulator
}

func newOrderFixture(t *testing.T, fillDelay time.Duration) *orderFixture {
	t.Helper()
	log := discardLogger()

	orders := store.NewMemoryOrderStore()
	trades := store.NewMemoryTradeStore()
	positions := store.NewMemoryPositionStore()

	sim := broker.NewSimulator(broker.SimulatorConfig{FillDelay: fillDelay, Seed: 1}, log)
	eng := engine.NewExecutionEngine(sim, time.Second, log)
	expiry := engine.NewExpiryManager(time.Second, func(string) {}, log)

	limits := config.DefaultLimits()
	manager := NewOrderManager(OrderManagerDeps{
		Validator: NewValidator(limits.Validation),
		Risk:      NewRiskManager(limits.Risk, positions, trades, time.Now(), log),
		Positions: NewPositionManager(positions, trades, log),
		Orders:    orders,
		Trades:    trades,
		Engine:    eng,
		Expiry:    expiry,
		Prices:    sim,
		Notifier:  NewNotificationService(log),
		Log:       log,
	})
	return &orderFixture{manager: manager, orders: orders, trades: trades, positions: positions, sim: sim}
}

func (f *orderFixture) waitForStatus(t *testing.T, orderID string, want domain.OrderStatus) *domain.Order {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		o, err := f.manager.GetOrder(orderID)
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if o.Status == want {
			return o
		}
		time.Sleep(5 * time.Millisecond)
	}
	o, _ := f.manager.GetOrder(orderID)
	t.Fatalf("order %s never reached %s, stuck at %s", orderID, want, o.Status)
	return nil
}

func limitRequest(symbol string, side domain.OrderSide, qty int64, price string) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        domain.OrderTypeLimit,
		Quantity:    qty,
		Price:       decPtr(price),
		TimeInForce: domain.TimeInForceDay,
	}
}

func TestOrderManager_CreateOrderFillsAndBooksPosition(t *testing.T) {
	f := newOrderFixture(t, 0)

	order, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "250"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.BrokerOrderID == "" {
		t.Fatalf("expected broker order ID on submitted order")
	}

	filled := f.waitForStatus(t, order.OrderID, domain.OrderStatusFilled)
	if filled.FilledQuantity != 10 {
		t.Fatalf("expected 10 filled, got %d", filled.FilledQuantity)
	}
	if !filled.AverageFillPrice.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected avg fill 250, got %s", filled.AverageFillPrice)
	}
	if filled.FilledAt == nil {
		t.Fatalf("expected filled timestamp")
	}

	fills, err := f.manager.OrderTrades(order.OrderID)
	if err != nil || len(fills) != 1 {
		t.Fatalf("expected 1 recorded trade, got %d (err %v)", len(fills), err)
	}

	p, err := f.positions.Get("RELIANCE")
	if err != nil {
		t.Fatalf("expected position: %v", err)
	}
	if p.Side != domain.PositionSideLong || p.Quantity != 10 {
		t.Fatalf("expected LONG 10, got %s %d", p.Side, p.Quantity)
	}
}

func TestOrderManager_ValidationFailurePersistsNothing(t *testing.T) {
	f := newOrderFixture(t, 0)

	_, err := f.manager.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "RELIANCE",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeLimit,
		// quantity and price missing
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if f.manager.Stats().Total != 0 {
		t.Fatalf("invalid request must not persist an order")
	}
}

func TestOrderManager_RiskRejectionPersistsRejectedOrder(t *testing.T) {
	f := newOrderFixture(t, 0)

	// Default risk cap on a single order is 5,000,000.
	order, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 100_000, "99"))
	var rerr *domain.RiskError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RiskError, got %v", err)
	}
	if order == nil || order.Status != domain.OrderStatusRejected {
		t.Fatalf("expected persisted REJECTED order, got %+v", order)
	}
	if order.RejectReason == "" {
		t.Fatalf("expected reject reason on the order")
	}

	stored, err := f.manager.GetOrder(order.OrderID)
	if err != nil {
		t.Fatalf("rejected order must stay in the store: %v", err)
	}
	if stored.Status != domain.OrderStatusRejected {
		t.Fatalf("expected REJECTED in store, got %s", stored.Status)
	}
}

func TestOrderManager_BrokerFailureRejectsOrder(t *testing.T) {
	log := discardLogger()
	orders := store.NewMemoryOrderStore()
	trades := store.NewMemoryTradeStore()
	positions := store.NewMemoryPositionStore()
	live := broker.NewLive()
	eng := engine.NewExecutionEngine(live, time.Second, log)
	limits := config.DefaultLimits()

	manager := NewOrderManager(OrderManagerDeps{
		Validator: NewValidator(limits.Validation),
		Risk:      NewRiskManager(limits.Risk, positions, trades, time.Now(), log),
		Positions: NewPositionManager(positions, trades, log),
		Orders:    orders,
		Trades:    trades,
		Engine:    eng,
		Expiry:    engine.NewExpiryManager(time.Second, func(string) {}, log),
		Prices:    broker.NewSimulator(broker.SimulatorConfig{Seed: 1}, log),
		Notifier:  NewNotificationService(log),
		Log:       log,
	})

	order, err := manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "250"))
	if !errors.Is(err, domain.ErrBrokerUnavailable) {
		t.Fatalf("expected ErrBrokerUnavailable, got %v", err)
	}
	if order == nil || order.Status != domain.OrderStatusRejected {
		t.Fatalf("expected REJECTED order, got %+v", order)
	}
}

func TestOrderManager_CancelWorkingOrder(t *testing.T) {
	f := newOrderFixture(t, time.Hour)

	order, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "250"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	cancelled, outcome, err := f.manager.CancelOrder(context.Background(), order.OrderID, "strategy stopped")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if len(outcome.Cancelled) != 0 || len(outcome.Failed) != 0 {
		t.Fatalf("plain order cancel must have empty cascade, got %+v", outcome)
	}

	// Cancelling again fails.
	if _, _, err := f.manager.CancelOrder(context.Background(), order.OrderID, ""); err != domain.ErrOrderNotActive {
		t.Fatalf("expected ErrOrderNotActive, got %v", err)
	}
	if _, _, err := f.manager.CancelOrder(context.Background(), "no-such", ""); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderManager_UpdateOrderCommitsOnlyAfterVenueAccepts(t *testing.T) {
	f := newOrderFixture(t, time.Hour)

	order, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "250"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	newQty := int64(20)
	updated, err := f.manager.UpdateOrder(context.Background(), order.OrderID, OrderUpdate{
		Quantity: &newQty,
		Price:    decPtr("240"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Quantity != 20 || !updated.Price.Equal(decimal.RequireFromString("240")) {
		t.Fatalf("amendment not applied: %+v", updated)
	}

	// An empty update is invalid.
	if _, err := f.manager.UpdateOrder(context.Background(), order.OrderID, OrderUpdate{}); err == nil {
		t.Fatalf("expected validation error for empty update")
	}

	// Stop price on a plain limit order is invalid.
	if _, err := f.manager.UpdateOrder(context.Background(), order.OrderID, OrderUpdate{StopPrice: decPtr("200")}); err == nil {
		t.Fatalf("expected validation error for stop price on limit order")
	}
}

func TestOrderManager_UpdateOrderReappliesRiskLimits(t *testing.T) {
	f := newOrderFixture(t, time.Hour)

	order, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "100"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// 90,000 × 90 = 8,100,000 passes validation but breaches the 5,000,000
	// single-order value cap.
	qty := int64(90_000)
	_, err = f.manager.UpdateOrder(context.Background(), order.OrderID, OrderUpdate{
		Quantity: &qty,
		Price:    decPtr("90"),
	})
	var rerr *domain.RiskError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RiskError, got %v", err)
	}

	// A rejected amendment leaves the order untouched.
	stored, err := f.manager.GetOrder(order.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Quantity != 10 || !stored.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("rejected amendment must not change the order, got qty=%d price=%s", stored.Quantity, stored.Price)
	}
}

func TestOrderManager_UpdateOrderReappliesValidationBounds(t *testing.T) {
	f := newOrderFixture(t, time.Hour)

	order, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "100"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// Price above the configured maximum of 1,000,000.
	_, err = f.manager.UpdateOrder(context.Background(), order.OrderID, OrderUpdate{Price: decPtr("2000000")})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// Notional above the 10,000,000 ceiling, even with quantity in bounds.
	qty := int64(50_000)
	_, err = f.manager.UpdateOrder(context.Background(), order.OrderID, OrderUpdate{
		Quantity: &qty,
		Price:    decPtr("500"),
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for oversized notional, got %v", err)
	}
}

func TestOrderManager_UpdateTerminalOrderFails(t *testing.T) {
	f := newOrderFixture(t, 0)

	order, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "250"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	f.waitForStatus(t, order.OrderID, domain.OrderStatusFilled)

	qty := int64(20)
	if _, err := f.manager.UpdateOrder(context.Background(), order.OrderID, OrderUpdate{Quantity: &qty}); err != domain.ErrOrderNotActive {
		t.Fatalf("expected ErrOrderNotActive, got %v", err)
	}
}

func TestOrderManager_BracketLifecycle(t *testing.T) {
	f := newOrderFixture(t, time.Hour) // long delay: fills are driven by hand

	parent, err := f.manager.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol:        "RELIANCE",
		Side:          domain.OrderSideBuy,
		Type:          domain.OrderTypeBracket,
		Quantity:      10,
		Price:         decPtr("100"),
		TargetPrice:   decPtr("110"),
		StopLossPrice: decPtr("95"),
		TimeInForce:   domain.TimeInForceDay,
	})
	if err != nil {
		t.Fatalf("create bracket: %v", err)
	}
	if len(parent.ChildOrderIDs) != 2 {
		t.Fatalf("expected 2 children, got %d", len(parent.ChildOrderIDs))
	}

	// Children wait in PENDING until the entry fills.
	for _, childID := range parent.ChildOrderIDs {
		child, err := f.manager.GetOrder(childID)
		if err != nil {
			t.Fatalf("get child: %v", err)
		}
		if child.Status != domain.OrderStatusPending {
			t.Fatalf("expected PENDING child, got %s", child.Status)
		}
		if child.Side != domain.OrderSideSell {
			t.Fatalf("buy bracket children must sell, got %s", child.Side)
		}
	}

	// Fill the entry by hand.
	f.manager.ProcessTrade(parent.OrderID, &domain.Trade{
		TradeID:    uuid.NewString(),
		OrderID:    parent.OrderID,
		Symbol:     "RELIANCE",
		Side:       domain.OrderSideBuy,
		Quantity:   10,
		Price:      decimal.NewFromInt(100),
		ExecutedAt: time.Now(),
	})
	f.waitForStatus(t, parent.OrderID, domain.OrderStatusFilled)

	var target, stop *domain.Order
	for _, childID := range parent.ChildOrderIDs {
		child := f.waitForStatus(t, childID, domain.OrderStatusSubmitted)
		switch child.Type {
		case domain.OrderTypeTakeProfit:
			target = child
		case domain.OrderTypeStopLoss:
			stop = child
		}
	}
	if target == nil || stop == nil {
		t.Fatalf("expected one take-profit and one stop-loss child")
	}

	// Fill the target leg; the stop leg must be cancelled (OCO).
	f.manager.ProcessTrade(target.OrderID, &domain.Trade{
		TradeID:    uuid.NewString(),
		OrderID:    target.OrderID,
		Symbol:     "RELIANCE",
		Side:       domain.OrderSideSell,
		Quantity:   10,
		Price:      decimal.NewFromInt(110),
		ExecutedAt: time.Now(),
	})
	f.waitForStatus(t, target.OrderID, domain.OrderStatusFilled)
	f.waitForStatus(t, stop.OrderID, domain.OrderStatusCancelled)

	// Round trip 100 → 110 on 10 shares.
	p, err := f.positions.Get("RELIANCE")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if p.Side != domain.PositionSideFlat {
		t.Fatalf("expected FLAT after bracket round trip, got %s", p.Side)
	}
	if !p.RealizedPnl.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected realized 100, got %s", p.RealizedPnl)
	}
}

func TestOrderManager_CancelParentCascadesToChildren(t *testing.T) {
	f := newOrderFixture(t, time.Hour)

	parent, err := f.manager.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol:        "RELIANCE",
		Side:          domain.OrderSideBuy,
		Type:          domain.OrderTypeBracket,
		Quantity:      10,
		Price:         decPtr("100"),
		TargetPrice:   decPtr("110"),
		StopLossPrice: decPtr("95"),
	})
	if err != nil {
		t.Fatalf("create bracket: %v", err)
	}

	_, outcome, err := f.manager.CancelOrder(context.Background(), parent.OrderID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(outcome.Cancelled) != 2 {
		t.Fatalf("expected both children cancelled, got %+v", outcome)
	}
	for _, childID := range parent.ChildOrderIDs {
		child, _ := f.manager.GetOrder(childID)
		if child.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected CANCELLED child, got %s", child.Status)
		}
	}
}

func TestOrderManager_LateFillIsDropped(t *testing.T) {
	f := newOrderFixture(t, time.Hour)

	order, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "250"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, _, err := f.manager.CancelOrder(context.Background(), order.OrderID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// A broker callback straggling in after cancellation must not mutate
	// the settled order or open a position.
	f.manager.ProcessTrade(order.OrderID, &domain.Trade{
		TradeID:    uuid.NewString(),
		OrderID:    order.OrderID,
		Symbol:     "RELIANCE",
		Side:       domain.OrderSideBuy,
		Quantity:   10,
		Price:      decimal.NewFromInt(250),
		ExecutedAt: time.Now(),
	})

	got, _ := f.manager.GetOrder(order.OrderID)
	if got.FilledQuantity != 0 || got.Status != domain.OrderStatusCancelled {
		t.Fatalf("late fill mutated a cancelled order: %+v", got)
	}
	if _, err := f.positions.Get("RELIANCE"); err != domain.ErrPositionNotFound {
		t.Fatalf("late fill must not create a position, got %v", err)
	}
}

func TestOrderManager_ExpireOrder(t *testing.T) {
	f := newOrderFixture(t, time.Hour)

	order, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "250"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	f.manager.ExpireOrder(order.OrderID)

	got, _ := f.manager.GetOrder(order.OrderID)
	if got.Status != domain.OrderStatusExpired {
		t.Fatalf("expected EXPIRED, got %s", got.Status)
	}

	// Expiring a terminal order is a no-op.
	f.manager.ExpireOrder(order.OrderID)
	got, _ = f.manager.GetOrder(order.OrderID)
	if got.Status != domain.OrderStatusExpired {
		t.Fatalf("second expiry must not change state, got %s", got.Status)
	}
}

func TestOrderManager_VenueStatusUpdate(t *testing.T) {
	f := newOrderFixture(t, time.Hour)

	order, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "250"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	f.manager.ProcessOrderUpdate(order.OrderID, domain.OrderStatusAcknowledged)
	got, _ := f.manager.GetOrder(order.OrderID)
	if got.Status != domain.OrderStatusAcknowledged {
		t.Fatalf("expected ACKNOWLEDGED, got %s", got.Status)
	}

	// A backwards transition is dropped.
	f.manager.ProcessOrderUpdate(order.OrderID, domain.OrderStatusSubmitted)
	got, _ = f.manager.GetOrder(order.OrderID)
	if got.Status != domain.OrderStatusAcknowledged {
		t.Fatalf("invalid transition must be dropped, got %s", got.Status)
	}
}

func TestOrderManager_StatsAndListing(t *testing.T) {
	f := newOrderFixture(t, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := f.manager.CreateOrder(context.Background(), limitRequest("RELIANCE", domain.OrderSideBuy, 10, "250")); err != nil {
			t.Fatalf("create order: %v", err)
		}
	}

	stats := f.manager.Stats()
	if stats.Total != 3 {
		t.Fatalf("expected 3 orders, got %d", stats.Total)
	}
	if stats.ByStatus[domain.OrderStatusSubmitted] != 3 {
		t.Fatalf("expected 3 SUBMITTED, got %v", stats.ByStatus)
	}
	if stats.InFlight != 3 {
		t.Fatalf("expected 3 in flight, got %d", stats.InFlight)
	}

	page, total := f.manager.ListOrders(store.OrderFilter{Limit: 2})
	if total != 3 || len(page) != 2 {
		t.Fatalf("expected page 2 of 3, got %d of %d", len(page), total)
	}
}
