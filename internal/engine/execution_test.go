package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/broker"
	"github.com/efreitasn/papertrader/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, fillDelay time.Duration) (*ExecutionEngine, *broker.Simulator) {
	t.Helper()
	sim := broker.NewSimulator(broker.SimulatorConfig{FillDelay: fillDelay, Seed: 1}, discardLogger())
	return NewExecutionEngine(sim, 10*time.Millisecond, discardLogger()), sim
}

func testOrder(id string, qty int64, price int64) *domain.Order {
	p := decimal.NewFromInt(price)
	return &domain.Order{
		OrderID:  id,
		Symbol:   "RELIANCE",
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: qty,
		Price:    &p,
		Status:   domain.OrderStatusSubmitted,
	}
}

func TestExecutionEngine_SubmitForwardsFill(t *testing.T) {
	e, _ := newTestEngine(t, 0)

	fills := make(chan *domain.Trade, 1)
	e.OnTrade(func(orderID string, trade *domain.Trade) {
		if orderID != "order-1" {
			t.Errorf("expected order-1, got %s", orderID)
		}
		fills <- trade
	})

	brokerID, err := e.Submit(context.Background(), testOrder("order-1", 10, 250))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if brokerID == "" {
		t.Fatalf("expected broker order ID")
	}

	select {
	case trade := <-fills:
		if !trade.Price.Equal(decimal.NewFromInt(250)) {
			t.Fatalf("expected fill at 250, got %s", trade.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fill")
	}
}

func TestExecutionEngine_ReleaseStopsTracking(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)

	order := testOrder("order-1", 10, 250)
	if _, err := e.Submit(context.Background(), order); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if e.InFlight() != 1 {
		t.Fatalf("expected 1 in flight, got %d", e.InFlight())
	}

	e.Release("order-1")
	if e.InFlight() != 0 {
		t.Fatalf("expected 0 in flight after release, got %d", e.InFlight())
	}
}

func TestExecutionEngine_PollReportsVenueCancel(t *testing.T) {
	e, sim := newTestEngine(t, time.Hour)

	var mu sync.Mutex
	var gotStatus domain.OrderStatus
	statusSeen := make(chan struct{})
	e.OnStatus(func(orderID string, status domain.OrderStatus) {
		mu.Lock()
		gotStatus = status
		mu.Unlock()
		close(statusSeen)
	})

	order := testOrder("order-1", 10, 250)
	brokerID, err := e.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	order.BrokerOrderID = brokerID

	if err := sim.Cancel(context.Background(), order); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	select {
	case <-statusSeen:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status change")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotStatus != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", gotStatus)
	}
	if e.InFlight() != 0 {
		t.Fatalf("expected tracking released after terminal status")
	}
}

func TestExecutionEngine_UnknownBrokerStatusIgnored(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)

	called := false
	e.OnStatus(func(orderID string, status domain.OrderStatus) {
		called = true
	})

	if _, err := e.Submit(context.Background(), testOrder("order-1", 10, 250)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	e.reconcile("order-1", "halted_pending_review")

	if called {
		t.Fatalf("unknown status must not trigger a callback")
	}
	if e.InFlight() != 1 {
		t.Fatalf("unknown status must not release tracking")
	}
}

func TestExecutionEngine_FilledStatusReleasesWithoutCallback(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)

	called := false
	e.OnStatus(func(orderID string, status domain.OrderStatus) {
		called = true
	})

	if _, err := e.Submit(context.Background(), testOrder("order-1", 10, 250)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	e.reconcile("order-1", "filled")

	if called {
		t.Fatalf("filled is driven by the fill path, not the status callback")
	}
	if e.InFlight() != 0 {
		t.Fatalf("expected tracking released on filled")
	}
}
