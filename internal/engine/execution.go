// Package engine tracks in-flight orders against the execution venue:
// forwarding fills, reconciling venue status by polling, expiring DAY orders,
// and flagging orders that have been working for too long.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/papertrader/internal/broker"
	"github.com/efreitasn/papertrader/internal/domain"
)

// TradeFunc receives a fill for an in-flight order.
type TradeFunc func(orderID string, trade *domain.Trade)

// StatusFunc receives a venue-driven status change for an in-flight order.
type StatusFunc func(orderID string, status domain.OrderStatus)

// brokerStatusMap translates venue status dialect into domain statuses.
// Unlisted strings are logged and ignored so a venue adding new states cannot
// corrupt the order book.
var brokerStatusMap = map[string]domain.OrderStatus{
	"new":       domain.OrderStatusSubmitted,
	"accepted":  domain.OrderStatusAcknowledged,
	"filled":    domain.OrderStatusFilled,
	"canceled":  domain.OrderStatusCancelled,
	"cancelled": domain.OrderStatusCancelled,
	"rejected":  domain.OrderStatusRejected,
	"expired":   domain.OrderStatusExpired,
}

// ExecutionEngine owns the mapping between internal order IDs and the venue's
// order IDs. Fills arrive through the broker's callback; status divergence
// (e.g. a cancel confirmed venue-side) is picked up by the poll loop.
type ExecutionEngine struct {
	brk          broker.Broker
	log          *slog.Logger
	pollInterval time.Duration

	mu        sync.Mutex
	byOrder   map[string]string // order_id → broker_order_id
	byBroker  map[string]string // broker_order_id → order_id
	lastKnown map[string]domain.OrderStatus
	onTrade   TradeFunc
	onStatus  StatusFunc
}

// NewExecutionEngine wires the engine to a venue. Callbacks must be
// registered before Run or Submit.
func NewExecutionEngine(brk broker.Broker, pollInterval time.Duration, log *slog.Logger) *ExecutionEngine {
	e := &ExecutionEngine{
		brk:          brk,
		log:          log.With("component", "execution_engine"),
		pollInterval: pollInterval,
		byOrder:      make(map[string]string),
		byBroker:     make(map[string]string),
		lastKnown:    make(map[string]domain.OrderStatus),
	}
	brk.SetFillHandler(e.handleFill)
	return e
}

// OnTrade registers the fill callback.
func (e *ExecutionEngine) OnTrade(f TradeFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTrade = f
}

// OnStatus registers the venue status-change callback.
func (e *ExecutionEngine) OnStatus(f StatusFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStatus = f
}

// Submit sends the order to the venue and starts tracking it. The broker
// order ID is returned for the caller to persist on the order.
func (e *ExecutionEngine) Submit(ctx context.Context, order *domain.Order) (string, error) {
	brokerOrderID, err := e.brk.Submit(ctx, order)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.byOrder[order.OrderID] = brokerOrderID
	e.byBroker[brokerOrderID] = order.OrderID
	e.lastKnown[order.OrderID] = domain.OrderStatusSubmitted
	e.mu.Unlock()

	return brokerOrderID, nil
}

// Replace forwards an amendment to the venue.
func (e *ExecutionEngine) Replace(ctx context.Context, order *domain.Order) error {
	return e.brk.Replace(ctx, order)
}

// Cancel forwards a cancel request to the venue. Tracking is released when
// the poll loop sees the venue confirm, or when Release is called.
func (e *ExecutionEngine) Cancel(ctx context.Context, order *domain.Order) error {
	return e.brk.Cancel(ctx, order)
}

// Release stops tracking an order. The OrderManager calls this once an order
// reaches a terminal state so the poll loop shrinks with the working set.
func (e *ExecutionEngine) Release(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked(orderID)
}

// InFlight returns the number of orders currently tracked.
func (e *ExecutionEngine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byOrder)
}

// Run polls the venue for status changes until the context is cancelled.
func (e *ExecutionEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

// poll reconciles every tracked order against the venue.
func (e *ExecutionEngine) poll(ctx context.Context) {
	e.mu.Lock()
	tracked := make(map[string]string, len(e.byOrder))
	for orderID, brokerOrderID := range e.byOrder {
		tracked[orderID] = brokerOrderID
	}
	e.mu.Unlock()

	for orderID, brokerOrderID := range tracked {
		raw, err := e.brk.Status(ctx, brokerOrderID)
		if err != nil {
			e.log.Warn("status poll failed",
				"order_id", orderID,
				"broker_order_id", brokerOrderID,
				"error", err,
			)
			continue
		}
		e.reconcile(orderID, raw)
	}
}

// reconcile translates a venue status and notifies the callback when it
// changed. FILLED is handled by the fill path, so the poll loop only releases
// tracking for it.
func (e *ExecutionEngine) reconcile(orderID, raw string) {
	status, ok := brokerStatusMap[raw]
	if !ok {
		e.log.Warn("unknown broker status ignored", "order_id", orderID, "status", raw)
		return
	}

	e.mu.Lock()
	if _, tracked := e.byOrder[orderID]; !tracked {
		e.mu.Unlock()
		return
	}
	if e.lastKnown[orderID] == status {
		e.mu.Unlock()
		return
	}
	e.lastKnown[orderID] = status

	if status == domain.OrderStatusFilled {
		e.releaseLocked(orderID)
		e.mu.Unlock()
		return
	}
	if status.IsTerminal() {
		e.releaseLocked(orderID)
	}
	onStatus := e.onStatus
	e.mu.Unlock()

	e.log.Info("broker status change", "order_id", orderID, "status", string(status))
	if onStatus != nil {
		onStatus(orderID, status)
	}
}

// handleFill maps the venue's order ID back to ours and forwards the trade.
// A fill can arrive before Submit has recorded the ID mapping, so the trade's
// own order ID is the fallback. The callback runs outside the engine lock so
// it may call back in.
func (e *ExecutionEngine) handleFill(brokerOrderID string, trade *domain.Trade) {
	e.mu.Lock()
	orderID, ok := e.byBroker[brokerOrderID]
	onTrade := e.onTrade
	e.mu.Unlock()

	if !ok {
		orderID = trade.OrderID
	}
	if orderID == "" {
		e.log.Warn("fill with no order attribution ignored",
			"broker_order_id", brokerOrderID,
			"trade_id", trade.TradeID,
		)
		return
	}
	if onTrade != nil {
		onTrade(orderID, trade)
	}
}

func (e *ExecutionEngine) releaseLocked(orderID string) {
	brokerOrderID, ok := e.byOrder[orderID]
	if !ok {
		return
	}
	delete(e.byOrder, orderID)
	delete(e.byBroker, brokerOrderID)
	delete(e.lastKnown, orderID)
}
