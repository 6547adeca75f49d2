package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/domain"
	"github.com/efreitasn/papertrader/internal/engine"
	"github.com/efreitasn/papertrader/internal/metrics"
	"github.com/efreitasn/papertrader/internal/store"
)

// PriceSource supplies a reference price for symbols without a limit price,
// used only for risk sizing. The simulator implements it.
type PriceSource interface {
	ReferencePrice(symbol string) decimal.Decimal
}

// OrderUpdate carries the amendable fields of a working order. Nil fields
// are left unchanged.
type OrderUpdate struct {
	Quantity    *int64
	Price       *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce *domain.TimeInForce
}

// CancelOutcome reports the result of a cascaded cancellation: which child
// orders were cancelled and which could not be, keyed by order ID.
type CancelOutcome struct {
	Cancelled []string
	Failed    map[string]string
}

func (o *CancelOutcome) addFailure(orderID, reason string) {
	if o.Failed == nil {
		o.Failed = make(map[string]string)
	}
	o.Failed[orderID] = reason
}

// OrderStats summarizes the order book for the stats endpoint.
type OrderStats struct {
	Total    int
	ByStatus map[domain.OrderStatus]int
	InFlight int
}

// OrderManagerDeps wires the manager's collaborators.
type OrderManagerDeps struct {
	Validator *Validator
	Risk      *RiskManager
	Positions *PositionManager
	Orders    store.OrderStore
	Trades    store.TradeStore
	Journal   *store.TradeJournal // optional
	Engine    *engine.ExecutionEngine
	Expiry    *engine.ExpiryManager
	Prices    PriceSource
	Notifier  *NotificationService
	Log       *slog.Logger
	Now       func() time.Time // defaults to time.Now
}

// OrderManager drives the order lifecycle: validation, risk approval,
// submission, fills, amendments, cancellation, and expiry. It serializes all
// order mutation behind one mutex; collaborators are called outside the lock
// wherever they can call back in.
type OrderManager struct {
	validator *Validator
	risk      *RiskManager
	positions *PositionManager
	orders    store.OrderStore
	trades    store.TradeStore
	journal   *store.TradeJournal
	eng       *engine.ExecutionEngine
	expiry    *engine.ExpiryManager
	prices    PriceSource
	notifier  *NotificationService
	log       *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewOrderManager builds the manager and registers itself for engine
// callbacks.
func NewOrderManager(d OrderManagerDeps) *OrderManager {
	if d.Now == nil {
		d.Now = time.Now
	}
	m := &OrderManager{
		validator: d.Validator,
		risk:      d.Risk,
		positions: d.Positions,
		orders:    d.Orders,
		trades:    d.Trades,
		journal:   d.Journal,
		eng:       d.Engine,
		expiry:    d.Expiry,
		prices:    d.Prices,
		notifier:  d.Notifier,
		log:       d.Log.With("component", "order_manager"),
		now:       d.Now,
	}
	m.eng.OnTrade(m.ProcessTrade)
	m.eng.OnStatus(m.ProcessOrderUpdate)
	return m
}

// CreateOrder runs the full intake pipeline. Validation failures return a
// *domain.ValidationError with no order persisted. Risk rejections persist a
// REJECTED order and return it alongside a *domain.RiskError, so the audit
// trail keeps every attempt the risk layer saw.
func (m *OrderManager) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	now := m.now()

	warnings, err := m.validator.Validate(req, now)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return nil, err
	}
	for _, w := range warnings {
		m.log.Warn("order warning", "symbol", req.Symbol, "warning", w)
	}

	res := m.risk.CheckOrder(req, m.riskPrice(req))

	m.mu.Lock()
	order := domain.NewOrder(req, now)
	order.OrderID = uuid.NewString()
	m.orders.Create(order)

	if !res.Approved {
		order.UpdateStatus(domain.OrderStatusRejected, now)
		order.RejectReason = res.Reason
		m.orders.Reindex(order)
		m.mu.Unlock()

		metrics.OrdersRejected.WithLabelValues("risk").Inc()
		m.publish(EventOrderRejected, order)
		m.log.Info("order rejected by risk", "order_id", order.OrderID, "reason", res.Reason)
		return order, &domain.RiskError{Reason: res.Reason, RiskScore: res.RiskScore}
	}
	for _, w := range res.Warnings {
		m.log.Warn("risk warning", "order_id", order.OrderID, "warning", w)
	}

	if order.Type == domain.OrderTypeBracket {
		m.createBracketChildrenLocked(order, req, now)
	}

	brokerOrderID, err := m.eng.Submit(ctx, order)
	if err != nil {
		order.UpdateStatus(domain.OrderStatusRejected, now)
		order.RejectReason = "broker: " + err.Error()
		m.orders.Reindex(order)
		m.mu.Unlock()

		metrics.OrdersRejected.WithLabelValues("broker").Inc()
		m.publish(EventOrderRejected, order)
		return order, err
	}

	order.BrokerOrderID = brokerOrderID
	order.UpdateStatus(domain.OrderStatusSubmitted, now)
	m.orders.Reindex(order)
	m.trackExpiryLocked(order, now)
	m.mu.Unlock()

	metrics.OrdersCreated.WithLabelValues(string(order.Type)).Inc()
	metrics.OrdersInFlight.Set(float64(m.eng.InFlight()))
	m.publish(EventOrderCreated, order)
	m.log.Info("order submitted",
		"order_id", order.OrderID,
		"broker_order_id", brokerOrderID,
		"symbol", order.Symbol,
		"side", string(order.Side),
		"type", string(order.Type),
		"quantity", order.Quantity,
	)
	return order, nil
}

// createBracketChildrenLocked persists the two exit legs of a bracket in
// PENDING. They are submitted only when the entry leg fills.
func (m *OrderManager) createBracketChildrenLocked(parent *domain.Order, req domain.OrderRequest, now time.Time) {
	exitSide := parent.Side.Opposite()

	target := domain.NewOrder(domain.OrderRequest{
		Symbol:      parent.Symbol,
		Side:        exitSide,
		Type:        domain.OrderTypeTakeProfit,
		Quantity:    parent.Quantity,
		Price:       req.TargetPrice,
		TimeInForce: domain.TimeInForceGTC,
		StrategyID:  parent.StrategyID,
	}, now)
	target.OrderID = uuid.NewString()
	target.ParentOrderID = parent.OrderID

	stop := domain.NewOrder(domain.OrderRequest{
		Symbol:      parent.Symbol,
		Side:        exitSide,
		Type:        domain.OrderTypeStopLoss,
		Quantity:    parent.Quantity,
		StopPrice:   req.StopLossPrice,
		TimeInForce: domain.TimeInForceGTC,
		StrategyID:  parent.StrategyID,
	}, now)
	stop.OrderID = uuid.NewString()
	stop.ParentOrderID = parent.OrderID

	m.orders.Create(target)
	m.orders.Create(stop)
	parent.ChildOrderIDs = append(parent.ChildOrderIDs, target.OrderID, stop.OrderID)
}

// UpdateOrder amends a working order. The amendment is applied to a copy and
// confirmed with the venue first; the stored order only changes after the
// venue accepts, so a failed replace leaves no trace.
func (m *OrderManager) UpdateOrder(ctx context.Context, orderID string, upd OrderUpdate) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() || order.Status == domain.OrderStatusPendingCancel {
		return nil, domain.ErrOrderNotActive
	}

	if reasons := m.checkUpdate(order, upd); len(reasons) > 0 {
		return nil, &domain.ValidationError{Reasons: reasons}
	}

	amended := *order
	if upd.Quantity != nil {
		amended.Quantity = *upd.Quantity
	}
	if upd.Price != nil {
		amended.Price = upd.Price
	}
	if upd.StopPrice != nil {
		amended.StopPrice = upd.StopPrice
	}

	// The amendment re-runs the limit and risk batteries before the venue
	// sees it; an order that could not be created at the amended size cannot
	// be amended to it.
	if err := m.validator.ValidateUpdate(&amended); err != nil {
		return nil, err
	}
	if res := m.risk.CheckOrderUpdate(&amended, m.orderRiskPrice(&amended)); !res.Approved {
		m.log.Info("amendment rejected by risk", "order_id", orderID, "reason", res.Reason)
		return nil, &domain.RiskError{Reason: res.Reason, RiskScore: res.RiskScore}
	}

	if err := m.eng.Replace(ctx, &amended); err != nil {
		return nil, err
	}

	now := m.now()
	order.Quantity = amended.Quantity
	order.Price = amended.Price
	order.StopPrice = amended.StopPrice
	if upd.TimeInForce != nil {
		order.TimeInForce = *upd.TimeInForce
		if *upd.TimeInForce == domain.TimeInForceGTC {
			m.expiry.Untrack(order.OrderID)
		} else {
			m.trackExpiryLocked(order, now)
		}
	}
	order.UpdatedAt = now

	m.publish(EventOrderUpdated, order)
	m.log.Info("order amended", "order_id", order.OrderID, "quantity", order.Quantity)
	return order, nil
}

func (m *OrderManager) checkUpdate(order *domain.Order, upd OrderUpdate) []string {
	var reasons []string
	if upd.Quantity == nil && upd.Price == nil && upd.StopPrice == nil && upd.TimeInForce == nil {
		reasons = append(reasons, "no fields to update")
	}
	if upd.Quantity != nil && *upd.Quantity <= order.FilledQuantity {
		reasons = append(reasons, "quantity must exceed the filled quantity")
	}
	if upd.Price != nil && !upd.Price.IsPositive() {
		reasons = append(reasons, "price must be positive")
	}
	if upd.Price != nil && !order.Type.RequiresPrice() {
		reasons = append(reasons, "order type carries no price")
	}
	if upd.StopPrice != nil && !upd.StopPrice.IsPositive() {
		reasons = append(reasons, "stop price must be positive")
	}
	if upd.StopPrice != nil && !order.Type.RequiresStopPrice() {
		reasons = append(reasons, "order type carries no stop price")
	}
	if upd.TimeInForce != nil {
		switch *upd.TimeInForce {
		case domain.TimeInForceDay, domain.TimeInForceGTC:
		default:
			reasons = append(reasons, "time in force can only be amended to DAY or GTC")
		}
	}
	return reasons
}

// CancelOrder cancels an order and cascades to any still-working child
// orders. The outcome reports the cascade; cancelling an order with no
// children yields an empty outcome. reason is recorded on the order and may
// be empty.
func (m *OrderManager) CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, CancelOutcome, error) {
	m.mu.Lock()

	order, err := m.orders.Get(orderID)
	if err != nil {
		m.mu.Unlock()
		return nil, CancelOutcome{}, err
	}
	if order.IsTerminal() || order.Status == domain.OrderStatusPendingCancel {
		m.mu.Unlock()
		return nil, CancelOutcome{}, domain.ErrOrderNotActive
	}

	now := m.now()

	// PENDING orders (bracket children awaiting activation) were never
	// submitted; they cancel locally.
	if order.Status != domain.OrderStatusPending {
		order.UpdateStatus(domain.OrderStatusPendingCancel, now)
		m.orders.Reindex(order)

		if err := m.eng.Cancel(ctx, order); err != nil {
			// The venue may have filled it already; the fill callback or
			// poll loop resolves PENDING_CANCEL either way.
			m.mu.Unlock()
			m.log.Warn("broker cancel failed", "order_id", orderID, "error", err)
			return nil, CancelOutcome{}, err
		}
	}

	order.UpdateStatus(domain.OrderStatusCancelled, now)
	order.CancelReason = reason
	m.orders.Reindex(order)
	m.eng.Release(orderID)
	m.expiry.Untrack(orderID)
	outcome := m.cancelChildrenLocked(ctx, order, now)
	m.mu.Unlock()

	metrics.OrdersCancelled.Inc()
	metrics.OrdersInFlight.Set(float64(m.eng.InFlight()))
	m.publish(EventOrderCancelled, order)
	m.log.Info("order cancelled", "order_id", orderID)
	return order, outcome, nil
}

// cancelChildrenLocked cancels every non-terminal child of an order.
func (m *OrderManager) cancelChildrenLocked(ctx context.Context, parent *domain.Order, now time.Time) CancelOutcome {
	var outcome CancelOutcome
	for _, childID := range parent.ChildOrderIDs {
		child, err := m.orders.Get(childID)
		if err != nil {
			outcome.addFailure(childID, err.Error())
			continue
		}
		if child.IsTerminal() {
			continue
		}

		if child.Status != domain.OrderStatusPending {
			if child.Status != domain.OrderStatusPendingCancel {
				child.UpdateStatus(domain.OrderStatusPendingCancel, now)
			}
			if err := m.eng.Cancel(ctx, child); err != nil {
				m.orders.Reindex(child)
				outcome.addFailure(childID, err.Error())
				continue
			}
		}
		child.UpdateStatus(domain.OrderStatusCancelled, now)
		m.orders.Reindex(child)
		m.eng.Release(childID)
		m.expiry.Untrack(childID)
		outcome.Cancelled = append(outcome.Cancelled, childID)
	}
	return outcome
}

// ProcessTrade applies a fill reported by the execution engine: the order's
// fill state, the trade log, the journal, positions, and risk monitoring.
// Fills that the order cannot accept (late, duplicate, overfilling) are
// logged and dropped without touching any state.
func (m *OrderManager) ProcessTrade(orderID string, trade *domain.Trade) {
	m.mu.Lock()
	order, err := m.orders.Get(orderID)
	if err != nil {
		m.mu.Unlock()
		m.log.Warn("fill for unknown order dropped", "order_id", orderID, "trade_id", trade.TradeID)
		return
	}

	now := m.now()
	if err := order.ApplyFill(trade.Quantity, trade.Price, now); err != nil {
		m.mu.Unlock()
		m.log.Warn("fill rejected",
			"order_id", orderID,
			"trade_id", trade.TradeID,
			"quantity", trade.Quantity,
			"error", err,
		)
		return
	}
	order.Commission = order.Commission.Add(trade.Commission)
	m.trades.Append(trade)
	m.orders.Reindex(order)

	filled := order.Status == domain.OrderStatusFilled
	if filled {
		m.eng.Release(orderID)
		m.expiry.Untrack(orderID)
	}
	childIDs := order.ChildOrderIDs
	parentID := order.ParentOrderID
	m.mu.Unlock()

	m.journalTrade(trade)
	if _, err := m.positions.ProcessTrade(trade); err != nil {
		m.log.Error("position update failed", "trade_id", trade.TradeID, "error", err)
	}
	m.risk.MonitorTrade(trade)

	metrics.TradesExecuted.Inc()
	notional, _ := trade.Value().Float64()
	metrics.TradedNotional.Add(notional)
	metrics.OrdersInFlight.Set(float64(m.eng.InFlight()))
	m.publish(EventTradeExecuted, trade)

	if filled {
		metrics.OrdersFilled.Inc()
		m.publish(EventOrderFilled, order)
		if len(childIDs) > 0 {
			m.activateChildren(childIDs)
		}
		if parentID != "" {
			m.cancelSiblings(parentID, orderID)
		}
	} else {
		m.publish(EventOrderPartial, order)
	}
}

// activateChildren submits the exit legs of a filled bracket entry.
func (m *OrderManager) activateChildren(childIDs []string) {
	ctx := context.Background()
	for _, childID := range childIDs {
		m.mu.Lock()
		child, err := m.orders.Get(childID)
		if err != nil || child.Status != domain.OrderStatusPending {
			m.mu.Unlock()
			continue
		}

		now := m.now()
		brokerOrderID, err := m.eng.Submit(ctx, child)
		if err != nil {
			child.UpdateStatus(domain.OrderStatusRejected, now)
			child.RejectReason = "broker: " + err.Error()
			m.orders.Reindex(child)
			m.mu.Unlock()
			m.log.Error("bracket child submission failed", "order_id", childID, "error", err)
			continue
		}
		child.BrokerOrderID = brokerOrderID
		child.UpdateStatus(domain.OrderStatusSubmitted, now)
		m.orders.Reindex(child)
		m.mu.Unlock()

		m.publish(EventOrderCreated, child)
		m.log.Info("bracket child activated", "order_id", childID, "type", string(child.Type))
	}
}

// cancelSiblings implements one-cancels-other between a bracket's exit legs:
// when one leg fills, the others are withdrawn.
func (m *OrderManager) cancelSiblings(parentID, filledID string) {
	m.mu.Lock()
	parent, err := m.orders.Get(parentID)
	if err != nil {
		m.mu.Unlock()
		return
	}
	siblings := make([]string, 0, len(parent.ChildOrderIDs))
	for _, id := range parent.ChildOrderIDs {
		if id != filledID {
			siblings = append(siblings, id)
		}
	}
	m.mu.Unlock()

	ctx := context.Background()
	for _, id := range siblings {
		if _, _, err := m.CancelOrder(ctx, id, "sibling order filled"); err != nil && !errors.Is(err, domain.ErrOrderNotActive) {
			m.log.Warn("sibling cancel failed", "order_id", id, "error", err)
		}
	}
}

// ProcessOrderUpdate applies a venue-driven status change from the poll
// loop. Transitions the state machine forbids are logged and dropped.
func (m *OrderManager) ProcessOrderUpdate(orderID string, status domain.OrderStatus) {
	m.mu.Lock()
	order, err := m.orders.Get(orderID)
	if err != nil {
		m.mu.Unlock()
		return
	}
	now := m.now()
	if err := order.UpdateStatus(status, now); err != nil {
		m.mu.Unlock()
		m.log.Warn("venue status change dropped",
			"order_id", orderID,
			"from", string(order.Status),
			"to", string(status),
		)
		return
	}
	m.orders.Reindex(order)
	var outcome CancelOutcome
	if status.IsTerminal() {
		m.eng.Release(orderID)
		m.expiry.Untrack(orderID)
		outcome = m.cancelChildrenLocked(context.Background(), order, now)
	}
	m.mu.Unlock()

	switch status {
	case domain.OrderStatusCancelled:
		metrics.OrdersCancelled.Inc()
		m.publish(EventOrderCancelled, order)
	case domain.OrderStatusRejected:
		metrics.OrdersRejected.WithLabelValues("broker").Inc()
		m.publish(EventOrderRejected, order)
	case domain.OrderStatusExpired:
		metrics.OrdersExpired.Inc()
		m.publish(EventOrderExpired, order)
	default:
		m.publish(EventOrderUpdated, order)
	}
	if len(outcome.Cancelled) > 0 || len(outcome.Failed) > 0 {
		m.log.Info("child orders cascaded",
			"order_id", orderID,
			"cancelled", len(outcome.Cancelled),
			"failed", len(outcome.Failed),
		)
	}
}

// ExpireOrder moves a time-bounded order to EXPIRED. Called by the expiry
// sweep; the venue cancel is best-effort since the order is expiring either
// way.
func (m *OrderManager) ExpireOrder(orderID string) {
	m.mu.Lock()
	order, err := m.orders.Get(orderID)
	if err != nil || order.IsTerminal() {
		m.mu.Unlock()
		return
	}

	now := m.now()
	if order.Status != domain.OrderStatusPending {
		if err := m.eng.Cancel(context.Background(), order); err != nil {
			m.log.Warn("broker cancel on expiry failed", "order_id", orderID, "error", err)
		}
	}
	if err := order.UpdateStatus(domain.OrderStatusExpired, now); err != nil {
		// PENDING_CANCEL cannot expire; the in-flight cancel wins.
		m.mu.Unlock()
		return
	}
	m.orders.Reindex(order)
	m.eng.Release(orderID)
	outcome := m.cancelChildrenLocked(context.Background(), order, now)
	m.mu.Unlock()

	metrics.OrdersExpired.Inc()
	metrics.OrdersInFlight.Set(float64(m.eng.InFlight()))
	m.publish(EventOrderExpired, order)
	m.log.Info("order expired",
		"order_id", orderID,
		"cascaded", len(outcome.Cancelled),
	)
}

// GetOrder returns an order by ID.
func (m *OrderManager) GetOrder(orderID string) (*domain.Order, error) {
	return m.orders.Get(orderID)
}

// ListOrders returns a filtered page of orders plus the total match count.
func (m *OrderManager) ListOrders(f store.OrderFilter) ([]*domain.Order, int) {
	return m.orders.List(f)
}

// ActiveOrders returns every non-terminal order.
func (m *OrderManager) ActiveOrders() []*domain.Order {
	return m.orders.ListActive()
}

// OrderTrades returns the fills recorded for an order.
func (m *OrderManager) OrderTrades(orderID string) ([]*domain.Trade, error) {
	if _, err := m.orders.Get(orderID); err != nil {
		return nil, err
	}
	return m.trades.ListByOrder(orderID), nil
}

// ListTrades returns a page of all trades, newest first.
func (m *OrderManager) ListTrades(limit, offset int) ([]*domain.Trade, int) {
	return m.trades.ListAll(limit, offset)
}

// Stats summarizes the order book.
func (m *OrderManager) Stats() OrderStats {
	return OrderStats{
		Total:    m.orders.Count(),
		ByStatus: m.orders.CountByStatus(),
		InFlight: m.eng.InFlight(),
	}
}

// riskPrice picks the price used for risk sizing: the limit price when
// present, then the stop price, then the venue reference.
func (m *OrderManager) riskPrice(req domain.OrderRequest) decimal.Decimal {
	if req.Price != nil {
		return *req.Price
	}
	if req.StopPrice != nil {
		return *req.StopPrice
	}
	return m.prices.ReferencePrice(req.Symbol)
}

// orderRiskPrice is riskPrice for an existing order.
func (m *OrderManager) orderRiskPrice(order *domain.Order) decimal.Decimal {
	if order.Price != nil {
		return *order.Price
	}
	if order.StopPrice != nil {
		return *order.StopPrice
	}
	return m.prices.ReferencePrice(order.Symbol)
}

// trackExpiryLocked registers time-bounded orders with the expiry sweep.
// DAY orders expire at the next date boundary, GTD at their own deadline.
func (m *OrderManager) trackExpiryLocked(order *domain.Order, now time.Time) {
	switch order.TimeInForce {
	case domain.TimeInForceDay:
		m.expiry.Track(order.OrderID, engine.EndOfDay(now))
	case domain.TimeInForceGTD:
		if order.ExpiresAt != nil {
			m.expiry.Track(order.OrderID, *order.ExpiresAt)
		}
	}
}

func (m *OrderManager) journalTrade(trade *domain.Trade) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Append(context.Background(), trade); err != nil {
		m.log.Error("trade journal write failed", "trade_id", trade.TradeID, "error", err)
	}
}

func (m *OrderManager) publish(eventType string, payload any) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(Event{Type: eventType, At: m.now(), Payload: payload})
}
