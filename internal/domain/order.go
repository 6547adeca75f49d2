package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that closes exposure opened by this side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType distinguishes how an order is priced and triggered.
type OrderType string

const (
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeStopLoss        OrderType = "STOP_LOSS"
	OrderTypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfit      OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
	OrderTypeBracket         OrderType = "BRACKET"
)

// RequiresPrice reports whether the order type needs a limit price.
func (t OrderType) RequiresPrice() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLossLimit, OrderTypeTakeProfitLimit, OrderTypeBracket:
		return true
	}
	return false
}

// RequiresStopPrice reports whether the order type needs a stop trigger price.
func (t OrderType) RequiresStopPrice() bool {
	switch t {
	case OrderTypeStopLoss, OrderTypeStopLossLimit:
		return true
	}
	return false
}

// TimeInForce controls how long an order remains eligible for execution.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceGTD TimeInForce = "GTD"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusAcknowledged    OrderStatus = "ACKNOWLEDGED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status permits no further mutation.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// validStatusTransitions defines the allowed edges of the order state
// machine. Terminal states have no outgoing edges.
var validStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {
		OrderStatusSubmitted, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired,
	},
	OrderStatusSubmitted: {
		OrderStatusAcknowledged, OrderStatusPartiallyFilled, OrderStatusFilled,
		OrderStatusPendingCancel, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired,
	},
	OrderStatusAcknowledged: {
		OrderStatusPartiallyFilled, OrderStatusFilled,
		OrderStatusPendingCancel, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled, OrderStatusFilled,
		OrderStatusPendingCancel, OrderStatusCancelled, OrderStatusExpired,
	},
	OrderStatusPendingCancel: {
		OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled,
	},
}

// CanTransition reports whether the state machine permits moving from one
// status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range validStatusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OrderRequest is the caller's instruction to create an order. The
// OrderManager turns an accepted request into an Order.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      int64
	Price         *decimal.Decimal // required for limit-family types
	StopPrice     *decimal.Decimal // required for stop-family types
	TimeInForce   TimeInForce
	ExpiresAt     *time.Time       // required for GTD
	TargetPrice   *decimal.Decimal // bracket orders only
	StopLossPrice *decimal.Decimal // bracket orders only
	ClientOrderID string
	StrategyID    string
	Notes         string
}

// Order is a requested or in-flight trading instruction. It is mutated only
// by the OrderManager and ExecutionEngine in response to broker callbacks or
// user actions.
type Order struct {
	OrderID       string
	ClientOrderID string
	BrokerOrderID string
	StrategyID    string

	Symbol      string
	Side        OrderSide
	Type        OrderType
	Quantity    int64
	Price       *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce TimeInForce
	ExpiresAt   *time.Time

	Status           OrderStatus
	FilledQuantity   int64
	AverageFillPrice decimal.Decimal
	Commission       decimal.Decimal

	// Bracket linkage. ChildOrderIDs is owned by the parent; children carry
	// ParentOrderID back to it.
	TargetPrice   *decimal.Decimal
	StopLossPrice *decimal.Decimal
	ParentOrderID string
	ChildOrderIDs []string

	Notes        string
	RejectReason string
	CancelReason string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time
	FilledAt    *time.Time
}

// NewOrder builds a PENDING order from an accepted request. The caller
// assigns OrderID before persisting.
func NewOrder(req OrderRequest, now time.Time) *Order {
	tif := req.TimeInForce
	if tif == "" {
		tif = TimeInForceDay
	}
	return &Order{
		ClientOrderID: req.ClientOrderID,
		StrategyID:    req.StrategyID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		TimeInForce:   tif,
		ExpiresAt:     req.ExpiresAt,
		Status:        OrderStatusPending,
		TargetPrice:   req.TargetPrice,
		StopLossPrice: req.StopLossPrice,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RemainingQuantity returns the unfilled quantity.
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// IsActive reports whether the order can still be filled, updated, or
// cancelled.
func (o *Order) IsActive() bool {
	return !o.Status.IsTerminal()
}

// IsTerminal reports whether the order has reached a final state.
func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// UpdateStatus transitions the order to a new status. It returns
// ErrInvalidTransition when the state machine forbids the edge, leaving the
// order untouched.
func (o *Order) UpdateStatus(to OrderStatus, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = now
	if to == OrderStatusSubmitted {
		t := now
		o.SubmittedAt = &t
	}
	return nil
}

// ApplyFill applies an execution of qty units at the given price. It
// maintains 0 <= filled_quantity <= quantity, recomputes the weighted
// average fill price, and promotes the status to PARTIALLY_FILLED or FILLED.
// Fills against terminal orders are rejected so a late broker callback can
// never corrupt a settled order.
func (o *Order) ApplyFill(qty int64, price decimal.Decimal, now time.Time) error {
	if o.IsTerminal() {
		return ErrOrderNotActive
	}
	if qty <= 0 {
		return ErrInvalidFill
	}
	if o.FilledQuantity+qty > o.Quantity {
		return ErrOverfill
	}

	prevNotional := o.AverageFillPrice.Mul(decimal.NewFromInt(o.FilledQuantity))
	fillNotional := price.Mul(decimal.NewFromInt(qty))
	o.FilledQuantity += qty
	o.AverageFillPrice = prevNotional.Add(fillNotional).Div(decimal.NewFromInt(o.FilledQuantity))
	o.UpdatedAt = now

	if o.FilledQuantity == o.Quantity {
		o.Status = OrderStatusFilled
		t := now
		o.FilledAt = &t
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	return nil
}
