package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/domain"
	"github.com/efreitasn/papertrader/internal/service"
	"github.com/efreitasn/papertrader/internal/store"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	manager *service.OrderManager
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(manager *service.OrderManager) *OrderHandler {
	return &OrderHandler{manager: manager}
}

// createOrderRequest is the JSON request body for POST /orders.
type createOrderRequest struct {
	Symbol        string   `json:"symbol"`
	Side          string   `json:"side"`
	OrderType     string   `json:"order_type"`
	Quantity      int64    `json:"quantity"`
	Price         *float64 `json:"price"`
	StopPrice     *float64 `json:"stop_price"`
	TimeInForce   string   `json:"time_in_force"`
	ExpiresAt     *string  `json:"expires_at"`
	TargetPrice   *float64 `json:"take_profit_price"`
	StopLossPrice *float64 `json:"stop_loss_price"`
	ClientOrderID string   `json:"client_order_id"`
	StrategyID    string   `json:"strategy_id"`
	Notes         string   `json:"notes"`
}

// updateOrderRequest is the JSON request body for PUT /orders/{order_id}.
type updateOrderRequest struct {
	Quantity    *int64   `json:"quantity"`
	Price       *float64 `json:"price"`
	StopPrice   *float64 `json:"stop_price"`
	TimeInForce *string  `json:"time_in_force"`
}

// orderResponse is the JSON shape of an order. Nullable fields use pointers
// and are always present.
type orderResponse struct {
	OrderID           string   `json:"order_id"`
	ClientOrderID     string   `json:"client_order_id,omitempty"`
	BrokerOrderID     string   `json:"broker_order_id,omitempty"`
	StrategyID        string   `json:"strategy_id,omitempty"`
	Symbol            string   `json:"symbol"`
	Side              string   `json:"side"`
	OrderType         string   `json:"order_type"`
	Quantity          int64    `json:"quantity"`
	Price             *float64 `json:"price"`
	StopPrice         *float64 `json:"stop_price"`
	TimeInForce       string   `json:"time_in_force"`
	ExpiresAt         *string  `json:"expires_at"`
	Status            string   `json:"status"`
	FilledQuantity    int64    `json:"filled_quantity"`
	RemainingQuantity int64    `json:"remaining_quantity"`
	AverageFillPrice  float64  `json:"average_fill_price"`
	Commission        float64  `json:"commission"`
	TargetPrice       *float64 `json:"take_profit_price,omitempty"`
	StopLossPrice     *float64 `json:"stop_loss_price,omitempty"`
	ParentOrderID     string   `json:"parent_order_id,omitempty"`
	ChildOrderIDs     []string `json:"child_order_ids,omitempty"`
	Notes             string   `json:"notes,omitempty"`
	RejectReason      string   `json:"reject_reason,omitempty"`
	CancelReason      string   `json:"cancel_reason,omitempty"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
	SubmittedAt       *string  `json:"submitted_at"`
	FilledAt          *string  `json:"filled_at"`
}

// tradeResponse is a single executed trade.
type tradeResponse struct {
	TradeID    string  `json:"trade_id"`
	OrderID    string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   int64   `json:"quantity"`
	Price      float64 `json:"price"`
	Commission float64 `json:"commission"`
	Exchange   string  `json:"exchange"`
	ExecutedAt string  `json:"executed_at"`
}

// CreateOrder handles POST /orders.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "expires_at must be a valid RFC 3339 timestamp")
			return
		}
		expiresAt = &t
	}

	order, err := h.manager.CreateOrder(r.Context(), domain.OrderRequest{
		Symbol:        req.Symbol,
		Side:          domain.OrderSide(req.Side),
		Type:          domain.OrderType(req.OrderType),
		Quantity:      req.Quantity,
		Price:         toDecimal(req.Price),
		StopPrice:     toDecimal(req.StopPrice),
		TimeInForce:   domain.TimeInForce(req.TimeInForce),
		ExpiresAt:     expiresAt,
		TargetPrice:   toDecimal(req.TargetPrice),
		StopLossPrice: toDecimal(req.StopLossPrice),
		ClientOrderID: req.ClientOrderID,
		StrategyID:    req.StrategyID,
		Notes:         req.Notes,
	})
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// ListOrders handles GET /orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	f := store.OrderFilter{
		Symbol:     r.URL.Query().Get("symbol"),
		StrategyID: r.URL.Query().Get("strategy_id"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.OrderStatus(s)
		f.Status = &status
	}

	orders, total := h.manager.ListOrders(f)
	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, buildOrderResponse(o))
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"orders": items,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.manager.GetOrder(chi.URLParam(r, "order_id"))
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// UpdateOrder handles PUT /orders/{order_id}.
func (h *OrderHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	upd := service.OrderUpdate{
		Quantity:  req.Quantity,
		Price:     toDecimal(req.Price),
		StopPrice: toDecimal(req.StopPrice),
	}
	if req.TimeInForce != nil {
		tif := domain.TimeInForce(*req.TimeInForce)
		upd.TimeInForce = &tif
	}

	order, err := h.manager.UpdateOrder(r.Context(), chi.URLParam(r, "order_id"), upd)
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")

	order, outcome, err := h.manager.CancelOrder(r.Context(), chi.URLParam(r, "order_id"), reason)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	resp := map[string]any{"order": buildOrderResponse(order)}
	if len(outcome.Cancelled) > 0 || len(outcome.Failed) > 0 {
		resp["children_cancelled"] = outcome.Cancelled
		resp["children_failed"] = outcome.Failed
	}
	WriteJSON(w, http.StatusOK, resp)
}

// OrderTrades handles GET /orders/{order_id}/trades.
func (h *OrderHandler) OrderTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.manager.OrderTrades(chi.URLParam(r, "order_id"))
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"trades": buildTradeResponses(trades)})
}

// ListTrades handles GET /orders/trades/.
func (h *OrderHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	trades, total := h.manager.ListTrades(limit, offset)
	WriteJSON(w, http.StatusOK, map[string]any{
		"trades": buildTradeResponses(trades),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Stats handles GET /orders/stats.
func (h *OrderHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	byStatus := make(map[string]int, len(stats.ByStatus))
	for status, n := range stats.ByStatus {
		byStatus[string(status)] = n
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"total_orders": stats.Total,
		"by_status":    byStatus,
		"in_flight":    stats.InFlight,
	})
}

// mapOrderError translates domain errors into HTTP responses.
func mapOrderError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		WriteValidationError(w, verr.Reasons)
		return
	}
	var rerr *domain.RiskError
	if errors.As(err, &rerr) {
		WriteError(w, http.StatusConflict, "risk_rejected", rerr.Reason)
		return
	}

	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrPositionNotFound):
		WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrOrderNotActive):
		WriteError(w, http.StatusConflict, "order_not_active", "order is not in a cancellable or updatable state")
	case errors.Is(err, domain.ErrBrokerUnavailable):
		WriteError(w, http.StatusBadGateway, "broker_unavailable", "execution venue is unavailable")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

func buildOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{
		OrderID:           o.OrderID,
		ClientOrderID:     o.ClientOrderID,
		BrokerOrderID:     o.BrokerOrderID,
		StrategyID:        o.StrategyID,
		Symbol:            o.Symbol,
		Side:              string(o.Side),
		OrderType:         string(o.Type),
		Quantity:          o.Quantity,
		Price:             fromDecimal(o.Price),
		StopPrice:         fromDecimal(o.StopPrice),
		TimeInForce:       string(o.TimeInForce),
		ExpiresAt:         formatTimePtr(o.ExpiresAt),
		Status:            string(o.Status),
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity(),
		AverageFillPrice:  o.AverageFillPrice.InexactFloat64(),
		Commission:        o.Commission.InexactFloat64(),
		TargetPrice:       fromDecimal(o.TargetPrice),
		StopLossPrice:     fromDecimal(o.StopLossPrice),
		ParentOrderID:     o.ParentOrderID,
		ChildOrderIDs:     o.ChildOrderIDs,
		Notes:             o.Notes,
		RejectReason:      o.RejectReason,
		CancelReason:      o.CancelReason,
		CreatedAt:         o.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:         o.UpdatedAt.UTC().Format(time.RFC3339Nano),
		SubmittedAt:       formatTimePtr(o.SubmittedAt),
		FilledAt:          formatTimePtr(o.FilledAt),
	}
}

func buildTradeResponses(trades []*domain.Trade) []tradeResponse {
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeResponse{
			TradeID:    t.TradeID,
			OrderID:    t.OrderID,
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			Quantity:   t.Quantity,
			Price:      t.Price.InexactFloat64(),
			Commission: t.Commission.InexactFloat64(),
			Exchange:   t.Exchange,
			ExecutedAt: t.ExecutedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out
}

func toDecimal(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

func fromDecimal(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
