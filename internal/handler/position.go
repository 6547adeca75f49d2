package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/domain"
	"github.com/efreitasn/papertrader/internal/service"
)

// PositionHandler handles HTTP requests for position endpoints.
type PositionHandler struct {
	positions *service.PositionManager
}

// NewPositionHandler creates a new PositionHandler.
func NewPositionHandler(positions *service.PositionManager) *PositionHandler {
	return &PositionHandler{positions: positions}
}

// positionResponse is the JSON shape of a position.
type positionResponse struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      int64   `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	MarketPrice   float64 `json:"market_price"`
	MarketValue   float64 `json:"market_value"`
	CostBasis     float64 `json:"cost_basis"`
	RealizedPnl   float64 `json:"realized_pnl"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	TotalPnl      float64 `json:"total_pnl"`
	OpenedAt      string  `json:"opened_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// ListPositions handles GET /orders/positions/.
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	all := h.positions.All()
	items := make([]positionResponse, 0, len(all))
	for _, p := range all {
		items = append(items, buildPositionResponse(p))
	}

	s := h.positions.Summary()
	WriteJSON(w, http.StatusOK, map[string]any{
		"positions": items,
		"summary": map[string]any{
			"positions":            s.Positions,
			"open_positions":       s.OpenPositions,
			"total_market_value":   s.TotalMarketValue.InexactFloat64(),
			"total_cost_basis":     s.TotalCostBasis.InexactFloat64(),
			"total_realized_pnl":   s.TotalRealizedPnl.InexactFloat64(),
			"total_unrealized_pnl": s.TotalUnrealizedPnl.InexactFloat64(),
			"total_pnl":            s.TotalPnl.InexactFloat64(),
		},
	})
}

// GetPosition handles GET /orders/positions/{symbol}.
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := h.positions.Get(chi.URLParam(r, "symbol"))
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildPositionResponse(p))
}

// GetPositionHistory handles GET /orders/positions/{symbol}/history.
func (h *PositionHandler) GetPositionHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	history := h.positions.History(symbol)
	items := make([]map[string]any, 0, len(history))
	for _, s := range history {
		items = append(items, map[string]any{
			"trade_id":      s.TradeID,
			"side":          string(s.Side),
			"quantity":      s.Quantity,
			"average_price": s.AveragePrice.InexactFloat64(),
			"realized_pnl":  s.RealizedPnl.InexactFloat64(),
			"at":            s.At.UTC().Format(time.RFC3339Nano),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "history": items})
}

// ClosePosition handles POST /orders/positions/{symbol}/close. The close is
// administrative: it synthesizes the flattening trade directly, bypassing
// order validation and risk gating, so it works even under a trading halt.
// An optional price query parameter overrides the last marked market price.
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var price *decimal.Decimal
	if v := r.URL.Query().Get("price"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || !d.IsPositive() {
			WriteError(w, http.StatusBadRequest, "validation_error", "price must be a positive number")
			return
		}
		price = &d
	}

	p, trade, err := h.positions.Close(chi.URLParam(r, "symbol"), price, time.Now())
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"position": buildPositionResponse(p),
		"trade":    buildTradeResponses([]*domain.Trade{trade})[0],
	})
}

func buildPositionResponse(p *domain.Position) positionResponse {
	return positionResponse{
		Symbol:        p.Symbol,
		Side:          string(p.Side),
		Quantity:      p.Quantity,
		AveragePrice:  p.AveragePrice.InexactFloat64(),
		MarketPrice:   p.MarketPrice.InexactFloat64(),
		MarketValue:   p.MarketValue().InexactFloat64(),
		CostBasis:     p.CostBasis().InexactFloat64(),
		RealizedPnl:   p.RealizedPnl.InexactFloat64(),
		UnrealizedPnl: p.UnrealizedPnl.InexactFloat64(),
		TotalPnl:      p.TotalPnl().InexactFloat64(),
		OpenedAt:      p.OpenedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
