package handler

import (
	"net/http"
	"time"

	"github.com/efreitasn/papertrader/internal/domain"
	"github.com/efreitasn/papertrader/internal/service"
)

// RiskHandler handles HTTP requests for risk endpoints.
type RiskHandler struct {
	risk      *service.RiskManager
	positions *service.PositionManager
}

// NewRiskHandler creates a new RiskHandler.
func NewRiskHandler(risk *service.RiskManager, positions *service.PositionManager) *RiskHandler {
	return &RiskHandler{risk: risk, positions: positions}
}

// Metrics handles GET /orders/risk/metrics.
func (h *RiskHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	m := h.risk.GetRiskMetrics()
	limits := h.risk.Limits()
	WriteJSON(w, http.StatusOK, map[string]any{
		"daily_trades":     m.DailyTrades,
		"daily_volume":     m.DailyVolume.InexactFloat64(),
		"daily_pnl":        m.DailyPnl.InexactFloat64(),
		"open_symbols":     m.OpenSymbols,
		"halted":           m.Halted,
		"halt_reason":      m.HaltReason,
		"window_starts_at": m.WindowStartsAt.UTC().Format(time.RFC3339Nano),
		"limits": map[string]any{
			"max_order_quantity":         limits.MaxOrderQuantity,
			"max_single_order_value":     limits.MaxSingleOrderValue,
			"max_position_size":          limits.MaxPositionSize,
			"max_position_concentration": limits.MaxPositionConcentration,
			"max_daily_trades":           limits.MaxDailyTrades,
			"max_daily_volume":           limits.MaxDailyVolume,
			"max_open_symbols":           limits.MaxOpenSymbols,
			"daily_loss_limit":           limits.DailyLossLimit,
		},
	})
}

// Analysis handles GET /orders/risk/analysis: a per-position risk breakdown.
func (h *RiskHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	items := make([]map[string]any, 0)
	for _, p := range h.positions.All() {
		if p.Side == domain.PositionSideFlat {
			continue
		}
		risk, err := h.positions.Risk(p.Symbol)
		if err != nil {
			continue
		}
		items = append(items, map[string]any{
			"symbol":         risk.Symbol,
			"tier":           string(risk.Tier),
			"concentration":  risk.Concentration.InexactFloat64(),
			"price_move_pct": risk.PriceMovePct.InexactFloat64(),
			"unrealized_pnl": risk.UnrealizedPnl.InexactFloat64(),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"positions": items,
		"halted":    h.risk.ShouldHaltTrading(),
	})
}

// Reset handles POST /orders/risk/reset: starts a new daily risk window and
// lifts any loss-limit halt.
func (h *RiskHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.risk.ResetDailyLimits(time.Now())
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
