package service

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/config"
	"github.com/efreitasn/papertrader/internal/domain"
	"github.com/efreitasn/papertrader/internal/store"
)

// RiskMetrics is a point-in-time snapshot of aggregate risk usage.
type RiskMetrics struct {
	DailyTrades    int
	DailyVolume    decimal.Decimal
	DailyPnl       decimal.Decimal
	OpenSymbols    int
	Halted         bool
	HaltReason     string
	WindowStartsAt time.Time
}

// RiskManager enforces the aggregate risk limits. Checks run in a fixed
// order from cheapest to most expensive; the first hard violation rejects the
// order. Daily counters derive from the trade store over the current risk
// window, which is advanced only by an explicit ResetDailyLimits call.
type RiskManager struct {
	limits    config.RiskLimits
	positions store.PositionStore
	trades    store.TradeStore
	log       *slog.Logger

	mu          sync.Mutex
	windowStart time.Time
	pnlBaseline decimal.Decimal // portfolio total P&L at window start
	halted      bool
	haltReason  string
	onHalt      func(reason string)
}

// NewRiskManager builds the manager with a risk window starting now.
func NewRiskManager(limits config.RiskLimits, positions store.PositionStore, trades store.TradeStore, now time.Time, log *slog.Logger) *RiskManager {
	return &RiskManager{
		limits:      limits,
		positions:   positions,
		trades:      trades,
		log:         log.With("component", "risk_manager"),
		windowStart: now,
	}
}

// CheckOrder evaluates a request against every limit. price is the limit
// price when set, otherwise the venue's reference price; the notional used
// for value-based checks is price × quantity.
func (r *RiskManager) CheckOrder(req domain.OrderRequest, price decimal.Decimal) domain.RiskResult {
	r.mu.Lock()
	halted, haltReason := r.halted, r.haltReason
	windowStart := r.windowStart
	r.mu.Unlock()

	if halted {
		return domain.Reject("trading halted: " + haltReason)
	}

	var warnings []string
	var score float64

	if req.Quantity > r.limits.MaxOrderQuantity {
		return domain.Reject(fmt.Sprintf("quantity %d exceeds risk limit %d", req.Quantity, r.limits.MaxOrderQuantity))
	}

	notional := price.Mul(decimal.NewFromInt(req.Quantity))
	maxValue := decimal.NewFromFloat(r.limits.MaxSingleOrderValue)
	if notional.GreaterThan(maxValue) {
		return domain.Reject(fmt.Sprintf("order value %s exceeds limit %s", notional, maxValue))
	}
	score += ratio(notional, maxValue) * 0.3

	if res := r.checkPosition(req, price, notional, &warnings, &score); !res.Approved {
		return res
	}
	if res := r.checkDailyActivity(windowStart, notional, &warnings, &score); !res.Approved {
		return res
	}
	if res := r.checkOpenSymbols(req.Symbol); !res.Approved {
		return res
	}

	if score > 1 {
		score = 1
	}
	return domain.Approve(score, warnings)
}

// CheckOrderUpdate re-runs the full order battery against an amended order,
// sized at its amended quantity and price. An amendment that would not be
// accepted as a fresh order is not accepted as an update either.
func (r *RiskManager) CheckOrderUpdate(amended *domain.Order, price decimal.Decimal) domain.RiskResult {
	return r.CheckOrder(domain.OrderRequest{
		Symbol:   amended.Symbol,
		Side:     amended.Side,
		Type:     amended.Type,
		Quantity: amended.Quantity,
	}, price)
}

// checkPosition bounds the projected post-fill position size and its share of
// the portfolio.
func (r *RiskManager) checkPosition(req domain.OrderRequest, price, notional decimal.Decimal, warnings *[]string, score *float64) domain.RiskResult {
	projected := signedRequestQty(req)
	var portfolioValue decimal.Decimal
	for _, p := range r.positions.All() {
		if p.Symbol == req.Symbol {
			if p.Side == domain.PositionSideShort {
				projected -= p.Quantity
			} else {
				projected += p.Quantity
			}
		}
		portfolioValue = portfolioValue.Add(p.MarketValue())
	}

	projectedNotional := price.Mul(decimal.NewFromInt(abs(projected)))
	maxPosition := decimal.NewFromFloat(r.limits.MaxPositionSize)
	if projectedNotional.GreaterThan(maxPosition) {
		return domain.Reject(fmt.Sprintf("projected position value %s exceeds limit %s", projectedNotional, maxPosition))
	}
	*score += ratio(projectedNotional, maxPosition) * 0.3

	// Concentration is only meaningful once there is a portfolio to be
	// concentrated in; the first position is always 100% of it.
	if portfolioValue.IsPositive() {
		concentration := projectedNotional.Div(portfolioValue.Add(notional))
		maxConc := decimal.NewFromFloat(r.limits.MaxPositionConcentration)
		if concentration.GreaterThan(maxConc) {
			return domain.Reject(fmt.Sprintf("position concentration %s exceeds limit %s", concentration.Round(4), maxConc))
		}
		if concentration.GreaterThan(maxConc.Mul(decimal.NewFromFloat(0.8))) {
			*warnings = append(*warnings, fmt.Sprintf("position concentration %s approaching limit %s", concentration.Round(4), maxConc))
		}
	}
	return domain.Approve(0, nil)
}

func (r *RiskManager) checkDailyActivity(windowStart time.Time, notional decimal.Decimal, warnings *[]string, score *float64) domain.RiskResult {
	dailyTrades := r.trades.CountSince(windowStart)
	if dailyTrades >= r.limits.MaxDailyTrades {
		return domain.Reject(fmt.Sprintf("daily trade count %d reached limit %d", dailyTrades, r.limits.MaxDailyTrades))
	}
	if float64(dailyTrades) > float64(r.limits.MaxDailyTrades)*0.8 {
		*warnings = append(*warnings, fmt.Sprintf("daily trade count %d approaching limit %d", dailyTrades, r.limits.MaxDailyTrades))
	}

	dailyVolume := r.trades.VolumeSince(windowStart)
	maxVolume := decimal.NewFromFloat(r.limits.MaxDailyVolume)
	if dailyVolume.Add(notional).GreaterThan(maxVolume) {
		return domain.Reject(fmt.Sprintf("daily volume %s plus order %s exceeds limit %s", dailyVolume, notional, maxVolume))
	}
	*score += ratio(dailyVolume.Add(notional), maxVolume) * 0.2
	return domain.Approve(0, nil)
}

// checkOpenSymbols caps the number of distinct symbols with live exposure.
// Orders in symbols already held never count against the cap.
func (r *RiskManager) checkOpenSymbols(symbol string) domain.RiskResult {
	open := 0
	for _, p := range r.positions.All() {
		if p.Side == domain.PositionSideFlat {
			continue
		}
		if p.Symbol == symbol {
			return domain.Approve(0, nil)
		}
		open++
	}
	if open >= r.limits.MaxOpenSymbols {
		return domain.Reject(fmt.Sprintf("open symbol count %d reached limit %d", open, r.limits.MaxOpenSymbols))
	}
	return domain.Approve(0, nil)
}

// OnHalt registers the callback fired once when the daily loss limit trips.
func (r *RiskManager) OnHalt(f func(reason string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onHalt = f
}

// MonitorTrade runs after every fill. It re-evaluates the daily loss limit
// and halts new orders once breached; the halt persists until the next
// ResetDailyLimits.
func (r *RiskManager) MonitorTrade(t *domain.Trade) {
	r.mu.Lock()
	if r.halted {
		r.mu.Unlock()
		return
	}
	loss := r.dailyPnlLocked().Neg()
	limit := decimal.NewFromFloat(r.limits.DailyLossLimit)
	if loss.LessThan(limit) {
		r.mu.Unlock()
		return
	}
	r.halted = true
	r.haltReason = fmt.Sprintf("daily loss %s reached limit %s", loss, limit)
	reason := r.haltReason
	onHalt := r.onHalt
	r.mu.Unlock()

	r.log.Error("trading halted", "reason", reason, "trade_id", t.TradeID)
	if onHalt != nil {
		onHalt(reason)
	}
}

// ShouldHaltTrading reports whether the daily loss limit has been breached.
func (r *RiskManager) ShouldHaltTrading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

// ResetDailyLimits starts a new risk window: daily counters restart from
// zero, the P&L baseline moves to the current portfolio P&L, and any halt is
// lifted. Called by the operator, not by a timer.
func (r *RiskManager) ResetDailyLimits(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.windowStart = now
	r.pnlBaseline = r.portfolioPnlLocked()
	r.halted = false
	r.haltReason = ""
	r.log.Info("daily risk limits reset", "window_start", now)
}

// GetRiskMetrics returns current usage of the daily limits.
func (r *RiskManager) GetRiskMetrics() RiskMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	open := 0
	for _, p := range r.positions.All() {
		if p.Side != domain.PositionSideFlat {
			open++
		}
	}
	return RiskMetrics{
		DailyTrades:    r.trades.CountSince(r.windowStart),
		DailyVolume:    r.trades.VolumeSince(r.windowStart),
		DailyPnl:       r.dailyPnlLocked(),
		OpenSymbols:    open,
		Halted:         r.halted,
		HaltReason:     r.haltReason,
		WindowStartsAt: r.windowStart,
	}
}

// Limits returns the configured limit set.
func (r *RiskManager) Limits() config.RiskLimits {
	return r.limits
}

func (r *RiskManager) dailyPnlLocked() decimal.Decimal {
	return r.portfolioPnlLocked().Sub(r.pnlBaseline)
}

func (r *RiskManager) portfolioPnlLocked() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.positions.All() {
		total = total.Add(p.TotalPnl())
	}
	return total
}

func signedRequestQty(req domain.OrderRequest) int64 {
	if req.Side == domain.OrderSideSell {
		return -req.Quantity
	}
	return req.Quantity
}

func ratio(num, den decimal.Decimal) float64 {
	if !den.IsPositive() {
		return 0
	}
	f, _ := num.Div(den).Float64()
	if f < 0 {
		return 0
	}
	return f
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
