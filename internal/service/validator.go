// Package service holds the orchestration layer: request validation, risk
// enforcement, position accounting, order lifecycle management, and outbound
// notifications.
package service

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/config"
	"github.com/efreitasn/papertrader/internal/domain"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._-]{0,19}$`)

// Validator checks order requests against structural rules and the
// configured validation limits. It is stateless and safe for concurrent use.
type Validator struct {
	limits  config.ValidationLimits
	allowed map[string]struct{} // nil when any symbol is allowed
}

// NewValidator builds a validator from the limit set.
func NewValidator(limits config.ValidationLimits) *Validator {
	var allowed map[string]struct{}
	if len(limits.AllowedSymbols) > 0 {
		allowed = make(map[string]struct{}, len(limits.AllowedSymbols))
		for _, s := range limits.AllowedSymbols {
			allowed[s] = struct{}{}
		}
	}
	return &Validator{limits: limits, allowed: allowed}
}

// Validate checks a request and returns advisory warnings plus an error. The
// error, when non-nil, is a *domain.ValidationError carrying every violation
// found, not just the first. Warnings (e.g. outside market hours) never block
// the order on the paper venue.
func (v *Validator) Validate(req domain.OrderRequest, now time.Time) ([]string, error) {
	var reasons, warnings []string

	reasons = append(reasons, v.checkSymbol(req.Symbol)...)
	reasons = append(reasons, checkSide(req.Side)...)
	reasons = append(reasons, checkType(req.Type)...)
	reasons = append(reasons, checkTimeInForce(req.TimeInForce)...)
	reasons = append(reasons, checkExpiry(req, now)...)
	reasons = append(reasons, v.checkQuantity(req.Quantity)...)
	reasons = append(reasons, v.checkPrices(req)...)
	reasons = append(reasons, v.checkBracket(req)...)
	reasons = append(reasons, v.checkNotional(req)...)

	if w := v.checkMarketHours(now); w != "" {
		warnings = append(warnings, w)
	}

	if len(reasons) > 0 {
		return warnings, &domain.ValidationError{Reasons: reasons}
	}
	return warnings, nil
}

// ValidateUpdate checks an amended order against the same quantity, price,
// and notional bounds applied at creation. Field shape (which fields the
// order type may carry) is the OrderManager's concern; this only re-checks
// the configured limits.
func (v *Validator) ValidateUpdate(amended *domain.Order) error {
	var reasons []string

	reasons = append(reasons, v.checkQuantity(amended.Quantity)...)
	if amended.Price != nil {
		reasons = append(reasons, v.checkPriceBounds("price", *amended.Price)...)
	}
	if amended.StopPrice != nil {
		reasons = append(reasons, v.checkPriceBounds("stop price", *amended.StopPrice)...)
	}
	if amended.Price != nil && amended.Quantity > 0 {
		notional := amended.Price.Mul(decimal.NewFromInt(amended.Quantity))
		max := decimal.NewFromFloat(v.limits.MaxOrderNotional)
		if notional.GreaterThan(max) {
			reasons = append(reasons, fmt.Sprintf("order notional %s exceeds maximum %s", notional, max))
		}
	}

	if len(reasons) > 0 {
		return &domain.ValidationError{Reasons: reasons}
	}
	return nil
}

func (v *Validator) checkSymbol(symbol string) []string {
	if symbol == "" {
		return []string{"symbol is required"}
	}
	if !symbolPattern.MatchString(symbol) {
		return []string{fmt.Sprintf("symbol %q is malformed", symbol)}
	}
	if v.allowed != nil {
		if _, ok := v.allowed[symbol]; !ok {
			return []string{fmt.Sprintf("symbol %q is not in the allowed list", symbol)}
		}
	}
	return nil
}

func checkSide(side domain.OrderSide) []string {
	switch side {
	case domain.OrderSideBuy, domain.OrderSideSell:
		return nil
	case "":
		return []string{"side is required"}
	}
	return []string{fmt.Sprintf("side %q is not BUY or SELL", side)}
}

func checkType(t domain.OrderType) []string {
	switch t {
	case domain.OrderTypeMarket, domain.OrderTypeLimit,
		domain.OrderTypeStopLoss, domain.OrderTypeStopLossLimit,
		domain.OrderTypeTakeProfit, domain.OrderTypeTakeProfitLimit,
		domain.OrderTypeBracket:
		return nil
	case "":
		return []string{"order type is required"}
	}
	return []string{fmt.Sprintf("unknown order type %q", t)}
}

func checkTimeInForce(tif domain.TimeInForce) []string {
	switch tif {
	case "", domain.TimeInForceDay, domain.TimeInForceGTC,
		domain.TimeInForceIOC, domain.TimeInForceFOK, domain.TimeInForceGTD:
		return nil
	}
	return []string{fmt.Sprintf("unknown time in force %q", tif)}
}

func checkExpiry(req domain.OrderRequest, now time.Time) []string {
	if req.TimeInForce == domain.TimeInForceGTD {
		if req.ExpiresAt == nil {
			return []string{"GTD orders require an expiry time"}
		}
		if !req.ExpiresAt.After(now) {
			return []string{"GTD expiry time must be in the future"}
		}
		return nil
	}
	if req.ExpiresAt != nil {
		return []string{"expiry time is only valid on GTD orders"}
	}
	return nil
}

func (v *Validator) checkQuantity(qty int64) []string {
	var reasons []string
	if qty < v.limits.MinQuantity {
		reasons = append(reasons, fmt.Sprintf("quantity %d is below minimum %d", qty, v.limits.MinQuantity))
	}
	if qty > v.limits.MaxQuantity {
		reasons = append(reasons, fmt.Sprintf("quantity %d exceeds maximum %d", qty, v.limits.MaxQuantity))
	}
	if qty > 0 && v.limits.LotSize > 1 && qty%v.limits.LotSize != 0 {
		reasons = append(reasons, fmt.Sprintf("quantity %d is not a multiple of lot size %d", qty, v.limits.LotSize))
	}
	return reasons
}

func (v *Validator) checkPrices(req domain.OrderRequest) []string {
	var reasons []string

	if req.Type.RequiresPrice() && req.Price == nil {
		reasons = append(reasons, fmt.Sprintf("order type %s requires a price", req.Type))
	}
	if req.Type.RequiresStopPrice() && req.StopPrice == nil {
		reasons = append(reasons, fmt.Sprintf("order type %s requires a stop price", req.Type))
	}
	if req.Type == domain.OrderTypeMarket && req.Price != nil {
		reasons = append(reasons, "market orders must not carry a price")
	}

	if req.Price != nil {
		reasons = append(reasons, v.checkPriceBounds("price", *req.Price)...)
	}
	if req.StopPrice != nil {
		reasons = append(reasons, v.checkPriceBounds("stop price", *req.StopPrice)...)
	}
	return reasons
}

func (v *Validator) checkPriceBounds(name string, p decimal.Decimal) []string {
	min := decimal.NewFromFloat(v.limits.MinPrice)
	max := decimal.NewFromFloat(v.limits.MaxPrice)
	if p.LessThan(min) {
		return []string{fmt.Sprintf("%s %s is below minimum %s", name, p, min)}
	}
	if p.GreaterThan(max) {
		return []string{fmt.Sprintf("%s %s exceeds maximum %s", name, p, max)}
	}
	return nil
}

// checkBracket verifies that a bracket's exit prices sit on the profitable
// and protective sides of the entry price.
func (v *Validator) checkBracket(req domain.OrderRequest) []string {
	if req.Type != domain.OrderTypeBracket {
		if req.TargetPrice != nil || req.StopLossPrice != nil {
			return []string{"target and stop-loss prices are only valid on bracket orders"}
		}
		return nil
	}

	var reasons []string
	if req.TargetPrice == nil {
		reasons = append(reasons, "bracket orders require a target price")
	}
	if req.StopLossPrice == nil {
		reasons = append(reasons, "bracket orders require a stop-loss price")
	}
	if req.Price == nil || req.TargetPrice == nil || req.StopLossPrice == nil {
		return reasons
	}

	entry := *req.Price
	switch req.Side {
	case domain.OrderSideBuy:
		if !req.TargetPrice.GreaterThan(entry) {
			reasons = append(reasons, "buy bracket target must be above the entry price")
		}
		if !req.StopLossPrice.LessThan(entry) {
			reasons = append(reasons, "buy bracket stop-loss must be below the entry price")
		}
	case domain.OrderSideSell:
		if !req.TargetPrice.LessThan(entry) {
			reasons = append(reasons, "sell bracket target must be below the entry price")
		}
		if !req.StopLossPrice.GreaterThan(entry) {
			reasons = append(reasons, "sell bracket stop-loss must be above the entry price")
		}
	}
	return reasons
}

func (v *Validator) checkNotional(req domain.OrderRequest) []string {
	if req.Price == nil || req.Quantity <= 0 {
		return nil
	}
	notional := req.Price.Mul(decimal.NewFromInt(req.Quantity))
	max := decimal.NewFromFloat(v.limits.MaxOrderNotional)
	if notional.GreaterThan(max) {
		return []string{fmt.Sprintf("order notional %s exceeds maximum %s", notional, max)}
	}
	return nil
}

// checkMarketHours returns a warning when now falls outside the configured
// session. The paper venue fills around the clock, so this never rejects.
func (v *Validator) checkMarketHours(now time.Time) string {
	open, err1 := parseClock(v.limits.MarketOpen)
	closeAt, err2 := parseClock(v.limits.MarketClose)
	if err1 != nil || err2 != nil {
		return ""
	}

	minutes := now.Hour()*60 + now.Minute()
	if minutes < open || minutes >= closeAt {
		return fmt.Sprintf("outside market hours (%s-%s)", v.limits.MarketOpen, v.limits.MarketClose)
	}
	return ""
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
