package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of an aggregated holding.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
	PositionSideFlat  PositionSide = "FLAT"
)

// Position is the aggregated holding for a single symbol. Quantity is the
// unsigned magnitude; direction is tracked by Side. A fully closed position
// returns to FLAT rather than being deleted, preserving its realized P&L.
type Position struct {
	Symbol        string
	Side          PositionSide
	Quantity      int64
	AveragePrice  decimal.Decimal // cost basis per unit
	MarketPrice   decimal.Decimal // last known
	RealizedPnl   decimal.Decimal
	UnrealizedPnl decimal.Decimal
	OrderIDs      []string
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// NewPosition creates a FLAT position for a symbol.
func NewPosition(symbol string, now time.Time) *Position {
	return &Position{
		Symbol:    symbol,
		Side:      PositionSideFlat,
		OpenedAt:  now,
		UpdatedAt: now,
	}
}

// MarketValue returns market_price × |quantity|.
func (p *Position) MarketValue() decimal.Decimal {
	return p.MarketPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// CostBasis returns average_price × |quantity|.
func (p *Position) CostBasis() decimal.Decimal {
	return p.AveragePrice.Mul(decimal.NewFromInt(p.Quantity))
}

// TotalPnl returns realized + unrealized P&L.
func (p *Position) TotalPnl() decimal.Decimal {
	return p.RealizedPnl.Add(p.UnrealizedPnl)
}

// signedQuantity returns the position quantity with LONG positive and SHORT
// negative.
func (p *Position) signedQuantity() int64 {
	if p.Side == PositionSideShort {
		return -p.Quantity
	}
	return p.Quantity
}

// ApplyTrade folds a trade into the position.
//
// A trade that adds to the existing directional exposure recomputes the
// average price as a running weighted average. A trade that reduces or
// reverses exposure realizes the closed portion's P&L against the pre-trade
// average price; when the trade's magnitude exceeds the position, the
// position reverses sign with a fresh average price equal to the trade
// price for the residual quantity.
func (p *Position) ApplyTrade(t *Trade) error {
	if t.Quantity <= 0 {
		return ErrInvalidFill
	}

	delta := t.Quantity
	if t.Side == OrderSideSell {
		delta = -delta
	}

	current := p.signedQuantity()

	switch {
	case current == 0:
		// Opening from flat.
		p.AveragePrice = t.Price
		p.setSigned(current + delta)

	case (current > 0) == (delta > 0):
		// Adding to exposure: weighted average.
		oldQty := decimal.NewFromInt(abs64(current))
		addQty := decimal.NewFromInt(abs64(delta))
		notional := p.AveragePrice.Mul(oldQty).Add(t.Price.Mul(addQty))
		p.AveragePrice = notional.Div(oldQty.Add(addQty))
		p.setSigned(current + delta)

	default:
		// Reducing or reversing exposure.
		closeQty := min64(abs64(current), abs64(delta))
		pnlPerUnit := t.Price.Sub(p.AveragePrice)
		if current < 0 {
			pnlPerUnit = p.AveragePrice.Sub(t.Price)
		}
		p.RealizedPnl = p.RealizedPnl.Add(pnlPerUnit.Mul(decimal.NewFromInt(closeQty)))

		remaining := current + delta
		if remaining == 0 {
			p.AveragePrice = decimal.Zero
		} else if (remaining > 0) != (current > 0) {
			// Reversal: residual opens at the trade price.
			p.AveragePrice = t.Price
		}
		p.setSigned(remaining)
	}

	p.MarketPrice = t.Price
	p.OrderIDs = append(p.OrderIDs, t.OrderID)
	p.UpdatedAt = t.ExecutedAt
	p.recomputeUnrealized()
	return nil
}

// MarkPrice updates the last known market price and recomputes unrealized
// P&L. It returns true when the unrealized P&L actually changed.
func (p *Position) MarkPrice(price decimal.Decimal, now time.Time) bool {
	prev := p.UnrealizedPnl
	p.MarketPrice = price
	p.recomputeUnrealized()
	if p.UnrealizedPnl.Equal(prev) {
		return false
	}
	p.UpdatedAt = now
	return true
}

func (p *Position) recomputeUnrealized() {
	if p.Quantity == 0 {
		p.UnrealizedPnl = decimal.Zero
		return
	}
	perUnit := p.MarketPrice.Sub(p.AveragePrice)
	if p.Side == PositionSideShort {
		perUnit = p.AveragePrice.Sub(p.MarketPrice)
	}
	p.UnrealizedPnl = perUnit.Mul(decimal.NewFromInt(p.Quantity))
}

func (p *Position) setSigned(q int64) {
	switch {
	case q > 0:
		p.Side = PositionSideLong
		p.Quantity = q
	case q < 0:
		p.Side = PositionSideShort
		p.Quantity = -q
	default:
		p.Side = PositionSideFlat
		p.Quantity = 0
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
