package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable execution record. Exactly one Trade is created per
// fill event by the broker adapter; it is never mutated after creation.
type Trade struct {
	TradeID    string
	OrderID    string
	Symbol     string
	Side       OrderSide
	Quantity   int64
	Price      decimal.Decimal
	Commission decimal.Decimal
	Exchange   string
	ExecutedAt time.Time
}

// Value returns price × quantity.
func (t *Trade) Value() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}
