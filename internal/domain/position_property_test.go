package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// Property: for any sequence of trades, the signed quantity of the position
// equals the signed sum of trade quantities, and a flat position always has
// zero unrealized P&L and zero average price.
func TestProperty_PositionQuantityConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := NewPosition("TEST", time.Now())

		n := rapid.IntRange(1, 20).Draw(t, "n")
		var signedSum int64
		for i := 0; i < n; i++ {
			qty := rapid.Int64Range(1, 100).Draw(t, "qty")
			priceCents := rapid.Int64Range(100, 100000).Draw(t, "priceCents")
			side := OrderSideBuy
			if rapid.Bool().Draw(t, "sell") {
				side = OrderSideSell
				signedSum -= qty
			} else {
				signedSum += qty
			}

			tr := &Trade{
				TradeID:    "t",
				OrderID:    "o",
				Symbol:     "TEST",
				Side:       side,
				Quantity:   qty,
				Price:      decimal.New(priceCents, -2),
				ExecutedAt: time.Now(),
			}
			if err := p.ApplyTrade(tr); err != nil {
				t.Fatalf("ApplyTrade: %v", err)
			}
		}

		got := p.signedQuantity()
		if got != signedSum {
			t.Fatalf("signed quantity %d, want %d", got, signedSum)
		}
		if signedSum == 0 {
			if p.Side != PositionSideFlat {
				t.Fatalf("expected FLAT at zero quantity, got %s", p.Side)
			}
			if !p.UnrealizedPnl.IsZero() {
				t.Fatalf("flat position has unrealized %s", p.UnrealizedPnl)
			}
		}
	})
}

// Property: open-then-close in one direction realizes exactly
// (exit − entry) × qty for longs and the negation for shorts, regardless of
// prices drawn.
func TestProperty_PositionRoundTripPnl(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		entryCents := rapid.Int64Range(100, 100000).Draw(t, "entryCents")
		exitCents := rapid.Int64Range(100, 100000).Draw(t, "exitCents")
		qty := rapid.Int64Range(1, 1000).Draw(t, "qty")
		short := rapid.Bool().Draw(t, "short")

		openSide, closeSide := OrderSideBuy, OrderSideSell
		if short {
			openSide, closeSide = OrderSideSell, OrderSideBuy
		}

		entry := decimal.New(entryCents, -2)
		exit := decimal.New(exitCents, -2)

		p := NewPosition("TEST", time.Now())
		open := &Trade{Side: openSide, Quantity: qty, Price: entry, ExecutedAt: time.Now()}
		closing := &Trade{Side: closeSide, Quantity: qty, Price: exit, ExecutedAt: time.Now()}

		if err := p.ApplyTrade(open); err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := p.ApplyTrade(closing); err != nil {
			t.Fatalf("close: %v", err)
		}

		want := exit.Sub(entry).Mul(decimal.NewFromInt(qty))
		if short {
			want = want.Neg()
		}
		if !p.RealizedPnl.Equal(want) {
			t.Fatalf("realized %s, want %s", p.RealizedPnl, want)
		}
		if p.Side != PositionSideFlat || p.Quantity != 0 {
			t.Fatalf("expected flat position, got %s qty=%d", p.Side, p.Quantity)
		}
	})
}

// Property: any sequence of fills summing to the order quantity leaves the
// order FILLED with the exact volume-weighted average fill price.
func TestProperty_OrderFillWeightedAverage(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(rapid.Int64Range(1, 50), 1, 10).Draw(t, "parts")

		var total int64
		for _, q := range parts {
			total += q
		}

		o := NewOrder(OrderRequest{
			Symbol:   "TEST",
			Side:     OrderSideBuy,
			Type:     OrderTypeMarket,
			Quantity: total,
		}, time.Now())
		o.OrderID = "o"

		notional := decimal.Zero
		for _, q := range parts {
			priceCents := rapid.Int64Range(100, 100000).Draw(t, "priceCents")
			price := decimal.New(priceCents, -2)
			notional = notional.Add(price.Mul(decimal.NewFromInt(q)))
			if err := o.ApplyFill(q, price, time.Now()); err != nil {
				t.Fatalf("ApplyFill: %v", err)
			}
		}

		if o.Status != OrderStatusFilled {
			t.Fatalf("expected FILLED, got %s", o.Status)
		}
		if o.FilledQuantity != total {
			t.Fatalf("filled %d, want %d", o.FilledQuantity, total)
		}
		// The running average divides once per fill, so compare against the
		// single-division result with a tolerance covering division rounding.
		want := notional.Div(decimal.NewFromInt(total))
		tolerance := decimal.New(1, -9)
		if o.AverageFillPrice.Sub(want).Abs().GreaterThan(tolerance) {
			t.Fatalf("average fill %s, want %s", o.AverageFillPrice, want)
		}
	})
}
