package broker

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/domain"
)

// Simulator venue status dialect, translated by the execution engine.
const (
	SimStatusAccepted  = "accepted"
	SimStatusFilled    = "filled"
	SimStatusCancelled = "canceled"
)

// SimulatorConfig tunes the paper venue.
type SimulatorConfig struct {
	// SlippagePct is the maximum adverse price movement applied to market
	// and stop fills, as a fraction (0.001 = 10 bps).
	SlippagePct float64

	// CommissionRate is charged on trade value, as a fraction.
	CommissionRate float64

	// FillDelay is how long after Submit the fill callback fires. Zero still
	// delivers asynchronously, on the timer goroutine.
	FillDelay time.Duration

	// Seed fixes the slippage RNG for reproducible runs; zero seeds from the
	// clock.
	Seed int64
}

// simOrder is the venue's own record of a working order.
type simOrder struct {
	orderID   string
	symbol    string
	side      domain.OrderSide
	quantity  int64
	fillPrice decimal.Decimal
	status    string
}

// Simulator is the paper-trading venue. Every submitted order is accepted and
// filled in full at a deterministic price: the limit price when one is set,
// otherwise a per-symbol reference price nudged against the taker by random
// slippage. Fills arrive through the FillHandler after FillDelay, so callers
// see the same asynchronous shape a real venue would give them.
type Simulator struct {
	log            *slog.Logger
	slippagePct    decimal.Decimal
	commissionRate decimal.Decimal
	fillDelay      time.Duration

	mu        sync.Mutex
	orders    map[string]*simOrder
	refPrices map[string]decimal.Decimal
	handler   FillHandler
	rng       *rand.Rand
}

// NewSimulator builds the paper venue from config.
func NewSimulator(cfg SimulatorConfig, log *slog.Logger) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		log:            log.With("broker", "paper"),
		slippagePct:    decimal.NewFromFloat(cfg.SlippagePct),
		commissionRate: decimal.NewFromFloat(cfg.CommissionRate),
		fillDelay:      cfg.FillDelay,
		orders:         make(map[string]*simOrder),
		refPrices:      make(map[string]decimal.Decimal),
		rng:            rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) Name() string { return "paper" }

// SetFillHandler registers the fill callback. Must be called before Submit.
func (s *Simulator) SetFillHandler(h FillHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Submit accepts the order and schedules its fill. The returned ID is the
// venue's, not the internal order ID.
func (s *Simulator) Submit(ctx context.Context, order *domain.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	brokerOrderID := "sim-" + uuid.NewString()
	rec := &simOrder{
		orderID:   order.OrderID,
		symbol:    order.Symbol,
		side:      order.Side,
		quantity:  order.Quantity,
		fillPrice: s.fillPriceLocked(order),
		status:    SimStatusAccepted,
	}
	s.orders[brokerOrderID] = rec

	s.log.Debug("order accepted",
		"broker_order_id", brokerOrderID,
		"order_id", order.OrderID,
		"symbol", order.Symbol,
		"fill_price", rec.fillPrice.String(),
	)

	time.AfterFunc(s.fillDelay, func() { s.fill(brokerOrderID) })
	return brokerOrderID, nil
}

// Replace amends the venue record in place. The next fill uses the new
// quantity and price.
func (s *Simulator) Replace(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[order.BrokerOrderID]
	if !ok {
		return domain.ErrUnknownBrokerID
	}
	if rec.status != SimStatusAccepted {
		return domain.ErrOrderNotActive
	}
	rec.quantity = order.Quantity
	rec.fillPrice = s.fillPriceLocked(order)
	return nil
}

// Cancel marks a working order canceled. Orders that already filled cannot be
// cancelled.
func (s *Simulator) Cancel(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[order.BrokerOrderID]
	if !ok {
		return domain.ErrUnknownBrokerID
	}
	if rec.status == SimStatusFilled {
		return domain.ErrOrderNotActive
	}
	rec.status = SimStatusCancelled
	return nil
}

// Status returns the venue's status string for the broker order ID.
func (s *Simulator) Status(ctx context.Context, brokerOrderID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[brokerOrderID]
	if !ok {
		return "", domain.ErrUnknownBrokerID
	}
	return rec.status, nil
}

// ReferencePrice returns the venue's current price for a symbol. Prices track
// the last fill; unseen symbols get a stable pseudo-price derived from the
// symbol name.
func (s *Simulator) ReferencePrice(symbol string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referencePriceLocked(symbol)
}

// fill executes the scheduled fill. It synthesizes the trade under the lock
// but invokes the handler outside it, so handlers may call back into the
// simulator.
func (s *Simulator) fill(brokerOrderID string) {
	s.mu.Lock()
	rec, ok := s.orders[brokerOrderID]
	if !ok || rec.status != SimStatusAccepted {
		s.mu.Unlock()
		return
	}
	rec.status = SimStatusFilled
	s.refPrices[rec.symbol] = rec.fillPrice

	value := rec.fillPrice.Mul(decimal.NewFromInt(rec.quantity))
	trade := &domain.Trade{
		TradeID:    "simtrade-" + uuid.NewString(),
		OrderID:    rec.orderID,
		Symbol:     rec.symbol,
		Side:       rec.side,
		Quantity:   rec.quantity,
		Price:      rec.fillPrice,
		Commission: value.Mul(s.commissionRate).Round(2),
		Exchange:   "PAPER",
		ExecutedAt: time.Now(),
	}
	handler := s.handler
	s.mu.Unlock()

	s.log.Debug("order filled",
		"broker_order_id", brokerOrderID,
		"trade_id", trade.TradeID,
		"price", trade.Price.String(),
		"quantity", trade.Quantity,
	)

	if handler != nil {
		handler(brokerOrderID, trade)
	}
}

// fillPriceLocked decides the execution price for an order. Limit-family
// orders fill at their limit, stop orders at the trigger with slippage, and
// market orders at the reference price with slippage.
func (s *Simulator) fillPriceLocked(order *domain.Order) decimal.Decimal {
	if order.Price != nil {
		return *order.Price
	}
	if order.StopPrice != nil {
		return s.slipLocked(*order.StopPrice, order.Side)
	}
	return s.slipLocked(s.referencePriceLocked(order.Symbol), order.Side)
}

// slipLocked moves price against the taker by a random fraction of the
// configured slippage. Buys pay up, sells receive less.
func (s *Simulator) slipLocked(price decimal.Decimal, side domain.OrderSide) decimal.Decimal {
	frac := s.slippagePct.Mul(decimal.NewFromFloat(s.rng.Float64()))
	delta := price.Mul(frac)
	if side == domain.OrderSideBuy {
		return price.Add(delta).Round(2)
	}
	return price.Sub(delta).Round(2)
}

func (s *Simulator) referencePriceLocked(symbol string) decimal.Decimal {
	if p, ok := s.refPrices[symbol]; ok {
		return p
	}
	// Stable pseudo-price in [50, 5000) so repeated runs against the same
	// symbol start from the same level.
	h := fnv.New32a()
	h.Write([]byte(symbol))
	cents := int64(50_00) + int64(h.Sum32()%495_000)
	p := decimal.New(cents, -2)
	s.refPrices[symbol] = p
	return p
}
