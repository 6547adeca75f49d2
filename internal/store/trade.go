package store

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/domain"
)

// TradeStore is the repository interface for immutable trade records.
type TradeStore interface {
	Append(t *domain.Trade)
	ListByOrder(orderID string) []*domain.Trade
	ListBySymbol(symbol string) []*domain.Trade
	ListAll(limit, offset int) ([]*domain.Trade, int)
	// CountSince returns the number of trades executed at or after the cutoff.
	CountSince(cutoff time.Time) int
	// VolumeSince returns the total notional value of trades executed at or
	// after the cutoff.
	VolumeSince(cutoff time.Time) decimal.Decimal
}

// MemoryTradeStore is a thread-safe in-memory TradeStore. Trades are
// append-only; per-symbol and per-order indices share the same records.
type MemoryTradeStore struct {
	mu           sync.RWMutex
	trades       []*domain.Trade
	orderTrades  map[string][]*domain.Trade
	symbolTrades map[string][]*domain.Trade
}

// Compile-time interface check.
var _ TradeStore = (*MemoryTradeStore)(nil)

// NewMemoryTradeStore creates an empty MemoryTradeStore.
func NewMemoryTradeStore() *MemoryTradeStore {
	return &MemoryTradeStore{
		orderTrades:  make(map[string][]*domain.Trade),
		symbolTrades: make(map[string][]*domain.Trade),
	}
}

// Append records a trade.
func (s *MemoryTradeStore) Append(t *domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, t)
	s.orderTrades[t.OrderID] = append(s.orderTrades[t.OrderID], t)
	s.symbolTrades[t.Symbol] = append(s.symbolTrades[t.Symbol], t)
}

// ListByOrder returns the trades for an order in execution order.
func (s *MemoryTradeStore) ListByOrder(orderID string) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.orderTrades[orderID]
	out := make([]*domain.Trade, len(trades))
	copy(out, trades)
	return out
}

// ListBySymbol returns the trades for a symbol in execution order.
func (s *MemoryTradeStore) ListBySymbol(symbol string) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.symbolTrades[symbol]
	out := make([]*domain.Trade, len(trades))
	copy(out, trades)
	return out
}

// ListAll returns a page of all trades, newest first, and the total count.
func (s *MemoryTradeStore) ListAll(limit, offset int) ([]*domain.Trade, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.trades)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*domain.Trade{}, total
	}

	out := make([]*domain.Trade, 0, total-offset)
	for i := total - 1 - offset; i >= 0; i-- {
		out = append(out, s.trades[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, total
}

// CountSince returns the number of trades executed at or after the cutoff.
func (s *MemoryTradeStore) CountSince(cutoff time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.trades {
		if !t.ExecutedAt.Before(cutoff) {
			count++
		}
	}
	return count
}

// VolumeSince returns the total notional of trades executed at or after the
// cutoff.
func (s *MemoryTradeStore) VolumeSince(cutoff time.Time) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, t := range s.trades {
		if !t.ExecutedAt.Before(cutoff) {
			total = total.Add(t.Value())
		}
	}
	return total
}
