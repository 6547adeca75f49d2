// Package store provides the persistence layer behind narrow interfaces so
// the in-memory implementations used in production and tests can be swapped
// without touching orchestration logic.
package store

import (
	"sync"

	"github.com/efreitasn/papertrader/internal/domain"
)

// OrderFilter selects orders for listing. Zero-value fields are ignored.
type OrderFilter struct {
	Symbol     string
	Status     *domain.OrderStatus
	StrategyID string
	Limit      int
	Offset     int
}

// OrderStore is the repository interface for orders.
type OrderStore interface {
	Create(o *domain.Order)
	Get(id string) (*domain.Order, error)
	// List returns the filtered page in reverse chronological order (newest
	// first) and the total count of matching orders before pagination.
	List(f OrderFilter) ([]*domain.Order, int)
	ListActive() []*domain.Order
	// Reindex rebuilds the status index after an order's status changed.
	// Must be called on every status transition.
	Reindex(o *domain.Order)
	CountByStatus() map[domain.OrderStatus]int
	Count() int
}

// MemoryOrderStore is a thread-safe in-memory OrderStore with a primary
// index by order_id and secondary indices by symbol, status, and strategy.
type MemoryOrderStore struct {
	mu             sync.RWMutex
	orders         map[string]*domain.Order
	ordered        []*domain.Order            // insertion order (append-only)
	symbolOrders   map[string][]*domain.Order // symbol → orders (append-only)
	strategyOrders map[string][]*domain.Order // strategy_id → orders (append-only)
	statusOrders   map[domain.OrderStatus][]*domain.Order
}

// Compile-time interface check.
var _ OrderStore = (*MemoryOrderStore)(nil)

// NewMemoryOrderStore creates an empty MemoryOrderStore.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders:         make(map[string]*domain.Order),
		symbolOrders:   make(map[string][]*domain.Order),
		strategyOrders: make(map[string][]*domain.Order),
		statusOrders:   make(map[domain.OrderStatus][]*domain.Order),
	}
}

// Create adds an order to the store and every secondary index.
func (s *MemoryOrderStore) Create(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[o.OrderID] = o
	s.ordered = append(s.ordered, o)
	s.symbolOrders[o.Symbol] = append(s.symbolOrders[o.Symbol], o)
	if o.StrategyID != "" {
		s.strategyOrders[o.StrategyID] = append(s.strategyOrders[o.StrategyID], o)
	}
	s.statusOrders[o.Status] = append(s.statusOrders[o.Status], o)
}

// Get retrieves an order by ID. It returns domain.ErrOrderNotFound if the
// order does not exist.
func (s *MemoryOrderStore) Get(id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// List returns orders matching the filter, newest first, plus the total
// count of matches before pagination.
func (s *MemoryOrderStore) List(f OrderFilter) ([]*domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Pick the narrowest index available.
	source := s.ordered
	if f.Symbol != "" {
		source = s.symbolOrders[f.Symbol]
	} else if f.StrategyID != "" {
		source = s.strategyOrders[f.StrategyID]
	}

	filtered := make([]*domain.Order, 0)
	for i := len(source) - 1; i >= 0; i-- {
		o := source[i]
		if f.Symbol != "" && o.Symbol != f.Symbol {
			continue
		}
		if f.StrategyID != "" && o.StrategyID != f.StrategyID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		filtered = append(filtered, o)
	}

	total := len(filtered)

	start := f.Offset
	if start < 0 {
		start = 0
	}
	if start >= total {
		return []*domain.Order{}, total
	}
	end := total
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}
	return filtered[start:end], total
}

// ListActive returns all orders in a non-terminal status.
func (s *MemoryOrderStore) ListActive() []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*domain.Order, 0)
	for _, o := range s.ordered {
		if o.IsActive() {
			active = append(active, o)
		}
	}
	return active
}

// Reindex rebuilds the status index from scratch. Rebuilding per update is
// intentionally simple rather than performance-optimal; order counts in a
// single-process paper trader stay small.
func (s *MemoryOrderStore) Reindex(_ *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statusOrders = make(map[domain.OrderStatus][]*domain.Order)
	for _, o := range s.ordered {
		s.statusOrders[o.Status] = append(s.statusOrders[o.Status], o)
	}
}

// CountByStatus returns the number of orders per status.
func (s *MemoryOrderStore) CountByStatus() map[domain.OrderStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.OrderStatus]int, len(s.statusOrders))
	for status, orders := range s.statusOrders {
		counts[status] = len(orders)
	}
	return counts
}

// Count returns the total number of orders.
func (s *MemoryOrderStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
