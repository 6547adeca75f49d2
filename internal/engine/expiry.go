package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/btree"
)

// expiryItem orders tracked orders by deadline so a sweep only touches the
// tree's leading edge. Order ID breaks ties for orders sharing a deadline.
type expiryItem struct {
	expiresAt time.Time
	orderID   string
}

func expiryLess(a, b expiryItem) bool {
	if !a.expiresAt.Equal(b.expiresAt) {
		return a.expiresAt.Before(b.expiresAt)
	}
	return a.orderID < b.orderID
}

// ExpireFunc is invoked once per order whose deadline has passed.
type ExpireFunc func(orderID string)

// ExpiryManager tracks time-bounded orders (DAY, GTD) and reports the ones
// whose deadline has passed. Deadlines live in a btree keyed by expiry time,
// so each sweep stops at the first order that is still live.
type ExpiryManager struct {
	log      *slog.Logger
	interval time.Duration
	expire   ExpireFunc

	mu    sync.Mutex
	tree  *btree.BTreeG[expiryItem]
	items map[string]expiryItem // order_id → tracked item, for Untrack
}

// NewExpiryManager builds the manager. expire is called outside the lock for
// each due order during a sweep.
func NewExpiryManager(interval time.Duration, expire ExpireFunc, log *slog.Logger) *ExpiryManager {
	return &ExpiryManager{
		log:      log.With("component", "expiry_manager"),
		interval: interval,
		expire:   expire,
		tree:     btree.NewG(8, expiryLess),
		items:    make(map[string]expiryItem),
	}
}

// Track registers an order's expiry deadline, replacing any previous one.
func (m *ExpiryManager) Track(orderID string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.items[orderID]; ok {
		m.tree.Delete(prev)
	}
	item := expiryItem{expiresAt: expiresAt, orderID: orderID}
	m.items[orderID] = item
	m.tree.ReplaceOrInsert(item)
}

// Untrack removes an order, typically because it reached a terminal state
// before its deadline.
func (m *ExpiryManager) Untrack(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[orderID]
	if !ok {
		return
	}
	delete(m.items, orderID)
	m.tree.Delete(item)
}

// Tracked returns the number of orders with a pending deadline.
func (m *ExpiryManager) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Len()
}

// Sweep removes and returns the IDs of all orders due at or before now.
func (m *ExpiryManager) Sweep(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []string
	for {
		item, ok := m.tree.Min()
		if !ok || item.expiresAt.After(now) {
			break
		}
		m.tree.DeleteMin()
		delete(m.items, item.orderID)
		due = append(due, item.orderID)
	}
	return due
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *ExpiryManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, orderID := range m.Sweep(now) {
				m.log.Info("order expired", "order_id", orderID)
				m.expire(orderID)
			}
		}
	}
}

// EndOfDay returns the expiry deadline for a DAY order created at t: the next
// midnight in t's location.
func EndOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}
