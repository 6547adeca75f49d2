package store

import (
	"sync"
	"time"

	"github.com/efreitasn/papertrader/internal/domain"
)

// PositionStore is the repository interface for positions.
type PositionStore interface {
	// GetOrCreate returns the position for a symbol, creating a FLAT one on
	// first use.
	GetOrCreate(symbol string, now time.Time) *domain.Position
	// Get returns the position for a symbol or domain.ErrPositionNotFound.
	Get(symbol string) (*domain.Position, error)
	All() []*domain.Position
}

// MemoryPositionStore is a thread-safe in-memory PositionStore. Positions
// are created lazily and never deleted; fully closed positions stay FLAT.
type MemoryPositionStore struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
}

// Compile-time interface check.
var _ PositionStore = (*MemoryPositionStore)(nil)

// NewMemoryPositionStore creates an empty MemoryPositionStore.
func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{
		positions: make(map[string]*domain.Position),
	}
}

// GetOrCreate returns the position for a symbol, creating it on first use.
func (s *MemoryPositionStore) GetOrCreate(symbol string, now time.Time) *domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[symbol]
	if !ok {
		p = domain.NewPosition(symbol, now)
		s.positions[symbol] = p
	}
	return p
}

// Get returns the position for a symbol or domain.ErrPositionNotFound.
func (s *MemoryPositionStore) Get(symbol string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[symbol]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	return p, nil
}

// All returns every tracked position, including FLAT ones.
func (s *MemoryPositionStore) All() []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}
