package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrader/internal/domain"
	"github.com/efreitasn/papertrader/internal/store"
)

// PortfolioSummary aggregates every position into one view.
type PortfolioSummary struct {
	Positions          int
	OpenPositions      int
	TotalMarketValue   decimal.Decimal
	TotalCostBasis     decimal.Decimal
	TotalRealizedPnl   decimal.Decimal
	TotalUnrealizedPnl decimal.Decimal
	TotalPnl           decimal.Decimal
}

// PositionRisk classifies a single position's exposure.
type PositionRisk struct {
	Symbol        string
	Tier          domain.RiskTier
	Concentration decimal.Decimal // fraction of portfolio market value
	PriceMovePct  decimal.Decimal // move from average price, signed
	UnrealizedPnl decimal.Decimal
}

// PositionSnapshot is one step of a position's replayed history.
type PositionSnapshot struct {
	TradeID      string
	Side         domain.PositionSide
	Quantity     int64
	AveragePrice decimal.Decimal
	RealizedPnl  decimal.Decimal
	At           time.Time
}

// PositionUpdateFunc observes position changes after fills and price marks.
type PositionUpdateFunc func(p *domain.Position)

// PositionManager owns all position mutation. Trades funnel through
// ProcessTrade one at a time, so per-symbol accounting stays sequential even
// though fills arrive from broker goroutines.
type PositionManager struct {
	positions store.PositionStore
	trades    store.TradeStore
	log       *slog.Logger

	mu       sync.Mutex
	onUpdate PositionUpdateFunc
}

// NewPositionManager builds the manager over the stores.
func NewPositionManager(positions store.PositionStore, trades store.TradeStore, log *slog.Logger) *PositionManager {
	return &PositionManager{
		positions: positions,
		trades:    trades,
		log:       log.With("component", "position_manager"),
	}
}

// OnUpdate registers the observer called after each position change.
func (m *PositionManager) OnUpdate(f PositionUpdateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = f
}

// ProcessTrade folds a fill into its symbol's position and returns the
// updated position.
func (m *PositionManager) ProcessTrade(t *domain.Trade) (*domain.Position, error) {
	m.mu.Lock()
	p := m.positions.GetOrCreate(t.Symbol, t.ExecutedAt)
	if err := p.ApplyTrade(t); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	onUpdate := m.onUpdate
	m.mu.Unlock()

	m.log.Info("position updated",
		"symbol", p.Symbol,
		"side", string(p.Side),
		"quantity", p.Quantity,
		"avg_price", p.AveragePrice.String(),
		"realized_pnl", p.RealizedPnl.String(),
	)
	if onUpdate != nil {
		onUpdate(p)
	}
	return p, nil
}

// Get returns the position for a symbol.
func (m *PositionManager) Get(symbol string) (*domain.Position, error) {
	return m.positions.Get(symbol)
}

// All returns every position sorted by symbol, including FLAT ones.
func (m *PositionManager) All() []*domain.Position {
	out := m.positions.All()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Summary aggregates the portfolio.
func (m *PositionManager) Summary() PortfolioSummary {
	var s PortfolioSummary
	for _, p := range m.positions.All() {
		s.Positions++
		if p.Side != domain.PositionSideFlat {
			s.OpenPositions++
		}
		s.TotalMarketValue = s.TotalMarketValue.Add(p.MarketValue())
		s.TotalCostBasis = s.TotalCostBasis.Add(p.CostBasis())
		s.TotalRealizedPnl = s.TotalRealizedPnl.Add(p.RealizedPnl)
		s.TotalUnrealizedPnl = s.TotalUnrealizedPnl.Add(p.UnrealizedPnl)
	}
	s.TotalPnl = s.TotalRealizedPnl.Add(s.TotalUnrealizedPnl)
	return s
}

// Risk classifies a position's exposure by its share of the portfolio and
// the price move from its cost basis.
func (m *PositionManager) Risk(symbol string) (PositionRisk, error) {
	p, err := m.positions.Get(symbol)
	if err != nil {
		return PositionRisk{}, err
	}

	portfolioValue := decimal.Zero
	for _, other := range m.positions.All() {
		portfolioValue = portfolioValue.Add(other.MarketValue())
	}

	risk := PositionRisk{
		Symbol:        p.Symbol,
		Tier:          domain.RiskTierLow,
		UnrealizedPnl: p.UnrealizedPnl,
	}
	if portfolioValue.IsPositive() {
		risk.Concentration = p.MarketValue().Div(portfolioValue)
	}
	if p.AveragePrice.IsPositive() {
		risk.PriceMovePct = p.MarketPrice.Sub(p.AveragePrice).Div(p.AveragePrice)
	}

	movePct := risk.PriceMovePct.Abs()
	switch {
	case risk.Concentration.GreaterThan(decimal.NewFromFloat(0.5)) ||
		movePct.GreaterThan(decimal.NewFromFloat(0.10)):
		risk.Tier = domain.RiskTierHigh
	case risk.Concentration.GreaterThan(decimal.NewFromFloat(0.25)) ||
		movePct.GreaterThan(decimal.NewFromFloat(0.05)):
		risk.Tier = domain.RiskTierMedium
	}
	return risk, nil
}

// History replays the symbol's trade log into per-trade snapshots. The
// replay works on a scratch position, so it never touches live state.
func (m *PositionManager) History(symbol string) []PositionSnapshot {
	trades := m.trades.ListBySymbol(symbol)
	if len(trades) == 0 {
		return nil
	}

	scratch := domain.NewPosition(symbol, trades[0].ExecutedAt)
	snapshots := make([]PositionSnapshot, 0, len(trades))
	for _, t := range trades {
		if err := scratch.ApplyTrade(t); err != nil {
			m.log.Warn("skipping unreplayable trade", "trade_id", t.TradeID, "error", err)
			continue
		}
		snapshots = append(snapshots, PositionSnapshot{
			TradeID:      t.TradeID,
			Side:         scratch.Side,
			Quantity:     scratch.Quantity,
			AveragePrice: scratch.AveragePrice,
			RealizedPnl:  scratch.RealizedPnl,
			At:           t.ExecutedAt,
		})
	}
	return snapshots
}

// MarkPrices applies market prices and returns how many positions actually
// changed. Unchanged positions produce no observer calls.
func (m *PositionManager) MarkPrices(prices map[string]decimal.Decimal, now time.Time) int {
	m.mu.Lock()
	onUpdate := m.onUpdate
	var changed []*domain.Position
	for symbol, price := range prices {
		p, err := m.positions.Get(symbol)
		if err != nil {
			continue
		}
		if p.MarkPrice(price, now) {
			changed = append(changed, p)
		}
	}
	m.mu.Unlock()

	if onUpdate != nil {
		for _, p := range changed {
			onUpdate(p)
		}
	}
	return len(changed)
}

// Close flattens the position administratively by synthesizing the closing
// trade directly, outside the order pipeline. It is deliberately not subject
// to validation or risk gating, so a position stays closable after a
// loss-limit halt. price overrides the execution price; nil closes at the
// last marked market price.
func (m *PositionManager) Close(symbol string, price *decimal.Decimal, now time.Time) (*domain.Position, *domain.Trade, error) {
	m.mu.Lock()
	p, err := m.positions.Get(symbol)
	if err != nil {
		m.mu.Unlock()
		return nil, nil, err
	}
	if p.Side == domain.PositionSideFlat {
		m.mu.Unlock()
		return nil, nil, domain.ErrPositionNotFound
	}

	side := domain.OrderSideSell
	if p.Side == domain.PositionSideShort {
		side = domain.OrderSideBuy
	}
	closeAt := p.MarketPrice
	if price != nil {
		closeAt = *price
	}
	if !closeAt.IsPositive() {
		closeAt = p.AveragePrice
	}

	trade := &domain.Trade{
		TradeID:    uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   p.Quantity,
		Price:      closeAt,
		Exchange:   "PAPER",
		ExecutedAt: now,
	}
	if err := p.ApplyTrade(trade); err != nil {
		m.mu.Unlock()
		return nil, nil, err
	}
	m.trades.Append(trade)
	onUpdate := m.onUpdate
	m.mu.Unlock()

	m.log.Info("position closed",
		"symbol", symbol,
		"quantity", trade.Quantity,
		"price", closeAt.String(),
		"realized_pnl", p.RealizedPnl.String(),
	)
	if onUpdate != nil {
		onUpdate(p)
	}
	return p, trade, nil
}
