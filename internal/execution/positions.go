package execution

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// Change describes how a fill altered the book.
type Change string

const (
	ChangeOpened    Change = "opened"
	ChangeIncreased Change = "increased"
	ChangeReduced   Change = "reduced"
	ChangeClosed    Change = "closed"
)

// Position is a live holding tracked by the book. TrailPct and
// ActivationPct are zero unless the opening order asked for a trailing
// stop.
type Position struct {
	ID               string
	Symbol           string
	Side             protocol.PositionSide
	EntryPrice       float64
	CurrentPrice     float64
	Quantity         float64
	InitialQuantity  float64
	UnrealizedPnL    float64
	UnrealizedPnLPct float64
	RealizedPnL      float64
	StopLoss         float64
	TakeProfit       float64
	TrailPct         float64
	ActivationPct    float64
	EntryTime        time.Time
	ClosedAt         time.Time
	Status           protocol.PositionStatus
}

// TotalPnL is realized plus unrealized.
func (p *Position) TotalPnL() float64 { return p.UnrealizedPnL + p.RealizedPnL }

// StopHit reports whether price has breached the stop-loss level.
func (p *Position) StopHit(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == protocol.PositionLong {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// TargetHit reports whether price has reached the take-profit level.
func (p *Position) TargetHit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == protocol.PositionLong {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

func (p *Position) reprice(price float64) {
	p.CurrentPrice = price
	perUnit := price - p.EntryPrice
	if p.Side == protocol.PositionShort {
		perUnit = p.EntryPrice - price
	}
	p.UnrealizedPnL = perUnit * p.Quantity
	if p.EntryPrice > 0 {
		p.UnrealizedPnLPct = perUnit / p.EntryPrice * 100
	}
}

// FillEvent is one executed fill group applied to the book. Stop and
// trailing parameters only take effect when the fill opens a position.
type FillEvent struct {
	Symbol        string
	Side          protocol.Direction
	Quantity      float64
	Price         float64
	StopLoss      float64
	TakeProfit    float64
	TrailPct      float64
	ActivationPct float64
	Time          time.Time
}

// Book is the in-memory position ledger: at most one live position per
// symbol, plus the closed history. All methods are safe for concurrent
// use and return value snapshots so callers never share ledger state.
type Book struct {
	mu     sync.RWMutex
	open   map[string]*Position
	closed []*Position
}

// NewBook returns an empty ledger.
func NewBook() *Book {
	return &Book{open: make(map[string]*Position)}
}

// ApplyFill folds a fill into the book. A fill on a flat symbol opens;
// same side increases at a weighted entry; opposite side reduces, or
// closes outright when the fill covers the remaining quantity. Closed
// positions move to history and are never resurrected.
func (b *Book) ApplyFill(ev FillEvent) (Position, Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[ev.Symbol]
	if !ok {
		pos = b.openLocked(ev)
		return *pos, ChangeOpened
	}

	fillSide := protocol.PositionLong
	if ev.Side == protocol.DirectionSell {
		fillSide = protocol.PositionShort
	}

	switch {
	case fillSide == pos.Side:
		b.increaseLocked(pos, ev)
		return *pos, ChangeIncreased
	case ev.Quantity >= pos.Quantity:
		b.closeLocked(pos, ev)
		return *pos, ChangeClosed
	default:
		b.reduceLocked(pos, ev)
		return *pos, ChangeReduced
	}
}

func (b *Book) openLocked(ev FillEvent) *Position {
	side := protocol.PositionLong
	if ev.Side == protocol.DirectionSell {
		side = protocol.PositionShort
	}
	entryTime := ev.Time
	if entryTime.IsZero() {
		entryTime = time.Now().UTC()
	}

	pos := &Position{
		ID:              uuid.NewString(),
		Symbol:          ev.Symbol,
		Side:            side,
		EntryPrice:      ev.Price,
		CurrentPrice:    ev.Price,
		Quantity:        ev.Quantity,
		InitialQuantity: ev.Quantity,
		StopLoss:        ev.StopLoss,
		TakeProfit:      ev.TakeProfit,
		TrailPct:        ev.TrailPct,
		ActivationPct:   ev.ActivationPct,
		EntryTime:       entryTime,
		Status:          protocol.PositionOpen,
	}
	b.open[ev.Symbol] = pos
	return pos
}

func (b *Book) increaseLocked(pos *Position, ev FillEvent) {
	total := pos.Quantity + ev.Quantity
	pos.EntryPrice = (pos.Quantity*pos.EntryPrice + ev.Quantity*ev.Price) / total
	pos.Quantity = total
	pos.reprice(ev.Price)
}

func (b *Book) reduceLocked(pos *Position, ev FillEvent) {
	perUnit := ev.Price - pos.EntryPrice
	if pos.Side == protocol.PositionShort {
		perUnit = pos.EntryPrice - ev.Price
	}
	pos.RealizedPnL += perUnit * ev.Quantity
	pos.Quantity -= ev.Quantity
	pos.Status = protocol.PositionPartiallyClosed
	pos.reprice(ev.Price)
}

func (b *Book) closeLocked(pos *Position, ev FillEvent) {
	perUnit := ev.Price - pos.EntryPrice
	if pos.Side == protocol.PositionShort {
		perUnit = pos.EntryPrice - ev.Price
	}
	pos.RealizedPnL += perUnit * pos.Quantity
	pos.Quantity = 0
	pos.CurrentPrice = ev.Price
	pos.UnrealizedPnL = 0
	pos.UnrealizedPnLPct = 0
	pos.Status = protocol.PositionClosed
	if ev.Time.IsZero() {
		pos.ClosedAt = time.Now().UTC()
	} else {
		pos.ClosedAt = ev.Time
	}

	delete(b.open, ev.Symbol)
	b.closed = append(b.closed, pos)
}

// Get returns a snapshot of the live position for symbol.
func (b *Book) Get(symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.open[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns snapshots of all live positions, ordered by symbol.
func (b *Book) Positions() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.open))
	for _, pos := range b.open {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Closed returns snapshots of the closed history, oldest first.
func (b *Book) Closed() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.closed))
	for _, pos := range b.closed {
		out = append(out, *pos)
	}
	return out
}

// Reprice updates the live position's mark and unrealized P&L.
func (b *Book) Reprice(symbol string, price float64) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[symbol]
	if !ok {
		return Position{}, false
	}
	pos.reprice(price)
	return *pos, true
}

// TrailStop ratchets the stop-loss toward the current price once the
// position is in profit past its activation threshold. The stop only
// ever tightens. Returns the updated snapshot and whether it moved.
func (b *Book) TrailStop(symbol string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[symbol]
	if !ok || pos.TrailPct <= 0 {
		return Position{}, false
	}

	if pos.Side == protocol.PositionLong {
		if pos.CurrentPrice < pos.EntryPrice*(1+pos.ActivationPct) {
			return *pos, false
		}
		candidate := pos.CurrentPrice * (1 - pos.TrailPct)
		if candidate <= pos.StopLoss {
			return *pos, false
		}
		pos.StopLoss = candidate
	} else {
		if pos.CurrentPrice > pos.EntryPrice*(1-pos.ActivationPct) {
			return *pos, false
		}
		candidate := pos.CurrentPrice * (1 + pos.TrailPct)
		if pos.StopLoss > 0 && candidate >= pos.StopLoss {
			return *pos, false
		}
		pos.StopLoss = candidate
	}
	return *pos, true
}

// Restore seeds a live position from the store at boot.
func (b *Book) Restore(pos Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := pos
	if p.Status == "" {
		p.Status = protocol.PositionOpen
	}
	b.open[p.Symbol] = &p
}

// BookStats summarizes the closed history. AverageLoss is negative when
// there are losing trades, matching the sign of the underlying P&L.
type BookStats struct {
	Closed       int
	Winning      int
	Losing       int
	WinRate      float64
	AverageWin   float64
	AverageLoss  float64
	ProfitFactor float64
	RealizedPnL  float64
}

// Stats computes win rate, average win/loss, and profit factor over the
// closed history.
func (b *Book) Stats() BookStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BookStats{Closed: len(b.closed)}
	if stats.Closed == 0 {
		return stats
	}

	var wins, losses float64
	for _, pos := range b.closed {
		stats.RealizedPnL += pos.RealizedPnL
		switch {
		case pos.RealizedPnL > 0:
			stats.Winning++
			wins += pos.RealizedPnL
		case pos.RealizedPnL < 0:
			stats.Losing++
			losses -= pos.RealizedPnL
		}
	}

	stats.WinRate = float64(stats.Winning) / float64(stats.Closed) * 100
	if stats.Winning > 0 {
		stats.AverageWin = wins / float64(stats.Winning)
	}
	if stats.Losing > 0 {
		stats.AverageLoss = -(losses / float64(stats.Losing))
	}
	if losses > 0 {
		stats.ProfitFactor = wins / losses
	}
	return stats
}
