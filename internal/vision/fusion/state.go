// Package fusion holds the single synchronization point between the two
// analyzer workers and the downstream consumers: an immutable, versioned
// snapshot combining the latest motion grid and the four cup states,
// published by atomic copy-on-write swap.
package fusion

import (
	"sync"
	"sync/atomic"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

// Snapshot is the canonical fused state of the instrument at one instant.
// Snapshots are immutable once published; a new snapshot entirely replaces
// the old one, so readers never observe a partial update.
type Snapshot struct {
	Grid           vision.MotionGrid
	Floor          vision.FloorSummary
	Cups           [vision.CupCount]vision.CupState
	Version        uint64
	TimestampNanos int64
}

// Neutral returns the silence snapshot delivered to outputs on shutdown:
// zero energy everywhere, all cups lost.
func Neutral(version uint64, tsNanos int64) *Snapshot {
	s := &Snapshot{Version: version, TimestampNanos: tsNanos}
	for i := range s.Cups {
		s.Cups[i] = vision.CupState{ID: i, State: vision.CupLost}
	}
	return s
}

// Board owns the current snapshot. Producers publish through the writer
// mutex; readers load the atomic pointer and never block producers.
type Board struct {
	mu  sync.Mutex // serializes writers only
	cur atomic.Pointer[Snapshot]
}

// NewBoard creates a board seeded with the neutral snapshot at version 0.
func NewBoard() *Board {
	b := &Board{}
	b.cur.Store(Neutral(0, 0))
	return b
}

// Latest returns the most recently published snapshot. Never nil. If no
// producer has published since the caller's previous read, the same
// snapshot is returned again; that is the expected consumer behavior,
// not an error.
func (b *Board) Latest() *Snapshot {
	return b.cur.Load()
}

// Version returns the current snapshot version.
func (b *Board) Version() uint64 {
	return b.cur.Load().Version
}

// publish copies the current snapshot, applies mutate, stamps the next
// version, and swaps it in.
func (b *Board) publish(tsNanos int64, mutate func(*Snapshot)) *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.cur.Load()
	next := *prev // value copy; Grid and Cups are arrays
	mutate(&next)
	next.Version = prev.Version + 1
	if tsNanos > next.TimestampNanos {
		next.TimestampNanos = tsNanos
	}
	b.cur.Store(&next)
	return &next
}

// PublishGrid swaps in a snapshot carrying a new motion grid and floor
// summary, keeping the latest cup states.
func (b *Board) PublishGrid(grid vision.MotionGrid, summary vision.FloorSummary, tsNanos int64) *Snapshot {
	return b.publish(tsNanos, func(s *Snapshot) {
		s.Grid = grid
		s.Floor = summary
	})
}

// PublishCups swaps in a snapshot carrying new cup states, keeping the
// latest grid.
func (b *Board) PublishCups(cups [vision.CupCount]vision.CupState, tsNanos int64) *Snapshot {
	return b.publish(tsNanos, func(s *Snapshot) {
		s.Cups = cups
	})
}

// PublishNeutral swaps in the silence snapshot, used once at shutdown.
func (b *Board) PublishNeutral(tsNanos int64) *Snapshot {
	return b.publish(tsNanos, func(s *Snapshot) {
		neutral := Neutral(0, tsNanos)
		s.Grid = neutral.Grid
		s.Floor = neutral.Floor
		s.Cups = neutral.Cups
	})
}
