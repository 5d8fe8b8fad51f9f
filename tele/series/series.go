// Package series keeps one demand interval of power samples indexed by device demand clock.
package series

import (
	"fmt"
	"sort"
	"sync"

	"github.com/temoto/demandtele/tele/frame"
)

type Entry struct {
	DemandTime int
	Label      string
	Target     float64
	Base       float64
	Current    float64
	Predicted  *float64 // nil = no prediction
}

// Buffer is bounded by device reporting cadence within one interval, not by a fixed cap.
// Device demand clock wrapping to 0 starts new interval.
type Buffer struct {
	mu      sync.RWMutex
	entries map[int]Entry
	resets  uint64
}

func New() *Buffer {
	return &Buffer{entries: make(map[int]Entry)}
}

// Label formats demand clock seconds as MM:SS.
func Label(demandTime int) string {
	if demandTime < 0 {
		demandTime = 0
	}
	return fmt.Sprintf("%02d:%02d", demandTime/60, demandTime%60)
}

// Apply routes decoded frame: demand_time=0 resets, otherwise upsert.
// Frame without valid demand_time is ignored.
// Returns true if buffer was reset.
func (b *Buffer) Apply(m frame.Metrics) bool {
	if !m.HasDemandTime {
		return false
	}
	if m.DemandTime == 0 {
		b.ResetTo(m.TargetPower)
		return true
	}
	e := Entry{
		DemandTime: m.DemandTime,
		Target:     m.TargetPower,
		Base:       m.BasePower,
		Current:    m.CurrentPower,
	}
	if m.PredictedPower != nil {
		p := *m.PredictedPower
		e.Predicted = &p
	}
	b.Upsert(e)
	return false
}

// Upsert overwrites entry with same DemandTime, device may re-emit within one tick.
func (b *Buffer) Upsert(e Entry) {
	e.Label = Label(e.DemandTime)
	b.mu.Lock()
	b.entries[e.DemandTime] = e
	b.mu.Unlock()
}

// ResetTo clears buffer and seeds single entry at 0 with baseline for target/base/current.
func (b *Buffer) ResetTo(baseline float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = map[int]Entry{0: {
		DemandTime: 0,
		Label:      Label(0),
		Target:     baseline,
		Base:       baseline,
		Current:    baseline,
	}}
	b.resets++
}

// Snapshot returns entries ordered by DemandTime. Caller owns the result.
func (b *Buffer) Snapshot() []Entry {
	b.mu.RLock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.Predicted != nil {
			p := *e.Predicted
			e.Predicted = &p
		}
		out = append(out, e)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DemandTime < out[j].DemandTime })
	return out
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Resets counts demand intervals observed since creation.
func (b *Buffer) Resets() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resets
}
