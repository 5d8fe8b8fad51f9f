package tele

import (
	"sync"
	"time"
)

// TODO try github.com/rcrowley/go-metrics
// Stat counts client activity since last Start, shown by console status.
type Stat struct { //nolint:maligned
	DataFrames    uint64
	LogEvents     uint64
	SeriesResets  uint64
	CutoffToggles uint64
	Resolved      uint64
	LastFrame     time.Time
}

type lockedStat struct {
	sync.Mutex
	Stat
}

// Caller must hold Mutex.
func (self *lockedStat) locked_Reset() {
	self.Stat = Stat{}
}
