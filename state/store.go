package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/temoto/demandtele/tele/frame"
	"github.com/temoto/demandtele/tele/series"
)

// Stores are written only by telemetry frame path, any goroutine may read snapshots.
type Stores struct {
	Device   *DeviceStore
	Graph    *series.Buffer
	Priority *PriorityStore
	Cutoff   *CutoffStore
	Org      *OrgStore
}

func NewStores() *Stores {
	return &Stores{
		Device:   &DeviceStore{fields: map[string]string{}},
		Graph:    series.New(),
		Priority: NewPriorityStore(),
		Cutoff:   &CutoffStore{},
		Org:      &OrgStore{},
	}
}

type DeviceStore struct {
	mu      sync.RWMutex
	fields  map[string]string
	updated time.Time
}

// Set replaces display fields with latest frame values.
func (s *DeviceStore) Set(fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = make(map[string]string, len(fields))
	for k, v := range fields {
		s.fields[k] = v
	}
	s.updated = time.Now()
}

func (s *DeviceStore) Get(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fields[name]
}

func (s *DeviceStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make(map[string]string, len(s.fields))
	for k, v := range s.fields {
		m[k] = v
	}
	return m
}

// Updated is zero until first frame.
func (s *DeviceStore) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

type PriorityStore struct {
	mu      sync.RWMutex
	numbers [frame.Slots]int
}

// NewPriorityStore starts with identity ordering, same as decoded "no data".
func NewPriorityStore() *PriorityStore {
	s := &PriorityStore{}
	for i := range s.numbers {
		s.numbers[i] = i + 1
	}
	return s
}

// Set returns true if numbers changed.
func (s *PriorityStore) Set(numbers [frame.Slots]int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.numbers != numbers
	s.numbers = numbers
	return changed
}

func (s *PriorityStore) Get() [frame.Slots]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numbers
}

type Toggle struct {
	Group int // 0-based
	On    bool
}

func (t Toggle) Label() string { return frame.GroupLabel(t.Group) }

func (t Toggle) String() string {
	state := "off"
	if t.On {
		state = "on"
	}
	return fmt.Sprintf("%s=%s", t.Label(), state)
}

// CutoffStore publishes only groups which differ from previously published state.
// Initial state is all groups off.
type CutoffStore struct {
	mu     sync.RWMutex
	groups [frame.Groups]bool
}

func (s *CutoffStore) Apply(groups [frame.Groups]bool) []Toggle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var toggles []Toggle
	for i, on := range groups {
		if s.groups[i] != on {
			s.groups[i] = on
			toggles = append(toggles, Toggle{Group: i, On: on})
		}
	}
	return toggles
}

func (s *CutoffStore) Get() [frame.Groups]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups
}

// OrgStore is organization level connectivity flag and telemetry endpoint.
type OrgStore struct {
	mu        sync.RWMutex
	connected bool
	url       string
}

// SetConnected returns true if flag changed.
func (s *OrgStore) SetConnected(connected bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.connected != connected
	s.connected = connected
	return changed
}

func (s *OrgStore) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *OrgStore) SetURL(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
}

func (s *OrgStore) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}
