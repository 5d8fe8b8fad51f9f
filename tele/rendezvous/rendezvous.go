// Package rendezvous lets a caller wait until live telemetry shows field=value.
//
// Typical use: issue command "set target power 500" through some other API,
// then Await("targetPower", "500") proves the device applied it.
//
// Registry rules:
// - one outstanding wait per key, new Await supersedes previous one (rejected with ErrSuperseded)
// - TryResolve is called once per decoded frame, in receipt order
// - each wait settles exactly once: matched, timed out, superseded or registry closed
// - no external cancel; context given to Wait.Wait only stops waiting
package rendezvous

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/demandtele/helpers"
	"github.com/temoto/demandtele/log2"
	"github.com/temoto/demandtele/tele/frame"
)

const DefaultTimeout = 20 * time.Second

var (
	ErrSuperseded = errors.New("rendezvous superseded by newer wait on same key")
	ErrClosing    = errors.New("rendezvous registry is closing")
)

// IsTimeout reports whether Wait failed because expected value did not arrive in time.
func IsTimeout(err error) bool { return errors.IsTimeout(err) }

type matcher func(m *frame.Metrics) bool

type entry struct {
	key      string
	expected string
	match    matcher
	future   *helpers.Future
	timer    *time.Timer
}

// Wait is the pending result of Await.
type Wait struct {
	Key      string
	Expected string
	f        *helpers.Future
}

// Done is closed when wait is settled.
func (w *Wait) Done() <-chan struct{} { return w.f.Done() }

// Result is valid after Done.
func (w *Wait) Result() (frame.Metrics, error) {
	v, err := w.f.Result()
	if err != nil {
		return frame.Metrics{}, err
	}
	m, _ := v.(frame.Metrics)
	return m, nil
}

// Wait blocks until settled or ctx done. Returning on ctx does not remove the pending entry.
func (w *Wait) Wait(ctx context.Context) (frame.Metrics, error) {
	select {
	case <-w.f.Done():
		return w.Result()
	case <-ctx.Done():
		return frame.Metrics{}, ctx.Err()
	}
}

type Registry struct {
	mu             sync.Mutex
	pending        map[string]*entry
	defaultTimeout time.Duration
	closed         bool
	log            *log2.Log
}

func New(defaultTimeout time.Duration, log *log2.Log) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Registry{
		pending:        make(map[string]*entry),
		defaultTimeout: defaultTimeout,
		log:            log,
	}
}

// Await registers wait for scalar field. Values compare as strings,
// or as numbers when both sides parse as numbers ("500" == "500.0").
// timeout<=0 uses registry default.
func (r *Registry) Await(key string, expected string, timeout time.Duration) *Wait {
	want, wantNum := parseNumber(expected)
	match := func(m *frame.Metrics) bool {
		got, present := m.Fields[key]
		if !present {
			got, present = m.Raw[key]
		}
		if !present || got == "" {
			return false
		}
		if got == expected {
			return true
		}
		if wantNum {
			if n, ok := parseNumber(got); ok {
				return n == want
			}
		}
		return false
	}
	return r.register(key, expected, match, timeout)
}

// AwaitPriority waits for priorityNumbers element-wise equal to expected, same length required.
func (r *Registry) AwaitPriority(expected []int, timeout time.Duration) *Wait {
	exp := append([]int(nil), expected...)
	match := func(m *frame.Metrics) bool {
		if len(exp) != len(m.PriorityNumbers) {
			return false
		}
		for i, v := range exp {
			if m.PriorityNumbers[i] != v {
				return false
			}
		}
		return true
	}
	return r.register(frame.KeyPriorityNumbers, formatInts(exp), match, timeout)
}

func (r *Registry) register(key, expected string, match matcher, timeout time.Duration) *Wait {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	e := &entry{
		key:      key,
		expected: expected,
		match:    match,
		future:   helpers.NewFuture(),
	}
	w := &Wait{Key: key, Expected: expected, f: e.future}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		e.future.Cancel(ErrClosing)
		return w
	}
	if prev, ok := r.pending[key]; ok {
		r.log.Debugf("rendezvous key=%s expected=%s supersedes expected=%s", key, expected, prev.expected)
		helpers.StopTimer(prev.timer)
		prev.future.Cancel(errors.Annotatef(ErrSuperseded, "key=%s", key))
	}
	r.pending[key] = e
	e.timer = time.AfterFunc(timeout, func() { r.expire(e, timeout) })
	return w
}

func (r *Registry) expire(e *entry, timeout time.Duration) {
	r.mu.Lock()
	if r.pending[e.key] == e {
		delete(r.pending, e.key)
	}
	r.mu.Unlock()
	if e.future.Cancel(errors.Timeoutf("rendezvous key=%s expected=%s within %v", e.key, e.expected, timeout)) {
		r.log.Debugf("rendezvous key=%s expected=%s timeout=%v", e.key, e.expected, timeout)
	}
}

// TryResolve settles every pending wait matched by m. Returns number resolved.
func (r *Registry) TryResolve(m frame.Metrics) int {
	r.mu.Lock()
	matched := make([]*entry, 0, len(r.pending))
	for key, e := range r.pending {
		if e.match(&m) {
			delete(r.pending, key)
			helpers.StopTimer(e.timer)
			matched = append(matched, e)
		}
	}
	r.mu.Unlock()

	for _, e := range matched {
		// each waiter owns its copy
		if e.future.Complete(m.Copy()) {
			r.log.Debugf("rendezvous key=%s expected=%s resolved", e.key, e.expected)
		}
	}
	return len(matched)
}

func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close rejects all pending waits with ErrClosing. Later Await calls fail immediately.
func (r *Registry) Close() {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]*entry)
	r.closed = true
	r.mu.Unlock()
	for _, e := range pending {
		helpers.StopTimer(e.timer)
		e.future.Cancel(ErrClosing)
	}
}

// Reopen allows Await after Close, used when client restarts.
func (r *Registry) Reopen() {
	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func formatInts(xs []int) string {
	b := make([]byte, 0, len(xs)*3)
	for i, x := range xs {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendInt(b, int64(x), 10)
	}
	return string(b)
}
