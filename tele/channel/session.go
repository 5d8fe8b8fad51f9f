// Package channel implements one reconnecting publish/subscribe session.
//
// Session is an explicit state machine driven by a single event loop goroutine.
// Public methods, timers and connection watchers only post events into the loop.
// Each connect attempt has a generation number, events of stale generations are dropped,
// so late timer fire or late connect result never affects a newer attempt.
//
// Retry policy:
// - connect timeout or connect error: attempts++, retry after fixed RetryDelay
// - attempts > MaxAttempts: Failed, no timers, only ForceReconnect leaves it
// - connection lost while Connected: Reconnecting and retry, attempts unchanged
// - successful connect resets attempts to 0
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/demandtele/helpers"
	"github.com/temoto/demandtele/log2"
)

const (
	DefaultMaxAttempts    = 5
	DefaultConnectTimeout = 10 * time.Second
	DefaultRetryDelay     = 5 * time.Second
)

var ErrSessionClosed = errors.New("channel session is closed")

type Options struct {
	Name           string // "data", "log"
	URL            string
	Topic          string
	ClientID       string
	Transport      Transport
	MaxAttempts    int
	ConnectTimeout time.Duration
	RetryDelay     time.Duration
	// OnMessage receives payloads in receipt order, called from transport reader goroutine.
	OnMessage func(payload []byte)
	// OnEvent is called from session loop goroutine.
	// Must not call Start/Stop/ForceReconnect of same session synchronously.
	OnEvent func(Event)
	Log     *log2.Log
}

type evKind uint8

const (
	evStart evKind = iota
	evStop
	evForce
	evConnected
	evConnectError
	evTimeout
	evRetryDue
	evClosed
)

type event struct {
	kind evKind
	gen  uint64
	conn Conn
	err  error
	done chan struct{}
}

type Session struct {
	alive  *alive.Alive
	events chan event
	log    *log2.Log
	opt    Options

	mu       sync.Mutex // guards fields below for Status readers, written only by loop
	state    State
	attempts int
	gen      uint64
	timer    *time.Timer
	conn     Conn
	ctx      context.Context // current attempt, done on teardown
	cancel   context.CancelFunc
	troubled bool // failure or close since last successful connect
}

func New(opt Options) (*Session, error) {
	if opt.Transport == nil {
		return nil, errors.NotValidf("code error channel=%s Transport=nil", opt.Name)
	}
	if opt.URL == "" {
		return nil, errors.NotValidf("config error channel=%s url empty", opt.Name)
	}
	if opt.Topic == "" {
		return nil, errors.NotValidf("config error channel=%s topic empty", opt.Name)
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = DefaultMaxAttempts
	}
	if opt.ConnectTimeout <= 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	if opt.RetryDelay <= 0 {
		opt.RetryDelay = DefaultRetryDelay
	}
	if opt.OnMessage == nil {
		opt.OnMessage = func([]byte) {}
	}
	if opt.OnEvent == nil {
		opt.OnEvent = func(Event) {}
	}
	s := &Session{
		alive:  alive.NewAlive(),
		events: make(chan event, 16),
		log:    opt.Log,
		opt:    opt,
	}
	s.alive.Add(1)
	go s.loop()
	return s, nil
}

func (s *Session) Name() string { return s.opt.Name }

// Start connects unless already Connecting, Connected or Failed.
// From Reconnecting it skips remaining retry delay.
func (s *Session) Start() error { return s.command(evStart) }

// Stop tears down connection and timers, state becomes Idle. Idempotent.
func (s *Session) Stop() error { return s.command(evStop) }

// ForceReconnect resets attempts and connects immediately regardless of state.
func (s *Session) ForceReconnect() error { return s.command(evForce) }

// Close stops session loop permanently.
func (s *Session) Close() error {
	s.alive.Stop()
	s.alive.Wait()
	return nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Channel:    s.opt.Name,
		URL:        s.opt.URL,
		Topic:      s.opt.Topic,
		State:      s.state,
		Attempts:   s.attempts,
		Max:        s.opt.MaxAttempts,
		TimerArmed: s.timer != nil,
	}
}

// command blocks until loop processed it, so state is observable right after return.
func (s *Session) command(k evKind) error {
	done := make(chan struct{})
	if !s.post(event{kind: k, done: done}) {
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-s.alive.WaitChan():
		return ErrSessionClosed
	}
}

func (s *Session) post(ev event) bool {
	if !s.alive.IsRunning() {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.alive.StopChan():
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return false
	}
}

func (s *Session) loop() {
	defer s.alive.Done()
	stopch := s.alive.StopChan()
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
			if ev.done != nil {
				close(ev.done)
			}
		case <-stopch:
			s.teardown()
			s.setState(StateIdle)
			return
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev.kind {
	case evStart:
		switch s.state {
		case StateConnecting, StateConnected, StateFailed:
			s.log.Debugf("start ignored state=%s", s.state)
		case StateReconnecting:
			s.teardown()
			s.connect()
		default:
			s.connect()
		}

	case evStop:
		s.teardown()
		if s.state != StateIdle {
			s.mu.Lock()
			s.attempts = 0
			s.troubled = false
			s.mu.Unlock()
			s.setState(StateIdle)
			s.emit(Event{Kind: EventStopped})
		}

	case evForce:
		s.teardown()
		s.mu.Lock()
		s.attempts = 0
		s.mu.Unlock()
		s.connect()

	case evConnected:
		if ev.gen != s.gen || s.state != StateConnecting {
			s.log.Debugf("stale connection gen=%d current=%d", ev.gen, s.gen)
			_ = ev.conn.Close()
			return
		}
		s.onConnected(ev.conn)

	case evConnectError:
		if ev.gen != s.gen || s.state != StateConnecting {
			return
		}
		s.onConnectFailure(ev.err)

	case evTimeout:
		if ev.gen != s.gen || s.state != StateConnecting {
			return
		}
		s.onConnectFailure(errors.Timeoutf("connect url=%s within %v", s.opt.URL, s.opt.ConnectTimeout))

	case evRetryDue:
		if ev.gen != s.gen || s.state != StateReconnecting {
			return
		}
		s.connect()

	case evClosed:
		if ev.gen != s.gen || s.state != StateConnected {
			return
		}
		s.onLost(ev.err)
	}
}

func (s *Session) connect() {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = ctx, cancel
	attempt := s.attempts
	s.mu.Unlock()

	s.setState(StateConnecting)
	s.arm(s.opt.ConnectTimeout, event{kind: evTimeout, gen: gen})
	s.log.Infof("connecting url=%s attempt=%d", s.opt.URL, attempt)
	s.emit(Event{Kind: EventConnecting, Attempt: attempt})

	transport := s.opt.Transport
	url, clientID := s.opt.URL, s.opt.ClientID
	go func() {
		conn, err := transport.Connect(ctx, url, clientID)
		if err != nil {
			s.post(event{kind: evConnectError, gen: gen, err: err})
			return
		}
		s.post(event{kind: evConnected, gen: gen, conn: conn})
	}()
}

func (s *Session) onConnected(conn Conn) {
	s.disarm()
	s.mu.Lock()
	s.attempts = 0
	s.conn = conn
	restored := s.troubled
	s.troubled = false
	gen, ctx := s.gen, s.ctx
	s.mu.Unlock()
	s.setState(StateConnected)

	if err := conn.Subscribe(s.opt.Topic, s.opt.OnMessage); err != nil {
		s.onLost(errors.Annotatef(err, "subscribe topic=%s", s.opt.Topic))
		return
	}
	s.log.Infof("connected url=%s topic=%s restored=%t", s.opt.URL, s.opt.Topic, restored)
	s.emit(Event{Kind: EventConnected, Restored: restored})

	// watcher exits on connection loss or teardown
	go func() {
		select {
		case <-conn.Closed():
			err := conn.Err()
			if err == nil {
				err = errors.New("connection closed")
			}
			s.post(event{kind: evClosed, gen: gen, err: err})
		case <-ctx.Done():
		}
	}()
}

func (s *Session) onConnectFailure(err error) {
	s.teardown()
	s.mu.Lock()
	s.attempts++
	s.troubled = true
	attempt := s.attempts
	s.mu.Unlock()

	if attempt <= s.opt.MaxAttempts {
		s.setState(StateReconnecting)
		s.scheduleRetry()
		s.log.Infof("connect failed, retrying (%d/%d) in %v err=%v", attempt, s.opt.MaxAttempts, s.opt.RetryDelay, err)
		s.emit(Event{Kind: EventRetrying, Attempt: attempt, Err: err})
		return
	}
	s.setState(StateFailed)
	s.log.Errorf("connect failed after %d attempts, manual reconnect required err=%v", s.opt.MaxAttempts, err)
	s.emit(Event{Kind: EventFailed, Attempt: attempt, Err: err})
}

func (s *Session) onLost(err error) {
	s.teardown()
	s.mu.Lock()
	s.troubled = true
	attempt := s.attempts
	s.mu.Unlock()

	s.log.Errorf("connection lost err=%v", err)
	if attempt > s.opt.MaxAttempts {
		s.setState(StateFailed)
		s.emit(Event{Kind: EventFailed, Attempt: attempt, Err: err})
		return
	}
	s.setState(StateReconnecting)
	s.scheduleRetry()
	s.emit(Event{Kind: EventDisconnected, Attempt: attempt, Err: err})
}

func (s *Session) scheduleRetry() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.arm(s.opt.RetryDelay, event{kind: evRetryDue, gen: gen})
}

// teardown cancels timer and in-flight connect, closes live connection.
// Generation is bumped so events of torn down attempt are dropped.
func (s *Session) teardown() {
	s.disarm()
	s.mu.Lock()
	s.gen++
	cancel, conn := s.cancel, s.conn
	s.ctx, s.cancel, s.conn = nil, nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Debugf("close err=%v", err)
		}
	}
}

func (s *Session) arm(d time.Duration, ev event) {
	s.disarm()
	t := time.AfterFunc(d, func() { s.post(ev) })
	s.mu.Lock()
	s.timer = t
	s.mu.Unlock()
}

func (s *Session) disarm() {
	s.mu.Lock()
	helpers.StopTimer(s.timer)
	s.timer = nil
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debugf("state %s -> %s", prev, st)
	}
}

func (s *Session) emit(e Event) {
	e.Channel = s.opt.Name
	e.Max = s.opt.MaxAttempts
	s.mu.Lock()
	e.State = s.state
	s.mu.Unlock()
	s.opt.OnEvent(e)
}
