package channel

import (
	"context"
	"sync"
)

// MockTransport is in-memory Transport for tests of sessions and client.
type MockTransport struct {
	mu    sync.Mutex
	dial  func(ctx context.Context, n int) error
	calls int
	conns []*MockConn
}

// MockStall blocks connect attempt until timeout tears it down.
func MockStall(ctx context.Context, n int) error {
	<-ctx.Done()
	return ctx.Err()
}

// MockFail makes every attempt fail with err.
func MockFail(err error) func(context.Context, int) error {
	return func(context.Context, int) error { return err }
}

// SetDial decides outcome of attempt n (counted from 1). nil dial or nil error means success.
func (m *MockTransport) SetDial(f func(ctx context.Context, n int) error) {
	m.mu.Lock()
	m.dial = f
	m.mu.Unlock()
}

func (m *MockTransport) Connect(ctx context.Context, url string, clientID string) (Conn, error) {
	m.mu.Lock()
	m.calls++
	n, dial := m.calls, m.dial
	m.mu.Unlock()
	if dial != nil {
		if err := dial(ctx, n); err != nil {
			return nil, err
		}
	}
	c := NewMockConn()
	m.mu.Lock()
	m.conns = append(m.conns, c)
	m.mu.Unlock()
	return c, nil
}

func (m *MockTransport) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Last returns most recent successful connection or nil.
func (m *MockTransport) Last() *MockConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) == 0 {
		return nil
	}
	return m.conns[len(m.conns)-1]
}

type MockConn struct {
	mu           sync.Mutex
	topic        string
	onMessage    func([]byte)
	closed       chan struct{}
	once         sync.Once
	err          error
	SubscribeErr error
}

func NewMockConn() *MockConn { return &MockConn{closed: make(chan struct{})} }

func (c *MockConn) Subscribe(topic string, onMessage func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}
	c.topic, c.onMessage = topic, onMessage
	return nil
}

func (c *MockConn) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic
}

// Deliver imitates inbound message, false if not subscribed or closed.
func (c *MockConn) Deliver(payload []byte) bool {
	c.mu.Lock()
	fun := c.onMessage
	c.mu.Unlock()
	if fun == nil || c.IsClosed() {
		return false
	}
	fun(payload)
	return true
}

// Drop imitates unexpected connection loss.
func (c *MockConn) Drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *MockConn) Closed() <-chan struct{} { return c.closed }

func (c *MockConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *MockConn) Close() error {
	c.Drop(nil)
	return nil
}

func (c *MockConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
