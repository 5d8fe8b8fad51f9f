package paho

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

// Mock is in-memory mqtt.Client, use Mock.New as Options.NewClient.
type Mock struct {
	sync.Mutex
	ConnectErr   error
	SubscribeErr error
	Opt          *mqtt.ClientOptions
	subs         []MockSub
	connected    bool
	disconnects  int
}

type MockSub struct {
	Pattern string
	Qos     byte
	Handler mqtt.MessageHandler
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) New(opt *mqtt.ClientOptions) mqtt.Client {
	m.Lock()
	m.Opt = opt
	m.subs = nil
	m.Unlock()
	return m
}

// Deliver calls handler subscribed for exact topic, returns false if none.
// Fails if QOS>0 message was not acknowledged.
func (m *Mock) Deliver(topic string, payload []byte) (bool, error) {
	m.Lock()
	subs := append([]MockSub(nil), m.subs...)
	m.Unlock()
	for _, sub := range subs {
		if topic != sub.Pattern {
			continue
		}
		msg := MockMsg{T: topic, P: payload, Q: sub.Qos}
		if sub.Qos > 0 {
			msg.acked = make(chan struct{})
		}
		sub.Handler(m, msg)
		if sub.Qos > 0 {
			select {
			case <-msg.acked:
			default:
				return true, errors.Errorf("message='%s' handled without Ack()", string(payload))
			}
		}
		return true, nil
	}
	return false, nil
}

// Lose imitates broker connection loss.
func (m *Mock) Lose(err error) {
	m.Lock()
	m.connected = false
	opt := m.Opt
	m.Unlock()
	if opt != nil && opt.OnConnectionLost != nil {
		opt.OnConnectionLost(m, err)
	}
}

func (m *Mock) Disconnects() int {
	m.Lock()
	defer m.Unlock()
	return m.disconnects
}

func (m *Mock) Disconnect(uint) {
	m.Lock()
	m.connected = false
	m.disconnects++
	m.Unlock()
}

func (m *Mock) IsConnected() bool {
	m.Lock()
	defer m.Unlock()
	return m.connected
}
func (m *Mock) IsConnectionOpen() bool { return m.IsConnected() }

func (m *Mock) Connect() mqtt.Token {
	m.Lock()
	defer m.Unlock()
	if m.ConnectErr == nil {
		m.connected = true
	}
	return newMockToken(m.ConnectErr)
}

func (m *Mock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	return newMockToken(errors.NotSupportedf("publish"))
}

func (m *Mock) Subscribe(pattern string, qos byte, handler mqtt.MessageHandler) mqtt.Token {
	m.Lock()
	defer m.Unlock()
	if m.SubscribeErr != nil {
		return newMockToken(m.SubscribeErr)
	}
	m.subs = append(m.subs, MockSub{pattern, qos, handler})
	return newMockToken(nil)
}

func (m *Mock) AddRoute(string, mqtt.MessageHandler) { panic("not implemented") }

func (m *Mock) OptionsReader() mqtt.ClientOptionsReader {
	panic("not implemented")
}

func (m *Mock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (m *Mock) Unsubscribe(...string) mqtt.Token { panic("not implemented") }

type mockToken struct {
	error
	done chan struct{}
}

func newMockToken(err error) mockToken {
	t := mockToken{error: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (tok mockToken) Error() error                   { return tok.error }
func (tok mockToken) Wait() bool                     { return true }
func (tok mockToken) WaitTimeout(time.Duration) bool { return true }
func (tok mockToken) Done() <-chan struct{}          { return tok.done }

type MockMsg struct {
	T     string
	P     []byte
	Q     byte
	acked chan struct{}
}

func (msg MockMsg) Ack() {
	if msg.acked != nil {
		close(msg.acked)
	}
}

func (msg MockMsg) Duplicate() bool   { return false }
func (msg MockMsg) MessageID() uint16 { return 0 }
func (msg MockMsg) Payload() []byte   { return msg.P }
func (msg MockMsg) Qos() byte         { return msg.Q }
func (msg MockMsg) Retained() bool    { return false }
func (msg MockMsg) Topic() string     { return msg.T }
