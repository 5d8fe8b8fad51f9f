package channel

import "context"

// Transport opens one protocol-level connection.
// Connect blocks until broker accepted the session or ctx is done.
// Implementations: tele/mqtt (gomqtt), tele/paho, tele/ws.
type Transport interface {
	Connect(ctx context.Context, url string, clientID string) (Conn, error)
}

// Conn is a live connection returned by Transport.Connect.
// onMessage is called from a single reader goroutine in receipt order.
type Conn interface {
	Subscribe(topic string, onMessage func(payload []byte)) error
	// Closed is closed when connection is lost or Close was called.
	Closed() <-chan struct{}
	// Err is the reason connection was lost, valid after Closed.
	Err() error
	Close() error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, url string, clientID string) (Conn, error)

func (f TransportFunc) Connect(ctx context.Context, url string, clientID string) (Conn, error) {
	return f(ctx, url, clientID)
}
