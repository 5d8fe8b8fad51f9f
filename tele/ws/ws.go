// Package ws is channel.Transport over websocket with JSON envelopes.
//
// Client sends {"type":"subscribe","topic":T}.
// Server replies {"type":"subscribed","topic":T}, then {"type":"message","topic":T,"data":...} per frame.
// {"type":"error","error":"..."} from server closes connection.
// data is delivered as is, except JSON string which is delivered unquoted (log text lines).
package ws

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/demandtele/helpers"
	"github.com/temoto/demandtele/log2"
	"github.com/temoto/demandtele/tele/channel"
)

const (
	DefaultNetworkTimeout = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	maxMsgSize            = 1 << 16
)

const (
	TypeSubscribe  = "subscribe"
	TypeSubscribed = "subscribed"
	TypeMessage    = "message"
	TypeError      = "error"
)

var ErrConnClosing = errors.New("websocket connection is closing")

type Envelope struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type Options struct {
	NetworkTimeout time.Duration
	PongWait       time.Duration
	TLS            *tls.Config
	Log            *log2.Log
}

type Transport struct {
	dialer websocket.Dialer
	opt    Options
}

var _ channel.Transport = &Transport{}

func NewTransport(opt Options) *Transport {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.PongWait == 0 {
		opt.PongWait = DefaultPongWait
	}
	return &Transport{
		dialer: websocket.Dialer{
			HandshakeTimeout: opt.NetworkTimeout,
			TLSClientConfig:  opt.TLS,
		},
		opt: opt,
	}
}

func (t *Transport) Connect(ctx context.Context, wsURL string, clientID string) (channel.Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, errors.Annotatef(err, "config error ws url=%s", wsURL)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, errors.NotValidf("ws url=%s scheme (use ws:// or wss://)", wsURL)
	}
	headers := http.Header{}
	if clientID != "" {
		headers.Set("X-Client-Id", clientID)
	}
	wsconn, resp, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, errors.Annotatef(err, "connect url=%s http=%d", wsURL, resp.StatusCode)
		}
		return nil, errors.Annotatef(err, "connect url=%s", wsURL)
	}
	return &Conn{
		alive: alive.NewAlive(),
		conn:  wsconn,
		done:  make(chan struct{}),
		log:   t.opt.Log,
		opt:   t.opt,
	}, nil
}

type Conn struct {
	alive *alive.Alive
	conn  *websocket.Conn
	done  chan struct{}
	err   helpers.AtomicError
	log   *log2.Log
	opt   Options
	wmu   sync.Mutex // gorilla allows one concurrent writer
}

func (c *Conn) Subscribe(topic string, onMessage func([]byte)) error {
	if err := c.writeJSON(Envelope{Type: TypeSubscribe, Topic: topic}); err != nil {
		return c.die(errors.Annotatef(err, "subscribe topic=%s", topic))
	}
	if !c.alive.Add(2) {
		return ErrConnClosing
	}
	go c.reader(topic, onMessage)
	go c.pinger()
	return nil
}

func (c *Conn) Closed() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	err, _ := c.err.Load()
	return err
}

func (c *Conn) Close() error {
	if !c.alive.IsRunning() {
		return nil
	}
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.opt.NetworkTimeout))
	c.wmu.Unlock()
	_ = c.die(ErrConnClosing)
	return nil
}

func (c *Conn) die(e error) error {
	if _, set := c.err.StoreOnce(e); set {
		return e
	}
	c.alive.Stop()
	_ = c.conn.Close()
	close(c.done)
	return e
}

func (c *Conn) writeJSON(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opt.NetworkTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Conn) reader(topic string, onMessage func([]byte)) {
	defer c.alive.Done()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opt.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opt.PongWait))
	})
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !c.alive.IsRunning() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				_ = c.die(errors.New("server closed connection"))
				return
			}
			_ = c.die(errors.Annotate(err, "receive"))
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opt.PongWait))

		switch env.Type {
		case TypeSubscribed:
			c.log.Debugf("ws subscribed topic=%s", env.Topic)

		case TypeMessage:
			if env.Topic != "" && env.Topic != topic {
				c.log.Debugf("ws ignore topic=%s", env.Topic)
				continue
			}
			onMessage(payload(env.Data))

		case TypeError:
			_ = c.die(errors.Errorf("server error: %s", env.Error))
			return

		default:
			c.log.Debugf("ws unknown envelope type=%s", env.Type)
		}
	}
}

func (c *Conn) pinger() {
	defer c.alive.Done()

	period := (c.opt.PongWait * 9) / 10
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	stopch := c.alive.StopChan()
	for {
		select {
		case <-ticker.C:
			c.wmu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opt.NetworkTimeout))
			c.wmu.Unlock()
			if err != nil {
				_ = c.die(errors.Annotate(err, "ping"))
				return
			}
		case <-stopch:
			return
		}
	}
}

func payload(data json.RawMessage) []byte {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return []byte(s)
		}
	}
	return data
}
