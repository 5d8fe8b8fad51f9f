// Package paho is channel.Transport over Eclipse Paho MQTT client.
// Paho reconnect and connect retry are disabled, channel.Session owns retry policy.
package paho

import (
	"context"
	"crypto/tls"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/demandtele/helpers"
	"github.com/temoto/demandtele/log2"
	"github.com/temoto/demandtele/tele/channel"
)

const DefaultNetworkTimeout = 30 * time.Second

var ErrConnClosing = errors.New("paho connection is closing")

type Options struct {
	KeepAlive      time.Duration
	NetworkTimeout time.Duration
	QOS            byte
	Username       string
	Password       string
	TLS            *tls.Config
	Log            *log2.Log
	// NewClient is replaced in tests with Mock.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

type Transport struct{ opt Options }

var _ channel.Transport = &Transport{}

func NewTransport(opt Options) *Transport {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.QOS > 1 {
		opt.QOS = 1
	}
	if opt.NewClient == nil {
		opt.NewClient = mqtt.NewClient
	}
	if opt.Log != nil {
		mqtt.ERROR = opt.Log
		mqtt.CRITICAL = opt.Log
		mqtt.WARN = opt.Log
		if opt.Log.Enabled(log2.LDebug) {
			mqtt.DEBUG = opt.Log
		}
	}
	return &Transport{opt: opt}
}

func (t *Transport) Connect(ctx context.Context, brokerURL string, clientID string) (channel.Conn, error) {
	u, err := url.ParseRequestURI(brokerURL)
	if err != nil {
		return nil, errors.Annotatef(err, "config error paho url=%s", brokerURL)
	}
	username, password := t.opt.Username, t.opt.Password
	if u.User != nil && username == "" && password == "" {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	c := &Conn{
		done:    make(chan struct{}),
		log:     t.opt.Log,
		qos:     t.opt.QOS,
		timeout: t.opt.NetworkTimeout,
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(t.opt.NetworkTimeout).
		SetKeepAlive(t.opt.KeepAlive).
		SetOrderMatters(true).
		SetConnectionLostHandler(c.onConnectionLost)
	if t.opt.TLS != nil {
		mopt.SetTLSConfig(t.opt.TLS)
	}
	c.m = t.opt.NewClient(mopt)

	tok := c.m.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return nil, errors.Annotatef(err, "connect broker=%s", brokerURL)
		}
		return c, nil
	case <-ctx.Done():
		c.m.Disconnect(0)
		return nil, errors.Annotatef(ctx.Err(), "connect broker=%s", brokerURL)
	}
}

type Conn struct {
	done    chan struct{}
	err     helpers.AtomicError
	log     *log2.Log
	m       mqtt.Client
	qos     byte
	timeout time.Duration
}

func (c *Conn) Subscribe(topic string, onMessage func([]byte)) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		c.log.Debugf("paho received topic=%s payload=%q", msg.Topic(), msg.Payload())
		onMessage(msg.Payload())
		msg.Ack()
	}
	tok := c.m.Subscribe(topic, c.qos, handler)
	if !tok.WaitTimeout(c.timeout) {
		return errors.Timeoutf("subscribe topic=%s", topic)
	}
	if err := tok.Error(); err != nil {
		return errors.Annotatef(err, "subscribe topic=%s", topic)
	}
	return nil
}

func (c *Conn) Closed() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	err, _ := c.err.Load()
	return err
}

func (c *Conn) Close() error {
	if c.die(ErrConnClosing) {
		c.m.Disconnect(250)
	}
	return nil
}

func (c *Conn) onConnectionLost(_ mqtt.Client, err error) {
	if err == nil {
		err = errors.New("connection lost")
	}
	c.die(err)
}

func (c *Conn) die(err error) bool {
	if _, set := c.err.StoreOnce(err); set {
		return false
	}
	close(c.done)
	return true
}
