package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/demandtele/helpers"
	"github.com/temoto/demandtele/helpers/atomic_clock"
	"github.com/temoto/demandtele/log2"
	"github.com/temoto/demandtele/tele/channel"
)

const DefaultNetworkTimeout = 30 * time.Second
const DefaultKeepaliveSec = 30

var ErrConnClosing = fmt.Errorf("MQTT connection is closing")

type Options struct {
	TLS            *tls.Config
	NetworkTimeout time.Duration
	KeepaliveSec   uint16
	Username       string
	Password       string
	QOS            packet.QOS
	Log            *log2.Log
}

// Telemetry specific MQTT transport, one connection per Connect call.
// - connect with clean session only
// - one subscription per connection, no unsubscribe
// - no reconnect, channel.Session owns retry policy
// - QOS 0,1 inbound
// - no publish, telemetry client only listens
type Transport struct {
	dialer *transport.Dialer
	opt    Options
}

var _ channel.Transport = &Transport{}

func NewTransport(opt Options) *Transport {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.QOS > packet.QOSAtLeastOnce {
		opt.QOS = packet.QOSAtLeastOnce
	}
	return &Transport{
		dialer: transport.NewDialer(transport.DialConfig{
			TLSConfig: opt.TLS,
			Timeout:   opt.NetworkTimeout,
		}),
		opt: opt,
	}
}

func (t *Transport) connectPacket(brokerURL, clientID string) (*packet.Connect, error) {
	u, err := url.ParseRequestURI(brokerURL)
	if err != nil {
		return nil, errors.Annotatef(err, "config error mqtt url=%s", brokerURL)
	}
	username, password := t.opt.Username, t.opt.Password
	if u.User != nil && username == "" && password == "" {
		username = u.User.Username()
		password, _ = u.User.Password()
	}
	conpkt := packet.NewConnect()
	conpkt.ClientID = defaultString(clientID, username)
	conpkt.KeepAlive = t.opt.KeepaliveSec
	conpkt.CleanSession = true
	conpkt.Username = username
	conpkt.Password = password
	return conpkt, nil
}

// Connect dials broker, sends CONNECT and waits CONNACK or ctx done.
func (t *Transport) Connect(ctx context.Context, brokerURL string, clientID string) (channel.Conn, error) {
	conpkt, err := t.connectPacket(brokerURL, clientID)
	if err != nil {
		return nil, err
	}
	cc := newConn(t.opt)
	result := make(chan error, 1)
	cc.alive.Add(1)
	go cc.connect(t.dialer, brokerURL, conpkt, result)

	select {
	case err = <-result:
		if err != nil {
			return nil, err
		}
		return cc, nil
	case <-ctx.Done():
		err = errors.Annotatef(ctx.Err(), "connect broker=%s", brokerURL)
		_ = cc.die(err)
		return nil, err
	}
}

// Single client connection. `transport.Conn` with CONNECT, SUBSCRIBE and pings.
// Differences from upstream 256dpi/gomqtt/client.Client:
// - observe subscribed event via future
// - no mutex, state is set once at creation and Subscribe, except transport.Conn which requires blocking Dial
// - subscribe once right after connect
type Conn struct {
	alive     *alive.Alive
	closed    uint32
	done      chan struct{}
	err       helpers.AtomicError
	conn      atomic.Value // transport.Conn
	lastID    uint32
	log       *log2.Log
	onMessage func([]byte)
	opt       Options
	pingat    *atomic_clock.Clock // timestamp of last outgoing control packet
	pongat    *atomic_clock.Clock // timestamp of last incoming control packet
	subfu     *future.Future
	subpkt    *packet.Subscribe
}

func newConn(opt Options) *Conn {
	return &Conn{
		alive:  alive.NewAlive(),
		done:   make(chan struct{}),
		lastID: uint32(time.Now().UnixNano()),
		log:    opt.Log,
		opt:    opt,
		pingat: atomic_clock.Now(),
		pongat: atomic_clock.Now(),
		subfu:  future.New(),
	}
}

func (cc *Conn) Closed() <-chan struct{} { return cc.done }

func (cc *Conn) Err() error {
	err, _ := cc.err.Load()
	return err
}

// Close sends DISCONNECT and closes network connection.
func (cc *Conn) Close() error {
	if atomic.LoadUint32(&cc.closed) != 0 {
		return nil
	}
	if cc.getConn() != nil {
		_ = cc.send(packet.NewDisconnect())
	}
	_ = cc.die(ErrConnClosing)
	return nil
}

// Subscribe sends SUBSCRIBE and starts reader and pinger.
// SUBACK failure or timeout kills connection, observe with Closed().
func (cc *Conn) Subscribe(topic string, onMessage func([]byte)) error {
	if onMessage == nil {
		return errors.NotValidf("code error mqtt Subscribe onMessage=nil")
	}
	cc.onMessage = onMessage
	cc.subpkt = &packet.Subscribe{
		ID:            cc.nextID(),
		Subscriptions: []packet.Subscription{{Topic: topic, QOS: cc.opt.QOS}},
	}
	if !cc.alive.Add(3) {
		return ErrConnClosing
	}
	go cc.pinger()
	go cc.reader()
	go cc.subscriber()
	return nil
}

func (cc *Conn) die(e error) error {
	if e == nil {
		e = ErrConnClosing
	}
	if !atomic.CompareAndSwapUint32(&cc.closed, 0, 1) {
		return e
	}
	cc.err.StoreOnce(e)
	cc.alive.Stop()
	cc.subfu.Cancel(e)
	if conn := cc.getConn(); conn != nil {
		_ = conn.Close()
	}
	close(cc.done)
	return e
}

func (cc *Conn) getConn() transport.Conn {
	if x := cc.conn.Load(); x != nil {
		return x.(transport.Conn)
	}
	return nil
}

func (cc *Conn) nextID() packet.ID {
	u32 := atomic.AddUint32(&cc.lastID, 1)
	return packet.ID(u32 % (1 << 16))
}

// dial, send CONNECT, wait CONNACK
func (cc *Conn) connect(dialer *transport.Dialer, brokerURL string, conpkt *packet.Connect, result chan<- error) {
	defer cc.alive.Done()

	conn, err := dialer.Dial(brokerURL)
	if err != nil {
		result <- cc.die(errors.Annotatef(err, "connect: dial broker=%s", brokerURL))
		return
	}
	cc.conn.Store(conn)
	if atomic.LoadUint32(&cc.closed) != 0 {
		// connect cancelled while dialing
		_ = conn.Close()
		result <- cc.Err()
		return
	}
	if err = cc.send(conpkt); err != nil {
		result <- err
		return
	}

	conn.SetReadTimeout(cc.opt.NetworkTimeout)
	pkt, err := conn.Receive()
	if err != nil {
		result <- cc.die(errors.Annotate(err, "connect: expect CONNACK"))
		return
	}
	connack, ok := pkt.(*packet.Connack)
	if !ok {
		result <- cc.die(errors.Annotatef(client.ErrClientExpectedConnack, "connect: server error pkt=%s", PacketString(pkt)))
		return
	}
	cc.log.Debugf("CONNACK=%s", connack.String())
	if connack.ReturnCode != packet.ConnectionAccepted {
		result <- cc.die(errors.Annotate(client.ErrClientConnectionDenied, connack.ReturnCode.String()))
		return
	}
	conn.SetReadTimeout(0)
	cc.pongat.SetNow()
	result <- nil
}

func (cc *Conn) onSuback(suback *packet.Suback) {
	if suback.ID != cc.subpkt.ID {
		_ = cc.die(errors.Annotatef(client.ErrFailedSubscription, "SUBACK.id=%d != SUBSCRIBE.id=%d", suback.ID, cc.subpkt.ID))
		return
	}
	for _, code := range suback.ReturnCodes {
		if code == packet.QOSFailure {
			_ = cc.die(client.ErrFailedSubscription)
			return
		}
	}
	cc.subfu.Complete(true)
}

func (cc *Conn) onPublish(publish *packet.Publish) {
	switch publish.Message.QOS {
	case packet.QOSAtMostOnce:
		cc.onMessage(publish.Message.Payload)

	case packet.QOSAtLeastOnce:
		cc.onMessage(publish.Message.Payload)
		puback := packet.NewPuback()
		puback.ID = publish.ID
		_ = cc.send(puback)

	default:
		_ = cc.die(errors.NotSupportedf("PUBLISH qos=%d", publish.Message.QOS))
	}
}

// Sends ping packets to keep the connection alive.
// PINGREQ is only sent if Keepalive-NetworkTimeout has passed since last command.
func (cc *Conn) pinger() {
	defer cc.alive.Done()
	if cc.opt.KeepaliveSec == 0 {
		return
	}

	// [MQTT-3.1.2-24] basically says control packets must arrive at most KeepaliveSec*1.5 apart.
	keepalive := keepaliveAndHalf(cc.opt.KeepaliveSec)
	// Try to send PINGREQ as late as possible to keep network traffic to minimum while respecting possible network issues.
	interval := keepalive - cc.opt.NetworkTimeout
	if interval <= 0 {
		interval = keepalive / 2
	}
	stopch := cc.alive.StopChan()
	for cc.alive.IsRunning() {
		now := atomic_clock.Now()
		if sincePong := now.Sub(cc.pongat); sincePong > keepalive {
			_ = cc.die(client.ErrClientMissingPong)
			return
		}
		wait := interval - now.Sub(cc.pingat)
		if wait <= 0 {
			if err := cc.send(packet.NewPingreq()); err != nil {
				return
			}
			wait = interval
		}
		select {
		case <-time.After(wait):
		case <-stopch:
			return
		}
	}
}

func (cc *Conn) reader() {
	defer cc.alive.Done()

	conn := cc.getConn()
	for {
		pkt, err := conn.Receive()
		if !cc.alive.IsRunning() {
			return
		}
		switch err {
		case nil: // success path

		case io.EOF: // server closed connection
			_ = cc.die(errors.New("server closed connection"))
			return

		default:
			_ = cc.die(errors.Annotate(err, "receive"))
			return
		}
		cc.log.Debugf("received=%s", PacketString(pkt))
		cc.pongat.SetNow()

		switch pt := pkt.(type) {
		case *packet.Connack:
			_ = cc.die(errors.Errorf("server error duplicate CONNACK pkt=%s", PacketString(pkt)))
			return

		case *packet.Pingresp:

		case *packet.Suback:
			cc.onSuback(pt)

		case *packet.Publish:
			cc.onPublish(pt)

		default:
			cc.log.Debugf("unexpected packet %s", PacketString(pkt))
		}
	}
}

func (cc *Conn) send(p packet.Generic) error {
	conn := cc.getConn()
	if conn == nil {
		return client.ErrClientNotConnected
	}
	if err := conn.Send(p, false); err != nil {
		if isClosedConn(err) {
			return cc.die(nil)
		}
		return cc.die(errors.Annotatef(err, "send %s", p.Type().String()))
	}
	cc.pingat.SetNow()
	cc.log.Debugf("sent %s", PacketString(p))
	return nil
}

func (cc *Conn) subscriber() {
	defer cc.alive.Done()

	if err := cc.send(cc.subpkt); err != nil {
		return
	}
	if cc.subfu.Wait(cc.opt.NetworkTimeout) == future.ErrTimeout {
		_ = cc.die(errors.Timeoutf("subscribe"))
	}
}
