package mqtt

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
	"github.com/temoto/demandtele/log2"
	"github.com/temoto/demandtele/tele/channel"
)

func TestConn(t *testing.T) {
	t.Parallel()
	const timeout = 5 * time.Second

	type tenv struct {
		url      string
		alive    *alive.Alive
		tr       *Transport
		messages chan string
	}
	expectConnect := func(t testing.TB, b *transport.NetConn) {
		pkt, err := b.Receive()
		require.NoError(t, err)
		assert.Equal(t, `<Connect ClientID="console-1" KeepAlive=0 Username="" Password="" CleanSession=true Will=nil Version=4>`, pkt.String())
	}
	accept := func(t testing.TB, b *transport.NetConn) {
		expectConnect(t, b)
		connack := packet.NewConnack()
		connack.ReturnCode = packet.ConnectionAccepted
		require.NoError(t, b.Send(connack, false))
	}
	expectSubscribe := func(t testing.TB, b *transport.NetConn, code packet.QOS) {
		pkt, err := b.Receive()
		require.NoError(t, err)
		sub, ok := pkt.(*packet.Subscribe)
		require.True(t, ok, "expected SUBSCRIBE pkt=%s", pkt.String())
		require.Len(t, sub.Subscriptions, 1)
		assert.Equal(t, "topic/data/0", sub.Subscriptions[0].Topic)
		suback := packet.NewSuback()
		suback.ID = sub.ID
		suback.ReturnCodes = []packet.QOS{code}
		require.NoError(t, b.Send(suback, false))
	}
	publish := func(t testing.TB, b *transport.NetConn, qos packet.QOS, id packet.ID, payload string) {
		pub := packet.NewPublish()
		pub.ID = id
		pub.Message = packet.Message{Topic: "topic/data/0", Payload: []byte(payload), QOS: qos}
		require.NoError(t, b.Send(pub, false))
	}

	cases := []struct {
		name   string
		client func(t testing.TB, env *tenv)
		server func(t testing.TB, env *tenv, b *transport.NetConn)
	}{
		{"connect-subscribe-receive", func(t testing.TB, env *tenv) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, err := env.tr.Connect(ctx, env.url, "console-1")
			require.NoError(t, err)
			require.NoError(t, c.Subscribe("topic/data/0", func(b []byte) { env.messages <- string(b) }))
			assert.Equal(t, `{"demand_time": 1}`, <-env.messages)
			assert.Equal(t, `{"demand_time": 2}`, <-env.messages)
			require.NoError(t, c.Close())
			<-c.Closed()
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			accept(t, b)
			expectSubscribe(t, b, packet.QOSAtLeastOnce)
			publish(t, b, packet.QOSAtMostOnce, 0, `{"demand_time": 1}`)
			publish(t, b, packet.QOSAtLeastOnce, 7, `{"demand_time": 2}`)
			pkt, err := b.Receive()
			require.NoError(t, err)
			puback, ok := pkt.(*packet.Puback)
			require.True(t, ok, "expected PUBACK pkt=%s", pkt.String())
			assert.Equal(t, packet.ID(7), puback.ID)
			pkt, err = b.Receive()
			require.NoError(t, err)
			assert.Equal(t, packet.DISCONNECT, pkt.Type())
		}},
		{"denied", func(t testing.TB, env *tenv) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			_, err := env.tr.Connect(ctx, env.url, "console-1")
			require.Error(t, err)
			assert.Equal(t, client.ErrClientConnectionDenied, errors.Cause(err))
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			expectConnect(t, b)
			connack := packet.NewConnack()
			connack.ReturnCode = packet.NotAuthorized
			require.NoError(t, b.Send(connack, false))
		}},
		{"stalled-connect-cancelled", func(t testing.TB, env *tenv) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err := env.tr.Connect(ctx, env.url, "console-1")
			require.Error(t, err)
			assert.Equal(t, context.DeadlineExceeded, errors.Cause(err))
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			expectConnect(t, b)
			// no CONNACK, client must give up and close
			_, err := b.Receive()
			assert.Error(t, err)
		}},
		{"subscribe-failure-closes", func(t testing.TB, env *tenv) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, err := env.tr.Connect(ctx, env.url, "console-1")
			require.NoError(t, err)
			require.NoError(t, c.Subscribe("topic/data/0", func([]byte) {}))
			select {
			case <-c.Closed():
			case <-time.After(timeout):
				t.Fatal("expected connection closed")
			}
			assert.Equal(t, client.ErrFailedSubscription, errors.Cause(c.Err()))
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			accept(t, b)
			expectSubscribe(t, b, packet.QOSFailure)
		}},
		{"server-close-reported", func(t testing.TB, env *tenv) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, err := env.tr.Connect(ctx, env.url, "console-1")
			require.NoError(t, err)
			require.NoError(t, c.Subscribe("topic/data/0", func([]byte) {}))
			<-c.Closed()
			assert.Error(t, c.Err())
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			accept(t, b)
			expectSubscribe(t, b, packet.QOSAtLeastOnce)
			require.NoError(t, b.Close())
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			env := &tenv{
				alive:    alive.NewAlive(),
				messages: make(chan string, 8),
			}
			ln, err := net.Listen("tcp", "127.0.0.1:")
			require.NoError(t, err)
			defer ln.Close()
			env.url = fmt.Sprintf("tcp://%s", ln.Addr().String())
			env.tr = NewTransport(Options{
				NetworkTimeout: timeout,
				QOS:            packet.QOSAtLeastOnce,
				Log:            log2.NewTest(t, log2.LDebug),
			})
			env.alive.Add(1)
			go func() {
				defer env.alive.Done()
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				require.NoError(t, conn.SetDeadline(time.Now().Add(timeout)))
				c.server(t, env, transport.NewNetConn(conn))
			}()
			c.client(t, env)
			env.alive.Stop()
			env.alive.Wait()
		})
	}
}

// Session over real MQTT transport recovers after broker drops connection.
func TestSessionReconnect(t *testing.T) {
	t.Parallel()
	const timeout = 5 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for i := 0; ; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			b := transport.NewNetConn(conn)
			go func(i int) {
				defer b.Close()
				if _, err := b.Receive(); err != nil { // CONNECT
					return
				}
				connack := packet.NewConnack()
				connack.ReturnCode = packet.ConnectionAccepted
				_ = b.Send(connack, false)
				pkt, err := b.Receive()
				if err != nil {
					return
				}
				suback := packet.NewSuback()
				suback.ID = pkt.(*packet.Subscribe).ID
				suback.ReturnCodes = []packet.QOS{packet.QOSAtMostOnce}
				_ = b.Send(suback, false)
				pub := packet.NewPublish()
				pub.Message = packet.Message{Topic: "topic/data/0", Payload: []byte(fmt.Sprintf(`{"demand_time": %d}`, i+1))}
				_ = b.Send(pub, false)
				if i == 0 {
					return // drop first connection
				}
				_, _ = b.Receive()
			}(i)
		}
	}()

	received := make(chan string, 8)
	s, err := channel.New(channel.Options{
		Name:       "data",
		URL:        fmt.Sprintf("tcp://%s", ln.Addr().String()),
		Topic:      "topic/data/0",
		ClientID:   "console-1",
		Transport:  NewTransport(Options{NetworkTimeout: timeout, Log: log2.NewTest(t, log2.LDebug)}),
		RetryDelay: 10 * time.Millisecond,
		OnMessage:  func(b []byte) { received <- string(b) },
		Log:        log2.NewTest(t, log2.LDebug),
	})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Start())
	assert.Equal(t, `{"demand_time": 1}`, <-received)
	assert.Equal(t, `{"demand_time": 2}`, <-received)
	require.Eventually(t, func() bool { return s.Status().Connected() }, timeout, 5*time.Millisecond)
}
