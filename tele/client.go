// Package tele is realtime demand telemetry client.
//
// Client contract:
// - two independent sessions: "data" carries metric frames, "log" carries event text
// - IsConnected is data OR log, published only on change
// - data frames are processed one at a time in receipt order:
//   decode, device store, series, priority store, cutoff store, rendezvous
// - log frames become notices classified by Classify
// - network problems never fail public calls, they surface as notices and session state
package tele

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/demandtele/helpers"
	"github.com/temoto/demandtele/log2"
	"github.com/temoto/demandtele/state"
	"github.com/temoto/demandtele/tele/channel"
	tele_config "github.com/temoto/demandtele/tele/config"
	"github.com/temoto/demandtele/tele/frame"
	"github.com/temoto/demandtele/tele/rendezvous"
)

const (
	ChannelData = "data"
	ChannelLog  = "log"

	defaultClientID = "demandtele"
)

type Options struct {
	// nil: new empty stores
	Stores *state.Stores
	// nil: LogSink
	Sink Sink
	Log  *log2.Log

	// Replace transports built from config, test code sets these.
	DataTransport channel.Transport
	LogTransport  channel.Transport

	// OnConnected is called on merged liveness change with client lock held.
	// Must not block or call Client methods.
	OnConnected func(connected bool)
	// OnToggle receives cutoff groups changed by one frame, from frame processing path.
	OnToggle func([]state.Toggle)
}

type Client struct {
	cfg    tele_config.Config
	log    *log2.Log
	opt    Options
	rv     *rendezvous.Registry
	sink   Sink
	stores *state.Stores
	stat   lockedStat

	data  *channel.Session
	logch *channel.Session

	mu        sync.Mutex // liveness, single writer
	up        map[string]bool
	connected bool

	frameMu sync.Mutex // serializes data frame processing
}

var _ state.Teler = &Client{} // compile-time interface test

func New(cfg tele_config.Config, opt Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotate(err, "tele config")
	}
	if opt.Log == nil {
		opt.Log = log2.NewStderr(log2.LInfo)
	}
	c := &Client{
		cfg:    cfg,
		log:    opt.Log.Clone(log2.LInfo),
		opt:    opt,
		sink:   opt.Sink,
		stores: opt.Stores,
		up:     make(map[string]bool, 2),
	}
	if cfg.LogDebug {
		c.log.SetLevel(log2.LDebug)
	}
	if c.stores == nil {
		c.stores = state.NewStores()
	}
	if c.sink == nil {
		c.sink = LogSink(c.log)
	}
	c.rv = rendezvous.New(cfg.RendezvousTimeout(), c.log.WithPrefix("rendezvous"))
	c.stores.Org.SetURL(cfg.Data.URL)

	var err error
	c.data, err = c.newSession(ChannelData, cfg.Data, opt.DataTransport, c.onDataMessage)
	if err != nil {
		return nil, err
	}
	c.logch, err = c.newSession(ChannelLog, cfg.Log, opt.LogTransport, c.onLogMessage)
	if err != nil {
		_ = c.data.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) newSession(name string, cc tele_config.ChannelConfig, tr channel.Transport, onMessage func([]byte)) (*channel.Session, error) {
	log := c.log.WithPrefix(name)
	if tr == nil {
		var err error
		if tr, err = NewTransport(cc.Kind(), &c.cfg, log); err != nil {
			return nil, errors.Annotatef(err, "channel=%s", name)
		}
	}
	clientID := c.cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	s, err := channel.New(channel.Options{
		Name: name,
		URL:  cc.URL,
		// broker would kick older connection with same id
		ClientID:       fmt.Sprintf("%s-%s", clientID, name),
		Topic:          cc.Topic,
		Transport:      tr,
		MaxAttempts:    c.cfg.MaxAttemptsOrDefault(),
		ConnectTimeout: c.cfg.ConnectTimeout(),
		RetryDelay:     c.cfg.RetryDelay(),
		OnMessage:      onMessage,
		OnEvent:        c.onChannelEvent,
		Log:            log,
	})
	return s, errors.Annotatef(err, "channel=%s", name)
}

// Start is idempotent, both sessions connect concurrently.
// Stat is reset only when client was stopped.
func (c *Client) Start() error {
	c.rv.Reopen()
	if c.data.Status().State == channel.StateIdle && c.logch.Status().State == channel.StateIdle {
		c.stat.Lock()
		c.stat.locked_Reset()
		c.stat.Unlock()
	}
	return helpers.FoldErrors([]error{c.data.Start(), c.logch.Start()})
}

// Stop disconnects both sessions and rejects pending waits. Idempotent.
func (c *Client) Stop() error {
	err := helpers.FoldErrors([]error{c.data.Stop(), c.logch.Stop()})
	c.rv.Close()
	return err
}

// Close stops client and releases session goroutines, client is unusable after.
func (c *Client) Close() error {
	err := c.Stop()
	_ = c.data.Close()
	_ = c.logch.Close()
	return err
}

// ManualReconnect resets attempts and reconnects both sessions regardless of state.
// The only way out of Failed.
func (c *Client) ManualReconnect() error {
	c.log.Infof("manual reconnect")
	c.rv.Reopen()
	return helpers.FoldErrors([]error{c.data.ForceReconnect(), c.logch.ForceReconnect()})
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ReconnectAttempts is max of both sessions, for display.
func (c *Client) ReconnectAttempts() int {
	a, b := c.data.Status().Attempts, c.logch.Status().Attempts
	if a > b {
		return a
	}
	return b
}

func (c *Client) Status() []channel.Status {
	return []channel.Status{c.data.Status(), c.logch.Status()}
}

func (c *Client) Stores() *state.Stores { return c.stores }

func (c *Client) Stat() Stat {
	c.stat.Lock()
	defer c.stat.Unlock()
	return c.stat.Stat
}

// WaitForFieldUpdate resolves with first frame where field equals expected.
// timeout<=0 uses tele.rendezvous_timeout_ms.
func (c *Client) WaitForFieldUpdate(field string, expected string, timeout time.Duration) *rendezvous.Wait {
	return c.rv.Await(field, expected, timeout)
}

func (c *Client) WaitForPriorityNumbersUpdate(expected []int, timeout time.Duration) *rendezvous.Wait {
	return c.rv.AwaitPriority(expected, timeout)
}

func (c *Client) onDataMessage(payload []byte) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()

	m := frame.Decode(payload, c.log)
	c.log.Debugf("frame %s", m.String())
	st := c.stores
	st.Device.Set(m.Fields)
	if !m.HasDemandTime {
		c.log.Warningf("frame without valid demand_time, series unchanged")
	}
	reset := st.Graph.Apply(m)
	st.Priority.Set(m.PriorityNumbers)
	toggles := st.Cutoff.Apply(m.Cutoff)
	if len(toggles) != 0 {
		c.log.Debugf("cutoff toggles=%v", toggles)
		if c.opt.OnToggle != nil {
			c.opt.OnToggle(toggles)
		}
	}
	resolved := c.rv.TryResolve(m)

	c.stat.Lock()
	c.stat.DataFrames++
	c.stat.CutoffToggles += uint64(len(toggles))
	c.stat.Resolved += uint64(resolved)
	if reset {
		c.stat.SeriesResets++
	}
	c.stat.LastFrame = time.Now()
	c.stat.Unlock()
}

func (c *Client) onLogMessage(payload []byte) {
	text := ExtractText(payload)
	if text == "" {
		return
	}
	c.stat.Lock()
	c.stat.LogEvents++
	c.stat.Unlock()
	c.sink.Notify(Notice{Level: Classify(text), Channel: ChannelLog, Text: text})
}

func (c *Client) onChannelEvent(e channel.Event) {
	c.updateLiveness(e.Channel, e.State == channel.StateConnected)
	if n, ok := transitionNotice(e); ok {
		c.sink.Notify(n)
	}
}

func (c *Client) updateLiveness(name string, up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.up[name] = up
	merged := false
	for _, v := range c.up {
		merged = merged || v
	}
	if merged == c.connected {
		return
	}
	c.connected = merged
	c.stores.Org.SetConnected(merged)
	c.log.Infof("connected=%t", merged)
	if c.opt.OnConnected != nil {
		c.opt.OnConnected(merged)
	}
}
