package tele

import (
	"bytes"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/temoto/demandtele/log2"
	"github.com/temoto/demandtele/tele/channel"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text   string
		expect Level
	}{
		{"", LevelInfo},
		{"meter sync done", LevelInfo},
		{"target power set to 500", LevelInfo},
		{"Relay FAULT on G-03", LevelError},
		{"ERROR: breaker open", LevelError},
		{"connect failed", LevelError},
		{"demand alarm level 2", LevelError},
		{"NullPointerException in controller", LevelError},
		{"meter read timeout", LevelError},
		// substring heuristic, known weak point
		{"failover complete", LevelError},
	}
	for _, c := range cases {
		c := c
		t.Run(c.text, func(t *testing.T) {
			assert.Equal(t, c.expect, Classify(c.text))
		})
	}
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
		expect  string
	}{
		{"message", `{"message":" cutoff G-02 engaged ","level":"info"}`, "cutoff G-02 engaged"},
		{"msg", `{"msg":"peak warning"}`, "peak warning"},
		{"message-first", `{"msg":"b","message":"a"}`, "a"},
		{"object-without-text", `{"code":17}`, `{"code":17}`},
		{"non-string-message", `{"message":17}`, `{"message":17}`},
		{"plain", "  relay fault \n", "relay fault"},
		{"broken-json", `{"message":`, `{"message":`},
		{"empty", "", ""},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, ExtractText([]byte(c.payload)))
		})
	}
}

func TestTransitionNotice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		e      channel.Event
		ok     bool
		level  Level
		expect string
	}{
		{channel.Event{Channel: "data", Kind: channel.EventConnecting}, false, LevelInfo, ""},
		{channel.Event{Channel: "data", Kind: channel.EventStopped}, false, LevelInfo, ""},
		{channel.Event{Channel: "data", Kind: channel.EventConnected}, true, LevelInfo, "info channel=data connected"},
		{channel.Event{Channel: "log", Kind: channel.EventConnected, Restored: true}, true, LevelInfo, "info channel=log connection restored"},
		{channel.Event{Channel: "data", Kind: channel.EventRetrying, Attempt: 3, Max: 5}, true, LevelInfo, "info channel=data connect failed, retrying (3/5)"},
		{channel.Event{Channel: "data", Kind: channel.EventDisconnected, Err: errors.New("EOF")}, true, LevelError, "error channel=data connection lost, reconnecting err=EOF"},
		{channel.Event{Channel: "log", Kind: channel.EventFailed, Attempt: 6, Max: 5}, true, LevelError, "error channel=log connect failed after 5 attempts, manual reconnect required"},
	}
	for _, c := range cases {
		n, ok := transitionNotice(c.e)
		assert.Equal(t, c.ok, ok, c.e.String())
		if !ok {
			continue
		}
		assert.Equal(t, c.level, n.Level)
		assert.Equal(t, c.expect, n.String())
		assert.Equal(t, c.e.Kind, n.Transition.Kind)
	}
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := LogSink(log2.NewWriter(&buf, log2.LInfo))
	sink.Notify(Notice{Level: LevelError, Channel: "log", Text: "relay fault"})
	sink.Notify(Notice{Level: LevelInfo, Channel: "data", Text: "connected"})
	assert.Contains(t, buf.String(), "notice channel=log relay fault")
	assert.Contains(t, buf.String(), "notice channel=data connected")
}
