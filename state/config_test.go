package state

import (
	"context"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/temoto/demandtele/log2"
	tele_config "github.com/temoto/demandtele/tele/config"
)

const testBase = `
tele {
	client_id = "console-1"
	data { url = "tcp://broker:1883" topic = "topic/data/0" }
	log { url = "ws://relay:8080/tele" topic = "topic/log" transport = "ws" }
}`

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, context.Context)
		expectErr string
	}
	cases := []Case{
		{"empty", "", nil, "tele.data.url=empty not valid"},

		{"base", `include "base" {}`, func(t testing.TB, ctx context.Context) {
			g := GetGlobal(ctx)
			tc := g.Config.Tele
			assert.Equal(t, "console-1", tc.ClientID)
			assert.Equal(t, "topic/data/0", tc.Data.Topic)
			assert.Equal(t, tele_config.TransportMqtt, tc.Data.Kind())
			assert.Equal(t, tele_config.TransportWs, tc.Log.Kind())
			assert.Equal(t, 5, tc.MaxAttemptsOrDefault())
			assert.Equal(t, "tcp://broker:1883", g.Stores.Org.URL())
			assert.False(t, g.Stores.Org.Connected())
		}, ""},

		{"limits", `
include "base" {}
tele { max_attempts = 3 retry_delay_ms = 250 rendezvous_timeout_ms = 1000 }
console { prompt = "dt> " wait_timeout_ms = 3000 }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 3, g.Config.Tele.MaxAttemptsOrDefault())
				assert.Equal(t, "250ms", g.Config.Tele.RetryDelay().String())
				assert.Equal(t, "1s", g.Config.Tele.RendezvousTimeout().String())
				assert.Equal(t, "dt> ", g.Config.Console.Prompt)
				assert.Equal(t, 3000, g.Config.Console.WaitTimeoutMs)
			}, ""},

		{"log-debug", `
include "base" {}
tele { log_debug = true }`,
			func(t testing.TB, ctx context.Context) {
				assert.True(t, GetGlobal(ctx).Log.Enabled(log2.LDebug))
			}, ""},

		{"include-normalize", `
include "base" {}
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "base" {}
include "max-attempts-7" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, ctx context.Context) {
				assert.Equal(t, 7, GetGlobal(ctx).Config.Tele.MaxAttempts)
			}, ""},

		{"include-overwrites", `
tele { max_attempts = 1 }
include "base" {}
include "max-attempts-7" {}`,
			func(t testing.TB, ctx context.Context) {
				assert.Equal(t, 7, GetGlobal(ctx).Config.Tele.MaxAttempts)
			}, ""},

		{"include-required", `include "non-exist" {}`, nil, "config required name=non-exist path=non-exist not found"},
		{"invalid-transport", `
include "base" {}
tele { data { transport = "amqp" } }`, nil, "tele.data: transport=amqp (use mqtt, paho, ws) not valid"},
		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-duplicate", `include "base" {}
include "base" {}`, nil, "config include loop: from=test-inline include=base"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LInfo)
			ctx, g := NewContext(log)

			fs := NewMockFullReader(map[string]string{
				"test-inline":    c.input,
				"base":           testBase,
				"empty":          "",
				"max-attempts-7": "tele{max_attempts=7}",
				"error-syntax":   "hello",
				"include-loop":   `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, ctx)
				}
			} else {
				if err == nil || !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestReadConfigNoNames(t *testing.T) {
	t.Parallel()
	_, err := ReadConfig(log2.NewTest(t, log2.LDebug), NewMockFullReader(nil))
	assert.Error(t, err)
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../demandtele.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	cfg := MustReadConfig(log, NewOsFullReader(), "../demandtele.hcl")
	ctx, g := NewContext(log)
	g.MustInit(ctx, cfg)
}
