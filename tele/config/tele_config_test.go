package tele_config

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Data: ChannelConfig{URL: "tcp://broker:1883", Topic: "topic/data/0"},
		Log:  ChannelConfig{URL: "ws://relay/tele", Topic: "topic/log", Transport: "ws"},
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	c := validConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 5, c.MaxAttemptsOrDefault())
	assert.Equal(t, 10*time.Second, c.ConnectTimeout())
	assert.Equal(t, 5*time.Second, c.RetryDelay())
	assert.Equal(t, 20*time.Second, c.RendezvousTimeout())
	assert.Equal(t, time.Duration(0), c.NetworkTimeout())
	assert.Equal(t, TransportMqtt, c.Data.Kind())
	assert.Equal(t, TransportWs, c.Log.Kind())

	c.MaxAttempts = 2
	c.ConnectTimeoutMs = 1500
	c.RendezvousTimeoutMs = 100
	assert.Equal(t, 2, c.MaxAttemptsOrDefault())
	assert.Equal(t, 1500*time.Millisecond, c.ConnectTimeout())
	assert.Equal(t, 100*time.Millisecond, c.RendezvousTimeout())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		mutate    func(*Config)
		expectErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"max-attempts", func(c *Config) { c.MaxAttempts = -1 }, "tele.max_attempts=-1 not valid"},
		{"retry-delay", func(c *Config) { c.RetryDelayMs = -5 }, "tele.retry_delay_ms=-5 not valid"},
		{"qos", func(c *Config) { c.MqttQOS = 2 }, "tele.mqtt_qos=2 (supported 0,1) not valid"},
		{"data-url", func(c *Config) { c.Data.URL = "" }, "tele.data.url=empty not valid"},
		{"log-transport", func(c *Config) { c.Log.Transport = "amqp" }, "tele.log: transport=amqp (use mqtt, paho, ws) not valid"},
		{"many", func(c *Config) { c.Data.Topic = ""; c.Log.Topic = "" },
			"tele.data.topic=empty not valid\ntele.log.topic=empty not valid"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			c.mutate(&cfg)
			err := cfg.Validate()
			if c.expectErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, c.expectErr, err.Error())
		})
	}
}

func TestParseTransportKind(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "mqtt", " MQTT "} {
		k, err := ParseTransportKind(s)
		require.NoError(t, err)
		assert.Equal(t, TransportMqtt, k)
	}
	k, err := ParseTransportKind("paho")
	require.NoError(t, err)
	assert.Equal(t, TransportPaho, k)
	_, err = ParseTransportKind("udp")
	assert.True(t, errors.IsNotValid(err))
}
