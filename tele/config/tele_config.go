// Separate package is workaround to import cycles.
package tele_config

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/demandtele/helpers"
	"github.com/temoto/demandtele/tele/channel"
	"github.com/temoto/demandtele/tele/rendezvous"
)

type ChannelConfig struct {
	URL       string `hcl:"url"`
	Topic     string `hcl:"topic"`
	Transport string `hcl:"transport"`
}

type Config struct { //nolint:maligned
	ClientID            string `hcl:"client_id"`
	LogDebug            bool   `hcl:"log_debug"`
	MaxAttempts         int    `hcl:"max_attempts"`
	ConnectTimeoutMs    int    `hcl:"connect_timeout_ms"`
	RetryDelayMs        int    `hcl:"retry_delay_ms"`
	RendezvousTimeoutMs int    `hcl:"rendezvous_timeout_ms"`
	KeepaliveSec        int    `hcl:"keepalive_sec"`
	NetworkTimeoutSec   int    `hcl:"network_timeout_sec"`
	MqttUsername        string `hcl:"mqtt_username"`
	MqttPassword        string `hcl:"mqtt_password"` // secret
	MqttQOS             int    `hcl:"mqtt_qos"`
	TlsCaFile           string `hcl:"tls_ca_file"`

	Data ChannelConfig `hcl:"data"`
	Log  ChannelConfig `hcl:"log"`
}

func (c *Config) MaxAttemptsOrDefault() int {
	if c.MaxAttempts <= 0 {
		return channel.DefaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c *Config) ConnectTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.ConnectTimeoutMs, channel.DefaultConnectTimeout)
}

func (c *Config) RetryDelay() time.Duration {
	return helpers.IntMillisecondDefault(c.RetryDelayMs, channel.DefaultRetryDelay)
}

func (c *Config) RendezvousTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.RendezvousTimeoutMs, rendezvous.DefaultTimeout)
}

// NetworkTimeout zero means transport default.
func (c *Config) NetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.NetworkTimeoutSec, 0)
}

func (c *Config) Keepalive() time.Duration {
	return helpers.IntSecondDefault(c.KeepaliveSec, 0)
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	if c.MaxAttempts < 0 {
		errs = append(errs, errors.NotValidf("tele.max_attempts=%d", c.MaxAttempts))
	}
	for _, x := range []struct {
		name string
		v    int
	}{
		{"connect_timeout_ms", c.ConnectTimeoutMs},
		{"retry_delay_ms", c.RetryDelayMs},
		{"rendezvous_timeout_ms", c.RendezvousTimeoutMs},
		{"keepalive_sec", c.KeepaliveSec},
		{"network_timeout_sec", c.NetworkTimeoutSec},
	} {
		if x.v < 0 {
			errs = append(errs, errors.NotValidf("tele.%s=%d", x.name, x.v))
		}
	}
	if c.MqttQOS < 0 || c.MqttQOS > 1 {
		errs = append(errs, errors.NotValidf("tele.mqtt_qos=%d (supported 0,1)", c.MqttQOS))
	}
	errs = append(errs, c.Data.validate("data"), c.Log.validate("log"))
	return helpers.FoldErrors(errs)
}

func (cc *ChannelConfig) validate(name string) error {
	errs := make([]error, 0, 3)
	if cc.URL == "" {
		errs = append(errs, errors.NotValidf("tele.%s.url=empty", name))
	}
	if cc.Topic == "" {
		errs = append(errs, errors.NotValidf("tele.%s.topic=empty", name))
	}
	if _, err := ParseTransportKind(cc.Transport); err != nil {
		errs = append(errs, errors.Annotatef(err, "tele.%s", name))
	}
	return helpers.FoldErrors(errs)
}
