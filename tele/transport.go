package tele

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/256dpi/gomqtt/packet"
	"github.com/juju/errors"
	"github.com/temoto/demandtele/log2"
	"github.com/temoto/demandtele/tele/channel"
	tele_config "github.com/temoto/demandtele/tele/config"
	"github.com/temoto/demandtele/tele/mqtt"
	"github.com/temoto/demandtele/tele/paho"
	"github.com/temoto/demandtele/tele/ws"
)

// NewTransport builds channel transport of given kind from shared tele config.
func NewTransport(kind tele_config.TransportKind, c *tele_config.Config, log *log2.Log) (channel.Transport, error) {
	tlsconf, err := tlsConfig(c.TlsCaFile)
	if err != nil {
		return nil, err
	}
	switch kind {
	case tele_config.TransportMqtt:
		return mqtt.NewTransport(mqtt.Options{
			TLS:            tlsconf,
			NetworkTimeout: c.NetworkTimeout(),
			KeepaliveSec:   uint16(c.KeepaliveSec),
			Username:       c.MqttUsername,
			Password:       c.MqttPassword,
			QOS:            packet.QOS(c.MqttQOS),
			Log:            log,
		}), nil

	case tele_config.TransportPaho:
		return paho.NewTransport(paho.Options{
			KeepAlive:      c.Keepalive(),
			NetworkTimeout: c.NetworkTimeout(),
			QOS:            byte(c.MqttQOS),
			Username:       c.MqttUsername,
			Password:       c.MqttPassword,
			TLS:            tlsconf,
			Log:            log,
		}), nil

	case tele_config.TransportWs:
		return ws.NewTransport(ws.Options{
			NetworkTimeout: c.NetworkTimeout(),
			TLS:            tlsconf,
			Log:            log,
		}), nil
	}
	return nil, errors.NotValidf("transport=%s", kind)
}

func tlsConfig(caFile string) (*tls.Config, error) {
	if caFile == "" {
		return nil, nil
	}
	cabytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, errors.Annotatef(err, "config: tls_ca_file=%s", caFile)
	}
	tlsconf := &tls.Config{RootCAs: x509.NewCertPool()}
	if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
		return nil, errors.NotValidf("config: tls_ca_file=%s no PEM certificates", caFile)
	}
	return tlsconf, nil
}
