package tele_config

import (
	"strings"

	"github.com/juju/errors"
)

type TransportKind string

const (
	TransportMqtt TransportKind = "mqtt" // gomqtt, default
	TransportPaho TransportKind = "paho"
	TransportWs   TransportKind = "ws"
)

func ParseTransportKind(s string) (TransportKind, error) {
	switch k := TransportKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return TransportMqtt, nil
	case TransportMqtt, TransportPaho, TransportWs:
		return k, nil
	default:
		return "", errors.NotValidf("transport=%s (use mqtt, paho, ws)", s)
	}
}

func (cc *ChannelConfig) Kind() TransportKind {
	k, _ := ParseTransportKind(cc.Transport)
	return k
}
