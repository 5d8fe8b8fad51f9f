package mqtt

import (
	"fmt"

	"github.com/256dpi/gomqtt/packet"
)

// PUBLISH payload as text, frames are JSON
func PacketString(p packet.Generic) string {
	if p == nil {
		return "(nil)"
	}
	if pub, ok := p.(*packet.Publish); ok {
		return fmt.Sprintf("<Publish ID=%d Dup=%t %s>", pub.ID, pub.Dup, MessageString(&pub.Message))
	}
	return p.String()
}

func MessageString(m *packet.Message) string {
	if m == nil {
		return "message=nil"
	}
	return fmt.Sprintf("Topic=%q QOS=%d Retain=%t Payload=%q", m.Topic, m.QOS, m.Retain, m.Payload)
}
