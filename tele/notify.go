package tele

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/temoto/demandtele/log2"
	"github.com/temoto/demandtele/tele/channel"
)

type Level uint8

const (
	LevelInfo Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "info"
}

// Notice is toast equivalent: log channel event or session transition.
type Notice struct {
	Level   Level
	Channel string
	Text    string
	// nil for log channel events
	Transition *channel.Event
}

func (n Notice) String() string {
	return fmt.Sprintf("%s channel=%s %s", n.Level, n.Channel, n.Text)
}

type Sink interface {
	Notify(Notice)
}

type SinkFunc func(Notice)

func (f SinkFunc) Notify(n Notice) { f(n) }

// LogSink writes notices to log, errors at error level.
func LogSink(log *log2.Log) Sink {
	return SinkFunc(func(n Notice) {
		if n.Level == LevelError {
			log.Errorf("notice channel=%s %s", n.Channel, n.Text)
		} else {
			log.Infof("notice channel=%s %s", n.Channel, n.Text)
		}
	})
}

// Log channel carries free text, no severity code.
// Classify is substring heuristic, case insensitive.
var errorMarkers = []string{"error", "fail", "fault", "alarm", "exception", "timeout"}

func Classify(text string) Level {
	lower := strings.ToLower(text)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return LevelError
		}
	}
	return LevelInfo
}

// ExtractText returns "message" or "msg" string of JSON object payload, otherwise payload as text.
func ExtractText(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			for _, key := range []string{"message", "msg"} {
				var s string
				if raw, ok := obj[key]; ok && json.Unmarshal(raw, &s) == nil {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return string(trimmed)
}

func transitionNotice(e channel.Event) (Notice, bool) {
	n := Notice{Level: LevelInfo, Channel: e.Channel, Transition: &e}
	switch e.Kind {
	case channel.EventConnected:
		if e.Restored {
			n.Text = "connection restored"
		} else {
			n.Text = "connected"
		}
	case channel.EventRetrying:
		n.Text = fmt.Sprintf("connect failed, retrying (%d/%d)", e.Attempt, e.Max)
	case channel.EventDisconnected:
		n.Level = LevelError
		n.Text = fmt.Sprintf("connection lost, reconnecting err=%v", e.Err)
	case channel.EventFailed:
		n.Level = LevelError
		n.Text = fmt.Sprintf("connect failed after %d attempts, manual reconnect required", e.Max)
	default:
		return Notice{}, false
	}
	return n, true
}
