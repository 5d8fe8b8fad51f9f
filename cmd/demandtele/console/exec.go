package console

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/demandtele/helpers/cli"
	"github.com/temoto/demandtele/tele"
	"github.com/temoto/demandtele/tele/frame"
	"github.com/temoto/demandtele/tele/rendezvous"
)

const usage = `commands:
- status                    channels, liveness, counters
- start | stop              client lifecycle
- reconnect                 reset attempts and reconnect both channels
- series                    current demand interval samples
- priority                  slot priority numbers
- cutoff                    cutoff group states
- device                    latest device fields
- wait FIELD VALUE [TIMEOUT]       block until FIELD=VALUE arrives, e.g. wait targetPower 500 30s
- waitprio N1,...,N16 [TIMEOUT]    block until priority numbers match
`

type Console struct {
	c           *tele.Client
	w           io.Writer
	waitTimeout time.Duration // 0 = client default
}

var commands = []prompt.Suggest{
	{Text: "status", Description: "channels, liveness, counters"},
	{Text: "start", Description: "start client"},
	{Text: "stop", Description: "stop client"},
	{Text: "reconnect", Description: "manual reconnect"},
	{Text: "series", Description: "demand interval samples"},
	{Text: "priority", Description: "slot priority numbers"},
	{Text: "cutoff", Description: "cutoff groups"},
	{Text: "device", Description: "device fields"},
	{Text: "wait", Description: "wait FIELD VALUE [TIMEOUT]"},
	{Text: "waitprio", Description: "waitprio N1,...,N16 [TIMEOUT]"},
	{Text: "help"},
}

func (self *Console) Exec(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	args := parts[1:]
	switch parts[0] {
	case "help", "?":
		_, _ = io.WriteString(self.w, usage)
	case "status":
		self.status()
	case "start":
		return self.c.Start()
	case "stop":
		return self.c.Stop()
	case "reconnect":
		return self.c.ManualReconnect()
	case "series":
		self.series()
	case "priority":
		self.priority()
	case "cutoff":
		self.cutoff()
	case "device":
		self.device()
	case "wait":
		return self.wait(ctx, args)
	case "waitprio":
		return self.waitPriority(ctx, args)
	default:
		return errors.NotValidf("command=%s (try help)", parts[0])
	}
	return nil
}

func (self *Console) status() {
	fmt.Fprintf(self.w, "connected=%t attempts=%d\n", self.c.IsConnected(), self.c.ReconnectAttempts())
	for _, s := range self.c.Status() {
		fmt.Fprintf(self.w, "channel=%s state=%s attempts=%d/%d timer=%t url=%s topic=%s\n",
			s.Channel, s.State, s.Attempts, s.Max, s.TimerArmed, s.URL, s.Topic)
	}
	stat := self.c.Stat()
	last := "-"
	if !stat.LastFrame.IsZero() {
		last = stat.LastFrame.Format(time.RFC3339)
	}
	fmt.Fprintf(self.w, "frames=%d events=%d resets=%d toggles=%d resolved=%d last_frame=%s\n",
		stat.DataFrames, stat.LogEvents, stat.SeriesResets, stat.CutoffToggles, stat.Resolved, last)
}

func (self *Console) series() {
	fmt.Fprintf(self.w, "%-6s %10s %10s %10s %10s\n", "time", "target", "base", "current", "predicted")
	for _, e := range self.c.Stores().Graph.Snapshot() {
		predicted := "-"
		if e.Predicted != nil {
			predicted = strconv.FormatFloat(*e.Predicted, 'f', -1, 64)
		}
		fmt.Fprintf(self.w, "%-6s %10v %10v %10v %10s\n", e.Label, e.Target, e.Base, e.Current, predicted)
	}
}

func (self *Console) priority() {
	for i, n := range self.c.Stores().Priority.Get() {
		fmt.Fprintf(self.w, "%s=%d\n", frame.SlotLabel(i), n)
	}
}

func (self *Console) cutoff() {
	for i, on := range self.c.Stores().Cutoff.Get() {
		state := "off"
		if on {
			state = "on"
		}
		fmt.Fprintf(self.w, "%s=%s\n", frame.GroupLabel(i), state)
	}
}

func (self *Console) device() {
	fields := self.c.Stores().Device.Snapshot()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(self.w, "%s=%s\n", name, fields[name])
	}
}

func (self *Console) parseTimeout(args []string) (time.Duration, error) {
	if len(args) == 0 {
		return self.waitTimeout, nil
	}
	d, err := time.ParseDuration(args[0])
	if err != nil || d <= 0 {
		return 0, errors.NotValidf("timeout=%s", args[0])
	}
	return d, nil
}

func (self *Console) wait(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.NotValidf("syntax: wait FIELD VALUE [TIMEOUT]")
	}
	timeout, err := self.parseTimeout(args[2:])
	if err != nil {
		return err
	}
	w := self.c.WaitForFieldUpdate(args[0], args[1], timeout)
	return self.report(ctx, w)
}

func (self *Console) waitPriority(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.NotValidf("syntax: waitprio N1,...,N16 [TIMEOUT]")
	}
	parts := strings.Split(args[0], ",")
	if len(parts) != frame.Slots {
		return errors.NotValidf("waitprio expected %d numbers, got %d", frame.Slots, len(parts))
	}
	expected := make([]int, len(parts))
	for i, s := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return errors.NotValidf("waitprio %s=%s", frame.SlotLabel(i), s)
		}
		expected[i] = n
	}
	timeout, err := self.parseTimeout(args[1:])
	if err != nil {
		return err
	}
	return self.report(ctx, self.c.WaitForPriorityNumbersUpdate(expected, timeout))
}

func (self *Console) report(ctx context.Context, w *rendezvous.Wait) error {
	m, err := w.Wait(ctx)
	if err != nil {
		if rendezvous.IsTimeout(err) {
			fmt.Fprintf(self.w, "timeout %s=%s\n", w.Key, w.Expected)
		}
		return err
	}
	fmt.Fprintf(self.w, "ok %s=%s %s\n", w.Key, w.Expected, m.String())
	return nil
}

func complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	if strings.HasPrefix(before, "wait ") && strings.Count(before, " ") == 1 {
		names := frame.FieldNames()
		sort.Strings(names)
		suggests := make([]prompt.Suggest, len(names))
		for i, name := range names {
			suggests[i] = prompt.Suggest{Text: name}
		}
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
	return cli.FilterSuggest(d, commands)
}
