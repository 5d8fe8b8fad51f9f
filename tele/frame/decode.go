package frame

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/temoto/demandtele/log2"
)

// Decode is total: it never fails and never panics on any input.
func Decode(payload []byte, log *log2.Log) Metrics {
	m := Metrics{
		Fields: make(map[string]string, len(fieldNames)),
		Raw:    make(map[string]string),
	}
	for _, name := range fieldNames {
		m.Fields[name] = ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		log.Warningf("frame decode payload=%q err=%v", truncate(payload, 64), err)
		obj = nil
	}
	for wire, raw := range obj {
		s, ok := rawString(raw)
		if !ok {
			log.Warningf("frame decode field=%s value=%s unsupported", wire, string(raw))
			continue
		}
		m.Raw[wire] = s
		if name, known := fieldNames[wire]; known {
			m.Fields[name] = s
		}
	}

	d := decoder{raw: m.Raw, log: log}
	m.TargetPower = d.float(WireTargetPower)
	m.BasePower = d.float(WireBasePower)
	m.CurrentPower = d.float(WireCurrentPower)
	m.PredictedPower = d.optionalFloat(WirePredictedPower)
	m.DemandTime, m.HasDemandTime = d.clock(WireDemandTime)

	var prio [4]uint16
	for k := range prio {
		prio[k] = d.uint16(WirePriorityPrefix + strconv.Itoa(k+1))
	}
	m.PriorityNumbers = DecodePriority(prio)

	m.CutoffBits = d.uint16(WireCutoffGroup)
	m.Cutoff = DecodeCutoff(m.CutoffBits)
	return m
}

type decoder struct {
	raw map[string]string
	log *log2.Log
}

func (d decoder) float(wire string) float64 {
	if f := d.optionalFloat(wire); f != nil {
		return *f
	}
	return 0
}

func (d decoder) optionalFloat(wire string) *float64 {
	s := d.raw[wire]
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		d.log.Warningf("frame decode field=%s value=%q not a number", wire, s)
		return nil
	}
	return &f
}

// clock parses non-negative integer seconds, ok=false for absent or malformed value.
func (d decoder) clock(wire string) (int, bool) {
	p := d.optionalFloat(wire)
	if p == nil {
		return 0, false
	}
	f := *p
	if f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
		d.log.Warningf("frame decode field=%s value=%v not a clock value", wire, f)
		return 0, false
	}
	return int(f), true
}

func (d decoder) uint16(wire string) uint16 {
	f := d.float(wire)
	if f < 0 || f > math.MaxUint16 || f != math.Trunc(f) {
		d.log.Warningf("frame decode field=%s value=%v out of 16 bit range", wire, f)
		return 0
	}
	return uint16(f)
}

// rawString converts JSON scalar to its display string, null is "".
func rawString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", true
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	case 'n':
		return "", string(raw) == "null"
	case 't', 'f':
		return string(raw), string(raw) == "true" || string(raw) == "false"
	case '{', '[':
		return "", false
	}
	// number literal as sent, so "500" and 500 display the same
	return string(raw), true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
