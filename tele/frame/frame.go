// Package frame decodes device telemetry frames into Metrics.
//
// Frame is a JSON object, values may arrive as strings or numbers.
// Decode never fails: missing or malformed fields become 0 or "" and are logged as warnings,
// one bad frame must not interrupt the stream.
package frame

import (
	"fmt"
	"strconv"
)

const (
	Slots  = 16 // priority slots S-01..S-16
	Groups = 16 // cutoff groups G-01..G-16

	// composite rendezvous key
	KeyPriorityNumbers = "priorityNumbers"
)

// Wire field names.
const (
	WireTargetPower    = "target_eng"
	WireBasePower      = "base_eng"
	WireCurrentPower   = "current_eng"
	WirePredictedPower = "predict_eng"
	WireDemandTime     = "demand_time"
	WireCutoffGroup    = "cutoff_group"
	WirePriorityPrefix = "priority_"
)

// Domain field names, used as Metrics.Fields keys and rendezvous keys.
const (
	FieldTargetPower    = "targetPower"
	FieldBasePower      = "basePower"
	FieldCurrentPower   = "currentPower"
	FieldPredictedPower = "predictedPower"
	FieldDemandTime     = "demandTime"
	FieldCutoffGroups   = "cutoffGroups"
	FieldControlMode    = "controlMode"
	FieldOperationMode  = "operationMode"
	FieldDeviceStatus   = "deviceStatus"
	FieldDeviceID       = "deviceId"
	FieldFirmware       = "firmware"
	FieldPeakPower      = "peakPower"
	FieldContractPower  = "contractPower"
	FieldPowerFactor    = "powerFactor"
)

// wire -> domain for fields exposed in Metrics.Fields
var fieldNames = map[string]string{
	WireTargetPower:    FieldTargetPower,
	WireBasePower:      FieldBasePower,
	WireCurrentPower:   FieldCurrentPower,
	WirePredictedPower: FieldPredictedPower,
	WireDemandTime:     FieldDemandTime,
	WireCutoffGroup:    FieldCutoffGroups,
	"control_mode":     FieldControlMode,
	"operation_mode":   FieldOperationMode,
	"device_status":    FieldDeviceStatus,
	"device_id":        FieldDeviceID,
	"firmware":         FieldFirmware,
	"peak_eng":         FieldPeakPower,
	"contract_eng":     FieldContractPower,
	"power_factor":     FieldPowerFactor,
}

// FieldName maps wire name to domain name, ok=false for unknown fields.
func FieldName(wire string) (string, bool) {
	name, ok := fieldNames[wire]
	return name, ok
}

// FieldNames lists known domain names, for completion and validation.
func FieldNames() []string {
	names := make([]string, 0, len(fieldNames))
	for _, n := range fieldNames {
		names = append(names, n)
	}
	return names
}

// Metrics is one decoded frame. Value type, not modified after Decode returns.
type Metrics struct {
	TargetPower    float64
	BasePower      float64
	CurrentPower   float64
	PredictedPower *float64
	DemandTime     int
	// false when demand_time is absent or malformed, DemandTime is 0 then
	HasDemandTime bool

	PriorityNumbers [Slots]int
	Cutoff          [Groups]bool
	CutoffBits      uint16

	// Display values by domain name. Absent field is "", so "0" and "no reading" differ.
	Fields map[string]string
	// Every wire field as received, including raw control/mode and unknown fields.
	Raw map[string]string
}

// Field returns display value of known domain field.
func (m *Metrics) Field(name string) string {
	return m.Fields[name]
}

// HasField reports whether the field was present in the frame.
func (m *Metrics) HasField(name string) bool {
	return m.Fields[name] != ""
}

// Copy returns deep copy safe to hand over to another owner.
func (m Metrics) Copy() Metrics {
	c := m
	if m.PredictedPower != nil {
		p := *m.PredictedPower
		c.PredictedPower = &p
	}
	c.Fields = make(map[string]string, len(m.Fields))
	for k, v := range m.Fields {
		c.Fields[k] = v
	}
	c.Raw = make(map[string]string, len(m.Raw))
	for k, v := range m.Raw {
		c.Raw[k] = v
	}
	return c
}

func (m *Metrics) String() string {
	predicted := "-"
	if m.PredictedPower != nil {
		predicted = strconv.FormatFloat(*m.PredictedPower, 'f', -1, 64)
	}
	demandTime := "-"
	if m.HasDemandTime {
		demandTime = strconv.Itoa(m.DemandTime)
	}
	return fmt.Sprintf("demand_time=%s target=%v base=%v current=%v predicted=%s priority=%v cutoff=%016b",
		demandTime, m.TargetPower, m.BasePower, m.CurrentPower, predicted, m.PriorityNumbers, m.CutoffBits)
}

// SlotLabel formats 0-based slot index as S-01..S-16.
func SlotLabel(i int) string { return fmt.Sprintf("S-%02d", i+1) }

// GroupLabel formats 0-based cutoff group index as G-01..G-16.
func GroupLabel(i int) string { return fmt.Sprintf("G-%02d", i+1) }
