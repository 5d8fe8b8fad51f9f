package frame

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/demandtele/log2"
)

func TestDecodePriority(t *testing.T) {
	t.Parallel()

	identity := [Slots]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	cases := []struct {
		name   string
		input  [4]uint16
		expect [Slots]int
	}{
		{"all-zero", [4]uint16{0, 0, 0, 0}, identity},
		{"nibbles", [4]uint16{0x0123, 0xfedc, 0, 0x1111},
			[Slots]int{1, 2, 3, 4, 16, 15, 14, 13, 9, 10, 11, 12, 2, 2, 2, 2}},
		{"msb-first", [4]uint16{0xf000, 0, 0, 0},
			[Slots]int{16, 1, 1, 1, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, DecodePriority(c.input))
		})
	}
}

func TestDecodePriorityExhaustive(t *testing.T) {
	t.Parallel()

	// every 16-bit value in every field position
	for k := 0; k < 4; k++ {
		for v := 0; v <= 0xffff; v++ {
			var fields [4]uint16
			fields[k] = uint16(v)
			out := DecodePriority(fields)
			for i := 0; i < 4; i++ {
				slot := k*4 + i
				expect := slot + 1
				if v != 0 {
					expect = (v>>uint(12-4*i))&0xf + 1
				}
				if out[slot] != expect {
					t.Fatalf("field=%d value=%04x slot=%d got=%d expected=%d", k+1, v, slot, out[slot], expect)
				}
			}
		}
	}
}

func TestEncodePriorityRoundTrip(t *testing.T) {
	t.Parallel()

	ranks := [Slots]int{3, 1, 4, 2, 16, 15, 14, 13, 8, 7, 6, 5, 9, 10, 11, 12}
	assert.Equal(t, ranks, DecodePriority(EncodePriority(ranks)))
}

func TestDecodeCutoffExhaustive(t *testing.T) {
	t.Parallel()

	for v := 0; v <= 0xffff; v++ {
		groups := DecodeCutoff(uint16(v))
		for i := 0; i < Groups; i++ {
			set := v&(1<<uint(i)) != 0
			if groups[i] != set {
				t.Fatalf("bits=%016b group=%s got=%t", v, GroupLabel(i), groups[i])
			}
		}
		if EncodeCutoff(groups) != uint16(v) {
			t.Fatalf("bits=%016b encode mismatch", v)
		}
	}
}

func TestLabels(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "S-01", SlotLabel(0))
	assert.Equal(t, "S-16", SlotLabel(15))
	assert.Equal(t, "G-01", GroupLabel(0))
	assert.Equal(t, "G-16", GroupLabel(15))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		check func(testing.TB, Metrics)
	}{
		{"round-trip-reset", `{"priority_1": 0, "demand_time": "0", "target_eng": "300"}`, func(t testing.TB, m Metrics) {
			assert.Equal(t, []int{1, 2, 3, 4}, m.PriorityNumbers[0:4])
			assert.Equal(t, 0, m.DemandTime)
			assert.True(t, m.HasDemandTime)
			assert.Equal(t, 300.0, m.TargetPower)
			assert.Equal(t, "300", m.Field(FieldTargetPower))
			assert.Equal(t, "0", m.Field(FieldDemandTime))
			assert.Nil(t, m.PredictedPower)
		}},
		{"numbers-and-strings", `{"target_eng": 500, "base_eng": "420.5", "current_eng": 410, "predict_eng": "480", "demand_time": 125,
			"priority_2": "65244", "cutoff_group": 5, "control_mode": "AUTO", "vendor_x": "1"}`, func(t testing.TB, m Metrics) {
			assert.Equal(t, 500.0, m.TargetPower)
			assert.Equal(t, 420.5, m.BasePower)
			assert.Equal(t, 410.0, m.CurrentPower)
			require.NotNil(t, m.PredictedPower)
			assert.Equal(t, 480.0, *m.PredictedPower)
			assert.Equal(t, 125, m.DemandTime)
			// 65244 = 0xfedc
			assert.Equal(t, []int{16, 15, 14, 13}, m.PriorityNumbers[4:8])
			assert.Equal(t, []int{1, 2, 3, 4}, m.PriorityNumbers[0:4])
			assert.True(t, m.Cutoff[0])
			assert.False(t, m.Cutoff[1])
			assert.True(t, m.Cutoff[2])
			assert.Equal(t, "AUTO", m.Field(FieldControlMode))
			assert.Equal(t, "1", m.Raw["vendor_x"])
			assert.Equal(t, "500", m.Field(FieldTargetPower))
		}},
		{"absent-is-empty-string", `{"demand_time": 3}`, func(t testing.TB, m Metrics) {
			assert.Equal(t, "", m.Field(FieldTargetPower))
			assert.False(t, m.HasField(FieldTargetPower))
			assert.Equal(t, 0.0, m.TargetPower)
			assert.Contains(t, m.Fields, FieldTargetPower)
		}},
		{"malformed-numbers", `{"target_eng": "lots", "demand_time": "x", "priority_1": 70000, "cutoff_group": -1, "predict_eng": "?"}`, func(t testing.TB, m Metrics) {
			assert.Equal(t, 0.0, m.TargetPower)
			assert.Equal(t, 0, m.DemandTime)
			assert.False(t, m.HasDemandTime)
			assert.Equal(t, "x", m.Field(FieldDemandTime))
			assert.Equal(t, []int{1, 2, 3, 4}, m.PriorityNumbers[0:4])
			assert.Equal(t, uint16(0), m.CutoffBits)
			assert.Nil(t, m.PredictedPower)
			assert.Equal(t, "lots", m.Field(FieldTargetPower))
		}},
		{"status-only", `{"control_mode": "auto", "device_status": "ok"}`, func(t testing.TB, m Metrics) {
			assert.False(t, m.HasDemandTime)
			assert.Equal(t, "ok", m.Field(FieldDeviceStatus))
			assert.Contains(t, m.String(), "demand_time=-")
		}},
		{"demand-time-huge", `{"demand_time": 1e19}`, func(t testing.TB, m Metrics) {
			assert.False(t, m.HasDemandTime)
			assert.Equal(t, 0, m.DemandTime)
		}},
		{"demand-time-negative", `{"demand_time": -15}`, func(t testing.TB, m Metrics) {
			assert.False(t, m.HasDemandTime)
			assert.Equal(t, 0, m.DemandTime)
		}},
		{"demand-time-fraction", `{"demand_time": "7.5"}`, func(t testing.TB, m Metrics) {
			assert.False(t, m.HasDemandTime)
		}},
		{"not-json", `garbage`, func(t testing.TB, m Metrics) {
			assert.Equal(t, 0, m.DemandTime)
			assert.False(t, m.HasDemandTime)
			assert.Equal(t, 1, m.PriorityNumbers[0])
			assert.Equal(t, 16, m.PriorityNumbers[15])
			assert.Empty(t, m.Raw)
		}},
		{"nested-ignored", `{"target_eng": {"v": 1}, "base_eng": [1], "current_eng": null, "firmware": true}`, func(t testing.TB, m Metrics) {
			assert.Equal(t, 0.0, m.TargetPower)
			assert.Equal(t, 0.0, m.BasePower)
			assert.Equal(t, "", m.Field(FieldCurrentPower))
			assert.Equal(t, "true", m.Field(FieldFirmware))
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			m := Decode([]byte(c.input), log2.NewTest(t, log2.LDebug))
			c.check(t, m)
		})
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	t.Parallel()

	inputs := []string{"", "{", "null", "[]", `{"priority_1":`, `{"demand_time": 1e400}`, `{"target_eng": "NaN"}`}
	for i, s := range inputs {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			assert.NotPanics(t, func() { Decode([]byte(s), nil) })
		})
	}
}

func TestMetricsCopy(t *testing.T) {
	t.Parallel()

	m := Decode([]byte(`{"predict_eng": 7, "control_mode": "AUTO"}`), nil)
	c := m.Copy()
	c.Fields[FieldControlMode] = "MANUAL"
	*c.PredictedPower = 8
	assert.Equal(t, "AUTO", m.Field(FieldControlMode))
	assert.Equal(t, 7.0, *m.PredictedPower)
}
