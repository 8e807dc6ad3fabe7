package calibration

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)

func relative(min, max int) *Measurement {
	th := ThresholdsFrom([4]float64{10, 30, 70, 90})
	return &Measurement{
		Key:             Key{SensorID: "ANALOG", Index: 0},
		Name:            "Soil moisture",
		Unit:            "%",
		Kind:            KindRelative,
		ADCMax:          DefaultADCMax,
		Thresholds:      &th,
		MinMax:          Range{Min: min, Max: max},
		IntervalSeconds: 60,
	}
}

func TestAutocalNeverNarrows(t *testing.T) {
	m := relative(100, 900)
	m.SetCalibrationMode(true, t0)
	prev := m.MinMax
	for i, raw := range []int{500, 950, 20, 600, 1000, 0, 30, 999, 400} {
		m.Record(raw, t0.Add(time.Duration(i)*time.Second))
		if m.MinMax.Min > prev.Min || m.MinMax.Max < prev.Max {
			t.Fatalf("range narrowed after raw=%d: %+v -> %+v", raw, prev, m.MinMax)
		}
		prev = m.MinMax
	}
	if m.MinMax != (Range{Min: 0, Max: 1000}) {
		t.Fatalf("final range: got %+v", m.MinMax)
	}
}

func TestAutocalSeedFromManualRange(t *testing.T) {
	m := relative(100, 900)
	if changed, _ := m.SetCalibrationMode(true, t0); changed {
		t.Fatalf("seeding without a raw reading must keep the manual range")
	}
	c := m.Record(950, t0)
	if !c.MinMax {
		t.Fatalf("expected range change")
	}
	if m.MinMax.Min != 100 || m.MinMax.Max != 950 {
		t.Fatalf("got %+v want {100 950}", m.MinMax)
	}
}

func TestSeed(t *testing.T) {
	tests := []struct {
		name   string
		manual Range
		raw    int
		hasRaw bool
		adcMax int
		want   Range
	}{
		{"manual only", Range{100, 900}, 0, false, 1023, Range{100, 900}},
		{"raw inside", Range{100, 900}, 500, true, 1023, Range{100, 900}},
		{"raw below", Range{100, 900}, 50, true, 1023, Range{50, 900}},
		{"raw above", Range{100, 900}, 990, true, 1023, Range{100, 990}},
		{"invalid manual with raw", Range{0, 0}, 321, true, 1023, Range{321, 321}},
		{"nothing", Range{5, 5}, 0, false, 32767, Range{0, 32767}},
		{"nothing default adc", Range{}, 0, false, 0, Range{0, 1023}},
	}
	for _, tt := range tests {
		if got := Seed(tt.manual, tt.raw, tt.hasRaw, tt.adcMax); got != tt.want {
			t.Fatalf("%s: got %+v want %+v", tt.name, got, tt.want)
		}
	}
}

func TestDisableKeepsRange(t *testing.T) {
	m := relative(100, 900)
	m.SetCalibrationMode(true, t0)
	m.Record(1000, t0)
	m.SetCalibrationMode(false, t0)
	if m.MinMax != (Range{100, 1000}) {
		t.Fatalf("disabling must freeze the range, got %+v", m.MinMax)
	}
	if c := m.Record(1010, t0); c.MinMax {
		t.Fatalf("manual mode must not widen")
	}
	if m.Value != 100 {
		t.Fatalf("out of range raw should clamp to 100, got %v", m.Value)
	}
}

func TestFreezePolicy(t *testing.T) {
	m := relative(100, 900)
	m.Autocal.Policy = PolicyFreeze
	m.AutocalDurationSeconds = 60
	m.SetCalibrationMode(true, t0)
	m.Record(950, t0.Add(30*time.Second))
	if m.MinMax.Max != 950 {
		t.Fatalf("within window should widen, got %+v", m.MinMax)
	}
	m.Record(1000, t0.Add(61*time.Second))
	if m.MinMax.Max != 950 {
		t.Fatalf("after window should be frozen, got %+v", m.MinMax)
	}
	if !m.CalibrationMode {
		t.Fatalf("freeze must not leave calibration mode")
	}
}

func TestRawExtremaSeededOnEnable(t *testing.T) {
	m := relative(100, 900)
	m.Record(400, t0)
	m.Extrema.Reset(ExtremaRaw)
	_, seeded := m.SetCalibrationMode(true, t0)
	if !seeded || m.Extrema.Raw != (RawExtrema{Min: 400, Max: 400, Valid: true}) {
		t.Fatalf("raw extrema: seeded=%v %+v", seeded, m.Extrema.Raw)
	}
}

func TestMapToValue(t *testing.T) {
	r := Range{Min: 200, Max: 800}
	tests := []struct {
		raw      int
		inverted bool
		want     float64
	}{
		{200, false, 0},
		{200, true, 100},
		{800, false, 100},
		{800, true, 0},
		{500, false, 50},
		{350, false, 25},
		{350, true, 75},
		{100, false, 0},
		{900, false, 100},
	}
	for _, tt := range tests {
		got := MapToValue(tt.raw, r, tt.inverted)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("raw=%d inverted=%v: got %v want %v", tt.raw, tt.inverted, got, tt.want)
		}
		if again := MapToValue(tt.raw, r, tt.inverted); again != got {
			t.Fatalf("not idempotent: %v vs %v", got, again)
		}
	}
}

func TestMapToValueDegenerate(t *testing.T) {
	for _, raw := range []int{0, 50, 1023, -5} {
		for _, inv := range []bool{false, true} {
			got := MapToValue(raw, Range{Min: 50, Max: 50}, inv)
			if got != DegenerateValue || math.IsNaN(got) {
				t.Fatalf("raw=%d: got %v", raw, got)
			}
		}
	}
	if got := MapToValue(10, Range{Min: 60, Max: 50}, false); got != DegenerateValue {
		t.Fatalf("inverted bounds: got %v", got)
	}
}

func TestScale(t *testing.T) {
	s, err := NewScale("raw * 0.5 - 10")
	if err != nil {
		t.Fatalf("NewScale: %v", err)
	}
	if v, err := s.Apply(100); err != nil || v != 40 {
		t.Fatalf("Apply: %v %v", v, err)
	}
	var none *Scale
	if v, err := none.Apply(412); err != nil || v != 412 {
		t.Fatalf("identity: %v %v", v, err)
	}
	if _, err := NewScale("temp * 2"); !errors.Is(err, ErrInvalidExpression) {
		t.Fatalf("unknown variable: %v", err)
	}
	if _, err := NewScale("raw *"); !errors.Is(err, ErrInvalidExpression) {
		t.Fatalf("bad syntax: %v", err)
	}
	if got := ScaleFromCalibration(1, 0); got != "" {
		t.Fatalf("identity calibration: %q", got)
	}
	if got := ScaleFromCalibration(0.98, -0.05); got != "raw * 0.98 - 0.05" {
		t.Fatalf("linear calibration: %q", got)
	}
	if got := ScaleFromCalibration(0.00001, 0); got != "raw * 0.00001" {
		t.Fatalf("small scale: %q", got)
	}
}

func TestScaleFromCalibrationCompiles(t *testing.T) {
	tests := []struct {
		scale, offset float64
		raw           int
		want          float64
	}{
		{2, 1, 10, 21},
		{0.0625, -40, 1000, 22.5},
		{0.00001, 0, 50000, 0.5},
		{7.8125e-06, 0, 32000, 0.25},
		{2e6, 0, 3, 6e6},
		{0.125, 0.00001, 8, 1.00001},
		{0.5, -1e-7, 2, 0.9999999},
	}
	for _, tt := range tests {
		expr := ScaleFromCalibration(tt.scale, tt.offset)
		s, err := NewScale(expr)
		if err != nil {
			t.Fatalf("scale=%v offset=%v: %q: %v", tt.scale, tt.offset, expr, err)
		}
		v, err := s.Apply(tt.raw)
		if err != nil || math.Abs(v-tt.want) > 1e-9 {
			t.Fatalf("%q at raw=%d: got %v %v want %v", expr, tt.raw, v, err, tt.want)
		}
	}
}

func TestAbsoluteKindPassesThrough(t *testing.T) {
	m := &Measurement{Key: Key{"MHZ19", 0}, Kind: KindCO2, Thresholds: &Thresholds{0, 1, 1000, 1500}}
	if err := m.Compile(); err != nil {
		t.Fatal(err)
	}
	m.Record(1200, t0)
	if m.Value != 1200 || m.Status != StatusYellow {
		t.Fatalf("co2: value=%v status=%s", m.Value, m.Status)
	}
	m.Record(400, t0)
	if m.Status != StatusGreen {
		t.Fatalf("co2 low must be green (one-sided), got %s", m.Status)
	}
}

func TestAbsoluteExtrema(t *testing.T) {
	var a AbsoluteExtrema
	for i, v := range []float64{3.0, 7.5, 1.2} {
		a.Observe(i, v)
	}
	if a.Value.Min != 1.2 || a.Value.Max != 7.5 {
		t.Fatalf("extrema: %+v", a.Value)
	}
	if err := a.Reset(ExtremaValue); err != nil {
		t.Fatal(err)
	}
	if a.Value.Valid {
		t.Fatalf("reset must clear value extrema")
	}
	if !a.Raw.Valid || a.Raw.Min != 0 || a.Raw.Max != 2 {
		t.Fatalf("raw extrema must survive a value reset: %+v", a.Raw)
	}
	a.Observe(5, 4.0)
	if a.Value.Min != 4.0 || a.Value.Max != 4.0 {
		t.Fatalf("after reset: %+v", a.Value)
	}
	if err := a.Reset("both"); !errors.Is(err, ErrInvalidExtrema) {
		t.Fatalf("unknown kind: %v", err)
	}
}

func TestParseExtremaKind(t *testing.T) {
	tests := []struct {
		in   string
		want ExtremaKind
		ok   bool
	}{
		{"value", ExtremaValue, true},
		{"absolute", ExtremaValue, true},
		{"raw", ExtremaRaw, true},
		{"absoluteRaw", ExtremaRaw, true},
		{"", "", false},
		{"both", "", false},
	}
	for _, tt := range tests {
		got, err := ParseExtremaKind(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Fatalf("ParseExtremaKind(%q) = %q, %v", tt.in, got, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidExtrema) {
			t.Fatalf("ParseExtremaKind(%q): wrong error %v", tt.in, err)
		}
	}
}

func TestClassify(t *testing.T) {
	th := ThresholdsFrom([4]float64{10, 30, 70, 90})
	tests := []struct {
		value float64
		want  Status
	}{
		{5, StatusRed},
		{10, StatusYellow},
		{15, StatusYellow},
		{30, StatusGreen},
		{50, StatusGreen},
		{70, StatusGreen},
		{80, StatusYellow},
		{90, StatusYellow},
		{95, StatusRed},
	}
	for _, tt := range tests {
		if got := Classify(tt.value, &th); got != tt.want {
			t.Fatalf("value=%v: got %s want %s", tt.value, got, tt.want)
		}
	}
	if got := Classify(50, nil); got != StatusUnknown {
		t.Fatalf("no thresholds: %s", got)
	}
	if got := Classify(math.NaN(), &th); got != StatusUnknown {
		t.Fatalf("NaN: %s", got)
	}
}

func TestValidateThresholds(t *testing.T) {
	tests := []struct {
		in [4]float64
		ok bool
	}{
		{[4]float64{10, 30, 70, 90}, true},
		{[4]float64{10, 30, 20, 90}, false},
		{[4]float64{10, 10, 70, 90}, false},
		{[4]float64{math.NaN(), 30, 70, 90}, false},
		{[4]float64{10, 30, 70, math.Inf(1)}, false},
	}
	for _, tt := range tests {
		err := ThresholdsFrom(tt.in).Validate()
		if (err == nil) != tt.ok {
			t.Fatalf("%v: ok=%v err=%v", tt.in, tt.ok, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidThresholds) {
			t.Fatalf("%v: wrong error %v", tt.in, err)
		}
	}
}

func TestStatusLifecycle(t *testing.T) {
	m := relative(0, 1000)
	m.WarmupUntil = t0.Add(time.Minute)
	m.Reclassify(t0)
	if m.Status != StatusWarmup {
		t.Fatalf("before sample: %s", m.Status)
	}
	m.Record(500, t0)
	if m.Status != StatusWarmup {
		t.Fatalf("during warmup: %s", m.Status)
	}
	m.Record(500, t0.Add(2*time.Minute))
	if m.Status != StatusGreen {
		t.Fatalf("after warmup: %s", m.Status)
	}
	ext := m.Extrema
	m.RecordFault()
	if m.Status != StatusError || m.Raw != 500 || m.Extrema != ext {
		t.Fatalf("fault must keep raw/extrema: %+v", m)
	}
	m.Reclassify(t0.Add(3 * time.Minute))
	if m.Status != StatusError {
		t.Fatalf("reclassify after fault: %s", m.Status)
	}
	m.Thresholds = nil
	m.Record(500, t0.Add(4*time.Minute))
	if m.Status != StatusUnknown {
		t.Fatalf("no thresholds: %s", m.Status)
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("ANALOG_MUX_3")
	if err != nil || k != (Key{SensorID: "ANALOG_MUX", Index: 3}) {
		t.Fatalf("got %+v %v", k, err)
	}
	if k.String() != "ANALOG_MUX_3" {
		t.Fatalf("String: %s", k)
	}
	for _, bad := range []string{"", "ANALOG", "_1", "ANALOG_", "ANALOG_x", "ANALOG_-1"} {
		if _, err := ParseKey(bad); !errors.Is(err, ErrUnknownMeasurement) {
			t.Fatalf("%q: %v", bad, err)
		}
	}
}

func TestSnapshotSentinels(t *testing.T) {
	m := relative(100, 900)
	b, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	js := string(b)
	for _, want := range []string{
		`"absoluteMin":1e999`,
		`"absoluteMax":-1e999`,
		`"absoluteRawMin":2147483647`,
		`"absoluteRawMax":-2147483648`,
		`"minmax":{"min":100,"max":900}`,
		`"thresholds":{"yellowLow":10,"greenLow":30,"greenHigh":70,"yellowHigh":90}`,
		`"measurementInterval":60000`,
		`"lastMeasurement":0`,
	} {
		if !strings.Contains(js, want) {
			t.Fatalf("snapshot %s missing %s", js, want)
		}
	}

	var back Snapshot
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !math.IsInf(float64(back.AbsoluteMin), 1) || !math.IsInf(float64(back.AbsoluteMax), -1) {
		t.Fatalf("sentinels lost: %v %v", back.AbsoluteMin, back.AbsoluteMax)
	}

	m.Record(500, t0)
	s := m.Snapshot()
	if s.AbsoluteMin != 50 || s.AbsoluteRawMax != 500 || s.LastMeasurement != t0.UnixMilli() {
		t.Fatalf("observed snapshot: %+v", s)
	}
}
