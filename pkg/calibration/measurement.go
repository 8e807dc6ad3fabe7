package calibration

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

const (
	MinIntervalSeconds = 10
	MaxIntervalSeconds = 3600

	// DefaultAutocalDuration is used when a zero duration is written.
	DefaultAutocalDuration = 86400
	// DefaultADCMax is the full scale of a 10-bit converter.
	DefaultADCMax = 1023
)

// Kind tags how a measurement turns raw samples into values.
type Kind string

const (
	KindRelative    Kind = "relative"
	KindTemperature Kind = "temperature"
	KindCO2         Kind = "co2"
	KindParticulate Kind = "particulate"
	KindGeneric     Kind = "generic"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindRelative, KindTemperature, KindCO2, KindParticulate, KindGeneric:
		return k, nil
	case "":
		return KindRelative, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Remaps reports whether raw samples are mapped onto 0..100 using the calibrated range.
func (k Kind) Remaps() bool { return k == KindRelative }

// OneSided reports whether only the upper thresholds matter (lower is always better).
func (k Kind) OneSided() bool { return k == KindCO2 || k == KindParticulate }

// Key identifies one measurement of one sensor.
type Key struct {
	SensorID string
	Index    int
}

func (k Key) String() string { return k.SensorID + "_" + strconv.Itoa(k.Index) }

// ParseKey parses the sensorId_measurementIndex form. Sensor ids may contain underscores.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndex(s, "_")
	if i <= 0 || i == len(s)-1 {
		return Key{}, fmt.Errorf("%w: %q", ErrUnknownMeasurement, s)
	}
	idx, err := strconv.Atoi(s[i+1:])
	if err != nil || idx < 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrUnknownMeasurement, s)
	}
	return Key{SensorID: s[:i], Index: idx}, nil
}

// Range is the raw span mapped onto 0..100.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r Range) Valid() bool { return r.Max > r.Min }

func ValidateRange(r Range) error {
	if !r.Valid() {
		return fmt.Errorf("%w: max %d must be greater than min %d", ErrInvalidRange, r.Max, r.Min)
	}
	return nil
}

// Measurement is the working copy of one logical channel.
type Measurement struct {
	Key        Key
	Name       string
	Unit       string
	Kind       Kind
	Expression string
	// ADCMax is the converter full scale, used to seed autocal without a usable range.
	ADCMax int

	Thresholds             *Thresholds
	MinMax                 Range
	Inverted               bool
	CalibrationMode        bool
	AutocalDurationSeconds int
	Autocal                AutoCal
	IntervalSeconds        int
	Extrema                AbsoluteExtrema

	Raw             int
	Value           float64
	HasSample       bool
	Faulted         bool
	Status          Status
	LastMeasurement time.Time
	WarmupUntil     time.Time

	scale *Scale
}

// Change reports which persisted fields a sample touched.
type Change struct {
	MinMax     bool
	Extrema    bool
	RawExtrema bool
}

func (c Change) Any() bool { return c.MinMax || c.Extrema || c.RawExtrema }

// Compile prepares the scale expression. It must be called after Expression changes.
func (m *Measurement) Compile() error {
	s, err := NewScale(m.Expression)
	if err != nil {
		return err
	}
	m.scale = s
	return nil
}

// Record runs one valid raw sample through autocal, mapping, extrema and classification.
func (m *Measurement) Record(raw int, now time.Time) Change {
	var c Change
	if m.Kind.Remaps() && m.CalibrationMode && !m.Autocal.Frozen(now, m.AutocalWindow()) {
		if r, widened := Widen(m.MinMax, raw); widened {
			log.Printf("autocal: %s range %d..%d -> %d..%d", m.Key, m.MinMax.Min, m.MinMax.Max, r.Min, r.Max)
			m.MinMax = r
			c.MinMax = true
		}
	}

	value, err := m.mapRaw(raw)
	if err != nil {
		log.Printf("measurement %s: %v", m.Key, err)
		m.RecordFault()
		return c
	}

	m.Raw = raw
	m.Value = value
	m.HasSample = true
	m.Faulted = false
	m.LastMeasurement = now
	c.Extrema, c.RawExtrema = m.Extrema.Observe(raw, value)
	m.Reclassify(now)
	return c
}

// AutocalWindow is the autocal duration, falling back to the default for zero.
func (m *Measurement) AutocalWindow() time.Duration {
	secs := m.AutocalDurationSeconds
	if secs <= 0 {
		secs = DefaultAutocalDuration
	}
	return time.Duration(secs) * time.Second
}

// RecordFault marks the last sample as failed. Raw, value and extrema stay untouched.
func (m *Measurement) RecordFault() {
	m.Faulted = true
	m.Status = StatusError
}

// Reclassify recomputes Status from the current value and thresholds.
func (m *Measurement) Reclassify(now time.Time) {
	switch {
	case m.Faulted:
		m.Status = StatusError
	case !m.HasSample || now.Before(m.WarmupUntil):
		m.Status = StatusWarmup
	case m.Kind.OneSided():
		m.Status = ClassifyOneSided(m.Value, m.Thresholds)
	default:
		m.Status = Classify(m.Value, m.Thresholds)
	}
}

func (m *Measurement) mapRaw(raw int) (float64, error) {
	if !m.Kind.Remaps() {
		return m.scale.Apply(raw)
	}
	clamped := raw
	if m.MinMax.Valid() {
		clamped = clampInt(raw, m.MinMax.Min, m.MinMax.Max)
		if clamped != raw && !m.CalibrationMode {
			log.Printf("measurement %s: raw %d outside %d..%d, using %d", m.Key, raw, m.MinMax.Min, m.MinMax.Max, clamped)
		}
	}
	return MapToValue(clamped, m.MinMax, m.Inverted), nil
}

// SetCalibrationMode switches autocal. Enabling seeds the range from the manual
// range and the last raw reading; disabling keeps the current range as manual.
// It reports whether the range and the raw extrema were changed.
func (m *Measurement) SetCalibrationMode(enabled bool, now time.Time) (rangeChanged, rawSeeded bool) {
	if m.CalibrationMode == enabled {
		return false, false
	}
	m.CalibrationMode = enabled
	if !enabled {
		m.Autocal.Started = time.Time{}
		return false, false
	}

	m.Autocal.Started = now
	seed := Seed(m.MinMax, m.Raw, m.HasSample, m.ADCMax)
	if seed != m.MinMax {
		m.MinMax = seed
		rangeChanged = true
	}
	if m.HasSample && !m.Extrema.Raw.Valid {
		m.Extrema.Raw = RawExtrema{Min: m.Raw, Max: m.Raw, Valid: true}
		rawSeeded = true
	}
	return rangeChanged, rawSeeded
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
