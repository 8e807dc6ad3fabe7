package calibration

import (
	"errors"
	"math"
	"strconv"
)

// Raw-domain sentinels for extrema that were never observed.
const (
	RawUnsetMin = math.MaxInt32
	RawUnsetMax = math.MinInt32
)

// WireFloat encodes ±Inf as 1e999/-1e999, which browsers parse as ±Infinity.
type WireFloat float64

func (f WireFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return []byte("1e999"), nil
	case math.IsInf(v, -1):
		return []byte("-1e999"), nil
	case math.IsNaN(v):
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *WireFloat) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*f = WireFloat(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && !(errors.Is(err, strconv.ErrRange) && math.IsInf(v, 0)) {
		return err
	}
	*f = WireFloat(v)
	return nil
}

// Snapshot is the read model of one measurement as seen by the admin surface.
type Snapshot struct {
	Key                 string      `json:"key"`
	Name                string      `json:"name"`
	Unit                string      `json:"unit"`
	Kind                Kind        `json:"kind"`
	Raw                 int         `json:"raw"`
	Value               WireFloat   `json:"value"`
	Thresholds          *Thresholds `json:"thresholds"`
	MinMax              Range       `json:"minmax"`
	Inverted            bool        `json:"inverted"`
	CalibrationMode     bool        `json:"calibrationMode"`
	AutocalDuration     int         `json:"autocalDuration"`
	AbsoluteMin         WireFloat   `json:"absoluteMin"`
	AbsoluteMax         WireFloat   `json:"absoluteMax"`
	AbsoluteRawMin      int         `json:"absoluteRawMin"`
	AbsoluteRawMax      int         `json:"absoluteRawMax"`
	Status              Status      `json:"status"`
	LastMeasurement     int64       `json:"lastMeasurement"`
	MeasurementInterval int64       `json:"measurementInterval"`
}

// Snapshot renders m with wire sentinels for unset extrema. LastMeasurement is
// unix milliseconds (0 before the first sample), MeasurementInterval is milliseconds.
func (m *Measurement) Snapshot() Snapshot {
	s := Snapshot{
		Key:                 m.Key.String(),
		Name:                m.Name,
		Unit:                m.Unit,
		Kind:                m.Kind,
		Raw:                 m.Raw,
		Value:               WireFloat(m.Value),
		MinMax:              m.MinMax,
		Inverted:            m.Inverted,
		CalibrationMode:     m.CalibrationMode,
		AutocalDuration:     m.AutocalDurationSeconds,
		AbsoluteMin:         WireFloat(math.Inf(1)),
		AbsoluteMax:         WireFloat(math.Inf(-1)),
		AbsoluteRawMin:      RawUnsetMin,
		AbsoluteRawMax:      RawUnsetMax,
		Status:              m.Status,
		MeasurementInterval: int64(m.IntervalSeconds) * 1000,
	}
	if s.Status == "" {
		s.Status = StatusUnknown
	}
	if m.Thresholds != nil {
		t := *m.Thresholds
		s.Thresholds = &t
	}
	if m.Extrema.Value.Valid {
		s.AbsoluteMin = WireFloat(m.Extrema.Value.Min)
		s.AbsoluteMax = WireFloat(m.Extrema.Value.Max)
	}
	if m.Extrema.Raw.Valid {
		s.AbsoluteRawMin = m.Extrema.Raw.Min
		s.AbsoluteRawMax = m.Extrema.Raw.Max
	}
	if !m.LastMeasurement.IsZero() {
		s.LastMeasurement = m.LastMeasurement.UnixMilli()
	}
	return s
}
