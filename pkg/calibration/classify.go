package calibration

import (
	"fmt"
	"math"
)

// Status is the traffic-light classification of a measurement.
type Status string

const (
	StatusRed     Status = "red"
	StatusYellow  Status = "yellow"
	StatusGreen   Status = "green"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
	StatusWarmup  Status = "warmup"
)

// Thresholds are four strictly ascending band boundaries in the value's unit.
type Thresholds struct {
	YellowLow  float64 `json:"yellowLow"`
	GreenLow   float64 `json:"greenLow"`
	GreenHigh  float64 `json:"greenHigh"`
	YellowHigh float64 `json:"yellowHigh"`
}

// ThresholdsFrom builds thresholds from yellowLow, greenLow, greenHigh, yellowHigh.
func ThresholdsFrom(v [4]float64) Thresholds {
	return Thresholds{YellowLow: v[0], GreenLow: v[1], GreenHigh: v[2], YellowHigh: v[3]}
}

func (t Thresholds) Values() [4]float64 {
	return [4]float64{t.YellowLow, t.GreenLow, t.GreenHigh, t.YellowHigh}
}

func (t Thresholds) Validate() error {
	v := t.Values()
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: value %d is not finite", ErrInvalidThresholds, i)
		}
		if i > 0 && x <= v[i-1] {
			return fmt.Errorf("%w: %v is not strictly ascending", ErrInvalidThresholds, v)
		}
	}
	return nil
}

// Classify maps value onto the five bands red|yellow|green|yellow|red.
func Classify(value float64, t *Thresholds) Status {
	if t == nil || math.IsNaN(value) {
		return StatusUnknown
	}
	switch {
	case value < t.YellowLow:
		return StatusRed
	case value < t.GreenLow:
		return StatusYellow
	case value <= t.GreenHigh:
		return StatusGreen
	case value <= t.YellowHigh:
		return StatusYellow
	default:
		return StatusRed
	}
}

// ClassifyOneSided is used for pollutant readings where low is always good.
func ClassifyOneSided(value float64, t *Thresholds) Status {
	if t == nil || math.IsNaN(value) {
		return StatusUnknown
	}
	switch {
	case value <= t.GreenHigh:
		return StatusGreen
	case value <= t.YellowHigh:
		return StatusYellow
	default:
		return StatusRed
	}
}
