package calibration

import "fmt"

// ExtremaKind selects which extrema pair a reset applies to.
type ExtremaKind string

const (
	ExtremaValue ExtremaKind = "value"
	ExtremaRaw   ExtremaKind = "raw"
)

// ParseExtremaKind names the pair to reset. An empty kind is rejected.
func ParseExtremaKind(s string) (ExtremaKind, error) {
	switch k := ExtremaKind(s); k {
	case ExtremaValue, ExtremaRaw:
		return k, nil
	case "absolute":
		return ExtremaValue, nil
	case "absoluteRaw":
		return ExtremaRaw, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidExtrema, s)
	}
}

// Extrema is the all-time range of mapped values. Min and Max are meaningless
// while Valid is false.
type Extrema struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Valid bool    `json:"valid"`
}

func (e *Extrema) Observe(v float64) bool {
	if !e.Valid {
		*e = Extrema{Min: v, Max: v, Valid: true}
		return true
	}
	changed := false
	if v < e.Min {
		e.Min = v
		changed = true
	}
	if v > e.Max {
		e.Max = v
		changed = true
	}
	return changed
}

// RawExtrema is the all-time range of raw samples.
type RawExtrema struct {
	Min   int  `json:"min"`
	Max   int  `json:"max"`
	Valid bool `json:"valid"`
}

func (e *RawExtrema) Observe(raw int) bool {
	if !e.Valid {
		*e = RawExtrema{Min: raw, Max: raw, Valid: true}
		return true
	}
	changed := false
	if raw < e.Min {
		e.Min = raw
		changed = true
	}
	if raw > e.Max {
		e.Max = raw
		changed = true
	}
	return changed
}

// AbsoluteExtrema tracks value and raw extrema independently of calibration mode.
type AbsoluteExtrema struct {
	Value Extrema
	Raw   RawExtrema
}

// Observe updates both pairs and reports which of them changed.
func (a *AbsoluteExtrema) Observe(raw int, value float64) (valueChanged, rawChanged bool) {
	return a.Value.Observe(value), a.Raw.Observe(raw)
}

// Reset clears one pair back to never observed. The other pair is untouched.
func (a *AbsoluteExtrema) Reset(kind ExtremaKind) error {
	switch kind {
	case ExtremaValue:
		a.Value = Extrema{}
	case ExtremaRaw:
		a.Raw = RawExtrema{}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidExtrema, kind)
	}
	return nil
}
