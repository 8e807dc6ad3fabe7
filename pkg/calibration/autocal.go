package calibration

import (
	"fmt"
	"strings"
	"time"
)

// Policy decides what happens once the autocal window has elapsed.
type Policy string

const (
	// PolicyContinuous keeps widening for as long as calibration mode is on.
	PolicyContinuous Policy = "continuous"
	// PolicyFreeze stops widening when the window since enabling has elapsed.
	PolicyFreeze Policy = "freeze"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyContinuous, nil
	case PolicyContinuous, PolicyFreeze:
		return p, nil
	default:
		return "", fmt.Errorf("unknown autocal policy %q", s)
	}
}

// AutoCal is the runtime autocal state of one measurement.
type AutoCal struct {
	Policy  Policy
	Started time.Time
}

// Frozen reports whether widening has stopped under the freeze policy.
func (a AutoCal) Frozen(now time.Time, window time.Duration) bool {
	if a.Policy != PolicyFreeze || a.Started.IsZero() || window <= 0 {
		return false
	}
	return now.Sub(a.Started) >= window
}

// Widen returns r extended to include raw. It never narrows.
func Widen(r Range, raw int) (Range, bool) {
	out := r
	if raw < out.Min {
		out.Min = raw
	}
	if raw > out.Max {
		out.Max = raw
	}
	return out, out != r
}

// Seed picks the starting autocal range.
//
// A valid manual range is kept, widened to include the last raw reading when
// there is one. Without a valid manual range the last raw reading anchors both
// ends, and with neither the full converter span is used.
func Seed(manual Range, lastRaw int, hasRaw bool, adcMax int) Range {
	if adcMax <= 0 {
		adcMax = DefaultADCMax
	}
	switch {
	case manual.Valid() && hasRaw:
		r, _ := Widen(manual, lastRaw)
		return r
	case manual.Valid():
		return manual
	case hasRaw:
		return Range{Min: lastRaw, Max: lastRaw}
	default:
		return Range{Min: 0, Max: adcMax}
	}
}
