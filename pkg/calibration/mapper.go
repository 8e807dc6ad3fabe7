package calibration

import (
	"fmt"
	"log"
	"math"
	"strconv"

	"github.com/Knetic/govaluate"
)

// DegenerateValue is reported when the range has collapsed.
const DegenerateValue = 50.0

// MapToValue maps raw onto 0..100 within r, reversed when inverted.
// A collapsed range (max <= min) yields DegenerateValue.
func MapToValue(raw int, r Range, inverted bool) float64 {
	if !r.Valid() {
		log.Printf("mapper: degenerate range %d..%d, reporting midpoint", r.Min, r.Max)
		return DegenerateValue
	}
	pct := float64(raw-r.Min) / float64(r.Max-r.Min) * 100
	pct = math.Max(0, math.Min(100, pct))
	if inverted {
		pct = 100 - pct
	}
	return pct
}

// Scale converts raw samples of absolute-unit measurements into physical values.
// A nil Scale is the identity.
type Scale struct {
	source string
	expr   *govaluate.EvaluableExpression
}

// NewScale compiles an expression over the variable raw, e.g. "raw * 0.125".
// An empty expression returns nil.
func NewScale(expression string) (*Scale, error) {
	if expression == "" {
		return nil, nil
	}
	expr, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	for _, v := range expr.Vars() {
		if v != "raw" {
			return nil, fmt.Errorf("%w: unknown variable %q", ErrInvalidExpression, v)
		}
	}
	return &Scale{source: expression, expr: expr}, nil
}

// ScaleFromCalibration builds the linear expression raw*scale+offset.
// Numbers are written in plain decimal; the expression lexer has no exponents.
func ScaleFromCalibration(scale, offset float64) string {
	if scale == 0 {
		scale = 1
	}
	if scale == 1 && offset == 0 {
		return ""
	}
	expr := "raw * " + decimal(scale)
	switch {
	case offset < 0:
		expr += " - " + decimal(-offset)
	case offset > 0:
		expr += " + " + decimal(offset)
	}
	return expr
}

func decimal(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func (s *Scale) Apply(raw int) (float64, error) {
	if s == nil {
		return float64(raw), nil
	}
	out, err := s.expr.Evaluate(map[string]interface{}{"raw": float64(raw)})
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", s.source, err)
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("evaluate %q: non-numeric result %v", s.source, out)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("evaluate %q: non-finite result", s.source)
	}
	return v, nil
}

func (s *Scale) String() string {
	if s == nil {
		return "raw"
	}
	return s.source
}
