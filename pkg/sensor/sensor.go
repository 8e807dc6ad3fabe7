package sensor

import (
	"context"
	"errors"
)

// ErrSampleFault is returned when a conversion fails or does not finish in time.
// It never carries a raw value.
var ErrSampleFault = errors.New("sample fault")

// Sampler reads one raw conversion from an analog channel. It does not schedule
// itself; callers bound each read with ctx.
type Sampler interface {
	Sample(ctx context.Context, channel int) (int, error)
	// FullScale is the largest raw value the converter can report.
	FullScale() int
	Close() error
}
