package calibration

import "errors"

var (
	// Operator input
	ErrInvalidThresholds = errors.New("invalid thresholds")
	ErrInvalidRange      = errors.New("invalid range")
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidInterval   = errors.New("invalid interval")
	ErrInvalidDuration   = errors.New("invalid autocal duration")
	ErrInvalidKind       = errors.New("invalid measurement kind")
	ErrInvalidExtrema    = errors.New("invalid extrema kind")
	ErrInvalidExpression = errors.New("invalid scale expression")
	ErrCalibrationActive = errors.New("calibration mode active")

	// Runtime
	ErrUnknownMeasurement = errors.New("unknown measurement")
	ErrPersistence        = errors.New("persistence fault")
)
