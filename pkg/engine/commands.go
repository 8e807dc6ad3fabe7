package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/ericogr/plant-autocal/pkg/calibration"
	"github.com/ericogr/plant-autocal/pkg/sensor"
	"github.com/ericogr/plant-autocal/pkg/store"
)

var (
	ErrInvalidCommand = errors.New("invalid command")
	ErrInvalidValue   = errors.New("invalid value")
)

type Op string

const (
	OpSet     Op = "set"
	OpReset   Op = "reset"
	OpTrigger Op = "trigger"
)

// Command is one operator request against a single measurement, as carried on
// the MQTT command topic. The HTTP adapter builds the same value from the URL.
type Command struct {
	Op    Op              `json:"op"`
	Field string          `json:"field,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	// Kind selects the extrema pair of a reset: value or raw.
	Kind string `json:"kind,omitempty"`
}

func DecodeCommand(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	switch c.Op {
	case OpSet:
		if c.Field == "" || len(c.Value) == 0 {
			return c, fmt.Errorf("%w: set needs field and value", ErrInvalidCommand)
		}
	case OpReset, OpTrigger:
	default:
		return c, fmt.Errorf("%w: unknown op %q", ErrInvalidCommand, c.Op)
	}
	return c, nil
}

// Apply executes cmd. Writes that change how raw maps onto value queue a
// resample so the published value follows the new settings.
func (e *Engine) Apply(ctx context.Context, k calibration.Key, cmd Command) (calibration.Snapshot, error) {
	switch cmd.Op {
	case OpSet:
		return e.set(k, cmd.Field, cmd.Value)
	case OpReset:
		kind, err := calibration.ParseExtremaKind(cmd.Kind)
		if err != nil {
			return calibration.Snapshot{}, err
		}
		m, err := e.store.ResetExtrema(k, kind)
		return e.written(k, m, err)
	case OpTrigger:
		return e.Sample(ctx, k)
	}
	return calibration.Snapshot{}, fmt.Errorf("%w: unknown op %q", ErrInvalidCommand, cmd.Op)
}

func (e *Engine) set(k calibration.Key, name string, raw json.RawMessage) (calibration.Snapshot, error) {
	f, err := store.ParseField(name)
	if err != nil {
		return calibration.Snapshot{}, err
	}
	v, err := decodeValue(f, raw)
	if err != nil {
		return calibration.Snapshot{}, err
	}
	m, err := e.store.Set(k, f, v)
	if err != nil && !errors.Is(err, calibration.ErrPersistence) {
		return calibration.Snapshot{}, err
	}
	switch f {
	case store.FieldInterval:
		if serr := e.sched.Schedule(k, m.IntervalSeconds, func() { e.Trigger(k) }); serr != nil {
			log.Printf("engine: reschedule %s: %v", k, serr)
		}
	case store.FieldMinMax, store.FieldInverted, store.FieldCalibrationMode:
		if m.HasSample {
			e.Trigger(k)
		}
	}
	return e.written(k, m, err)
}

func (e *Engine) written(k calibration.Key, m calibration.Measurement, err error) (calibration.Snapshot, error) {
	if err != nil && !errors.Is(err, calibration.ErrPersistence) {
		return calibration.Snapshot{}, err
	}
	if err != nil {
		e.obs.PersistenceFault(k.String())
	}
	return m.Snapshot(), err
}

// decodeValue converts a JSON value into the Go type store.Set expects.
// Thresholds are accepted as an object or as four ascending numbers.
func decodeValue(f store.Field, raw json.RawMessage) (any, error) {
	var (
		v   any
		err error
	)
	switch f {
	case store.FieldName:
		var s string
		err = json.Unmarshal(raw, &s)
		v = s
	case store.FieldThresholds:
		if b := bytes.TrimSpace(raw); len(b) > 0 && b[0] == '[' {
			var a []float64
			if err = json.Unmarshal(b, &a); err == nil && len(a) != 4 {
				err = fmt.Errorf("want 4 values, got %d", len(a))
			}
			if err == nil {
				v = [4]float64(a)
			}
		} else {
			var t calibration.Thresholds
			err = json.Unmarshal(raw, &t)
			v = t
		}
	case store.FieldMinMax:
		var r calibration.Range
		err = json.Unmarshal(raw, &r)
		v = r
	case store.FieldInverted, store.FieldCalibrationMode:
		var b bool
		err = json.Unmarshal(raw, &b)
		v = b
	case store.FieldAutocalDuration, store.FieldInterval:
		var n int
		err = json.Unmarshal(raw, &n)
		v = n
	default:
		err = fmt.Errorf("field %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f, err)
	}
	return v, nil
}

// Code is a stable identifier of a failure class for replies.
type Code string

func (c Code) Error() string { return string(c) }

const (
	CodeOK                 Code = "ok"
	CodeInvalidThresholds  Code = "invalid_thresholds"
	CodeInvalidRange       Code = "invalid_range"
	CodeInvalidName        Code = "invalid_name"
	CodeInvalidInterval    Code = "invalid_interval"
	CodeInvalidDuration    Code = "invalid_duration"
	CodeInvalidExtrema     Code = "invalid_extrema"
	CodeInvalidKind        Code = "invalid_kind"
	CodeInvalidField       Code = "invalid_field"
	CodeInvalidValue       Code = "invalid_value"
	CodeInvalidCommand     Code = "invalid_command"
	CodeCalibrationActive  Code = "calibration_active"
	CodeUnknownMeasurement Code = "unknown_measurement"
	CodePersistence        Code = "persistence"
	CodeSampleFault        Code = "sample_fault"
	CodeError              Code = "error"
)

var codes = []struct {
	err  error
	code Code
}{
	{calibration.ErrInvalidThresholds, CodeInvalidThresholds},
	{calibration.ErrInvalidRange, CodeInvalidRange},
	{calibration.ErrInvalidName, CodeInvalidName},
	{calibration.ErrInvalidInterval, CodeInvalidInterval},
	{calibration.ErrInvalidDuration, CodeInvalidDuration},
	{calibration.ErrInvalidExtrema, CodeInvalidExtrema},
	{calibration.ErrInvalidKind, CodeInvalidKind},
	{store.ErrUnknownField, CodeInvalidField},
	{ErrInvalidValue, CodeInvalidValue},
	{ErrInvalidCommand, CodeInvalidCommand},
	{calibration.ErrCalibrationActive, CodeCalibrationActive},
	{calibration.ErrUnknownMeasurement, CodeUnknownMeasurement},
	{calibration.ErrPersistence, CodePersistence},
	{sensor.ErrSampleFault, CodeSampleFault},
}

// CodeOf maps err to its Code, defaulting to CodeError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	for _, e := range codes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeError
}

// Reply is the answer to a command. Measurement is set whenever the
// in-memory state is usable, including after a persistence fault.
type Reply struct {
	Success     bool                  `json:"success"`
	Code        Code                  `json:"code,omitempty"`
	Error       string                `json:"error,omitempty"`
	Measurement *calibration.Snapshot `json:"measurement,omitempty"`
}

func NewReply(s calibration.Snapshot, err error) Reply {
	r := Reply{Success: err == nil}
	if s.Key != "" {
		r.Measurement = &s
	}
	if err != nil {
		r.Code = CodeOf(err)
		r.Error = err.Error()
	}
	return r
}

// HandleCommand decodes and applies a raw command addressed to key and
// returns the encoded Reply.
func (e *Engine) HandleCommand(ctx context.Context, key string, payload []byte) []byte {
	var (
		snap calibration.Snapshot
		err  error
	)
	k, err := calibration.ParseKey(key)
	if err == nil {
		var cmd Command
		if cmd, err = DecodeCommand(payload); err == nil {
			snap, err = e.Apply(ctx, k, cmd)
		}
	}
	if err != nil {
		log.Printf("engine: command for %s: %v", key, err)
	}
	b, _ := json.Marshal(NewReply(snap, err))
	return b
}
