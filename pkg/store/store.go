package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ericogr/plant-autocal/pkg/calibration"
)

// Field names one persisted attribute of a measurement.
type Field string

const (
	FieldName            Field = "name"
	FieldThresholds      Field = "thresholds"
	FieldMinMax          Field = "minmax"
	FieldInverted        Field = "inverted"
	FieldCalibrationMode Field = "calibrationMode"
	FieldAutocalDuration Field = "autocalDuration"
	FieldInterval        Field = "interval"

	fieldAbsolute       Field = "absolute"
	fieldAbsoluteRaw    Field = "absoluteRaw"
	fieldAutocalStarted Field = "autocalStarted"
	fieldProvisioned    Field = "provisioned"
)

// persisted is the load order on boot. The provisioned marker is written after these.
var persisted = []Field{
	FieldName, FieldThresholds, FieldMinMax, FieldInverted, FieldCalibrationMode,
	FieldAutocalDuration, FieldInterval, fieldAbsolute, fieldAbsoluteRaw, fieldAutocalStarted,
}

var ErrUnknownField = errors.New("unknown field")

// ParseField accepts the operator facing field names.
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldName, FieldThresholds, FieldMinMax, FieldInverted, FieldCalibrationMode, FieldAutocalDuration, FieldInterval:
		return f, nil
	case "intervalSeconds", "measurementInterval":
		return FieldInterval, nil
	case "autocalDurationSeconds":
		return FieldAutocalDuration, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
}

type entry struct {
	mu sync.Mutex
	m  calibration.Measurement
}

// Store owns the persisted fields of every measurement. Each measurement has
// its own lock, so sampling and operator writes to it are serialized.
type Store struct {
	kv  KV
	now func() time.Time

	mu      sync.RWMutex
	entries map[calibration.Key]*entry
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(kv KV, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now, entries: make(map[calibration.Key]*entry)}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Close() error { return s.kv.Close() }

// Provision registers a measurement. On first boot the defaults in m are written
// out; afterwards the persisted fields replace them. A persistence error leaves
// the measurement registered.
func (s *Store) Provision(m calibration.Measurement) (calibration.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[m.Key]; ok {
		return m, fmt.Errorf("store: duplicate measurement %s", m.Key)
	}

	_, provisioned, err := s.kv.Get(fieldKey(m.Key, fieldProvisioned))
	if err != nil {
		return m, fmt.Errorf("store: read %s: %w: %w", m.Key, calibration.ErrPersistence, err)
	}
	if provisioned {
		s.load(&m)
	}
	if err := m.Compile(); err != nil {
		return m, fmt.Errorf("store: %s: %w", m.Key, err)
	}
	m.Reclassify(s.now())
	s.entries[m.Key] = &entry{m: m}

	var perr error
	if !provisioned {
		perr = s.persist(&m, persisted...)
		if perr == nil {
			perr = s.put(m.Key, fieldProvisioned, true)
		}
		log.Printf("store: provisioned %s with defaults", m.Key)
	}
	return clone(m), perr
}

func (s *Store) load(m *calibration.Measurement) {
	for _, f := range persisted {
		b, ok, err := s.kv.Get(fieldKey(m.Key, f))
		if err != nil || !ok {
			if err != nil {
				log.Printf("store: read %s: %v", fieldKey(m.Key, f), err)
			}
			continue
		}
		if err := decodeField(m, f, b); err != nil {
			log.Printf("store: decode %s: %v, keeping default", fieldKey(m.Key, f), err)
		}
	}
}

func decodeField(m *calibration.Measurement, f Field, b []byte) error {
	switch f {
	case FieldName:
		return json.Unmarshal(b, &m.Name)
	case FieldThresholds:
		var t *calibration.Thresholds
		if err := json.Unmarshal(b, &t); err != nil {
			return err
		}
		if t != nil {
			if err := t.Validate(); err != nil {
				return err
			}
		}
		m.Thresholds = t
	case FieldMinMax:
		return json.Unmarshal(b, &m.MinMax)
	case FieldInverted:
		return json.Unmarshal(b, &m.Inverted)
	case FieldCalibrationMode:
		return json.Unmarshal(b, &m.CalibrationMode)
	case FieldAutocalDuration:
		return json.Unmarshal(b, &m.AutocalDurationSeconds)
	case FieldInterval:
		return json.Unmarshal(b, &m.IntervalSeconds)
	case fieldAbsolute:
		return json.Unmarshal(b, &m.Extrema.Value)
	case fieldAbsoluteRaw:
		return json.Unmarshal(b, &m.Extrema.Raw)
	case fieldAutocalStarted:
		return json.Unmarshal(b, &m.Autocal.Started)
	}
	return nil
}

func fieldValue(m *calibration.Measurement, f Field) any {
	switch f {
	case FieldName:
		return m.Name
	case FieldThresholds:
		return m.Thresholds
	case FieldMinMax:
		return m.MinMax
	case FieldInverted:
		return m.Inverted
	case FieldCalibrationMode:
		return m.CalibrationMode
	case FieldAutocalDuration:
		return m.AutocalDurationSeconds
	case FieldInterval:
		return m.IntervalSeconds
	case fieldAbsolute:
		return m.Extrema.Value
	case fieldAbsoluteRaw:
		return m.Extrema.Raw
	case fieldAutocalStarted:
		return m.Autocal.Started
	}
	return nil
}

func fieldKey(k calibration.Key, f Field) string {
	return k.String() + "/" + string(f)
}

// persist writes each field with its own Put. Failures are logged and joined;
// the in-memory state is never rolled back.
func (s *Store) persist(m *calibration.Measurement, fields ...Field) error {
	var errs []error
	for _, f := range fields {
		if err := s.put(m.Key, f, fieldValue(m, f)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) put(k calibration.Key, f Field, v any) error {
	b, err := json.Marshal(v)
	if err == nil {
		err = s.kv.Put(fieldKey(k, f), b)
	}
	if err != nil {
		log.Printf("store: write %s failed: %v", fieldKey(k, f), err)
		return fmt.Errorf("store: write %s: %w: %w", fieldKey(k, f), calibration.ErrPersistence, err)
	}
	return nil
}

func (s *Store) entry(k calibration.Key) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", calibration.ErrUnknownMeasurement, k)
	}
	return e, nil
}

// Get returns a copy of the measurement.
func (s *Store) Get(k calibration.Key) (calibration.Measurement, error) {
	e, err := s.entry(k)
	if err != nil {
		return calibration.Measurement{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.m), nil
}

// Keys lists registered measurements ordered by their string form.
func (s *Store) Keys() []calibration.Key {
	s.mu.RLock()
	keys := make([]calibration.Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// update runs fn under the measurement lock and persists the fields it names.
// fn must validate before mutating so a rejected write leaves m untouched.
func (s *Store) update(k calibration.Key, fn func(m *calibration.Measurement) ([]Field, error)) (calibration.Measurement, error) {
	e, err := s.entry(k)
	if err != nil {
		return calibration.Measurement{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fields, err := fn(&e.m)
	if err != nil {
		return clone(e.m), err
	}
	return clone(e.m), s.persist(&e.m, fields...)
}

func (s *Store) SetName(k calibration.Key, name string) (calibration.Measurement, error) {
	name = strings.TrimSpace(name)
	return s.update(k, func(m *calibration.Measurement) ([]Field, error) {
		if name == "" {
			return nil, fmt.Errorf("%w: empty", calibration.ErrInvalidName)
		}
		m.Name = name
		return []Field{FieldName}, nil
	})
}

func (s *Store) SetThresholds(k calibration.Key, t calibration.Thresholds) (calibration.Measurement, error) {
	return s.update(k, func(m *calibration.Measurement) ([]Field, error) {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		m.Thresholds = &t
		m.Reclassify(s.now())
		return []Field{FieldThresholds}, nil
	})
}

// SetRange writes the manual range. It is refused while autocal owns the range.
func (s *Store) SetRange(k calibration.Key, r calibration.Range) (calibration.Measurement, error) {
	return s.update(k, func(m *calibration.Measurement) ([]Field, error) {
		if m.CalibrationMode {
			return nil, fmt.Errorf("%w: disable calibration mode before setting minmax", calibration.ErrCalibrationActive)
		}
		if err := calibration.ValidateRange(r); err != nil {
			return nil, err
		}
		m.MinMax = r
		return []Field{FieldMinMax}, nil
	})
}

func (s *Store) SetInverted(k calibration.Key, inverted bool) (calibration.Measurement, error) {
	return s.update(k, func(m *calibration.Measurement) ([]Field, error) {
		m.Inverted = inverted
		return []Field{FieldInverted}, nil
	})
}

func (s *Store) SetCalibrationMode(k calibration.Key, enabled bool) (calibration.Measurement, error) {
	return s.update(k, func(m *calibration.Measurement) ([]Field, error) {
		if m.CalibrationMode == enabled {
			return nil, nil
		}
		if enabled && !m.Kind.Remaps() {
			return nil, fmt.Errorf("%w: %s does not autocalibrate", calibration.ErrInvalidKind, m.Kind)
		}
		rangeChanged, rawSeeded := m.SetCalibrationMode(enabled, s.now())
		fields := []Field{FieldCalibrationMode, fieldAutocalStarted}
		if rangeChanged || !enabled {
			fields = append(fields, FieldMinMax)
		}
		if rawSeeded {
			fields = append(fields, fieldAbsoluteRaw)
		}
		if enabled {
			log.Printf("store: %s autocal enabled, seed %d..%d", m.Key, m.MinMax.Min, m.MinMax.Max)
		} else {
			log.Printf("store: %s autocal disabled, manual range %d..%d", m.Key, m.MinMax.Min, m.MinMax.Max)
		}
		return fields, nil
	})
}

// SetAutocalDuration stores the autocal window. Zero restores the default.
func (s *Store) SetAutocalDuration(k calibration.Key, seconds int) (calibration.Measurement, error) {
	return s.update(k, func(m *calibration.Measurement) ([]Field, error) {
		if seconds < 0 {
			return nil, fmt.Errorf("%w: %d", calibration.ErrInvalidDuration, seconds)
		}
		if seconds == 0 {
			seconds = calibration.DefaultAutocalDuration
		}
		m.AutocalDurationSeconds = seconds
		return []Field{FieldAutocalDuration}, nil
	})
}

func (s *Store) SetInterval(k calibration.Key, seconds int) (calibration.Measurement, error) {
	return s.update(k, func(m *calibration.Measurement) ([]Field, error) {
		if seconds < calibration.MinIntervalSeconds || seconds > calibration.MaxIntervalSeconds {
			return nil, fmt.Errorf("%w: %ds not in %d..%d", calibration.ErrInvalidInterval,
				seconds, calibration.MinIntervalSeconds, calibration.MaxIntervalSeconds)
		}
		m.IntervalSeconds = seconds
		return []Field{FieldInterval}, nil
	})
}

// Set dispatches a single field write. value must have the field's Go type:
// string, calibration.Thresholds or [4]float64, calibration.Range, bool or int.
func (s *Store) Set(k calibration.Key, f Field, value any) (calibration.Measurement, error) {
	bad := func() (calibration.Measurement, error) {
		return calibration.Measurement{}, fmt.Errorf("store: %s does not accept %T", f, value)
	}
	switch f {
	case FieldName:
		v, ok := value.(string)
		if !ok {
			return bad()
		}
		return s.SetName(k, v)
	case FieldThresholds:
		switch v := value.(type) {
		case calibration.Thresholds:
			return s.SetThresholds(k, v)
		case [4]float64:
			return s.SetThresholds(k, calibration.ThresholdsFrom(v))
		}
		return bad()
	case FieldMinMax:
		v, ok := value.(calibration.Range)
		if !ok {
			return bad()
		}
		return s.SetRange(k, v)
	case FieldInverted:
		v, ok := value.(bool)
		if !ok {
			return bad()
		}
		return s.SetInverted(k, v)
	case FieldCalibrationMode:
		v, ok := value.(bool)
		if !ok {
			return bad()
		}
		return s.SetCalibrationMode(k, v)
	case FieldAutocalDuration:
		v, ok := value.(int)
		if !ok {
			return bad()
		}
		return s.SetAutocalDuration(k, v)
	case FieldInterval:
		v, ok := value.(int)
		if !ok {
			return bad()
		}
		return s.SetInterval(k, v)
	}
	return calibration.Measurement{}, fmt.Errorf("%w: %q", ErrUnknownField, f)
}

// ResetExtrema returns one extrema pair to never observed.
func (s *Store) ResetExtrema(k calibration.Key, kind calibration.ExtremaKind) (calibration.Measurement, error) {
	return s.update(k, func(m *calibration.Measurement) ([]Field, error) {
		if err := m.Extrema.Reset(kind); err != nil {
			return nil, err
		}
		if kind == calibration.ExtremaRaw {
			return []Field{fieldAbsoluteRaw}, nil
		}
		return []Field{fieldAbsolute}, nil
	})
}

// Record applies a sample update under the measurement lock and persists the
// fields the update reports as changed.
func (s *Store) Record(k calibration.Key, fn func(m *calibration.Measurement) calibration.Change) (calibration.Measurement, error) {
	return s.update(k, func(m *calibration.Measurement) ([]Field, error) {
		c := fn(m)
		var fields []Field
		if c.MinMax {
			fields = append(fields, FieldMinMax)
		}
		if c.Extrema {
			fields = append(fields, fieldAbsolute)
		}
		if c.RawExtrema {
			fields = append(fields, fieldAbsoluteRaw)
		}
		return fields, nil
	})
}

func clone(m calibration.Measurement) calibration.Measurement {
	if m.Thresholds != nil {
		t := *m.Thresholds
		m.Thresholds = &t
	}
	return m
}
