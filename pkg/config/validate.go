package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericogr/plant-autocal/pkg/calibration"
)

// Validate checks the parts of the config that would otherwise fail late,
// after hardware has been opened.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.SensorType) {
	case "real", "simulation":
	default:
		errs = append(errs, fmt.Errorf("sensor_type %q: want real or simulation", c.SensorType))
	}
	if _, err := calibration.ParsePolicy(c.AutocalPolicy); err != nil {
		errs = append(errs, err)
	}
	for _, o := range c.Outputs {
		switch strings.ToLower(o.Type) {
		case "console", "mqtt":
		default:
			errs = append(errs, fmt.Errorf("unknown output %q", o.Type))
		}
	}
	keys := make(map[calibration.Key]bool)
	for _, ch := range c.Channels {
		if !ch.Enabled {
			continue
		}
		m, err := ch.Measurement(0, calibration.PolicyContinuous, time.Time{})
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", ch.Channel, err))
			continue
		}
		if keys[m.Key] {
			errs = append(errs, fmt.Errorf("channel %d: duplicate measurement %s", ch.Channel, m.Key))
		}
		keys[m.Key] = true
	}
	return errors.Join(errs...)
}

// Key returns the measurement key of the channel. Without a sensor id the
// channel is published as ANALOG_<channel>.
func (ch ChannelConfig) Key() calibration.Key {
	id := ch.SensorID
	idx := ch.Index
	if id == "" {
		id = "ANALOG"
		idx = ch.Channel
	}
	return calibration.Key{SensorID: id, Index: idx}
}

// Measurement builds the provisioning defaults for the channel. adcMax is the
// sampler full scale and now anchors the warmup window.
func (ch ChannelConfig) Measurement(adcMax int, policy calibration.Policy, now time.Time) (calibration.Measurement, error) {
	kind, err := calibration.ParseKind(ch.Kind)
	if err != nil {
		return calibration.Measurement{}, err
	}
	m := calibration.Measurement{
		Key:                    ch.Key(),
		Name:                   strings.TrimSpace(ch.Name),
		Unit:                   ch.Unit,
		Kind:                   kind,
		Expression:             ch.Expression,
		ADCMax:                 adcMax,
		MinMax:                 calibration.Range{Min: ch.Min, Max: ch.Max},
		Inverted:               ch.Inverted,
		CalibrationMode:        ch.CalibrationMode,
		AutocalDurationSeconds: ch.AutocalDuration,
		Autocal:                calibration.AutoCal{Policy: policy},
		IntervalSeconds:        ch.IntervalSeconds,
	}
	if m.Name == "" {
		m.Name = m.Key.String()
	}
	if m.CalibrationMode && !kind.Remaps() {
		return m, fmt.Errorf("%w: %s does not autocalibrate", calibration.ErrInvalidKind, kind)
	}
	if m.Expression == "" && !kind.Remaps() {
		m.Expression = calibration.ScaleFromCalibration(ch.CalibrationScale, ch.CalibrationOffset)
	}
	if m.AutocalDurationSeconds < 0 {
		return m, fmt.Errorf("%w: %d", calibration.ErrInvalidDuration, m.AutocalDurationSeconds)
	}
	if m.AutocalDurationSeconds == 0 {
		m.AutocalDurationSeconds = calibration.DefaultAutocalDuration
	}
	if m.IntervalSeconds == 0 {
		m.IntervalSeconds = 60
	}
	if m.IntervalSeconds < calibration.MinIntervalSeconds || m.IntervalSeconds > calibration.MaxIntervalSeconds {
		return m, fmt.Errorf("%w: %ds", calibration.ErrInvalidInterval, m.IntervalSeconds)
	}
	if ch.Thresholds != nil {
		t := calibration.Thresholds{
			YellowLow:  ch.Thresholds.YellowLow,
			GreenLow:   ch.Thresholds.GreenLow,
			GreenHigh:  ch.Thresholds.GreenHigh,
			YellowHigh: ch.Thresholds.YellowHigh,
		}
		if err := t.Validate(); err != nil {
			return m, err
		}
		m.Thresholds = &t
	}
	if kind.Remaps() && (ch.Min != 0 || ch.Max != 0) {
		if err := calibration.ValidateRange(m.MinMax); err != nil {
			return m, err
		}
	}
	if ch.WarmupSeconds > 0 && !now.IsZero() {
		m.WarmupUntil = now.Add(time.Duration(ch.WarmupSeconds) * time.Second)
	}
	if err := m.Compile(); err != nil {
		return m, err
	}
	return m, nil
}
