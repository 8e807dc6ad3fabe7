package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ericogr/plant-autocal/pkg/config"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01

	ads1115FullScale = 32767
)

type ADS1115Sensor struct {
	dev         *i2c.Dev
	bus         i2c.BusCloser
	sampleRate  int
	sampleRates map[int]int
	mu          sync.Mutex
}

func NewADS1115Sensor(cfg config.Config) (Sampler, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	dev := &i2c.Dev{Addr: uint16(cfg.I2C.Address), Bus: bus}
	_, _, rates := buildChannelSettings(cfg)
	return &ADS1115Sensor{dev: dev, bus: bus, sampleRate: cfg.SampleRate, sampleRates: rates}, nil
}

func (s *ADS1115Sensor) Close() error {
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

func (s *ADS1115Sensor) FullScale() int { return ads1115FullScale }

// Sample runs a single-shot conversion. A read that outlives ctx is reported as
// a fault; the conversion itself is left to finish in the background.
func (s *ADS1115Sensor) Sample(ctx context.Context, channel int) (int, error) {
	type result struct {
		raw int
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := s.read(channel)
		done <- result{raw, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return 0, fmt.Errorf("%w: channel %d: %v", ErrSampleFault, channel, r.err)
		}
		return r.raw, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: channel %d: %v", ErrSampleFault, channel, ctx.Err())
	}
}

func (s *ADS1115Sensor) read(channel int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := s.sampleRate
	if r, ok := s.sampleRates[channel]; ok {
		rate = r
	}
	msb, lsb, err := s.configForChannel(channel, rate)
	if err != nil {
		return 0, err
	}
	// write config
	if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	// wait for conversion
	time.Sleep(conversionDelay(rate))
	readBuf := make([]byte, 2)
	if err := s.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("read conv: %w", err)
	}
	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	return int(raw), nil
}

// conversionDelay is one conversion period rounded up plus 2ms of settling.
func conversionDelay(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = 128
	}
	ms := (1000 + sampleRate - 1) / sampleRate
	return time.Duration(ms+2) * time.Millisecond
}

func (s *ADS1115Sensor) configForChannel(channel, sampleRate int) (byte, byte, error) {
	var mux byte
	switch channel {
	case 0:
		mux = 0x4
	case 1:
		mux = 0x5
	case 2:
		mux = 0x6
	case 3:
		mux = 0x7
	default:
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	// PGA: use ±4.096V -> bits 001
	pga := byte(0x1)
	// data rate bits
	var dr byte
	switch sampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	var config uint16 = 0x8000 // OS = 1 (start single conversion)
	config |= uint16(mux) << 12
	config |= uint16(pga) << 9
	config |= 1 << 8 // single-shot mode
	config |= uint16(dr) << 5
	// comparator default: disabled (bits 1:0 = 11)
	config |= 0x3
	return byte(config >> 8), byte(config & 0xFF), nil
}
