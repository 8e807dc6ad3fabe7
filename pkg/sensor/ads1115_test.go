package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ericogr/plant-autocal/pkg/config"
)

func TestConfigForChannelBytes(t *testing.T) {
	s := &ADS1115Sensor{}

	// channel 0, sample rate 128 -> expect msb 0xC3 lsb 0x83 (see implementation)
	msb, lsb, err := s.configForChannel(0, 128)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msb != 0xC3 || lsb != 0x83 {
		t.Fatalf("channel0@128 => got %02X %02X; want C3 83", msb, lsb)
	}

	// channel 1, sample rate 128 -> D3 83
	msb, lsb, err = s.configForChannel(1, 128)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msb != 0xD3 || lsb != 0x83 {
		t.Fatalf("channel1@128 => got %02X %02X; want D3 83", msb, lsb)
	}

	// sample rate 8 for channel 0 -> msb C3 lsb 03 (dr=0)
	msb, lsb, err = s.configForChannel(0, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msb != 0xC3 || lsb != 0x03 {
		t.Fatalf("channel0@8 => got %02X %02X; want C3 03", msb, lsb)
	}

	// invalid channel
	_, _, err = s.configForChannel(9, 128)
	if err == nil {
		t.Fatalf("expected error for invalid channel")
	}
}

func TestConversionDelay(t *testing.T) {
	tests := []struct {
		rate int
		want time.Duration
	}{
		{128, 10 * time.Millisecond},
		{250, 6 * time.Millisecond},
		{860, 4 * time.Millisecond},
		{8, 127 * time.Millisecond},
		{0, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := conversionDelay(tt.rate); got != tt.want {
			t.Fatalf("rate %d: got %v want %v", tt.rate, got, tt.want)
		}
	}
}

func TestScriptedSampler(t *testing.T) {
	s := NewScriptedSampler(map[int][]int{0: {10, -1, 30}})
	ctx := context.Background()
	if v, err := s.Sample(ctx, 0); err != nil || v != 10 {
		t.Fatalf("first: %d %v", v, err)
	}
	if _, err := s.Sample(ctx, 0); !errors.Is(err, ErrSampleFault) {
		t.Fatalf("scripted failure: %v", err)
	}
	for i := 0; i < 2; i++ {
		if v, err := s.Sample(ctx, 0); err != nil || v != 30 {
			t.Fatalf("repeat %d: %d %v", i, v, err)
		}
	}
	if _, err := s.Sample(ctx, 3); !errors.Is(err, ErrSampleFault) {
		t.Fatalf("unknown channel: %v", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Sample(cctx, 0); !errors.Is(err, ErrSampleFault) {
		t.Fatalf("cancelled: %v", err)
	}
}

func TestFakeSensorStaysNearRange(t *testing.T) {
	cfg := config.Config{Channels: []config.ChannelConfig{
		{Channel: 0, Enabled: true, Min: 200, Max: 800},
		{Channel: 1, Enabled: false},
	}}
	s, err := NewFakeSensor(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 500; i++ {
		v, err := s.Sample(context.Background(), 0)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if v < 170 || v > 830 {
			t.Fatalf("sample %d out of drift bounds: %d", i, v)
		}
	}
	if _, err := s.Sample(context.Background(), 1); !errors.Is(err, ErrSampleFault) {
		t.Fatalf("disabled channel must fault: %v", err)
	}
}
