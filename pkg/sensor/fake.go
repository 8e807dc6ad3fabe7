package sensor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/ericogr/plant-autocal/pkg/config"
)

// FakeSensor simulates the ADS1115 with a slow random walk per channel.
type FakeSensor struct {
	channels map[int]bool
	ranges   map[int][2]int
	last     map[int]int
	rnd      *rand.Rand
	mu       sync.Mutex
}

func NewFakeSensor(cfg config.Config) (Sampler, error) {
	chans, ranges, _ := buildChannelSettings(cfg)
	f := &FakeSensor{
		channels: make(map[int]bool, len(chans)),
		ranges:   ranges,
		last:     make(map[int]int),
		rnd:      rand.New(rand.NewSource(int64(len(chans)) + 1)),
	}
	for _, ch := range chans {
		f.channels[ch] = true
	}
	return f, nil
}

func (f *FakeSensor) Sample(ctx context.Context, channel int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSampleFault, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.channels[channel] {
		return 0, fmt.Errorf("%w: channel %d not enabled", ErrSampleFault, channel)
	}
	lo, hi := 0, f.FullScale()
	if r, ok := f.ranges[channel]; ok {
		lo, hi = r[0], r[1]
	}
	v, ok := f.last[channel]
	if !ok {
		v = lo + f.rnd.Intn(hi-lo+1)
	}
	// drift a little past the configured range now and then so autocal has work to do
	span := (hi - lo) / 20
	if span < 1 {
		span = 1
	}
	v += f.rnd.Intn(2*span+1) - span
	if v < lo-span {
		v = lo - span
	}
	if v > hi+span {
		v = hi + span
	}
	if v < 0 {
		v = 0
	}
	if v > f.FullScale() {
		v = f.FullScale()
	}
	f.last[channel] = v
	return v, nil
}

func (f *FakeSensor) FullScale() int { return ads1115FullScale }

func (f *FakeSensor) Close() error { return nil }

// ScriptedSampler replays fixed raw values per channel. A negative value in the
// script produces a sample fault. Once a script is exhausted its last value repeats.
type ScriptedSampler struct {
	mu      sync.Mutex
	scripts map[int][]int
	pos     map[int]int
	Scale   int
}

func NewScriptedSampler(scripts map[int][]int) *ScriptedSampler {
	return &ScriptedSampler{scripts: scripts, pos: make(map[int]int), Scale: 1023}
}

func (s *ScriptedSampler) Sample(ctx context.Context, channel int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSampleFault, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	script := s.scripts[channel]
	if len(script) == 0 {
		return 0, fmt.Errorf("%w: channel %d has no script", ErrSampleFault, channel)
	}
	i := s.pos[channel]
	if i >= len(script) {
		i = len(script) - 1
	} else {
		s.pos[channel] = i + 1
	}
	if script[i] < 0 {
		return 0, fmt.Errorf("%w: channel %d scripted failure", ErrSampleFault, channel)
	}
	return script[i], nil
}

// Push appends values to a channel script.
func (s *ScriptedSampler) Push(channel int, values ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[channel] = append(s.scripts[channel], values...)
}

func (s *ScriptedSampler) FullScale() int { return s.Scale }

func (s *ScriptedSampler) Close() error { return nil }
