package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ericogr/plant-autocal/pkg/calibration"
	"github.com/ericogr/plant-autocal/pkg/sensor"
	"github.com/ericogr/plant-autocal/pkg/store"
)

// Observer is told about every sample outcome. Implementations must not block.
type Observer interface {
	Observe(calibration.Snapshot)
	SampleFault(key string)
	PersistenceFault(key string)
}

type nopObserver struct{}

func (nopObserver) Observe(calibration.Snapshot) {}
func (nopObserver) SampleFault(string)           {}
func (nopObserver) PersistenceFault(string)      {}

type Options struct {
	// ReadTimeout bounds a single sampler read. Zero means one second.
	ReadTimeout time.Duration
	Now         func() time.Time
	Observer    Observer
}

// Engine runs the sample cycle: sampler, autocal, mapping, extrema and
// classification, with results written through the store.
type Engine struct {
	store   *store.Store
	sampler sensor.Sampler
	timeout time.Duration
	now     func() time.Time
	obs     Observer
	sched   *scheduler

	mu       sync.Mutex
	channels map[calibration.Key]int
	pending  map[calibration.Key]bool
	wake     chan struct{}
}

func New(st *store.Store, sampler sensor.Sampler, opts Options) *Engine {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Engine{
		store:    st,
		sampler:  sampler,
		timeout:  opts.ReadTimeout,
		now:      opts.Now,
		obs:      opts.Observer,
		sched:    newScheduler(),
		channels: make(map[calibration.Key]int),
		pending:  make(map[calibration.Key]bool),
		wake:     make(chan struct{}, 1),
	}
}

// Register binds a provisioned measurement to a sampler channel and schedules it.
func (e *Engine) Register(k calibration.Key, channel int) error {
	m, err := e.store.Get(k)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if _, ok := e.channels[k]; ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: %s already registered", k)
	}
	e.channels[k] = channel
	e.mu.Unlock()
	return e.sched.Schedule(k, m.IntervalSeconds, func() { e.Trigger(k) })
}

func (e *Engine) channel(k calibration.Key) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[k]
	if !ok {
		return 0, fmt.Errorf("%w: %s", calibration.ErrUnknownMeasurement, k)
	}
	return ch, nil
}

// Sample reads one raw value and runs it through the cycle. A sampler fault is
// recorded as status error and is not returned. A persistence fault is returned
// together with the updated snapshot.
//
// The read is bounded by the engine timeout only. Cancelling ctx does not abort
// a conversion in flight, so a caller going away is never recorded as a fault.
func (e *Engine) Sample(ctx context.Context, k calibration.Key) (calibration.Snapshot, error) {
	ch, err := e.channel(k)
	if err != nil {
		return calibration.Snapshot{}, err
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	raw, serr := e.sampler.Sample(sctx, ch)
	cancel()

	now := e.now()
	var m calibration.Measurement
	if serr != nil {
		log.Printf("engine: %s: %v", k, serr)
		e.obs.SampleFault(k.String())
		m, err = e.store.Record(k, func(m *calibration.Measurement) calibration.Change {
			m.RecordFault()
			return calibration.Change{}
		})
	} else {
		m, err = e.store.Record(k, func(m *calibration.Measurement) calibration.Change {
			return m.Record(raw, now)
		})
	}
	if err != nil && !errors.Is(err, calibration.ErrPersistence) {
		return calibration.Snapshot{}, err
	}
	if err != nil {
		e.obs.PersistenceFault(k.String())
	}
	snap := m.Snapshot()
	e.obs.Observe(snap)
	return snap, err
}

// Trigger queues an out-of-cycle sample. Requests for a measurement that is
// already pending collapse into one.
func (e *Engine) Trigger(k calibration.Key) error {
	e.mu.Lock()
	if _, ok := e.channels[k]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", calibration.ErrUnknownMeasurement, k)
	}
	e.pending[k] = true
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

func (e *Engine) drain() []calibration.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]calibration.Key, 0, len(e.pending))
	for k := range e.pending {
		keys = append(keys, k)
	}
	clear(e.pending)
	return keys
}

// Run samples every registered measurement once, then follows the schedule
// and triggers until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	for k := range e.channels {
		e.pending[k] = true
	}
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}

	e.sched.Start()
	defer e.sched.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.wake:
			for _, k := range e.drain() {
				if ctx.Err() != nil {
					return nil
				}
				if _, err := e.Sample(ctx, k); err != nil {
					log.Printf("engine: sample %s: %v", k, err)
				}
			}
		}
	}
}

func (e *Engine) Snapshot(k calibration.Key) (calibration.Snapshot, error) {
	m, err := e.store.Get(k)
	if err != nil {
		return calibration.Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// Snapshots returns every measurement ordered by key.
func (e *Engine) Snapshots() []calibration.Snapshot {
	keys := e.store.Keys()
	out := make([]calibration.Snapshot, 0, len(keys))
	for _, k := range keys {
		if s, err := e.Snapshot(k); err == nil {
			out = append(out, s)
		}
	}
	return out
}
