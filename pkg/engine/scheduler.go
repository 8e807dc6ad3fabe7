package engine

import (
	"fmt"
	"sync"

	"github.com/ericogr/plant-autocal/pkg/calibration"
	"github.com/robfig/cron/v3"
)

// scheduler keeps one cron entry per measurement.
type scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[calibration.Key]cron.EntryID
}

func newScheduler() *scheduler {
	return &scheduler{cron: cron.New(), entries: make(map[calibration.Key]cron.EntryID)}
}

// Schedule replaces any existing entry for k.
func (s *scheduler) Schedule(k calibration.Key, seconds int, fn func()) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: %ds", calibration.ErrInvalidInterval, seconds)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[k]; ok {
		s.cron.Remove(id)
		delete(s.entries, k)
	}
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", seconds), fn)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", k, err)
	}
	s.entries[k] = id
	return nil
}

// Entry returns the cron entry of k, or the zero Entry when k is unscheduled.
func (s *scheduler) Entry(k calibration.Key) cron.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron.Entry(s.entries[k])
}

func (s *scheduler) Start() { s.cron.Start() }

func (s *scheduler) Stop() { <-s.cron.Stop().Done() }
