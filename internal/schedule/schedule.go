// Package schedule evaluates periodic sync schedules: it decides which
// scope/kind pairs are due and asks the dispatcher to start them.
package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/store"
)

// Frequency is how often a schedule fires.
type Frequency string

const (
	Hourly      Frequency = "hourly"
	SixHours    Frequency = "six_hours"
	TwelveHours Frequency = "twelve_hours"
	Daily       Frequency = "daily"
	Weekly      Frequency = "weekly"
)

// ParseFrequency validates s.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(s)
	if f.Interval() == 0 {
		return "", fmt.Errorf("unknown frequency %q", s)
	}
	return f, nil
}

// Interval is the period of f, or 0 when f is not a known frequency.
func (f Frequency) Interval() time.Duration {
	switch f {
	case Hourly:
		return time.Hour
	case SixHours:
		return 6 * time.Hour
	case TwelveHours:
		return 12 * time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Next is the run after last.
func (f Frequency) Next(last time.Time) time.Time {
	return last.Add(f.Interval())
}

// Store is the schedule state the Scheduler reads and advances.
type Store interface {
	DueSchedules(ctx context.Context, now time.Time) ([]store.Schedule, error)
	MarkScheduleRun(ctx context.Context, scope string, kind catalog.Kind, ran, next time.Time) error
}

// TriggerFunc starts a sync for scope/kind. It should enqueue and return;
// an error (including "already running") is logged and the schedule still
// advances.
type TriggerFunc func(ctx context.Context, scope string, kind catalog.Kind) error

// Scheduler polls for due schedules every Interval.
type Scheduler struct {
	Store    Store
	Trigger  TriggerFunc
	Interval time.Duration
	Now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// DefaultInterval is the poll interval used when none is given.
const DefaultInterval = time.Minute

// New returns a Scheduler polling every interval. Zero or negative means
// DefaultInterval; anything else under one second is raised to one second.
func New(st Store, trigger TriggerFunc, interval time.Duration) *Scheduler {
	switch {
	case interval <= 0:
		interval = DefaultInterval
	case interval < time.Second:
		interval = time.Second
	}
	return &Scheduler{Store: st, Trigger: trigger, Interval: interval, Now: time.Now}
}

// Start runs the poll loop until ctx is done or Stop is called. The first
// check happens immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.wg.Add(1)
	go s.loop(ctx)
	log.Printf("[schedule] started (interval %s)", s.Interval)
}

// Stop ends the poll loop and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
	log.Printf("[schedule] stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[schedule] check failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Tick triggers every due schedule once and advances it. It returns how many
// triggers were accepted.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.Store.DueSchedules(ctx, now)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, sc := range due {
		freq, err := ParseFrequency(sc.Frequency)
		if err != nil {
			log.Printf("[schedule] %s/%s: %v; skipping", scopeLabel(sc.Scope), sc.Kind, err)
			continue
		}
		if err := s.Trigger(ctx, sc.Scope, sc.Kind); err != nil {
			log.Printf("[schedule] %s/%s not started: %v", scopeLabel(sc.Scope), sc.Kind, err)
		} else {
			started++
			log.Printf("[schedule] %s/%s triggered", scopeLabel(sc.Scope), sc.Kind)
		}
		if err := s.Store.MarkScheduleRun(ctx, sc.Scope, sc.Kind, now, freq.Next(now)); err != nil {
			return started, err
		}
	}
	return started, nil
}

func scopeLabel(scope string) string {
	if scope == "" {
		return "default"
	}
	return scope
}
