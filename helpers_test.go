package atom

import (
	"sync"
	"time"
)

// manualScheduler collects deferred tasks for explicit flushing, standing
// in for the default goroutine-based scheduling.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

func (s *manualScheduler) schedule(fn func()) {
	s.mu.Lock()
	s.tasks = append(s.tasks, fn)
	s.mu.Unlock()
}

func (s *manualScheduler) flush() {
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.tasks[0]
		s.tasks = s.tasks[1:]
		s.mu.Unlock()
		fn()
	}
}

// fakeClock drives Now and AfterFunc deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		t.stopped = true
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	deadline := c.now
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.at.After(deadline) {
				continue
			}
			if due == nil || t.at.Before(due.at) {
				due = t
			}
		}
		if due == nil {
			c.mu.Unlock()
			return
		}
		due.stopped = true
		c.mu.Unlock()
		due.fn()
	}
}

// newTestRegistry wires a registry to a manual scheduler and fake clock.
func newTestRegistry(opts ...Option) (*Registry, *manualScheduler, *fakeClock) {
	sched := &manualScheduler{}
	clock := newFakeClock()
	base := []Option{
		WithScheduleTask(sched.schedule),
		WithNow(clock.Now),
		WithAfterFunc(clock.AfterFunc),
	}
	r := New(append(base, opts...)...)
	return r, sched, clock
}
