// Package scheduler arbitrates background agent work against foreground
// (user-initiated) activity. Grounded on the cancellation-context idiom of
// the teacher's internal/agent/engine.go (context-based cooperative
// cancellation, bounded goroutine fan-out) and reimplements the
// BackgroundScheduler/Schedule contract from
// original_source/penny/penny/scheduler/base.py for a single-threaded
// event-loop language in idiomatic Go: one tick goroutine, an atomic
// foreground counter, and a context.CancelFunc for the active background
// task in place of asyncio.Task.cancel().
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Agent is a background unit of work. Execute returns whether it did work;
// ctx is cancelled cooperatively when foreground work preempts it.
type Agent interface {
	Name() string
	Execute(ctx context.Context) (bool, error)
}

// Schedule wraps an Agent with an eligibility policy.
type Schedule interface {
	Agent() Agent
	ShouldRun(isIdle bool) bool
	MarkComplete()
}

// Scheduler walks an ordered list of schedules once per tick, running at
// most one background task at a time and preempting it when foreground
// work starts (spec.md §4.1).
type Scheduler struct {
	schedules     []Schedule
	tickInterval  time.Duration
	idleThreshold time.Duration
	log           zerolog.Logger

	mu              sync.Mutex
	lastMessageTime time.Time
	activeCancel    context.CancelFunc
	foregroundCount int32

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Scheduler over the given schedules, in priority order.
func New(schedules []Schedule, tickInterval, idleThreshold time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		schedules:       schedules,
		tickInterval:    tickInterval,
		idleThreshold:   idleThreshold,
		log:             log,
		lastMessageTime: time.Now(),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// NotifyMessage records that a message was just seen, resetting the idle
// clock (spec.md §4.1 step 2).
func (s *Scheduler) NotifyMessage() {
	s.mu.Lock()
	s.lastMessageTime = time.Now()
	s.mu.Unlock()
}

// NotifyForegroundStart brackets the start of foreground work. Nested calls
// are safe: the counter only releases background work when it returns to
// zero (spec.md §5). If a background task is currently running, it is
// cancelled.
func (s *Scheduler) NotifyForegroundStart() {
	atomic.AddInt32(&s.foregroundCount, 1)
	s.NotifyMessage()

	s.mu.Lock()
	cancel := s.activeCancel
	s.activeCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// NotifyForegroundEnd releases one foreground bracket.
func (s *Scheduler) NotifyForegroundEnd() {
	atomic.AddInt32(&s.foregroundCount, -1)
}

func (s *Scheduler) foregroundActive() bool {
	return atomic.LoadInt32(&s.foregroundCount) > 0
}

func (s *Scheduler) isIdle() bool {
	s.mu.Lock()
	last := s.lastMessageTime
	s.mu.Unlock()
	return time.Since(last) >= s.idleThreshold
}

// Run is the scheduler's main loop. It returns only after Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop ends the main loop and waits for it to return.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// tick walks the schedules once, running at most one agent (spec.md §4.1
// step 3).
func (s *Scheduler) tick(ctx context.Context) {
	if s.foregroundActive() {
		return
	}

	idle := s.isIdle()

	for _, sched := range s.schedules {
		if s.foregroundActive() {
			return
		}
		if !sched.ShouldRun(idle) {
			continue
		}

		did := s.runOne(ctx, sched)
		sched.MarkComplete()

		if did {
			return
		}
	}
}

// runOne launches one agent as a cancellable background task and blocks
// until it finishes, so at most one background task ever runs at a time
// (spec.md §4.1 invariant).
func (s *Scheduler) runOne(ctx context.Context, sched Schedule) bool {
	taskCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.activeCancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.activeCancel = nil
		s.mu.Unlock()
		cancel()
	}()

	agent := sched.Agent()
	did, err := agent.Execute(taskCtx)
	if err != nil {
		if taskCtx.Err() != nil {
			s.log.Debug().Str("agent", agent.Name()).Msg("agent cancelled")
			return false
		}
		s.log.Error().Err(err).Str("agent", agent.Name()).Msg("agent execution failed")
		return false
	}
	return did
}
