package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type slowAgent struct {
	started   chan struct{}
	release   chan struct{}
	cancelled atomic.Bool
	completed atomic.Bool
}

func newSlowAgent() *slowAgent {
	return &slowAgent{started: make(chan struct{}), release: make(chan struct{})}
}

func (a *slowAgent) Name() string { return "slow_agent" }

func (a *slowAgent) Execute(ctx context.Context) (bool, error) {
	close(a.started)
	select {
	case <-a.release:
		a.completed.Store(true)
		return true, nil
	case <-ctx.Done():
		a.cancelled.Store(true)
		return false, ctx.Err()
	}
}

type alwaysRunSchedule struct {
	agent     Agent
	completed bool
}

func (s *alwaysRunSchedule) Agent() Agent             { return s.agent }
func (s *alwaysRunSchedule) ShouldRun(isIdle bool) bool { return !s.completed }
func (s *alwaysRunSchedule) MarkComplete()             { s.completed = true }

type simpleAgent struct {
	name    string
	retval  bool
	execCnt atomic.Int32
}

func (a *simpleAgent) Name() string { return a.name }

func (a *simpleAgent) Execute(ctx context.Context) (bool, error) {
	a.execCnt.Add(1)
	return a.retval, nil
}

type alwaysEligibleSchedule struct {
	agent      Agent
	completeCt atomic.Int32
}

func (s *alwaysEligibleSchedule) Agent() Agent              { return s.agent }
func (s *alwaysEligibleSchedule) ShouldRun(isIdle bool) bool { return true }
func (s *alwaysEligibleSchedule) MarkComplete()              { s.completeCt.Add(1) }

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestForegroundCancelsActiveBackgroundTask(t *testing.T) {
	agent := newSlowAgent()
	sched := &alwaysRunSchedule{agent: agent}
	s := New([]Schedule{sched}, time.Millisecond, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	select {
	case <-agent.started:
	case <-time.After(2 * time.Second):
		t.Fatal("agent never started")
	}

	s.NotifyForegroundStart()
	time.Sleep(50 * time.Millisecond)

	require.True(t, agent.cancelled.Load())
	require.False(t, agent.completed.Load())
}

func TestForegroundDuringIdlePreventsTaskStart(t *testing.T) {
	agent := newSlowAgent()
	sched := &alwaysRunSchedule{agent: agent}
	s := New([]Schedule{sched}, time.Millisecond, 0, testLogger())
	s.NotifyForegroundStart()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)

	select {
	case <-agent.started:
		t.Fatal("agent should not have started while foreground active")
	default:
	}

	s.NotifyForegroundEnd()
	defer close(agent.release)

	select {
	case <-agent.started:
	case <-time.After(2 * time.Second):
		t.Fatal("agent should start after foreground ends")
	}
}

func TestSchedulerSkipsAgentsWithNoWork(t *testing.T) {
	agentA := &simpleAgent{name: "agent_a", retval: false}
	agentB := &simpleAgent{name: "agent_b", retval: true}
	scheduleA := &alwaysEligibleSchedule{agent: agentA}
	scheduleB := &alwaysEligibleSchedule{agent: agentB}

	s := New([]Schedule{scheduleA, scheduleB}, time.Millisecond, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)

	require.Greater(t, agentA.execCnt.Load(), int32(0))
	require.Greater(t, agentB.execCnt.Load(), int32(0))
}

func TestSchedulerBreaksWhenAgentDoesWork(t *testing.T) {
	agentA := &simpleAgent{name: "agent_a", retval: true}
	agentB := &simpleAgent{name: "agent_b", retval: true}
	scheduleA := &alwaysEligibleSchedule{agent: agentA}
	scheduleB := &alwaysEligibleSchedule{agent: agentB}

	s := New([]Schedule{scheduleA, scheduleB}, time.Millisecond, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)

	require.Greater(t, agentA.execCnt.Load(), int32(0))
	require.Equal(t, int32(0), agentB.execCnt.Load())
}

func TestMarkCompleteAlwaysCalled(t *testing.T) {
	agentNoWork := &simpleAgent{name: "no_work", retval: false}
	agentHasWork := &simpleAgent{name: "has_work", retval: true}
	scheduleNoWork := &alwaysEligibleSchedule{agent: agentNoWork}
	scheduleHasWork := &alwaysEligibleSchedule{agent: agentHasWork}

	s := New([]Schedule{scheduleNoWork, scheduleHasWork}, time.Millisecond, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)

	require.Greater(t, scheduleNoWork.completeCt.Load(), int32(0))
	require.Greater(t, scheduleHasWork.completeCt.Load(), int32(0))
}

func TestPeriodicScheduleRespectsInterval(t *testing.T) {
	agent := &simpleAgent{name: "idle_agent", retval: false}
	sched := NewPeriodicSchedule(agent, 150*time.Millisecond)

	s := New([]Schedule{sched}, 10*time.Millisecond, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int32(1), agent.execCnt.Load())

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, int32(2), agent.execCnt.Load())
}

func TestIdleGatedScheduleRequiresIdle(t *testing.T) {
	agent := &simpleAgent{name: "enrich", retval: false}
	sched := NewIdleGatedSchedule(agent, 0)

	require.False(t, sched.ShouldRun(false))
	require.True(t, sched.ShouldRun(true))
}

func TestCronSubscriptionDue(t *testing.T) {
	sub := CronSubscription{Expr: "* * * * *", Timezone: "UTC"}
	require.True(t, sub.Due(time.Now()))

	sub.LastRun = time.Now()
	require.False(t, sub.Due(time.Now()))
}
