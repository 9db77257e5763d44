package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// PeriodicSchedule is eligible once interval has elapsed since the last
// completion, independent of idleness (spec.md §4.1 "Periodic"). The first
// call is always eligible.
type PeriodicSchedule struct {
	agent    Agent
	interval time.Duration
	last     time.Time
}

// NewPeriodicSchedule wraps agent with an interval gate.
func NewPeriodicSchedule(agent Agent, interval time.Duration) *PeriodicSchedule {
	return &PeriodicSchedule{agent: agent, interval: interval}
}

func (p *PeriodicSchedule) Agent() Agent { return p.agent }

func (p *PeriodicSchedule) ShouldRun(isIdle bool) bool {
	if p.last.IsZero() {
		return true
	}
	return time.Since(p.last) >= p.interval
}

func (p *PeriodicSchedule) MarkComplete() { p.last = time.Now() }

// IdleGatedSchedule is eligible only while the system is idle (spec.md
// §4.1 "Idle-gated"), additionally respecting a minimum interval between
// runs so an idle-gated agent doesn't spin every tick.
type IdleGatedSchedule struct {
	agent    Agent
	interval time.Duration
	last     time.Time
}

// NewIdleGatedSchedule wraps agent with an idle + interval gate.
func NewIdleGatedSchedule(agent Agent, interval time.Duration) *IdleGatedSchedule {
	return &IdleGatedSchedule{agent: agent, interval: interval}
}

func (i *IdleGatedSchedule) Agent() Agent { return i.agent }

func (i *IdleGatedSchedule) ShouldRun(isIdle bool) bool {
	if !isIdle {
		return false
	}
	if i.last.IsZero() {
		return true
	}
	return time.Since(i.last) >= i.interval
}

func (i *IdleGatedSchedule) MarkComplete() { i.last = time.Now() }

// CronSubscription is one cron-gated unit the CronSchedule evaluates —
// typically a single follow-prompt (spec.md §4.1 "Cron-aware": "eligibility
// is per-follow-subscription, driven by a cron expression evaluated in the
// user's timezone").
type CronSubscription struct {
	Expr     string
	Timezone string
	LastRun  time.Time
}

// Due reports whether a subscription's cron expression has fired since
// LastRun, evaluated in its timezone. A malformed expression
// conservatively reports not due, since a stale follow-prompt should not
// spin the poller; an unknown timezone falls back to UTC. Neither case is
// logged.
func (c CronSubscription) Due(now time.Time) bool {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		loc = time.UTC
	}
	schedule, err := cron.ParseStandard(c.Expr)
	if err != nil {
		return false
	}
	if c.LastRun.IsZero() {
		return true
	}
	next := schedule.Next(c.LastRun.In(loc))
	return !next.After(now.In(loc))
}

// CronSchedule is idle-gated like IdleGatedSchedule but defers
// the actual per-subscription eligibility decision to the agent itself
// (which owns the knowledge of follow-prompts); ShouldRun here only checks
// idleness since a given tick's eligible subscription isn't known until the
// agent looks at the store.
type CronSchedule struct {
	agent Agent
}

// NewCronSchedule wraps agent with an idle gate only; per-subscription cron
// eligibility is evaluated inside the agent via CronSubscription.Due.
func NewCronSchedule(agent Agent) *CronSchedule {
	return &CronSchedule{agent: agent}
}

func (c *CronSchedule) Agent() Agent { return c.agent }

func (c *CronSchedule) ShouldRun(isIdle bool) bool { return isIdle }

func (c *CronSchedule) MarkComplete() {}
