package task

import "time"

// IntervalTask becomes due once a fixed duration has elapsed since its last
// firing. The first firing comes one full interval after construction.
//
// An interval of zero or less makes the task due on every poll.
type IntervalTask struct {
	base
	interval time.Duration
}

var (
	_ Task      = (*IntervalTask)(nil)
	_ Describer = (*IntervalTask)(nil)
)

func NewInterval(action Action, interval time.Duration, opts ...Option) *IntervalTask {
	t := &IntervalTask{interval: interval}
	t.init(KindInterval, action, opts)
	return t
}

// Every is NewInterval with the interval given in whole seconds.
func Every(seconds int, action Action, opts ...Option) *IntervalTask {
	return NewInterval(action, time.Duration(seconds)*time.Second, opts...)
}

func (t *IntervalTask) Interval() time.Duration { return t.interval }

func (t *IntervalTask) ShouldRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	if t.interval > 0 && now.Sub(t.lastRun) < t.interval {
		return false
	}
	t.authorizeLocked(now)
	return true
}

func (t *IntervalTask) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.infoLocked(KindInterval, t.interval.String(), t.lastRun.Add(t.interval))
}
