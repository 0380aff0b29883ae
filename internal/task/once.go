package task

import "time"

// OnceTask fires exactly once, after delay has elapsed since construction.
type OnceTask struct {
	base
	delay time.Duration
	done  bool
}

var (
	_ Task      = (*OnceTask)(nil)
	_ Describer = (*OnceTask)(nil)
)

func NewOnce(action Action, delay time.Duration, opts ...Option) *OnceTask {
	t := &OnceTask{delay: delay}
	t.init(KindOnce, action, opts)
	return t
}

func (t *OnceTask) ShouldRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	now := t.clock.Now()
	if now.Sub(t.created) < t.delay {
		return false
	}
	t.done = true
	t.authorizeLocked(now)
	return true
}

// Done reports whether the task already fired.
func (t *OnceTask) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *OnceTask) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.created.Add(t.delay)
	if t.done {
		next = time.Time{}
	}
	return t.infoLocked(KindOnce, t.delay.String(), next)
}
