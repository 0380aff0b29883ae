package task

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Parser accepts both 5-field and 6-field (with seconds) specs as well as
// descriptors like "@hourly" and "@every 5m".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronTask becomes due when the cron schedule's next activation after its
// last firing has passed. Missed activations collapse into one firing.
type CronTask struct {
	base
	spec  string
	sched cron.Schedule
}

var (
	_ Task      = (*CronTask)(nil)
	_ Describer = (*CronTask)(nil)
)

func NewCron(action Action, spec string, opts ...Option) (*CronTask, error) {
	spec = strings.TrimSpace(spec)
	sched, err := Parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	t := &CronTask{spec: spec, sched: sched}
	t.init(KindCron, action, opts)
	return t, nil
}

func (t *CronTask) ShouldRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.sched.Next(t.lastRun)
	if next.IsZero() {
		return false
	}
	now := t.clock.Now()
	if now.Before(next) {
		return false
	}
	t.authorizeLocked(now)
	return true
}

func (t *CronTask) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.infoLocked(KindCron, t.spec, t.sched.Next(t.lastRun))
}
