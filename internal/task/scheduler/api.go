package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskpoll/internal/task"
)

// AddInterval builds an IntervalTask dispatched through the scheduler's
// engine and registers it.
func (s *Service) AddInterval(name string, every time.Duration, action task.Action, opts ...task.Option) (*task.IntervalTask, error) {
	if err := validate(name, action); err != nil {
		return nil, err
	}
	t := task.NewInterval(action, every, s.taskOptions(name, opts)...)
	s.AddTask(t)
	return t, nil
}

// AddCron builds a CronTask from spec and registers it.
func (s *Service) AddCron(name, spec string, action task.Action, opts ...task.Option) (*task.CronTask, error) {
	if err := validate(name, action); err != nil {
		return nil, err
	}
	t, err := task.NewCron(action, spec, s.taskOptions(name, opts)...)
	if err != nil {
		return nil, err
	}
	s.AddTask(t)
	return t, nil
}

// AddOnce registers a task that fires once, delay after now.
func (s *Service) AddOnce(name string, delay time.Duration, action task.Action, opts ...task.Option) (*task.OnceTask, error) {
	if err := validate(name, action); err != nil {
		return nil, err
	}
	t := task.NewOnce(action, delay, s.taskOptions(name, opts)...)
	s.AddTask(t)
	return t, nil
}

// AddSchedule parses schedule (see ParseSchedule) and registers the matching
// task kind.
func (s *Service) AddSchedule(name, schedule string, action task.Action, opts ...task.Option) (task.Task, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	var (
		t      task.Task
		addErr error
	)
	switch ps.Kind {
	case SpecInterval:
		var it *task.IntervalTask
		it, addErr = s.AddInterval(name, ps.Every, action, opts...)
		t = it
	case SpecCron:
		var ct *task.CronTask
		ct, addErr = s.AddCron(name, ps.Cron, action, opts...)
		t = ct
	case SpecOnce:
		var ot *task.OnceTask
		ot, addErr = s.AddOnce(name, ps.Every, action, opts...)
		t = ot
	default:
		return nil, fmt.Errorf("unsupported schedule kind %v", ps.Kind)
	}
	if addErr != nil {
		return nil, addErr
	}
	return t, nil
}

func (s *Service) taskOptions(name string, opts []task.Option) []task.Option {
	out := make([]task.Option, 0, len(opts)+2)
	out = append(out, task.WithName(name), task.WithDispatcher(s.engine))
	return append(out, opts...)
}

func validate(name string, action task.Action) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if action == nil {
		return errors.New("action required")
	}
	return nil
}
