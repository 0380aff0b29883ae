package scheduler

import "taskpoll/internal/task"

func (s *Service) Snapshot() Snapshot {
	s.lmu.Lock()
	startedAt := s.startedAt
	s.lmu.Unlock()

	tasks := s.Tasks()
	infos := make([]task.Info, 0, len(tasks))
	for _, t := range tasks {
		if d, ok := t.(task.Describer); ok {
			infos = append(infos, d.Info())
			continue
		}
		infos = append(infos, task.Info{Name: taskName(t)})
	}

	snap := Snapshot{
		Running:    s.Running(),
		StartedAt:  startedAt,
		Tick:       s.cfg.Tick,
		Ticks:      s.ticks.Load(),
		PollPanics: s.pollPanics.Load(),
		Tasks:      infos,
	}
	if s.engine != nil {
		snap.Engine = s.engine.Snapshot()
	}
	return snap
}
