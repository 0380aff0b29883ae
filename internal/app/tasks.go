package app

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"taskpoll/internal/config"
	"taskpoll/internal/task"
	"taskpoll/internal/task/engine"
	"taskpoll/internal/task/scheduler"
	logx "taskpoll/pkg/logx"
)

// taskRegistry remembers which configured names are already scheduled.
// Tasks are only ever added: a name dropped from the config keeps running
// until restart.
type taskRegistry struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{names: map[string]struct{}{}}
}

// register schedules every enabled task in list whose name is new.
// It returns the names added.
func (r *taskRegistry) register(sched *scheduler.Service, list []config.TaskConfig, out io.Writer, log logx.Logger) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []string
	for _, tc := range list {
		name := strings.TrimSpace(tc.Name)
		if !tc.IsEnabled() {
			continue
		}
		if _, ok := r.names[name]; ok {
			continue
		}
		overlap, ok := engine.ParseOverlap(strings.ToLower(strings.TrimSpace(tc.Overlap)))
		if !ok {
			return added, fmt.Errorf("task %q: invalid overlap %q", name, tc.Overlap)
		}
		t, err := sched.AddSchedule(name, tc.Schedule, printAction(out, tc.Message, name), task.WithOverlap(overlap))
		if err != nil {
			return added, fmt.Errorf("task %q: %w", name, err)
		}
		r.names[name] = struct{}{}
		added = append(added, name)

		fields := []logx.Field{logx.String("task", name), logx.String("schedule", tc.Schedule)}
		if d, ok := t.(task.Describer); ok {
			fields = append(fields, logx.String("kind", d.Info().Kind))
		}
		log.Info("task scheduled", fields...)
	}
	return added, nil
}

// printAction writes msg (or a default line naming the task) to out.
func printAction(out io.Writer, msg, name string) task.Action {
	if strings.TrimSpace(msg) == "" {
		msg = "Running " + name + "..."
	}
	line := msg + "\n"
	return func() { _, _ = io.WriteString(out, line) }
}

// syncWriter serializes writes from concurrently running actions.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// validateTasks checks every schedule string and overlap value, so a bad
// hot reload is rejected before it is committed.
func validateTasks(list []config.TaskConfig) error {
	for _, tc := range list {
		if _, err := scheduler.ParseSchedule(tc.Schedule); err != nil {
			return fmt.Errorf("task %q: %w", tc.Name, err)
		}
		if _, ok := engine.ParseOverlap(strings.ToLower(strings.TrimSpace(tc.Overlap))); !ok {
			return fmt.Errorf("task %q: invalid overlap %q", tc.Name, tc.Overlap)
		}
	}
	return nil
}
