package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"taskpoll/internal/eventbus"
	logx "taskpoll/pkg/logx"
)

func (s *Service) exec(id string, j Job) {
	defer s.wg.Done()
	defer s.inFlight.Add(-1)
	if j.Overlap == OverlapSkipIfRunning {
		defer j.State.release()
	}

	start := time.Now()
	s.log.Debug("task.started", logx.String("task", j.Name), logx.String("id", id))

	// A panicking action is contained here: it must not kill the process or
	// leave the in-flight accounting wrong.
	var panicMsg, stack string
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicMsg = fmt.Sprint(r)
				stack = string(debug.Stack())
			}
		}()
		j.Run()
	}()

	dur := time.Since(start)
	item := HistoryItem{ID: id, TaskID: j.TaskID, Name: j.Name, Started: start, Duration: dur, Panic: panicMsg}
	ev := TaskEvent{ID: id, TaskID: j.TaskID, Name: j.Name, Started: start, Duration: dur, Panic: panicMsg}

	if panicMsg != "" {
		s.panicked.Add(1)
		s.warnLog.Error("task.panic", logx.String("task", j.Name), logx.String("id", id), logx.String("panic", panicMsg), logx.Stack(stack))
		s.publish(eventbus.TaskPanicked, time.Now(), ev)
	} else {
		s.finished.Add(1)
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", j.Name), logx.Duration("dur", dur))
		} else {
			s.log.Debug("task.completed", logx.String("task", j.Name), logx.Duration("dur", dur))
		}
		s.publish(eventbus.TaskFinished, time.Now(), ev)
	}
	s.record(item)
}
