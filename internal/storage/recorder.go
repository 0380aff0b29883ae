package storage

import (
	"context"
	"time"

	"taskpoll/internal/eventbus"
	"taskpoll/internal/task/engine"
	logx "taskpoll/pkg/logx"
)

// Recorder journals task outcomes published on the event bus.
type Recorder struct {
	store Store
	log   logx.Logger
	// warnLog is rate limited: a failing disk would otherwise log per run.
	warnLog logx.Logger

	ch    <-chan eventbus.Event
	unsub func()
}

// NewRecorder subscribes to bus immediately, so no event published after it
// returns is missed even if Run starts later.
func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsub := bus.Subscribe(1024)
	return &Recorder{
		store:   store,
		log:     log,
		warnLog: log.Limited(1, 3),
		ch:      ch,
		unsub:   unsub,
	}
}

// Run consumes events until ctx is done, then journals whatever is still
// buffered and unsubscribes. It always returns nil so a supervisor does not
// restart it after shutdown.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case ev, ok := <-r.ch:
			if !ok {
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev, ok := <-r.ch:
			if !ok {
				return
			}
			r.handle(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev eventbus.Event) {
	rec, ok := recordFor(ev)
	if !ok {
		return
	}
	if err := r.store.AppendRun(ctx, rec); err != nil {
		r.warnLog.Warn("run journal append failed", logx.String("task", rec.Task), logx.Err(err))
	}
}

func recordFor(ev eventbus.Event) (RunRecord, bool) {
	var outcome string
	switch ev.Type {
	case eventbus.TaskFinished:
		outcome = OutcomeFinished
	case eventbus.TaskPanicked:
		outcome = OutcomePanicked
	case eventbus.TaskSkipped:
		outcome = OutcomeSkipped
	default:
		return RunRecord{}, false
	}
	te, ok := ev.Data.(engine.TaskEvent)
	if !ok {
		return RunRecord{}, false
	}
	return RunRecord{
		At:         ev.Time,
		RunID:      te.ID,
		TaskID:     te.TaskID,
		Task:       te.Name,
		Outcome:    outcome,
		Started:    te.Started,
		DurationMS: te.Duration.Milliseconds(),
		Panic:      te.Panic,
		Reason:     te.Reason,
	}, true
}
