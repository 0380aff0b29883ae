package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"taskpoll/internal/eventbus"
	"taskpoll/internal/runtime/supervisor"
	"taskpoll/internal/task"
	"taskpoll/internal/task/engine"
	logx "taskpoll/pkg/logx"
)

// New creates a stopped scheduler. eng is used by the Add* helpers and for
// diagnostics; nil means engine.Default().
func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if eng == nil {
		eng = engine.Default()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		warnLog: log.Limited(5, 5),
		bus:     bus,
		engine:  eng,
	}
}

// AddTask appends t to the polling order. It is safe to call at any time,
// including while the loop is scanning; t is polled from the next tick on.
// Run goes to t's own dispatcher: a task built without WithDispatcher uses
// engine.Default() and is not counted in Snapshot().Engine. The Add* helpers
// wire the scheduler's engine.
func (s *Service) AddTask(t task.Task) {
	if t == nil {
		return
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	n := len(s.tasks)
	s.mu.Unlock()
	s.log.Debug("task registered", logx.String("task", taskName(t)), logx.Int("tasks", n))
}

// Running reports whether the polling loop is active.
func (s *Service) Running() bool { return s.active.Load() != 0 }

// Len returns the number of registered tasks.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Tasks returns the registered tasks in polling order.
func (s *Service) Tasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Start launches the polling loop. It returns ErrAlreadyRunning if a loop is
// already active; it never starts a second one. The loop stops when Stop is
// called or ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lmu.Lock()
	defer s.lmu.Unlock()
	gen := s.gen.Add(1)
	if !s.active.CompareAndSwap(0, gen) {
		return ErrAlreadyRunning
	}

	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "scheduler.supervisor"))))
	s.startedAt = time.Now()
	s.sup.GoRestart("poll", func(c context.Context) error { return s.loop(c, gen) },
		supervisor.WithRestartBackoff(s.cfg.Tick, 30*s.cfg.Tick))

	s.log.Info("scheduler started", logx.Duration("tick", s.cfg.Tick), logx.Int("tasks", s.Len()))
	s.publish(eventbus.SchedulerStarted)
	return nil
}

// Stop ends polling and waits (bounded by ctx) for the loop to exit.
// Executions already dispatched keep running. Stop on a stopped scheduler
// is a no-op.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lmu.Lock()
	defer s.lmu.Unlock()
	sup := s.sup
	s.sup = nil
	wasRunning := s.active.Swap(0) != 0
	if sup == nil {
		return
	}

	start := time.Now()
	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("scheduler stop timed out", logx.Err(err))
	}
	if wasRunning {
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)), logx.Uint64("ticks", s.ticks.Load()))
		s.publish(eventbus.SchedulerStopped)
	}
}

// loop polls while gen is the active generation. A loop left behind by a
// Stop that timed out sees a newer generation and exits without touching
// the state of the Start that replaced it.
func (s *Service) loop(ctx context.Context, gen uint64) error {
	timer := time.NewTimer(s.cfg.Tick)
	timer.Stop()
	defer timer.Stop()

	for s.active.Load() == gen {
		began := time.Now()
		s.scan()
		if took := time.Since(began); took > s.cfg.Tick {
			s.warnLog.Warn("scan slower than tick", logx.Duration("took", took), logx.Duration("tick", s.cfg.Tick))
		}

		timer.Reset(s.cfg.Tick)
		select {
		case <-ctx.Done():
			s.active.CompareAndSwap(gen, 0)
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// scan is one tick: every task in registration order, under mu.
func (s *Service) scan() {
	s.ticks.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		s.poll(t)
	}
}

// poll checks one task and dispatches it if due. A panic from ShouldRun or
// Run is logged and counted; the scan moves on to the next task.
func (s *Service) poll(t task.Task) {
	defer func() {
		if r := recover(); r != nil {
			s.pollPanics.Add(1)
			s.warnLog.Error("task poll panicked",
				logx.String("task", taskName(t)),
				logx.String("panic", fmt.Sprint(r)),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	if t.ShouldRun() {
		s.log.Trace("task due", logx.String("task", taskName(t)))
		t.Run()
	}
}

func (s *Service) publish(typ string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: s.cfg.Tick})
}

func taskName(t task.Task) string {
	if n, ok := t.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", t)
}
