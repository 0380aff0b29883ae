package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"taskpoll/internal/eventbus"
	"taskpoll/internal/runtime/supervisor"
	"taskpoll/internal/storage"
	"taskpoll/internal/task/engine"
	"taskpoll/internal/task/scheduler"
	logx "taskpoll/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	rec   *storage.Recorder

	engine *engine.Service
	sched  *scheduler.Service
	tasks  *taskRegistry
	out    io.Writer

	// lmu serializes scheduler enable/disable between reloads and Stop.
	lmu          sync.Mutex
	schedEnabled bool
	stopped      bool
}

type Option func(*App)

// WithOutput redirects task output (default os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		if w != nil {
			a.out = w
		}
	}
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateTasks(cfg.EffectiveTasks()); err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		tasks:   newTaskRegistry(),
		out:     os.Stdout,
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	a.out = &syncWriter{w: a.out}

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		a.store = st
		a.rec = storage.NewRecorder(st, bus, log.With(logx.String("comp", "storage.recorder")))
		log.Info("run journal enabled", logx.String("driver", sc.Driver))
	}

	a.engine = engine.New(mapEngineConfig(cfg), log.With(logx.String("comp", "engine")), bus)
	a.sched = scheduler.New(schedCfg, a.engine, log.With(logx.String("comp", "scheduler")), bus)

	if _, err := a.tasks.register(a.sched, cfg.EffectiveTasks(), a.out, log); err != nil {
		a.closeStore()
		logSvc.Close()
		return nil, err
	}
	a.schedEnabled = cfg.Scheduler.IsEnabled()
	return a, nil
}

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// Scheduler exposes the scheduler for diagnostics and programmatic tasks.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Store returns the run journal, or nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

func (a *App) Snapshot() scheduler.Snapshot { return a.sched.Snapshot() }

// Done is closed when the app supervisor context is canceled (Stop or parent).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return validateTasks(cfg.EffectiveTasks())
	})

	if a.rec != nil {
		a.sup.Go("storage.recorder", a.rec.Run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		defer func() {
			if n := a.bus.Dropped(); n > 0 {
				a.log.Warn("event bus dropped events (slow subscriber)", logx.Uint64("dropped", n))
			}
		}()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// debug only: interval tasks make this frequent
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.lmu.Lock()
	if a.schedEnabled {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			a.lmu.Unlock()
			return err
		}
	} else {
		a.log.Info("scheduler disabled via config")
	}
	a.lmu.Unlock()

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("tasks", a.sched.Len()))
	return nil
}

// applyConfig applies a committed reload. Logging and the scheduler's
// enabled flag apply live; newly named tasks are registered; tick, engine
// and storage changes wait for a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogConfig(newCfg))

	for _, s := range sections {
		switch s {
		case "storage", "engine":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	if strings.TrimSpace(oldCfg.Scheduler.Tick) != strings.TrimSpace(newCfg.Scheduler.Tick) {
		a.log.Warn("scheduler.tick changed; restart required for changes to take effect")
	}

	if slices.Contains(sections, "tasks") {
		// register skips names already scheduled, so this also picks up a
		// task that was listed before but only now enabled.
		names, err := a.tasks.register(a.sched, newCfg.EffectiveTasks(), a.out, a.log)
		if err != nil {
			a.log.Warn("task registration failed", logx.Err(err))
		}
		if len(names) > 0 {
			a.log.Info("tasks added via config", logx.Any("tasks", names))
		} else {
			a.log.Warn("task changes other than new names apply after restart")
		}
	}

	a.lmu.Lock()
	if !a.stopped {
		enabled := newCfg.Scheduler.IsEnabled()
		switch {
		case a.schedEnabled && !enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !a.schedEnabled && enabled:
			a.log.Info("scheduler enabled via config")
			if err := a.sched.Start(a.sup.Context()); err != nil {
				a.log.Warn("scheduler start failed", logx.Err(err))
			}
		}
		a.schedEnabled = enabled
	}
	a.lmu.Unlock()

	a.log.Info("config reloaded", fields...)
}

// Stop halts polling, drains in-flight actions (bounded by the configured
// drain timeout), then stops background loops and closes the journal.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.lmu.Lock()
	if a.stopped {
		a.lmu.Unlock()
		return nil
	}
	a.stopped = true
	a.lmu.Unlock()

	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = max0(time.Until(dl))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	cfg := a.cfgm.Get()
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", drainTimeout(cfg), func(c context.Context) error {
		a.engine.Close()
		if err := a.engine.Wait(c); err != nil {
			return fmt.Errorf("%d action(s) still running: %w", a.engine.Snapshot().InFlight, err)
		}
		return nil
	})
	// The recorder drains buffered events when its context is canceled, so
	// cancel only after the engine is quiet.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	step("storage", time.Second, func(c context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func max0(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
