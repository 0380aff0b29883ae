// Package task defines schedulable units of work.
//
// A Task separates "is it due" (ShouldRun) from "run it" (Run) so a poller can
// treat every timing policy the same way. Run never blocks: the action is
// handed to an engine.Dispatcher and executes on its own goroutine.
package task

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpoll/internal/task/engine"
)

// Action is the unit of work a task fires. It takes no arguments and reports
// nothing back; panics are contained by the dispatcher.
type Action func()

// Task is polled by the scheduler once per tick.
type Task interface {
	// ShouldRun reports whether the task is due. A true result authorizes
	// exactly one firing: the task records it before returning.
	ShouldRun() bool
	// Run dispatches the task's action and returns immediately.
	Run()
}

// Describer is implemented by tasks that can report their state.
type Describer interface {
	Info() Info
}

const (
	KindInterval = "interval"
	KindCron     = "cron"
	KindOnce     = "once"
)

// Info is a point-in-time view of a task, for diagnostics.
type Info struct {
	ID      string
	Name    string
	Kind    string
	Spec    string
	Overlap string
	Created time.Time
	LastRun time.Time // zero until the first firing
	Next    time.Time // zero if the task will never fire again
	Fired   uint64
}

// Clock supplies the current time. Tests swap in a simulated one.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Option func(*base)

// WithName sets a human-readable label used in logs and events.
func WithName(name string) Option {
	return func(b *base) { b.name = strings.TrimSpace(name) }
}

// WithID overrides the generated UUID.
func WithID(id string) Option {
	return func(b *base) {
		if id = strings.TrimSpace(id); id != "" {
			b.id = id
		}
	}
}

func WithClock(c Clock) Option {
	return func(b *base) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithDispatcher routes Run through d instead of engine.Default().
func WithDispatcher(d engine.Dispatcher) Option {
	return func(b *base) {
		if d != nil {
			b.disp = d
		}
	}
}

// WithOverlap selects whether executions of this task may overlap.
// The default, engine.OverlapAllow, permits overlapping runs.
func WithOverlap(p engine.OverlapPolicy) Option {
	return func(b *base) { b.overlap = p }
}

// base carries what every task kind shares: identity, action, dispatch and
// the last-run bookkeeping guarded by mu.
type base struct {
	id      string
	name    string
	action  Action
	clock   Clock
	disp    engine.Dispatcher
	overlap engine.OverlapPolicy
	state   engine.RunState

	mu      sync.Mutex
	created time.Time
	lastRun time.Time
	fired   uint64
}

func (b *base) init(kind string, action Action, opts []Option) {
	b.id = uuid.NewString()
	b.action = action
	b.clock = systemClock{}
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	if b.disp == nil {
		b.disp = engine.Default()
	}
	if b.name == "" {
		short := b.id
		if len(short) > 8 {
			short = short[:8]
		}
		b.name = kind + ":" + short
	}
	b.created = b.clock.Now()
	b.lastRun = b.created
}

// authorizeLocked records a firing at now. Call with b.mu held.
func (b *base) authorizeLocked(now time.Time) {
	// lastRun never moves backwards, even if the clock does.
	if now.After(b.lastRun) {
		b.lastRun = now
	}
	b.fired++
}

// Run hands the action to the dispatcher. The engine logs and counts both
// refusals (ErrOverlapSkip, ErrClosed), so the error is not needed here.
func (b *base) Run() {
	if b.action == nil {
		return
	}
	_ = b.disp.Dispatch(engine.Job{
		TaskID:  b.id,
		Name:    b.name,
		Run:     b.action,
		Overlap: b.overlap,
		State:   &b.state,
	})
}

func (b *base) ID() string   { return b.id }
func (b *base) Name() string { return b.name }

// LastRun returns the time of the most recent firing, or the construction
// time if the task never fired.
func (b *base) LastRun() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRun
}

func (b *base) infoLocked(kind, spec string, next time.Time) Info {
	inf := Info{
		ID:      b.id,
		Name:    b.name,
		Kind:    kind,
		Spec:    spec,
		Overlap: b.overlap.String(),
		Created: b.created,
		Next:    next,
		Fired:   b.fired,
	}
	if b.fired > 0 {
		inf.LastRun = b.lastRun
	}
	return inf
}
