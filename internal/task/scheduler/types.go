package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"taskpoll/internal/eventbus"
	"taskpoll/internal/runtime/supervisor"
	"taskpoll/internal/task"
	"taskpoll/internal/task/engine"
	logx "taskpoll/pkg/logx"
)

// DefaultTick is the polling period: the scheduler's time-resolution floor.
const DefaultTick = time.Second

var ErrAlreadyRunning = errors.New("scheduler already running")

// Config controls the polling loop.
type Config struct {
	// Tick is the sleep between scans. 0 means DefaultTick.
	Tick time.Duration
}

// Service owns the ordered task list and the polling loop.
type Service struct {
	// mu guards tasks. It is held for registration and for the whole
	// per-tick scan, so a scan always sees a consistent list.
	mu    sync.Mutex
	tasks []task.Task

	// active holds the generation of the live polling loop, 0 when stopped.
	// Every Start takes a fresh generation from gen.
	active atomic.Uint64
	gen    atomic.Uint64

	// lmu serializes Start/Stop.
	lmu       sync.Mutex
	sup       *supervisor.Supervisor
	startedAt time.Time

	cfg     Config
	log     logx.Logger
	warnLog logx.Logger
	bus     eventbus.Bus
	engine  *engine.Service

	ticks      atomic.Uint64
	pollPanics atomic.Uint64
}

type Snapshot struct {
	Running    bool
	StartedAt  time.Time
	Tick       time.Duration
	Ticks      uint64
	PollPanics uint64
	Tasks      []task.Info
	Engine     engine.Snapshot
}
