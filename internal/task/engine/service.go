package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taskpoll/internal/eventbus"
	logx "taskpoll/pkg/logx"
)

// Dispatcher hands a job to independent execution and returns immediately.
type Dispatcher interface {
	Dispatch(j Job) error
}

// Service is a spawn-and-detach dispatcher: every accepted job runs on its
// own goroutine. There is no queue and no concurrency cap.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	closed bool

	log     logx.Logger
	warnLog logx.Logger
	bus     eventbus.Bus

	wg       sync.WaitGroup
	inFlight atomic.Int32

	dispatched atomic.Uint64
	finished   atomic.Uint64
	panicked   atomic.Uint64
	skipped    atomic.Uint64
	rejected   atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.PanicLogRate <= 0 {
		cfg.PanicLogRate = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		warnLog: log.Limited(cfg.PanicLogRate, int(cfg.PanicLogRate)+1),
		bus:     bus,
	}
}

var (
	defaultOnce sync.Once
	defaultSvc  *Service
)

// Default returns a process-wide engine with no logging and no event bus.
// Tasks constructed without an explicit dispatcher use it.
func Default() *Service {
	defaultOnce.Do(func() { defaultSvc = New(Config{}, logx.Nop(), nil) })
	return defaultSvc
}

// Dispatch starts j on a new goroutine. It never blocks on the job itself.
func (s *Service) Dispatch(j Job) error {
	if j.Run == nil {
		return ErrNilRun
	}
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		j.Name = "unnamed"
	}

	s.mu.Lock()
	closed := s.closed
	if !closed {
		// Add under mu so Close+Wait never misses a job accepted concurrently.
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if closed {
		s.rejected.Add(1)
		s.warnLog.Warn("dispatch rejected: engine closed", logx.String("task", j.Name))
		return ErrClosed
	}

	now := time.Now()
	id := uuid.NewString()

	if j.Overlap == OverlapSkipIfRunning && !j.State.tryAcquire() {
		s.wg.Done()
		s.skipped.Add(1)
		s.publish(eventbus.TaskSkipped, now, TaskEvent{ID: id, TaskID: j.TaskID, Name: j.Name, Started: now, Reason: "overlap_skip"})
		s.warnLog.Debug("task skipped due to overlap", logx.String("task", j.Name), logx.String("id", id))
		return ErrOverlapSkip
	}

	s.dispatched.Add(1)
	s.inFlight.Add(1)
	s.publish(eventbus.TaskDispatched, now, TaskEvent{ID: id, TaskID: j.TaskID, Name: j.Name, Started: now})

	go s.exec(id, j)
	return nil
}

// Close makes further Dispatch calls fail with ErrClosed. Running jobs are
// left alone; use Wait to drain them.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Wait blocks until every dispatched job has returned or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Snapshot() Snapshot {
	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		InFlight:   int(s.inFlight.Load()),
		Dispatched: s.dispatched.Load(),
		Finished:   s.finished.Load(),
		Panicked:   s.panicked.Load(),
		Skipped:    s.skipped.Load(),
		Rejected:   s.rejected.Load(),
		History:    h,
	}
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
