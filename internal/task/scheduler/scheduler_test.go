package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpoll/internal/eventbus"
	"taskpoll/internal/task"
	"taskpoll/internal/task/engine"
	logx "taskpoll/pkg/logx"
)

const testTick = 10 * time.Millisecond

func newTestScheduler(t *testing.T, bus eventbus.Bus) (*Service, *engine.Service) {
	t.Helper()
	eng := engine.New(engine.Config{}, logx.Nop(), bus)
	s := New(Config{Tick: testTick}, eng, logx.Nop(), bus)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Close()
		_ = eng.Wait(ctx)
	})
	return s, eng
}

// orderedTask is always due and records its label when polled.
type orderedTask struct {
	label string
	log   *[]string
	mu    *sync.Mutex
	runs  atomic.Int32
}

func (o *orderedTask) ShouldRun() bool {
	o.mu.Lock()
	*o.log = append(*o.log, o.label)
	o.mu.Unlock()
	return true
}

func (o *orderedTask) Run() { o.runs.Add(1) }

type panicTask struct{}

func (panicTask) ShouldRun() bool { panic("boom") }
func (panicTask) Run()            {}

func TestStartTwiceFails(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, s.Running())
}

func TestStopIsIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	s.Stop(context.Background())

	require.NoError(t, s.Start(context.Background()))
	s.Stop(context.Background())
	s.Stop(context.Background())
	assert.False(t, s.Running())
}

func TestRestartAfterStop(t *testing.T) {
	s, eng := newTestScheduler(t, nil)
	var runs atomic.Int32
	s.AddTask(task.NewInterval(func() { runs.Add(1) }, 0, task.WithDispatcher(eng)))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() > 0 }, time.Second, time.Millisecond)
	s.Stop(context.Background())

	before := runs.Load()
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() > before }, time.Second, time.Millisecond)
	assert.Positive(t, s.Snapshot().Engine.Dispatched)
}

// slowFirstTask blocks its first poll long enough for a short Stop to give
// up while the scan is still in progress.
type slowFirstTask struct {
	polls atomic.Int32
}

func (f *slowFirstTask) ShouldRun() bool {
	if f.polls.Add(1) == 1 {
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

func (*slowFirstTask) Run() {}

func TestStartAfterTimedOutStop(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	slow := &slowFirstTask{}
	s.AddTask(slow)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return slow.polls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), testTick)
	s.Stop(ctx)
	cancel()
	require.NoError(t, s.Start(context.Background()))

	// The old loop finishes its scan well within this window and must not
	// take the new loop down with it.
	time.Sleep(300 * time.Millisecond)
	require.True(t, s.Running())
	before := slow.polls.Load()
	require.Eventually(t, func() bool { return slow.polls.Load() >= before+3 }, time.Second, time.Millisecond)
	assert.True(t, s.Running())
	assert.True(t, s.Snapshot().Running)
}

func TestRegistrationIsLive(t *testing.T) {
	s, eng := newTestScheduler(t, nil)
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(testTick + testTick/2)

	var runs atomic.Int32
	s.AddTask(task.NewInterval(func() { runs.Add(1) }, 0, task.WithDispatcher(eng)))

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*testTick, time.Millisecond)
	assert.Equal(t, 1, s.Len())
}

func TestPollsInInsertionOrder(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	var (
		mu  sync.Mutex
		log []string
	)
	a := &orderedTask{label: "a", log: &log, mu: &mu}
	b := &orderedTask{label: "b", log: &log, mu: &mu}
	c := &orderedTask{label: "c", log: &log, mu: &mu}
	s.AddTask(a)
	s.AddTask(b)
	s.AddTask(c)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return c.runs.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(log), 9)
	for i := 0; i+2 < len(log); i += 3 {
		assert.Equal(t, []string{"a", "b", "c"}, log[i:i+3], "tick %d", i/3)
	}
}

func TestStopHaltsFuturePolling(t *testing.T) {
	s, eng := newTestScheduler(t, nil)
	var runs atomic.Int32
	s.AddTask(task.NewInterval(func() { runs.Add(1) }, 100*time.Millisecond, task.WithDispatcher(eng)))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	s.Stop(context.Background())

	time.Sleep(500 * time.Millisecond)
	assert.EqualValues(t, 1, runs.Load())
	assert.False(t, s.Running())
}

func TestStopHaltsFuturePollingRealTick(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the one-second default tick")
	}
	eng := engine.New(engine.Config{}, logx.Nop(), nil)
	s := New(Config{}, eng, logx.Nop(), nil)
	var runs atomic.Int32
	s.AddTask(task.Every(1, func() { runs.Add(1) }, task.WithDispatcher(eng)))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 3*time.Second, 5*time.Millisecond)
	s.Stop(context.Background())

	time.Sleep(5 * time.Second)
	assert.EqualValues(t, 1, runs.Load())
}

func TestContextCancelStopsLoop(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, time.Millisecond)

	// A canceled loop can be started again.
	require.NoError(t, s.Start(context.Background()))
}

func TestPollPanicIsolated(t *testing.T) {
	s, eng := newTestScheduler(t, nil)
	var runs atomic.Int32
	s.AddTask(panicTask{})
	s.AddTask(task.NewInterval(func() { runs.Add(1) }, 0, task.WithDispatcher(eng)))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	assert.Positive(t, s.Snapshot().PollPanics)
	assert.True(t, s.Running())
}

func TestAddScheduleHelpers(t *testing.T) {
	s, eng := newTestScheduler(t, nil)
	noop := func() {}

	tk, err := s.AddSchedule("steam", "5s", noop)
	require.NoError(t, err)
	require.IsType(t, &task.IntervalTask{}, tk)
	assert.Equal(t, 5*time.Second, tk.(*task.IntervalTask).Interval())

	tk, err = s.AddSchedule("nightly", "0 3 * * *", noop)
	require.NoError(t, err)
	require.IsType(t, &task.CronTask{}, tk)

	tk, err = s.AddSchedule("warmup", "once:1s", noop)
	require.NoError(t, err)
	require.IsType(t, &task.OnceTask{}, tk)

	_, err = s.AddSchedule("bad", "whenever", noop)
	require.Error(t, err)
	_, err = s.AddInterval("", time.Second, noop)
	require.Error(t, err)
	_, err = s.AddInterval("nil", time.Second, nil)
	require.Error(t, err)

	assert.Equal(t, 3, s.Len())
	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 3)
	assert.Equal(t, "steam", snap.Tasks[0].Name)
	assert.Equal(t, task.KindCron, snap.Tasks[1].Kind)
	assert.Equal(t, task.KindOnce, snap.Tasks[2].Kind)
	assert.Equal(t, eng.Snapshot().Dispatched, snap.Engine.Dispatched)
}

func TestPublishesLifecycleEvents(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	s, eng := newTestScheduler(t, bus)
	s.AddTask(task.NewInterval(func() {}, time.Hour, task.WithDispatcher(eng)))
	require.NoError(t, s.Start(context.Background()))
	s.Stop(context.Background())

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.Equal(t, []string{eventbus.SchedulerStarted, eventbus.SchedulerStopped}, types)
}
