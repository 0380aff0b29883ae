package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpoll/internal/storage"
	logx "taskpoll/pkg/logx"
)

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "taskpoll.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
}

func TestDefaultTasks(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "logging:\n  level: error\n")
	a, err := NewApp(path)
	require.NoError(t, err)

	snap := a.Snapshot()
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, "steam", snap.Tasks[0].Name)
	assert.Equal(t, "5s", snap.Tasks[0].Spec)
	assert.Equal(t, "udemy", snap.Tasks[1].Name)
	assert.Equal(t, "10s", snap.Tasks[1].Spec)
	assert.False(t, snap.Running)
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	for _, body := range []string{
		"tasks:\n  - name: a\n    schedule: whenever\n",
		"scheduler:\n  tick: soon\n",
		"storage:\n  driver: sqlite\n",
		"unknown: 1\n",
	} {
		_, err := NewApp(writeConfig(t, dir, body))
		assert.Error(t, err, body)
	}
	_, err := NewApp(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRunsTasksAndJournals(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	path := writeConfig(t, dir, `
logging:
  level: error
scheduler:
  tick: 10ms
  drain_timeout: 1s
storage:
  driver: sqlite
  path: `+dbPath+`
tasks:
  - name: steam
    schedule: 30ms
    message: Checking Steam Prices...
  - name: warmup
    schedule: once:0s
    message: warmed up
  - name: off
    schedule: 10ms
    message: never printed
    enabled: false
`)
	out := &lockedBuffer{}
	a, err := NewApp(path, WithOutput(out))
	require.NoError(t, err)
	require.Equal(t, 2, a.Scheduler().Len())

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Count(s, "Checking Steam Prices...") >= 2 && strings.Contains(s, "warmed up")
	}, 3*time.Second, 5*time.Millisecond)
	stopApp(t, a)

	assert.NotContains(t, out.String(), "never printed")
	assert.Equal(t, 1, strings.Count(out.String(), "warmed up"))
	assert.False(t, a.Scheduler().Running())

	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: dbPath}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.Recent(context.Background(), 100)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	names := map[string]bool{}
	for _, r := range runs {
		assert.Equal(t, storage.OutcomeFinished, r.Outcome)
		names[r.Task] = true
	}
	assert.True(t, names["steam"])
	assert.True(t, names["warmup"])
}

func TestStopHaltsOutput(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
logging:
  level: error
scheduler:
  tick: 10ms
tasks:
  - name: fast
    schedule: 0s
    message: tick
`)
	out := &lockedBuffer{}
	a, err := NewApp(path, WithOutput(out))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "tick") }, time.Second, 5*time.Millisecond)
	stopApp(t, a)

	before := out.String()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, out.String())

	// Stop is idempotent.
	stopApp(t, a)
}

func TestSchedulerDisabled(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "logging:\n  level: error\nscheduler:\n  enabled: false\n")
	a, err := NewApp(path)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)
	assert.False(t, a.Scheduler().Running())
}

func TestHotReloadAddsTasks(t *testing.T) {
	dir := t.TempDir()
	base := `
logging:
  level: error
scheduler:
  tick: 10ms
tasks:
  - name: steam
    schedule: 20ms
    message: Checking Steam Prices...
`
	path := writeConfig(t, dir, base)
	out := &lockedBuffer{}
	a, err := NewApp(path, WithOutput(out))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Steam") }, 2*time.Second, 5*time.Millisecond)

	// Let the watcher settle before rewriting the file.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, base+`  - name: udemy
    schedule: 20ms
    message: Checking Udemy Prices...
`)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Checking Udemy Prices...") }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, a.Scheduler().Len())
}
