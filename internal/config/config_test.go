package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  tick: 250ms
  drain_timeout: 3s
storage:
  driver: sqlite
  path: ./runs.db
tasks:
  - name: steam
    schedule: 5s
    message: Checking Steam Prices...
  - name: nightly
    schedule: "0 3 * * *"
    overlap: skip
    enabled: false
`

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("taskpoll.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Scheduler.IsEnabled())
	assert.Equal(t, "250ms", cfg.Scheduler.Tick)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Len(t, cfg.Tasks, 2)
	assert.True(t, cfg.Tasks[0].IsEnabled())
	assert.False(t, cfg.Tasks[1].IsEnabled())
	assert.Equal(t, "skip", cfg.Tasks[1].Overlap)
}

func TestDecodeJSON(t *testing.T) {
	cfg, err := Decode("taskpoll.json", []byte(`{"scheduler":{"enabled":false},"tasks":[]}`))
	require.NoError(t, err)
	assert.False(t, cfg.Scheduler.IsEnabled())
	assert.Empty(t, cfg.EffectiveTasks())
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"unknown key", "c.json", `{"telegram":{}}`},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "logging: [\n"},
		{"bad tick", "c.json", `{"scheduler":{"tick":"soon"}}`},
		{"negative drain", "c.json", `{"scheduler":{"drain_timeout":"-1s"}}`},
		{"unknown driver", "c.json", `{"storage":{"driver":"redis"}}`},
		{"task without name", "c.json", `{"tasks":[{"schedule":"5s"}]}`},
		{"task without schedule", "c.json", `{"tasks":[{"name":"a"}]}`},
		{"duplicate task", "c.json", `{"tasks":[{"name":"a","schedule":"1s"},{"name":"a","schedule":"2s"}]}`},
		{"bad overlap", "c.json", `{"tasks":[{"name":"a","schedule":"1s","overlap":"queue"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.file, []byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestEffectiveTasksDefaults(t *testing.T) {
	cfg, err := Decode("c.json", []byte(`{}`))
	require.NoError(t, err)
	tasks := cfg.EffectiveTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "Checking Steam Prices...", tasks[0].Message)
	assert.Equal(t, "5s", tasks[0].Schedule)
	assert.Equal(t, "Checking Udemy Prices...", tasks[1].Message)
	assert.Equal(t, "10s", tasks[1].Schedule)
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "abc", time.Second)
	assert.ErrorContains(t, err, "x: invalid duration")
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Tasks: []TaskConfig{{Name: "steam", Schedule: "5s"}}}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Tasks: []TaskConfig{
			{Name: "steam", Schedule: "5s"},
			{Name: "udemy", Schedule: "10s"},
			{Name: "backup", Schedule: "@daily"},
		},
	}
	changed, attrs, added := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "tasks"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"backup", "udemy"}, added)

	changed, _, added = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, added)
}

func TestManagerLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskpoll.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks: []\n"), 0o644))

	m := NewConfigManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("tasks:\n  - name: a\n    schedule: 1s\n"), 0o644))

	select {
	case got := <-ch:
		require.Len(t, got.Tasks, 1)
		assert.Equal(t, "a", got.Tasks[0].Name)
		assert.Same(t, got, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after write")
	}
}

func TestManagerRejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tasks":[]}`), 0o644))

	m := NewConfigManager(path)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if len(cfg.Tasks) > 1 {
			return assert.AnError
		}
		return nil
	})
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"tasks":[{"name":"a","schedule":"1s"},{"name":"b","schedule":"1s"}]}`), 0o644))
	assert.False(t, m.reload(context.Background()))
	assert.Empty(t, m.Get().Tasks)

	require.NoError(t, os.WriteFile(path, []byte(`{"tasks":[{"name":"a","schedule":"1s"}]}`), 0o644))
	assert.True(t, m.reload(context.Background()))
	assert.False(t, m.reload(context.Background()), "unchanged content is not republished")
	assert.Len(t, m.Get().Tasks, 1)
}
