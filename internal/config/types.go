package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Engine controls execution bookkeeping. Optional.
	Engine *EngineConfig `json:"engine,omitempty"`

	// Storage enables the run journal. Nil means no journal.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Tasks is the static task list. A nil list (key omitted) selects the
	// built-in demo tasks; an explicit empty list registers nothing.
	Tasks []TaskConfig `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the polling loop.
//
// Enabled is a pointer so an omitted key defaults to true.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - tick: "1s"
//   - drain_timeout: "5s"
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Tick is a Go duration string (e.g. "1s", "250ms").
	Tick string `json:"tick,omitempty"`
	// DrainTimeout bounds how long shutdown waits for in-flight actions.
	// Use "0s" for the default.
	DrainTimeout string `json:"drain_timeout,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EngineConfig controls the dispatcher.
//
// Defaults:
//   - history_size: 200
//   - panic_log_rate: 5 (panic warnings per second)
type EngineConfig struct {
	HistorySize  int     `json:"history_size,omitempty"`
	PanicLogRate float64 `json:"panic_log_rate,omitempty"`
}

// StorageConfig controls the run journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskpoll.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TaskConfig declares one task. Schedule accepts the forms understood by
// scheduler.ParseSchedule ("5s", "00:50", "*/5 * * * *", "once:10s").
//
// The action prints Message to stdout.
type TaskConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Message  string `json:"message,omitempty"`
	// Overlap is "allow" (default) or "skip" ("skip_if_running").
	Overlap string `json:"overlap,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
}

func (t TaskConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// DefaultTasks is used when the config has no tasks key.
func DefaultTasks() []TaskConfig {
	return []TaskConfig{
		{Name: "steam", Schedule: "5s", Message: "Checking Steam Prices..."},
		{Name: "udemy", Schedule: "10s", Message: "Checking Udemy Prices..."},
	}
}

// EffectiveTasks returns the configured tasks, or DefaultTasks if the key
// was omitted.
func (c *Config) EffectiveTasks() []TaskConfig {
	if c == nil || c.Tasks == nil {
		return DefaultTasks()
	}
	return c.Tasks
}

// Validate checks structural constraints that do not need other packages.
// Schedules are validated by the app against the scheduler's parser.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := ParseDurationField("scheduler.tick", c.Scheduler.Tick); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.drain_timeout", c.Scheduler.DrainTimeout); err != nil {
		return err
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(c.Tasks))
	for i, t := range c.Tasks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tasks[%d].name: required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("tasks[%d].name: duplicate %q", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(t.Schedule) == "" {
			return fmt.Errorf("tasks[%d].schedule: required", i)
		}
		switch strings.ToLower(strings.TrimSpace(t.Overlap)) {
		case "", "allow", "skip", "skip_if_running":
		default:
			return fmt.Errorf("tasks[%d].overlap: must be allow or skip", i)
		}
	}
	return nil
}
