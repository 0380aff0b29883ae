package app

import (
	"fmt"
	"strings"
	"time"

	"taskpoll/internal/storage"
	"taskpoll/internal/task/engine"
	"taskpoll/internal/task/scheduler"
)

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./taskpoll"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *Config) engine.Config {
	if cfg == nil || cfg.Engine == nil {
		return engine.Config{}
	}
	return engine.Config{
		HistorySize:  cfg.Engine.HistorySize,
		PanicLogRate: cfg.Engine.PanicLogRate,
	}
}

func mapSchedulerConfig(cfg *Config) (scheduler.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, nil
	}
	tick, err := parseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, scheduler.DefaultTick)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Tick: tick}, nil
}

func drainTimeout(cfg *Config) time.Duration {
	if cfg == nil {
		return 5 * time.Second
	}
	d, err := parseDurationOrDefault("scheduler.drain_timeout", cfg.Scheduler.DrainTimeout, 5*time.Second)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
