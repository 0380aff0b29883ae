package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskpoll/pkg/logx"
)

// SummarizeConfigChange returns (1) a sorted list of changed sections,
// (2) structured attrs for logging, and (3) the names of tasks present in
// newCfg but not in oldCfg.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.IsEnabled() != newCfg.Scheduler.IsEnabled() ||
		strings.TrimSpace(oldCfg.Scheduler.Tick) != strings.TrimSpace(newCfg.Scheduler.Tick) ||
		strings.TrimSpace(oldCfg.Scheduler.DrainTimeout) != strings.TrimSpace(newCfg.Scheduler.DrainTimeout) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
		)
	}

	if !reflect.DeepEqual(derefEngine(oldCfg.Engine), derefEngine(newCfg.Engine)) {
		changed = append(changed, "engine")
		e := derefEngine(newCfg.Engine)
		attrs = append(attrs, logx.Int("engine.history_size", e.HistorySize))
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	added := addedTasks(oldCfg.EffectiveTasks(), newCfg.EffectiveTasks())
	if !reflect.DeepEqual(oldCfg.EffectiveTasks(), newCfg.EffectiveTasks()) {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.count", len(newCfg.EffectiveTasks())),
			logx.Int("tasks.added", len(added)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, added
}

func derefEngine(e *EngineConfig) EngineConfig {
	if e == nil {
		return EngineConfig{}
	}
	return *e
}

func addedTasks(oldT, newT []TaskConfig) []string {
	have := make(map[string]struct{}, len(oldT))
	for _, t := range oldT {
		have[strings.TrimSpace(t.Name)] = struct{}{}
	}
	var out []string
	for _, t := range newT {
		name := strings.TrimSpace(t.Name)
		if _, ok := have[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
