// Package scheduler polls registered tasks on a fixed tick and dispatches the
// ones that report themselves due.
//
// The scheduler is responsible only for:
//   - holding tasks in registration order
//   - running one polling loop per Start
//   - calling ShouldRun/Run for each task, isolating panics per task
//
// Execution itself happens in internal/task/engine.
package scheduler
