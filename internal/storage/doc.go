// Package storage keeps a journal of task executions.
//
// The journal is write-only with respect to scheduling: nothing in it is
// read back to restore task state. It exists for diagnostics (Recent) and
// for operators inspecting past runs.
//
// Drivers:
//   - "file": JSON Lines, one record per run
//   - "sqlite": a single table, pruned to a bounded number of rows
package storage
