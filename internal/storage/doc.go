// Package storage persists wakebot state.
//
// Two concerns live here:
//   - SettingsStore: a small key/value table with compare-and-set, used for
//     the broadcast schedule (lastPostAt, postIntervalMs)
//   - LogSink: append-only message history (inbound/outbound)
//
// Drivers: memory, file (JSON + JSON Lines, flock guarded), sqlite, postgres.
package storage
