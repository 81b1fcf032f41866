// Package storage keeps a history of worker runs: one record per gate
// decision, with the plan text when the agent ran. Drivers are an append-only
// JSON log, MySQL and SQLite; the SQL drivers share one schema and one
// migration runner.
package storage
