// Package ledger records every completed tool call in SQLite so operators can
// see per-tool timing and failure counts.
//
// The default store lives in memory for the lifetime of the process. Passing
// a path persists it across restarts.
package ledger
