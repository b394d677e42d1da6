// Package logging assembles the structured slog loggers used across iara.
//
// It owns the console and JSON handlers, keeps human-readable output on
// stderr (stdout belongs to the pipe transport), optionally tees records into
// a JSON log file, and exposes context-aware helpers so handlers can tag log
// lines with call IDs, tool names, and workflow steps.
package logging
