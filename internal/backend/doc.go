// Package backend wraps the external programs that do the numeric work:
// feature extraction, Demucs source separation, instrument classification,
// plot rendering and ffprobe inspection.
//
// Each concern is an interface so tool handlers can be exercised with fakes.
// The exec-backed implementations share one Executor, which tests replace
// with WithExecutor.
package backend
