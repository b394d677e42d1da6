// Package server assembles the iara process from configuration.
//
// It builds the shared components once (result cache, worker pool, artifact
// resolver, workflow orchestrator, call ledger), registers every tool, and
// runs the one transport binding the configuration selects. Network bindings
// hold a flock on the work directory so two servers never share scratch
// space; pipe servers are per-client subprocesses and skip the lock.
package server
