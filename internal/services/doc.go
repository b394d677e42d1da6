// Package services defines shared utilities consumed by the tool handlers,
// the workflow orchestrator, and the transport bindings.
//
// Key responsibilities:
//   - Context helpers that stamp call IDs, tool names, workflow steps, and the
//     transport binding for logging.
//   - Structured error markers plus the Wrap helper so failures from external
//     backends are classified consistently when they reach a caller.
//   - A progress reporter carried on the context so long-running steps can
//     stream status to transports that support it.
package services
