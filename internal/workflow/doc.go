// Package workflow runs composite tool calls as a dependency graph of steps.
//
// A Plan names its steps and the steps each one depends on. The Orchestrator
// groups steps into topological layers and runs every step of a layer
// concurrently, waiting for the layer to settle before starting the next.
// Each step ends in exactly one of three states: completed with a value,
// failed with an error kind, or skipped because a fatal step upstream of it
// failed. Failures never abort independent branches.
package workflow
