// Package config loads, normalizes, and validates iara configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours IARA_* environment fallbacks for
// the handful of options operators usually flip per deployment (mode, output
// root, transport, log level). The Config type centralizes every knob the
// server and CLI need so the deployment environment, transport binding,
// cache budgets, and backend commands are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enum values, and clear validation errors.
package config
