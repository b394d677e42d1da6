// Package main hosts the iara CLI entrypoint and command graph.
//
// `iara serve` runs the tool server on the configured transport. The other
// commands build the same components in-process: `tools` lists the catalog,
// `call` invokes one tool and prints the response envelope, `check` reports
// directory access and backend availability, and `config` scaffolds and
// validates configuration files.
package main
