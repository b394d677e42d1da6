// Package tool defines the typed tool-call surface shared by every transport.
//
// A Call names a registered tool and carries its arguments. The Registry owns
// the tool table: it rejects duplicate registrations, resolves names, checks
// arguments against each tool's declared Schema (filling defaults), and runs
// the handler. Whatever happens inside a handler, Invoke hands back a Result
// that is either Ok with a payload or an Error with one of the closed Kinds.
package tool
