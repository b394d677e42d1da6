// Package preflight provides readiness checks for the backend commands and
// filesystem paths iara depends on.
//
// These checks run in two contexts:
//   - Server startup resolves backend availability once; tools whose backend
//     is missing stay registered and answer with an Unavailable failure.
//   - The CLI "iara check" command prints every result.
package preflight
