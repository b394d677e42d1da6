// Package textutil holds small string helpers for artifact naming and
// human-readable result fields.
package textutil
