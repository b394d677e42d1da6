// Package resultcache memoizes expensive tool computations for the life of
// the process.
//
// Keys are content addressed: an operation name, the identity of every input
// file (canonical path plus size, modification time, inode, and device), and
// the JSON encoding of the call parameters. Editing or replacing an input
// file therefore changes the key.
//
// GetOrCompute guarantees at most one running computation per key. Callers
// that arrive while a computation is in flight wait for it and receive the
// same value or the same error. Failures are never stored. A caller whose
// context ends stops waiting, but the computation keeps running (bounded by a
// hard limit) and its result is stored for the next caller.
//
// Entries are evicted least-recently-used once the entry count or the byte
// budget is exceeded. Purge drops everything and detaches in-flight
// computations so their results are discarded.
package resultcache
