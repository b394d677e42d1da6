// Package toolset registers the audio tools served by iara.
//
// Every expensive tool follows the same path: confirm the input file exists,
// derive a cache key from the file identity and parameters, and compute on a
// miss through the worker pool. Artifacts are resolved before the result is
// cached, so a cached separation carries the same refs as the original run.
// The caller's soft deadline bounds only how long it waits; the computation
// itself keeps going and lands in the cache.
package toolset
