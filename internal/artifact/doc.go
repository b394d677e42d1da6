// Package artifact decides how produced files (audio stems, plot images) are
// handed back to callers.
//
// The deployment environment is fixed when the Resolver is built. In local
// mode artifacts are written under the output root and returned as paths. In
// remote mode they are returned inline as base64 and the filesystem is never
// touched. A resolver never switches modes on its own.
package artifact
