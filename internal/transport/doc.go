// Package transport carries tool calls between callers and the registry.
//
// Every binding decodes requests into tool.Call values and hands them to a
// shared Dispatcher, which assigns call ids, attaches logging context,
// records the call in the ledger, and produces the response envelope. The
// envelope is byte-for-byte the same on every binding:
//
//	{"call_id":"…","ok":true,"result":{…}}
//	{"call_id":"…","ok":false,"error":{"kind":"…","message":"…"}}
//
// Pipe handles one line-delimited call at a time over stdin/stdout. HTTP
// and SSE accept overlapping calls; SSE additionally streams progress events
// before the final result.
package transport
