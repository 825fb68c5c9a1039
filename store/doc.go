// Package store provides the identity and session record backends used by
// the negotiator: an in-process MemoryStore and Redis-backed stores.
//
// Session records are kept per owner, mirroring the per-identity record list
// of the session model. Multi-key writes are made atomic by the backend
// (a mutex in memory, WATCH/MULTI on Redis).
package store
