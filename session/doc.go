// Package session negotiates the shared session record two identities use to
// anchor an end-to-end encrypted conversation.
//
// Each identity owns its own list of session records; a pairing is the
// logical relation between A's record for B and B's record for A. The
// Negotiator creates, matches, reconciles and rotates those records, and the
// Reaper sweeps the ones past their TTL.
package session
