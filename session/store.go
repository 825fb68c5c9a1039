package session

import (
	"context"
	"time"

	"minimal-sessions/common"
)

// IdentityStore is the read-only view of registered identities.
type IdentityStore interface {
	Exists(ctx context.Context, userID string) (bool, error)
	// SigningKey returns "" when the identity is unknown or has no key.
	SigningKey(ctx context.Context, userID string) (string, error)
}

// KeyRegistry manages the public keys an identity publishes.
type KeyRegistry interface {
	IdentityStore
	// Identity returns nil when the identity is unknown.
	Identity(ctx context.Context, userID string) (*common.Identity, error)
	// Register creates an identity without keys; it is a no-op if it exists.
	Register(ctx context.Context, userID string) error
	PutKeys(ctx context.Context, userID, exchangeKey, signingKey string, at time.Time) (common.Identity, error)
}

// RecordStore is the per-identity record list contract.
type RecordStore interface {
	// FindActive returns ownerID's latest record for peerID still active at
	// now, or nil.
	FindActive(ctx context.Context, ownerID, peerID string, now time.Time) (*common.SessionRecord, error)
	// FindByID returns ownerID's record with the given id regardless of
	// expiry, or nil.
	FindByID(ctx context.Context, ownerID, sessionID string) (*common.SessionRecord, error)
	Append(ctx context.Context, ownerID string, rec common.SessionRecord) error
	// Remove deletes every record of ownerID matching match and returns how
	// many were deleted.
	Remove(ctx context.Context, ownerID string, match func(common.SessionRecord) bool) (int, error)
	// Replace atomically swaps the record oldSessionID for rec. It returns
	// ErrRecordNotFound when oldSessionID is absent.
	Replace(ctx context.Context, ownerID, oldSessionID string, rec common.SessionRecord) error
	ForEachIdentity(ctx context.Context, fn func(ownerID string) error) error
}

// PairingReconciler is implemented by stores that can rewrite both halves of
// a pairing in one atomic step: drop ownerID's records for peerID, drop
// peerID's records for ownerID when purgePeer is set, then store rec for
// ownerID.
type PairingReconciler interface {
	ReconcilePairing(ctx context.Context, ownerID, peerID string, rec common.SessionRecord, purgePeer bool) error
}

// ForPeer matches records pointing at peerID.
func ForPeer(peerID string) func(common.SessionRecord) bool {
	return func(r common.SessionRecord) bool { return r.PeerID == peerID }
}

// ExpiredAt matches records past their TTL at now.
func ExpiredAt(now time.Time) func(common.SessionRecord) bool {
	return func(r common.SessionRecord) bool { return r.IsExpired(now) }
}
