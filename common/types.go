package common

import "time"

// Identity is the key material a user has registered with the server.
type Identity struct {
	UserID string `json:"userId"`
	// SigningKey is the long-term ECDSA/Ed25519 public key, PEM or bare base64 SPKI.
	// Empty means no key has been registered yet.
	SigningKey string `json:"ecdsaPublicKey,omitempty"`
	// ExchangeKey is the long-term ECDH public key published next to the signing key.
	ExchangeKey   string     `json:"ecdhPublicKey,omitempty"`
	KeysUpdatedAt *time.Time `json:"keysUpdatedAt,omitempty"`
}

// SessionRecord is one side of a pairing, stored in its owner's record list.
type SessionRecord struct {
	SessionID          string    `json:"sessionId"`
	PeerID             string    `json:"otherUserId"`
	EphemeralPublicKey string    `json:"ecdhPublicKey"`
	ProofSignature     string    `json:"ecdhSignature"`
	CreatedAt          time.Time `json:"createdAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

// IsActive reports whether the record still counts for pairing at now.
// At exactly ExpiresAt a record is neither active nor expired: pairing
// ignores it, but it can still be read by id and is not swept yet.
func (r *SessionRecord) IsActive(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// IsExpired reports whether the record is past its TTL at now, strictly.
// See IsActive for the ExpiresAt == now boundary.
func (r *SessionRecord) IsExpired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// SessionView is the reconciled two-sided view returned to a caller.
type SessionView struct {
	SessionID        string    `json:"sessionId"`
	OwnerID          string    `json:"myUserId"`
	PeerID           string    `json:"otherUserId"`
	OwnEphemeralKey  string    `json:"myEcdhPublicKey"`
	OwnSignature     string    `json:"myEcdhSignature"`
	PeerEphemeralKey string    `json:"theirEcdhPublicKey"`
	PeerSignature    string    `json:"theirEcdhSignature"`
	PeerSigningKey   string    `json:"theirEcdsaPublicKey"`
	PeerFingerprint  string    `json:"theirFingerprint,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	IsNew            bool      `json:"isNew"`
}

// EventType names a session lifecycle transition.
type EventType string

const (
	EventCreated    EventType = "session.created"
	EventReused     EventType = "session.reused"
	EventReconciled EventType = "session.reconciled"
	EventAdopted    EventType = "session.adopted"
	EventRotated    EventType = "session.rotated"
	EventSwept      EventType = "session.swept"
)

// SessionEvent is emitted for every lifecycle transition so peers and operators
// can react without polling.
type SessionEvent struct {
	Type              EventType `json:"type"`
	OwnerID           string    `json:"ownerId,omitempty"`
	PeerID            string    `json:"peerId,omitempty"`
	SessionID         string    `json:"sessionId,omitempty"`
	PreviousSessionID string    `json:"previousSessionId,omitempty"`
	Removed           int       `json:"removed,omitempty"`
	At                time.Time `json:"at"`
}
