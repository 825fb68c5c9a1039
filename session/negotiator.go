package session

import (
	"context"
	"time"

	"minimal-sessions/common"
	"minimal-sessions/crypto/ephemeral"
	"minimal-sessions/protocol/fingerprint"
	"minimal-sessions/protocol/sessionid"
	"minimal-sessions/protocol/verifier"
)

// DefaultTTL is the lifetime of a session record.
const DefaultTTL = 48 * time.Hour

// ArbitrationPolicy decides what a handshake does when the peer already
// holds an active record for the requester that the requester does not match.
type ArbitrationPolicy string

const (
	// ArbitrationReconcile purges both sides and mints a fresh id on the
	// requester's side. Two racing callers can keep minting distinct ids.
	ArbitrationReconcile ArbitrationPolicy = "reconcile"
	// ArbitrationAdopt makes the requester take over the peer's active id so
	// the pairing converges on the second handshake. Two concurrent adopts can
	// still swap ids; the next handshake settles them.
	ArbitrationAdopt ArbitrationPolicy = "adopt"
)

// SignatureVerifier checks a base64 signature over message with a PEM key.
type SignatureVerifier interface {
	VerifyBase64(message []byte, signature, signerPublicKey string) bool
}

// IDGenerator mints session ids for a participant pair.
type IDGenerator interface {
	Generate(idA, idB string) (string, error)
}

// Options tunes a Negotiator. Zero fields take defaults.
type Options struct {
	TTL                 time.Duration
	Arbitration         ArbitrationPolicy
	StrictEphemeralKeys bool
	Verifier            SignatureVerifier
	IDs                 IDGenerator
	Events              EventSink
	Now                 func() time.Time
}

// Negotiator is the two-sided session state machine. It holds no locks: all
// coordination goes through the RecordStore.
type Negotiator struct {
	identities IdentityStore
	records    RecordStore

	ttl      time.Duration
	policy   ArbitrationPolicy
	strict   bool
	verifier SignatureVerifier
	ids      IDGenerator
	events   EventSink
	now      func() time.Time
}

func NewNegotiator(identities IdentityStore, records RecordStore, opts Options) *Negotiator {
	n := &Negotiator{
		identities: identities,
		records:    records,
		ttl:        opts.TTL,
		policy:     opts.Arbitration,
		strict:     opts.StrictEphemeralKeys,
		verifier:   opts.Verifier,
		ids:        opts.IDs,
		events:     opts.Events,
		now:        opts.Now,
	}
	if n.ttl <= 0 {
		n.ttl = DefaultTTL
	}
	if n.policy == "" {
		n.policy = ArbitrationReconcile
	}
	if n.verifier == nil {
		n.verifier = verifier.New()
	}
	if n.ids == nil {
		n.ids = sessionid.New()
	}
	if n.events == nil {
		n.events = nopSink{}
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n
}

// GetOrCreate returns the matched pairing between requester and peer, or
// reconciles a mismatched one and creates a fresh record on the requester's
// side.
//
// Steps:
//  1. Reject self-pairing and empty input.
//  2. Require the requester's signing key and the peer's existence and key.
//  3. Verify the signature over the ephemeral key with the requester's own
//     key, then the key's format.
//  4. Return the existing pairing untouched when both sides agree.
//  5. Otherwise purge stale records and write the new one.
func (n *Negotiator) GetOrCreate(ctx context.Context, requesterID, peerID, ephemeralKey, signature string) (common.SessionView, error) {
	const op = "get-or-create"

	if requesterID == peerID {
		return common.SessionView{}, newError(op, ErrValidation, "cannot create session with yourself")
	}
	if err := requireFields(op, peerID, ephemeralKey, signature); err != nil {
		return common.SessionView{}, err
	}

	requesterKey, err := n.identities.SigningKey(ctx, requesterID)
	if err != nil {
		return common.SessionView{}, wrapError(op, ErrInternal, "failed to load requester", err)
	}
	if requesterKey == "" {
		return common.SessionView{}, newError(op, ErrAuth, "your signing key was not found")
	}

	peerKey, err := n.requirePeer(ctx, op, peerID)
	if err != nil {
		return common.SessionView{}, err
	}
	if peerKey == "" {
		return common.SessionView{}, newError(op, ErrValidation, "other user has not set up encryption keys")
	}

	if !n.verifier.VerifyBase64([]byte(ephemeralKey), signature, requesterKey) {
		return common.SessionView{}, newError(op, ErrAuth, "invalid signature for ephemeral key")
	}
	if err := n.checkEphemeralKey(op, ephemeralKey); err != nil {
		return common.SessionView{}, err
	}

	return n.negotiate(ctx, op, requesterID, peerID, peerKey, ephemeralKey, signature)
}

// GetOrCreateUnverified is GetOrCreate without any signing-key requirement
// or signature check. It exists for development clients only.
func (n *Negotiator) GetOrCreateUnverified(ctx context.Context, requesterID, peerID, ephemeralKey, signature string) (common.SessionView, error) {
	const op = "get-or-create-unverified"

	if requesterID == peerID {
		return common.SessionView{}, newError(op, ErrValidation, "cannot create session with yourself")
	}
	if err := requireFields(op, peerID, ephemeralKey, signature); err != nil {
		return common.SessionView{}, err
	}

	ok, err := n.identities.Exists(ctx, requesterID)
	if err != nil {
		return common.SessionView{}, wrapError(op, ErrInternal, "failed to load requester", err)
	}
	if !ok {
		return common.SessionView{}, newError(op, ErrAuth, "user not found")
	}
	peerKey, err := n.requirePeer(ctx, op, peerID)
	if err != nil {
		return common.SessionView{}, err
	}

	return n.negotiate(ctx, op, requesterID, peerID, peerKey, ephemeralKey, signature)
}

func (n *Negotiator) negotiate(ctx context.Context, op, requesterID, peerID, peerKey, ephemeralKey, signature string) (common.SessionView, error) {
	now := n.now()

	mine, err := n.records.FindActive(ctx, requesterID, peerID, now)
	if err != nil {
		return common.SessionView{}, storeError(op, "failed to read own session", err)
	}
	theirs, err := n.records.FindActive(ctx, peerID, requesterID, now)
	if err != nil {
		return common.SessionView{}, storeError(op, "failed to read peer session", err)
	}

	if mine != nil && theirs != nil && mine.SessionID == theirs.SessionID {
		n.emit(ctx, common.SessionEvent{Type: common.EventReused, OwnerID: requesterID, PeerID: peerID, SessionID: mine.SessionID, At: now})
		return n.view(requesterID, peerID, peerKey, mine, theirs, false), nil
	}

	if n.policy == ArbitrationAdopt && theirs != nil {
		rec := common.SessionRecord{
			SessionID:          theirs.SessionID,
			PeerID:             peerID,
			EphemeralPublicKey: ephemeralKey,
			ProofSignature:     signature,
			CreatedAt:          now,
			ExpiresAt:          theirs.ExpiresAt,
		}
		if err := n.writePairing(ctx, requesterID, peerID, rec, false); err != nil {
			return common.SessionView{}, storeError(op, "failed to adopt peer session", err)
		}
		ev := common.SessionEvent{Type: common.EventAdopted, OwnerID: requesterID, PeerID: peerID, SessionID: rec.SessionID, At: now}
		if mine != nil {
			ev.PreviousSessionID = mine.SessionID
		}
		n.emit(ctx, ev)
		return n.view(requesterID, peerID, peerKey, &rec, theirs, true), nil
	}

	sessionID, err := n.ids.Generate(requesterID, peerID)
	if err != nil {
		return common.SessionView{}, wrapError(op, ErrInternal, "failed to generate session id", err)
	}
	rec := common.SessionRecord{
		SessionID:          sessionID,
		PeerID:             peerID,
		EphemeralPublicKey: ephemeralKey,
		ProofSignature:     signature,
		CreatedAt:          now,
		ExpiresAt:          now.Add(n.ttl),
	}
	if err := n.writePairing(ctx, requesterID, peerID, rec, true); err != nil {
		return common.SessionView{}, storeError(op, "failed to store session", err)
	}

	if mine != nil || theirs != nil {
		ev := common.SessionEvent{Type: common.EventReconciled, OwnerID: requesterID, PeerID: peerID, SessionID: sessionID, At: now}
		if mine != nil {
			ev.PreviousSessionID = mine.SessionID
		} else {
			ev.PreviousSessionID = theirs.SessionID
		}
		n.emit(ctx, ev)
	}
	n.emit(ctx, common.SessionEvent{Type: common.EventCreated, OwnerID: requesterID, PeerID: peerID, SessionID: sessionID, At: now})

	// The peer may have run its own handshake in the meantime.
	refreshed, err := n.records.FindActive(ctx, peerID, requesterID, now)
	if err != nil {
		return common.SessionView{}, storeError(op, "failed to re-read peer session", err)
	}
	return n.view(requesterID, peerID, peerKey, &rec, refreshed, true), nil
}

// GetByID returns the caller's record with the peer's mirrored half, if any.
func (n *Negotiator) GetByID(ctx context.Context, callerID, sessionID string) (common.SessionView, error) {
	const op = "get"

	if sessionID == "" {
		return common.SessionView{}, newError(op, ErrValidation, "session id is required")
	}
	rec, err := n.records.FindByID(ctx, callerID, sessionID)
	if err != nil {
		return common.SessionView{}, storeError(op, "failed to read session", err)
	}
	if rec == nil {
		return common.SessionView{}, newError(op, ErrNotFound, "session not found or you are not a participant")
	}
	if rec.IsExpired(n.now()) {
		return common.SessionView{}, newError(op, ErrExpired, "session has expired")
	}

	mirror, err := n.records.FindByID(ctx, rec.PeerID, sessionID)
	if err != nil {
		return common.SessionView{}, storeError(op, "failed to read peer session", err)
	}
	if mirror != nil && mirror.PeerID != callerID {
		mirror = nil
	}
	peerKey, err := n.identities.SigningKey(ctx, rec.PeerID)
	if err != nil {
		return common.SessionView{}, wrapError(op, ErrInternal, "failed to load peer", err)
	}
	return n.view(callerID, rec.PeerID, peerKey, rec, mirror, false), nil
}

// Rotate replaces the caller's record with a fresh id, key and TTL. The peer
// is not touched, so the pairing stays mismatched until the peer rotates or
// re-handshakes.
func (n *Negotiator) Rotate(ctx context.Context, callerID, sessionID, newEphemeralKey, newSignature string) (common.SessionView, error) {
	const op = "rotate"

	if sessionID == "" || newEphemeralKey == "" || newSignature == "" {
		return common.SessionView{}, newError(op, ErrValidation, "session id, new key and new signature are required")
	}

	callerKey, err := n.identities.SigningKey(ctx, callerID)
	if err != nil {
		return common.SessionView{}, wrapError(op, ErrInternal, "failed to load caller", err)
	}
	if callerKey == "" {
		return common.SessionView{}, newError(op, ErrNotFound, "user or signing key not found")
	}

	old, err := n.records.FindByID(ctx, callerID, sessionID)
	if err != nil {
		return common.SessionView{}, storeError(op, "failed to read session", err)
	}
	if old == nil {
		return common.SessionView{}, newError(op, ErrNotFound, "session not found")
	}

	if !n.verifier.VerifyBase64([]byte(newEphemeralKey), newSignature, callerKey) {
		return common.SessionView{}, newError(op, ErrAuth, "invalid signature for new ephemeral key")
	}
	if err := n.checkEphemeralKey(op, newEphemeralKey); err != nil {
		return common.SessionView{}, err
	}

	newID, err := n.ids.Generate(callerID, old.PeerID)
	if err != nil {
		return common.SessionView{}, wrapError(op, ErrInternal, "failed to generate session id", err)
	}
	now := n.now()
	rec := common.SessionRecord{
		SessionID:          newID,
		PeerID:             old.PeerID,
		EphemeralPublicKey: newEphemeralKey,
		ProofSignature:     newSignature,
		CreatedAt:          now,
		ExpiresAt:          now.Add(n.ttl),
	}
	if err := n.records.Replace(ctx, callerID, sessionID, rec); err != nil {
		return common.SessionView{}, storeError(op, "failed to replace session", err)
	}
	n.emit(ctx, common.SessionEvent{
		Type:              common.EventRotated,
		OwnerID:           callerID,
		PeerID:            old.PeerID,
		SessionID:         newID,
		PreviousSessionID: sessionID,
		At:                now,
	})

	theirs, err := n.records.FindActive(ctx, old.PeerID, callerID, now)
	if err != nil {
		return common.SessionView{}, storeError(op, "failed to read peer session", err)
	}
	peerKey, err := n.identities.SigningKey(ctx, old.PeerID)
	if err != nil {
		return common.SessionView{}, wrapError(op, ErrInternal, "failed to load peer", err)
	}
	return n.view(callerID, old.PeerID, peerKey, &rec, theirs, true), nil
}

// CleanupExpired removes every record past its TTL across all identities and
// returns how many were removed.
func (n *Negotiator) CleanupExpired(ctx context.Context) (int, error) {
	const op = "cleanup"

	now := n.now()
	expired := ExpiredAt(now)
	total := 0
	err := n.records.ForEachIdentity(ctx, func(ownerID string) error {
		removed, err := n.records.Remove(ctx, ownerID, expired)
		total += removed
		return err
	})
	if err != nil {
		return total, storeError(op, "failed to sweep expired sessions", err)
	}
	n.emit(ctx, common.SessionEvent{Type: common.EventSwept, Removed: total, At: now})
	return total, nil
}

func (n *Negotiator) requirePeer(ctx context.Context, op, peerID string) (string, error) {
	ok, err := n.identities.Exists(ctx, peerID)
	if err != nil {
		return "", wrapError(op, ErrInternal, "failed to load other user", err)
	}
	if !ok {
		return "", newError(op, ErrNotFound, "other user not found")
	}
	key, err := n.identities.SigningKey(ctx, peerID)
	if err != nil {
		return "", wrapError(op, ErrInternal, "failed to load other user", err)
	}
	return key, nil
}

func (n *Negotiator) checkEphemeralKey(op, key string) error {
	if !n.strict {
		return nil
	}
	if err := ephemeral.Validate(key); err != nil {
		return wrapError(op, ErrValidation, "malformed ephemeral key", err)
	}
	return nil
}

func (n *Negotiator) writePairing(ctx context.Context, ownerID, peerID string, rec common.SessionRecord, purgePeer bool) error {
	if r, ok := n.records.(PairingReconciler); ok {
		return r.ReconcilePairing(ctx, ownerID, peerID, rec, purgePeer)
	}
	if _, err := n.records.Remove(ctx, ownerID, ForPeer(peerID)); err != nil {
		return err
	}
	if purgePeer {
		if _, err := n.records.Remove(ctx, peerID, ForPeer(ownerID)); err != nil {
			return err
		}
	}
	return n.records.Append(ctx, ownerID, rec)
}

func (n *Negotiator) view(ownerID, peerID, peerKey string, own, theirs *common.SessionRecord, isNew bool) common.SessionView {
	v := common.SessionView{
		SessionID:       own.SessionID,
		OwnerID:         ownerID,
		PeerID:          peerID,
		OwnEphemeralKey: own.EphemeralPublicKey,
		OwnSignature:    own.ProofSignature,
		PeerSigningKey:  peerKey,
		CreatedAt:       own.CreatedAt,
		ExpiresAt:       own.ExpiresAt,
		IsNew:           isNew,
	}
	if theirs != nil {
		v.PeerEphemeralKey = theirs.EphemeralPublicKey
		v.PeerSignature = theirs.ProofSignature
	}
	if peerKey != "" {
		if fp, err := fingerprint.ForSigningKey(peerKey, peerID); err == nil {
			v.PeerFingerprint = fp
		}
	}
	return v
}

func (n *Negotiator) emit(ctx context.Context, ev common.SessionEvent) {
	n.events.Emit(ctx, ev)
}

func requireFields(op, peerID, ephemeralKey, signature string) error {
	switch {
	case peerID == "":
		return newError(op, ErrValidation, "other user id is required")
	case ephemeralKey == "":
		return newError(op, ErrValidation, "ephemeral public key is required")
	case signature == "":
		return newError(op, ErrValidation, "ephemeral key signature is required")
	}
	return nil
}
