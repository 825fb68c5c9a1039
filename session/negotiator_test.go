package session_test

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minimal-sessions/common"
	"minimal-sessions/crypto/signer_ecdsa"
	"minimal-sessions/session"
	"minimal-sessions/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type user struct {
	id   string
	priv *ecdsa.PrivateKey
	pub  string
}

func newUser(t *testing.T, id string) user {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return user{id: id, priv: priv, pub: base64.StdEncoding.EncodeToString(der)}
}

// handshake returns a fresh X25519 ephemeral key and u's signature over it.
func (u user) handshake(t *testing.T) (string, string) {
	eph, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	ek := base64.StdEncoding.EncodeToString(eph.PublicKey().Bytes())
	sig, err := signer_ecdsa.Sign(u.priv, []byte(ek))
	require.NoError(t, err)
	return ek, base64.StdEncoding.EncodeToString(sig)
}

func (u user) sign(t *testing.T, message string) string {
	sig, err := signer_ecdsa.Sign(u.priv, []byte(message))
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

type recorder struct {
	mu     sync.Mutex
	events []common.SessionEvent
}

func (r *recorder) Emit(_ context.Context, ev common.SessionEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []common.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []common.EventType
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// countingStore hides the PairingReconciler fast path and counts writes.
type countingStore struct {
	session.RecordStore
	writes int
}

func (c *countingStore) Append(ctx context.Context, owner string, rec common.SessionRecord) error {
	c.writes++
	return c.RecordStore.Append(ctx, owner, rec)
}

func (c *countingStore) Remove(ctx context.Context, owner string, match func(common.SessionRecord) bool) (int, error) {
	c.writes++
	return c.RecordStore.Remove(ctx, owner, match)
}

func (c *countingStore) Replace(ctx context.Context, owner, old string, rec common.SessionRecord) error {
	c.writes++
	return c.RecordStore.Replace(ctx, owner, old, rec)
}

type fixture struct {
	ctx    context.Context
	store  *store.MemoryStore
	clock  *clock
	events *recorder
	neg    *session.Negotiator
	alice  user
	bob    user
}

func newFixture(t *testing.T, opts session.Options) *fixture {
	f := &fixture{
		ctx:    context.Background(),
		store:  store.NewMemoryStore(),
		clock:  &clock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)},
		events: &recorder{},
		alice:  newUser(t, "alice"),
		bob:    newUser(t, "bob"),
	}
	for _, u := range []user{f.alice, f.bob} {
		_, err := f.store.PutKeys(f.ctx, u.id, "", u.pub, f.clock.Now())
		require.NoError(t, err)
	}
	opts.Now = f.clock.Now
	opts.Events = f.events
	opts.StrictEphemeralKeys = true
	f.neg = session.NewNegotiator(f.store, f.store, opts)
	return f
}

func (f *fixture) seed(t *testing.T, owner, peer, id string) common.SessionRecord {
	now := f.clock.Now()
	rec := common.SessionRecord{
		SessionID:          id,
		PeerID:             peer,
		EphemeralPublicKey: "ek-" + owner,
		ProofSignature:     "sig-" + owner,
		CreatedAt:          now,
		ExpiresAt:          now.Add(session.DefaultTTL),
	}
	require.NoError(t, f.store.Append(f.ctx, owner, rec))
	return rec
}

func TestGetOrCreateNewPairing(t *testing.T) {
	f := newFixture(t, session.Options{})
	ek, sig := f.alice.handshake(t)

	view, err := f.neg.GetOrCreate(f.ctx, "alice", "bob", ek, sig)
	require.NoError(t, err)

	assert.True(t, view.IsNew)
	assert.Equal(t, "alice", view.OwnerID)
	assert.Equal(t, "bob", view.PeerID)
	assert.Equal(t, ek, view.OwnEphemeralKey)
	assert.Equal(t, sig, view.OwnSignature)
	assert.Empty(t, view.PeerEphemeralKey)
	assert.Equal(t, f.bob.pub, view.PeerSigningKey)
	assert.NotEmpty(t, view.PeerFingerprint)
	assert.Equal(t, session.DefaultTTL, view.ExpiresAt.Sub(view.CreatedAt))

	mine, err := f.store.FindActive(f.ctx, "alice", "bob", f.clock.Now())
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, view.SessionID, mine.SessionID)

	theirs, err := f.store.FindActive(f.ctx, "bob", "alice", f.clock.Now())
	require.NoError(t, err)
	assert.Nil(t, theirs, "only the requester side is written")

	assert.Equal(t, []common.EventType{common.EventCreated}, f.events.types())
}

func TestGetOrCreateNeverRepeatsIDs(t *testing.T) {
	f := newFixture(t, session.Options{})
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		ek, sig := f.alice.handshake(t)
		view, err := f.neg.GetOrCreate(f.ctx, "alice", "bob", ek, sig)
		require.NoError(t, err)
		assert.True(t, view.IsNew)
		assert.False(t, seen[view.SessionID])
		seen[view.SessionID] = true
	}
}

func TestGetOrCreateMatchedPairingDoesNotWrite(t *testing.T) {
	f := newFixture(t, session.Options{})
	counting := &countingStore{RecordStore: f.store}
	neg := session.NewNegotiator(f.store, counting, session.Options{Now: f.clock.Now})

	f.seed(t, "alice", "bob", "shared")
	f.seed(t, "bob", "alice", "shared")

	ek, sig := f.alice.handshake(t)
	for i := 0; i < 2; i++ {
		view, err := neg.GetOrCreate(f.ctx, "alice", "bob", ek, sig)
		require.NoError(t, err)
		assert.False(t, view.IsNew)
		assert.Equal(t, "shared", view.SessionID)
		assert.Equal(t, "ek-alice", view.OwnEphemeralKey)
		assert.Equal(t, "ek-bob", view.PeerEphemeralKey)
		assert.Equal(t, "sig-bob", view.PeerSignature)
	}
	assert.Zero(t, counting.writes)
}

func TestGetOrCreateReconcilesPeerOnlyRecord(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.seed(t, "bob", "alice", "S1")

	ek, sig := f.alice.handshake(t)
	view, err := f.neg.GetOrCreate(f.ctx, "alice", "bob", ek, sig)
	require.NoError(t, err)

	assert.True(t, view.IsNew)
	assert.NotEqual(t, "S1", view.SessionID)
	assert.Empty(t, view.PeerEphemeralKey)
	assert.Empty(t, view.PeerSignature)

	gone, err := f.store.FindByID(f.ctx, "bob", "S1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.Equal(t, []common.EventType{common.EventReconciled, common.EventCreated}, f.events.types())
	assert.Equal(t, "S1", f.events.events[0].PreviousSessionID)
}

func TestGetOrCreateReconcilesBothSidesMismatch(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.seed(t, "alice", "bob", "A1")
	f.seed(t, "bob", "alice", "B1")

	ek, sig := f.alice.handshake(t)
	view, err := f.neg.GetOrCreate(f.ctx, "alice", "bob", ek, sig)
	require.NoError(t, err)
	assert.True(t, view.IsNew)

	for owner, id := range map[string]string{"alice": "A1", "bob": "B1"} {
		rec, err := f.store.FindByID(f.ctx, owner, id)
		require.NoError(t, err)
		assert.Nil(t, rec, id)
	}
}

func TestGetOrCreateSequentialFallbackWithoutReconciler(t *testing.T) {
	f := newFixture(t, session.Options{})
	counting := &countingStore{RecordStore: f.store}
	neg := session.NewNegotiator(f.store, counting, session.Options{Now: f.clock.Now})
	f.seed(t, "alice", "bob", "A1")
	f.seed(t, "bob", "alice", "B1")

	ek, sig := f.alice.handshake(t)
	view, err := neg.GetOrCreate(f.ctx, "alice", "bob", ek, sig)
	require.NoError(t, err)
	assert.True(t, view.IsNew)
	assert.Equal(t, 3, counting.writes) // two removes, one append

	theirs, err := f.store.FindActive(f.ctx, "bob", "alice", f.clock.Now())
	require.NoError(t, err)
	assert.Nil(t, theirs)
}

func TestGetOrCreateErrors(t *testing.T) {
	f := newFixture(t, session.Options{})
	require.NoError(t, f.store.Register(f.ctx, "keyless"))
	stranger := newUser(t, "stranger")

	ek, sig := f.alice.handshake(t)
	_, foreignSig := stranger.handshake(t)
	otherEK, _ := f.alice.handshake(t)

	tests := []struct {
		name      string
		requester string
		peer      string
		ek        string
		sig       string
		want      error
	}{
		{"Self pairing", "alice", "alice", ek, sig, session.ErrValidation},
		{"Self pairing without keys", "keyless", "keyless", "", "", session.ErrValidation},
		{"Missing peer id", "alice", "", ek, sig, session.ErrValidation},
		{"Missing ephemeral key", "alice", "bob", "", sig, session.ErrValidation},
		{"Missing signature", "alice", "bob", ek, "", session.ErrValidation},
		{"Requester without signing key", "keyless", "bob", ek, sig, session.ErrAuth},
		{"Unknown requester", "ghost", "bob", ek, sig, session.ErrAuth},
		{"Unknown peer", "alice", "ghost", ek, sig, session.ErrNotFound},
		{"Peer without signing key", "alice", "keyless", ek, sig, session.ErrValidation},
		{"Signature by another key", "alice", "bob", ek, foreignSig, session.ErrAuth},
		{"Signature over another key", "alice", "bob", otherEK, sig, session.ErrAuth},
		{"Signature not base64", "alice", "bob", ek, "***", session.ErrAuth},
		{"Malformed ephemeral key", "alice", "bob", "bm90IGEga2V5", f.alice.sign(t, "bm90IGEga2V5"), session.ErrValidation},
		{"Malformed key signed by another key", "alice", "bob", "bm90IGEga2V5", stranger.sign(t, "bm90IGEga2V5"), session.ErrAuth},
		{"Malformed key with signature over another key", "alice", "bob", "bm90IGEga2V5", sig, session.ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.neg.GetOrCreate(f.ctx, tt.requester, tt.peer, tt.ek, tt.sig)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, tt.want, session.KindOf(err))
		})
	}

	// Nothing was written by any failed call.
	for _, owner := range []string{"alice", "bob", "keyless"} {
		rec, err := f.store.FindActive(f.ctx, owner, "bob", f.clock.Now())
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
}

func TestGetOrCreateLenientEphemeralKeys(t *testing.T) {
	f := newFixture(t, session.Options{})
	neg := session.NewNegotiator(f.store, f.store, session.Options{Now: f.clock.Now})

	ek := "opaque-key-material"
	sig, err := signer_ecdsa.Sign(f.alice.priv, []byte(ek))
	require.NoError(t, err)

	view, err := neg.GetOrCreate(f.ctx, "alice", "bob", ek, base64.StdEncoding.EncodeToString(sig))
	require.NoError(t, err)
	assert.Equal(t, ek, view.OwnEphemeralKey)
}

func TestAdoptPolicyConverges(t *testing.T) {
	f := newFixture(t, session.Options{Arbitration: session.ArbitrationAdopt})

	ekA, sigA := f.alice.handshake(t)
	first, err := f.neg.GetOrCreate(f.ctx, "alice", "bob", ekA, sigA)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	ekB, sigB := f.bob.handshake(t)
	second, err := f.neg.GetOrCreate(f.ctx, "bob", "alice", ekB, sigB)
	require.NoError(t, err)
	assert.True(t, second.IsNew)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, ekA, second.PeerEphemeralKey)
	assert.True(t, first.ExpiresAt.Equal(second.ExpiresAt))

	third, err := f.neg.GetOrCreate(f.ctx, "alice", "bob", ekA, sigA)
	require.NoError(t, err)
	assert.False(t, third.IsNew)
	assert.Equal(t, first.SessionID, third.SessionID)
	assert.Equal(t, ekB, third.PeerEphemeralKey)

	assert.Equal(t,
		[]common.EventType{common.EventCreated, common.EventAdopted, common.EventReused},
		f.events.types())
}

func TestAdoptPolicyAfterRotation(t *testing.T) {
	f := newFixture(t, session.Options{Arbitration: session.ArbitrationAdopt})
	f.seed(t, "alice", "bob", "S1")
	f.seed(t, "bob", "alice", "S1")

	ek, sig := f.alice.handshake(t)
	rotated, err := f.neg.Rotate(f.ctx, "alice", "S1", ek, sig)
	require.NoError(t, err)

	ekB, sigB := f.bob.handshake(t)
	view, err := f.neg.GetOrCreate(f.ctx, "bob", "alice", ekB, sigB)
	require.NoError(t, err)
	assert.Equal(t, rotated.SessionID, view.SessionID)

	old, err := f.store.FindByID(f.ctx, "bob", "S1")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestGetOrCreateUnverified(t *testing.T) {
	f := newFixture(t, session.Options{})
	require.NoError(t, f.store.Register(f.ctx, "keyless"))

	view, err := f.neg.GetOrCreateUnverified(f.ctx, "keyless", "alice", "any-key", "any-sig")
	require.NoError(t, err)
	assert.True(t, view.IsNew)
	assert.Equal(t, f.alice.pub, view.PeerSigningKey)

	_, err = f.neg.GetOrCreateUnverified(f.ctx, "ghost", "alice", "k", "s")
	assert.ErrorIs(t, err, session.ErrAuth)
	_, err = f.neg.GetOrCreateUnverified(f.ctx, "alice", "ghost", "k", "s")
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = f.neg.GetOrCreateUnverified(f.ctx, "alice", "alice", "k", "s")
	assert.ErrorIs(t, err, session.ErrValidation)
}

func TestGetByID(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.seed(t, "alice", "bob", "shared")
	f.seed(t, "bob", "alice", "shared")
	f.seed(t, "alice", "carol", "lonely")

	view, err := f.neg.GetByID(f.ctx, "alice", "shared")
	require.NoError(t, err)
	assert.False(t, view.IsNew)
	assert.Equal(t, "bob", view.PeerID)
	assert.Equal(t, "ek-bob", view.PeerEphemeralKey)
	assert.Equal(t, f.bob.pub, view.PeerSigningKey)

	// Peer half missing and peer unknown: empty peer fields, no error.
	view, err = f.neg.GetByID(f.ctx, "alice", "lonely")
	require.NoError(t, err)
	assert.Empty(t, view.PeerEphemeralKey)
	assert.Empty(t, view.PeerSigningKey)

	_, err = f.neg.GetByID(f.ctx, "bob", "lonely")
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = f.neg.GetByID(f.ctx, "alice", "")
	assert.ErrorIs(t, err, session.ErrValidation)

	// At exactly ExpiresAt the record is no longer active but still readable.
	f.clock.Advance(session.DefaultTTL)
	view, err = f.neg.GetByID(f.ctx, "alice", "shared")
	require.NoError(t, err)
	assert.Equal(t, "shared", view.SessionID)
	active, err := f.store.FindActive(f.ctx, "alice", "bob", f.clock.Now())
	require.NoError(t, err)
	assert.Nil(t, active)

	f.clock.Advance(time.Nanosecond)
	_, err = f.neg.GetByID(f.ctx, "alice", "shared")
	assert.ErrorIs(t, err, session.ErrExpired)
	assert.Equal(t, "EXPIRED", session.Code(err))
}

func TestRotate(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.seed(t, "alice", "bob", "S1")
	peer := f.seed(t, "bob", "alice", "S1")

	f.clock.Advance(time.Hour)
	ek, sig := f.alice.handshake(t)
	view, err := f.neg.Rotate(f.ctx, "alice", "S1", ek, sig)
	require.NoError(t, err)

	assert.True(t, view.IsNew)
	assert.NotEqual(t, "S1", view.SessionID)
	assert.Equal(t, "bob", view.PeerID)
	assert.Equal(t, ek, view.OwnEphemeralKey)
	assert.True(t, view.CreatedAt.Equal(f.clock.Now()))
	assert.True(t, view.ExpiresAt.Equal(f.clock.Now().Add(session.DefaultTTL)))
	// The peer is untouched and still reported.
	assert.Equal(t, peer.EphemeralPublicKey, view.PeerEphemeralKey)

	_, err = f.neg.GetByID(f.ctx, "alice", "S1")
	assert.ErrorIs(t, err, session.ErrNotFound)

	peerRec, err := f.store.FindByID(f.ctx, "bob", "S1")
	require.NoError(t, err)
	assert.NotNil(t, peerRec)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, common.EventRotated, last.Type)
	assert.Equal(t, "S1", last.PreviousSessionID)
}

func TestRotateErrors(t *testing.T) {
	f := newFixture(t, session.Options{})
	require.NoError(t, f.store.Register(f.ctx, "keyless"))
	f.seed(t, "alice", "bob", "S1")
	f.seed(t, "keyless", "bob", "K1")

	ek, sig := f.alice.handshake(t)
	_, bobSig := f.bob.handshake(t)

	tests := []struct {
		name    string
		caller  string
		session string
		ek      string
		sig     string
		want    error
	}{
		{"Missing fields", "alice", "S1", "", sig, session.ErrValidation},
		{"Unknown caller", "ghost", "S1", ek, sig, session.ErrNotFound},
		{"Caller without key", "keyless", "K1", ek, sig, session.ErrNotFound},
		{"Unknown session", "alice", "nope", ek, sig, session.ErrNotFound},
		{"Foreign session", "bob", "S1", ek, sig, session.ErrNotFound},
		{"Bad signature", "alice", "S1", ek, bobSig, session.ErrAuth},
		{"Malformed key", "alice", "S1", "bm90IGEga2V5", f.alice.sign(t, "bm90IGEga2V5"), session.ErrValidation},
		{"Malformed key signed by another key", "alice", "S1", "bm90IGEga2V5", f.bob.sign(t, "bm90IGEga2V5"), session.ErrAuth},
		{"Malformed key with signature over another key", "alice", "S1", "%%%", sig, session.ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.neg.Rotate(f.ctx, tt.caller, tt.session, tt.ek, tt.sig)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.want, session.KindOf(err))
		})
	}

	rec, err := f.store.FindByID(f.ctx, "alice", "S1")
	require.NoError(t, err)
	assert.NotNil(t, rec, "failed rotations leave the record in place")
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t, session.Options{TTL: time.Hour})
	now := f.clock.Now()
	add := func(owner, id string, expires time.Time) {
		require.NoError(t, f.store.Append(f.ctx, owner, common.SessionRecord{
			SessionID: id, PeerID: "x", CreatedAt: expires.Add(-time.Hour), ExpiresAt: expires,
		}))
	}
	add("alice", "past", now.Add(-time.Minute))
	add("bob", "past2", now.Add(-time.Nanosecond))
	add("bob", "edge", now)
	add("carol", "future", now.Add(time.Minute))

	removed, err := f.neg.CleanupExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = f.neg.CleanupExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	for owner, id := range map[string]string{"bob": "edge", "carol": "future"} {
		rec, err := f.store.FindByID(f.ctx, owner, id)
		require.NoError(t, err)
		assert.NotNil(t, rec, id)
	}

	f.clock.Advance(2 * time.Minute)
	removed, err = f.neg.CleanupExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

type failingStore struct {
	session.RecordStore
	err error
}

func (s failingStore) FindActive(context.Context, string, string, time.Time) (*common.SessionRecord, error) {
	return nil, s.err
}

func (s failingStore) Replace(context.Context, string, string, common.SessionRecord) error {
	return s.err
}

func TestStoreErrorsAreClassified(t *testing.T) {
	f := newFixture(t, session.Options{})
	ek, sig := f.alice.handshake(t)

	neg := session.NewNegotiator(f.store, failingStore{RecordStore: f.store, err: errors.New("boom")}, session.Options{Now: f.clock.Now})
	_, err := neg.GetOrCreate(f.ctx, "alice", "bob", ek, sig)
	assert.ErrorIs(t, err, session.ErrInternal)
	assert.Equal(t, "INTERNAL", session.Code(err))

	f.seed(t, "alice", "bob", "S1")
	neg = session.NewNegotiator(f.store, failingStore{RecordStore: f.store, err: session.ErrConcurrentUpdate}, session.Options{Now: f.clock.Now})
	_, err = neg.Rotate(f.ctx, "alice", "S1", ek, sig)
	assert.ErrorIs(t, err, session.ErrConflict)
	assert.Equal(t, "CONFLICT", session.Code(err))
}
