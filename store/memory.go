package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"minimal-sessions/common"
	"minimal-sessions/session"
)

// MemoryStore keeps identities and session records in process memory. It is
// used for tests and for single-node development servers.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[string]common.Identity
	records    map[string][]common.SessionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]common.Identity),
		records:    make(map[string][]common.SessionRecord),
	}
}

// Identities

func (s *MemoryStore) Exists(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.identities[userID]
	return ok, nil
}

func (s *MemoryStore) SigningKey(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identities[userID].SigningKey, nil
}

func (s *MemoryStore) Identity(_ context.Context, userID string) (*common.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[userID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (s *MemoryStore) Register(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[userID]; !ok {
		s.identities[userID] = common.Identity{UserID: userID}
	}
	return nil
}

func (s *MemoryStore) PutKeys(_ context.Context, userID, exchangeKey, signingKey string, at time.Time) (common.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := common.Identity{
		UserID:        userID,
		SigningKey:    signingKey,
		ExchangeKey:   exchangeKey,
		KeysUpdatedAt: &at,
	}
	s.identities[userID] = id
	return id, nil
}

// Session records

func (s *MemoryStore) FindActive(_ context.Context, ownerID, peerID string, now time.Time) (*common.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestActive(s.records[ownerID], peerID, now), nil
}

func (s *MemoryStore) FindByID(_ context.Context, ownerID, sessionID string) (*common.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records[ownerID] {
		if r.SessionID == sessionID {
			rec := r
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Append(_ context.Context, ownerID string, rec common.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ownerID] = append(s.records[ownerID], rec)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, ownerID string, match func(common.SessionRecord) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(ownerID, match), nil
}

func (s *MemoryStore) Replace(_ context.Context, ownerID, oldSessionID string, rec common.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[ownerID]
	for i := range recs {
		if recs[i].SessionID == oldSessionID {
			recs[i] = rec
			return nil
		}
	}
	return session.ErrRecordNotFound
}

func (s *MemoryStore) ReconcilePairing(_ context.Context, ownerID, peerID string, rec common.SessionRecord, purgePeer bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(ownerID, session.ForPeer(peerID))
	if purgePeer {
		s.removeLocked(peerID, session.ForPeer(ownerID))
	}
	s.records[ownerID] = append(s.records[ownerID], rec)
	return nil
}

func (s *MemoryStore) ForEachIdentity(ctx context.Context, fn func(ownerID string) error) error {
	s.mu.RLock()
	owners := make([]string, 0, len(s.records))
	for owner := range s.records {
		owners = append(owners, owner)
	}
	s.mu.RUnlock()
	sort.Strings(owners)

	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(owner); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) removeLocked(ownerID string, match func(common.SessionRecord) bool) int {
	recs := s.records[ownerID]
	kept := recs[:0]
	removed := 0
	for _, r := range recs {
		if match(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		delete(s.records, ownerID)
	} else {
		s.records[ownerID] = kept
	}
	return removed
}

// latestActive picks the newest record for peerID still active at now.
func latestActive(recs []common.SessionRecord, peerID string, now time.Time) *common.SessionRecord {
	var best *common.SessionRecord
	for i := range recs {
		r := recs[i]
		if r.PeerID != peerID || !r.IsActive(now) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = &r
		}
	}
	return best
}

var (
	_ session.KeyRegistry       = (*MemoryStore)(nil)
	_ session.RecordStore       = (*MemoryStore)(nil)
	_ session.PairingReconciler = (*MemoryStore)(nil)
)
