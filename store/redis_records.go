package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"minimal-sessions/common"
	"minimal-sessions/configs"
	"minimal-sessions/session"
)

const scanBatch = 100

// hashReader is satisfied by both *redis.Client and *redis.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisRecordStore keeps each owner's records in one hash, keyed by session
// id, under configs.ServerSessionRecordsKey.
type RedisRecordStore struct {
	client *redis.Client
}

func NewRedisRecordStore(client *redis.Client) *RedisRecordStore {
	return &RedisRecordStore{client: client}
}

func recordsKey(ownerID string) string {
	return fmt.Sprintf(configs.ServerSessionRecordsKey, ownerID)
}

func ownerFromKey(key string) string {
	return strings.TrimPrefix(key, strings.TrimSuffix(configs.ServerSessionRecordsKey, "%s"))
}

func (s *RedisRecordStore) load(ctx context.Context, c hashReader, ownerID string) ([]common.SessionRecord, error) {
	fields, err := c.HGetAll(ctx, recordsKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions of %s: %w", ownerID, err)
	}
	recs := make([]common.SessionRecord, 0, len(fields))
	for id, data := range fields {
		var rec common.SessionRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode session %s of %s: %w", id, ownerID, err)
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

func (s *RedisRecordStore) FindActive(ctx context.Context, ownerID, peerID string, now time.Time) (*common.SessionRecord, error) {
	recs, err := s.load(ctx, s.client, ownerID)
	if err != nil {
		return nil, err
	}
	return latestActive(recs, peerID, now), nil
}

func (s *RedisRecordStore) FindByID(ctx context.Context, ownerID, sessionID string) (*common.SessionRecord, error) {
	data, err := s.client.HGet(ctx, recordsKey(ownerID), sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s of %s: %w", sessionID, ownerID, err)
	}
	var rec common.SessionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session %s of %s: %w", sessionID, ownerID, err)
	}
	return &rec, nil
}

func (s *RedisRecordStore) Append(ctx context.Context, ownerID string, rec common.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", rec.SessionID, err)
	}
	if err := s.client.HSet(ctx, recordsKey(ownerID), rec.SessionID, data).Err(); err != nil {
		return fmt.Errorf("failed to store session %s of %s: %w", rec.SessionID, ownerID, err)
	}
	return nil
}

// Remove deletes by session id. Ids are never reused within an owner's hash,
// so deleting a field that changed since the read cannot drop a newer record.
func (s *RedisRecordStore) Remove(ctx context.Context, ownerID string, match func(common.SessionRecord) bool) (int, error) {
	recs, err := s.load(ctx, s.client, ownerID)
	if err != nil {
		return 0, err
	}
	ids := matchingIDs(recs, match)
	if len(ids) == 0 {
		return 0, nil
	}
	removed, err := s.client.HDel(ctx, recordsKey(ownerID), ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to remove sessions of %s: %w", ownerID, err)
	}
	return int(removed), nil
}

func (s *RedisRecordStore) Replace(ctx context.Context, ownerID, oldSessionID string, rec common.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", rec.SessionID, err)
	}
	key := recordsKey(ownerID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, key, oldSessionID).Result()
		if err != nil {
			return err
		}
		if !exists {
			return session.ErrRecordNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, oldSessionID)
			pipe.HSet(ctx, key, rec.SessionID, data)
			return nil
		})
		return err
	}, key)
	return classifyTxError(err, "replace session "+oldSessionID)
}

func (s *RedisRecordStore) ReconcilePairing(ctx context.Context, ownerID, peerID string, rec common.SessionRecord, purgePeer bool) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", rec.SessionID, err)
	}
	ownerKey, peerKey := recordsKey(ownerID), recordsKey(peerID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		ownerRecs, err := s.load(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		staleOwn := matchingIDs(ownerRecs, session.ForPeer(peerID))

		var stalePeer []string
		if purgePeer {
			peerRecs, err := s.load(ctx, tx, peerID)
			if err != nil {
				return err
			}
			stalePeer = matchingIDs(peerRecs, session.ForPeer(ownerID))
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(staleOwn) > 0 {
				pipe.HDel(ctx, ownerKey, staleOwn...)
			}
			if len(stalePeer) > 0 {
				pipe.HDel(ctx, peerKey, stalePeer...)
			}
			pipe.HSet(ctx, ownerKey, rec.SessionID, data)
			return nil
		})
		return err
	}, ownerKey, peerKey)
	return classifyTxError(err, "reconcile pairing "+ownerID+"/"+peerID)
}

func (s *RedisRecordStore) ForEachIdentity(ctx context.Context, fn func(ownerID string) error) error {
	iter := s.client.Scan(ctx, 0, configs.ServerSessionScanMatch, scanBatch).Iterator()
	for iter.Next(ctx) {
		if err := fn(ownerFromKey(iter.Val())); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan session owners: %w", err)
	}
	return nil
}

func matchingIDs(recs []common.SessionRecord, match func(common.SessionRecord) bool) []string {
	var ids []string
	for _, r := range recs {
		if match(r) {
			ids = append(ids, r.SessionID)
		}
	}
	return ids
}

func classifyTxError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("failed to %s: %w", what, session.ErrConcurrentUpdate)
	case errors.Is(err, session.ErrRecordNotFound):
		return err
	default:
		return fmt.Errorf("failed to %s: %w", what, err)
	}
}

var (
	_ session.RecordStore       = (*RedisRecordStore)(nil)
	_ session.PairingReconciler = (*RedisRecordStore)(nil)
)
