package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stablemint/issuance-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over account snapshots. Writes go to the primary store and refresh
// or invalidate the cache; reads check Redis first then fall back to the
// primary. The operation log is never cached — it is append-only and always
// served from the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) RecordOperation(ctx context.Context, rec *model.OperationRecord) error {
	if err := s.primary.RecordOperation(ctx, rec); err != nil {
		return err
	}
	// Invalidate the touched accounts; next read re-populates.
	s.rdb.Del(ctx, accountKey(rec.AccountID))
	if rec.Counterparty != "" {
		s.rdb.Del(ctx, accountKey(rec.Counterparty))
	}
	return nil
}

func (s *CachedStore) UpsertAccountSnapshot(ctx context.Context, snap *model.AccountSnapshot) error {
	if err := s.primary.UpsertAccountSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheSnapshot(ctx, snap)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccountSnapshot(ctx context.Context, accountID string) (*model.AccountSnapshot, error) {
	data, err := s.rdb.Get(ctx, accountKey(accountID)).Bytes()
	if err == nil {
		var snap model.AccountSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.GetAccountSnapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListOperationsByAccount(ctx context.Context, accountID string) ([]model.OperationRecord, error) {
	return s.primary.ListOperationsByAccount(ctx, accountID)
}

func (s *CachedStore) ListOperationsByAsset(ctx context.Context, asset string) ([]model.OperationRecord, error) {
	return s.primary.ListOperationsByAsset(ctx, asset)
}

func (s *CachedStore) ListAccountSnapshots(ctx context.Context) ([]model.AccountSnapshot, error) {
	return s.primary.ListAccountSnapshots(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSnapshot(ctx context.Context, snap *model.AccountSnapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, accountKey(snap.AccountID), data, s.ttl)
	}
}

func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
