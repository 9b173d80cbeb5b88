package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stablemint/issuance-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	ops       []model.OperationRecord
	snapshots map[string]*model.AccountSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*model.AccountSnapshot),
	}
}

func (s *MemoryStore) RecordOperation(_ context.Context, rec *model.OperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, *rec)
	return nil
}

func (s *MemoryStore) ListOperationsByAccount(_ context.Context, accountID string) ([]model.OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.OperationRecord
	for _, rec := range s.ops {
		if rec.AccountID == accountID || rec.Counterparty == accountID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListOperationsByAsset(_ context.Context, asset string) ([]model.OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.OperationRecord
	for _, rec := range s.ops {
		if rec.Asset == asset {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpsertAccountSnapshot(_ context.Context, snap *model.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	c := *snap
	c.Collateral = copyCollateral(snap.Collateral)
	s.snapshots[snap.AccountID] = &c
	return nil
}

func (s *MemoryStore) GetAccountSnapshot(_ context.Context, accountID string) (*model.AccountSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	c := *snap
	c.Collateral = copyCollateral(snap.Collateral)
	return &c, nil
}

func (s *MemoryStore) ListAccountSnapshots(_ context.Context) ([]model.AccountSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AccountSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		c := *snap
		c.Collateral = copyCollateral(snap.Collateral)
		out = append(out, c)
	}
	return out, nil
}

func copyCollateral(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
