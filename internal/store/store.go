// Package store defines the audit/persistence interface for the issuance
// engine. Implementations include PostgreSQL (source of truth for the audit
// log), Redis (read-through cache), and in-memory (for testing).
//
// The engine's in-process book remains the authority for solvency; the store
// holds the immutable operation log and committed account snapshots that the
// read API serves.
package store

import (
	"context"

	"github.com/stablemint/issuance-engine/internal/model"
)

// Store is the persistence interface.
type Store interface {
	// --- Immutable operation log ---

	// RecordOperation appends an immutable operation record.
	RecordOperation(ctx context.Context, rec *model.OperationRecord) error

	// ListOperationsByAccount returns all operations touching an account,
	// either as caller or as liquidation counterparty.
	ListOperationsByAccount(ctx context.Context, accountID string) ([]model.OperationRecord, error)

	// ListOperationsByAsset returns all operations on one collateral asset.
	ListOperationsByAsset(ctx context.Context, asset string) ([]model.OperationRecord, error)

	// --- Committed account snapshots ---

	// UpsertAccountSnapshot stores the post-operation state of an account.
	UpsertAccountSnapshot(ctx context.Context, snap *model.AccountSnapshot) error

	// GetAccountSnapshot returns the latest committed state of an account.
	GetAccountSnapshot(ctx context.Context, accountID string) (*model.AccountSnapshot, error)

	// ListAccountSnapshots returns the latest committed state of every
	// account.
	ListAccountSnapshots(ctx context.Context) ([]model.AccountSnapshot, error)
}
