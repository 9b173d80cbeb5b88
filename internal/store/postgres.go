package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stablemint/issuance-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth for
// the audit log. All monetary values are stored as NUMERIC for exact decimal
// precision; per-asset collateral maps are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) RecordOperation(ctx context.Context, rec *model.OperationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO operations (id, op, account_id, counterparty, asset, amount, debt_delta, health_factor, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		rec.ID, rec.Op, rec.AccountID, rec.Counterparty, rec.Asset,
		rec.Amount.String(), rec.DebtDelta.String(), rec.HealthFactor.String(),
		rec.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListOperationsByAccount(ctx context.Context, accountID string) ([]model.OperationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, op, account_id, counterparty, asset,
		        amount::TEXT, debt_delta::TEXT, health_factor::TEXT, timestamp
		 FROM operations
		 WHERE account_id = $1 OR counterparty = $1
		 ORDER BY timestamp`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOperations(rows)
}

func (s *PostgresStore) ListOperationsByAsset(ctx context.Context, asset string) ([]model.OperationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, op, account_id, counterparty, asset,
		        amount::TEXT, debt_delta::TEXT, health_factor::TEXT, timestamp
		 FROM operations WHERE asset = $1 ORDER BY timestamp`, asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOperations(rows)
}

func (s *PostgresStore) UpsertAccountSnapshot(ctx context.Context, snap *model.AccountSnapshot) error {
	collateral, err := json.Marshal(snap.Collateral)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO account_snapshots (account_id, collateral, debt, collateral_usd, health_factor, updated_at)
		 VALUES ($1, $2::JSONB, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (account_id) DO UPDATE
		 SET collateral = EXCLUDED.collateral,
		     debt = EXCLUDED.debt,
		     collateral_usd = EXCLUDED.collateral_usd,
		     health_factor = EXCLUDED.health_factor,
		     updated_at = EXCLUDED.updated_at`,
		snap.AccountID, collateral,
		snap.Debt.String(), snap.CollateralUsd.String(), snap.HealthFactor.String(),
		snap.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetAccountSnapshot(ctx context.Context, accountID string) (*model.AccountSnapshot, error) {
	var snap model.AccountSnapshot
	var collateral []byte
	var debtS, collateralUsdS, healthFactorS string

	err := s.pool.QueryRow(ctx,
		`SELECT account_id, collateral,
		        debt::TEXT, collateral_usd::TEXT, health_factor::TEXT, updated_at
		 FROM account_snapshots WHERE account_id = $1`, accountID).
		Scan(&snap.AccountID, &collateral,
			&debtS, &collateralUsdS, &healthFactorS, &snap.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get account snapshot %s: %w", accountID, err)
	}

	if err := json.Unmarshal(collateral, &snap.Collateral); err != nil {
		return nil, err
	}
	snap.Debt, _ = decimal.NewFromString(debtS)
	snap.CollateralUsd, _ = decimal.NewFromString(collateralUsdS)
	snap.HealthFactor, _ = decimal.NewFromString(healthFactorS)

	return &snap, nil
}

func (s *PostgresStore) ListAccountSnapshots(ctx context.Context) ([]model.AccountSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, collateral,
		        debt::TEXT, collateral_usd::TEXT, health_factor::TEXT, updated_at
		 FROM account_snapshots ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.AccountSnapshot
	for rows.Next() {
		var snap model.AccountSnapshot
		var collateral []byte
		var debtS, collateralUsdS, healthFactorS string

		if err := rows.Scan(&snap.AccountID, &collateral,
			&debtS, &collateralUsdS, &healthFactorS, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(collateral, &snap.Collateral); err != nil {
			return nil, err
		}
		snap.Debt, _ = decimal.NewFromString(debtS)
		snap.CollateralUsd, _ = decimal.NewFromString(collateralUsdS)
		snap.HealthFactor, _ = decimal.NewFromString(healthFactorS)

		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// scanOperations reads pgx rows into OperationRecord slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanOperations(rows pgxRows) ([]model.OperationRecord, error) {
	var recs []model.OperationRecord
	for rows.Next() {
		var rec model.OperationRecord
		var amountS, debtDeltaS, healthFactorS string

		if err := rows.Scan(&rec.ID, &rec.Op, &rec.AccountID, &rec.Counterparty, &rec.Asset,
			&amountS, &debtDeltaS, &healthFactorS, &rec.Timestamp); err != nil {
			return nil, err
		}

		rec.Amount, _ = decimal.NewFromString(amountS)
		rec.DebtDelta, _ = decimal.NewFromString(debtDeltaS)
		rec.HealthFactor, _ = decimal.NewFromString(healthFactorS)

		recs = append(recs, rec)
	}
	return recs, nil
}
