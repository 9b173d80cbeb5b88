// Package model defines the core domain types shared across the issuance
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operation names recorded in the audit log and reported over the API.
const (
	OpDeposit        = "deposit"
	OpRedeem         = "redeem"
	OpMint           = "mint"
	OpBurn           = "burn"
	OpDepositAndMint = "deposit_and_mint"
	OpRedeemForDebt  = "redeem_for_debt"
	OpLiquidate      = "liquidate"
)

// OperationRecord is an immutable record of a committed position operation.
// Once created, these are never modified or deleted.
type OperationRecord struct {
	ID           string          `json:"id" db:"id"`
	Op           string          `json:"op" db:"op"`
	AccountID    string          `json:"account_id" db:"account_id"`
	Counterparty string          `json:"counterparty,omitempty" db:"counterparty"` // debtor on liquidations
	Asset        string          `json:"asset,omitempty" db:"asset"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	DebtDelta    decimal.Decimal `json:"debt_delta" db:"debt_delta"` // signed change to the account's debt
	HealthFactor decimal.Decimal `json:"health_factor" db:"health_factor"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// AccountSnapshot is the committed state of one account after an operation:
// its per-asset collateral balances, outstanding debt, and derived solvency.
type AccountSnapshot struct {
	AccountID     string                     `json:"account_id" db:"account_id"`
	Collateral    map[string]decimal.Decimal `json:"collateral"` // asset symbol → deposited amount
	Debt          decimal.Decimal            `json:"debt" db:"debt"`
	CollateralUsd decimal.Decimal            `json:"collateral_usd" db:"collateral_usd"`
	HealthFactor  decimal.Decimal            `json:"health_factor" db:"health_factor"`
	UpdatedAt     time.Time                  `json:"updated_at" db:"updated_at"`
}

// AssetInfo describes one allow-listed collateral asset and its latest
// valuation, as reported by the read API.
type AssetInfo struct {
	Symbol   string          `json:"symbol"`
	PriceUsd decimal.Decimal `json:"price_usd"`
	Decimals uint8           `json:"feed_decimals"`
}
