package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrZeroAmount is returned when an operation is invoked with a zero or
	// negative amount.
	ErrZeroAmount = errors.New("engine: amount must be positive")

	// ErrTokenNotAllowed is returned when an asset is not on the allow-list
	// fixed at construction.
	ErrTokenNotAllowed = errors.New("engine: token is not an allowed collateral asset")

	// ErrAddressArrayLengthMismatch is returned at construction when the
	// collateral token and price feed lists differ in length.
	ErrAddressArrayLengthMismatch = errors.New("engine: token and price feed lists must have equal length")

	// ErrCollateralTransferFailed is returned when a collateral token
	// transfer reports failure.
	ErrCollateralTransferFailed = errors.New("engine: collateral transfer failed")

	// ErrDebtMintFailed is returned when the debt token refuses a mint.
	ErrDebtMintFailed = errors.New("engine: debt token mint failed")

	// ErrDebtTransferFailed is returned when pulling or burning debt tokens
	// fails.
	ErrDebtTransferFailed = errors.New("engine: debt token transfer failed")

	// ErrInsufficientCollateral is returned when a withdrawal exceeds the
	// tracked deposit.
	ErrInsufficientCollateral = errors.New("engine: insufficient collateral balance")

	// ErrInsufficientDebt is returned when a debt decrease exceeds the
	// tracked debt.
	ErrInsufficientDebt = errors.New("engine: insufficient outstanding debt")

	// ErrReentrantCall is returned when a mutating operation is entered
	// while another is still in flight, e.g. through a token transfer
	// callback.
	ErrReentrantCall = errors.New("engine: reentrant call rejected")
)

// BreaksHealthFactorError reports an operation that would leave an account
// below the minimum health factor. The offending factor is attached so
// callers can adjust and retry.
type BreaksHealthFactorError struct {
	Factor decimal.Decimal
}

func (e *BreaksHealthFactorError) Error() string {
	return fmt.Sprintf("engine: operation breaks health factor (%s)", e.Factor)
}

// HealthFactorOkError reports a liquidation attempt against a solvent
// account.
type HealthFactorOkError struct {
	Factor decimal.Decimal
}

func (e *HealthFactorOkError) Error() string {
	return fmt.Sprintf("engine: health factor is ok (%s), account not liquidatable", e.Factor)
}

// HealthFactorNotImprovedError reports a liquidation that did not strictly
// increase the debtor's health factor.
type HealthFactorNotImprovedError struct {
	Factor decimal.Decimal
}

func (e *HealthFactorNotImprovedError) Error() string {
	return fmt.Sprintf("engine: liquidation did not improve health factor (%s)", e.Factor)
}
