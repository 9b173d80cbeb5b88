package engine

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Position operations. Every mutating entry point:
//
//   - acquires the execution lock first, so a nested call arriving through a
//     token transfer callback is rejected before it can observe the book
//     mid-operation;
//   - snapshots the accounts it touches and restores them on any failure;
//   - sequences external token calls after the book mutation and solvency
//     checks wherever observable behavior allows, so most failure paths need
//     no compensating external call at all.
//
// Where an external effect has already landed when a later step fails (only
// possible inside the composites and liquidation), the engine compensates:
// it holds the pulled funds and the debt token's mint authority, so every
// earlier external step has an inverse.

func (e *Engine) requireAsset(symbol string) (asset, error) {
	a, ok := e.assets[symbol]
	if !ok {
		return asset{}, fmt.Errorf("%w: %s", ErrTokenNotAllowed, symbol)
	}
	return a, nil
}

func requirePositive(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrZeroAmount
	}
	return nil
}

// checkHealthLocked enforces the per-account solvency floor.
func (e *Engine) checkHealthLocked(accountID string) error {
	hf, err := e.healthFactor(accountID)
	if err != nil {
		return err
	}
	if hf.LessThan(e.cfg.MinHealthFactor) {
		return &BreaksHealthFactorError{Factor: hf}
	}
	return nil
}

// DepositCollateral credits the caller's book entry and pulls the asset from
// the caller's wallet. Deposits only improve solvency, so no health check.
func (e *Engine) DepositCollateral(caller, symbol string, amount decimal.Decimal) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.depositLocked(caller, symbol, amount)
	return err
}

// depositLocked performs the deposit and returns an undo that reverses both
// the book credit and the pulled transfer. Used by the composite.
func (e *Engine) depositLocked(caller, symbol string, amount decimal.Decimal) (undo func(), err error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	a, err := e.requireAsset(symbol)
	if err != nil {
		return nil, err
	}

	restore := e.book.snapshot(caller)
	e.book.deposit(caller, symbol, amount)

	if err := a.tok.TransferFrom(caller, e.cfg.EngineAccount, amount); err != nil {
		restore()
		return nil, fmt.Errorf("%w: %v", ErrCollateralTransferFailed, err)
	}

	undo = func() {
		restore()
		if err := a.tok.Transfer(caller, amount); err != nil {
			slog.Error("deposit compensation failed", "account", caller, "asset", symbol, "err", err)
		}
	}
	return undo, nil
}

// MintDebt increases the caller's debt, enforces the solvency floor, and
// instructs the debt token to mint. The floor is inclusive: minting up to
// exactly the minimum health factor succeeds.
func (e *Engine) MintDebt(caller string, amount decimal.Decimal) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mintLocked(caller, amount)
}

func (e *Engine) mintLocked(caller string, amount decimal.Decimal) error {
	if err := requirePositive(amount); err != nil {
		return err
	}

	restore := e.book.snapshot(caller)
	e.book.increaseDebt(caller, amount)

	if err := e.checkHealthLocked(caller); err != nil {
		restore()
		return err
	}

	if err := e.debt.Mint(caller, amount); err != nil {
		restore()
		return fmt.Errorf("%w: %v", ErrDebtMintFailed, err)
	}
	return nil
}

// RedeemCollateral debits the caller's book entry, enforces the caller's
// post-withdrawal health factor, and transfers the asset back to the caller.
func (e *Engine) RedeemCollateral(caller, symbol string, amount decimal.Decimal) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.redeemLocked(caller, symbol, amount)
}

func (e *Engine) redeemLocked(caller, symbol string, amount decimal.Decimal) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	a, err := e.requireAsset(symbol)
	if err != nil {
		return err
	}

	restore := e.book.snapshot(caller)
	if err := e.book.withdraw(caller, symbol, amount); err != nil {
		restore()
		return err
	}

	// Solvency is checked on the post-withdrawal book before the payout
	// leaves the engine, so a failed check needs no external compensation.
	if err := e.checkHealthLocked(caller); err != nil {
		restore()
		return err
	}

	if err := a.tok.Transfer(caller, amount); err != nil {
		restore()
		return fmt.Errorf("%w: %v", ErrCollateralTransferFailed, err)
	}
	return nil
}

// BurnDebt pulls debt tokens from the caller, burns them, and decreases the
// caller's tracked debt. The trailing health check is retained even though
// burning can only improve solvency.
func (e *Engine) BurnDebt(caller string, amount decimal.Decimal) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.burnLocked(caller, amount)
	return err
}

// burnLocked performs the burn and returns an undo that re-mints the burnt
// tokens to the caller and restores the book. Used by the composite.
func (e *Engine) burnLocked(caller string, amount decimal.Decimal) (undo func(), err error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}

	restore := e.book.snapshot(caller)
	if err := e.book.decreaseDebt(caller, amount); err != nil {
		restore()
		return nil, err
	}

	if err := e.debt.TransferFrom(caller, e.cfg.EngineAccount, amount); err != nil {
		restore()
		return nil, fmt.Errorf("%w: %v", ErrDebtTransferFailed, err)
	}

	if err := e.debt.Burn(amount); err != nil {
		restore()
		if terr := e.debt.TransferFrom(e.cfg.EngineAccount, caller, amount); terr != nil {
			slog.Error("burn compensation failed", "account", caller, "err", terr)
		}
		return nil, fmt.Errorf("%w: burn: %v", ErrDebtTransferFailed, err)
	}

	if err := e.checkHealthLocked(caller); err != nil {
		restore()
		if merr := e.debt.Mint(caller, amount); merr != nil {
			slog.Error("burn compensation failed", "account", caller, "err", merr)
		}
		return nil, err
	}

	undo = func() {
		restore()
		if merr := e.debt.Mint(caller, amount); merr != nil {
			slog.Error("burn compensation failed", "account", caller, "err", merr)
		}
	}
	return undo, nil
}

// DepositCollateralAndMintDebt deposits then mints as one atomic operation:
// if the mint fails, the deposit is unwound as if the call never ran.
func (e *Engine) DepositCollateralAndMintDebt(caller, symbol string, depositAmount, mintAmount decimal.Decimal) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	undoDeposit, err := e.depositLocked(caller, symbol, depositAmount)
	if err != nil {
		return err
	}
	if err := e.mintLocked(caller, mintAmount); err != nil {
		undoDeposit()
		return err
	}
	return nil
}

// RedeemCollateralForDebt burns debt then redeems collateral as one atomic
// operation. Burning first means the health check inside the redeem sees the
// reduced debt; if the redeem fails, the burn is unwound.
func (e *Engine) RedeemCollateralForDebt(caller, symbol string, redeemAmount, burnAmount decimal.Decimal) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	undoBurn, err := e.burnLocked(caller, burnAmount)
	if err != nil {
		return err
	}
	if err := e.redeemLocked(caller, symbol, redeemAmount); err != nil {
		undoBurn()
		return err
	}
	return nil
}

// Liquidate covers part of an insolvent debtor's debt in exchange for the
// equivalent collateral plus a bonus. The seized collateral goes straight to
// the caller's wallet — it is a payout, not a deposit, and never touches the
// caller's book entry.
func (e *Engine) Liquidate(caller, debtor, symbol string, debtToCover decimal.Decimal) (seized decimal.Decimal, err error) {
	if err := e.enter(); err != nil {
		return decimal.Zero, err
	}
	defer e.exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := requirePositive(debtToCover); err != nil {
		return decimal.Zero, err
	}
	a, err := e.requireAsset(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	startHF, err := e.healthFactor(debtor)
	if err != nil {
		return decimal.Zero, err
	}
	if startHF.GreaterThanOrEqual(e.cfg.MinHealthFactor) {
		return decimal.Zero, &HealthFactorOkError{Factor: startHF}
	}

	price, err := e.price(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	base := debtToCover.Div(price)
	bonus := base.Div(e.cfg.BonusDivisor)
	seized = base.Add(bonus)

	restore := e.book.snapshot(debtor)
	if err := e.book.withdraw(debtor, symbol, seized); err != nil {
		restore()
		return decimal.Zero, err
	}
	if err := e.book.decreaseDebt(debtor, debtToCover); err != nil {
		restore()
		return decimal.Zero, err
	}

	endHF, err := e.healthFactor(debtor)
	if err != nil {
		restore()
		return decimal.Zero, err
	}
	if !endHF.GreaterThan(startHF) {
		restore()
		return decimal.Zero, &HealthFactorNotImprovedError{Factor: endHF}
	}

	// The caller's own book entry is untouched by this operation, so this
	// check only bites when the caller is simultaneously carrying an
	// underwater position of their own.
	if err := e.checkHealthLocked(caller); err != nil {
		restore()
		return decimal.Zero, err
	}

	if err := e.debt.TransferFrom(caller, e.cfg.EngineAccount, debtToCover); err != nil {
		restore()
		return decimal.Zero, fmt.Errorf("%w: %v", ErrDebtTransferFailed, err)
	}
	if err := e.debt.Burn(debtToCover); err != nil {
		restore()
		if terr := e.debt.TransferFrom(e.cfg.EngineAccount, caller, debtToCover); terr != nil {
			slog.Error("liquidation compensation failed", "caller", caller, "err", terr)
		}
		return decimal.Zero, fmt.Errorf("%w: burn: %v", ErrDebtTransferFailed, err)
	}
	if err := a.tok.Transfer(caller, seized); err != nil {
		restore()
		// The caller's debt tokens are already burnt; the mint authority
		// makes them whole again.
		if merr := e.debt.Mint(caller, debtToCover); merr != nil {
			slog.Error("liquidation compensation failed", "caller", caller, "err", merr)
		}
		return decimal.Zero, fmt.Errorf("%w: %v", ErrCollateralTransferFailed, err)
	}

	return seized, nil
}
