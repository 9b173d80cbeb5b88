package engine

import (
	"github.com/shopspring/decimal"
)

// The read surface. These never fail for an allow-listed asset and a live
// oracle; the two documented exceptions are an asset outside the allow-list
// (ErrTokenNotAllowed) and a stale feed (*oracle.StaleError). Prices are
// read fresh on every call — valuations are never served from a cache.

// price reads and rescales the current USD price for an allow-listed asset.
func (e *Engine) price(symbol string) (decimal.Decimal, error) {
	a, ok := e.assets[symbol]
	if !ok {
		return decimal.Zero, ErrTokenNotAllowed
	}
	return e.adapter.Price(a.feed)
}

// UsdValue returns the USD value of an asset amount at the current price.
func (e *Engine) UsdValue(symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	p, err := e.price(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Mul(amount), nil
}

// CollateralAmountForUsd converts a USD amount into units of an asset at
// the current price. Division happens last, on full-precision operands.
func (e *Engine) CollateralAmountForUsd(symbol string, usd decimal.Decimal) (decimal.Decimal, error) {
	p, err := e.price(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return usd.Div(p), nil
}

// CollateralValueUsd returns the total USD value of an account's deposits
// across the allow-list.
func (e *Engine) CollateralValueUsd(accountID string) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collateralValueUsd(accountID)
}

// collateralValueUsd is the lock-free variant used inside operations that
// already hold the engine lock.
func (e *Engine) collateralValueUsd(accountID string) (decimal.Decimal, error) {
	p := e.book.peek(accountID)
	if p == nil {
		return decimal.Zero, nil
	}

	total := decimal.Zero
	for _, sym := range e.symbols {
		amt := p.collateral[sym]
		if amt.IsZero() {
			continue
		}
		price, err := e.price(sym)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(price.Mul(amt))
	}
	return total, nil
}

// AccountInfo returns an account's outstanding debt and total collateral
// value. Unknown accounts report zero/zero.
func (e *Engine) AccountInfo(accountID string) (debt, collateralUsd decimal.Decimal, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	collateralUsd, err = e.collateralValueUsd(accountID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if p := e.book.peek(accountID); p != nil {
		debt = p.debt
	} else {
		debt = decimal.Zero
	}
	return debt, collateralUsd, nil
}

// CollateralBalance returns an account's tracked deposit of one asset.
func (e *Engine) CollateralBalance(accountID, symbol string) (decimal.Decimal, error) {
	if _, ok := e.assets[symbol]; !ok {
		return decimal.Zero, ErrTokenNotAllowed
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p := e.book.peek(accountID); p != nil {
		return p.collateral[symbol], nil
	}
	return decimal.Zero, nil
}

// HealthFactor returns the account's solvency ratio: collateral value
// divided by the overcollateralization factor, over debt. Zero debt yields
// MaxHealthFactor — never a division by zero.
func (e *Engine) HealthFactor(accountID string) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthFactor(accountID)
}

func (e *Engine) healthFactor(accountID string) (decimal.Decimal, error) {
	p := e.book.peek(accountID)
	if p == nil || p.debt.IsZero() {
		return MaxHealthFactor, nil
	}

	collateralUsd, err := e.collateralValueUsd(accountID)
	if err != nil {
		return decimal.Zero, err
	}

	adjusted := collateralUsd.Div(e.cfg.OvercollateralizationFactor)
	return adjusted.Div(p.debt), nil
}

// TotalDebt returns the sum of all tracked debt. Together with the debt
// token's TotalSupply it backs the global solvency invariant: supply never
// exceeds the USD value of collateral held by the engine.
func (e *Engine) TotalDebt() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.totalDebt()
}

// TotalCollateralValueUsd sums collateral value across every account.
func (e *Engine) TotalCollateralValueUsd() (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := decimal.Zero
	for id := range e.book.accounts {
		v, err := e.collateralValueUsd(id)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, nil
}

// Collateral returns a copy of an account's per-asset deposits.
func (e *Engine) Collateral(accountID string) map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]decimal.Decimal)
	if p := e.book.peek(accountID); p != nil {
		for sym, amt := range p.collateral {
			out[sym] = amt
		}
	}
	return out
}
