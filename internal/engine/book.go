package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// position is one account's entry in the book: per-asset collateral deposits
// and a scalar outstanding debt. Accounts are created implicitly on first
// use and never deleted — a fully unwound account returns to zero/zero and
// stays addressable.
type position struct {
	collateral map[string]decimal.Decimal
	debt       decimal.Decimal
}

func newPosition() *position {
	return &position{collateral: make(map[string]decimal.Decimal)}
}

func (p *position) clone() *position {
	c := newPosition()
	for asset, amt := range p.collateral {
		c.collateral[asset] = amt
	}
	c.debt = p.debt
	return c
}

// book is the collateral/debt ledger: pure bookkeeping, no solvency
// enforcement. Callers hold the engine lock; the book itself is not
// separately synchronized.
type book struct {
	accounts map[string]*position
}

func newBook() *book {
	return &book{accounts: make(map[string]*position)}
}

func (b *book) get(accountID string) *position {
	p, ok := b.accounts[accountID]
	if !ok {
		p = newPosition()
		b.accounts[accountID] = p
	}
	return p
}

// peek returns the account without creating it.
func (b *book) peek(accountID string) *position {
	return b.accounts[accountID]
}

func (b *book) deposit(accountID, asset string, amount decimal.Decimal) {
	p := b.get(accountID)
	p.collateral[asset] = p.collateral[asset].Add(amount)
}

func (b *book) withdraw(accountID, asset string, amount decimal.Decimal) error {
	p := b.get(accountID)
	held := p.collateral[asset]
	if held.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s %s, withdraw %s",
			ErrInsufficientCollateral, accountID, held, asset, amount)
	}
	p.collateral[asset] = held.Sub(amount)
	return nil
}

func (b *book) increaseDebt(accountID string, amount decimal.Decimal) {
	p := b.get(accountID)
	p.debt = p.debt.Add(amount)
}

func (b *book) decreaseDebt(accountID string, amount decimal.Decimal) error {
	p := b.get(accountID)
	if p.debt.LessThan(amount) {
		return fmt.Errorf("%w: %s owes %s, repay %s",
			ErrInsufficientDebt, accountID, p.debt, amount)
	}
	p.debt = p.debt.Sub(amount)
	return nil
}

// snapshot captures the named accounts and returns a restore function that
// puts them back exactly as they were. Mutating operations take a snapshot
// of every account they touch and restore on any failure, which gives each
// operation its all-or-nothing semantics.
func (b *book) snapshot(accountIDs ...string) func() {
	saved := make(map[string]*position, len(accountIDs))
	for _, id := range accountIDs {
		if p, ok := b.accounts[id]; ok {
			saved[id] = p.clone()
		} else {
			saved[id] = nil
		}
	}
	return func() {
		for id, p := range saved {
			if p == nil {
				delete(b.accounts, id)
			} else {
				b.accounts[id] = p
			}
		}
	}
}

// totalDebt sums outstanding debt across all accounts.
func (b *book) totalDebt() decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.accounts {
		total = total.Add(p.debt)
	}
	return total
}
