// Package token defines the asset-transfer capabilities the engine consumes
// and an in-memory balance ledger implementing them for tests and the
// single-process deployment mode.
//
// The engine never assumes a transfer succeeded: every capability method
// returns an explicit error and the engine aborts the whole operation on
// failure.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a transfer or burn exceeds the
	// holder's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")

	// ErrNotAuthority is returned when mint or burn is invoked by anyone but
	// the configured authority.
	ErrNotAuthority = errors.New("token: caller is not the mint/burn authority")
)

// Collateral is the transfer capability for one allow-listed asset.
type Collateral interface {
	// Symbol identifies the asset in the engine's allow-list.
	Symbol() string

	// Transfer moves amount from the engine's holdings to an account.
	Transfer(to string, amount decimal.Decimal) error

	// TransferFrom pulls amount from one account to another.
	TransferFrom(from, to string, amount decimal.Decimal) error
}

// Debt is the debt-token capability. Mint and burn authority is held
// exclusively by the engine; supply changes happen nowhere else.
type Debt interface {
	Mint(to string, amount decimal.Decimal) error
	Burn(amount decimal.Decimal) error
	TransferFrom(from, to string, amount decimal.Decimal) error
	TotalSupply() decimal.Decimal
	BalanceOf(account string) decimal.Decimal
}

// BalanceToken is an in-memory token: a balance map guarded by a RWMutex.
// It implements Collateral directly; the Debt capability is issued through
// DebtHandle to the configured authority only. Burn consumes the authority's
// own balance (tokens must be pulled into the authority first).
type BalanceToken struct {
	symbol    string
	authority string

	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	supply   decimal.Decimal

	// failNext, when set, makes the next mutating call fail. Used by tests
	// to exercise the engine's rollback paths.
	failNext error

	// onTransferFrom, when set, runs during TransferFrom before balances
	// move. Used by tests to simulate a reentrant callback.
	onTransferFrom func()
}

// NewBalanceToken creates a token with the given symbol and mint/burn
// authority.
func NewBalanceToken(symbol, authority string) *BalanceToken {
	return &BalanceToken{
		symbol:    symbol,
		authority: authority,
		balances:  make(map[string]decimal.Decimal),
	}
}

// Symbol returns the asset symbol.
func (t *BalanceToken) Symbol() string { return t.symbol }

// SetBalance seeds an account balance directly (test/dev setup).
func (t *BalanceToken) SetBalance(account string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] = amount
}

// BalanceOf returns an account's balance.
func (t *BalanceToken) BalanceOf(account string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[account]
}

// TotalSupply returns the outstanding supply.
func (t *BalanceToken) TotalSupply() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supply
}

// FailNext makes the next mutating call return err instead of applying.
func (t *BalanceToken) FailNext(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = err
}

// OnTransferFrom installs a hook invoked at the top of TransferFrom.
func (t *BalanceToken) OnTransferFrom(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTransferFrom = fn
}

func (t *BalanceToken) takeFailure() error {
	if t.failNext != nil {
		err := t.failNext
		t.failNext = nil
		return err
	}
	return nil
}

// Transfer moves amount from the authority's holdings to an account.
func (t *BalanceToken) Transfer(to string, amount decimal.Decimal) error {
	return t.TransferFrom(t.authority, to, amount)
}

// TransferFrom moves amount between accounts.
func (t *BalanceToken) TransferFrom(from, to string, amount decimal.Decimal) error {
	t.mu.Lock()
	hook := t.onTransferFrom
	t.mu.Unlock()
	if hook != nil {
		hook()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.takeFailure(); err != nil {
		return err
	}

	bal := t.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from, bal, amount)
	}
	t.balances[from] = bal.Sub(amount)
	t.balances[to] = t.balances[to].Add(amount)
	return nil
}

// DebtHandle returns the mint/burn capability for this token. Only the
// configured authority may obtain it; everyone else gets ErrNotAuthority.
// Holding the Debt interface is what authorizes supply changes — the handle
// is created once at construction time and given to the engine alone.
func (t *BalanceToken) DebtHandle(caller string) (Debt, error) {
	if caller != t.authority {
		return nil, fmt.Errorf("%w: %s", ErrNotAuthority, caller)
	}
	return &debtHandle{t: t}, nil
}

// debtHandle is the authority-only view of a BalanceToken.
type debtHandle struct {
	t *BalanceToken
}

// Mint creates amount new tokens for an account.
func (h *debtHandle) Mint(to string, amount decimal.Decimal) error {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.takeFailure(); err != nil {
		return err
	}

	t.balances[to] = t.balances[to].Add(amount)
	t.supply = t.supply.Add(amount)
	return nil
}

// Burn destroys amount tokens from the authority's own balance.
func (h *debtHandle) Burn(amount decimal.Decimal) error {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.takeFailure(); err != nil {
		return err
	}

	bal := t.balances[t.authority]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: authority has %s, burn %s", ErrInsufficientBalance, bal, amount)
	}
	t.balances[t.authority] = bal.Sub(amount)
	t.supply = t.supply.Sub(amount)
	return nil
}

func (h *debtHandle) TransferFrom(from, to string, amount decimal.Decimal) error {
	return h.t.TransferFrom(from, to, amount)
}

func (h *debtHandle) TotalSupply() decimal.Decimal { return h.t.TotalSupply() }

func (h *debtHandle) BalanceOf(account string) decimal.Decimal { return h.t.BalanceOf(account) }
