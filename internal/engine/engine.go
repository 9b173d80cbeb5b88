// Package engine implements the collateral-backed issuance core: the
// per-account collateral/debt book, health-factor valuation against live
// oracle prices, and the atomic position operations including liquidation.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The engine instance owns every piece of mutable state; there are no
// package-level ledgers or registries.
package engine

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stablemint/issuance-engine/internal/oracle"
	"github.com/stablemint/issuance-engine/internal/token"
)

// MaxHealthFactor is the sentinel returned for accounts with zero debt:
// no liability, perfectly safe.
var MaxHealthFactor = decimal.NewFromInt(math.MaxInt64)

// Config carries the solvency parameters fixed at construction.
type Config struct {
	// OvercollateralizationFactor divides collateral value before it is
	// compared against debt. 2 means 200% collateralization is required.
	OvercollateralizationFactor decimal.Decimal

	// MinHealthFactor is the solvency floor; accounts with debt must stay
	// at or above it. The boundary is inclusive.
	MinHealthFactor decimal.Decimal

	// BonusDivisor sets the liquidation bonus: seized base amount divided
	// by this. 10 means a 10% bonus.
	BonusDivisor decimal.Decimal

	// EngineAccount is the engine's own wallet identity, the destination
	// for pulled collateral and debt tokens.
	EngineAccount string
}

// DefaultConfig returns the standard 200%-collateralized, 10%-bonus setup.
func DefaultConfig() Config {
	return Config{
		OvercollateralizationFactor: decimal.NewFromInt(2),
		MinHealthFactor:             decimal.NewFromInt(1),
		BonusDivisor:                decimal.NewFromInt(10),
		EngineAccount:               "engine",
	}
}

// asset pairs one allow-listed collateral token with its price feed.
type asset struct {
	tok  token.Collateral
	feed oracle.PriceFeed
}

// Engine is the issuance core. Construct with New; the allow-list and debt
// token reference are immutable afterwards.
type Engine struct {
	cfg     Config
	assets  map[string]asset
	symbols []string // allow-list in construction order
	debt    token.Debt
	adapter oracle.Adapter

	// mu guards the book. Mutating operations hold it for their full
	// duration, so reads never observe a half-applied operation.
	mu   sync.RWMutex
	book *book

	// inFlight is the execution lock. It is deliberately non-blocking:
	// a nested call arriving through a token transfer callback while an
	// operation is in flight is rejected with ErrReentrantCall instead of
	// deadlocking. Callers that want queueing serialize outside the engine.
	inFlight atomic.Bool
}

// New constructs an engine over parallel lists of collateral tokens and
// their price feeds. The lists must have equal length; each token's symbol
// becomes its allow-list identity.
func New(cfg Config, tokens []token.Collateral, feeds []oracle.PriceFeed, debt token.Debt) (*Engine, error) {
	if len(tokens) != len(feeds) {
		return nil, ErrAddressArrayLengthMismatch
	}

	e := &Engine{
		cfg:    cfg,
		assets: make(map[string]asset, len(tokens)),
		debt:   debt,
		book:   newBook(),
	}
	for i, tok := range tokens {
		sym := tok.Symbol()
		e.assets[sym] = asset{tok: tok, feed: feeds[i]}
		e.symbols = append(e.symbols, sym)
	}
	return e, nil
}

// enter acquires the execution lock, rejecting nested acquisition.
func (e *Engine) enter() error {
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) exit() {
	e.inFlight.Store(false)
}

// --- Static configuration getters ---

// StalenessWindow returns the maximum accepted oracle reading age.
func (e *Engine) StalenessWindow() time.Duration { return oracle.MaxStaleness }

// OvercollateralizationFactor returns the collateral divisor.
func (e *Engine) OvercollateralizationFactor() decimal.Decimal {
	return e.cfg.OvercollateralizationFactor
}

// MinHealthFactor returns the solvency floor.
func (e *Engine) MinHealthFactor() decimal.Decimal { return e.cfg.MinHealthFactor }

// BonusDivisor returns the liquidation bonus divisor.
func (e *Engine) BonusDivisor() decimal.Decimal { return e.cfg.BonusDivisor }

// EngineAccount returns the engine's wallet identity.
func (e *Engine) EngineAccount() string { return e.cfg.EngineAccount }

// Assets returns the allow-listed asset symbols in construction order.
func (e *Engine) Assets() []string {
	out := make([]string, len(e.symbols))
	copy(out, e.symbols)
	return out
}

// DebtToken returns the debt token capability held by the engine.
func (e *Engine) DebtToken() token.Debt { return e.debt }

// Feed returns the price feed for an allow-listed asset.
func (e *Engine) Feed(symbol string) (oracle.PriceFeed, error) {
	a, ok := e.assets[symbol]
	if !ok {
		return nil, ErrTokenNotAllowed
	}
	return a.feed, nil
}
