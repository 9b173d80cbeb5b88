package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stablemint/issuance-engine/internal/engine"
	"github.com/stablemint/issuance-engine/internal/oracle"
	"github.com/stablemint/issuance-engine/internal/token"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// wethPrice is $3000 at the usual 8-decimal feed scale.
const wethPrice = 3000 * 1e8

type testEnv struct {
	eng  *engine.Engine
	weth *token.BalanceToken
	feed *oracle.StaticFeed
	susd *token.BalanceToken
	debt token.Debt
}

// newTestEnv builds an engine over one WETH collateral asset at $3000 and a
// SUSD debt token, with user1 holding 100 WETH.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	weth := token.NewBalanceToken("WETH", "engine")
	feed := oracle.NewStaticFeed(wethPrice, 8)
	susd := token.NewBalanceToken("SUSD", "engine")

	debt, err := susd.DebtHandle("engine")
	if err != nil {
		t.Fatalf("failed to obtain debt handle: %v", err)
	}

	eng, err := engine.New(engine.DefaultConfig(),
		[]token.Collateral{weth}, []oracle.PriceFeed{feed}, debt)
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}

	weth.SetBalance("user1", d(100))
	return &testEnv{eng: eng, weth: weth, feed: feed, susd: susd, debt: debt}
}

// checkSolvency asserts the global invariant: debt supply never exceeds the
// USD value of collateral held by the engine.
func checkSolvency(t *testing.T, env *testEnv) {
	t.Helper()
	supply := env.susd.TotalSupply()
	collateral, err := env.eng.TotalCollateralValueUsd()
	if err != nil {
		t.Fatalf("failed to value collateral: %v", err)
	}
	if supply.GreaterThan(collateral) {
		t.Fatalf("solvency violated: supply=%s collateral=%s", supply, collateral)
	}
}

// --- Construction ---

func TestNew_LengthMismatch(t *testing.T) {
	weth := token.NewBalanceToken("WETH", "engine")
	susd := token.NewBalanceToken("SUSD", "engine")
	debt, _ := susd.DebtHandle("engine")

	_, err := engine.New(engine.DefaultConfig(),
		[]token.Collateral{weth}, nil, debt)
	if !errors.Is(err, engine.ErrAddressArrayLengthMismatch) {
		t.Errorf("expected length mismatch error, got %v", err)
	}
}

// --- Scenario A: deposit only ---

func TestDeposit_ValuesCollateral(t *testing.T) {
	env := newTestEnv(t)

	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	value, err := env.eng.CollateralValueUsd("user1")
	if err != nil {
		t.Fatalf("valuation failed: %v", err)
	}
	if !value.Equal(d(30000)) {
		t.Errorf("expected collateral value 30000, got %s", value)
	}

	debt, _, err := env.eng.AccountInfo("user1")
	if err != nil {
		t.Fatalf("account info failed: %v", err)
	}
	if !debt.IsZero() {
		t.Errorf("expected zero debt, got %s", debt)
	}

	hf, err := env.eng.HealthFactor("user1")
	if err != nil {
		t.Fatalf("health factor failed: %v", err)
	}
	if !hf.Equal(engine.MaxHealthFactor) {
		t.Errorf("expected max health factor for zero debt, got %s", hf)
	}

	// The deposit actually moved tokens into the engine's wallet.
	if !env.weth.BalanceOf("engine").Equal(d(10)) {
		t.Errorf("engine should hold 10 WETH, got %s", env.weth.BalanceOf("engine"))
	}
	checkSolvency(t, env)
}

func TestDeposit_ZeroAmount(t *testing.T) {
	env := newTestEnv(t)

	if err := env.eng.DepositCollateral("user1", "WETH", decimal.Zero); !errors.Is(err, engine.ErrZeroAmount) {
		t.Errorf("expected zero amount error, got %v", err)
	}
}

func TestDeposit_TokenNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	if err := env.eng.DepositCollateral("user1", "DOGE", d(10)); !errors.Is(err, engine.ErrTokenNotAllowed) {
		t.Errorf("expected not-allowed error, got %v", err)
	}
}

func TestDeposit_TransferFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.weth.FailNext(errors.New("transfer rejected"))

	err := env.eng.DepositCollateral("user1", "WETH", d(10))
	if !errors.Is(err, engine.ErrCollateralTransferFailed) {
		t.Fatalf("expected collateral transfer failure, got %v", err)
	}

	value, _ := env.eng.CollateralValueUsd("user1")
	if !value.IsZero() {
		t.Errorf("book should be unchanged after failed transfer, got %s", value)
	}
}

// --- Scenario B: mint to the exact boundary ---

func TestMint_AtBoundarySucceeds(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// 30000 collateral / factor 2 = 15000 mintable; the boundary is inclusive.
	if err := env.eng.MintDebt("user1", d(15000)); err != nil {
		t.Fatalf("mint at boundary should succeed: %v", err)
	}

	hf, err := env.eng.HealthFactor("user1")
	if err != nil {
		t.Fatalf("health factor failed: %v", err)
	}
	if !hf.Equal(d(1)) {
		t.Errorf("expected health factor exactly 1, got %s", hf)
	}
	if !env.susd.BalanceOf("user1").Equal(d(15000)) {
		t.Errorf("expected 15000 SUSD minted, got %s", env.susd.BalanceOf("user1"))
	}
	checkSolvency(t, env)
}

// --- Scenario C: mint past the boundary ---

func TestMint_PastBoundaryFailsAtomically(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	err := env.eng.MintDebt("user1", d(15001))
	var breaks *engine.BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("expected BreaksHealthFactor, got %v", err)
	}
	if breaks.Factor.GreaterThanOrEqual(d(1)) {
		t.Errorf("reported factor should be below 1, got %s", breaks.Factor)
	}

	// Post-failure state equals pre-call state.
	debt, _, _ := env.eng.AccountInfo("user1")
	if !debt.IsZero() {
		t.Errorf("debt should be unchanged, got %s", debt)
	}
	if !env.susd.TotalSupply().IsZero() {
		t.Errorf("no tokens should have been minted, got supply %s", env.susd.TotalSupply())
	}
	hf, _ := env.eng.HealthFactor("user1")
	if !hf.Equal(engine.MaxHealthFactor) {
		t.Errorf("health factor should be back at the sentinel, got %s", hf)
	}
}

func TestMint_TokenFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	env.susd.FailNext(errors.New("mint rejected"))

	err := env.eng.MintDebt("user1", d(100))
	if !errors.Is(err, engine.ErrDebtMintFailed) {
		t.Fatalf("expected debt mint failure, got %v", err)
	}

	debt, _, _ := env.eng.AccountInfo("user1")
	if !debt.IsZero() {
		t.Errorf("debt should be unchanged after failed mint, got %s", debt)
	}
}

// --- Zero-debt sentinel ---

func TestHealthFactor_ZeroDebtSentinel(t *testing.T) {
	env := newTestEnv(t)

	// Unknown account, zero collateral.
	hf, err := env.eng.HealthFactor("nobody")
	if err != nil {
		t.Fatalf("health factor failed: %v", err)
	}
	if !hf.Equal(engine.MaxHealthFactor) {
		t.Errorf("expected sentinel for empty account, got %s", hf)
	}

	// Nonzero collateral, still zero debt.
	if err := env.eng.DepositCollateral("user1", "WETH", d(5)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	hf, _ = env.eng.HealthFactor("user1")
	if !hf.Equal(engine.MaxHealthFactor) {
		t.Errorf("expected sentinel with collateral and no debt, got %s", hf)
	}
}

// --- Redeem ---

func TestRedeem_ReturnsCollateral(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if err := env.eng.RedeemCollateral("user1", "WETH", d(4)); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}

	if !env.weth.BalanceOf("user1").Equal(d(94)) {
		t.Errorf("expected 94 WETH back in wallet, got %s", env.weth.BalanceOf("user1"))
	}
	value, _ := env.eng.CollateralValueUsd("user1")
	if !value.Equal(d(18000)) {
		t.Errorf("expected 18000 collateral value, got %s", value)
	}
}

func TestRedeem_MoreThanDeposited(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	err := env.eng.RedeemCollateral("user1", "WETH", d(11))
	if !errors.Is(err, engine.ErrInsufficientCollateral) {
		t.Errorf("expected insufficient collateral, got %v", err)
	}
}

func TestRedeem_BreaksHealthFactor(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := env.eng.MintDebt("user1", d(15000)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	// Any withdrawal breaks the exactly-at-boundary position.
	err := env.eng.RedeemCollateral("user1", "WETH", d(1))
	var breaks *engine.BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("expected BreaksHealthFactor, got %v", err)
	}

	// Nothing left the engine.
	if !env.weth.BalanceOf("user1").Equal(d(90)) {
		t.Errorf("wallet should be unchanged, got %s", env.weth.BalanceOf("user1"))
	}
	value, _ := env.eng.CollateralValueUsd("user1")
	if !value.Equal(d(30000)) {
		t.Errorf("book should be unchanged, got %s", value)
	}
}

// --- Burn ---

func TestBurn_ReducesDebtAndSupply(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := env.eng.MintDebt("user1", d(15000)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if err := env.eng.BurnDebt("user1", d(5000)); err != nil {
		t.Fatalf("burn failed: %v", err)
	}

	debt, _, _ := env.eng.AccountInfo("user1")
	if !debt.Equal(d(10000)) {
		t.Errorf("expected 10000 debt remaining, got %s", debt)
	}
	if !env.susd.TotalSupply().Equal(d(10000)) {
		t.Errorf("expected supply 10000, got %s", env.susd.TotalSupply())
	}
	if !env.susd.BalanceOf("user1").Equal(d(10000)) {
		t.Errorf("expected 10000 SUSD left in wallet, got %s", env.susd.BalanceOf("user1"))
	}
	checkSolvency(t, env)
}

func TestBurn_MoreThanOwed(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := env.eng.MintDebt("user1", d(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	err := env.eng.BurnDebt("user1", d(101))
	if !errors.Is(err, engine.ErrInsufficientDebt) {
		t.Errorf("expected insufficient debt, got %v", err)
	}
}

func TestBurn_PullFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := env.eng.MintDebt("user1", d(100)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	env.susd.FailNext(errors.New("pull rejected"))

	err := env.eng.BurnDebt("user1", d(50))
	if !errors.Is(err, engine.ErrDebtTransferFailed) {
		t.Fatalf("expected debt transfer failure, got %v", err)
	}

	debt, _, _ := env.eng.AccountInfo("user1")
	if !debt.Equal(d(100)) {
		t.Errorf("debt should be unchanged, got %s", debt)
	}
	if !env.susd.TotalSupply().Equal(d(100)) {
		t.Errorf("supply should be unchanged, got %s", env.susd.TotalSupply())
	}
}

// --- Composites ---

func TestDepositAndMint_Atomic(t *testing.T) {
	env := newTestEnv(t)

	if err := env.eng.DepositCollateralAndMintDebt("user1", "WETH", d(10), d(15000)); err != nil {
		t.Fatalf("composite failed: %v", err)
	}

	hf, _ := env.eng.HealthFactor("user1")
	if !hf.Equal(d(1)) {
		t.Errorf("expected health factor 1, got %s", hf)
	}
	checkSolvency(t, env)
}

func TestDepositAndMint_MintFailureUnwindsDeposit(t *testing.T) {
	env := newTestEnv(t)

	err := env.eng.DepositCollateralAndMintDebt("user1", "WETH", d(10), d(15001))
	var breaks *engine.BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("expected BreaksHealthFactor, got %v", err)
	}

	// The deposit leg was unwound, wallet included.
	if !env.weth.BalanceOf("user1").Equal(d(100)) {
		t.Errorf("wallet should be restored, got %s", env.weth.BalanceOf("user1"))
	}
	value, _ := env.eng.CollateralValueUsd("user1")
	if !value.IsZero() {
		t.Errorf("book should be empty, got %s", value)
	}
	if !env.susd.TotalSupply().IsZero() {
		t.Errorf("no debt should exist, got %s", env.susd.TotalSupply())
	}
}

func TestRedeemForDebt_Atomic(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateralAndMintDebt("user1", "WETH", d(10), d(15000)); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// Burn 3000 debt and pull out the collateral that frees up.
	if err := env.eng.RedeemCollateralForDebt("user1", "WETH", d(2), d(3000)); err != nil {
		t.Fatalf("composite failed: %v", err)
	}

	debt, value, _ := env.eng.AccountInfo("user1")
	if !debt.Equal(d(12000)) {
		t.Errorf("expected 12000 debt, got %s", debt)
	}
	if !value.Equal(d(24000)) {
		t.Errorf("expected 24000 collateral value, got %s", value)
	}
	checkSolvency(t, env)
}

func TestRedeemForDebt_RedeemFailureUnwindsBurn(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateralAndMintDebt("user1", "WETH", d(10), d(15000)); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// Redeeming more than deposited fails after the burn leg succeeded.
	err := env.eng.RedeemCollateralForDebt("user1", "WETH", d(11), d(3000))
	if !errors.Is(err, engine.ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}

	// The burn leg was unwound: debt, supply, and wallet all restored.
	debt, _, _ := env.eng.AccountInfo("user1")
	if !debt.Equal(d(15000)) {
		t.Errorf("debt should be restored, got %s", debt)
	}
	if !env.susd.TotalSupply().Equal(d(15000)) {
		t.Errorf("supply should be restored, got %s", env.susd.TotalSupply())
	}
	if !env.susd.BalanceOf("user1").Equal(d(15000)) {
		t.Errorf("wallet should be restored, got %s", env.susd.BalanceOf("user1"))
	}
}

// --- Liquidation ---

// liquidatableEnv puts user1 at health factor 1 and then drops the price so
// the position becomes liquidatable. The liquidator is funded out of user1's
// minted balance, so the supply stays exactly what the engine issued.
func liquidatableEnv(t *testing.T, newPriceUSD int64, liquidatorFunds decimal.Decimal) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	if err := env.eng.DepositCollateralAndMintDebt("user1", "WETH", d(10), d(15000)); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	env.feed.SetAnswer(newPriceUSD * 1e8)
	if !liquidatorFunds.IsZero() {
		if err := env.susd.TransferFrom("user1", "liq", liquidatorFunds); err != nil {
			t.Fatalf("failed to fund liquidator: %v", err)
		}
	}
	return env
}

func TestLiquidate_SeizesCollateralWithBonus(t *testing.T) {
	// Price drops $3000 → $2500: collateral 25000, health factor 0.8333.
	env := liquidatableEnv(t, 2500, d(3000))

	startHF, _ := env.eng.HealthFactor("user1")

	// Funding came out of user1's wallet, so only engine-issued tokens exist.
	if !env.susd.TotalSupply().Equal(d(15000)) {
		t.Fatalf("setup should not inflate supply, got %s", env.susd.TotalSupply())
	}

	seized, err := env.eng.Liquidate("liq", "user1", "WETH", d(3000))
	if err != nil {
		t.Fatalf("liquidation failed: %v", err)
	}

	// 3000/2500 = 1.2 WETH base + 10% bonus = 1.32 WETH.
	if !seized.Equal(d(1.32)) {
		t.Errorf("expected 1.32 WETH seized, got %s", seized)
	}

	// Paid straight to the liquidator's wallet, not their book entry.
	if !env.weth.BalanceOf("liq").Equal(d(1.32)) {
		t.Errorf("expected 1.32 WETH in liquidator wallet, got %s", env.weth.BalanceOf("liq"))
	}
	liqValue, _ := env.eng.CollateralValueUsd("liq")
	if !liqValue.IsZero() {
		t.Errorf("liquidator book entry should be untouched, got %s", liqValue)
	}

	// Debtor's debt dropped by the covered amount.
	debt, _, _ := env.eng.AccountInfo("user1")
	if !debt.Equal(d(12000)) {
		t.Errorf("expected 12000 debt remaining, got %s", debt)
	}

	// The covered debt tokens were burnt.
	if !env.susd.TotalSupply().Equal(d(12000)) {
		t.Errorf("expected supply 12000, got %s", env.susd.TotalSupply())
	}

	// The debtor's health factor strictly improved.
	endHF, _ := env.eng.HealthFactor("user1")
	if !endHF.GreaterThan(startHF) {
		t.Errorf("health factor should improve: %s → %s", startHF, endHF)
	}
	checkSolvency(t, env)
}

func TestLiquidate_HealthFactorOk(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateralAndMintDebt("user1", "WETH", d(10), d(15000)); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := env.susd.TransferFrom("user1", "liq", d(3000)); err != nil {
		t.Fatalf("failed to fund liquidator: %v", err)
	}

	_, err := env.eng.Liquidate("liq", "user1", "WETH", d(3000))
	var ok *engine.HealthFactorOkError
	if !errors.As(err, &ok) {
		t.Fatalf("expected HealthFactorOk, got %v", err)
	}
	if !ok.Factor.Equal(d(1)) {
		t.Errorf("reported factor should be 1, got %s", ok.Factor)
	}
}

func TestLiquidate_NotImproved(t *testing.T) {
	// Price halves: collateral 15000 against 15000 debt, health factor 0.5.
	// Seizing debt+bonus removes more value than the debt it retires, so the
	// debtor's ratio worsens and the operation must unwind.
	env := liquidatableEnv(t, 1500, d(3000))

	_, err := env.eng.Liquidate("liq", "user1", "WETH", d(3000))
	var notImproved *engine.HealthFactorNotImprovedError
	if !errors.As(err, &notImproved) {
		t.Fatalf("expected HealthFactorNotImproved, got %v", err)
	}

	// Everything rolled back.
	debt, value, _ := env.eng.AccountInfo("user1")
	if !debt.Equal(d(15000)) {
		t.Errorf("debt should be unchanged, got %s", debt)
	}
	if !value.Equal(d(15000)) {
		t.Errorf("collateral value should be unchanged, got %s", value)
	}
	if !env.weth.BalanceOf("liq").IsZero() {
		t.Errorf("liquidator should have received nothing, got %s", env.weth.BalanceOf("liq"))
	}
	if !env.susd.BalanceOf("liq").Equal(d(3000)) {
		t.Errorf("liquidator funds should be unchanged, got %s", env.susd.BalanceOf("liq"))
	}
}

func TestLiquidate_CallerOwnPositionUnderwater(t *testing.T) {
	env := liquidatableEnv(t, 2500, decimal.Zero)

	// The liquidator carries their own position, also at the boundary
	// before the crash, so the price drop puts them underwater too.
	env.feed.SetAnswer(3000 * 1e8)
	env.weth.SetBalance("liq", d(1))
	if err := env.eng.DepositCollateralAndMintDebt("liq", "WETH", d(1), d(1500)); err != nil {
		t.Fatalf("liquidator setup failed: %v", err)
	}
	env.feed.SetAnswer(2500 * 1e8)
	// Top up liq's own 1500 minted tokens to the full cover amount.
	if err := env.susd.TransferFrom("user1", "liq", d(1500)); err != nil {
		t.Fatalf("failed to fund liquidator: %v", err)
	}

	_, err := env.eng.Liquidate("liq", "user1", "WETH", d(3000))
	var breaks *engine.BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("expected BreaksHealthFactor on caller self-check, got %v", err)
	}

	// The debtor's book rolled back.
	debt, _, _ := env.eng.AccountInfo("user1")
	if !debt.Equal(d(15000)) {
		t.Errorf("debtor debt should be unchanged, got %s", debt)
	}
}

func TestLiquidate_PullFailureRollsBack(t *testing.T) {
	env := liquidatableEnv(t, 2500, d(3000))
	env.susd.FailNext(errors.New("pull rejected"))

	_, err := env.eng.Liquidate("liq", "user1", "WETH", d(3000))
	if !errors.Is(err, engine.ErrDebtTransferFailed) {
		t.Fatalf("expected debt transfer failure, got %v", err)
	}

	debt, value, _ := env.eng.AccountInfo("user1")
	if !debt.Equal(d(15000)) {
		t.Errorf("debt should be unchanged, got %s", debt)
	}
	if !value.Equal(d(25000)) {
		t.Errorf("collateral value should be unchanged, got %s", value)
	}
}

// --- Staleness ---

func TestStaleOracle_BlocksValuation(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	env.feed.SetUpdatedAt(time.Now().Add(-4 * time.Hour))

	var stale *oracle.StaleError
	if _, err := env.eng.UsdValue("WETH", d(1)); !errors.As(err, &stale) {
		t.Errorf("expected stale oracle error from UsdValue, got %v", err)
	}
	if _, err := env.eng.CollateralValueUsd("user1"); !errors.As(err, &stale) {
		t.Errorf("expected stale oracle error from CollateralValueUsd, got %v", err)
	}
}

func TestStaleOracle_BlocksMint(t *testing.T) {
	env := newTestEnv(t)
	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	env.feed.SetUpdatedAt(time.Now().Add(-4 * time.Hour))

	var stale *oracle.StaleError
	err := env.eng.MintDebt("user1", d(100))
	if !errors.As(err, &stale) {
		t.Fatalf("expected stale oracle error, got %v", err)
	}

	// Nothing committed under the stale reading.
	debt, _, _ := env.eng.AccountInfo("user1")
	if !debt.IsZero() {
		t.Errorf("debt should be unchanged, got %s", debt)
	}
	if !env.susd.TotalSupply().IsZero() {
		t.Errorf("supply should be unchanged, got %s", env.susd.TotalSupply())
	}
}

// --- Reentrancy ---

func TestReentrantCallRejected(t *testing.T) {
	env := newTestEnv(t)

	var inner error
	env.weth.OnTransferFrom(func() {
		inner = env.eng.MintDebt("user1", d(1))
	})

	if err := env.eng.DepositCollateral("user1", "WETH", d(10)); err != nil {
		t.Fatalf("outer deposit should succeed: %v", err)
	}
	if !errors.Is(inner, engine.ErrReentrantCall) {
		t.Errorf("expected nested call to be rejected, got %v", inner)
	}

	// The nested call left no trace.
	debt, _, _ := env.eng.AccountInfo("user1")
	if !debt.IsZero() {
		t.Errorf("nested mint should not have committed, got %s", debt)
	}
}

// --- Global solvency across a full lifecycle ---

func TestSolvencyHoldsAcrossLifecycle(t *testing.T) {
	env := newTestEnv(t)

	steps := []func() error{
		func() error { return env.eng.DepositCollateral("user1", "WETH", d(10)) },
		func() error { return env.eng.MintDebt("user1", d(12000)) },
		func() error { return env.eng.BurnDebt("user1", d(2000)) },
		func() error { return env.eng.RedeemCollateral("user1", "WETH", d(1)) },
		func() error { return env.eng.DepositCollateralAndMintDebt("user1", "WETH", d(2), d(1000)) },
		func() error { return env.eng.RedeemCollateralForDebt("user1", "WETH", d(1), d(3000)) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		checkSolvency(t, env)
		// Every token in circulation was minted against tracked debt.
		if !env.eng.TotalDebt().Equal(env.susd.TotalSupply()) {
			t.Fatalf("step %d: tracked debt %s != supply %s",
				i, env.eng.TotalDebt(), env.susd.TotalSupply())
		}
	}

	// Fully unwind: the account returns to zero/zero but stays addressable.
	debt, _, _ := env.eng.AccountInfo("user1")
	if err := env.eng.BurnDebt("user1", debt); err != nil {
		t.Fatalf("final burn failed: %v", err)
	}
	bal, _ := env.eng.CollateralBalance("user1", "WETH")
	if err := env.eng.RedeemCollateral("user1", "WETH", bal); err != nil {
		t.Fatalf("final redeem failed: %v", err)
	}

	debt, value, _ := env.eng.AccountInfo("user1")
	if !debt.IsZero() || !value.IsZero() {
		t.Errorf("expected zero/zero account, got debt=%s value=%s", debt, value)
	}
	hf, _ := env.eng.HealthFactor("user1")
	if !hf.Equal(engine.MaxHealthFactor) {
		t.Errorf("unwound account should report the sentinel, got %s", hf)
	}
	checkSolvency(t, env)
}
