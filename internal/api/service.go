// Package api provides the HTTP handlers for the issuance engine: the
// mutating position operations and the read surface over accounts, assets,
// and valuations.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stablemint/issuance-engine/internal/engine"
	"github.com/stablemint/issuance-engine/internal/metrics"
	"github.com/stablemint/issuance-engine/internal/model"
	"github.com/stablemint/issuance-engine/internal/oracle"
	"github.com/stablemint/issuance-engine/internal/store"
)

// Service handles position operations and solvency queries. Uses a mutex to
// serialize mutating calls (single-instance): the engine itself rejects
// overlapping entry, so queueing happens here.
type Service struct {
	engine *engine.Engine
	store  store.Store
	mu     sync.Mutex
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(eng *engine.Engine, st store.Store, hub *WSHub) *Service {
	return &Service{
		engine: eng,
		store:  st,
		wsHub:  hub,
	}
}

// Routes mounts all API endpoints on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/deposit", s.Deposit)
	r.Post("/redeem", s.Redeem)
	r.Post("/mint", s.Mint)
	r.Post("/burn", s.Burn)
	r.Post("/deposit-and-mint", s.DepositAndMint)
	r.Post("/redeem-for-debt", s.RedeemForDebt)
	r.Post("/liquidate", s.Liquidate)

	r.Get("/accounts", s.ListAccounts)
	r.Get("/accounts/{accountID}", s.GetAccount)
	r.Get("/accounts/{accountID}/history", s.GetAccountHistory)
	r.Get("/accounts/{accountID}/snapshot", s.GetAccountSnapshot)
	r.Get("/assets", s.ListAssets)
	r.Get("/assets/{symbol}/price", s.GetAssetPrice)
	r.Get("/assets/{symbol}/history", s.GetAssetHistory)
	r.Get("/value", s.GetUsdValue)
	r.Get("/collateral-amount", s.GetCollateralAmount)
	r.Get("/config", s.GetConfig)

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request/Response types ---

// OperationRequest is the JSON body shared by deposit/redeem/mint/burn and
// the composites. Unused fields may be omitted per operation.
type OperationRequest struct {
	AccountID     string          `json:"account_id"`
	Asset         string          `json:"asset,omitempty"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
	DepositAmount decimal.Decimal `json:"deposit_amount,omitempty"`
	MintAmount    decimal.Decimal `json:"mint_amount,omitempty"`
	RedeemAmount  decimal.Decimal `json:"redeem_amount,omitempty"`
	BurnAmount    decimal.Decimal `json:"burn_amount,omitempty"`
}

// LiquidateRequest is the JSON body for POST /liquidate.
type LiquidateRequest struct {
	LiquidatorID string          `json:"liquidator_id"`
	DebtorID     string          `json:"debtor_id"`
	Asset        string          `json:"asset"`
	DebtToCover  decimal.Decimal `json:"debt_to_cover"` // USD-denominated
}

// OperationResponse reports the committed operation and resulting solvency.
type OperationResponse struct {
	OperationID  string          `json:"operation_id"`
	Op           string          `json:"op"`
	AccountID    string          `json:"account_id"`
	Asset        string          `json:"asset,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Seized       decimal.Decimal `json:"seized,omitempty"`
	HealthFactor decimal.Decimal `json:"health_factor"`
}

// AccountResponse is the read-surface view of one account.
type AccountResponse struct {
	AccountID     string                     `json:"account_id"`
	Collateral    map[string]decimal.Decimal `json:"collateral"`
	Debt          decimal.Decimal            `json:"debt"`
	CollateralUsd decimal.Decimal            `json:"collateral_usd"`
	HealthFactor  decimal.Decimal            `json:"health_factor"`
}

// --- Mutating handlers ---

// Deposit handles POST /api/v1/deposit.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, model.OpDeposit, func(req *OperationRequest) (decimal.Decimal, decimal.Decimal, error) {
		return req.Amount, decimal.Zero, s.engine.DepositCollateral(req.AccountID, req.Asset, req.Amount)
	})
}

// Redeem handles POST /api/v1/redeem.
func (s *Service) Redeem(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, model.OpRedeem, func(req *OperationRequest) (decimal.Decimal, decimal.Decimal, error) {
		return req.Amount, decimal.Zero, s.engine.RedeemCollateral(req.AccountID, req.Asset, req.Amount)
	})
}

// Mint handles POST /api/v1/mint.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, model.OpMint, func(req *OperationRequest) (decimal.Decimal, decimal.Decimal, error) {
		return req.Amount, req.Amount, s.engine.MintDebt(req.AccountID, req.Amount)
	})
}

// Burn handles POST /api/v1/burn.
func (s *Service) Burn(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, model.OpBurn, func(req *OperationRequest) (decimal.Decimal, decimal.Decimal, error) {
		return req.Amount, req.Amount.Neg(), s.engine.BurnDebt(req.AccountID, req.Amount)
	})
}

// DepositAndMint handles POST /api/v1/deposit-and-mint.
func (s *Service) DepositAndMint(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, model.OpDepositAndMint, func(req *OperationRequest) (decimal.Decimal, decimal.Decimal, error) {
		err := s.engine.DepositCollateralAndMintDebt(req.AccountID, req.Asset, req.DepositAmount, req.MintAmount)
		return req.DepositAmount, req.MintAmount, err
	})
}

// RedeemForDebt handles POST /api/v1/redeem-for-debt.
func (s *Service) RedeemForDebt(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, model.OpRedeemForDebt, func(req *OperationRequest) (decimal.Decimal, decimal.Decimal, error) {
		err := s.engine.RedeemCollateralForDebt(req.AccountID, req.Asset, req.RedeemAmount, req.BurnAmount)
		return req.RedeemAmount, req.BurnAmount.Neg(), err
	})
}

// runOperation decodes the shared request shape, serializes execution,
// invokes the engine, and on success records/broadcasts the outcome. The
// exec closure reports the headline amount and the signed debt change.
func (s *Service) runOperation(w http.ResponseWriter, r *http.Request, op string, exec func(*OperationRequest) (decimal.Decimal, decimal.Decimal, error)) {
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	s.mu.Lock()
	amount, debtDelta, err := exec(&req)
	s.mu.Unlock()
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.OperationsTotal.WithLabelValues(op, "rejected").Inc()
		writeEngineError(w, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues(op, "ok").Inc()

	resp := s.commit(r, op, req.AccountID, "", req.Asset, amount, debtDelta)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Liquidate handles POST /api/v1/liquidate.
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LiquidatorID == "" || req.DebtorID == "" {
		writeError(w, "liquidator_id and debtor_id are required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	s.mu.Lock()
	seized, err := s.engine.Liquidate(req.LiquidatorID, req.DebtorID, req.Asset, req.DebtToCover)
	s.mu.Unlock()
	metrics.OperationLatency.WithLabelValues(model.OpLiquidate).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.OperationsTotal.WithLabelValues(model.OpLiquidate, "rejected").Inc()
		writeEngineError(w, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues(model.OpLiquidate, "ok").Inc()
	metrics.LiquidationsTotal.Inc()

	resp := s.commit(r, model.OpLiquidate, req.LiquidatorID, req.DebtorID, req.Asset, req.DebtToCover, req.DebtToCover.Neg())
	resp.Seized = seized

	slog.Info("liquidation executed",
		"liquidator", req.LiquidatorID,
		"debtor", req.DebtorID,
		"asset", req.Asset,
		"debt_covered", req.DebtToCover.String(),
		"seized", seized.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// commit records the committed operation in the audit store, refreshes the
// touched account snapshots, updates gauges, and broadcasts the event. The
// engine has already committed; store failures are logged, not rolled back.
// debtDelta is the signed debt change on the counterparty's book for
// liquidations, on the account's own book otherwise.
func (s *Service) commit(r *http.Request, op, accountID, counterparty, asset string, amount, debtDelta decimal.Decimal) OperationResponse {
	ctx := r.Context()

	hf, err := s.engine.HealthFactor(accountID)
	if err != nil {
		hf = decimal.Zero
	}

	rec := &model.OperationRecord{
		ID:           uuid.New().String(),
		Op:           op,
		AccountID:    accountID,
		Counterparty: counterparty,
		Asset:        asset,
		Amount:       amount,
		DebtDelta:    debtDelta,
		HealthFactor: hf,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.store.RecordOperation(ctx, rec); err != nil {
		slog.Error("failed to record operation", "op", op, "err", err)
	}

	s.snapshotAccount(r, accountID)
	if counterparty != "" {
		s.snapshotAccount(r, counterparty)
	}

	metrics.DebtSupply.Set(decimalGauge(s.engine.DebtToken().TotalSupply()))
	if total, err := s.engine.TotalCollateralValueUsd(); err == nil {
		metrics.CollateralValueUsd.Set(decimalGauge(total))
	}

	slog.Info("operation committed",
		"op", op,
		"account", accountID,
		"asset", asset,
		"amount", amount.String(),
		"health_factor", hf.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         op,
			AccountID:    accountID,
			Counterparty: counterparty,
			Asset:        asset,
			Amount:       amount.String(),
			HealthFactor: hf.String(),
		})
	}

	return OperationResponse{
		OperationID:  rec.ID,
		Op:           op,
		AccountID:    accountID,
		Asset:        asset,
		Amount:       amount,
		HealthFactor: hf,
	}
}

func (s *Service) snapshotAccount(r *http.Request, accountID string) {
	debt, collateralUsd, err := s.engine.AccountInfo(accountID)
	if err != nil {
		slog.Warn("snapshot valuation failed", "account", accountID, "err", err)
		return
	}
	hf, err := s.engine.HealthFactor(accountID)
	if err != nil {
		return
	}

	snap := &model.AccountSnapshot{
		AccountID:     accountID,
		Collateral:    s.engine.Collateral(accountID),
		Debt:          debt,
		CollateralUsd: collateralUsd,
		HealthFactor:  hf,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.store.UpsertAccountSnapshot(r.Context(), snap); err != nil {
		slog.Error("failed to upsert account snapshot", "account", accountID, "err", err)
	}
}

// --- Read handlers ---

// GetAccount handles GET /api/v1/accounts/{accountID}.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	debt, collateralUsd, err := s.engine.AccountInfo(accountID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	hf, err := s.engine.HealthFactor(accountID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AccountResponse{
		AccountID:     accountID,
		Collateral:    s.engine.Collateral(accountID),
		Debt:          debt,
		CollateralUsd: collateralUsd,
		HealthFactor:  hf,
	})
}

// ListAccounts handles GET /api/v1/accounts: the latest committed snapshot
// of every account that has ever run an operation.
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.ListAccountSnapshots(r.Context())
	if err != nil {
		writeError(w, "failed to load account snapshots", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.AccountSnapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snaps)
}

// GetAccountSnapshot handles GET /api/v1/accounts/{accountID}/snapshot: the
// last committed state from the store (cache-served when Redis is wired),
// as opposed to GetAccount's live engine valuation.
func (s *Service) GetAccountSnapshot(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	snap, err := s.store.GetAccountSnapshot(r.Context(), accountID)
	if err != nil {
		writeError(w, "account snapshot not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// GetAccountHistory handles GET /api/v1/accounts/{accountID}/history.
func (s *Service) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	recs, err := s.store.ListOperationsByAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load account history", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []model.OperationRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

// ListAssets handles GET /api/v1/assets: the allow-list with live prices.
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets := []model.AssetInfo{}
	for _, sym := range s.engine.Assets() {
		info := model.AssetInfo{Symbol: sym}
		if feed, err := s.engine.Feed(sym); err == nil {
			if rd, err := feed.LatestRoundData(); err == nil {
				info.Decimals = rd.Decimals
			}
		}
		if price, err := s.engine.UsdValue(sym, decimal.NewFromInt(1)); err == nil {
			info.PriceUsd = price
		}
		assets = append(assets, info)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assets)
}

// GetAssetPrice handles GET /api/v1/assets/{symbol}/price.
func (s *Service) GetAssetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	price, err := s.engine.UsdValue(symbol, decimal.NewFromInt(1))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{"price_usd": price})
}

// GetAssetHistory handles GET /api/v1/assets/{symbol}/history: every
// operation that touched one collateral asset.
func (s *Service) GetAssetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	recs, err := s.store.ListOperationsByAsset(r.Context(), symbol)
	if err != nil {
		writeError(w, "failed to load asset history", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []model.OperationRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

// GetUsdValue handles GET /api/v1/value?asset=X&amount=N.
func (s *Service) GetUsdValue(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("asset")
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, "invalid amount", http.StatusBadRequest)
		return
	}

	value, err := s.engine.UsdValue(symbol, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{"usd_value": value})
}

// GetCollateralAmount handles GET /api/v1/collateral-amount?asset=X&usd=N.
func (s *Service) GetCollateralAmount(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("asset")
	usd, err := decimal.NewFromString(r.URL.Query().Get("usd"))
	if err != nil {
		writeError(w, "invalid usd amount", http.StatusBadRequest)
		return
	}

	amount, err := s.engine.CollateralAmountForUsd(symbol, usd)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{"collateral_amount": amount})
}

// GetConfig handles GET /api/v1/config: the static engine parameters.
func (s *Service) GetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"staleness_window_seconds":     int(s.engine.StalenessWindow().Seconds()),
		"overcollateralization_factor": s.engine.OvercollateralizationFactor(),
		"min_health_factor":            s.engine.MinHealthFactor(),
		"liquidation_bonus_divisor":    s.engine.BonusDivisor(),
		"assets":                       s.engine.Assets(),
		"engine_account":               s.engine.EngineAccount(),
	})
}

// --- Helpers ---

// writeEngineError maps engine errors onto HTTP statuses: validation → 400,
// solvency and liquidation-state conflicts → 409, stale oracle → 503,
// external token failures → 502.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		breaksHF    *engine.BreaksHealthFactorError
		hfOk        *engine.HealthFactorOkError
		notImproved *engine.HealthFactorNotImprovedError
		stale       *oracle.StaleError
	)

	switch {
	case errors.Is(err, engine.ErrZeroAmount),
		errors.Is(err, engine.ErrTokenNotAllowed):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &breaksHF), errors.As(err, &hfOk), errors.As(err, &notImproved):
		if errors.As(err, &breaksHF) {
			metrics.HealthFactorRejections.Inc()
		}
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrInsufficientCollateral),
		errors.Is(err, engine.ErrInsufficientDebt),
		errors.Is(err, engine.ErrReentrantCall):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &stale):
		metrics.StaleOracleRejections.Inc()
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, engine.ErrCollateralTransferFailed),
		errors.Is(err, engine.ErrDebtMintFailed),
		errors.Is(err, engine.ErrDebtTransferFailed):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// decimalGauge converts a decimal to float64 for gauge export only; money
// math never runs on the float.
func decimalGauge(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
