/**
 * @description
 * This file contains the shared handler plumbing for the settlement service API plus
 * the wallet endpoints. Handlers parse requests, call the application services, and map
 * domain errors onto HTTP statuses: validation to 400, not-found to 404, conflicts
 * (insufficient funds, terminal escrow, duplicate cancel) to 409, everything else 500.
 * Domain errors arrive unwrapped from the services, so errors.Is is sufficient here.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5, github.com/google/uuid: Routing and id parsing.
 * - internal/app, internal/domain, internal/store: Service logic, models, errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentmesh/settlement-service/internal/app"
	"github.com/agentmesh/settlement-service/internal/domain"
	"github.com/agentmesh/settlement-service/internal/store"
)

// WebhookConfig carries the signature and throttling settings for webhook endpoints.
type WebhookConfig struct {
	X402Secret             string
	StripeSecret           string
	StrictAuth             bool
	StripeToleranceSeconds int
	RateLimitPerMinute     int
	FundRateLimitPerMinute int
}

// SettlementHandlers holds the application services that handlers dispatch to.
type SettlementHandlers struct {
	wallets  *app.WalletService
	ap2      *app.AP2Service
	outcomes *app.OutcomeService
	rail     *app.RailService
	limiter  *app.RedisRateLimiter
	webhooks WebhookConfig
}

// NewSettlementHandlers creates the handler set for the API router.
func NewSettlementHandlers(
	wallets *app.WalletService,
	ap2 *app.AP2Service,
	outcomes *app.OutcomeService,
	rail *app.RailService,
	limiter *app.RedisRateLimiter,
	webhooks WebhookConfig,
) *SettlementHandlers {
	return &SettlementHandlers{
		wallets:  wallets,
		ap2:      ap2,
		outcomes: outcomes,
		rail:     rail,
		limiter:  limiter,
		webhooks: webhooks,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
		}
	}
}

func (h *SettlementHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps a settlement-core error onto the HTTP taxonomy.
func (h *SettlementHandlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidOwnerType),
		errors.Is(err, app.ErrInvalidCurrency),
		errors.Is(err, app.ErrSameWallet),
		errors.Is(err, app.ErrInvalidVerificationStatus),
		errors.Is(err, app.ErrMissingTxHash),
		errors.Is(err, app.ErrMissingWalletOwner):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, store.ErrEscrowNotFound),
		errors.Is(err, store.ErrAgreementNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrVerificationNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrEscrowAlreadyTerminal),
		errors.Is(err, store.ErrHoldNotPending),
		errors.Is(err, store.ErrWalletInactive),
		errors.Is(err, store.ErrWalletExists):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("level=error component=api msg=\"unexpected error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parsePathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// remoteSubject extracts the client host for rate limiting.
func remoteSubject(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// allowRate consumes one attempt from the limiter; on a throttled request it writes
// the 429 response and returns false.
func (h *SettlementHandlers) allowRate(w http.ResponseWriter, r *http.Request, scope string, limit int) bool {
	if h.limiter == nil || limit <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), scope, remoteSubject(r), limit, time.Minute)
	if err != nil {
		// Fail open: a rate limiter outage must not block settlement traffic.
		log.Printf("level=warn component=api msg=\"rate limiter unavailable\" scope=%s err=%v", scope, err)
		return true
	}
	if count > limit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

type createWalletRequest struct {
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
	Currency  string `json:"currency"`
}

// CreateWalletHandler provisions a wallet for an owner (internal callers only).
func (h *SettlementHandlers) CreateWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "owner_id must be a UUID")
		return
	}

	wallet, err := h.wallets.CreateWallet(r.Context(), req.OwnerType, ownerID, req.Currency)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, wallet)
}

type walletResponse struct {
	*domain.Wallet
	AvailableBalance int64 `json:"available_balance"`
}

// GetWalletHandler returns a wallet with settled and available balances.
func (h *SettlementHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	walletID, err := parsePathUUID(r, "walletID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "wallet id must be a UUID")
		return
	}

	wallet, balances, err := h.wallets.GetWallet(r.Context(), walletID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, walletResponse{Wallet: wallet, AvailableBalance: balances.Available})
}

type fundWalletRequest struct {
	Amount    int64   `json:"amount"`
	Reference *string `json:"reference,omitempty"`
}

// FundWalletHandler credits a wallet (top-up). Supplying a reference makes retries
// idempotent.
func (h *SettlementHandlers) FundWalletHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowRate(w, r, "wallet_fund", h.webhooks.FundRateLimitPerMinute) {
		return
	}

	walletID, err := parsePathUUID(r, "walletID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "wallet id must be a UUID")
		return
	}

	var req fundWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	credit, err := h.wallets.FundWallet(r.Context(), walletID, req.Amount, req.Reference)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, credit)
}

// ListWalletTransactionsHandler returns ledger history for a wallet, newest first.
func (h *SettlementHandlers) ListWalletTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	walletID, err := parsePathUUID(r, "walletID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "wallet id must be a UUID")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	transactions, err := h.wallets.ListTransactions(r.Context(), walletID, limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
