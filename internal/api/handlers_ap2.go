/**
 * @description
 * This file contains the AP2 escrow endpoints: initiate (hold + escrow creation),
 * complete (authorize, confirm, or fail), escrow lookup, and the direct transfer path
 * that bypasses the hold/verify cycle for pre-trusted counterparties.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/google/uuid: For id parsing.
 * - internal/app, internal/domain: Service logic and models.
 */

package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentmesh/settlement-service/internal/app"
	"github.com/agentmesh/settlement-service/internal/domain"
)

type initiateEscrowRequest struct {
	SourceWalletID      string `json:"source_wallet_id"`
	DestinationWalletID string `json:"destination_wallet_id"`
	Amount              int64  `json:"amount"`
	Memo                string `json:"memo"`
}

type escrowResponse struct {
	Escrow          *domain.Escrow            `json:"escrow"`
	HoldTransaction *domain.LedgerTransaction `json:"hold_transaction,omitempty"`
}

// InitiateEscrowHandler holds funds on the source wallet and opens an escrow for them.
func (h *SettlementHandlers) InitiateEscrowHandler(w http.ResponseWriter, r *http.Request) {
	var req initiateEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sourceID, err := uuid.Parse(req.SourceWalletID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "source_wallet_id must be a UUID")
		return
	}
	destinationID, err := uuid.Parse(req.DestinationWalletID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "destination_wallet_id must be a UUID")
		return
	}

	escrow, holdTx, err := h.ap2.Initiate(r.Context(), sourceID, destinationID, req.Amount, req.Memo)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, escrowResponse{Escrow: escrow, HoldTransaction: holdTx})
}

type completeEscrowRequest struct {
	EscrowID      string `json:"escrow_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// CompleteEscrowHandler resolves an escrow: FAILED refunds it, AUTHORIZED records an
// acknowledgment, anything else settles it. Completing an already-terminal escrow
// reports a conflict.
func (h *SettlementHandlers) CompleteEscrowHandler(w http.ResponseWriter, r *http.Request) {
	var req completeEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	escrowID, err := uuid.Parse(req.EscrowID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "escrow_id must be a UUID")
		return
	}
	if req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	escrow, err := h.ap2.Complete(r.Context(), app.CompleteParams{
		EscrowID:      escrowID,
		Status:        req.Status,
		FailureReason: req.FailureReason,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, escrowResponse{Escrow: escrow})
}

// GetEscrowHandler returns an escrow by id.
func (h *SettlementHandlers) GetEscrowHandler(w http.ResponseWriter, r *http.Request) {
	escrowID, err := parsePathUUID(r, "escrowID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "escrow id must be a UUID")
		return
	}

	escrow, err := h.ap2.GetEscrow(r.Context(), escrowID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, escrowResponse{Escrow: escrow})
}

type directTransferRequest struct {
	SourceWalletID      string  `json:"source_wallet_id"`
	DestinationWalletID string  `json:"destination_wallet_id"`
	Amount              int64   `json:"amount"`
	Reference           *string `json:"reference,omitempty"`
}

// DirectTransferHandler moves funds between wallets with no hold phase. Supplying a
// reference makes retried transfers idempotent.
func (h *SettlementHandlers) DirectTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req directTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sourceID, err := uuid.Parse(req.SourceWalletID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "source_wallet_id must be a UUID")
		return
	}
	destinationID, err := uuid.Parse(req.DestinationWalletID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "destination_wallet_id must be a UUID")
		return
	}

	debit, err := h.ap2.DirectTransfer(r.Context(), sourceID, destinationID, req.Amount, req.Reference)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"transaction": debit})
}
