/**
 * @description
 * This file contains the outcome verification endpoints: registering service
 * agreements, fetching them, and recording a reviewer's verdict on a deliverable. A
 * VERIFIED verdict releases the linked escrow; a REJECTED verdict refunds it. Repeating
 * the same verdict is a no-op on funds.
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

type createAgreementRequest struct {
	AgentID     string  `json:"agent_id"`
	BuyerID     *string `json:"buyer_id,omitempty"`
	EscrowID    *string `json:"escrow_id,omitempty"`
	OutcomeType string  `json:"outcome_type"`
}

// CreateAgreementHandler registers a service agreement (internal callers only).
func (h *SettlementHandlers) CreateAgreementHandler(w http.ResponseWriter, r *http.Request) {
	var req createAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "agent_id must be a UUID")
		return
	}
	buyerID, err := parseOptionalUUID(req.BuyerID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "buyer_id must be a UUID")
		return
	}
	escrowID, err := parseOptionalUUID(req.EscrowID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "escrow_id must be a UUID")
		return
	}

	agreement, err := h.outcomes.CreateAgreement(r.Context(), &domain.ServiceAgreement{
		AgentID:     agentID,
		BuyerID:     buyerID,
		EscrowID:    escrowID,
		OutcomeType: req.OutcomeType,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, agreement)
}

// GetAgreementHandler returns a service agreement by id.
func (h *SettlementHandlers) GetAgreementHandler(w http.ResponseWriter, r *http.Request) {
	agreementID, err := parsePathUUID(r, "agreementID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "agreement id must be a UUID")
		return
	}

	agreement, err := h.outcomes.GetAgreement(r.Context(), agreementID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, agreement)
}

type verifyOutcomeRequest struct {
	Status     string         `json:"status"`
	EscrowID   *string        `json:"escrow_id,omitempty"`
	Evidence   map[string]any `json:"evidence,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	ReviewerID *string        `json:"reviewer_id,omitempty"`
}

// VerifyOutcomeHandler records a verification verdict for an agreement's deliverable
// and triggers the escrow side effect on a status transition.
func (h *SettlementHandlers) VerifyOutcomeHandler(w http.ResponseWriter, r *http.Request) {
	agreementID, err := parsePathUUID(r, "agreementID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "agreement id must be a UUID")
		return
	}

	var req verifyOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	escrowID, err := parseOptionalUUID(req.EscrowID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "escrow_id must be a UUID")
		return
	}
	reviewerID, err := parseOptionalUUID(req.ReviewerID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "reviewer_id must be a UUID")
		return
	}
	if reviewerID == nil {
		// Fall back to the authenticated caller when the body names no reviewer.
		if callerID, ok := GetCallerID(r.Context()); ok {
			if parsed, parseErr := uuid.Parse(callerID); parseErr == nil {
				reviewerID = &parsed
			}
		}
	}

	verification, err := h.outcomes.RecordVerification(r.Context(), agreementID, app.VerificationParams{
		Status:     req.Status,
		EscrowID:   escrowID,
		Evidence:   req.Evidence,
		Notes:      req.Notes,
		ReviewerID: reviewerID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, verification)
}

func parseOptionalUUID(raw *string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
