package handler

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/truthmarkets/settled/internal/domain"
	"github.com/truthmarkets/settled/internal/service"
)

// ClaimService defines the methods that the claim handler requires from the
// service layer. It is declared locally so the handler package depends on
// behaviour, not on a concrete implementation.
type ClaimService interface {
	Create(ctx context.Context, in service.CreateClaimInput) (domain.Claim, error)
	Get(ctx context.Context, id string) (domain.Claim, error)
	ListByStatus(ctx context.Context, status domain.ClaimStatus, opts domain.ListOpts) ([]domain.Claim, error)
	ListByCreator(ctx context.Context, creator string, opts domain.ListOpts) ([]domain.Claim, error)
	Cancel(ctx context.Context, id, caller, reason string) (domain.Claim, error)
	WithdrawCreatorFees(ctx context.Context, id, caller string) (int64, error)
	WithdrawProtocolFees(ctx context.Context, id, caller string) (int64, error)
}

// ResolutionService accepts attested resolution submissions.
type ResolutionService interface {
	SubmitResolution(ctx context.Context, in service.SubmitResolutionInput) (domain.Claim, error)
}

// ClaimHandler serves claim lifecycle HTTP endpoints.
type ClaimHandler struct {
	claims     ClaimService
	resolution ResolutionService
	logger     *slog.Logger
}

// NewClaimHandler creates a ClaimHandler with the given services and logger.
func NewClaimHandler(claims ClaimService, resolution ResolutionService, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{
		claims:     claims,
		resolution: resolution,
		logger:     logger,
	}
}

type createClaimRequest struct {
	Creator       string    `json:"creator"`
	SpecRef       string    `json:"spec_ref"`
	EvidenceRef   string    `json:"evidence_ref"`
	Description   string    `json:"description"`
	Deadline      time.Time `json:"deadline"`
	CreatorFeeBps int       `json:"creator_fee_bps"`
}

// CreateClaim opens a new claim for staking.
// POST /api/claims
func (h *ClaimHandler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Creator == "" {
		writeError(w, http.StatusBadRequest, "creator is required")
		return
	}

	claim, err := h.claims.Create(r.Context(), service.CreateClaimInput{
		Creator:       req.Creator,
		SpecRef:       req.SpecRef,
		EvidenceRef:   req.EvidenceRef,
		Description:   req.Description,
		Deadline:      req.Deadline,
		CreatorFeeBps: req.CreatorFeeBps,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create claim failed",
			slog.String("creator", req.Creator),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to create claim")
		return
	}

	writeJSON(w, http.StatusCreated, claim)
}

// GetClaim returns a single claim by its ID.
// GET /api/claims/{id}
func (h *ClaimHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing claim id")
		return
	}

	claim, err := h.claims.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get claim")
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// listClaimsResponse wraps the list endpoint output with paging metadata.
type listClaimsResponse struct {
	Claims []domain.Claim `json:"claims"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListClaims returns claims filtered by status or creator.
// GET /api/claims?status=open&limit=50&offset=0
// GET /api/claims?creator=<identity>
func (h *ClaimHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		claims []domain.Claim
		err    error
	)
	if creator := r.URL.Query().Get("creator"); creator != "" {
		claims, err = h.claims.ListByCreator(r.Context(), creator, opts)
	} else {
		status := domain.ClaimStatus(strings.ToLower(r.URL.Query().Get("status")))
		if status == "" {
			status = domain.ClaimStatusOpen
		}
		claims, err = h.claims.ListByStatus(r.Context(), status, opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list claims failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to list claims")
		return
	}

	writeJSON(w, http.StatusOK, listClaimsResponse{
		Claims: claims,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

type cancelClaimRequest struct {
	Caller string `json:"caller"`
	Reason string `json:"reason"`
}

// CancelClaim cancels an open claim with no stakes. Only the creator may
// cancel.
// POST /api/claims/{id}/cancel
func (h *ClaimHandler) CancelClaim(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req cancelClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	claim, err := h.claims.Cancel(r.Context(), id, req.Caller, req.Reason)
	if err != nil {
		writeDomainError(w, err, "failed to cancel claim")
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

type submitResolutionRequest struct {
	Result    *bool  `json:"result"`
	ResultRef string `json:"result_ref"`
	Proof     string `json:"proof"` // hex-encoded attestation
}

// SubmitResolution accepts an attested result for a claim past its deadline.
// POST /api/claims/{id}/resolution
func (h *ClaimHandler) SubmitResolution(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req submitResolutionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Result == nil {
		writeError(w, http.StatusBadRequest, "result is required")
		return
	}

	proof, err := hex.DecodeString(strings.TrimPrefix(req.Proof, "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "proof must be hex-encoded")
		return
	}

	claim, err := h.resolution.SubmitResolution(r.Context(), service.SubmitResolutionInput{
		ClaimID:   id,
		Result:    *req.Result,
		ResultRef: req.ResultRef,
		Proof:     proof,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: resolution rejected",
			slog.String("claim_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to submit resolution")
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

type withdrawFeesRequest struct {
	Caller string `json:"caller"`
}

type withdrawFeesResponse struct {
	ClaimID string `json:"claim_id"`
	Amount  int64  `json:"amount"`
}

// WithdrawCreatorFees pays accrued creator fees out of escrow.
// POST /api/claims/{id}/fees/creator
func (h *ClaimHandler) WithdrawCreatorFees(w http.ResponseWriter, r *http.Request) {
	h.withdrawFees(w, r, h.claims.WithdrawCreatorFees)
}

// WithdrawProtocolFees pays accrued protocol fees out of escrow.
// POST /api/claims/{id}/fees/protocol
func (h *ClaimHandler) WithdrawProtocolFees(w http.ResponseWriter, r *http.Request) {
	h.withdrawFees(w, r, h.claims.WithdrawProtocolFees)
}

func (h *ClaimHandler) withdrawFees(
	w http.ResponseWriter,
	r *http.Request,
	withdraw func(ctx context.Context, id, caller string) (int64, error),
) {
	id := pathParam(r, "id")

	var req withdrawFeesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	amount, err := withdraw(r.Context(), id, req.Caller)
	if err != nil {
		writeDomainError(w, err, "failed to withdraw fees")
		return
	}

	writeJSON(w, http.StatusOK, withdrawFeesResponse{ClaimID: id, Amount: amount})
}
