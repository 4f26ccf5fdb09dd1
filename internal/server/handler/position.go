package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/truthmarkets/settled/internal/domain"
	"github.com/truthmarkets/settled/internal/service"
)

// PositionService defines the methods that the position handler requires
// from the service layer.
type PositionService interface {
	Stake(ctx context.Context, claimID, owner string, side domain.Side, amount int64) (domain.Position, error)
	ClaimWinnings(ctx context.Context, claimID, caller string) (service.PayoutBreakdown, error)
	ClaimRefund(ctx context.Context, claimID, caller string) (int64, error)
	Get(ctx context.Context, claimID, owner string) (domain.Position, error)
	ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error)
	ListByClaim(ctx context.Context, claimID string, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves staking and settlement HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and
// logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

type stakeRequest struct {
	Owner  string `json:"owner"`
	Side   string `json:"side"`
	Amount int64  `json:"amount"`
}

// Stake places a stake on one side of an open claim.
// POST /api/claims/{id}/stake
func (h *PositionHandler) Stake(w http.ResponseWriter, r *http.Request) {
	claimID := pathParam(r, "id")

	var req stakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	pos, err := h.positions.Stake(r.Context(), claimID, req.Owner, domain.Side(req.Side), req.Amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: stake rejected",
			slog.String("claim_id", claimID),
			slog.String("owner", req.Owner),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to place stake")
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

type settleRequest struct {
	Caller string `json:"caller"`
}

// ClaimWinnings settles a winning position and returns the full payout
// breakdown.
// POST /api/claims/{id}/winnings
func (h *PositionHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	claimID := pathParam(r, "id")

	var req settleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	breakdown, err := h.positions.ClaimWinnings(r.Context(), claimID, req.Caller)
	if err != nil {
		writeDomainError(w, err, "failed to claim winnings")
		return
	}

	writeJSON(w, http.StatusOK, breakdown)
}

type refundResponse struct {
	ClaimID string `json:"claim_id"`
	Owner   string `json:"owner"`
	Refund  int64  `json:"refund"`
}

// ClaimRefund returns a staker's full stake on a cancelled claim.
// POST /api/claims/{id}/refund
func (h *PositionHandler) ClaimRefund(w http.ResponseWriter, r *http.Request) {
	claimID := pathParam(r, "id")

	var req settleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	refund, err := h.positions.ClaimRefund(r.Context(), claimID, req.Caller)
	if err != nil {
		writeDomainError(w, err, "failed to claim refund")
		return
	}

	writeJSON(w, http.StatusOK, refundResponse{ClaimID: claimID, Owner: req.Caller, Refund: refund})
}

// GetPosition returns one owner's position on a claim.
// GET /api/claims/{id}/positions/{owner}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	claimID := pathParam(r, "id")
	owner := pathParam(r, "owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing owner")
		return
	}

	pos, err := h.positions.Get(r.Context(), claimID, owner)
	if err != nil {
		writeDomainError(w, err, "failed to get position")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// listPositionsResponse wraps the list endpoint output with paging metadata.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// ListByClaim returns all positions staked on a claim.
// GET /api/claims/{id}/positions
func (h *PositionHandler) ListByClaim(w http.ResponseWriter, r *http.Request) {
	claimID := pathParam(r, "id")
	opts := parseListOpts(r)

	positions, err := h.positions.ListByClaim(r.Context(), claimID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("claim_id", claimID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to list positions")
		return
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions: positions,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// ListByOwner returns all positions held by an identity.
// GET /api/positions?owner=<identity>
func (h *PositionHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	opts := parseListOpts(r)

	positions, err := h.positions.ListByOwner(r.Context(), owner, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions by owner failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to list positions")
		return
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions: positions,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}
