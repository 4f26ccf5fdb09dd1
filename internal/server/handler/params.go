package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/truthmarkets/settled/internal/domain"
)

// ParamsService defines the parameter administration methods the handler
// requires from the service layer.
type ParamsService interface {
	Params(ctx context.Context) (domain.Params, error)
	UpdateAdmin(ctx context.Context, caller, newAdmin string) error
	UpdateFeeRecipient(ctx context.Context, caller, recipient string) error
	UpdateProtocolFee(ctx context.Context, caller string, feeBps int) error
}

// ParamsHandler serves protocol parameter HTTP endpoints.
type ParamsHandler struct {
	params ParamsService
	logger *slog.Logger
}

// NewParamsHandler creates a ParamsHandler with the given service and logger.
func NewParamsHandler(params ParamsService, logger *slog.Logger) *ParamsHandler {
	return &ParamsHandler{
		params: params,
		logger: logger,
	}
}

// Get returns the current protocol parameters.
// GET /api/params
func (h *ParamsHandler) Get(w http.ResponseWriter, r *http.Request) {
	params, err := h.params.Params(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get params failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to get params")
		return
	}

	writeJSON(w, http.StatusOK, params)
}

type updateAdminRequest struct {
	Caller string `json:"caller"`
	Admin  string `json:"admin"`
}

// UpdateAdmin transfers protocol administration to a new identity.
// PUT /api/params/admin
func (h *ParamsHandler) UpdateAdmin(w http.ResponseWriter, r *http.Request) {
	var req updateAdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Caller == "" || req.Admin == "" {
		writeError(w, http.StatusBadRequest, "caller and admin are required")
		return
	}

	if err := h.params.UpdateAdmin(r.Context(), req.Caller, req.Admin); err != nil {
		writeDomainError(w, err, "failed to update admin")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"admin": req.Admin})
}

type updateFeeRecipientRequest struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

// UpdateFeeRecipient changes where protocol fees are paid.
// PUT /api/params/fee-recipient
func (h *ParamsHandler) UpdateFeeRecipient(w http.ResponseWriter, r *http.Request) {
	var req updateFeeRecipientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Caller == "" || req.Recipient == "" {
		writeError(w, http.StatusBadRequest, "caller and recipient are required")
		return
	}

	if err := h.params.UpdateFeeRecipient(r.Context(), req.Caller, req.Recipient); err != nil {
		writeDomainError(w, err, "failed to update fee recipient")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"fee_recipient": req.Recipient})
}

type updateProtocolFeeRequest struct {
	Caller string `json:"caller"`
	FeeBps int    `json:"fee_bps"`
}

// UpdateProtocolFee changes the protocol fee rate applied to new claims.
// PUT /api/params/protocol-fee
func (h *ParamsHandler) UpdateProtocolFee(w http.ResponseWriter, r *http.Request) {
	var req updateProtocolFeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	if err := h.params.UpdateProtocolFee(r.Context(), req.Caller, req.FeeBps); err != nil {
		writeDomainError(w, err, "failed to update protocol fee")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"protocol_fee_bps": req.FeeBps})
}
