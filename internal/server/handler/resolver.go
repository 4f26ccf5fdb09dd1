package handler

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/truthmarkets/settled/internal/domain"
)

// RegistryService defines the methods that the resolver handler requires
// from the service layer.
type RegistryService interface {
	Register(ctx context.Context, caller string, fingerprint, publicKey []byte, description string) (domain.ResolverEntry, error)
	Revoke(ctx context.Context, caller, fingerprint string) error
	Get(ctx context.Context, fingerprint string) (domain.ResolverEntry, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.ResolverEntry, error)
}

// ResolverHandler serves resolver whitelist HTTP endpoints.
type ResolverHandler struct {
	registry RegistryService
	logger   *slog.Logger
}

// NewResolverHandler creates a ResolverHandler with the given service and
// logger.
func NewResolverHandler(registry RegistryService, logger *slog.Logger) *ResolverHandler {
	return &ResolverHandler{
		registry: registry,
		logger:   logger,
	}
}

// resolverResponse renders a whitelist entry with the public key in hex,
// matching the representation used for fingerprints and proofs.
type resolverResponse struct {
	Fingerprint  string    `json:"fingerprint"`
	PublicKey    string    `json:"public_key"`
	Description  string    `json:"description"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
}

func toResolverResponse(e domain.ResolverEntry) resolverResponse {
	return resolverResponse{
		Fingerprint:  e.Fingerprint,
		PublicKey:    hex.EncodeToString(e.PublicKey),
		Description:  e.Description,
		Active:       e.Active,
		RegisteredAt: e.RegisteredAt,
	}
}

type registerResolverRequest struct {
	Caller      string `json:"caller"`
	Fingerprint string `json:"fingerprint"` // hex-encoded measurement
	PublicKey   string `json:"public_key"`  // hex-encoded uncompressed secp256k1 key
	Description string `json:"description"`
}

// Register whitelists a resolver measurement. Admin only.
// POST /api/resolvers
func (h *ResolverHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerResolverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	fingerprint, err := hex.DecodeString(strings.TrimPrefix(req.Fingerprint, "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "fingerprint must be hex-encoded")
		return
	}
	publicKey, err := hex.DecodeString(strings.TrimPrefix(req.PublicKey, "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "public_key must be hex-encoded")
		return
	}

	entry, err := h.registry.Register(r.Context(), req.Caller, fingerprint, publicKey, req.Description)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: resolver registration rejected",
			slog.String("caller", req.Caller),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to register resolver")
		return
	}

	writeJSON(w, http.StatusCreated, toResolverResponse(entry))
}

// Revoke deactivates a whitelisted measurement. Admin only.
// DELETE /api/resolvers/{fingerprint}?caller=<identity>
func (h *ResolverHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	fingerprint := pathParam(r, "fingerprint")
	caller := r.URL.Query().Get("caller")
	if caller == "" {
		writeError(w, http.StatusBadRequest, "caller query parameter is required")
		return
	}

	if err := h.registry.Revoke(r.Context(), caller, fingerprint); err != nil {
		writeDomainError(w, err, "failed to revoke resolver")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"fingerprint": fingerprint, "status": "revoked"})
}

// Get returns a single whitelist entry.
// GET /api/resolvers/{fingerprint}
func (h *ResolverHandler) Get(w http.ResponseWriter, r *http.Request) {
	fingerprint := pathParam(r, "fingerprint")

	entry, err := h.registry.Get(r.Context(), fingerprint)
	if err != nil {
		writeDomainError(w, err, "failed to get resolver")
		return
	}

	writeJSON(w, http.StatusOK, toResolverResponse(entry))
}

// listResolversResponse wraps the list endpoint output.
type listResolversResponse struct {
	Resolvers []resolverResponse `json:"resolvers"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// List returns all whitelist entries, newest first.
// GET /api/resolvers
func (h *ResolverHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.registry.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list resolvers failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to list resolvers")
		return
	}

	out := make([]resolverResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResolverResponse(e))
	}

	writeJSON(w, http.StatusOK, listResolversResponse{
		Resolvers: out,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}
