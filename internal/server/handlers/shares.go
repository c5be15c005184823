package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/pkg/api"
)

// ShareService is the part of sharing.Service used by ShareHandler.
type ShareService interface {
	Share(ctx context.Context, senderID, credentialID, recipientEmail string) (*models.ShareInvite, error)
	ListPending(ctx context.Context, accountID string) ([]*models.ShareInvite, error)
	Stats(ctx context.Context, accountID string) (models.ShareStats, error)
	Accept(ctx context.Context, token, recipientID string) (models.CredentialSummary, error)
	Reject(ctx context.Context, token, recipientID string) error
}

// ShareHandler обрабатывает запросы на передачу записей
type ShareHandler struct {
	responder
	shares ShareService
}

// NewShareHandler создает новый handler для передачи записей
func NewShareHandler(logger *slog.Logger, shares ShareService) *ShareHandler {
	return &ShareHandler{
		responder: responder{logger: logger},
		shares:    shares,
	}
}

// Share обрабатывает POST /api/v1/shares
func (h *ShareHandler) Share(w http.ResponseWriter, r *http.Request) {
	senderID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req api.ShareRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	invite, err := h.shares.Share(r.Context(), senderID, req.CredentialID, req.RecipientEmail)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendJSON(w, api.ShareResponse{
		Token:          invite.Token,
		RecipientEmail: invite.RecipientEmail,
		ExpiresAt:      invite.ExpiresAt,
	}, http.StatusCreated)
}

// Pending обрабатывает GET /api/v1/shares/pending
func (h *ShareHandler) Pending(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	invites, err := h.shares.ListPending(r.Context(), accountID)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	resp := make([]api.PendingShareResponse, 0, len(invites))
	for _, inv := range invites {
		resp = append(resp, api.PendingShareResponse{
			Token:       inv.Token,
			Title:       inv.Title,
			Username:    inv.Username,
			Website:     inv.Website,
			SenderEmail: inv.SenderEmail,
			CreatedAt:   inv.CreatedAt,
			ExpiresAt:   inv.ExpiresAt,
		})
	}

	h.sendJSON(w, resp, http.StatusOK)
}

// Stats обрабатывает GET /api/v1/shares/stats
func (h *ShareHandler) Stats(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	stats, err := h.shares.Stats(r.Context(), accountID)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendJSON(w, stats, http.StatusOK)
}

// Accept обрабатывает POST /api/v1/shares/{token}/accept
func (h *ShareHandler) Accept(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	token, err := pathValue(r, "token")
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	summary, err := h.shares.Accept(r.Context(), token, accountID)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendJSON(w, summary, http.StatusOK)
}

// Reject обрабатывает POST /api/v1/shares/{token}/reject
func (h *ShareHandler) Reject(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	token, err := pathValue(r, "token")
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	if err := h.shares.Reject(r.Context(), token, accountID); err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
