package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/credentials"
	"github.com/iudanet/authron/internal/totp"
	"github.com/iudanet/authron/internal/validation"
	"github.com/iudanet/authron/pkg/api"
)

// CredentialService is the part of credentials.Service used by CredentialHandler.
type CredentialService interface {
	Create(ctx context.Context, ownerID string, in credentials.CreateInput) (models.CredentialSummary, error)
	Import(ctx context.Context, ownerID string, entries []credentials.CreateInput) (credentials.ImportResult, error)
	List(ctx context.Context, ownerID string, filter models.CredentialFilter) ([]models.CredentialSummary, error)
	Get(ctx context.Context, ownerID, credentialID string) (models.CredentialSummary, error)
	Update(ctx context.Context, ownerID, credentialID string, in credentials.UpdateInput) (models.CredentialSummary, error)
	SetFavorite(ctx context.Context, ownerID, credentialID string, favorite bool) (models.CredentialSummary, error)
	Delete(ctx context.Context, ownerID, credentialID string) error
	Reveal(ctx context.Context, ownerID, credentialID string) (string, error)
	SetupTOTP(ctx context.Context, ownerID, credentialID, secret string) error
	TOTPCode(ctx context.Context, ownerID, credentialID string) (totp.Code, error)
	DisableTOTP(ctx context.Context, ownerID, credentialID string) error
}

// CredentialHandler обрабатывает запросы к записям хранилища
type CredentialHandler struct {
	responder
	creds CredentialService
}

// NewCredentialHandler создает новый handler для записей
func NewCredentialHandler(logger *slog.Logger, creds CredentialService) *CredentialHandler {
	return &CredentialHandler{
		responder: responder{logger: logger},
		creds:     creds,
	}
}

// Create обрабатывает POST /api/v1/credentials
func (h *CredentialHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req api.CredentialRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	summary, err := h.creds.Create(r.Context(), ownerID, createInput(req))
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendJSON(w, summary, http.StatusCreated)
}

// Import обрабатывает POST /api/v1/credentials/import
func (h *CredentialHandler) Import(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req api.ImportRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	entries := make([]credentials.CreateInput, 0, len(req.Credentials))
	for _, c := range req.Credentials {
		entries = append(entries, createInput(c))
	}

	result, err := h.creds.Import(r.Context(), ownerID, entries)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendJSON(w, api.ImportResponse{Imported: result.Imported, Skipped: result.Skipped}, http.StatusOK)
}

func createInput(req api.CredentialRequest) credentials.CreateInput {
	in := credentials.CreateInput{
		Title:      req.Title,
		Username:   req.Username,
		Website:    req.Website,
		Category:   req.Category,
		TOTPSecret: req.TOTPSecret,
		Favorite:   req.Favorite,
	}
	if req.Password != nil {
		in.Password = *req.Password
	}
	return in
}

// List обрабатывает GET /api/v1/credentials?category=&search=&favorite=
func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	list, err := h.creds.List(r.Context(), ownerID, filter)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendJSON(w, list, http.StatusOK)
}

// Get обрабатывает GET /api/v1/credentials/{id}
func (h *CredentialHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withCredential(w, r, func(ctx context.Context, ownerID, id string) {
		summary, err := h.creds.Get(ctx, ownerID, id)
		if err != nil {
			h.sendServiceError(w, r, err)
			return
		}
		h.sendJSON(w, summary, http.StatusOK)
	})
}

// Update обрабатывает PUT /api/v1/credentials/{id}
func (h *CredentialHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.withCredential(w, r, func(ctx context.Context, ownerID, id string) {
		var req api.CredentialRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}

		summary, err := h.creds.Update(ctx, ownerID, id, credentials.UpdateInput{
			Password: req.Password,
			Title:    req.Title,
			Username: req.Username,
			Website:  req.Website,
			Category: req.Category,
			Version:  req.Version,
			Favorite: req.Favorite,
		})
		if err != nil {
			h.sendServiceError(w, r, err)
			return
		}
		h.sendJSON(w, summary, http.StatusOK)
	})
}

// SetFavorite обрабатывает PUT /api/v1/credentials/{id}/favorite
func (h *CredentialHandler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	h.withCredential(w, r, func(ctx context.Context, ownerID, id string) {
		var req api.FavoriteRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}

		summary, err := h.creds.SetFavorite(ctx, ownerID, id, req.Favorite)
		if err != nil {
			h.sendServiceError(w, r, err)
			return
		}
		h.sendJSON(w, summary, http.StatusOK)
	})
}

// Delete обрабатывает DELETE /api/v1/credentials/{id}
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.withCredential(w, r, func(ctx context.Context, ownerID, id string) {
		if err := h.creds.Delete(ctx, ownerID, id); err != nil {
			h.sendServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// Reveal обрабатывает GET /api/v1/credentials/{id}/decrypt
func (h *CredentialHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	h.withCredential(w, r, func(ctx context.Context, ownerID, id string) {
		password, err := h.creds.Reveal(ctx, ownerID, id)
		if err != nil {
			h.sendServiceError(w, r, err)
			return
		}
		h.sendSecret(w, api.RevealResponse{Password: password})
	})
}

// SetupTOTP обрабатывает POST /api/v1/credentials/{id}/totp
func (h *CredentialHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	h.withCredential(w, r, func(ctx context.Context, ownerID, id string) {
		var req api.TOTPSecretRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}

		if err := h.creds.SetupTOTP(ctx, ownerID, id, req.Secret); err != nil {
			h.sendServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// TOTPCode обрабатывает GET /api/v1/credentials/{id}/totp/code
func (h *CredentialHandler) TOTPCode(w http.ResponseWriter, r *http.Request) {
	h.withCredential(w, r, func(ctx context.Context, ownerID, id string) {
		code, err := h.creds.TOTPCode(ctx, ownerID, id)
		if err != nil {
			h.sendServiceError(w, r, err)
			return
		}
		h.sendSecret(w, api.TOTPCodeResponse{
			Code:             code.Code,
			RemainingSeconds: code.RemainingSeconds,
			Interval:         code.Interval,
		})
	})
}

// DisableTOTP обрабатывает DELETE /api/v1/credentials/{id}/totp
func (h *CredentialHandler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	h.withCredential(w, r, func(ctx context.Context, ownerID, id string) {
		if err := h.creds.DisableTOTP(ctx, ownerID, id); err != nil {
			h.sendServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// withCredential извлекает владельца и {id} и вызывает fn
func (h *CredentialHandler) withCredential(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, ownerID, id string)) {
	ownerID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	id, err := pathValue(r, "id")
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	fn(r.Context(), ownerID, id)
}

func parseFilter(r *http.Request) (models.CredentialFilter, error) {
	q := r.URL.Query()

	filter := models.CredentialFilter{
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}

	if v := q.Get("favorite"); v != "" {
		fav, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("%w: favorite must be true or false", validation.ErrInvalid)
		}
		filter.Favorite = &fav
	}

	return filter, nil
}
