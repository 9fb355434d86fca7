package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pairlab/pairing-server-go/internal/audit"
	apperrors "github.com/pairlab/pairing-server-go/internal/errors"
	"github.com/pairlab/pairing-server-go/internal/service"
)

type ProviderHandler struct {
	loginService *service.ProviderLoginService
}

func NewProviderHandler(loginService *service.ProviderLoginService) *ProviderHandler {
	return &ProviderHandler{loginService: loginService}
}

func (h *ProviderHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{provider}", h.Initiate)
	r.Get("/{provider}/callback", h.Callback)

	return r
}

// GET /v1/auth/{provider}
func (h *ProviderHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")

	result, err := h.loginService.Initiate(r.Context(), providerID)
	if err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, result.AuthURL, http.StatusFound)
}

type callbackResponse struct {
	Token string `json:"token"`
}

// GET /v1/auth/{provider}/callback
func (h *ProviderHandler) Callback(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	token, err := h.loginService.Callback(r.Context(), providerID, code, state)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeInvalidState) {
			audit.LogFromRequest(r, audit.Event{
				Type:     audit.EventProviderDenied,
				Provider: providerID,
			})
		}
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:     audit.EventProviderLogin,
		Provider: providerID,
	})

	writeJSON(w, http.StatusOK, callbackResponse{Token: token})
}
