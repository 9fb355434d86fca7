package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pairlab/pairing-server-go/internal/audit"
	apperrors "github.com/pairlab/pairing-server-go/internal/errors"
	"github.com/pairlab/pairing-server-go/internal/middleware"
	"github.com/pairlab/pairing-server-go/internal/service"
)

type PairingHandler struct {
	pairingService *service.PairingService
	authMiddleware *middleware.AuthMiddleware
	initiateLimit  func(http.Handler) http.Handler
	claimLimit     func(http.Handler) http.Handler
}

// NewPairingHandler wires the pairing endpoints. The limit middlewares
// may be nil, which leaves the endpoint unthrottled (tests).
func NewPairingHandler(
	pairingService *service.PairingService,
	authMiddleware *middleware.AuthMiddleware,
	initiateLimit func(http.Handler) http.Handler,
	claimLimit func(http.Handler) http.Handler,
) *PairingHandler {
	return &PairingHandler{
		pairingService: pairingService,
		authMiddleware: authMiddleware,
		initiateLimit:  initiateLimit,
		claimLimit:     claimLimit,
	}
}

func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if h.initiateLimit != nil {
			r.Use(h.initiateLimit)
		}
		r.Post("/", h.Initiate)
	})

	r.Get("/{requestId}", h.Status)
	r.Post("/{requestId}/token", h.Finish)

	// Claim requires an authenticated approver.
	r.Group(func(r chi.Router) {
		if h.claimLimit != nil {
			r.Use(h.claimLimit)
		}
		r.Use(h.authMiddleware.Handler)
		r.Post("/claim", h.Claim)
	})

	return r
}

// POST /v1/pairing
func (h *PairingHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	result, err := h.pairingService.Initiate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventPairingInitiate,
		RequestID: result.RequestID,
	})

	writeJSON(w, http.StatusCreated, result)
}

// GET /v1/pairing/{requestId}
func (h *PairingHandler) Status(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	if requestID == "" {
		writeError(w, apperrors.MissingRequired("requestId"))
		return
	}

	result, err := h.pairingService.Status(r.Context(), requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type claimRequest struct {
	Code string `json:"code"`
}

type claimResponse struct {
	RequestID string `json:"requestId"`
}

// POST /v1/pairing/claim
func (h *PairingHandler) Claim(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	requestID, err := h.pairingService.Claim(r.Context(), req.Code, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventPairingClaim,
		UserID:    userID,
		RequestID: requestID,
	})

	writeJSON(w, http.StatusOK, claimResponse{RequestID: requestID})
}

type finishResponse struct {
	Token string `json:"token"`
}

// POST /v1/pairing/{requestId}/token
func (h *PairingHandler) Finish(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	if requestID == "" {
		writeError(w, apperrors.MissingRequired("requestId"))
		return
	}

	token, err := h.pairingService.Finish(r.Context(), requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventPairingFinish,
		RequestID: requestID,
	})

	writeJSON(w, http.StatusOK, finishResponse{Token: token})
}
