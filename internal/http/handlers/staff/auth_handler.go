package staff

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	appmw "github.com/tripdesk/tripdesk-portal/internal/http/middleware"
	"github.com/tripdesk/tripdesk-portal/internal/http/response"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/service/staffauth"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

type AuthHandler struct {
	svc    *staffauth.Service
	tokens *token.Service
}

func NewAuthHandler(svc *staffauth.Service, tokens *token.Service) *AuthHandler {
	return &AuthHandler{svc: svc, tokens: tokens}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)
	r.Group(func(pr chi.Router) {
		pr.Use(appmw.RequireStaff(h.tokens, ""))
		pr.Post("/invitations", h.InviteClient)
	})
	return r
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		response.BadRequest(w, "email and password are required")
		return
	}

	result, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, staffauth.ErrInvalidCredentials) {
			response.InvalidCredentials(w)
			return
		}
		logger.ErrorContext(r.Context(), "staff login failed", "error", err)
		response.InternalError(w)
		return
	}
	response.OK(w, result)
}

func (h *AuthHandler) InviteClient(w http.ResponseWriter, r *http.Request) {
	claims := appmw.StaffClaims(r)
	if claims == nil {
		response.Unauthorized(w)
		return
	}
	var req struct {
		PartyID string `json:"partyId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if req.PartyID == "" {
		response.BadRequest(w, "partyId is required")
		return
	}

	result, err := h.svc.InviteClient(r.Context(), req.PartyID, claims.Subject)
	if err != nil {
		switch {
		case errors.Is(err, staffauth.ErrPartyNotFound):
			response.NotFound(w, "Party not found")
		case errors.Is(err, staffauth.ErrAlreadyRegistered):
			response.Conflict(w, "This client is already registered")
		default:
			logger.ErrorContext(r.Context(), "invite client failed", "error", err)
			response.InternalError(w)
		}
		return
	}
	response.OKMessage(w, result, "Invitation sent")
}
