package client

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
	appmw "github.com/tripdesk/tripdesk-portal/internal/http/middleware"
	"github.com/tripdesk/tripdesk-portal/internal/http/response"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/service/clientauth"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

type AuthHandler struct {
	svc    *clientauth.Service
	tokens *token.Service
}

func NewAuthHandler(svc *clientauth.Service, tokens *token.Service) *AuthHandler {
	return &AuthHandler{svc: svc, tokens: tokens}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)
	r.Post("/register", h.Register)
	r.Post("/refresh", h.Refresh)
	r.Group(func(pr chi.Router) {
		pr.Use(appmw.RequireClient(h.tokens))
		pr.Post("/logout", h.Logout)
		pr.Get("/me", h.Me)
		pr.Put("/me/notification-token", h.SetNotificationToken)
	})
	return r
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	pair, err := h.svc.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, clientauth.ErrInvalidCredentials) {
			response.InvalidCredentials(w)
			return
		}
		logger.ErrorContext(r.Context(), "login failed", "error", err)
		response.InternalError(w)
		return
	}
	response.OK(w, pair)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	pair, err := h.svc.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, clientauth.ErrInvalidToken):
			response.Unauthorized(w)
		case errors.Is(err, clientauth.ErrAlreadyRegistered):
			response.Conflict(w, "This client is already registered")
		default:
			logger.ErrorContext(r.Context(), "register failed", "error", err)
			response.InternalError(w)
		}
		return
	}
	response.Created(w, pair)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req domain.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, clientauth.ErrInvalidToken) {
			response.Unauthorized(w)
			return
		}
		logger.ErrorContext(r.Context(), "refresh failed", "error", err)
		response.InternalError(w)
		return
	}
	response.OK(w, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := appmw.ClientIdentity(r)
	if !ok {
		response.Unauthorized(w)
		return
	}
	if err := h.svc.Logout(r.Context(), identity.ClientID); err != nil {
		logger.ErrorContext(r.Context(), "logout failed", "error", err)
		response.InternalError(w)
		return
	}
	response.OK(w, map[string]bool{"loggedOut": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := appmw.ClientIdentity(r)
	if !ok {
		response.Unauthorized(w)
		return
	}
	profile, err := h.svc.Profile(r.Context(), identity)
	if err != nil {
		if errors.Is(err, clientauth.ErrNotFound) {
			response.Unauthorized(w)
			return
		}
		logger.ErrorContext(r.Context(), "profile lookup failed", "error", err)
		response.InternalError(w)
		return
	}
	response.OK(w, profile)
}

func (h *AuthHandler) SetNotificationToken(w http.ResponseWriter, r *http.Request) {
	identity, ok := appmw.ClientIdentity(r)
	if !ok {
		response.Unauthorized(w)
		return
	}
	var req struct {
		NotificationToken *string `json:"notificationToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.svc.SetNotificationToken(r.Context(), identity.ClientID, req.NotificationToken); err != nil {
		logger.ErrorContext(r.Context(), "set notification token failed", "error", err)
		response.InternalError(w)
		return
	}
	response.OK(w, map[string]bool{"updated": true})
}
