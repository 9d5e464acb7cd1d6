package client

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	appmw "github.com/tripdesk/tripdesk-portal/internal/http/middleware"
	"github.com/tripdesk/tripdesk-portal/internal/http/response"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/repo/postgres"
	"github.com/tripdesk/tripdesk-portal/internal/service/offers"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

const offerNotFoundMessage = "Offer not found"

type OffersHandler struct {
	svc    *offers.Service
	notifs postgres.NotificationRepo
	tokens *token.Service
}

func NewOffersHandler(svc *offers.Service, notifs postgres.NotificationRepo, tokens *token.Service) *OffersHandler {
	return &OffersHandler{svc: svc, notifs: notifs, tokens: tokens}
}

func (h *OffersHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(appmw.RequireClient(h.tokens))
	r.Get("/", h.List)
	r.Get("/{offerID}", h.Get)
	r.Post("/{offerID}/confirm", h.Confirm)
	r.Post("/{offerID}/pay", h.Pay)
	return r
}

func (h *OffersHandler) NotificationRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(appmw.RequireClient(h.tokens))
	r.Get("/", h.ListNotifications)
	r.Post("/read", h.MarkNotificationsRead)
	return r
}

func (h *OffersHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := appmw.ClientIdentity(r)
	if !ok {
		response.Unauthorized(w)
		return
	}
	list, err := h.svc.ListForClient(r.Context(), identity)
	if err != nil {
		logger.ErrorContext(r.Context(), "list offers failed", "error", err)
		response.InternalError(w)
		return
	}
	response.OK(w, list)
}

func (h *OffersHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := appmw.ClientIdentity(r)
	if !ok {
		response.Unauthorized(w)
		return
	}
	dto, err := h.svc.GetForClient(r.Context(), identity, chi.URLParam(r, "offerID"))
	if err != nil {
		h.writeOfferError(w, r, err)
		return
	}
	response.OK(w, dto)
}

func (h *OffersHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	identity, ok := appmw.ClientIdentity(r)
	if !ok {
		response.Unauthorized(w)
		return
	}
	dto, err := h.svc.ConfirmInApp(r.Context(), identity, chi.URLParam(r, "offerID"))
	if err != nil {
		h.writeOfferError(w, r, err)
		return
	}
	response.OK(w, dto)
}

func (h *OffersHandler) Pay(w http.ResponseWriter, r *http.Request) {
	identity, ok := appmw.ClientIdentity(r)
	if !ok {
		response.Unauthorized(w)
		return
	}
	result, err := h.svc.StartPayment(r.Context(), identity, chi.URLParam(r, "offerID"))
	if err != nil {
		h.writeOfferError(w, r, err)
		return
	}
	response.OK(w, result)
}

func (h *OffersHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	identity, ok := appmw.ClientIdentity(r)
	if !ok {
		response.Unauthorized(w)
		return
	}
	list, err := h.notifs.ListForClient(r.Context(), identity.ClientID, 50)
	if err != nil {
		logger.ErrorContext(r.Context(), "list notifications failed", "error", err)
		response.InternalError(w)
		return
	}
	response.OK(w, list)
}

func (h *OffersHandler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	identity, ok := appmw.ClientIdentity(r)
	if !ok {
		response.Unauthorized(w)
		return
	}
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.notifs.MarkRead(r.Context(), identity.ClientID, req.IDs); err != nil {
		logger.ErrorContext(r.Context(), "mark notifications read failed", "error", err)
		response.InternalError(w)
		return
	}
	response.OK(w, map[string]bool{"updated": true})
}

func (h *OffersHandler) writeOfferError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, offers.ErrNotFound):
		response.NotFound(w, offerNotFoundMessage)
	case errors.Is(err, offers.ErrConflict):
		response.Conflict(w, "The offer is not in a state that allows this action")
	case errors.Is(err, offers.ErrValidation):
		response.BadRequest(w, err.Error())
	default:
		logger.ErrorContext(r.Context(), "offer operation failed", "error", err)
		response.InternalError(w)
	}
}
