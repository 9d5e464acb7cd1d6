package staff

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
	appmw "github.com/tripdesk/tripdesk-portal/internal/http/middleware"
	"github.com/tripdesk/tripdesk-portal/internal/http/response"
	"github.com/tripdesk/tripdesk-portal/internal/platform/ratehawk"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/repo/postgres"
	"github.com/tripdesk/tripdesk-portal/internal/service/offers"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

type OffersHandler struct {
	svc    *offers.Service
	staff  postgres.StaffRepo
	hotels *ratehawk.Client
	tokens *token.Service
}

func NewOffersHandler(svc *offers.Service, staffRepo postgres.StaffRepo, hotels *ratehawk.Client, tokens *token.Service) *OffersHandler {
	return &OffersHandler{svc: svc, staff: staffRepo, hotels: hotels, tokens: tokens}
}

func (h *OffersHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(appmw.RequireStaff(h.tokens, domain.StaffRoleAgent))
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{offerID}", h.Get)
	r.Get("/{offerID}/events", h.Events)
	r.Post("/{offerID}/send", h.Send)
	r.Post("/{offerID}/confirm", h.Confirm)
	r.Post("/{offerID}/cancel", h.Cancel)
	r.Post("/{offerID}/pay", h.Pay)
	r.Post("/{offerID}/invoice-paid", h.InvoicePaid)
	r.Post("/{offerID}/finalize", h.Finalize)
	return r
}

func (h *OffersHandler) SearchRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(appmw.RequireStaff(h.tokens, domain.StaffRoleAgent))
	r.Post("/search", h.SearchHotels)
	return r
}

// caller resolves the staff account behind the token; the company scope of
// every offer operation comes from the account row, not from the request.
func (h *OffersHandler) caller(r *http.Request) (*domain.StaffUser, error) {
	claims := appmw.StaffClaims(r)
	if claims == nil {
		return nil, errors.New("no staff claims in context")
	}
	user, err := h.staff.FindByID(r.Context(), claims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("staff account no longer exists")
	}
	return user, nil
}

func (h *OffersHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		response.Unauthorized(w)
		return
	}
	var req offers.CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	offer, err := h.svc.Create(r.Context(), user.CompanyID, user.ID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, offer)
}

func (h *OffersHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		response.Unauthorized(w)
		return
	}
	var status *domain.OfferStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := domain.ParseOfferStatus(raw)
		if !ok {
			response.BadRequest(w, "unknown status filter")
			return
		}
		status = &parsed
	}
	list, err := h.svc.ListForCompany(r.Context(), user.CompanyID, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, list)
}

func (h *OffersHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		response.Unauthorized(w)
		return
	}
	offer, err := h.svc.GetForCompany(r.Context(), chi.URLParam(r, "offerID"), user.CompanyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, offer)
}

func (h *OffersHandler) Events(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		response.Unauthorized(w)
		return
	}
	events, err := h.svc.ListEvents(r.Context(), chi.URLParam(r, "offerID"), user.CompanyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, events)
}

func (h *OffersHandler) Send(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		response.Unauthorized(w)
		return
	}
	var req struct {
		Channel string `json:"channel"`
	}
	// body is optional; the default channel is both
	_ = json.NewDecoder(r.Body).Decode(&req)

	offer, err := h.svc.Send(r.Context(), user.CompanyID, user.ID, chi.URLParam(r, "offerID"), req.Channel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OKMessage(w, offer, "Offer sent to client")
}

func (h *OffersHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		response.Unauthorized(w)
		return
	}
	if err := h.svc.StaffConfirm(r.Context(), user.CompanyID, user.ID, chi.URLParam(r, "offerID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OKMessage(w, nil, "Offer confirmed")
}

func (h *OffersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		response.Unauthorized(w)
		return
	}
	if err := h.svc.Cancel(r.Context(), user.CompanyID, user.ID, chi.URLParam(r, "offerID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OKMessage(w, nil, "Offer cancelled")
}

// Pay starts the payment leg from the back office. Agents use it to kick
// off checkout for a client on the phone, or to switch the offer to
// invoice billing.
func (h *OffersHandler) Pay(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		response.Unauthorized(w)
		return
	}
	var req struct {
		Mode domain.PaymentMode `json:"mode"`
	}
	// body is optional; the default is the offer's stored payment mode
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Mode != "" && req.Mode != domain.PayOnline && req.Mode != domain.PayInvoice {
		response.BadRequest(w, "mode must be online or invoice")
		return
	}

	result, err := h.svc.StaffStartPayment(r.Context(), user.CompanyID, user.ID, chi.URLParam(r, "offerID"), req.Mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, result)
}

func (h *OffersHandler) InvoicePaid(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		response.Unauthorized(w)
		return
	}
	offerID := chi.URLParam(r, "offerID")
	needFinalize, err := h.svc.MarkInvoicePaid(r.Context(), user.CompanyID, user.ID, offerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if needFinalize {
		h.svc.FinalizeAsync(offerID)
	}
	response.OKMessage(w, nil, "Invoice marked as paid, booking started")
}

// Finalize retries a failed booking after the cause has been fixed.
func (h *OffersHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	user, err := h.caller(r)
	if err != nil {
		response.Unauthorized(w)
		return
	}
	offerID := chi.URLParam(r, "offerID")
	offer, err := h.svc.GetForCompany(r.Context(), offerID, user.CompanyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if offer.PaymentStatus != domain.PaymentPaid {
		response.Conflict(w, "The offer has not been paid yet")
		return
	}
	h.svc.FinalizeAsync(offerID)
	response.OKMessage(w, nil, "Booking finalization started")
}

func (h *OffersHandler) SearchHotels(w http.ResponseWriter, r *http.Request) {
	var req ratehawk.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if req.RegionID == 0 || req.CheckIn == "" || req.CheckOut == "" {
		response.BadRequest(w, "region_id, checkin and checkout are required")
		return
	}
	result, err := h.hotels.SearchHotels(r.Context(), req)
	if err != nil {
		logger.ErrorContext(r.Context(), "hotel search failed", "error", err)
		response.InternalError(w)
		return
	}
	response.OK(w, result)
}

func (h *OffersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, offers.ErrNotFound):
		response.NotFound(w, "Offer not found")
	case errors.Is(err, offers.ErrConflict):
		response.Conflict(w, "The offer is not in a state that allows this action")
	case errors.Is(err, offers.ErrValidation):
		response.BadRequest(w, err.Error())
	default:
		logger.ErrorContext(r.Context(), "staff offer operation failed", "error", err)
		response.InternalError(w)
	}
}
