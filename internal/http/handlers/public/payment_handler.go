package public

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tripdesk/tripdesk-portal/internal/http/response"
	"github.com/tripdesk/tripdesk-portal/internal/service/offers"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

// maxWebhookBody bounds the Stripe payload read.
const maxWebhookBody = 64 * 1024

const invalidTokenPage = `<!DOCTYPE html>
<html><head><title>Offer not found</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4rem">
<h1>Invalid or expired offer token.</h1>
<p>Please contact your travel agent for a new link.</p>
</body></html>`

const confirmedPageTemplate = `<!DOCTYPE html>
<html><head><title>Offer confirmed</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4rem">
<h1>Thank you!</h1>
<p>Your offer for <b>%s</b> is confirmed. Your travel agent will be in touch about payment.</p>
</body></html>`

const alreadyConfirmedPage = `<!DOCTYPE html>
<html><head><title>Offer confirmed</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4rem">
<h1>All set</h1>
<p>This offer has already been confirmed. Nothing else to do here.</p>
</body></html>`

const paymentSuccessPage = `<!DOCTYPE html>
<html><head><title>Payment received</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4rem">
<h1>Payment received</h1>
<p>Thank you! We are booking your stay now. You can close this window and check the app for updates.</p>
</body></html>`

const paymentAlreadyProcessedPage = `<!DOCTYPE html>
<html><head><title>Payment received</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4rem">
<h1>All set</h1>
<p>This payment has already been processed. Check the app for your booking status.</p>
</body></html>`

const paymentNotCompletedPage = `<!DOCTYPE html>
<html><head><title>Payment pending</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4rem">
<h1>Payment not completed</h1>
<p>We could not verify your payment yet. If you were charged, the booking will proceed automatically; otherwise restart the payment from the app.</p>
</body></html>`

const paymentCancelPage = `<!DOCTYPE html>
<html><head><title>Payment cancelled</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4rem">
<h1>Payment cancelled</h1>
<p>No charge was made. You can restart the payment from the app at any time.</p>
</body></html>`

type PaymentHandler struct {
	svc *offers.Service
}

func NewPaymentHandler(svc *offers.Service) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

func (h *PaymentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhooks/stripe", h.StripeWebhook)
	r.Get("/payments/success", h.PaymentSuccess)
	r.Get("/payments/cancel", h.PaymentCancel)
	r.Get("/offers/confirm-by-token", h.ConfirmOffer)
	return r
}

// StripeWebhook acknowledges every event whose signature verifies, even
// when processing fails, so Stripe's retries are reserved for delivery
// problems.
func (h *PaymentHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "could not read payload")
		return
	}

	if err := h.svc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		logger.WarnContext(r.Context(), "webhook rejected", "error", err)
		response.BadRequest(w, "invalid signature")
		return
	}
	response.OK(w, map[string]bool{"received": true})
}

// PaymentSuccess is the browser redirect target after checkout. The
// session is re-retrieved from Stripe rather than trusted from the URL;
// when the webhook has not arrived yet, this path records the payment.
func (h *PaymentHandler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	offerID := r.URL.Query().Get("offer_id")
	sessionID := r.URL.Query().Get("session_id")
	if offerID == "" {
		response.HTML(w, http.StatusBadRequest, paymentNotCompletedPage)
		return
	}

	alreadyPaid, err := h.svc.CompleteCheckoutRedirect(r.Context(), offerID, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, offers.ErrNotFound):
			response.HTML(w, http.StatusNotFound, invalidTokenPage)
		case errors.Is(err, offers.ErrConflict):
			response.HTML(w, http.StatusOK, paymentNotCompletedPage)
		default:
			logger.ErrorContext(r.Context(), "payment success redirect failed", "offer_id", offerID, "error", err)
			response.HTML(w, http.StatusOK, paymentNotCompletedPage)
		}
		return
	}
	if alreadyPaid {
		response.HTML(w, http.StatusOK, paymentAlreadyProcessedPage)
		return
	}
	response.HTML(w, http.StatusOK, paymentSuccessPage)
}

// PaymentCancel is the browser redirect target for an abandoned checkout.
// The authoritative rollback happens on the checkout.session.expired
// webhook; this one just makes the app usable again immediately.
func (h *PaymentHandler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	if offerID := r.URL.Query().Get("offer_id"); offerID != "" {
		if err := h.svc.CancelPayment(r.Context(), offerID); err != nil {
			logger.WarnContext(r.Context(), "payment cancel rollback failed", "offer_id", offerID, "error", err)
		}
	}
	response.HTML(w, http.StatusOK, paymentCancelPage)
}

func (h *PaymentHandler) ConfirmOffer(w http.ResponseWriter, r *http.Request) {
	offer, confirmed, err := h.svc.ConfirmByToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, offers.ErrNotFound) {
			response.HTML(w, http.StatusNotFound, invalidTokenPage)
			return
		}
		logger.ErrorContext(r.Context(), "confirm by token failed", "error", err)
		response.HTML(w, http.StatusInternalServerError, "<h1>Something went wrong. Please try again.</h1>")
		return
	}
	if !confirmed {
		response.HTML(w, http.StatusOK, alreadyConfirmedPage)
		return
	}
	response.HTML(w, http.StatusOK, fmt.Sprintf(confirmedPageTemplate, offer.HotelName))
}
