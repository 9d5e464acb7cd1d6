package offers

import (
	"context"
	"fmt"
	"time"

	"github.com/tripdesk/tripdesk-portal/internal/domain"
	"github.com/tripdesk/tripdesk-portal/internal/platform/payment"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/repo/postgres"
	"github.com/tripdesk/tripdesk-portal/pkg/events"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

// PaymentInitResult is what the client app gets back from the pay call.
type PaymentInitResult struct {
	Mode        domain.PaymentMode `json:"mode"`
	CheckoutURL string             `json:"checkoutUrl,omitempty"`
	AlreadyPaid bool               `json:"alreadyPaid,omitempty"`
}

// StartPayment begins the payment leg of a confirmed offer. For invoice
// offers it records the invoice request; for online offers it creates (or
// reuses) a Stripe checkout session.
func (s *Service) StartPayment(ctx context.Context, id token.ClientIdentity, offerID string) (*PaymentInitResult, error) {
	offer, err := s.clientOffer(ctx, id, offerID)
	if err != nil {
		return nil, err
	}

	if offer.PaymentStatus == domain.PaymentPaid {
		return &PaymentInitResult{Mode: offer.PaymentMode, AlreadyPaid: true}, nil
	}

	if offer.PaymentMode == domain.PayInvoice {
		return s.requestInvoice(ctx, offer, offer.PaymentMode, nil)
	}
	return s.startCheckout(ctx, offer, offer.PaymentMode)
}

// StaffStartPayment is the back-office variant of the pay operation. The
// mode parameter lets an agent switch a confirmed offer to invoice (or
// back to online) while starting the payment leg.
func (s *Service) StaffStartPayment(ctx context.Context, companyID, staffID, offerID string, mode domain.PaymentMode) (*PaymentInitResult, error) {
	offer, err := s.offers.GetForCompany(ctx, offerID, companyID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrNotFound
	}
	if offer.PaymentStatus == domain.PaymentPaid {
		return &PaymentInitResult{Mode: offer.PaymentMode, AlreadyPaid: true}, nil
	}

	if mode == "" {
		mode = offer.PaymentMode
	}
	if mode == domain.PayInvoice {
		return s.requestInvoice(ctx, offer, mode, &staffID)
	}
	return s.startCheckout(ctx, offer, mode)
}

func (s *Service) requestInvoice(ctx context.Context, offer *domain.HotelOffer, mode domain.PaymentMode, staffID *string) (*PaymentInitResult, error) {
	if offer.Status != domain.OfferConfirmed {
		return nil, ErrConflict
	}

	status := domain.OfferInvoicePending
	pending := domain.PaymentPending
	upd := postgres.OfferUpdate{
		Status:        &status,
		PaymentStatus: &pending,
	}
	if mode != offer.PaymentMode {
		upd.PaymentMode = &mode
	}
	err := s.offers.Transition(ctx, offer.ID, offer.CompanyID, upd, postgres.EventRecord{
		Type:      domain.EventInvoiceRequested,
		CreatedBy: staffID,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.PaymentStarted, events.PaymentStartedEvent{
		OfferID: offer.ID, Mode: string(domain.PayInvoice),
	})
	return &PaymentInitResult{Mode: domain.PayInvoice}, nil
}

func (s *Service) startCheckout(ctx context.Context, offer *domain.HotelOffer, mode domain.PaymentMode) (*PaymentInitResult, error) {
	if offer.Status != domain.OfferConfirmed && offer.Status != domain.OfferPaymentPending {
		return nil, ErrConflict
	}
	if offer.ClientAmount <= 0 {
		return nil, fmt.Errorf("%w: offer amount must be positive", ErrValidation)
	}

	// An open session from a previous attempt is reused so the client
	// cannot end up with two live checkouts for one offer.
	if offer.StripeCheckoutSessionID != nil {
		sess, err := s.payments.GetCheckoutSession(ctx, *offer.StripeCheckoutSessionID)
		if err == nil && sess.PaymentStatus == "paid" {
			return &PaymentInitResult{Mode: domain.PayOnline, AlreadyPaid: true}, nil
		}
		if err == nil && sess.URL != "" {
			return &PaymentInitResult{Mode: domain.PayOnline, CheckoutURL: sess.URL}, nil
		}
		if err != nil {
			logger.WarnContext(ctx, "stale checkout session lookup failed", "offer_id", offer.ID, "error", err)
		}
	}

	// Stripe substitutes the session id placeholder on redirect.
	successURL := fmt.Sprintf("%s/payments/success?offer_id=%s&session_id={CHECKOUT_SESSION_ID}", s.baseURL, offer.ID)
	cancelURL := fmt.Sprintf("%s/payments/cancel?offer_id=%s", s.baseURL, offer.ID)
	sess, err := s.payments.CreateCheckoutSession(ctx, offer, successURL, cancelURL)
	if err != nil {
		return nil, err
	}

	status := domain.OfferPaymentPending
	pending := domain.PaymentPending
	upd := postgres.OfferUpdate{
		Status:            &status,
		PaymentStatus:     &pending,
		CheckoutSessionID: &sess.ID,
	}
	if mode != offer.PaymentMode {
		upd.PaymentMode = &mode
	}
	err = s.offers.Transition(ctx, offer.ID, offer.CompanyID, upd, postgres.EventRecord{
		Type:    domain.EventPaymentStarted,
		Payload: map[string]interface{}{"sessionId": sess.ID},
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.PaymentStarted, events.PaymentStartedEvent{
		OfferID: offer.ID, Mode: string(domain.PayOnline), SessionID: sess.ID,
	})
	return &PaymentInitResult{Mode: domain.PayOnline, CheckoutURL: sess.URL}, nil
}

// HandleWebhook processes a verified Stripe event. A signature failure is
// the only error surfaced to the HTTP layer; everything after that is
// acknowledged so Stripe stops retrying.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	ev, err := s.payments.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		return err
	}
	if ev.Session == nil || ev.Session.Metadata["flow"] != "hotels_offer" {
		return nil
	}
	offerID := ev.Session.Metadata["hotel_offer_id"]
	if offerID == "" {
		return nil
	}

	switch ev.Type {
	case payment.EventCheckoutCompleted:
		// Checkout can complete with payment still pending (e.g. delayed
		// bank debits). Only a paid session moves the offer.
		if ev.Session.PaymentStatus != "paid" {
			logger.InfoContext(ctx, "webhook: checkout completed but session not paid",
				"offer_id", offerID, "payment_status", ev.Session.PaymentStatus)
			return nil
		}
		needFinalize, err := s.ProcessPaid(ctx, offerID, ev.Session)
		if err != nil {
			logger.ErrorContext(ctx, "webhook: process paid failed", "offer_id", offerID, "error", err)
			return nil
		}
		if needFinalize {
			s.FinalizeAsync(offerID)
		}
	case payment.EventCheckoutExpired:
		if err := s.CancelPayment(ctx, offerID); err != nil {
			logger.ErrorContext(ctx, "webhook: cancel payment failed", "offer_id", offerID, "error", err)
		}
	}
	return nil
}

// ProcessPaid records a successful checkout. Replayed webhooks skip the
// payment bookkeeping but still report that finalization should run, so a
// crashed booking attempt gets retried on the next delivery.
func (s *Service) ProcessPaid(ctx context.Context, offerID string, sess *payment.CheckoutSession) (bool, error) {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return false, err
	}
	if offer == nil {
		logger.WarnContext(ctx, "paid webhook for unknown offer", "offer_id", offerID)
		return false, nil
	}

	if offer.PaymentStatus == domain.PaymentPaid {
		return true, nil
	}

	status := domain.OfferPaid
	paid := domain.PaymentPaid
	upd := postgres.OfferUpdate{
		Status:        &status,
		PaymentStatus: &paid,
		SetPaidAt:     true,
	}
	if sess.PaymentIntentID != "" {
		upd.PaymentIntentID = &sess.PaymentIntentID
	}
	err = s.offers.Transition(ctx, offer.ID, offer.CompanyID, upd, postgres.EventRecord{
		Type:    domain.EventPaymentSucceeded,
		Payload: map[string]interface{}{"sessionId": sess.ID, "paymentIntentId": sess.PaymentIntentID},
	})
	if err != nil {
		return false, err
	}

	s.publish(ctx, events.PaymentCaptured, events.PaymentCapturedEvent{
		OfferID: offer.ID, SessionID: sess.ID, PaymentIntentID: sess.PaymentIntentID, PaidAt: time.Now(),
	})
	s.notifyClient(ctx, offer, "Payment received",
		fmt.Sprintf("Your payment for %s was received. We are booking your stay now.", offer.HotelName), "payment_captured")
	return true, nil
}

// CompleteCheckoutRedirect converges the offer after the client lands on
// the success page. The webhook usually wins this race; re-retrieving the
// session from Stripe keeps the browser path honest when it does not.
// Returns true when the payment had already been recorded.
func (s *Service) CompleteCheckoutRedirect(ctx context.Context, offerID, sessionID string) (bool, error) {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return false, err
	}
	if offer == nil {
		return false, ErrNotFound
	}
	if sessionID == "" {
		if offer.StripeCheckoutSessionID == nil {
			return false, ErrConflict
		}
		sessionID = *offer.StripeCheckoutSessionID
	}

	sess, err := s.payments.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess.PaymentStatus != "paid" {
		return false, ErrConflict
	}

	alreadyPaid := offer.PaymentStatus == domain.PaymentPaid
	needFinalize, err := s.ProcessPaid(ctx, offerID, sess)
	if err != nil {
		return false, err
	}
	if needFinalize {
		s.FinalizeAsync(offerID)
	}
	return alreadyPaid, nil
}

// CancelPayment rolls an abandoned checkout back to confirmed so the
// client can retry or switch to invoice.
func (s *Service) CancelPayment(ctx context.Context, offerID string) error {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	if offer == nil {
		return nil
	}
	if offer.Status != domain.OfferPaymentPending || offer.PaymentStatus != domain.PaymentPending {
		return nil
	}

	status := domain.OfferConfirmed
	cancelled := domain.PaymentCancelled
	err = s.offers.Transition(ctx, offer.ID, offer.CompanyID, postgres.OfferUpdate{
		Status:        &status,
		PaymentStatus: &cancelled,
	}, postgres.EventRecord{
		Type: domain.EventPaymentCancelled,
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.PaymentCancelled, map[string]string{"offer_id": offer.ID})
	return nil
}

// MarkInvoicePaid is the staff acknowledgment of a bank transfer. Returns
// true when finalization should follow.
func (s *Service) MarkInvoicePaid(ctx context.Context, companyID, staffID, offerID string) (bool, error) {
	offer, err := s.offers.GetForCompany(ctx, offerID, companyID)
	if err != nil {
		return false, err
	}
	if offer == nil {
		return false, ErrNotFound
	}
	if offer.PaymentStatus == domain.PaymentPaid {
		return true, nil
	}
	// Agents record bank transfers whether or not the client went through
	// the in-app invoice request first; only a cancelled offer is refused.
	if offer.Status == domain.OfferCancelled {
		return false, ErrConflict
	}

	status := domain.OfferPaid
	paid := domain.PaymentPaid
	err = s.offers.Transition(ctx, offer.ID, companyID, postgres.OfferUpdate{
		Status:        &status,
		PaymentStatus: &paid,
		SetPaidAt:     true,
	}, postgres.EventRecord{
		Type:      domain.EventInvoicePaid,
		CreatedBy: &staffID,
	})
	if err != nil {
		return false, err
	}

	s.publish(ctx, events.InvoicePaid, map[string]string{"offer_id": offer.ID})
	return true, nil
}
