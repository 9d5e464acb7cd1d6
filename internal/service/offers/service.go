package offers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
	"github.com/tripdesk/tripdesk-portal/internal/platform/mailer"
	"github.com/tripdesk/tripdesk-portal/internal/platform/payment"
	"github.com/tripdesk/tripdesk-portal/internal/platform/push"
	"github.com/tripdesk/tripdesk-portal/internal/platform/ratehawk"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/repo/postgres"
	"github.com/tripdesk/tripdesk-portal/pkg/events"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

var (
	ErrNotFound   = errors.New("offer not found")
	ErrConflict   = errors.New("invalid state for this operation")
	ErrValidation = errors.New("validation failed")
)

// BookingClient is the supplier API surface finalization needs.
// *ratehawk.Client satisfies it.
type BookingClient interface {
	Configured() bool
	CreateBookingForm(ctx context.Context, req ratehawk.BookingFormRequest) (*ratehawk.BookingFormResult, error)
	StartBooking(ctx context.Context, req ratehawk.StartBookingRequest) error
	CheckBookingStatus(ctx context.Context, partnerOrderID string) (*ratehawk.BookingStatus, error)
}

type Service struct {
	offers   postgres.OfferRepo
	orders   postgres.OrderRepo
	profiles postgres.ClientProfileRepo
	notifs   postgres.NotificationRepo
	payments payment.Gateway
	booking  BookingClient
	mail     mailer.Service
	push     push.Sender
	bus      events.Publisher
	baseURL  string

	// pollInterval is shortened in tests.
	pollInterval time.Duration
}

func NewService(
	offers postgres.OfferRepo,
	orders postgres.OrderRepo,
	profiles postgres.ClientProfileRepo,
	notifs postgres.NotificationRepo,
	payments payment.Gateway,
	booking BookingClient,
	mail mailer.Service,
	pushSender push.Sender,
	bus events.Publisher,
	baseURL string,
) *Service {
	return &Service{
		offers:       offers,
		orders:       orders,
		profiles:     profiles,
		notifs:       notifs,
		payments:     payments,
		booking:      booking,
		mail:         mail,
		push:         pushSender,
		bus:          bus,
		baseURL:      baseURL,
		pollInterval: 3 * time.Second,
	}
}

type CreateOfferRequest struct {
	ClientPartyID      *string            `json:"client_party_id"`
	ClientName         string             `json:"client_name"`
	ClientEmail        string             `json:"client_email"`
	HotelHID           int64              `json:"hotel_hid"`
	HotelName          string             `json:"hotel_name"`
	HotelAddress       string             `json:"hotel_address"`
	HotelStars         *int               `json:"hotel_stars"`
	HotelImageURL      string             `json:"hotel_image_url"`
	RoomName           string             `json:"room_name"`
	Meal               string             `json:"meal"`
	TariffType         domain.TariffType  `json:"tariff_type"`
	CancellationPolicy string             `json:"cancellation_policy"`
	CheckIn            string             `json:"check_in"`
	CheckOut           string             `json:"check_out"`
	Guests             int                `json:"guests"`
	Currency           string             `json:"currency"`
	RateHawkAmount     float64            `json:"ratehawk_amount"`
	MarkupPercent      float64            `json:"markup_percent"`
	PaymentMode        domain.PaymentMode `json:"payment_mode"`
	BookHash           string             `json:"book_hash"`
	SearchHash         string             `json:"search_hash"`
	MatchHash          string             `json:"match_hash"`
}

func (r *CreateOfferRequest) Validate() error {
	switch {
	case r.ClientName == "" || r.ClientEmail == "":
		return errors.New("client name and email are required")
	case r.HotelName == "" || r.RoomName == "":
		return errors.New("hotel and room are required")
	case r.CheckIn == "" || r.CheckOut == "":
		return errors.New("check-in and check-out dates are required")
	case r.Guests < 1:
		return errors.New("at least one guest is required")
	case r.Currency == "":
		return errors.New("currency is required")
	case r.RateHawkAmount < 0 || r.MarkupPercent < 0:
		return errors.New("amounts must not be negative")
	}
	if r.PaymentMode != "" && r.PaymentMode != domain.PayOnline && r.PaymentMode != domain.PayInvoice {
		return errors.New("payment_mode must be online or invoice")
	}
	return nil
}

// Create stores a draft offer. The client price is derived from the net
// rate and the markup at creation time and never recomputed afterwards.
func (s *Service) Create(ctx context.Context, companyID, staffID string, req CreateOfferRequest) (*domain.HotelOffer, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	mode := req.PaymentMode
	if mode == "" {
		mode = domain.PayOnline
	}
	tariff := req.TariffType
	if tariff == "" {
		tariff = domain.TariffNonRefundable
	}

	offer := &domain.HotelOffer{
		CompanyID:          companyID,
		CreatedBy:          staffID,
		ClientPartyID:      req.ClientPartyID,
		ClientName:         req.ClientName,
		ClientEmail:        req.ClientEmail,
		HotelHID:           req.HotelHID,
		HotelName:          req.HotelName,
		HotelAddress:       req.HotelAddress,
		HotelStars:         req.HotelStars,
		HotelImageURL:      req.HotelImageURL,
		RoomName:           req.RoomName,
		Meal:               req.Meal,
		TariffType:         tariff,
		CancellationPolicy: req.CancellationPolicy,
		CheckIn:            req.CheckIn,
		CheckOut:           req.CheckOut,
		Guests:             req.Guests,
		Currency:           req.Currency,
		RateHawkAmount:     req.RateHawkAmount,
		ClientAmount:       req.RateHawkAmount * (1 + req.MarkupPercent/100),
		MarkupPercent:      req.MarkupPercent,
		SearchHash:         req.SearchHash,
		MatchHash:          req.MatchHash,
		BookHash:           req.BookHash,
		Status:             domain.OfferDraft,
		PaymentMode:        mode,
		PaymentStatus:      domain.PaymentUnpaid,
		ConfirmationToken:  uuid.NewString(),
		PartnerOrderID:     newPartnerOrderID(),
	}

	created, err := s.offers.Create(ctx, offer, postgres.EventRecord{
		Type:      domain.EventCreated,
		CreatedBy: &staffID,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.OfferCreated, map[string]string{"offer_id": created.ID, "company_id": companyID})
	return created, nil
}

const (
	ChannelApp       = "app"
	ChannelEmail     = "email"
	ChannelBoth      = "both"
	channelEmailLink = "email_link"
)

// Send delivers a draft offer to the client over the chosen channel.
// Delivery failures are logged; the offer still moves to sent.
func (s *Service) Send(ctx context.Context, companyID, staffID, offerID, channel string) (*domain.HotelOffer, error) {
	if channel == "" {
		channel = ChannelBoth
	}
	if channel != ChannelApp && channel != ChannelEmail && channel != ChannelBoth {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrValidation, channel)
	}

	offer, err := s.offers.GetForCompany(ctx, offerID, companyID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrNotFound
	}
	if offer.Status != domain.OfferDraft && offer.Status != domain.OfferSent {
		return nil, ErrConflict
	}

	status := domain.OfferSent
	emailConfirmURL := s.confirmURL(offer.ConfirmationToken)
	appConfirmURL := s.appConfirmURL(offer.ID)
	err = s.offers.Transition(ctx, offer.ID, companyID, postgres.OfferUpdate{
		Status:    &status,
		SetSentAt: true,
	}, postgres.EventRecord{
		Type: domain.EventSent,
		Payload: map[string]interface{}{
			"channel":         channel,
			"appConfirmUrl":   appConfirmURL,
			"emailConfirmUrl": emailConfirmURL,
		},
		CreatedBy: &staffID,
	})
	if err != nil {
		return nil, err
	}

	if channel == ChannelEmail || channel == ChannelBoth {
		s.sendOfferEmail(ctx, offer, emailConfirmURL, appConfirmURL)
	}
	if channel == ChannelApp || channel == ChannelBoth {
		s.notifyClient(ctx, offer, "New hotel offer",
			fmt.Sprintf("%s, %s – %s", offer.HotelName, offer.CheckIn, offer.CheckOut), "offer_sent")
	}

	s.publish(ctx, events.OfferSent, events.OfferSentEvent{
		OfferID: offer.ID, CompanyID: companyID, Channel: channel, SentAt: time.Now(),
	})
	return s.offers.GetForCompany(ctx, offerID, companyID)
}

// ListForClient returns the portal offer list and flips freshly delivered
// offers to viewed. The viewed update covers exactly the rows returned.
func (s *Service) ListForClient(ctx context.Context, id token.ClientIdentity) ([]domain.ClientOfferDTO, error) {
	list, err := s.offers.ListForClient(ctx, id.CRMClientID)
	if err != nil {
		return nil, err
	}

	var freshlySeen []string
	for i := range list {
		if list[i].Status == domain.OfferSent {
			freshlySeen = append(freshlySeen, list[i].ID)
			list[i].Status = domain.OfferViewed
		}
	}
	if len(freshlySeen) > 0 {
		if err := s.offers.MarkViewed(ctx, freshlySeen); err != nil {
			logger.WarnContext(ctx, "mark viewed failed", "error", err)
		} else {
			s.publish(ctx, events.OfferViewed, map[string]interface{}{"offer_ids": freshlySeen})
		}
	}

	dtos := make([]domain.ClientOfferDTO, len(list))
	for i := range list {
		dtos[i] = list[i].ClientDTO()
	}
	return dtos, nil
}

func (s *Service) GetForClient(ctx context.Context, id token.ClientIdentity, offerID string) (*domain.ClientOfferDTO, error) {
	offer, err := s.clientOffer(ctx, id, offerID)
	if err != nil {
		return nil, err
	}
	dto := offer.ClientDTO()
	return &dto, nil
}

// clientOffer loads an offer scoped to the caller. Offers of other clients
// come back as ErrNotFound, never as a permission error.
func (s *Service) clientOffer(ctx context.Context, id token.ClientIdentity, offerID string) (*domain.HotelOffer, error) {
	offer, err := s.offers.GetForClient(ctx, offerID, id.CRMClientID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrNotFound
	}
	return offer, nil
}

// ConfirmInApp is the authenticated confirmation from the mobile app.
func (s *Service) ConfirmInApp(ctx context.Context, id token.ClientIdentity, offerID string) (*domain.ClientOfferDTO, error) {
	offer, err := s.clientOffer(ctx, id, offerID)
	if err != nil {
		return nil, err
	}
	if err := s.confirm(ctx, offer, ChannelApp, nil); err != nil {
		return nil, err
	}
	return s.GetForClient(ctx, id, offerID)
}

// ConfirmByToken is the unauthenticated confirmation from the email link.
// Reconfirming an already confirmed offer succeeds without a new event.
func (s *Service) ConfirmByToken(ctx context.Context, confirmationToken string) (*domain.HotelOffer, bool, error) {
	offer, err := s.offers.GetByConfirmationToken(ctx, confirmationToken)
	if err != nil {
		return nil, false, err
	}
	if offer == nil || offer.Status == domain.OfferCancelled || offer.Status == domain.OfferDraft {
		return nil, false, ErrNotFound
	}
	if offer.Status != domain.OfferSent && offer.Status != domain.OfferViewed {
		return offer, false, nil
	}
	if err := s.confirm(ctx, offer, channelEmailLink, nil); err != nil {
		return nil, false, err
	}
	return offer, true, nil
}

// StaffConfirm records a confirmation received out of band (phone, chat).
func (s *Service) StaffConfirm(ctx context.Context, companyID, staffID, offerID string) error {
	offer, err := s.offers.GetForCompany(ctx, offerID, companyID)
	if err != nil {
		return err
	}
	if offer == nil {
		return ErrNotFound
	}
	return s.confirm(ctx, offer, "staff", &staffID)
}

func (s *Service) confirm(ctx context.Context, offer *domain.HotelOffer, channel string, staffID *string) error {
	if offer.Status != domain.OfferSent && offer.Status != domain.OfferViewed {
		return ErrConflict
	}

	eventType := domain.EventClientConfirmed
	if staffID != nil {
		eventType = domain.EventConfirmed
	}
	status := domain.OfferConfirmed
	err := s.offers.Transition(ctx, offer.ID, offer.CompanyID, postgres.OfferUpdate{
		Status:         &status,
		SetConfirmedAt: true,
	}, postgres.EventRecord{
		Type:      eventType,
		Payload:   map[string]interface{}{"channel": channel},
		CreatedBy: staffID,
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.OfferConfirmed, events.OfferConfirmedEvent{
		OfferID: offer.ID, CompanyID: offer.CompanyID, Channel: channel, ConfirmedAt: time.Now(),
	})
	return nil
}

// Cancel withdraws an offer. Terminal and in-flight booking states cannot
// be cancelled.
func (s *Service) Cancel(ctx context.Context, companyID, staffID, offerID string) error {
	offer, err := s.offers.GetForCompany(ctx, offerID, companyID)
	if err != nil {
		return err
	}
	if offer == nil {
		return ErrNotFound
	}
	switch offer.Status {
	case domain.OfferCancelled, domain.OfferBookingStarted, domain.OfferBookingConfirmed:
		return ErrConflict
	}

	status := domain.OfferCancelled
	upd := postgres.OfferUpdate{Status: &status}
	if offer.PaymentStatus == domain.PaymentPending {
		cancelled := domain.PaymentCancelled
		upd.PaymentStatus = &cancelled
	}
	err = s.offers.Transition(ctx, offer.ID, companyID, upd, postgres.EventRecord{
		Type:      domain.EventCancelled,
		CreatedBy: &staffID,
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.OfferCancelled, map[string]string{"offer_id": offer.ID})
	return nil
}

func (s *Service) ListForCompany(ctx context.Context, companyID string, status *domain.OfferStatus) ([]domain.HotelOffer, error) {
	return s.offers.ListForCompany(ctx, companyID, status)
}

func (s *Service) GetForCompany(ctx context.Context, offerID, companyID string) (*domain.HotelOffer, error) {
	offer, err := s.offers.GetForCompany(ctx, offerID, companyID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrNotFound
	}
	return offer, nil
}

func (s *Service) ListEvents(ctx context.Context, offerID, companyID string) ([]domain.OfferEvent, error) {
	return s.offers.ListEvents(ctx, offerID, companyID)
}

// confirmURL is the unauthenticated email link; appConfirmURL deep-links
// into the portal app for clients who already have an account.
func (s *Service) confirmURL(confirmationToken string) string {
	return fmt.Sprintf("%s/offers/confirm-by-token?token=%s", s.baseURL, confirmationToken)
}

func (s *Service) appConfirmURL(offerID string) string {
	return fmt.Sprintf("%s/app/offers/%s", s.baseURL, offerID)
}

// newPartnerOrderID mints the supplier-facing order reference assigned to
// every offer at creation.
func newPartnerOrderID() string {
	return fmt.Sprintf("HO-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func (s *Service) sendOfferEmail(ctx context.Context, offer *domain.HotelOffer, confirmURL, appURL string) {
	subject := fmt.Sprintf("Hotel offer: %s", offer.HotelName)
	text := fmt.Sprintf(
		"Hi %s,\n\nWe have a hotel offer for you:\n\n%s\n%s\nRoom: %s (%s)\n%s – %s, %d guest(s)\nPrice: %.2f %s\n\nConfirm your offer: %s\nOr open it in the app: %s",
		offer.ClientName, offer.HotelName, offer.HotelAddress, offer.RoomName, offer.Meal,
		offer.CheckIn, offer.CheckOut, offer.Guests, offer.ClientAmount, offer.Currency, confirmURL, appURL,
	)
	html := fmt.Sprintf(
		`<p>Hi %s,</p><p>We have a hotel offer for you:</p><p><b>%s</b><br>%s<br>Room: %s (%s)<br>%s – %s, %d guest(s)<br>Price: <b>%.2f %s</b></p><p><a href="%s">Confirm this offer</a> or <a href="%s">open it in the app</a></p>`,
		offer.ClientName, offer.HotelName, offer.HotelAddress, offer.RoomName, offer.Meal,
		offer.CheckIn, offer.CheckOut, offer.Guests, offer.ClientAmount, offer.Currency, confirmURL, appURL,
	)
	if err := s.mail.Send(ctx, offer.ClientEmail, offer.ClientName, subject, text, html); err != nil {
		logger.WarnContext(ctx, "offer email failed", "offer_id", offer.ID, "error", err)
	}
}

// notifyClient writes the in-app feed row and pushes to the device when a
// push token is registered. Never fails the calling operation.
func (s *Service) notifyClient(ctx context.Context, offer *domain.HotelOffer, title, body, notifType string) {
	if offer.ClientPartyID == nil {
		return
	}
	profile, err := s.profiles.FindByCRMClientID(ctx, *offer.ClientPartyID)
	if err != nil || profile == nil {
		if err != nil {
			logger.WarnContext(ctx, "notify: profile lookup failed", "offer_id", offer.ID, "error", err)
		}
		return
	}

	refID := offer.ID
	n := &domain.ClientNotification{
		ClientID: profile.ID,
		Title:    title,
		Body:     body,
		Type:     notifType,
		RefID:    &refID,
	}
	if err := s.notifs.Insert(ctx, n); err != nil {
		logger.WarnContext(ctx, "notify: insert failed", "offer_id", offer.ID, "error", err)
	}

	if profile.NotificationToken != nil {
		data := map[string]string{"type": notifType, "offerId": offer.ID}
		if err := s.push.Send(ctx, *profile.NotificationToken, title, body, data); err != nil {
			logger.WarnContext(ctx, "notify: push failed", "offer_id", offer.ID, "error", err)
		}
	}
}

func (s *Service) publish(ctx context.Context, subject string, payload interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, subject, payload); err != nil {
		logger.WarnContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}
