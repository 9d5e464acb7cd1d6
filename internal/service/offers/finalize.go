package offers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tripdesk/tripdesk-portal/internal/domain"
	"github.com/tripdesk/tripdesk-portal/internal/platform/ratehawk"
	"github.com/tripdesk/tripdesk-portal/internal/repo/postgres"
	"github.com/tripdesk/tripdesk-portal/pkg/events"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

const maxStatusPolls = 10

// FinalizeAsync runs finalization in the background with its own deadline.
// Webhook and staff handlers use it so their responses do not wait out the
// supplier's status polling.
func (s *Service) FinalizeAsync(offerID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.Finalize(ctx, offerID); err != nil {
			logger.Error("finalization failed", "offer_id", offerID, "error", err)
		}
	}()
}

// Finalize books the paid offer with the supplier. The method is safe to
// call repeatedly: it no-ops unless the offer is paid and not yet claimed,
// and the claim itself is a conditional update so concurrent callers
// cannot double-book.
func (s *Service) Finalize(ctx context.Context, offerID string) error {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	if offer == nil {
		return ErrNotFound
	}

	switch offer.Status {
	case domain.OfferBookingStarted, domain.OfferBookingConfirmed:
		return nil
	}
	if offer.PaymentStatus != domain.PaymentPaid {
		return nil
	}

	if !s.booking.Configured() {
		return s.failBooking(ctx, offer, "supplier API credentials not configured")
	}
	if offer.BookHash == "" {
		return s.failBooking(ctx, offer, "offer has no book hash")
	}

	// The supplier reference is assigned at creation; minting here only
	// covers rows that predate that.
	partnerOrderID := offer.PartnerOrderID
	if partnerOrderID == "" {
		partnerOrderID = newPartnerOrderID()
	}
	claimed, err := s.offers.ClaimBookingStart(ctx, offer.ID, offer.CompanyID, partnerOrderID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	s.publish(ctx, events.BookingStarted, events.BookingOutcomeEvent{
		OfferID: offer.ID, PartnerOrderID: partnerOrderID,
	})

	form, err := s.booking.CreateBookingForm(ctx, ratehawk.BookingFormRequest{
		PartnerOrderID: partnerOrderID,
		BookHash:       offer.BookHash,
		Language:       "en",
		UserIP:         "127.0.0.1",
	})
	if err != nil {
		return s.failBooking(ctx, offer, fmt.Sprintf("booking form: %s", err))
	}

	firstName, lastName := splitGuestName(offer.ClientName)
	err = s.booking.StartBooking(ctx, ratehawk.StartBookingRequest{
		PartnerOrderID: partnerOrderID,
		Language:       "en",
		Rooms: []ratehawk.Room{{
			Guests: []ratehawk.Guest{{FirstName: firstName, LastName: lastName}},
		}},
		User: ratehawk.User{Email: offer.ClientEmail},
		Payment: ratehawk.Payment{
			Type:         "deposit",
			Amount:       strconv.FormatFloat(offer.RateHawkAmount, 'f', 2, 64),
			CurrencyCode: offer.Currency,
		},
	})
	if err != nil {
		return s.failBooking(ctx, offer, fmt.Sprintf("booking start: %s", err))
	}

	status, err := s.pollBookingStatus(ctx, partnerOrderID)
	if err != nil {
		return s.failBooking(ctx, offer, err.Error())
	}

	orderID := status.OrderID
	if orderID == 0 {
		orderID = form.OrderID
	}
	return s.completeBooking(ctx, offer, partnerOrderID, strconv.FormatInt(orderID, 10))
}

func (s *Service) pollBookingStatus(ctx context.Context, partnerOrderID string) (*ratehawk.BookingStatus, error) {
	for attempt := 0; attempt < maxStatusPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}

		status, err := s.booking.CheckBookingStatus(ctx, partnerOrderID)
		if err != nil {
			logger.WarnContext(ctx, "booking status poll failed", "partner_order_id", partnerOrderID, "error", err)
			continue
		}
		if status.Failed() {
			reason := status.Error
			if reason == "" {
				reason = "supplier reported booking error"
			}
			return nil, fmt.Errorf("%s", reason)
		}
		if status.Completed() {
			return status, nil
		}
	}
	return nil, fmt.Errorf("booking status polling timed out")
}

func (s *Service) completeBooking(ctx context.Context, offer *domain.HotelOffer, partnerOrderID, supplierOrderID string) error {
	status := domain.OfferBookingConfirmed
	err := s.offers.Transition(ctx, offer.ID, offer.CompanyID, postgres.OfferUpdate{
		Status:          &status,
		SetBookedAt:     true,
		RateHawkOrderID: &supplierOrderID,
		ClearError:      true,
	}, postgres.EventRecord{
		Type:    domain.EventBookingConfirmed,
		Payload: map[string]interface{}{"orderId": supplierOrderID, "partnerOrderId": partnerOrderID},
	})
	if err != nil {
		return err
	}

	if err := s.orders.ProjectBooking(ctx, offer, supplierOrderID); err != nil {
		logger.ErrorContext(ctx, "order projection failed", "offer_id", offer.ID, "error", err)
	}

	s.publish(ctx, events.BookingConfirmed, events.BookingOutcomeEvent{
		OfferID: offer.ID, PartnerOrderID: partnerOrderID, OrderID: supplierOrderID,
	})
	s.notifyClient(ctx, offer, "Booking confirmed",
		fmt.Sprintf("Your stay at %s is booked. %s – %s.", offer.HotelName, offer.CheckIn, offer.CheckOut),
		"booking_confirmed")
	return nil
}

// failBooking records the failure on the offer so staff can retry after
// fixing the cause. Payment state is left untouched.
func (s *Service) failBooking(ctx context.Context, offer *domain.HotelOffer, reason string) error {
	status := domain.OfferBookingFailed
	err := s.offers.Transition(ctx, offer.ID, offer.CompanyID, postgres.OfferUpdate{
		Status:       &status,
		ErrorMessage: &reason,
	}, postgres.EventRecord{
		Type:    domain.EventBookingFailed,
		Payload: map[string]interface{}{"reason": reason},
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.BookingFailed, events.BookingOutcomeEvent{OfferID: offer.ID, Reason: reason})
	s.notifyClient(ctx, offer, "Booking issue",
		fmt.Sprintf("We hit a problem booking %s. Our team is on it.", offer.HotelName), "booking_failed")
	return fmt.Errorf("booking failed: %s", reason)
}

func splitGuestName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "Guest", "Guest"
	case 1:
		return parts[0], parts[0]
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
