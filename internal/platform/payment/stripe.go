package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
	"github.com/tripdesk/tripdesk-portal/pkg/config"
)

// CheckoutSession is the slice of a Stripe checkout session the offer
// lifecycle cares about.
type CheckoutSession struct {
	ID              string
	URL             string
	PaymentStatus   string
	PaymentIntentID string
	Metadata        map[string]string
}

// Gateway abstracts the payment provider so services can be tested with
// a fake.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, offer *domain.HotelOffer, successURL, cancelURL string) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	VerifyWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// WebhookEvent is a verified Stripe event narrowed to checkout sessions.
type WebhookEvent struct {
	Type    string
	Session *CheckoutSession
}

const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

type StripeGateway struct {
	api           *stripeclient.API
	webhookSecret string
}

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	api := &stripeclient.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeGateway{api: api, webhookSecret: cfg.WebhookSecret}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, offer *domain.HotelOffer, successURL, cancelURL string) (*CheckoutSession, error) {
	name := fmt.Sprintf("%s — %s", offer.HotelName, offer.RoomName)
	description := fmt.Sprintf("%s → %s, %d guest(s), %s", offer.CheckIn, offer.CheckOut, offer.Guests, offer.Meal)

	params := &stripe.CheckoutSessionParams{
		Params:        stripe.Params{Context: ctx},
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(successURL),
		CancelURL:     stripe.String(cancelURL),
		CustomerEmail: stripe.String(offer.ClientEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(offer.Currency)),
				UnitAmount: stripe.Int64(minorUnits(offer.ClientAmount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(name),
					Description: stripe.String(description),
				},
			},
		}},
	}
	params.AddMetadata("hotel_offer_id", offer.ID)
	params.AddMetadata("company_id", offer.CompanyID)
	params.AddMetadata("flow", "hotels_offer")

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return fromStripeSession(s), nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}
	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return fromStripeSession(s), nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature: %w", err)
	}

	ev := &WebhookEvent{Type: string(event.Type)}
	if strings.HasPrefix(ev.Type, "checkout.session.") {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("webhook payload: %w", err)
		}
		ev.Session = fromStripeSession(&s)
	}
	return ev, nil
}

func fromStripeSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out
}

// minorUnits converts a decimal amount to cents.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

var _ Gateway = (*StripeGateway)(nil)
