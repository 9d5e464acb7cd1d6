package domain

import (
	"encoding/json"
	"time"
)

type OfferStatus string

const (
	OfferDraft            OfferStatus = "draft"
	OfferSent             OfferStatus = "sent"
	OfferViewed           OfferStatus = "viewed"
	OfferConfirmed        OfferStatus = "confirmed"
	OfferPaymentPending   OfferStatus = "payment_pending"
	OfferInvoicePending   OfferStatus = "invoice_pending"
	OfferPaid             OfferStatus = "paid"
	OfferBookingStarted   OfferStatus = "booking_started"
	OfferBookingConfirmed OfferStatus = "booking_confirmed"
	OfferBookingFailed    OfferStatus = "booking_failed"
	OfferCancelled        OfferStatus = "cancelled"
)

func ParseOfferStatus(s string) (OfferStatus, bool) {
	switch OfferStatus(s) {
	case OfferDraft, OfferSent, OfferViewed, OfferConfirmed, OfferPaymentPending,
		OfferInvoicePending, OfferPaid, OfferBookingStarted, OfferBookingConfirmed,
		OfferBookingFailed, OfferCancelled:
		return OfferStatus(s), true
	default:
		return "", false
	}
}

// ClientVisibleStatuses are the statuses shown in the client portal's
// offer list. Drafts and cancelled offers stay staff-only.
var ClientVisibleStatuses = []OfferStatus{
	OfferSent, OfferViewed, OfferConfirmed, OfferPaymentPending, OfferPaid,
	OfferInvoicePending, OfferBookingStarted, OfferBookingConfirmed, OfferBookingFailed,
}

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCancelled PaymentStatus = "cancelled"
)

type PaymentMode string

const (
	PayOnline  PaymentMode = "online"
	PayInvoice PaymentMode = "invoice"
)

type TariffType string

const (
	TariffRefundable    TariffType = "refundable"
	TariffNonRefundable TariffType = "non_refundable"
)

type HotelOffer struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	CreatedBy string `json:"created_by"`

	ClientPartyID *string `json:"client_party_id"`
	ClientName    string  `json:"client_name"`
	ClientEmail   string  `json:"client_email"`

	HotelHID      int64   `json:"hotel_hid"`
	HotelName     string  `json:"hotel_name"`
	HotelAddress  string  `json:"hotel_address"`
	HotelStars    *int    `json:"hotel_stars,omitempty"`
	HotelImageURL string  `json:"hotel_image_url,omitempty"`
	RoomName      string  `json:"room_name"`
	Meal          string  `json:"meal"`

	TariffType         TariffType `json:"tariff_type"`
	CancellationPolicy string     `json:"cancellation_policy,omitempty"`
	CheckIn            string     `json:"check_in"`
	CheckOut           string     `json:"check_out"`
	Guests             int        `json:"guests"`

	Currency       string  `json:"currency"`
	RateHawkAmount float64 `json:"ratehawk_amount"`
	ClientAmount   float64 `json:"client_amount"`
	MarkupPercent  float64 `json:"markup_percent"`

	SearchHash string `json:"search_hash,omitempty"`
	MatchHash  string `json:"match_hash,omitempty"`
	BookHash   string `json:"book_hash,omitempty"`

	PartnerOrderID string `json:"partner_order_id"`

	Status        OfferStatus   `json:"status"`
	PaymentMode   PaymentMode   `json:"payment_mode"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	// ConfirmationToken is the opaque identifier embedded in the email
	// confirmation link. Immutable once issued.
	ConfirmationToken string `json:"-"`

	StripeCheckoutSessionID *string `json:"stripe_checkout_session_id,omitempty"`
	StripePaymentIntentID   *string `json:"stripe_payment_intent_id,omitempty"`
	RateHawkOrderID         *string `json:"ratehawk_order_id,omitempty"`
	ErrorMessage            *string `json:"error_message,omitempty"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	BookedAt    *time.Time `json:"booked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OfferEvent is one append-only audit trail entry. Rows are never updated
// or deleted; one row per transition attempt.
type OfferEvent struct {
	ID        int64           `json:"id"`
	OfferID   string          `json:"offer_id"`
	CompanyID string          `json:"company_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"event_payload"`
	CreatedBy *string         `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// Audit event types
const (
	EventCreated          = "created"
	EventSent             = "sent"
	EventConfirmed        = "confirmed"        // staff action
	EventClientConfirmed  = "client_confirmed" // app or email link
	EventPaymentStarted   = "payment_started"
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentCancelled = "payment_cancelled"
	EventInvoiceRequested = "invoice_requested"
	EventInvoicePaid      = "invoice_paid"
	EventBookingStarted   = "booking_started"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingFailed    = "booking_failed"
	EventCancelled        = "cancelled"
)

// ClientOfferDTO is the trimmed view returned by the client portal list.
type ClientOfferDTO struct {
	ID                 string        `json:"id"`
	HotelName          string        `json:"hotel_name"`
	HotelAddress       string        `json:"hotel_address"`
	RoomName           string        `json:"room_name"`
	Meal               string        `json:"meal"`
	CheckIn            string        `json:"check_in"`
	CheckOut           string        `json:"check_out"`
	ClientAmount       float64       `json:"client_amount"`
	Currency           string        `json:"currency"`
	Status             OfferStatus   `json:"status"`
	PaymentMode        PaymentMode   `json:"payment_mode"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	TariffType         TariffType    `json:"tariff_type"`
	CancellationPolicy string        `json:"cancellation_policy,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

func (o *HotelOffer) ClientDTO() ClientOfferDTO {
	return ClientOfferDTO{
		ID:                 o.ID,
		HotelName:          o.HotelName,
		HotelAddress:       o.HotelAddress,
		RoomName:           o.RoomName,
		Meal:               o.Meal,
		CheckIn:            o.CheckIn,
		CheckOut:           o.CheckOut,
		ClientAmount:       o.ClientAmount,
		Currency:           o.Currency,
		Status:             o.Status,
		PaymentMode:        o.PaymentMode,
		PaymentStatus:      o.PaymentStatus,
		TariffType:         o.TariffType,
		CancellationPolicy: o.CancellationPolicy,
		CreatedAt:          o.CreatedAt,
	}
}
