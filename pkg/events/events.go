package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	// Offer lifecycle events
	OfferCreated   = "offer.created"
	OfferSent      = "offer.sent"
	OfferViewed    = "offer.viewed"
	OfferConfirmed = "offer.confirmed"
	OfferCancelled = "offer.cancelled"

	// Payment events
	PaymentStarted   = "payment.started"
	PaymentCaptured  = "payment.captured"
	PaymentCancelled = "payment.cancelled"
	InvoicePaid      = "payment.invoice.paid"

	// Booking events
	BookingStarted   = "booking.started"
	BookingConfirmed = "booking.confirmed"
	BookingFailed    = "booking.failed"

	// Client account events
	ClientRegistered = "client.registered"
	ClientLoggedIn   = "client.logged_in"

	// Notification events
	NotifySend = "notify.send"
)

// Event payloads
type OfferSentEvent struct {
	OfferID   string    `json:"offer_id"`
	CompanyID string    `json:"company_id"`
	Channel   string    `json:"channel"`
	SentAt    time.Time `json:"sent_at"`
}

type OfferConfirmedEvent struct {
	OfferID     string    `json:"offer_id"`
	CompanyID   string    `json:"company_id"`
	Channel     string    `json:"channel"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

type PaymentStartedEvent struct {
	OfferID   string `json:"offer_id"`
	Mode      string `json:"mode"`
	SessionID string `json:"session_id,omitempty"`
}

type PaymentCapturedEvent struct {
	OfferID         string    `json:"offer_id"`
	SessionID       string    `json:"session_id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	PaidAt          time.Time `json:"paid_at"`
}

type BookingOutcomeEvent struct {
	OfferID        string `json:"offer_id"`
	PartnerOrderID string `json:"partner_order_id,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type ClientRegisteredEvent struct {
	ClientID    string    `json:"client_id"`
	CRMClientID string    `json:"crm_client_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type NotificationEvent struct {
	Type      string                 `json:"type"`
	Recipient string                 `json:"recipient"`
	Subject   string                 `json:"subject"`
	Data      map[string]interface{} `json:"data"`
}
