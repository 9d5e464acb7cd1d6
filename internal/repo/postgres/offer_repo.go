package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
)

// OfferUpdate describes the column changes of one lifecycle transition.
// Nil fields are left untouched.
type OfferUpdate struct {
	Status        *domain.OfferStatus
	PaymentStatus *domain.PaymentStatus
	PaymentMode   *domain.PaymentMode

	SetSentAt      bool
	SetConfirmedAt bool
	SetPaidAt      bool
	SetBookedAt    bool

	CheckoutSessionID *string
	PaymentIntentID   *string
	RateHawkOrderID   *string
	PartnerOrderID    *string
	ErrorMessage      *string
	ClearError        bool
}

// EventRecord is the audit entry appended with a transition.
type EventRecord struct {
	Type      string
	Payload   map[string]interface{}
	CreatedBy *string
}

type OfferRepo interface {
	Create(ctx context.Context, offer *domain.HotelOffer, ev EventRecord) (*domain.HotelOffer, error)
	GetByID(ctx context.Context, id string) (*domain.HotelOffer, error)
	GetForCompany(ctx context.Context, id, companyID string) (*domain.HotelOffer, error)
	// GetForClient folds ownership into the lookup: an offer that exists
	// but belongs to another client is indistinguishable from a missing one.
	GetForClient(ctx context.Context, id, clientPartyID string) (*domain.HotelOffer, error)
	GetByConfirmationToken(ctx context.Context, confirmationToken string) (*domain.HotelOffer, error)
	ListForCompany(ctx context.Context, companyID string, status *domain.OfferStatus) ([]domain.HotelOffer, error)
	ListForClient(ctx context.Context, clientPartyID string) ([]domain.HotelOffer, error)
	// MarkViewed batch-updates exactly the given offers, and only those
	// still in sent status.
	MarkViewed(ctx context.Context, ids []string) error
	// Transition writes the column changes and the audit event in a single
	// transaction so status and history cannot diverge.
	Transition(ctx context.Context, offerID, companyID string, upd OfferUpdate, ev EventRecord) error
	// ClaimBookingStart moves a paid offer to booking_started unless a
	// concurrent finalization already claimed it. Returns false when the
	// claim was lost.
	ClaimBookingStart(ctx context.Context, offerID, companyID, partnerOrderID string) (bool, error)
	ListEvents(ctx context.Context, offerID, companyID string) ([]domain.OfferEvent, error)
}

type OfferRepoImpl struct{ pool *pgxpool.Pool }

func NewOfferRepo(pool *pgxpool.Pool) *OfferRepoImpl { return &OfferRepoImpl{pool: pool} }

const offerCols = `id, company_id, created_by,
client_party_id, client_name, client_email,
hotel_hid, hotel_name, hotel_address, hotel_stars, hotel_image_url, room_name, meal,
tariff_type, cancellation_policy, check_in, check_out, guests,
currency, ratehawk_amount, client_amount, markup_percent,
search_hash, match_hash, book_hash, partner_order_id,
status, payment_mode, payment_status, confirmation_token,
stripe_checkout_session_id, stripe_payment_intent_id, ratehawk_order_id, error_message,
sent_at, confirmed_at, paid_at, booked_at, created_at, updated_at`

func scanOffer(row pgx.Row) (*domain.HotelOffer, error) {
	var o domain.HotelOffer
	err := row.Scan(
		&o.ID, &o.CompanyID, &o.CreatedBy,
		&o.ClientPartyID, &o.ClientName, &o.ClientEmail,
		&o.HotelHID, &o.HotelName, &o.HotelAddress, &o.HotelStars, &o.HotelImageURL, &o.RoomName, &o.Meal,
		&o.TariffType, &o.CancellationPolicy, &o.CheckIn, &o.CheckOut, &o.Guests,
		&o.Currency, &o.RateHawkAmount, &o.ClientAmount, &o.MarkupPercent,
		&o.SearchHash, &o.MatchHash, &o.BookHash, &o.PartnerOrderID,
		&o.Status, &o.PaymentMode, &o.PaymentStatus, &o.ConfirmationToken,
		&o.StripeCheckoutSessionID, &o.StripePaymentIntentID, &o.RateHawkOrderID, &o.ErrorMessage,
		&o.SentAt, &o.ConfirmedAt, &o.PaidAt, &o.BookedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, offerID, companyID string, ev EventRecord) error {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	const q = `INSERT INTO hotel_offer_events (offer_id, company_id, event_type, event_payload, created_by)
VALUES ($1,$2,$3,$4,$5)`
	_, err = tx.Exec(ctx, q, offerID, companyID, ev.Type, raw, ev.CreatedBy)
	return err
}

func (r *OfferRepoImpl) Create(ctx context.Context, offer *domain.HotelOffer, ev EventRecord) (*domain.HotelOffer, error) {
	const q = `INSERT INTO hotel_offers (
    company_id, created_by,
    client_party_id, client_name, client_email,
    hotel_hid, hotel_name, hotel_address, hotel_stars, hotel_image_url, room_name, meal,
    tariff_type, cancellation_policy, check_in, check_out, guests,
    currency, ratehawk_amount, client_amount, markup_percent,
    search_hash, match_hash, book_hash, partner_order_id,
    status, payment_mode, payment_status, confirmation_token
  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)
  RETURNING ` + offerCols

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	created, err := scanOffer(tx.QueryRow(ctx, q,
		offer.CompanyID, offer.CreatedBy,
		offer.ClientPartyID, offer.ClientName, offer.ClientEmail,
		offer.HotelHID, offer.HotelName, offer.HotelAddress, offer.HotelStars, offer.HotelImageURL, offer.RoomName, offer.Meal,
		offer.TariffType, offer.CancellationPolicy, offer.CheckIn, offer.CheckOut, offer.Guests,
		offer.Currency, offer.RateHawkAmount, offer.ClientAmount, offer.MarkupPercent,
		offer.SearchHash, offer.MatchHash, offer.BookHash, offer.PartnerOrderID,
		offer.Status, offer.PaymentMode, offer.PaymentStatus, offer.ConfirmationToken,
	))
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("offer insert returned no row")
	}

	if err := insertEvent(ctx, tx, created.ID, created.CompanyID, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *OfferRepoImpl) GetByID(ctx context.Context, id string) (*domain.HotelOffer, error) {
	const q = `SELECT ` + offerCols + ` FROM hotel_offers WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanOffer(r.pool.QueryRow(ctx, q, id))
}

func (r *OfferRepoImpl) GetForCompany(ctx context.Context, id, companyID string) (*domain.HotelOffer, error) {
	const q = `SELECT ` + offerCols + ` FROM hotel_offers WHERE id=$1 AND company_id=$2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanOffer(r.pool.QueryRow(ctx, q, id, companyID))
}

func (r *OfferRepoImpl) GetForClient(ctx context.Context, id, clientPartyID string) (*domain.HotelOffer, error) {
	const q = `SELECT ` + offerCols + ` FROM hotel_offers WHERE id=$1 AND client_party_id=$2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanOffer(r.pool.QueryRow(ctx, q, id, clientPartyID))
}

func (r *OfferRepoImpl) GetByConfirmationToken(ctx context.Context, confirmationToken string) (*domain.HotelOffer, error) {
	const q = `SELECT ` + offerCols + ` FROM hotel_offers WHERE confirmation_token=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanOffer(r.pool.QueryRow(ctx, q, confirmationToken))
}

func (r *OfferRepoImpl) ListForCompany(ctx context.Context, companyID string, status *domain.OfferStatus) ([]domain.HotelOffer, error) {
	q := `SELECT ` + offerCols + ` FROM hotel_offers WHERE company_id=$1`
	args := []interface{}{companyID}
	if status != nil {
		q += ` AND status=$2`
		args = append(args, *status)
	}
	q += ` ORDER BY created_at DESC`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

func (r *OfferRepoImpl) ListForClient(ctx context.Context, clientPartyID string) ([]domain.HotelOffer, error) {
	statuses := make([]string, len(domain.ClientVisibleStatuses))
	for i, s := range domain.ClientVisibleStatuses {
		statuses[i] = string(s)
	}
	const q = `SELECT ` + offerCols + ` FROM hotel_offers
WHERE client_party_id=$1 AND status = ANY($2)
ORDER BY created_at DESC`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, clientPartyID, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

func collectOffers(rows pgx.Rows) ([]domain.HotelOffer, error) {
	var offers []domain.HotelOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

func (r *OfferRepoImpl) MarkViewed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	// Scoped to the ids returned by the read that triggered this, and
	// re-checked against sent so a concurrent transition is not clobbered.
	const q = `UPDATE hotel_offers SET status='viewed', updated_at=now()
WHERE id = ANY($1) AND status='sent'`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, q, ids)
	return err
}

func (r *OfferRepoImpl) Transition(ctx context.Context, offerID, companyID string, upd OfferUpdate, ev EventRecord) error {
	sets := []string{"updated_at=now()"}
	args := []interface{}{offerID}

	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.PaymentStatus != nil {
		add("payment_status", *upd.PaymentStatus)
	}
	if upd.PaymentMode != nil {
		add("payment_mode", *upd.PaymentMode)
	}
	if upd.CheckoutSessionID != nil {
		add("stripe_checkout_session_id", *upd.CheckoutSessionID)
	}
	if upd.PaymentIntentID != nil {
		add("stripe_payment_intent_id", *upd.PaymentIntentID)
	}
	if upd.RateHawkOrderID != nil {
		add("ratehawk_order_id", *upd.RateHawkOrderID)
	}
	if upd.PartnerOrderID != nil {
		add("partner_order_id", *upd.PartnerOrderID)
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	} else if upd.ClearError {
		sets = append(sets, "error_message=NULL")
	}
	if upd.SetSentAt {
		sets = append(sets, "sent_at=now()")
	}
	if upd.SetConfirmedAt {
		sets = append(sets, "confirmed_at=now()")
	}
	if upd.SetPaidAt {
		sets = append(sets, "paid_at=now()")
	}
	if upd.SetBookedAt {
		sets = append(sets, "booked_at=now()")
	}

	q := `UPDATE hotel_offers SET ` + strings.Join(sets, ", ") + ` WHERE id=$1`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, q, args...); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, offerID, companyID, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *OfferRepoImpl) ClaimBookingStart(ctx context.Context, offerID, companyID, partnerOrderID string) (bool, error) {
	const q = `UPDATE hotel_offers
SET status='booking_started', partner_order_id=$2, updated_at=now()
WHERE id=$1 AND status NOT IN ('booking_started','booking_confirmed')`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, q, offerID, partnerOrderID)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	ev := EventRecord{
		Type:    domain.EventBookingStarted,
		Payload: map[string]interface{}{"partnerOrderId": partnerOrderID},
	}
	if err := insertEvent(ctx, tx, offerID, companyID, ev); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *OfferRepoImpl) ListEvents(ctx context.Context, offerID, companyID string) ([]domain.OfferEvent, error) {
	const q = `SELECT id, offer_id, company_id, event_type, event_payload, created_by, created_at
FROM hotel_offer_events
WHERE offer_id=$1 AND company_id=$2
ORDER BY created_at DESC, id DESC`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, offerID, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.OfferEvent
	for rows.Next() {
		var e domain.OfferEvent
		if err := rows.Scan(&e.ID, &e.OfferID, &e.CompanyID, &e.EventType, &e.Payload, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ OfferRepo = (*OfferRepoImpl)(nil)
