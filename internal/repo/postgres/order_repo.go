package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
)

// OrderRepo projects confirmed bookings into the CRM order tables so the
// back office sees a finalized offer as a regular order with a hotel
// service line.
type OrderRepo interface {
	ProjectBooking(ctx context.Context, offer *domain.HotelOffer, ratehawkOrderID string) error
}

type OrderRepoImpl struct{ pool *pgxpool.Pool }

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepoImpl { return &OrderRepoImpl{pool: pool} }

func (r *OrderRepoImpl) ProjectBooking(ctx context.Context, offer *domain.HotelOffer, ratehawkOrderID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Find-or-create the order keyed on the offer id so a replayed
	// finalization reuses the same order.
	var orderID string
	const findQ = `SELECT id FROM orders WHERE company_id=$1 AND source_offer_id=$2`
	err = tx.QueryRow(ctx, findQ, offer.CompanyID, offer.ID).Scan(&orderID)
	if err == pgx.ErrNoRows {
		const insQ = `INSERT INTO orders (company_id, client_party_id, source_offer_id, status, currency, total_amount)
VALUES ($1,$2,$3,'confirmed',$4,$5)
RETURNING id`
		err = tx.QueryRow(ctx, insQ, offer.CompanyID, offer.ClientPartyID, offer.ID, offer.Currency, offer.ClientAmount).Scan(&orderID)
	}
	if err != nil {
		return err
	}

	// ref_nr carries the supplier order id; the unique index on
	// (order_id, category, ref_nr) makes replays a no-op.
	const svcQ = `INSERT INTO order_services
  (order_id, category, ref_nr, title, start_date, end_date, net_amount, gross_amount, currency)
VALUES ($1,'hotel',$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (order_id, category, ref_nr) DO NOTHING`
	_, err = tx.Exec(ctx, svcQ,
		orderID, ratehawkOrderID, offer.HotelName,
		offer.CheckIn, offer.CheckOut,
		offer.RateHawkAmount, offer.ClientAmount, offer.Currency,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

var _ OrderRepo = (*OrderRepoImpl)(nil)
