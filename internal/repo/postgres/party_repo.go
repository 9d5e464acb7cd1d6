package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
)

type PartyRepo interface {
	FindByEmail(ctx context.Context, email string) (*domain.Party, error)
	FindByID(ctx context.Context, id string) (*domain.Party, error)
}

type PartyRepoImpl struct{ pool *pgxpool.Pool }

func NewPartyRepo(pool *pgxpool.Pool) *PartyRepoImpl { return &PartyRepoImpl{pool: pool} }

const partyCols = `id, company_id, name, email`

func scanParty(row pgx.Row) (*domain.Party, error) {
	var p domain.Party
	err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Email)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PartyRepoImpl) FindByEmail(ctx context.Context, email string) (*domain.Party, error) {
	const q = `SELECT ` + partyCols + ` FROM party WHERE lower(email)=lower($1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanParty(r.pool.QueryRow(ctx, q, email))
}

func (r *PartyRepoImpl) FindByID(ctx context.Context, id string) (*domain.Party, error) {
	const q = `SELECT ` + partyCols + ` FROM party WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanParty(r.pool.QueryRow(ctx, q, id))
}

var _ PartyRepo = (*PartyRepoImpl)(nil)
