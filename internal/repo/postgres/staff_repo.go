package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
)

type StaffRepo interface {
	FindByEmail(ctx context.Context, email string) (*domain.StaffUser, error)
	FindByID(ctx context.Context, id string) (*domain.StaffUser, error)
}

type StaffRepoImpl struct{ pool *pgxpool.Pool }

func NewStaffRepo(pool *pgxpool.Pool) *StaffRepoImpl { return &StaffRepoImpl{pool: pool} }

const staffCols = `id, company_id, email, password_hash, name, role, created_at, updated_at`

func scanStaff(row pgx.Row) (*domain.StaffUser, error) {
	var u domain.StaffUser
	err := row.Scan(&u.ID, &u.CompanyID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *StaffRepoImpl) FindByEmail(ctx context.Context, email string) (*domain.StaffUser, error) {
	const q = `SELECT ` + staffCols + ` FROM staff_users WHERE lower(email)=lower($1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanStaff(r.pool.QueryRow(ctx, q, email))
}

func (r *StaffRepoImpl) FindByID(ctx context.Context, id string) (*domain.StaffUser, error) {
	const q = `SELECT ` + staffCols + ` FROM staff_users WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanStaff(r.pool.QueryRow(ctx, q, id))
}

var _ StaffRepo = (*StaffRepoImpl)(nil)
