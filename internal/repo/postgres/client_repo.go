package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
)

type ClientProfileRepo interface {
	Create(ctx context.Context, crmClientID, passwordHash, refreshTokenHash string, invitedByAgentID *string) (*domain.ClientProfile, error)
	FindByID(ctx context.Context, id string) (*domain.ClientProfile, error)
	FindByCRMClientID(ctx context.Context, crmClientID string) (*domain.ClientProfile, error)
	// StoreRefreshHash unconditionally overwrites the stored hash and stamps
	// last_login_at. Used by the login/register success path.
	StoreRefreshHash(ctx context.Context, id, hash string) error
	// RotateRefreshHash is a compare-and-swap: the new hash lands only if
	// the stored hash still equals oldHash. Returns false when another
	// rotation (or a logout) won the race.
	RotateRefreshHash(ctx context.Context, id, oldHash, newHash string) (bool, error)
	ClearRefreshHash(ctx context.Context, id string) error
	SetNotificationToken(ctx context.Context, id string, notificationToken *string) error
}

type ClientProfileRepoImpl struct{ pool *pgxpool.Pool }

func NewClientProfileRepo(pool *pgxpool.Pool) *ClientProfileRepoImpl {
	return &ClientProfileRepoImpl{pool: pool}
}

const clientProfileCols = `id, crm_client_id, password_hash, refresh_token_hash,
invited_by_agent_id, notification_token, last_login_at, created_at, updated_at`

func scanClientProfile(row pgx.Row) (*domain.ClientProfile, error) {
	var p domain.ClientProfile
	err := row.Scan(
		&p.ID, &p.CRMClientID, &p.PasswordHash, &p.RefreshTokenHash,
		&p.InvitedByAgentID, &p.NotificationToken, &p.LastLoginAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ClientProfileRepoImpl) Create(ctx context.Context, crmClientID, passwordHash, refreshTokenHash string, invitedByAgentID *string) (*domain.ClientProfile, error) {
	const q = `INSERT INTO client_profiles (crm_client_id, password_hash, refresh_token_hash, invited_by_agent_id)
VALUES ($1,$2,$3,$4)
RETURNING ` + clientProfileCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanClientProfile(r.pool.QueryRow(ctx, q, crmClientID, passwordHash, refreshTokenHash, invitedByAgentID))
}

func (r *ClientProfileRepoImpl) FindByID(ctx context.Context, id string) (*domain.ClientProfile, error) {
	const q = `SELECT ` + clientProfileCols + ` FROM client_profiles WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanClientProfile(r.pool.QueryRow(ctx, q, id))
}

func (r *ClientProfileRepoImpl) FindByCRMClientID(ctx context.Context, crmClientID string) (*domain.ClientProfile, error) {
	const q = `SELECT ` + clientProfileCols + ` FROM client_profiles WHERE crm_client_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanClientProfile(r.pool.QueryRow(ctx, q, crmClientID))
}

func (r *ClientProfileRepoImpl) StoreRefreshHash(ctx context.Context, id, hash string) error {
	const q = `UPDATE client_profiles SET refresh_token_hash=$2, last_login_at=now(), updated_at=now() WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, q, id, hash)
	return err
}

func (r *ClientProfileRepoImpl) RotateRefreshHash(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	const q = `UPDATE client_profiles SET refresh_token_hash=$3, updated_at=now()
WHERE id=$1 AND refresh_token_hash=$2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	ct, err := r.pool.Exec(ctx, q, id, oldHash, newHash)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *ClientProfileRepoImpl) ClearRefreshHash(ctx context.Context, id string) error {
	const q = `UPDATE client_profiles SET refresh_token_hash=NULL, updated_at=now() WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

func (r *ClientProfileRepoImpl) SetNotificationToken(ctx context.Context, id string, notificationToken *string) error {
	const q = `UPDATE client_profiles SET notification_token=$2, updated_at=now() WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, q, id, notificationToken)
	return err
}

var _ ClientProfileRepo = (*ClientProfileRepoImpl)(nil)
