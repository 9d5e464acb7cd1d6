package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
)

type NotificationRepo interface {
	Insert(ctx context.Context, n *domain.ClientNotification) error
	ListForClient(ctx context.Context, clientID string, limit int) ([]domain.ClientNotification, error)
	MarkRead(ctx context.Context, clientID string, ids []int64) error
}

type NotificationRepoImpl struct{ pool *pgxpool.Pool }

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepoImpl {
	return &NotificationRepoImpl{pool: pool}
}

func (r *NotificationRepoImpl) Insert(ctx context.Context, n *domain.ClientNotification) error {
	const q = `INSERT INTO client_notifications (client_id, title, body, type, ref_id)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, created_at`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.pool.QueryRow(ctx, q, n.ClientID, n.Title, n.Body, n.Type, n.RefID).Scan(&n.ID, &n.CreatedAt)
}

func (r *NotificationRepoImpl) ListForClient(ctx context.Context, clientID string, limit int) ([]domain.ClientNotification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	const q = `SELECT id, client_id, title, body, type, ref_id, read_at, created_at
FROM client_notifications
WHERE client_id=$1
ORDER BY created_at DESC
LIMIT $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []domain.ClientNotification
	for rows.Next() {
		var n domain.ClientNotification
		if err := rows.Scan(&n.ID, &n.ClientID, &n.Title, &n.Body, &n.Type, &n.RefID, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func (r *NotificationRepoImpl) MarkRead(ctx context.Context, clientID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	// client_id in the predicate keeps one client from acking another's rows.
	const q = `UPDATE client_notifications SET read_at=now()
WHERE client_id=$1 AND id = ANY($2) AND read_at IS NULL`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, q, clientID, ids)
	return err
}

var _ NotificationRepo = (*NotificationRepoImpl)(nil)
