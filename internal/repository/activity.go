package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/activity"
)

const (
	addActivitySQL = `INSERT INTO activity (actor_id, actor_kind, action, subject, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	recentActivitySQL = `SELECT id, actor_id, actor_kind, action, subject, details, created_at
		FROM activity ORDER BY created_at DESC, id DESC LIMIT $1`
)

var _ activity.Repository = (*ActivityRepository)(nil)

// ActivityRepository implements activity.Repository backed by PostgreSQL.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository returns an ActivityRepository that uses the given pool.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

func (r *ActivityRepository) Add(ctx context.Context, e *activity.Entry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	err := r.pool.QueryRow(ctx, addActivitySQL,
		e.ActorID, string(e.ActorKind), e.Action, e.Subject, details, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("adding activity %q: %w", e.Action, err)
	}
	return nil
}

func (r *ActivityRepository) Recent(ctx context.Context, limit int) ([]activity.Entry, error) {
	rows, err := r.pool.Query(ctx, recentActivitySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (activity.Entry, error) {
		var (
			e    activity.Entry
			kind string
		)
		err := row.Scan(&e.ID, &e.ActorID, &kind, &e.Action, &e.Subject, &e.Details, &e.CreatedAt)
		e.ActorKind = activity.ActorKind(kind)
		return e, err
	})
}
