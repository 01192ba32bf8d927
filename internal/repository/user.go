package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/user"
)

const (
	userColumns = `id, name, email, password_hash, role, created_at`

	createUserSQL = `INSERT INTO users (id, name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`
	getUserByIDSQL    = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	getUserByEmailSQL = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	countUsersSQL     = `SELECT count(*) FROM users WHERE role = 'user'`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts u. Emails are unique.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	err := r.pool.QueryRow(ctx, createUserSQL, u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role)).
		Scan(&u.CreatedAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return user.ErrDuplicateEmail
		}
		return fmt.Errorf("creating user %q: %w", u.Email, err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	return r.getOne(ctx, getUserByIDSQL, id)
}

// GetByEmail expects an already normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, getUserByEmailSQL, email)
}

// Count returns the number of customer accounts.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUsersSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func (r *UserRepository) getOne(ctx context.Context, query, arg string) (*user.User, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", arg, err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (user.User, error) {
		var (
			u    user.User
			role string
		)
		err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
		u.Role = user.Role(role)
		return u, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", arg, err)
	}
	return &u, nil
}
