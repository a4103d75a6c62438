package crdb

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-booking/internal/domain"
)

const userColumns = `id, email, full_name, password_hash, role, interests, is_active, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u    domain.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &role, &u.Interests, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

func (r *Repository) CreateUser(ctx context.Context, u *domain.User) error {
	interests := u.Interests
	if interests == nil {
		interests = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, strings.ToLower(u.Email), u.FullName, u.PasswordHash, string(u.Role), interests, u.IsActive, u.CreatedAt)
	return classify(err, "create user")
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "user %s", id)
	}
	if err != nil {
		return nil, classify(err, "get user")
	}
	return u, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(domain.ErrNotFound, "user by email")
	}
	if err != nil {
		return nil, classify(err, "get user by email")
	}
	return u, nil
}

func (r *Repository) UpdateUserInterests(ctx context.Context, id uuid.UUID, interests []string) error {
	if interests == nil {
		interests = []string{}
	}
	tag, err := r.pool.Exec(ctx, `UPDATE users SET interests = $2 WHERE id = $1`, id, interests)
	if err != nil {
		return classify(err, "update interests")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "user %s", id)
	}
	return nil
}
