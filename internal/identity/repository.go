package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prorab-app/prorab/internal/shared"
)

// Repository defines persistence operations for the identity module.
type Repository interface {
	FindByLogin(ctx context.Context, login string) (*Actor, error)
	FindByID(ctx context.Context, id int64) (*Actor, error)
	RegisterSession(ctx context.Context, id string, actorID int64, expiresAt time.Time, ip, ua string) error
	RemoveSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const actorColumns = `id, login, name, role, elevated, full_access, company_id, password_hash, is_active, created_at, updated_at`

// FindByLogin fetches an actor by login.
func (r *PGRepository) FindByLogin(ctx context.Context, login string) (*Actor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE login = $1`, login)
	return scanActor(row)
}

// FindByID fetches an actor by ID.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*Actor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = $1`, id)
	return scanActor(row)
}

// RegisterSession persists login session metadata for auditing.
func (r *PGRepository) RegisterSession(ctx context.Context, id string, actorID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sessions (id, actor_id, created_at, expires_at, ip, ua)
VALUES ($1, $2, NOW(), $3, NULLIF($4, ''), NULLIF($5, ''))`, id, actorID, expiresAt.UTC(), ip, ua)
	return err
}

// RemoveSession deletes a session record.
func (r *PGRepository) RemoveSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func scanActor(row pgx.Row) (*Actor, error) {
	var a Actor
	var role string
	err := row.Scan(&a.ID, &a.Login, &a.Name, &role, &a.Elevated, &a.FullAccess, &a.CompanyID, &a.PasswordHash, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	a.Role = Role(role)
	return &a, nil
}

var _ Repository = (*PGRepository)(nil)
