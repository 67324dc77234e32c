package request

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prorab-app/prorab/internal/identity"
	"github.com/prorab-app/prorab/internal/platform/db"
	"github.com/prorab-app/prorab/internal/shared"
)

// RepositoryPort describes the persistence operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (MaterialRequest, error)
	List(ctx context.Context, projectID int64, page, perPage int) ([]MaterialRequest, shared.Pagination, error)
	Journal(ctx context.Context, id uuid.UUID) ([]JournalEntry, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, req MaterialRequest) error
	UpdateStage(ctx context.Context, id uuid.UUID, stage Stage, approver identity.Role) error
	SetItemActual(ctx context.Context, requestID, itemID uuid.UUID, qty float64) error
	AddJournal(ctx context.Context, entry JournalEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const requestColumns = `id, number, project_id, author_id, stage, approver_role, created_at, updated_at`

// Get returns the request and its items.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (MaterialRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM material_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		return MaterialRequest{}, err
	}
	items, err := r.itemsFor(ctx, id)
	if err != nil {
		return MaterialRequest{}, err
	}
	req.Items = items
	return req, nil
}

// List returns requests for a project, newest first.
func (r *Repository) List(ctx context.Context, projectID int64, page, perPage int) ([]MaterialRequest, shared.Pagination, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM material_requests WHERE project_id = $1`, projectID).Scan(&total); err != nil {
		return nil, shared.Pagination{}, err
	}
	p := shared.NewPagination(page, perPage, total)

	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM material_requests
WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		projectID, p.PerPage, (p.Page-1)*p.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	defer rows.Close()

	var requests []MaterialRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Pagination{}, err
	}
	for i := range requests {
		items, err := r.itemsFor(ctx, requests[i].ID)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		requests[i].Items = items
	}
	return requests, p, nil
}

// Journal returns the approval history for a request, oldest first.
func (r *Repository) Journal(ctx context.Context, id uuid.UUID) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, request_id, actor_id, action, from_stage, to_stage, note, at
FROM request_journal WHERE request_id = $1 ORDER BY at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var action, from, to string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ActorID, &action, &from, &to, &e.Note, &e.At); err != nil {
			return nil, err
		}
		e.Action = JournalAction(action)
		e.FromStage = Stage(from)
		e.ToStage = Stage(to)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) itemsFor(ctx context.Context, requestID uuid.UUID) ([]RequestItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, request_id, name, unit, qty_requested, qty_actual, position
FROM request_items WHERE request_id = $1 ORDER BY position`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []RequestItem
	for rows.Next() {
		var item RequestItem
		if err := rows.Scan(&item.ID, &item.RequestID, &item.Name, &item.Unit, &item.QtyRequested, &item.QtyActual, &item.Position); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Insert persists the request header and items.
func (t *txRepo) Insert(ctx context.Context, req MaterialRequest) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO material_requests (id, number, project_id, author_id, stage, approver_role, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		req.ID, req.Number, req.ProjectID, req.AuthorID, string(req.Stage), string(req.ApproverRole))
	if err != nil {
		return err
	}
	for _, item := range req.Items {
		_, err := t.tx.Exec(ctx, `INSERT INTO request_items (id, request_id, name, unit, qty_requested, qty_actual, position)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, req.ID, item.Name, item.Unit, item.QtyRequested, item.QtyActual, item.Position)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateStage moves the request to the given stage.
func (t *txRepo) UpdateStage(ctx context.Context, id uuid.UUID, stage Stage, approver identity.Role) error {
	tag, err := t.tx.Exec(ctx, `UPDATE material_requests SET stage = $2, approver_role = $3, updated_at = NOW()
WHERE id = $1`, id, string(stage), string(approver))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetItemActual records the delivered quantity for one item.
func (t *txRepo) SetItemActual(ctx context.Context, requestID, itemID uuid.UUID, qty float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE request_items SET qty_actual = $3
WHERE request_id = $1 AND id = $2`, requestID, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AddJournal appends an approval-history entry.
func (t *txRepo) AddJournal(ctx context.Context, entry JournalEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO request_journal (request_id, actor_id, action, from_stage, to_stage, note, at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE(NULLIF($7, '0001-01-01'::timestamptz), NOW()))`,
		entry.RequestID, entry.ActorID, string(entry.Action), string(entry.FromStage), string(entry.ToStage), entry.Note, entry.At)
	return err
}

// Delete removes a request and its items.
func (t *txRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM request_items WHERE request_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM material_requests WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanRequest(row pgx.Row) (MaterialRequest, error) {
	var req MaterialRequest
	var stage, approver string
	err := row.Scan(&req.ID, &req.Number, &req.ProjectID, &req.AuthorID, &stage, &approver, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MaterialRequest{}, shared.ErrNotFound
		}
		return MaterialRequest{}, err
	}
	req.Stage = Stage(stage)
	req.ApproverRole = identity.Role(approver)
	return req, nil
}

var _ RepositoryPort = (*Repository)(nil)
