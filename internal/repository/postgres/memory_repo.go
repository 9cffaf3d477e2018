package postgres

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/model"
)

const memoryCols = `id, page_id, content, title, target, time, place, expires, capped_from, attachments, created_at, updated_at`

// MemoryRepo implements MemoryRepository using PostgreSQL.
type MemoryRepo struct{ db *DB }

// NewMemoryRepo constructs a memory repository.
func NewMemoryRepo(db *DB) *MemoryRepo { return &MemoryRepo{db: db} }

func scanMemory(row pgx.Row) (*model.Memory, error) {
	var (
		m                       model.Memory
		target, expires, capped pgtype.Date
	)
	if err := row.Scan(&m.ID, &m.PageID, &m.Content, &m.Title, &target, &m.Time, &m.Place,
		&expires, &capped, &m.Attachments, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	if !expires.Valid {
		return nil, fmt.Errorf("decode memory %q: missing expires", m.ID)
	}
	m.Target = optDate(target)
	m.Expires = civil.DateOf(expires.Time)
	m.CappedFrom = optDate(capped)
	if m.Attachments == nil {
		m.Attachments = []string{}
	}
	return &m, nil
}

func collectMemories(rows pgx.Rows) ([]model.Memory, error) {
	defer rows.Close()
	out := []model.Memory{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, mapErr(rows.Err())
}

// Upsert inserts the memory or updates it in place; an id owned by another page is not touched.
func (r *MemoryRepo) Upsert(ctx context.Context, m *model.Memory) (*model.Memory, error) {
	const q = `
INSERT INTO memories (id, page_id, content, title, target, time, place, expires, attachments, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (id) DO UPDATE SET
  content = EXCLUDED.content,
  title = EXCLUDED.title,
  target = EXCLUDED.target,
  time = EXCLUDED.time,
  place = EXCLUDED.place,
  expires = EXCLUDED.expires,
  attachments = EXCLUDED.attachments,
  updated_at = EXCLUDED.updated_at
WHERE memories.page_id = EXCLUDED.page_id
RETURNING ` + memoryCols
	attachments := m.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	out, err := scanMemory(r.db.Pool.QueryRow(ctx, q, m.ID, m.PageID, m.Content, m.Title,
		optDateArg(m.Target), m.Time, m.Place, dateArg(m.Expires), attachments, m.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("save memory %q: %w", m.ID, err)
	}
	return out, nil
}

// Get selects a memory by id.
func (r *MemoryRepo) Get(ctx context.Context, id string) (*model.Memory, error) {
	const q = `SELECT ` + memoryCols + ` FROM memories WHERE id=$1`
	return scanMemory(r.db.Pool.QueryRow(ctx, q, id))
}

// ListForPage returns the memories of a page, skipping expired ones unless asked.
func (r *MemoryRepo) ListForPage(ctx context.Context, pageID string, today civil.Date, includeExpired bool) ([]model.Memory, error) {
	const q = `
SELECT ` + memoryCols + `
FROM memories
WHERE page_id=$1 AND ($3 OR expires >= $2)
ORDER BY created_at, id`
	rows, err := r.db.Pool.Query(ctx, q, pageID, dateArg(today), includeExpired)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectMemories(rows)
}

// Delete removes a memory of the given page.
func (r *MemoryRepo) Delete(ctx context.Context, pageID, id string) error {
	const q = `DELETE FROM memories WHERE id=$1 AND page_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, pageID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: memory %q on page %q", errs.ErrNotFound, id, pageID)
	}
	return nil
}

// DeleteByID removes a memory wherever it lives.
func (r *MemoryRepo) DeleteByID(ctx context.Context, id string) error {
	const q = `DELETE FROM memories WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return mapErr(err)
}

// ListIDsExpiringAfter returns ids whose expiry is later than ceiling.
func (r *MemoryRepo) ListIDsExpiringAfter(ctx context.Context, pageID string, ceiling civil.Date) ([]string, error) {
	const q = `SELECT id FROM memories WHERE page_id=$1 AND expires > $2 ORDER BY id`
	return r.ids(ctx, q, pageID, dateArg(ceiling))
}

// ListCappedIDs returns ids carrying a soft-delete cap.
func (r *MemoryRepo) ListCappedIDs(ctx context.Context, pageID string) ([]string, error) {
	const q = `SELECT id FROM memories WHERE page_id=$1 AND capped_from IS NOT NULL ORDER BY id`
	return r.ids(ctx, q, pageID)
}

func (r *MemoryRepo) ids(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, id)
	}
	return out, mapErr(rows.Err())
}

// CapExpiry lowers the expiry to ceiling and keeps the first pre-cap value.
func (r *MemoryRepo) CapExpiry(ctx context.Context, id string, ceiling civil.Date) error {
	const q = `
UPDATE memories SET
  capped_from = COALESCE(capped_from, expires),
  expires = $2,
  updated_at = now()
WHERE id=$1 AND expires > $2`
	_, err := r.db.Pool.Exec(ctx, q, id, dateArg(ceiling))
	return mapErr(err)
}

// Uncap restores the pre-cap expiry.
func (r *MemoryRepo) Uncap(ctx context.Context, id string) error {
	const q = `
UPDATE memories SET expires = capped_from, capped_from = NULL, updated_at = now()
WHERE id=$1 AND capped_from IS NOT NULL`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return mapErr(err)
}

// ListPurgeable returns expired memories and memories whose page is gone.
func (r *MemoryRepo) ListPurgeable(ctx context.Context, today civil.Date, limit int) ([]model.Memory, error) {
	const q = `
SELECT ` + memoryCols + `
FROM memories m
WHERE m.expires < $1
   OR NOT EXISTS (SELECT 1 FROM pages p WHERE p.slug = m.page_id)
ORDER BY m.id
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, dateArg(today), limit)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectMemories(rows)
}
