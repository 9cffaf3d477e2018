package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/model"
)

const pageCols = `slug, title, description, visibility, owner_uids, created_at, updated_at, delete_after`

// PageRepo implements PageRepository using PostgreSQL.
type PageRepo struct{ db *DB }

// NewPageRepo constructs a page repository.
func NewPageRepo(db *DB) *PageRepo { return &PageRepo{db: db} }

func scanPage(row pgx.Row) (*model.Page, error) {
	var (
		p     model.Page
		vis   string
		delAt pgtype.Timestamptz
	)
	if err := row.Scan(&p.Slug, &p.Title, &p.Description, &vis, &p.OwnerUIDs, &p.CreatedAt, &p.UpdatedAt, &delAt); err != nil {
		return nil, mapErr(err)
	}
	v, err := model.ParseVisibility(vis)
	if err != nil {
		return nil, fmt.Errorf("decode page %q: %w", p.Slug, err)
	}
	p.Visibility = v
	p.DeleteAfter = optTime(delAt)
	return &p, nil
}

// Create inserts the page only if the slug is free (single atomic statement).
func (r *PageRepo) Create(ctx context.Context, p *model.Page) error {
	const q = `
INSERT INTO pages (slug, title, description, visibility, owner_uids, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (slug) DO NOTHING`
	tag, err := r.db.Pool.Exec(ctx, q, p.Slug, p.Title, p.Description, string(p.Visibility), p.OwnerUIDs, p.CreatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: page %q already exists", errs.ErrConflict, p.Slug)
	}
	return nil
}

// Get selects a page by slug.
func (r *PageRepo) Get(ctx context.Context, slug string) (*model.Page, error) {
	const q = `SELECT ` + pageCols + ` FROM pages WHERE slug=$1`
	return scanPage(r.db.Pool.QueryRow(ctx, q, slug))
}

// Update applies the non-nil patch fields in one statement.
func (r *PageRepo) Update(ctx context.Context, slug string, patch model.PagePatch) (*model.Page, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	const q = `
UPDATE pages SET
  title = COALESCE($2, title),
  description = COALESCE($3, description),
  delete_after = COALESCE($4, delete_after),
  updated_at = now()
WHERE slug=$1
RETURNING ` + pageCols
	return scanPage(r.db.Pool.QueryRow(ctx, q, slug, patch.Title, patch.Description, patch.DeleteAfter))
}

// addOwner appends uid to the owner set unless present. Shared with invite redemption.
func addOwner(ctx context.Context, q querier, slug, uid string) (*model.Page, error) {
	const upd = `
UPDATE pages SET
  owner_uids = CASE WHEN $2 = ANY(owner_uids) THEN owner_uids ELSE array_append(owner_uids, $2) END,
  updated_at = now()
WHERE slug=$1
RETURNING ` + pageCols
	return scanPage(q.QueryRow(ctx, upd, slug, uid))
}

// AddOwner adds a co-owner.
func (r *PageRepo) AddOwner(ctx context.Context, slug, uid string) (*model.Page, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: empty uid", errs.ErrValidation)
	}
	return addOwner(ctx, r.db.Pool, slug, uid)
}

// RemoveOwner removes an owner under a row lock; the last owner is never removed.
func (r *PageRepo) RemoveOwner(ctx context.Context, slug, uid string) (page *model.Page, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		const sel = `SELECT owner_uids FROM pages WHERE slug=$1 FOR UPDATE`
		const upd = `UPDATE pages SET owner_uids = array_remove(owner_uids, $2), updated_at = now() WHERE slug=$1 RETURNING ` + pageCols

		var owners []string
		if err := tx.QueryRow(ctx, sel, slug).Scan(&owners); err != nil {
			return mapErr(err)
		}
		if !slices.Contains(owners, uid) {
			return fmt.Errorf("%w: %q is not an owner of %q", errs.ErrValidation, uid, slug)
		}
		if len(owners) <= 1 {
			return fmt.Errorf("%w: cannot remove last owner", errs.ErrValidation)
		}
		p, err := scanPage(tx.QueryRow(ctx, upd, slug, uid))
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}

// ListForUser returns pages owned by uid.
func (r *PageRepo) ListForUser(ctx context.Context, uid string) ([]model.Page, error) {
	const q = `SELECT ` + pageCols + ` FROM pages WHERE $1 = ANY(owner_uids) ORDER BY slug`
	rows, err := r.db.Pool.Query(ctx, q, uid)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []model.Page{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, mapErr(rows.Err())
}

// MarkForDeletion sets delete_after, keeping an earlier deadline if one exists.
func (r *PageRepo) MarkForDeletion(ctx context.Context, slug string, deadline time.Time) (*model.Page, error) {
	const q = `
UPDATE pages SET delete_after = COALESCE(delete_after, $2), updated_at = now()
WHERE slug=$1
RETURNING ` + pageCols
	return scanPage(r.db.Pool.QueryRow(ctx, q, slug, deadline))
}

// ClearDeletion clears delete_after under a row lock and reports the former deadline.
func (r *PageRepo) ClearDeletion(ctx context.Context, slug string) (page *model.Page, former time.Time, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		const sel = `SELECT delete_after FROM pages WHERE slug=$1 FOR UPDATE`
		const upd = `UPDATE pages SET delete_after = NULL, updated_at = now() WHERE slug=$1 RETURNING ` + pageCols

		var cur pgtype.Timestamptz
		if err := tx.QueryRow(ctx, sel, slug).Scan(&cur); err != nil {
			return mapErr(err)
		}
		if !cur.Valid {
			return fmt.Errorf("%w: page %q is not pending deletion", errs.ErrValidation, slug)
		}
		p, err := scanPage(tx.QueryRow(ctx, upd, slug))
		if err != nil {
			return err
		}
		page, former = p, cur.Time
		return nil
	})
	return page, former, err
}

// ListDueForDeletion returns slugs whose grace period elapsed.
func (r *PageRepo) ListDueForDeletion(ctx context.Context, now time.Time) ([]string, error) {
	const q = `SELECT slug FROM pages WHERE delete_after IS NOT NULL AND delete_after <= $1 ORDER BY delete_after`
	return r.slugs(ctx, q, now)
}

// ListOwnerless returns legacy pages without owners.
func (r *PageRepo) ListOwnerless(ctx context.Context) ([]string, error) {
	const q = `SELECT slug FROM pages WHERE cardinality(owner_uids) = 0 ORDER BY slug`
	return r.slugs(ctx, q)
}

func (r *PageRepo) slugs(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err())
}

// AssignOwnerIfOwnerless sets uid as sole owner of an ownerless page.
func (r *PageRepo) AssignOwnerIfOwnerless(ctx context.Context, slug, uid string) error {
	const q = `
UPDATE pages SET owner_uids = ARRAY[$2]::text[], updated_at = now()
WHERE slug=$1 AND cardinality(owner_uids) = 0`
	tag, err := r.db.Pool.Exec(ctx, q, slug, uid)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: page %q already has owners", errs.ErrConflict, slug)
	}
	return nil
}

// HardDelete removes a due page with its memories and invites in one transaction.
func (r *PageRepo) HardDelete(ctx context.Context, slug string, now time.Time) (removed []model.Memory, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		const delPage = `DELETE FROM pages WHERE slug=$1 AND delete_after IS NOT NULL AND delete_after <= $2`
		const delMem = `DELETE FROM memories WHERE page_id=$1 RETURNING ` + memoryCols
		const delInv = `DELETE FROM invites WHERE page_id=$1`

		tag, err := tx.Exec(ctx, delPage, slug, now)
		if err != nil {
			return mapErr(err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: page %q not due for deletion", errs.ErrNotFound, slug)
		}
		rows, err := tx.Query(ctx, delMem, slug)
		if err != nil {
			return mapErr(err)
		}
		removed, err = collectMemories(rows)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, delInv, slug); err != nil {
			return mapErr(err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("hard delete %q: %w", slug, err)
	}
	return removed, err
}
