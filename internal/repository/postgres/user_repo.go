package postgres

import (
	"context"
	"fmt"

	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// GetOrCreate inserts the profile if absent and returns the stored row.
// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
func (r *UserRepo) GetOrCreate(ctx context.Context, u *model.User) (*model.User, error) {
	const q = `
INSERT INTO users (uid, display_name, photo_url, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (uid) DO UPDATE SET uid = EXCLUDED.uid
RETURNING uid, display_name, photo_url, default_personal_page_id, created_at`
	row := r.db.Pool.QueryRow(ctx, q, u.UID, u.DisplayName, u.PhotoURL, u.CreatedAt)
	var out model.User
	if err := row.Scan(&out.UID, &out.DisplayName, &out.PhotoURL, &out.DefaultPersonalPageID, &out.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

// SetDefaultPersonalPageIfEmpty updates default_personal_page_id only if currently empty.
func (r *UserRepo) SetDefaultPersonalPageIfEmpty(ctx context.Context, uid, slug string) error {
	const q = `
UPDATE users
SET default_personal_page_id = $2
WHERE uid = $1 AND default_personal_page_id = ''`
	tag, err := r.db.Pool.Exec(ctx, q, uid, slug)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: default personal page already set", errs.ErrConflict)
	}
	return nil
}
