package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/and161185/event-ledger/internal/model"
)

// AuditRepo implements AuditRepository using PostgreSQL. Rows are insert-only.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Append inserts an audit entry.
func (r *AuditRepo) Append(ctx context.Context, e *model.AuditEntry) error {
	const q = `
INSERT INTO audit_log (id, page_slug, action, actor_uid, target_uid, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, q, e.ID, e.PageSlug, e.Action, e.ActorUID, e.TargetUID, raw, e.Timestamp)
	return mapErr(err)
}

// ListForPage returns the audit trail of a page, oldest first.
func (r *AuditRepo) ListForPage(ctx context.Context, slug string) ([]model.AuditEntry, error) {
	const q = `
SELECT id, page_slug, action, actor_uid, target_uid, metadata, created_at
FROM audit_log WHERE page_slug=$1
ORDER BY created_at, id`
	rows, err := r.db.Pool.Query(ctx, q, slug)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []model.AuditEntry{}
	for rows.Next() {
		var (
			e   model.AuditEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.PageSlug, &e.Action, &e.ActorUID, &e.TargetUID, &raw, &e.Timestamp); err != nil {
			return nil, mapErr(err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata %q: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}
