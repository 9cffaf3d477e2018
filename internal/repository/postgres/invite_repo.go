package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/model"
)

const inviteCols = `id, page_id, created_by_uid, created_at, expires_at, redeemed_by_uid, redeemed_at`

// InviteRepo implements InviteRepository using PostgreSQL.
type InviteRepo struct{ db *DB }

// NewInviteRepo constructs an invite repository.
func NewInviteRepo(db *DB) *InviteRepo { return &InviteRepo{db: db} }

func scanInvite(row pgx.Row) (*model.Invite, error) {
	var (
		inv        model.Invite
		redeemedBy pgtype.Text
		redeemedAt pgtype.Timestamptz
	)
	if err := row.Scan(&inv.ID, &inv.PageID, &inv.CreatedByUID, &inv.CreatedAt, &inv.ExpiresAt, &redeemedBy, &redeemedAt); err != nil {
		return nil, mapErr(err)
	}
	inv.RedeemedByUID = redeemedBy.String
	inv.RedeemedAt = optTime(redeemedAt)
	return &inv, nil
}

// Create stores a pending invite.
func (r *InviteRepo) Create(ctx context.Context, inv *model.Invite) error {
	const q = `
INSERT INTO invites (id, page_id, created_by_uid, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, inv.ID, inv.PageID, inv.CreatedByUID, inv.CreatedAt, inv.ExpiresAt)
	return mapErr(err)
}

// Get selects an invite by id.
func (r *InviteRepo) Get(ctx context.Context, id string) (*model.Invite, error) {
	const q = `SELECT ` + inviteCols + ` FROM invites WHERE id=$1`
	return scanInvite(r.db.Pool.QueryRow(ctx, q, id))
}

// Redeem closes the invite and grants ownership in a single transaction.
// A page pending deletion leaves the invite open.
func (r *InviteRepo) Redeem(ctx context.Context, id, uid string, now time.Time) (inv *model.Invite, page *model.Page, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		const sel = `SELECT ` + inviteCols + ` FROM invites WHERE id=$1 FOR UPDATE`
		const lockPage = `SELECT delete_after FROM pages WHERE slug=$1 FOR UPDATE`
		const upd = `UPDATE invites SET redeemed_by_uid=$2, redeemed_at=$3 WHERE id=$1`

		cur, err := scanInvite(tx.QueryRow(ctx, sel, id))
		if err != nil {
			return err
		}
		switch {
		case cur.Redeemed():
			return fmt.Errorf("%w: invite already redeemed", errs.ErrConflict)
		case cur.Expired(now):
			return fmt.Errorf("%w: invite expired", errs.ErrValidation)
		}
		var deleteAfter pgtype.Timestamptz
		if err := tx.QueryRow(ctx, lockPage, cur.PageID).Scan(&deleteAfter); err != nil {
			return mapErr(err)
		}
		if deleteAfter.Valid {
			return fmt.Errorf("%w: %q", errs.ErrPendingDeletion, cur.PageID)
		}
		if _, err := tx.Exec(ctx, upd, id, uid, now); err != nil {
			return mapErr(err)
		}
		p, err := addOwner(ctx, tx, cur.PageID, uid)
		if err != nil {
			return err
		}
		cur.RedeemedByUID, cur.RedeemedAt = uid, &now
		inv, page = cur, p
		return nil
	})
	return inv, page, err
}
