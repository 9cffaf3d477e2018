package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/model"
)

func TestUserRepo_GetOrCreate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	now := time.Now().UTC()
	mock.ExpectQuery(`ON CONFLICT \(uid\) DO UPDATE SET uid = EXCLUDED.uid`).
		WithArgs("u1", "Ann", "", now).
		WillReturnRows(pgxmock.NewRows([]string{"uid", "display_name", "photo_url", "default_personal_page_id", "created_at"}).
			AddRow("u1", "Ann", "", "home", now.Add(-time.Hour)))

	u, err := r.GetOrCreate(context.Background(), &model.User{UID: "u1", DisplayName: "Ann", CreatedAt: now})
	require.NoError(t, err)
	require.Equal(t, "home", u.DefaultPersonalPageID)
}

func TestUserRepo_SetDefaultPersonalPageIfEmpty(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()

	mock.ExpectExec(`WHERE uid = \$1 AND default_personal_page_id = ''`).
		WithArgs("u1", "home").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetDefaultPersonalPageIfEmpty(ctx, "u1", "home"))

	mock.ExpectExec(`WHERE uid = \$1 AND default_personal_page_id = ''`).
		WithArgs("u1", "other").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetDefaultPersonalPageIfEmpty(ctx, "u1", "other"), errs.ErrConflict)
}
