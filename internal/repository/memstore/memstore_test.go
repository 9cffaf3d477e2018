package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/model"
)

func newPage(slug string, owners ...string) *model.Page {
	return &model.Page{Slug: slug, Title: slug, Visibility: model.VisibilityPublic, OwnerUIDs: owners, CreatedAt: time.Now()}
}

func TestPageRepo_ConcurrentCreate(t *testing.T) {
	s := New()
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Pages().Create(ctx, newPage("x", "u1"))
		}()
	}
	wg.Wait()
	close(results)

	ok, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errs.ErrConflict):
			conflicts++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, conflicts)
}

func TestPageRepo_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Pages().Create(ctx, newPage("team", "u1")))

	p, err := s.Pages().Get(ctx, "team")
	require.NoError(t, err)
	p.OwnerUIDs[0] = "mallory"

	again, err := s.Pages().Get(ctx, "team")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, again.OwnerUIDs)
}

func TestPageRepo_RemoveOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Pages().Create(ctx, newPage("home", "u1")))

	_, err := s.Pages().RemoveOwner(ctx, "home", "u1")
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = s.Pages().AddOwner(ctx, "home", "u2")
	require.NoError(t, err)
	p, err := s.Pages().RemoveOwner(ctx, "home", "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, p.OwnerUIDs)
}

func TestPageRepo_HardDelete_RespectsDeadline(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Pages().Create(ctx, newPage("team", "u1")))
	_, err := s.Memories().Upsert(ctx, &model.Memory{ID: "m1", PageID: "team", Expires: civil.DateOf(now)})
	require.NoError(t, err)
	_, err = s.Pages().MarkForDeletion(ctx, "team", now.Add(time.Hour))
	require.NoError(t, err)

	_, err = s.Pages().HardDelete(ctx, "team", now)
	require.ErrorIs(t, err, errs.ErrNotFound)

	removed, err := s.Pages().HardDelete(ctx, "team", now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, removed, 1)

	_, err = s.Memories().Get(ctx, "m1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMemoryRepo_CapUncapRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	orig := civil.Date{Year: 2027, Month: time.January, Day: 1}
	ceiling := civil.Date{Year: 2026, Month: time.November, Day: 17}
	_, err := s.Memories().Upsert(ctx, &model.Memory{ID: "m1", PageID: "team", Expires: orig})
	require.NoError(t, err)

	require.NoError(t, s.Memories().CapExpiry(ctx, "m1", ceiling))
	// A second cap must not overwrite the original expiry.
	require.NoError(t, s.Memories().CapExpiry(ctx, "m1", ceiling.AddDays(-1)))
	m, err := s.Memories().Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, ceiling.AddDays(-1), m.Expires)
	require.Equal(t, orig, *m.CappedFrom)

	require.NoError(t, s.Memories().Uncap(ctx, "m1"))
	m, err = s.Memories().Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, orig, m.Expires)
	require.Nil(t, m.CappedFrom)
}

func TestInviteRepo_RedeemOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Pages().Create(ctx, newPage("team", "u1")))
	require.NoError(t, s.Invites().Create(ctx, &model.Invite{ID: "tok", PageID: "team", CreatedByUID: "u1", ExpiresAt: now.Add(time.Hour)}))

	_, p, err := s.Invites().Redeem(ctx, "tok", "u2", now)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"u1", "u2"}, p.OwnerUIDs)

	_, _, err = s.Invites().Redeem(ctx, "tok", "u3", now)
	require.ErrorIs(t, err, errs.ErrConflict)

	p, err = s.Pages().Get(ctx, "team")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"u1", "u2"}, p.OwnerUIDs)
}

func TestInviteRepo_RedeemPendingDeletion(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Pages().Create(ctx, newPage("team", "u1")))
	require.NoError(t, s.Invites().Create(ctx, &model.Invite{ID: "tok", PageID: "team", CreatedByUID: "u1", ExpiresAt: now.Add(time.Hour)}))
	_, err := s.Pages().MarkForDeletion(ctx, "team", now.Add(time.Hour))
	require.NoError(t, err)

	_, _, err = s.Invites().Redeem(ctx, "tok", "u2", now)
	require.ErrorIs(t, err, errs.ErrPendingDeletion)

	inv, err := s.Invites().Get(ctx, "tok")
	require.NoError(t, err)
	require.False(t, inv.Redeemed())
}
