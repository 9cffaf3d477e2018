package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/repository/memstore"
)

func TestLifecycle_SoftDeleteRestoreRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.mustCreate(t, "u1", "team", model.VisibilityPublic)

	far := day(2027, time.March, 1)
	near := day(2026, time.October, 30)
	_, err := e.memories.Save(ctx, "u1", "team", model.Memory{ID: "far", Content: "x", Expires: far})
	require.NoError(t, err)
	_, err = e.memories.Save(ctx, "u1", "team", model.Memory{ID: "near", Content: "x", Expires: near})
	require.NoError(t, err)

	p, res, err := e.life.SoftDelete(ctx, "u1", "team")
	require.NoError(t, err)
	require.True(t, p.PendingDeletion())
	require.Equal(t, t0.Add(grace), *p.DeleteAfter)
	require.Equal(t, []string{"far"}, res.Updated)
	require.Empty(t, res.Failed)

	capped, err := e.store.Memories().Get(ctx, "far")
	require.NoError(t, err)
	require.Equal(t, day(2026, time.November, 13), capped.Expires)
	require.Equal(t, far, *capped.CappedFrom)

	untouched, err := e.store.Memories().Get(ctx, "near")
	require.NoError(t, err)
	require.Equal(t, near, untouched.Expires)
	require.Nil(t, untouched.CappedFrom)

	p, res, err = e.life.Restore(ctx, "u1", "team")
	require.NoError(t, err)
	require.False(t, p.PendingDeletion())
	require.Equal(t, []string{"far"}, res.Updated)

	restored, err := e.store.Memories().Get(ctx, "far")
	require.NoError(t, err)
	require.Equal(t, far, restored.Expires)
	require.Nil(t, restored.CappedFrom)

	require.Equal(t,
		[]string{model.ActionPageCreated, model.ActionPageDeleted, model.ActionPageRestored},
		e.auditActions(t, "team"))
}

func TestLifecycle_SoftDeleteKeepsFirstDeadline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.mustCreate(t, "u1", "team", model.VisibilityPublic)

	first, _, err := e.life.SoftDelete(ctx, "u1", "team")
	require.NoError(t, err)

	e.now = t0.Add(72 * time.Hour)
	second, _, err := e.life.SoftDelete(ctx, "u1", "team")
	require.NoError(t, err)
	require.Equal(t, *first.DeleteAfter, *second.DeleteAfter)
}

func TestLifecycle_SoftDelete_PartialCapStillFlags(t *testing.T) {
	var flaky *flakyMemories
	e := newEnv(t, func(o *envOpts) {
		flaky = &flakyMemories{MemoryRepo: o.memoryRepo.(*memstore.MemoryRepo), failIDs: map[string]bool{"b": true}}
		o.memoryRepo = flaky
	})
	ctx := context.Background()
	e.mustCreate(t, "u1", "team", model.VisibilityPublic)
	for _, id := range []string{"a", "b"} {
		_, err := e.memories.Save(ctx, "u1", "team", model.Memory{ID: id, Content: id, Expires: day(2027, time.June, 1)})
		require.NoError(t, err)
	}

	p, res, err := e.life.SoftDelete(ctx, "u1", "team")
	require.NoError(t, err)
	require.True(t, p.PendingDeletion())
	require.Equal(t, []string{"b"}, res.FailedIDs())

	// Retrying re-caps the straggler against the original deadline.
	flaky.failIDs = nil
	e.now = t0.Add(24 * time.Hour)
	_, res, err = e.life.SoftDelete(ctx, "u1", "team")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, res.Updated)
	b, err := e.store.Memories().Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, day(2026, time.November, 13), b.Expires)
}

func TestLifecycle_RestoreGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.mustCreate(t, "u1", "team", model.VisibilityPublic)

	_, _, err := e.life.Restore(ctx, "u1", "team")
	require.ErrorIs(t, err, errs.ErrValidation)

	_, _, err = e.life.SoftDelete(ctx, "u2", "team")
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, _, err = e.life.SoftDelete(ctx, "", "team")
	require.ErrorIs(t, err, errs.ErrUnauthenticated)

	_, _, err = e.life.SoftDelete(ctx, "u1", "team")
	require.NoError(t, err)
	_, _, err = e.life.Restore(ctx, "u2", "team")
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestLifecycle_Sweep(t *testing.T) {
	boom := errors.New("tx aborted")
	e := newEnv(t, func(o *envOpts) {
		o.pageRepo = &flakyPages{PageRepo: o.pageRepo.(*memstore.PageRepo), fail: map[string]error{
			"broken": boom,
			"raced":  errs.ErrNotFound,
		}}
	})
	ctx := context.Background()
	for _, slug := range []string{"broken", "raced", "team", "kept"} {
		e.mustCreate(t, "u1", slug, model.VisibilityPublic)
	}
	_, err := e.memories.Save(ctx, "u1", "team", model.Memory{
		ID: "m1", Content: "x", Attachments: []string{"s3://bucket/a.png"},
	})
	require.NoError(t, err)
	inv, err := e.invites.Create(ctx, "u1", "team")
	require.NoError(t, err)

	for _, slug := range []string{"broken", "raced", "team"} {
		_, _, err := e.life.SoftDelete(ctx, "u1", slug)
		require.NoError(t, err)
	}

	// Nothing is due before the grace period ends.
	removed, err := e.life.SweepHardDelete(ctx, t0.Add(grace-time.Minute))
	require.NoError(t, err)
	require.Empty(t, removed)

	removed, err = e.life.SweepHardDelete(ctx, t0.Add(grace+time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"team"}, removed)

	_, err = e.store.Pages().Get(ctx, "team")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = e.store.Memories().Get(ctx, "m1")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = e.store.Invites().Get(ctx, inv.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = e.store.Pages().Get(ctx, "kept")
	require.NoError(t, err)

	require.Equal(t, []string{"s3://bucket/a.png"}, e.purger.urls)
	require.Equal(t, 1.0, testutil.ToFloat64(e.metrics.SweepPagesDeleted))
	require.Equal(t, 1.0, testutil.ToFloat64(e.metrics.SweepPageFailures))

	entries, err := e.store.Audit().ListForPage(ctx, "team")
	require.NoError(t, err)
	last := entries[len(entries)-1]
	require.Equal(t, model.ActionPageHardDeleted, last.Action)
	require.Equal(t, model.SystemActor, last.ActorUID)
}

func TestLifecycle_RestoredPageSurvivesSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.mustCreate(t, "u1", "team", model.VisibilityPublic)
	_, _, err := e.life.SoftDelete(ctx, "u1", "team")
	require.NoError(t, err)
	_, _, err = e.life.Restore(ctx, "u1", "team")
	require.NoError(t, err)

	removed, err := e.life.SweepHardDelete(ctx, t0.Add(2*grace))
	require.NoError(t, err)
	require.Empty(t, removed)
	_, err = e.store.Pages().Get(ctx, "team")
	require.NoError(t, err)
}

func TestLifecycle_PurgeExpiredMemories(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.mustCreate(t, "u1", "team", model.VisibilityPublic)

	_, err := e.memories.Save(ctx, "u1", "team", model.Memory{
		ID: "old", Content: "x", Expires: day(2026, time.October, 1), Attachments: []string{"https://cdn/x.jpg"},
	})
	require.NoError(t, err)
	_, err = e.memories.Save(ctx, "u1", "team", model.Memory{ID: "today", Content: "x", Expires: day(2026, time.October, 14)})
	require.NoError(t, err)
	_, err = e.store.Memories().Upsert(ctx, &model.Memory{ID: "orphan", PageID: "gone", Content: "x", Expires: day(2027, time.January, 1)})
	require.NoError(t, err)

	n, err := e.life.PurgeExpiredMemories(ctx, day(2026, time.October, 14))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2.0, testutil.ToFloat64(e.metrics.MemoriesPurged))
	require.Equal(t, []string{"https://cdn/x.jpg"}, e.purger.urls)

	_, err = e.store.Memories().Get(ctx, "today")
	require.NoError(t, err)
	_, err = e.store.Memories().Get(ctx, "old")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = e.store.Memories().Get(ctx, "orphan")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
