package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/event-ledger/internal/config"
	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/service"
)

func devApp(t *testing.T, log *zap.Logger) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Dev = true
	a, err := Build(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestBuild_DevSweepOnce(t *testing.T) {
	a := devApp(t, zap.NewNop())
	ctx := context.Background()

	_, err := a.Pages.Create(ctx, "u1", service.CreatePageInput{Slug: "team", Title: "Team", Visibility: "public"})
	require.NoError(t, err)
	_, err = a.Memories.Save(ctx, "u1", "team", model.Memory{Content: "x"})
	require.NoError(t, err)
	p, _, err := a.Lifecycle.SoftDelete(ctx, "u1", "team")
	require.NoError(t, err)

	rep, err := a.SweepOnce(ctx, p.DeleteAfter.Add(-time.Minute))
	require.NoError(t, err)
	require.Empty(t, rep.Deleted)

	rep, err = a.SweepOnce(ctx, p.DeleteAfter.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"team"}, rep.Deleted)

	_, err = a.Stores.Pages.Get(ctx, "team")
	require.Error(t, err)
}

func TestRunSweepLoop_StopsOnCancel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a := devApp(t, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RunSweepLoop(ctx, 5*time.Millisecond, time.Now)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("sweep done").Len() > 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop")
	}
}
