package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/app"
	"github.com/and161185/event-ledger/internal/auth"
	"github.com/and161185/event-ledger/internal/config"
	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/repository/memstore"
	"github.com/and161185/event-ledger/internal/service"
)

// withDevApp makes every command in the test share one in-memory app.
func withDevApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Dev = true
	a, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	orig := buildApp
	buildApp = func(context.Context, *config.Config, *zap.Logger) (*app.App, error) { return a, nil }
	t.Cleanup(func() { buildApp = orig })
	return a
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), append([]string{"-dev"}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCmd(t)
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "Commands:")

	code, _, stderr = runCmd(t, "frobnicate")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, `unknown command "frobnicate"`)

	code, stdout, _ := runCmd(t, "version")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "ledgerctl dev")
}

func TestRun_MintToken(t *testing.T) {
	code, stdout, _ := runCmd(t, "mint-token", "-uid", "u1", "-ttl", "10m")
	require.Equal(t, 0, code)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	uid, err := auth.NewResolver([]byte(config.DevJWTKey), "").Resolve(out["token"])
	require.NoError(t, err)
	require.Equal(t, "u1", uid)

	code, _, stderr := runCmd(t, "mint-token")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "need -uid")
}

func TestRun_Sweep(t *testing.T) {
	a := withDevApp(t)
	ctx := context.Background()
	_, err := a.Pages.Create(ctx, "u1", service.CreatePageInput{Slug: "team", Title: "Team", Visibility: "public"})
	require.NoError(t, err)
	p, _, err := a.Lifecycle.SoftDelete(ctx, "u1", "team")
	require.NoError(t, err)

	code, stdout, _ := runCmd(t, "sweep", "-now", p.DeleteAfter.Add(-time.Hour).Format(time.RFC3339))
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"deleted":[],"purged":0}`, stdout)

	code, stdout, _ = runCmd(t, "sweep", "-now", p.DeleteAfter.Add(time.Hour).Format(time.RFC3339))
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"deleted":["team"],"purged":0}`, stdout)

	code, _, _ = runCmd(t, "sweep", "-now", "tomorrow")
	require.Equal(t, 2, code)
}

func TestRun_PurgeExpired(t *testing.T) {
	a := withDevApp(t)
	ctx := context.Background()
	_, err := a.Pages.Create(ctx, "u1", service.CreatePageInput{Slug: "team", Title: "Team", Visibility: "public"})
	require.NoError(t, err)
	_, err = a.Memories.Save(ctx, "u1", "team", model.Memory{Content: "x", Expires: day(2026, 10, 1)})
	require.NoError(t, err)

	code, stdout, _ := runCmd(t, "purge-expired", "-today", "2026-09-30")
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"purged":0}`, stdout)

	code, stdout, _ = runCmd(t, "purge-expired", "-today", "2026-10-02")
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"purged":1}`, stdout)
}

func TestRun_AssignOwnerAndAudit(t *testing.T) {
	a := withDevApp(t)
	pages := a.Stores.Pages.(*memstore.PageRepo)
	pages.PutLegacyPage(&model.Page{Slug: "legacy", Title: "Legacy", Visibility: model.VisibilityPublic})

	code, stdout, _ := runCmd(t, "assign-owner", "-uid", "u9", "-dry-run")
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"dry_run":true,"pages":["legacy"]}`, stdout)
	p, err := pages.Get(context.Background(), "legacy")
	require.NoError(t, err)
	require.Empty(t, p.OwnerUIDs)

	code, stdout, _ = runCmd(t, "assign-owner", "-uid", "u9")
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"dry_run":false,"pages":["legacy"]}`, stdout)
	p, err = pages.Get(context.Background(), "legacy")
	require.NoError(t, err)
	require.Equal(t, []string{"u9"}, p.OwnerUIDs)

	code, stdout, _ = runCmd(t, "audit", "-slug", "legacy")
	require.Equal(t, 0, code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, model.ActionOwnerAssigned, entries[0]["action"])
	require.Equal(t, model.SystemActor, entries[0]["actor_uid"])

	code, _, _ = runCmd(t, "assign-owner")
	require.Equal(t, 2, code)
}

func TestRun_MigrateNeedsDatabase(t *testing.T) {
	code, _, stderr := runCmd(t, "migrate")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "needs a database")
}

func day(y, m, d int) civil.Date { return civil.Date{Year: y, Month: time.Month(m), Day: d} }
