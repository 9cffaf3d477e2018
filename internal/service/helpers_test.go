package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/limiter"
	"github.com/and161185/event-ledger/internal/metrics"
	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/repository"
	"github.com/and161185/event-ledger/internal/repository/memstore"
)

// t0 is a Wednesday; the coming Sunday is 2026-10-18.
var t0 = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

const grace = 30 * 24 * time.Hour

type env struct {
	store    *memstore.Store
	metrics  *metrics.Collector
	audit    *Auditor
	pages    *PageServiceImpl
	memories *MemoryServiceImpl
	invites  *InviteServiceImpl
	life     *LifecycleServiceImpl
	users    *UserServiceImpl
	purger   *fakePurger
	now      time.Time
}

type envOpts struct {
	auditRepo  repository.AuditRepository
	pageRepo   repository.PageRepository
	memoryRepo repository.MemoryRepository
	log        *zap.Logger
}

func newEnv(t *testing.T, opts ...func(*envOpts)) *env {
	t.Helper()
	s := memstore.New()
	o := envOpts{
		auditRepo:  s.Audit(),
		pageRepo:   s.Pages(),
		memoryRepo: s.Memories(),
		log:        zap.NewNop(),
	}
	for _, fn := range opts {
		fn(&o)
	}

	e := &env{store: s, metrics: metrics.NewCollector("test"), purger: &fakePurger{}, now: t0}
	clock := func() time.Time { return e.now }

	e.audit = NewAuditor(o.auditRepo, o.log, e.metrics)
	e.audit.now = clock
	e.pages = NewPageService(o.pageRepo, s.Users(), e.audit, o.log)
	e.pages.now = clock
	e.memories = NewMemoryService(o.pageRepo, o.memoryRepo, o.log, e.metrics)
	e.memories.now = clock
	e.invites = NewInviteService(o.pageRepo, s.Invites(), limiter.NewMemory(limiter.Policy{Window: 15 * time.Minute, MaxFails: 5, Block: 15 * time.Minute}), e.audit, o.log, 7*24*time.Hour)
	e.invites.now = clock
	e.life = NewLifecycleService(o.pageRepo, o.memoryRepo, e.memories, e.purger, e.audit, o.log, e.metrics, grace)
	e.life.now = clock
	e.users = NewUserService(s.Users())
	e.users.now = clock
	return e
}

func (e *env) mustCreate(t *testing.T, uid, slug string, vis model.Visibility) *model.Page {
	t.Helper()
	p, err := e.pages.Create(context.Background(), uid, CreatePageInput{Slug: slug, Title: slug, Visibility: string(vis)})
	if err != nil {
		t.Fatalf("create %q: %v", slug, err)
	}
	return p
}

func (e *env) auditActions(t *testing.T, slug string) []string {
	t.Helper()
	entries, err := e.store.Audit().ListForPage(context.Background(), slug)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	out := []string{}
	for _, en := range entries {
		out = append(out, en.Action)
	}
	return out
}

func day(y int, m time.Month, d int) civil.Date { return civil.Date{Year: y, Month: m, Day: d} }

type fakePurger struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakePurger) Purge(_ context.Context, urls []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, urls...)
	return f.err
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, *model.AuditEntry) error {
	return errors.New("audit store down")
}
func (failingAudit) ListForPage(context.Context, string) ([]model.AuditEntry, error) {
	return nil, errors.New("audit store down")
}

// flakyMemories fails CapExpiry/Uncap for the listed ids.
type flakyMemories struct {
	*memstore.MemoryRepo
	failIDs map[string]bool
}

func (f *flakyMemories) CapExpiry(ctx context.Context, id string, ceiling civil.Date) error {
	if f.failIDs[id] {
		return errors.New("write conflict")
	}
	return f.MemoryRepo.CapExpiry(ctx, id, ceiling)
}

func (f *flakyMemories) Uncap(ctx context.Context, id string) error {
	if f.failIDs[id] {
		return errors.New("write conflict")
	}
	return f.MemoryRepo.Uncap(ctx, id)
}

// flakyPages fails HardDelete for the listed slugs with the given error.
type flakyPages struct {
	*memstore.PageRepo
	fail map[string]error
}

func (f *flakyPages) HardDelete(ctx context.Context, slug string, now time.Time) ([]model.Memory, error) {
	if err, ok := f.fail[slug]; ok {
		return nil, err
	}
	return f.PageRepo.HardDelete(ctx, slug, now)
}
