// Package app assembles stores, services and the sweep loop from a Config.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/attachments"
	"github.com/and161185/event-ledger/internal/auth"
	"github.com/and161185/event-ledger/internal/config"
	"github.com/and161185/event-ledger/internal/limiter"
	"github.com/and161185/event-ledger/internal/metrics"
	"github.com/and161185/event-ledger/internal/migrate"
	"github.com/and161185/event-ledger/internal/repository"
	"github.com/and161185/event-ledger/internal/repository/memstore"
	"github.com/and161185/event-ledger/internal/repository/postgres"
	httpserver "github.com/and161185/event-ledger/internal/server/http"
	"github.com/and161185/event-ledger/internal/service"
)

// Stores groups the repository implementations in use.
type Stores struct {
	Pages    repository.PageRepository
	Memories repository.MemoryRepository
	Invites  repository.InviteRepository
	Audit    repository.AuditRepository
	Users    repository.UserRepository
}

// App holds the wired services of one process.
type App struct {
	Cfg     *config.Config
	Log     *zap.Logger
	Metrics *metrics.Collector
	Stores  Stores
	Audit   *service.Auditor

	Pages     *service.PageServiceImpl
	Memories  *service.MemoryServiceImpl
	Invites   *service.InviteServiceImpl
	Lifecycle *service.LifecycleServiceImpl
	Users     *service.UserServiceImpl

	ping  func(ctx context.Context) error
	close func()
}

// Build connects the stores and constructs services. With cfg.Dev the
// in-memory store and limiter are used and no database is touched.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log, Metrics: metrics.NewCollector("ledger"), close: func() {}}

	var lim limiter.Limiter
	policy := limiter.Policy{Window: cfg.InviteWindow, MaxFails: cfg.InviteMaxFails, Block: cfg.InviteBlock}
	if cfg.Dev {
		st := memstore.New()
		a.Stores = Stores{Pages: st.Pages(), Memories: st.Memories(), Invites: st.Invites(), Audit: st.Audit(), Users: st.Users()}
		lim = limiter.NewMemory(policy)
		log.Warn("dev mode: in-memory store, data is lost on exit")
	} else {
		if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		db := postgres.NewDB(pool)
		a.Stores = Stores{
			Pages:    postgres.NewPageRepo(db),
			Memories: postgres.NewMemoryRepo(db),
			Invites:  postgres.NewInviteRepo(db),
			Audit:    postgres.NewAuditRepo(db),
			Users:    postgres.NewUserRepo(db),
		}
		lim = limiter.NewPG(pool, policy)
		a.ping = pool.Ping
		a.close = db.Close
	}

	var purger attachments.Purger = attachments.Nop{}
	if cfg.S3Bucket != "" {
		s3p, err := attachments.NewS3(ctx, attachments.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("s3: %w", err)
		}
		purger = s3p
	}

	audit := service.NewAuditor(a.Stores.Audit, log, a.Metrics)
	a.Audit = audit
	a.Pages = service.NewPageService(a.Stores.Pages, a.Stores.Users, audit, log)
	a.Memories = service.NewMemoryService(a.Stores.Pages, a.Stores.Memories, log, a.Metrics)
	a.Invites = service.NewInviteService(a.Stores.Pages, a.Stores.Invites, lim, audit, log, cfg.InviteTTL)
	a.Lifecycle = service.NewLifecycleService(a.Stores.Pages, a.Stores.Memories, a.Memories, purger, audit, log, a.Metrics, cfg.GracePeriod)
	a.Users = service.NewUserService(a.Stores.Users)
	return a, nil
}

// Close releases the database pool.
func (a *App) Close() { a.close() }

// API builds the HTTP API over the app services.
func (a *App) API() *httpserver.Server {
	return httpserver.New(httpserver.Deps{
		Pages:          a.Pages,
		Memories:       a.Memories,
		Invites:        a.Invites,
		Lifecycle:      a.Lifecycle,
		Users:          a.Users,
		Resolver:       auth.NewResolver([]byte(a.Cfg.JWTKey), a.Cfg.JWTIssuer),
		Metrics:        a.Metrics,
		Log:            a.Log,
		Ping:           a.ping,
		RequestTimeout: a.Cfg.RequestTimeout,
		CORSOrigins:    a.Cfg.CORSOrigins,
	})
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Deleted []string
	Purged  int
}

// SweepOnce hard-deletes due pages and purges expired memories at now.
// The purge still runs when the hard delete pass fails.
func (a *App) SweepOnce(ctx context.Context, now time.Time) (SweepReport, error) {
	var rep SweepReport
	deleted, sweepErr := a.Lifecycle.SweepHardDelete(ctx, now)
	rep.Deleted = deleted
	if sweepErr != nil {
		a.Log.Error("sweep hard delete", zap.Error(sweepErr))
	}
	purged, purgeErr := a.Lifecycle.PurgeExpiredMemories(ctx, civil.DateOf(now.UTC()))
	rep.Purged = purged
	if purgeErr != nil {
		a.Log.Error("purge expired memories", zap.Error(purgeErr))
	}
	if sweepErr != nil {
		return rep, sweepErr
	}
	return rep, purgeErr
}

// RunSweepLoop calls SweepOnce every interval until ctx is done.
func (a *App) RunSweepLoop(ctx context.Context, interval time.Duration, now func() time.Time) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rep, err := a.SweepOnce(ctx, now())
			if err == nil {
				a.Log.Info("sweep done", zap.Strings("deleted", rep.Deleted), zap.Int("purged", rep.Purged))
			}
		}
	}
}
