// Package service contains the page, memory, invite, lifecycle and user services.
package service

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/metrics"
	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/repository"
)

// auditTimeout bounds an audit write that outlives the request context.
const auditTimeout = 5 * time.Second

// Clock returns the current time. Services take one so tests can pin "now".
type Clock func() time.Time

func today(now time.Time) civil.Date { return civil.DateOf(now.UTC()) }

func requireUID(uid string) error {
	if uid == "" {
		return errs.ErrUnauthenticated
	}
	return nil
}

// Auditor appends audit entries best-effort: a failed write is logged and
// counted but never returned to the caller.
type Auditor struct {
	repo    repository.AuditRepository
	log     *zap.Logger
	metrics *metrics.Collector
	now     Clock
}

// NewAuditor constructs an Auditor. m may be nil.
func NewAuditor(repo repository.AuditRepository, log *zap.Logger, m *metrics.Collector) *Auditor {
	return &Auditor{repo: repo, log: log, metrics: m, now: time.Now}
}

// Record appends one entry. It keeps running after the request context is canceled.
func (a *Auditor) Record(ctx context.Context, slug, action, actor, target string, meta map[string]string) {
	id, err := uuid.NewV4()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()
		err = a.repo.Append(ctx, &model.AuditEntry{
			ID:        id.String(),
			PageSlug:  slug,
			Action:    action,
			ActorUID:  actor,
			TargetUID: target,
			Metadata:  meta,
			Timestamp: a.now().UTC(),
		})
	}
	if err != nil {
		a.log.Error("audit write failed",
			zap.Bool("audit_failure", true),
			zap.String("action", action),
			zap.String("slug", slug),
			zap.String("actor", actor),
			zap.Error(err),
		)
		a.metrics.AuditFailure(action)
	}
}

func loadPage(ctx context.Context, pages repository.PageRepository, slug string) (*model.Page, error) {
	if err := model.ValidateSlug(slug); err != nil {
		return nil, fmt.Errorf("%w: page %q", errs.ErrNotFound, slug)
	}
	return pages.Get(ctx, slug)
}
