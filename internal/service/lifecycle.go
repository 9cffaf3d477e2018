package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/attachments"
	"github.com/and161185/event-ledger/internal/authz"
	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/metrics"
	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/repository"
)

// purgeBatch is the page size of PurgeExpiredMemories.
const purgeBatch = 500

// LifecycleService drives soft delete, restore, hard delete and memory purge.
type LifecycleService interface {
	// SoftDelete flags the page for deletion after the grace period and caps memory expiry.
	SoftDelete(ctx context.Context, uid, slug string) (*model.Page, model.BulkResult, error)
	// Restore clears the deletion flag and undoes the expiry caps.
	Restore(ctx context.Context, uid, slug string) (*model.Page, model.BulkResult, error)
	// SweepHardDelete removes every page whose grace period elapsed at now.
	SweepHardDelete(ctx context.Context, now time.Time) ([]string, error)
	// PurgeExpiredMemories removes memories expired before today and orphans.
	PurgeExpiredMemories(ctx context.Context, today civil.Date) (int, error)
}

type LifecycleServiceImpl struct {
	pages    repository.PageRepository
	memories repository.MemoryRepository
	bulk     MemoryService
	purger   attachments.Purger
	audit    *Auditor
	log      *zap.Logger
	metrics  *metrics.Collector
	grace    time.Duration
	now      Clock
}

// NewLifecycleService constructs LifecycleService. purger and m may be nil.
func NewLifecycleService(
	pages repository.PageRepository,
	memories repository.MemoryRepository,
	bulk MemoryService,
	purger attachments.Purger,
	audit *Auditor,
	log *zap.Logger,
	m *metrics.Collector,
	grace time.Duration,
) *LifecycleServiceImpl {
	if purger == nil {
		purger = attachments.Nop{}
	}
	return &LifecycleServiceImpl{
		pages: pages, memories: memories, bulk: bulk, purger: purger,
		audit: audit, log: log, metrics: m, grace: grace, now: time.Now,
	}
}

// SoftDelete is two independent steps: the page flag, then the memory caps.
// A failed cap leaves the page flagged; calling SoftDelete again re-caps the
// stragglers against the original deadline.
func (s *LifecycleServiceImpl) SoftDelete(ctx context.Context, uid, slug string) (*model.Page, model.BulkResult, error) {
	p, err := loadPage(ctx, s.pages, slug)
	if err != nil {
		return nil, model.BulkResult{}, err
	}
	if err := authz.CheckWrite(p, uid); err != nil {
		return nil, model.BulkResult{}, err
	}

	p, err = s.pages.MarkForDeletion(ctx, slug, s.now().UTC().Add(s.grace))
	if err != nil {
		return nil, model.BulkResult{}, err
	}
	deadline := p.DeleteAfter.UTC()

	res, err := s.bulk.BulkExpire(ctx, slug, civil.DateOf(deadline))
	if err != nil {
		s.log.Warn("cap memories after soft delete", zap.String("slug", slug), zap.Error(err))
	}
	if len(res.Failed) > 0 {
		s.log.Warn("some memories were not capped",
			zap.String("slug", slug), zap.Strings("ids", res.FailedIDs()))
	}

	s.audit.Record(ctx, slug, model.ActionPageDeleted, uid, "", map[string]string{
		"delete_after": deadline.Format(time.RFC3339),
		"capped":       strconv.Itoa(len(res.Updated)),
		"cap_failures": strconv.Itoa(len(res.Failed)),
	})
	return p, res, nil
}

// Restore requires a pending deletion; memory uncapping is best-effort like SoftDelete.
func (s *LifecycleServiceImpl) Restore(ctx context.Context, uid, slug string) (*model.Page, model.BulkResult, error) {
	p, err := loadPage(ctx, s.pages, slug)
	if err != nil {
		return nil, model.BulkResult{}, err
	}
	if err := authz.CheckWrite(p, uid); err != nil {
		return nil, model.BulkResult{}, err
	}

	p, former, err := s.pages.ClearDeletion(ctx, slug)
	if err != nil {
		return nil, model.BulkResult{}, err
	}

	res, err := s.bulk.BulkUncap(ctx, slug)
	if err != nil {
		s.log.Warn("uncap memories after restore", zap.String("slug", slug), zap.Error(err))
	}

	s.audit.Record(ctx, slug, model.ActionPageRestored, uid, "", map[string]string{
		"former_delete_after": former.UTC().Format(time.RFC3339),
		"uncapped":            strconv.Itoa(len(res.Updated)),
		"uncap_failures":      strconv.Itoa(len(res.Failed)),
	})
	return p, res, nil
}

// SweepHardDelete deletes each due page independently. A page restored after
// listing is skipped. A canceled context stops between pages.
func (s *LifecycleServiceImpl) SweepHardDelete(ctx context.Context, now time.Time) ([]string, error) {
	due, err := s.pages.ListDueForDeletion(ctx, now)
	if err != nil {
		return nil, err
	}

	removed := []string{}
	failed := 0
	defer func() { s.metrics.SweepResult(len(removed), failed) }()

	for _, slug := range due {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		memories, err := s.pages.HardDelete(ctx, slug, now)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			s.log.Info("sweep skipped page", zap.String("slug", slug))
			continue
		case err != nil:
			failed++
			s.log.Error("sweep hard delete", zap.String("slug", slug), zap.Error(err))
			continue
		}
		removed = append(removed, slug)
		s.purgeAttachments(ctx, slug, memories)
		s.audit.Record(ctx, slug, model.ActionPageHardDeleted, model.SystemActor, "",
			map[string]string{"memories": strconv.Itoa(len(memories))})
	}
	return removed, nil
}

// PurgeExpiredMemories deletes in batches until a batch makes no progress.
func (s *LifecycleServiceImpl) PurgeExpiredMemories(ctx context.Context, today civil.Date) (int, error) {
	total := 0
	defer func() { s.metrics.Purged(total) }()

	for {
		batch, err := s.memories.ListPurgeable(ctx, today, purgeBatch)
		if err != nil {
			return total, err
		}
		deleted := 0
		for _, m := range batch {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			if err := s.memories.DeleteByID(ctx, m.ID); err != nil {
				s.log.Warn("purge memory", zap.String("id", m.ID), zap.Error(err))
				continue
			}
			deleted++
			s.purgeAttachments(ctx, m.PageID, []model.Memory{m})
		}
		total += deleted
		if len(batch) < purgeBatch || deleted == 0 {
			return total, nil
		}
	}
}

func (s *LifecycleServiceImpl) purgeAttachments(ctx context.Context, slug string, memories []model.Memory) {
	var urls []string
	for _, m := range memories {
		urls = append(urls, m.Attachments...)
	}
	if len(urls) == 0 {
		return
	}
	if err := s.purger.Purge(ctx, urls); err != nil {
		s.log.Warn("purge attachments", zap.String("slug", slug), zap.Int("urls", len(urls)), zap.Error(err))
	}
}
