package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/authz"
	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/metrics"
	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/repository"
)

// MemoryService owns memories scoped to a page.
type MemoryService interface {
	// Save creates the memory (empty ID) or updates it in place; idempotent per id.
	Save(ctx context.Context, uid, slug string, m model.Memory) (*model.Memory, error)
	// List returns the page memories when uid may read the page.
	List(ctx context.Context, uid, slug string, includeExpired bool) ([]model.Memory, error)
	// Delete removes one memory; owners only.
	Delete(ctx context.Context, uid, slug, id string) error
	// BulkExpire caps the expiry of every page memory at expiry, per document.
	BulkExpire(ctx context.Context, slug string, expiry civil.Date) (model.BulkResult, error)
	// BulkUncap restores every capped page memory to its pre-cap expiry.
	BulkUncap(ctx context.Context, slug string) (model.BulkResult, error)
}

type MemoryServiceImpl struct {
	pages    repository.PageRepository
	memories repository.MemoryRepository
	log      *zap.Logger
	metrics  *metrics.Collector
	now      Clock
}

// NewMemoryService constructs MemoryService. m may be nil.
func NewMemoryService(pages repository.PageRepository, memories repository.MemoryRepository, log *zap.Logger, m *metrics.Collector) *MemoryServiceImpl {
	return &MemoryServiceImpl{pages: pages, memories: memories, log: log, metrics: m, now: time.Now}
}

// Save validates the memory and upserts it.
// Validation rules:
// - content not blank
// - page not pending deletion
// - missing expires defaults to target, else the coming Sunday
func (s *MemoryServiceImpl) Save(ctx context.Context, uid, slug string, m model.Memory) (*model.Memory, error) {
	p, err := loadPage(ctx, s.pages, slug)
	if err != nil {
		return nil, err
	}
	if err := authz.CheckWrite(p, uid); err != nil {
		return nil, err
	}
	if p.PendingDeletion() {
		return nil, fmt.Errorf("%w: %q", errs.ErrPendingDeletion, slug)
	}
	if strings.TrimSpace(m.Content) == "" {
		return nil, fmt.Errorf("%w: empty content", errs.ErrValidation)
	}

	now := s.now().UTC()
	if m.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		m.ID = id.String()
	}
	if m.Expires == (civil.Date{}) {
		m.Expires = model.DefaultExpiry(m.Target, today(now))
	}
	if !m.Expires.IsValid() {
		return nil, fmt.Errorf("%w: bad expires", errs.ErrValidation)
	}
	m.PageID = slug
	m.CappedFrom = nil
	m.CreatedAt = now
	m.UpdatedAt = now
	return s.memories.Upsert(ctx, &m)
}

// List applies the read guard and hides expired memories unless asked.
func (s *MemoryServiceImpl) List(ctx context.Context, uid, slug string, includeExpired bool) ([]model.Memory, error) {
	p, err := loadPage(ctx, s.pages, slug)
	if err != nil {
		return nil, err
	}
	if err := authz.CheckRead(p, uid); err != nil {
		return nil, err
	}
	return s.memories.ListForPage(ctx, slug, today(s.now()), includeExpired)
}

// Delete removes a memory of the page. A memory of another page is NotFound.
func (s *MemoryServiceImpl) Delete(ctx context.Context, uid, slug, id string) error {
	p, err := loadPage(ctx, s.pages, slug)
	if err != nil {
		return err
	}
	if err := authz.CheckWrite(p, uid); err != nil {
		return err
	}
	return s.memories.Delete(ctx, slug, id)
}

// BulkExpire continues past per-memory failures and reports them in the result.
// A canceled context stops between documents and returns the partial result.
func (s *MemoryServiceImpl) BulkExpire(ctx context.Context, slug string, expiry civil.Date) (model.BulkResult, error) {
	ids, err := s.memories.ListIDsExpiringAfter(ctx, slug, expiry)
	if err != nil {
		return model.BulkResult{}, err
	}
	return s.each(ctx, "expire", slug, ids, func(id string) error {
		return s.memories.CapExpiry(ctx, id, expiry)
	})
}

// BulkUncap mirrors BulkExpire for restore.
func (s *MemoryServiceImpl) BulkUncap(ctx context.Context, slug string) (model.BulkResult, error) {
	ids, err := s.memories.ListCappedIDs(ctx, slug)
	if err != nil {
		return model.BulkResult{}, err
	}
	return s.each(ctx, "uncap", slug, ids, func(id string) error {
		return s.memories.Uncap(ctx, id)
	})
}

func (s *MemoryServiceImpl) each(ctx context.Context, op, slug string, ids []string, fn func(id string) error) (model.BulkResult, error) {
	res := model.BulkResult{Updated: []string{}, Failed: []model.BulkFailure{}}
	defer func() { s.metrics.BulkFailure(op, len(res.Failed)) }()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := fn(id); err != nil {
			s.log.Warn("bulk memory update failed",
				zap.String("op", op), zap.String("slug", slug), zap.String("id", id), zap.Error(err))
			res.Failed = append(res.Failed, model.BulkFailure{ID: id, Err: err})
			continue
		}
		res.Updated = append(res.Updated, id)
	}
	return res, nil
}
