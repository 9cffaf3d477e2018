package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/authz"
	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/repository"
)

// PageService owns page creation, reads and ownership changes.
type PageService interface {
	// Create makes uid the sole owner of a new page; ErrConflict when the slug is taken.
	Create(ctx context.Context, uid string, in CreatePageInput) (*model.Page, error)
	// Get returns the page when uid may read it.
	Get(ctx context.Context, uid, slug string) (*model.Page, error)
	// Update applies a partial patch; owners only.
	Update(ctx context.Context, uid, slug string, patch model.PagePatch) (*model.Page, error)
	// AddOwner grants co-ownership; owners only.
	AddOwner(ctx context.Context, actor, slug, uid string) (*model.Page, error)
	// RemoveOwner revokes ownership; owners only, never the last owner.
	RemoveOwner(ctx context.Context, actor, slug, uid string) (*model.Page, error)
	// ListForUser returns the pages uid owns.
	ListForUser(ctx context.Context, uid string) ([]model.Page, error)
}

// CreatePageInput carries the caller-provided fields of a new page.
type CreatePageInput struct {
	Slug        string
	Title       string
	Description string
	Visibility  string
}

type PageServiceImpl struct {
	pages repository.PageRepository
	users repository.UserRepository
	audit *Auditor
	log   *zap.Logger
	now   Clock
}

// NewPageService constructs PageService.
func NewPageService(pages repository.PageRepository, users repository.UserRepository, audit *Auditor, log *zap.Logger) *PageServiceImpl {
	return &PageServiceImpl{pages: pages, users: users, audit: audit, log: log, now: time.Now}
}

// Create validates input and inserts the page atomically.
func (s *PageServiceImpl) Create(ctx context.Context, uid string, in CreatePageInput) (*model.Page, error) {
	if err := requireUID(uid); err != nil {
		return nil, err
	}
	vis, err := model.ParseVisibility(in.Visibility)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &model.Page{
		Slug:        strings.TrimSpace(in.Slug),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Visibility:  vis,
		OwnerUIDs:   []string{uid},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.pages.Create(ctx, p); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, p.Slug, model.ActionPageCreated, uid, "", map[string]string{"visibility": string(vis)})

	if vis == model.VisibilityPersonal {
		s.rememberPersonalPage(ctx, uid, p.Slug)
	}
	return p, nil
}

// rememberPersonalPage sets the user's default personal page if still unset.
func (s *PageServiceImpl) rememberPersonalPage(ctx context.Context, uid, slug string) {
	if _, err := s.users.GetOrCreate(ctx, &model.User{UID: uid, CreatedAt: s.now().UTC()}); err != nil {
		s.log.Warn("load user for default page", zap.String("uid", uid), zap.Error(err))
		return
	}
	err := s.users.SetDefaultPersonalPageIfEmpty(ctx, uid, slug)
	if err != nil && !errors.Is(err, errs.ErrConflict) {
		s.log.Warn("set default personal page", zap.String("uid", uid), zap.String("slug", slug), zap.Error(err))
	}
}

// Get loads a page and applies the read guard.
func (s *PageServiceImpl) Get(ctx context.Context, uid, slug string) (*model.Page, error) {
	p, err := loadPage(ctx, s.pages, slug)
	if err != nil {
		return nil, err
	}
	if err := authz.CheckRead(p, uid); err != nil {
		return nil, err
	}
	return p, nil
}

// Update rejects empty patches and non-owners.
func (s *PageServiceImpl) Update(ctx context.Context, uid, slug string, patch model.PagePatch) (*model.Page, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: empty patch", errs.ErrValidation)
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	p, err := loadPage(ctx, s.pages, slug)
	if err != nil {
		return nil, err
	}
	if err := authz.CheckWrite(p, uid); err != nil {
		return nil, err
	}
	out, err := s.pages.Update(ctx, slug, patch)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{}
	if patch.Title != nil {
		meta["title"] = *patch.Title
	}
	if patch.DeleteAfter != nil {
		meta["delete_after"] = patch.DeleteAfter.UTC().Format(time.RFC3339)
	}
	s.audit.Record(ctx, slug, model.ActionPageUpdated, uid, "", meta)
	return out, nil
}

// AddOwner adds uid to the owner set.
func (s *PageServiceImpl) AddOwner(ctx context.Context, actor, slug, uid string) (*model.Page, error) {
	p, err := loadPage(ctx, s.pages, slug)
	if err != nil {
		return nil, err
	}
	if err := authz.CheckWrite(p, actor); err != nil {
		return nil, err
	}
	out, err := s.pages.AddOwner(ctx, slug, uid)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, slug, model.ActionOwnerAssigned, actor, uid, nil)
	return out, nil
}

// RemoveOwner removes uid; the store refuses to empty the owner set.
func (s *PageServiceImpl) RemoveOwner(ctx context.Context, actor, slug, uid string) (*model.Page, error) {
	p, err := loadPage(ctx, s.pages, slug)
	if err != nil {
		return nil, err
	}
	if err := authz.CheckWrite(p, actor); err != nil {
		return nil, err
	}
	out, err := s.pages.RemoveOwner(ctx, slug, uid)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, slug, model.ActionOwnerRemoved, actor, uid, nil)
	return out, nil
}

// ListForUser lists pages owned by uid.
func (s *PageServiceImpl) ListForUser(ctx context.Context, uid string) ([]model.Page, error) {
	if err := requireUID(uid); err != nil {
		return nil, err
	}
	return s.pages.ListForUser(ctx, uid)
}
