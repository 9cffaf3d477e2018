package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/authz"
	"github.com/and161185/event-ledger/internal/crypto"
	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/limiter"
	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/repository"
)

// InviteService issues and redeems single-use co-ownership invites.
type InviteService interface {
	// Create issues an invite for the page; owners only.
	Create(ctx context.Context, uid, slug string) (*model.Invite, error)
	// Accept redeems the invite and makes uid an owner of its page.
	Accept(ctx context.Context, uid, inviteID, ip string) (*model.Page, error)
}

type InviteServiceImpl struct {
	pages   repository.PageRepository
	invites repository.InviteRepository
	lim     limiter.Limiter
	audit   *Auditor
	log     *zap.Logger
	ttl     time.Duration
	now     Clock
	token   func() (string, error)
}

// NewInviteService constructs InviteService with the invite lifetime ttl.
func NewInviteService(pages repository.PageRepository, invites repository.InviteRepository, lim limiter.Limiter, audit *Auditor, log *zap.Logger, ttl time.Duration) *InviteServiceImpl {
	return &InviteServiceImpl{
		pages: pages, invites: invites, lim: lim, audit: audit, log: log,
		ttl: ttl, now: time.Now, token: crypto.NewToken,
	}
}

// Create stores a pending invite with a random id.
func (s *InviteServiceImpl) Create(ctx context.Context, uid, slug string) (*model.Invite, error) {
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
	id, err := s.token()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	inv := &model.Invite{
		ID:           id,
		PageID:       slug,
		CreatedByUID: uid,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, slug, model.ActionInviteCreated, uid, "",
		map[string]string{"expires_at": inv.ExpiresAt.Format(time.RFC3339)})
	return inv, nil
}

// Accept applies rate limiting by (uid, ip) and redeems atomically.
// Unknown and expired invites count as failures; an already redeemed invite
// or a page pending deletion does not.
func (s *InviteServiceImpl) Accept(ctx context.Context, uid, inviteID, ip string) (*model.Page, error) {
	if err := requireUID(uid); err != nil {
		return nil, err
	}
	attempt := limiter.NewAttempt(uid, ip)
	if err := s.lim.Check(ctx, attempt); err != nil {
		return nil, err
	}

	inv, page, err := s.invites.Redeem(ctx, inviteID, uid, s.now().UTC())
	if err != nil {
		if countsAsGuess(err) {
			ferr := s.lim.Fail(ctx, attempt)
			if errors.Is(ferr, errs.ErrRateLimited) {
				return nil, ferr
			}
			if ferr != nil {
				s.log.Warn("record invite failure", zap.String("uid", uid), zap.Error(ferr))
			}
		}
		return nil, err
	}

	if err := s.lim.Forget(ctx, attempt); err != nil {
		s.log.Warn("reset invite limiter", zap.String("uid", uid), zap.Error(err))
	}
	s.audit.Record(ctx, page.Slug, model.ActionInviteAccepted, uid, uid,
		map[string]string{"invited_by": inv.CreatedByUID})
	return page, nil
}

func countsAsGuess(err error) bool {
	if errors.Is(err, errs.ErrPendingDeletion) {
		return false
	}
	return errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrValidation)
}
