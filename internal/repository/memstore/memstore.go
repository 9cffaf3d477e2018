// Package memstore is an in-memory implementation of the repository interfaces.
// It backs -dev mode and service tests. A single mutex serializes every
// method, which gives each call the same atomicity the Postgres backend has.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/repository"
)

// Store holds all documents.
type Store struct {
	mu       sync.Mutex
	pages    map[string]*model.Page
	memories map[string]*model.Memory
	invites  map[string]*model.Invite
	users    map[string]*model.User
	audit    []model.AuditEntry
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		pages:    map[string]*model.Page{},
		memories: map[string]*model.Memory{},
		invites:  map[string]*model.Invite{},
		users:    map[string]*model.User{},
		now:      time.Now,
	}
}

// Pages returns the page repository view.
func (s *Store) Pages() *PageRepo { return &PageRepo{s: s} }

// Memories returns the memory repository view.
func (s *Store) Memories() *MemoryRepo { return &MemoryRepo{s: s} }

// Invites returns the invite repository view.
func (s *Store) Invites() *InviteRepo { return &InviteRepo{s: s} }

// Audit returns the audit repository view.
func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }

// Users returns the user repository view.
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

var (
	_ repository.PageRepository   = (*PageRepo)(nil)
	_ repository.MemoryRepository = (*MemoryRepo)(nil)
	_ repository.InviteRepository = (*InviteRepo)(nil)
	_ repository.AuditRepository  = (*AuditRepo)(nil)
	_ repository.UserRepository   = (*UserRepo)(nil)
)

func copyPage(p *model.Page) *model.Page {
	c := *p
	c.OwnerUIDs = slices.Clone(p.OwnerUIDs)
	if p.DeleteAfter != nil {
		t := *p.DeleteAfter
		c.DeleteAfter = &t
	}
	return &c
}

func copyMemory(m *model.Memory) *model.Memory {
	c := *m
	c.Attachments = slices.Clone(m.Attachments)
	if c.Attachments == nil {
		c.Attachments = []string{}
	}
	if m.Target != nil {
		d := *m.Target
		c.Target = &d
	}
	if m.CappedFrom != nil {
		d := *m.CappedFrom
		c.CappedFrom = &d
	}
	return &c
}

// PageRepo implements repository.PageRepository.
type PageRepo struct{ s *Store }

func (r *PageRepo) Create(_ context.Context, p *model.Page) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.pages[p.Slug]; ok {
		return fmt.Errorf("%w: page %q already exists", errs.ErrConflict, p.Slug)
	}
	c := copyPage(p)
	c.UpdatedAt = c.CreatedAt
	r.s.pages[p.Slug] = c
	return nil
}

func (r *PageRepo) Get(_ context.Context, slug string) (*model.Page, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pages[slug]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyPage(p), nil
}

func (r *PageRepo) Update(_ context.Context, slug string, patch model.PagePatch) (*model.Page, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pages[slug]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.DeleteAfter != nil {
		t := *patch.DeleteAfter
		p.DeleteAfter = &t
	}
	p.UpdatedAt = r.s.now()
	return copyPage(p), nil
}

func (r *PageRepo) AddOwner(_ context.Context, slug, uid string) (*model.Page, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: empty uid", errs.ErrValidation)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.addOwnerLocked(slug, uid)
}

func (s *Store) addOwnerLocked(slug, uid string) (*model.Page, error) {
	p, ok := s.pages[slug]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if !slices.Contains(p.OwnerUIDs, uid) {
		p.OwnerUIDs = append(p.OwnerUIDs, uid)
	}
	p.UpdatedAt = s.now()
	return copyPage(p), nil
}

func (r *PageRepo) RemoveOwner(_ context.Context, slug, uid string) (*model.Page, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pages[slug]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if !slices.Contains(p.OwnerUIDs, uid) {
		return nil, fmt.Errorf("%w: %q is not an owner of %q", errs.ErrValidation, uid, slug)
	}
	if len(p.OwnerUIDs) <= 1 {
		return nil, fmt.Errorf("%w: cannot remove last owner", errs.ErrValidation)
	}
	p.OwnerUIDs = slices.DeleteFunc(p.OwnerUIDs, func(o string) bool { return o == uid })
	p.UpdatedAt = r.s.now()
	return copyPage(p), nil
}

func (r *PageRepo) ListForUser(_ context.Context, uid string) ([]model.Page, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Page{}
	for _, p := range r.s.pages {
		if slices.Contains(p.OwnerUIDs, uid) {
			out = append(out, *copyPage(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (r *PageRepo) MarkForDeletion(_ context.Context, slug string, deadline time.Time) (*model.Page, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pages[slug]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if p.DeleteAfter == nil {
		t := deadline
		p.DeleteAfter = &t
	}
	p.UpdatedAt = r.s.now()
	return copyPage(p), nil
}

func (r *PageRepo) ClearDeletion(_ context.Context, slug string) (*model.Page, time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pages[slug]
	if !ok {
		return nil, time.Time{}, errs.ErrNotFound
	}
	if p.DeleteAfter == nil {
		return nil, time.Time{}, fmt.Errorf("%w: page %q is not pending deletion", errs.ErrValidation, slug)
	}
	former := *p.DeleteAfter
	p.DeleteAfter = nil
	p.UpdatedAt = r.s.now()
	return copyPage(p), former, nil
}

func (r *PageRepo) ListDueForDeletion(_ context.Context, now time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	type due struct {
		slug string
		at   time.Time
	}
	var ds []due
	for _, p := range r.s.pages {
		if p.DeleteAfter != nil && !p.DeleteAfter.After(now) {
			ds = append(ds, due{p.Slug, *p.DeleteAfter})
		}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].at.Before(ds[j].at) })
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.slug)
	}
	return out, nil
}

func (r *PageRepo) HardDelete(_ context.Context, slug string, now time.Time) ([]model.Memory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pages[slug]
	if !ok || p.DeleteAfter == nil || p.DeleteAfter.After(now) {
		return nil, fmt.Errorf("%w: page %q not due for deletion", errs.ErrNotFound, slug)
	}
	delete(r.s.pages, slug)
	removed := []model.Memory{}
	for id, m := range r.s.memories {
		if m.PageID == slug {
			removed = append(removed, *copyMemory(m))
			delete(r.s.memories, id)
		}
	}
	for id, inv := range r.s.invites {
		if inv.PageID == slug {
			delete(r.s.invites, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed, nil
}

func (r *PageRepo) ListOwnerless(_ context.Context) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []string{}
	for _, p := range r.s.pages {
		if len(p.OwnerUIDs) == 0 {
			out = append(out, p.Slug)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *PageRepo) AssignOwnerIfOwnerless(_ context.Context, slug, uid string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pages[slug]
	if !ok || len(p.OwnerUIDs) != 0 {
		return fmt.Errorf("%w: page %q already has owners", errs.ErrConflict, slug)
	}
	p.OwnerUIDs = []string{uid}
	p.UpdatedAt = r.s.now()
	return nil
}

// PutLegacyPage stores a page as-is, bypassing invariants. Used to seed
// ownerless rows that predate the owner model.
func (r *PageRepo) PutLegacyPage(p *model.Page) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.pages[p.Slug] = copyPage(p)
}

// MemoryRepo implements repository.MemoryRepository.
type MemoryRepo struct{ s *Store }

func (r *MemoryRepo) Upsert(_ context.Context, m *model.Memory) (*model.Memory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.memories[m.ID]
	if !ok {
		c := copyMemory(m)
		c.CappedFrom = nil
		c.CreatedAt = m.UpdatedAt
		r.s.memories[m.ID] = c
		return copyMemory(c), nil
	}
	if cur.PageID != m.PageID {
		return nil, fmt.Errorf("save memory %q: %w", m.ID, errs.ErrNotFound)
	}
	c := copyMemory(m)
	c.CreatedAt = cur.CreatedAt
	c.CappedFrom = cur.CappedFrom
	r.s.memories[m.ID] = c
	return copyMemory(c), nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (*model.Memory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memories[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyMemory(m), nil
}

func (r *MemoryRepo) ListForPage(_ context.Context, pageID string, today civil.Date, includeExpired bool) ([]model.Memory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Memory{}
	for _, m := range r.s.memories {
		if m.PageID != pageID {
			continue
		}
		if !includeExpired && m.IsExpired(today) {
			continue
		}
		out = append(out, *copyMemory(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) Delete(_ context.Context, pageID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memories[id]
	if !ok || m.PageID != pageID {
		return fmt.Errorf("%w: memory %q on page %q", errs.ErrNotFound, id, pageID)
	}
	delete(r.s.memories, id)
	return nil
}

func (r *MemoryRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.memories, id)
	return nil
}

func (r *MemoryRepo) ListIDsExpiringAfter(_ context.Context, pageID string, ceiling civil.Date) ([]string, error) {
	return r.ids(func(m *model.Memory) bool { return m.PageID == pageID && m.Expires.After(ceiling) }), nil
}

func (r *MemoryRepo) ListCappedIDs(_ context.Context, pageID string) ([]string, error) {
	return r.ids(func(m *model.Memory) bool { return m.PageID == pageID && m.CappedFrom != nil }), nil
}

func (r *MemoryRepo) ids(keep func(*model.Memory) bool) []string {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []string{}
	for id, m := range r.s.memories {
		if keep(m) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *MemoryRepo) CapExpiry(_ context.Context, id string, ceiling civil.Date) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memories[id]
	if !ok || !m.Expires.After(ceiling) {
		return nil
	}
	if m.CappedFrom == nil {
		d := m.Expires
		m.CappedFrom = &d
	}
	m.Expires = ceiling
	m.UpdatedAt = r.s.now()
	return nil
}

func (r *MemoryRepo) Uncap(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memories[id]
	if !ok || m.CappedFrom == nil {
		return nil
	}
	m.Expires = *m.CappedFrom
	m.CappedFrom = nil
	m.UpdatedAt = r.s.now()
	return nil
}

func (r *MemoryRepo) ListPurgeable(_ context.Context, today civil.Date, limit int) ([]model.Memory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Memory{}
	for _, m := range r.s.memories {
		_, pageExists := r.s.pages[m.PageID]
		if m.Expires.Before(today) || !pageExists {
			out = append(out, *copyMemory(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InviteRepo implements repository.InviteRepository.
type InviteRepo struct{ s *Store }

func (r *InviteRepo) Create(_ context.Context, inv *model.Invite) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.invites[inv.ID]; ok {
		return fmt.Errorf("%w: invite %q exists", errs.ErrConflict, inv.ID)
	}
	c := *inv
	r.s.invites[inv.ID] = &c
	return nil
}

func (r *InviteRepo) Get(_ context.Context, id string) (*model.Invite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invites[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *inv
	return &c, nil
}

func (r *InviteRepo) Redeem(_ context.Context, id, uid string, now time.Time) (*model.Invite, *model.Page, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invites[id]
	if !ok {
		return nil, nil, errs.ErrNotFound
	}
	switch {
	case inv.Redeemed():
		return nil, nil, fmt.Errorf("%w: invite already redeemed", errs.ErrConflict)
	case inv.Expired(now):
		return nil, nil, fmt.Errorf("%w: invite expired", errs.ErrValidation)
	}
	// Check the page before touching the invite so both stay unchanged on failure.
	page, ok := r.s.pages[inv.PageID]
	if !ok {
		return nil, nil, errs.ErrNotFound
	}
	if page.PendingDeletion() {
		return nil, nil, fmt.Errorf("%w: %q", errs.ErrPendingDeletion, inv.PageID)
	}
	p, err := r.s.addOwnerLocked(inv.PageID, uid)
	if err != nil {
		return nil, nil, err
	}
	t := now
	inv.RedeemedByUID, inv.RedeemedAt = uid, &t
	c := *inv
	return &c, p, nil
}

// AuditRepo implements repository.AuditRepository.
type AuditRepo struct{ s *Store }

func (r *AuditRepo) Append(_ context.Context, e *model.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, *e)
	return nil
}

func (r *AuditRepo) ListForPage(_ context.Context, slug string) ([]model.AuditEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.AuditEntry{}
	for _, e := range r.s.audit {
		if e.PageSlug == slug {
			out = append(out, e)
		}
	}
	return out, nil
}

// UserRepo implements repository.UserRepository.
type UserRepo struct{ s *Store }

func (r *UserRepo) GetOrCreate(_ context.Context, u *model.User) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.users[u.UID]
	if !ok {
		c := *u
		r.s.users[u.UID] = &c
		cur = &c
	}
	out := *cur
	return &out, nil
}

func (r *UserRepo) SetDefaultPersonalPageIfEmpty(_ context.Context, uid, slug string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[uid]
	if !ok || u.DefaultPersonalPageID != "" {
		return fmt.Errorf("%w: default personal page already set", errs.ErrConflict)
	}
	u.DefaultPersonalPageID = slug
	return nil
}
