// Package repository defines storage interfaces implemented by concrete backends.
//
// Every method is atomic against a single document unless stated otherwise;
// no caller performs read-modify-write through two separate calls.
package repository

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/and161185/event-ledger/internal/model"
)

// PageRepository owns page documents keyed by slug.
type PageRepository interface {
	// Create inserts the page if the slug is free; ErrConflict otherwise.
	Create(ctx context.Context, p *model.Page) error
	// Get loads a page by slug.
	Get(ctx context.Context, slug string) (*model.Page, error)
	// Update applies a partial patch in one statement and returns the new page.
	Update(ctx context.Context, slug string, patch model.PagePatch) (*model.Page, error)
	// AddOwner adds uid to the owner set (no-op when already an owner).
	AddOwner(ctx context.Context, slug, uid string) (*model.Page, error)
	// RemoveOwner removes uid; ErrValidation when it is the last owner or not an owner.
	RemoveOwner(ctx context.Context, slug, uid string) (*model.Page, error)
	// ListForUser returns every page the uid owns.
	ListForUser(ctx context.Context, uid string) ([]model.Page, error)
	// MarkForDeletion sets delete_after unless already set and returns the page.
	MarkForDeletion(ctx context.Context, slug string, deadline time.Time) (*model.Page, error)
	// ClearDeletion clears delete_after and returns the page with the former deadline.
	// ErrValidation when the page is not pending deletion.
	ClearDeletion(ctx context.Context, slug string) (page *model.Page, former time.Time, err error)
	// ListDueForDeletion returns slugs with delete_after <= now.
	ListDueForDeletion(ctx context.Context, now time.Time) ([]string, error)
	// HardDelete removes a due page together with its memories and invites in one
	// transaction and returns the removed memories. ErrNotFound when the page is
	// absent or no longer due (e.g. restored concurrently).
	HardDelete(ctx context.Context, slug string, now time.Time) ([]model.Memory, error)
	// ListOwnerless returns slugs of legacy pages with an empty owner set.
	ListOwnerless(ctx context.Context) ([]string, error)
	// AssignOwnerIfOwnerless sets uid as sole owner when the owner set is empty.
	AssignOwnerIfOwnerless(ctx context.Context, slug, uid string) error
}

// MemoryRepository owns memory documents; page_id is a foreign reference.
type MemoryRepository interface {
	// Upsert creates the memory or replaces it in place when the id exists on the same page.
	Upsert(ctx context.Context, m *model.Memory) (*model.Memory, error)
	// Get loads a memory by id.
	Get(ctx context.Context, id string) (*model.Memory, error)
	// ListForPage returns memories of a page; expired ones only when includeExpired.
	ListForPage(ctx context.Context, pageID string, today civil.Date, includeExpired bool) ([]model.Memory, error)
	// Delete removes a memory of the page; ErrNotFound when absent.
	Delete(ctx context.Context, pageID, id string) error
	// ListIDsExpiringAfter returns ids of page memories whose expiry is later than ceiling.
	ListIDsExpiringAfter(ctx context.Context, pageID string, ceiling civil.Date) ([]string, error)
	// CapExpiry lowers one memory's expiry to ceiling, remembering the previous value.
	// It is a no-op when the expiry is already at or below ceiling.
	CapExpiry(ctx context.Context, id string, ceiling civil.Date) error
	// ListCappedIDs returns ids of page memories holding a soft-delete cap.
	ListCappedIDs(ctx context.Context, pageID string) ([]string, error)
	// Uncap restores one memory's expiry to its value before the cap.
	Uncap(ctx context.Context, id string) error
	// ListPurgeable returns memories expired before today or whose page no longer exists.
	ListPurgeable(ctx context.Context, today civil.Date, limit int) ([]model.Memory, error)
	// DeleteByID removes a memory regardless of page; no error when already gone.
	DeleteByID(ctx context.Context, id string) error
}

// InviteRepository owns invite documents.
type InviteRepository interface {
	// Create stores a new pending invite.
	Create(ctx context.Context, inv *model.Invite) error
	// Get loads an invite by id.
	Get(ctx context.Context, id string) (*model.Invite, error)
	// Redeem atomically marks the invite redeemed by uid and adds uid to the page
	// owners. ErrNotFound, ErrConflict (already redeemed), ErrValidation (expired)
	// and ErrPendingDeletion (soft-deleted page) leave both documents unchanged.
	Redeem(ctx context.Context, id, uid string, now time.Time) (*model.Invite, *model.Page, error)
}

// AuditRepository appends audit entries; entries are never mutated.
type AuditRepository interface {
	// Append stores an entry.
	Append(ctx context.Context, e *model.AuditEntry) error
	// ListForPage returns a page's entries oldest first.
	ListForPage(ctx context.Context, slug string) ([]model.AuditEntry, error)
}

// UserRepository provides lazily created user profiles.
type UserRepository interface {
	// GetOrCreate returns the profile, inserting it if absent.
	GetOrCreate(ctx context.Context, u *model.User) (*model.User, error)
	// SetDefaultPersonalPageIfEmpty stores slug only if no default is set yet.
	SetDefaultPersonalPageIfEmpty(ctx context.Context, uid, slug string) error
}
