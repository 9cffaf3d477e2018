// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/and161185/event-ledger/internal/errs"
)

// Visibility controls who may read a page.
type Visibility string

const (
	// VisibilityPublic pages are readable by anyone, including anonymous callers.
	VisibilityPublic Visibility = "public"
	// VisibilityPersonal pages are readable by owners only.
	VisibilityPersonal Visibility = "personal"
)

// ParseVisibility accepts only the two recognized visibility values.
func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(s); v {
	case VisibilityPublic, VisibilityPersonal:
		return v, nil
	default:
		return "", fmt.Errorf("%w: unknown visibility %q", errs.ErrValidation, s)
	}
}

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ValidateSlug checks the page key format (lowercase, digits, dashes).
func ValidateSlug(slug string) error {
	if !slugRe.MatchString(slug) {
		return fmt.Errorf("%w: bad slug %q", errs.ErrValidation, slug)
	}
	return nil
}

// User is created lazily on first authenticated contact. UID is immutable.
type User struct {
	UID                   string
	DisplayName           string
	PhotoURL              string
	DefaultPersonalPageID string
	CreatedAt             time.Time
}

// Page is the authorization and visibility boundary for memories.
type Page struct {
	Slug        string // PK, never renamed
	Title       string
	Description string
	Visibility  Visibility
	OwnerUIDs   []string // never empty
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeleteAfter *time.Time // non-nil while pending hard deletion
}

// IsOwner reports whether uid is in the owner set.
func (p *Page) IsOwner(uid string) bool {
	return uid != "" && slices.Contains(p.OwnerUIDs, uid)
}

// PendingDeletion reports whether the page was soft-deleted.
func (p *Page) PendingDeletion() bool { return p.DeleteAfter != nil }

// Validate checks the page invariants before a create.
func (p *Page) Validate() error {
	if err := ValidateSlug(p.Slug); err != nil {
		return err
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: empty title", errs.ErrValidation)
	}
	if _, err := ParseVisibility(string(p.Visibility)); err != nil {
		return err
	}
	if len(p.OwnerUIDs) == 0 {
		return fmt.Errorf("%w: page must have at least one owner", errs.ErrValidation)
	}
	return nil
}

// PagePatch is a partial page update. Nil fields are left untouched.
type PagePatch struct {
	Title       *string
	Description *string
	DeleteAfter *time.Time
	OwnerUIDs   *[]string // always rejected; owners change via AddOwner/RemoveOwner
}

// Empty reports whether the patch changes nothing.
func (p PagePatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DeleteAfter == nil && p.OwnerUIDs == nil
}

// Validate rejects patches touching immutable fields.
func (p PagePatch) Validate() error {
	if p.OwnerUIDs != nil {
		if len(*p.OwnerUIDs) == 0 {
			return fmt.Errorf("%w: owner_uids cannot be empty", errs.ErrValidation)
		}
		return fmt.Errorf("%w: owner_uids is not mutable via update", errs.ErrValidation)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: empty title", errs.ErrValidation)
	}
	return nil
}

// Memory is a single event record scoped to a page.
type Memory struct {
	ID          string
	PageID      string
	Content     string
	Title       string
	Target      *civil.Date // nil for ongoing memories
	Time        string
	Place       string
	Expires     civil.Date  // always set
	CappedFrom  *civil.Date // expiry before a soft-delete cap, nil when not capped
	Attachments []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsExpired reports whether the memory passed its expiry (today == expires is still valid).
func (m *Memory) IsExpired(today civil.Date) bool { return today.After(m.Expires) }

// NextSunday returns the coming Sunday, or d itself when d is a Sunday.
func NextSunday(d civil.Date) civil.Date {
	wd := d.In(time.UTC).Weekday()
	return d.AddDays((7 - int(wd)) % 7)
}

// DefaultExpiry picks the expiry of a memory saved without one.
func DefaultExpiry(target *civil.Date, today civil.Date) civil.Date {
	if target != nil {
		return *target
	}
	return NextSunday(today)
}

// Invite grants co-ownership of a page once. Redeemed invites are terminal.
type Invite struct {
	ID            string
	PageID        string
	CreatedByUID  string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RedeemedByUID string
	RedeemedAt    *time.Time
}

// Redeemed reports whether the invite was already accepted.
func (i *Invite) Redeemed() bool { return i.RedeemedByUID != "" }

// Expired reports whether the invite can no longer be accepted.
func (i *Invite) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Audit actions.
const (
	ActionPageCreated     = "page_created"
	ActionPageUpdated     = "page_updated"
	ActionPageDeleted     = "page_deleted"
	ActionPageRestored    = "page_restored"
	ActionPageHardDeleted = "page_hard_deleted"
	ActionOwnerAssigned   = "owner_assigned"
	ActionOwnerRemoved    = "owner_removed"
	ActionInviteCreated   = "invite_created"
	ActionInviteAccepted  = "invite_accepted"
)

// SystemActor is recorded as the actor of sweep-driven actions.
const SystemActor = "system"

// AuditEntry is an append-only record of an ownership or deletion action.
type AuditEntry struct {
	ID        string
	PageSlug  string
	Action    string
	ActorUID  string
	TargetUID string
	Metadata  map[string]string
	Timestamp time.Time
}

// BulkFailure is a single document that a bulk operation could not update.
type BulkFailure struct {
	ID  string
	Err error
}

// BulkResult reports per-document progress of a bulk memory operation.
type BulkResult struct {
	Updated []string
	Failed  []BulkFailure
}

// FailedIDs lists the ids of failed documents.
func (r BulkResult) FailedIDs() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.ID)
	}
	return out
}
