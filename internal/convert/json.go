// Package convert maps domain models to the JSON wire format and back.
package convert

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/and161185/event-ledger/internal/model"
)

// --- helpers ---

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func tsPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := ts(*t)
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// --- Pages ---

// CreatePageRequest is the body of POST /pages.
type CreatePageRequest struct {
	Slug        string `json:"slug" validate:"required,max=64"`
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description,omitempty" validate:"max=2000"`
	Visibility  string `json:"visibility" validate:"required,oneof=public personal"`
}

// UpdatePageRequest is the body of PATCH /pages/{slug}. Absent fields stay untouched.
type UpdatePageRequest struct {
	Title       *string    `json:"title,omitempty" validate:"omitempty,max=200"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	DeleteAfter *time.Time `json:"delete_after,omitempty"`
	OwnerUIDs   *[]string  `json:"owner_uids,omitempty"`
}

// ToPatch converts the request into a domain patch.
func (r UpdatePageRequest) ToPatch() model.PagePatch {
	return model.PagePatch{
		Title:       r.Title,
		Description: r.Description,
		DeleteAfter: r.DeleteAfter,
		OwnerUIDs:   r.OwnerUIDs,
	}
}

// Page is the wire form of model.Page.
type Page struct {
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Visibility  string   `json:"visibility"`
	OwnerUIDs   []string `json:"owner_uids"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	DeleteAfter *string  `json:"delete_after"`
}

// ToPage converts a domain page.
func ToPage(p model.Page) Page {
	return Page{
		Slug:        p.Slug,
		Title:       p.Title,
		Description: p.Description,
		Visibility:  string(p.Visibility),
		OwnerUIDs:   nonNil(p.OwnerUIDs),
		CreatedAt:   ts(p.CreatedAt),
		UpdatedAt:   ts(p.UpdatedAt),
		DeleteAfter: tsPtr(p.DeleteAfter),
	}
}

// ToPages converts a slice of pages.
func ToPages(ps []model.Page) []Page {
	out := make([]Page, 0, len(ps))
	for _, p := range ps {
		out = append(out, ToPage(p))
	}
	return out
}

// --- Memories ---

// SaveMemoryRequest is the body of POST /pages/{slug}/memories.
// A missing id creates a memory; a known id updates it in place.
type SaveMemoryRequest struct {
	ID          string      `json:"id,omitempty" validate:"omitempty,max=64"`
	Content     string      `json:"content" validate:"required,max=10000"`
	Title       string      `json:"title,omitempty" validate:"max=200"`
	Target      *civil.Date `json:"target,omitempty"`
	Time        string      `json:"time,omitempty" validate:"max=64"`
	Place       string      `json:"place,omitempty" validate:"max=200"`
	Expires     *civil.Date `json:"expires,omitempty"`
	Attachments []string    `json:"attachments,omitempty" validate:"max=20,dive,url"`
}

// ToMemory converts the request into a domain memory without page or timestamps.
func (r SaveMemoryRequest) ToMemory() model.Memory {
	m := model.Memory{
		ID:          r.ID,
		Content:     r.Content,
		Title:       r.Title,
		Target:      r.Target,
		Time:        r.Time,
		Place:       r.Place,
		Attachments: r.Attachments,
	}
	if r.Expires != nil {
		m.Expires = *r.Expires
	}
	return m
}

// Memory is the wire form of model.Memory. Dates are YYYY-MM-DD.
type Memory struct {
	ID          string      `json:"id"`
	PageID      string      `json:"page_id"`
	Content     string      `json:"content"`
	Title       string      `json:"title,omitempty"`
	Target      *civil.Date `json:"target,omitempty"`
	Time        string      `json:"time,omitempty"`
	Place       string      `json:"place,omitempty"`
	Expires     civil.Date  `json:"expires"`
	Capped      bool        `json:"capped,omitempty"`
	Attachments []string    `json:"attachments"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

// ToMemory converts a domain memory.
func ToMemory(m model.Memory) Memory {
	return Memory{
		ID:          m.ID,
		PageID:      m.PageID,
		Content:     m.Content,
		Title:       m.Title,
		Target:      m.Target,
		Time:        m.Time,
		Place:       m.Place,
		Expires:     m.Expires,
		Capped:      m.CappedFrom != nil,
		Attachments: nonNil(m.Attachments),
		CreatedAt:   ts(m.CreatedAt),
		UpdatedAt:   ts(m.UpdatedAt),
	}
}

// ToMemories converts a slice of memories.
func ToMemories(ms []model.Memory) []Memory {
	out := make([]Memory, 0, len(ms))
	for _, m := range ms {
		out = append(out, ToMemory(m))
	}
	return out
}

// --- Invites / users / bulk ---

// Invite is the wire form of model.Invite.
type Invite struct {
	ID           string  `json:"id"`
	PageID       string  `json:"page_id"`
	CreatedByUID string  `json:"created_by_uid"`
	CreatedAt    string  `json:"created_at"`
	ExpiresAt    string  `json:"expires_at"`
	RedeemedBy   string  `json:"redeemed_by_uid,omitempty"`
	RedeemedAt   *string `json:"redeemed_at,omitempty"`
}

// ToInvite converts a domain invite.
func ToInvite(i model.Invite) Invite {
	return Invite{
		ID:           i.ID,
		PageID:       i.PageID,
		CreatedByUID: i.CreatedByUID,
		CreatedAt:    ts(i.CreatedAt),
		ExpiresAt:    ts(i.ExpiresAt),
		RedeemedBy:   i.RedeemedByUID,
		RedeemedAt:   tsPtr(i.RedeemedAt),
	}
}

// User is the wire form of model.User.
type User struct {
	UID                   string `json:"uid"`
	DisplayName           string `json:"display_name,omitempty"`
	PhotoURL              string `json:"photo_url,omitempty"`
	DefaultPersonalPageID string `json:"default_personal_page_id,omitempty"`
	CreatedAt             string `json:"created_at"`
}

// ToUser converts a domain user.
func ToUser(u model.User) User {
	return User{
		UID:                   u.UID,
		DisplayName:           u.DisplayName,
		PhotoURL:              u.PhotoURL,
		DefaultPersonalPageID: u.DefaultPersonalPageID,
		CreatedAt:             ts(u.CreatedAt),
	}
}

// Bulk summarizes a bulk memory update; failures carry ids only.
type Bulk struct {
	Updated int      `json:"updated"`
	Failed  []string `json:"failed"`
}

// ToBulk converts a bulk result.
func ToBulk(r model.BulkResult) Bulk {
	return Bulk{Updated: len(r.Updated), Failed: r.FailedIDs()}
}

// PageWithBulk answers soft delete and restore.
type PageWithBulk struct {
	Page     Page `json:"page"`
	Memories Bulk `json:"memories"`
}

// AuditEntry is the wire form of model.AuditEntry.
type AuditEntry struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	ActorUID  string            `json:"actor_uid"`
	TargetUID string            `json:"target_uid,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// ToAuditEntries converts a page audit trail.
func ToAuditEntries(es []model.AuditEntry) []AuditEntry {
	out := make([]AuditEntry, 0, len(es))
	for _, e := range es {
		out = append(out, AuditEntry{
			ID:        e.ID,
			Action:    e.Action,
			ActorUID:  e.ActorUID,
			TargetUID: e.TargetUID,
			Metadata:  e.Metadata,
			Timestamp: ts(e.Timestamp),
		})
	}
	return out
}
