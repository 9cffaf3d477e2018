// Package authz decides page access from visibility and the owner set.
// It never touches storage: callers pass the already loaded page.
package authz

import (
	"fmt"

	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/model"
)

// CanRead reports whether uid may read the page and its memories.
// An empty uid is an anonymous caller.
func CanRead(p *model.Page, uid string) bool {
	return p.Visibility == model.VisibilityPublic || p.IsOwner(uid)
}

// CanWrite reports whether uid may mutate the page and its memories.
func CanWrite(p *model.Page, uid string) bool {
	return p.IsOwner(uid)
}

// CheckRead returns nil when reading is allowed, ErrUnauthenticated for an
// anonymous caller on a personal page, and ErrForbidden otherwise.
func CheckRead(p *model.Page, uid string) error {
	if CanRead(p, uid) {
		return nil
	}
	if uid == "" {
		return fmt.Errorf("%w: page %q requires sign-in", errs.ErrUnauthenticated, p.Slug)
	}
	return fmt.Errorf("%w: page %q is private", errs.ErrForbidden, p.Slug)
}

// CheckWrite returns nil for owners, ErrUnauthenticated for anonymous callers
// and ErrForbidden for everyone else.
func CheckWrite(p *model.Page, uid string) error {
	if CanWrite(p, uid) {
		return nil
	}
	if uid == "" {
		return errs.ErrUnauthenticated
	}
	return fmt.Errorf("%w: not an owner of %q", errs.ErrForbidden, p.Slug)
}
