package service

import (
	"context"
	"time"

	"github.com/and161185/event-ledger/internal/model"
	"github.com/and161185/event-ledger/internal/repository"
)

// UserService serves the caller's own profile.
type UserService interface {
	// Me returns the profile of uid, creating it on first contact.
	Me(ctx context.Context, uid string) (*model.User, error)
}

type UserServiceImpl struct {
	users repository.UserRepository
	now   Clock
}

// NewUserService constructs UserService.
func NewUserService(users repository.UserRepository) *UserServiceImpl {
	return &UserServiceImpl{users: users, now: time.Now}
}

// Me lazily creates the profile.
func (s *UserServiceImpl) Me(ctx context.Context, uid string) (*model.User, error) {
	if err := requireUID(uid); err != nil {
		return nil, err
	}
	return s.users.GetOrCreate(ctx, &model.User{UID: uid, CreatedAt: s.now().UTC()})
}
