// Package directory keeps the registered users of the relay: who they are,
// under which unique display name, and which public key peers should
// encrypt to.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guppyrelay/internal/clock"
	"guppyrelay/internal/model"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrDuplicateName = errors.New("display name already taken")
	ErrInvalidUser   = errors.New("invalid user")
)

// Repository is the persistence side of the directory.
type Repository interface {
	Create(ctx context.Context, user model.User, createdAt time.Time) (model.User, error)
	FindByName(ctx context.Context, displayName string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

// Service validates registrations before they reach the repository.
type Service struct {
	repo  Repository
	clock clock.Clock
}

func NewService(repo Repository, c clock.Clock) *Service {
	if c == nil {
		c = clock.Real()
	}
	return &Service{repo: repo, clock: c}
}

// Create registers a user. The display name is trimmed and must be unique.
func (s *Service) Create(ctx context.Context, displayName string, publicKey []byte, email string) (model.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return model.User{}, fmt.Errorf("%w: display_name is required", ErrInvalidUser)
	}
	if len(publicKey) == 0 {
		return model.User{}, fmt.Errorf("%w: public_key is required", ErrInvalidUser)
	}

	u, err := s.repo.Create(ctx, model.User{
		DisplayName: displayName,
		PublicKey:   publicKey,
		Email:       strings.TrimSpace(email),
	}, s.clock.Now())
	if err != nil {
		return model.User{}, fmt.Errorf("create user %q: %w", displayName, err)
	}
	return u, nil
}

func (s *Service) FindByName(ctx context.Context, displayName string) (model.User, error) {
	return s.repo.FindByName(ctx, strings.TrimSpace(displayName))
}

func (s *Service) FindByID(ctx context.Context, id string) (model.User, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns every user ordered by ID.
func (s *Service) List(ctx context.Context) ([]model.User, error) {
	return s.repo.List(ctx)
}
