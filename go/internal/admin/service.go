// Package admin manages user records and their roles.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/seatboard/go/internal/auth"
	"github.com/mcdev12/seatboard/go/internal/board"
	"github.com/mcdev12/seatboard/go/internal/docstore"
	"github.com/rs/zerolog/log"
)

const usersCollection = "users"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidRole  = errors.New("invalid role")
)

// User is the stored user record
type User struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Role        auth.Role `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Service is the users collection
type Service struct {
	store  docstore.Store
	clock  clockwork.Clock
	admins map[string]bool
}

// NewService creates the service. Users signing in with one of the
// bootstrap emails are stored as admins the first time they are seen.
func NewService(store docstore.Store, clock clockwork.Clock, bootstrapAdmins ...string) *Service {
	admins := make(map[string]bool, len(bootstrapAdmins))
	for _, e := range bootstrapAdmins {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = true
		}
	}
	return &Service{store: store, clock: clock, admins: admins}
}

// EnsureUser creates the record on first sign-in and refreshes the profile
// fields afterwards. The stored role is never taken from the token.
func (s *Service) EnsureUser(ctx context.Context, id auth.Identity) (User, error) {
	now := board.Now(s.clock.Now())
	existing, err := s.get(ctx, id.UID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		u := User{
			UID:         id.UID,
			Email:       id.Email,
			DisplayName: id.DisplayName,
			Role:        auth.RoleUser,
			CreatedAt:   now,
			LastSeenAt:  now,
		}
		if s.admins[strings.ToLower(id.Email)] {
			u.Role = auth.RoleAdmin
		}
		if err := s.put(ctx, u); err != nil {
			return User{}, err
		}
		log.Info().Str("uid", u.UID).Str("role", string(u.Role)).Msg("user created")
		return u, nil
	case err != nil:
		return User{}, err
	}

	existing.Email = id.Email
	existing.DisplayName = id.DisplayName
	existing.LastSeenAt = now
	patch, err := docstore.Encode(struct {
		Email       string    `json:"email,omitempty"`
		DisplayName string    `json:"displayName,omitempty"`
		LastSeenAt  time.Time `json:"lastSeenAt"`
	}{id.Email, id.DisplayName, now})
	if err != nil {
		return User{}, err
	}
	if err := s.store.Set(ctx, usersCollection, id.UID, patch, docstore.Merge()); err != nil {
		return User{}, fmt.Errorf("failed to update user %s: %w", id.UID, err)
	}
	return existing, nil
}

// ResolveRole returns the stored role, RoleUser for unknown users
func (s *Service) ResolveRole(ctx context.Context, uid string) (auth.Role, error) {
	u, err := s.get(ctx, uid)
	if errors.Is(err, ErrUserNotFound) {
		return auth.RoleUser, nil
	}
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// ListUsers returns every user ordered by email
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	docs, err := s.store.List(ctx, usersCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]User, 0, len(docs))
	for id, doc := range docs {
		var u User
		if err := docstore.Decode(doc, &u); err != nil {
			log.Warn().Err(err).Str("uid", id).Msg("skipping undecodable user")
			continue
		}
		if u.UID == "" {
			u.UID = id
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Email != users[j].Email {
			return users[i].Email < users[j].Email
		}
		return users[i].UID < users[j].UID
	})
	return users, nil
}

// SetRole changes a user's role
func (s *Service) SetRole(ctx context.Context, uid string, role auth.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if _, err := s.get(ctx, uid); err != nil {
		return err
	}
	patch, err := docstore.Field("role", role)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, usersCollection, uid, patch, docstore.Merge()); err != nil {
		return fmt.Errorf("failed to set role for %s: %w", uid, err)
	}
	log.Info().Str("uid", uid).Str("role", string(role)).Msg("role changed")
	return nil
}

// ToggleRole promotes a user to admin or demotes an admin to user
func (s *Service) ToggleRole(ctx context.Context, uid string) (auth.Role, error) {
	u, err := s.get(ctx, uid)
	if err != nil {
		return "", err
	}
	next := auth.RoleAdmin
	if u.Role == auth.RoleAdmin {
		next = auth.RoleUser
	}
	if err := s.SetRole(ctx, uid, next); err != nil {
		return "", err
	}
	return next, nil
}

func (s *Service) get(ctx context.Context, uid string) (User, error) {
	doc, err := s.store.Get(ctx, usersCollection, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to get user %s: %w", uid, err)
	}
	var u User
	if err := docstore.Decode(doc, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) put(ctx context.Context, u User) error {
	doc, err := docstore.Encode(u)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, usersCollection, u.UID, doc); err != nil {
		return fmt.Errorf("failed to store user %s: %w", u.UID, err)
	}
	return nil
}
