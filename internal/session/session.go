// Package session tracks the authenticated identity and its profile
// record. Its lifecycle is tied to the backend session: establishing one
// loads the profile and flips the online flag, ending one flips it back
// before the session is revoked.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crumbchat/internal/backend"
	"crumbchat/internal/models"
)

type store interface {
	Profile(ctx context.Context, userID string) (models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch backend.ProfilePatch) error
}

type Store struct {
	auth  backend.Auth
	store store

	mu      sync.RWMutex
	session backend.Session
	profile models.Profile
	active  bool

	now func() time.Time
}

func New(auth backend.Auth, st store) *Store {
	return &Store{
		auth:  auth,
		store: st,
		now:   time.Now,
	}
}

// SignUp registers a new account and establishes a session for it.
func (s *Store) SignUp(ctx context.Context, email, password, username string) error {
	sess, err := s.auth.SignUp(ctx, email, password, username)
	if err != nil {
		return fmt.Errorf("sign up failed: %w", err)
	}
	return s.establish(ctx, sess)
}

// SignIn authenticates and establishes a session.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	sess, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return fmt.Errorf("sign in failed: %w", err)
	}
	return s.establish(ctx, sess)
}

func (s *Store) establish(ctx context.Context, sess backend.Session) error {
	online := true
	lastSeen := s.now().UnixNano()
	err := s.store.UpdateProfile(ctx, sess.UserID, backend.ProfilePatch{
		IsOnline: &online,
		LastSeen: &lastSeen,
	})
	if err != nil {
		return fmt.Errorf("failed to mark profile online: %w", err)
	}

	profile, err := s.store.Profile(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("failed to load own profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
	s.profile = profile
	s.active = true
	return nil
}

// SignOut flips the profile offline, then revokes the session. The profile
// update happens first so the directory sees the offline flag even if
// revocation fails.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	sess := s.session
	s.session = backend.Session{}
	s.profile = models.Profile{}
	s.active = false
	s.mu.Unlock()

	online := false
	lastSeen := s.now().UnixNano()
	if err := s.store.UpdateProfile(ctx, sess.UserID, backend.ProfilePatch{
		IsOnline: &online,
		LastSeen: &lastSeen,
	}); err != nil {
		return fmt.Errorf("failed to mark profile offline: %w", err)
	}

	if err := s.auth.SignOut(ctx, sess.Token); err != nil {
		return fmt.Errorf("sign out failed: %w", err)
	}
	return nil
}

// Session returns the current session, if any.
func (s *Store) Session() (backend.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.active
}

// Profile returns the signed-in user's own profile, if any.
func (s *Store) Profile() (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, s.active
}

// UpdateOwnProfile patches the signed-in user's profile and refreshes the
// local copy.
func (s *Store) UpdateOwnProfile(ctx context.Context, patch backend.ProfilePatch) error {
	s.mu.RLock()
	sess, active := s.session, s.active
	s.mu.RUnlock()
	if !active {
		return fmt.Errorf("no active session")
	}

	if err := s.store.UpdateProfile(ctx, sess.UserID, patch); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	profile, err := s.store.Profile(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("failed to reload profile: %w", err)
	}

	s.mu.Lock()
	if s.active && s.session.UserID == sess.UserID {
		s.profile = profile
	}
	s.mu.Unlock()
	return nil
}
