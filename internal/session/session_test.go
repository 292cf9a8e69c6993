package session

import (
	"context"
	"path/filepath"
	"testing"

	"crumbchat/internal/backend"
	"crumbchat/internal/platform"
)

func newTestStore(t *testing.T) (*Store, *platform.Platform) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	p, err := platform.New(ctx, platform.Config{
		Path:       filepath.Join(dir, "test.db"),
		ObjectsDir: filepath.Join(dir, "objects"),
	})
	if err != nil {
		t.Fatalf("failed to create platform: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	return New(p, p), p
}

func TestSignUpAndOut(t *testing.T) {
	s, p := newTestStore(t)
	ctx := context.Background()

	if _, ok := s.Session(); ok {
		t.Fatal("fresh store must have no session")
	}

	if err := s.SignUp(ctx, "ann@example.com", "secret1", "ann"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	sess, ok := s.Session()
	if !ok || sess.Token == "" {
		t.Fatalf("no session after sign up: %+v", sess)
	}

	profile, ok := s.Profile()
	if !ok {
		t.Fatal("no profile after sign up")
	}
	if profile.Username != "ann" {
		t.Errorf("expected username ann, got %s", profile.Username)
	}
	if !profile.IsOnline {
		t.Error("signing up must mark the profile online")
	}
	if profile.LastSeen == 0 {
		t.Error("signing up must stamp last seen")
	}

	if err := s.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if _, ok := s.Session(); ok {
		t.Error("session still active after sign out")
	}

	// The backend profile is offline and the token revoked.
	stored, err := p.Profile(ctx, sess.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.IsOnline {
		t.Error("profile still online after sign out")
	}
	if _, err := p.UserID(sess.Token); err == nil {
		t.Error("token still valid after sign out")
	}

	// Signing out twice is a no-op.
	if err := s.SignOut(ctx); err != nil {
		t.Errorf("repeated SignOut failed: %v", err)
	}
}

func TestSignIn(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SignUp(ctx, "ann@example.com", "secret1", "ann"); err != nil {
		t.Fatal(err)
	}
	if err := s.SignOut(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.SignIn(ctx, "ann@example.com", "wrong"); err == nil {
		t.Error("expected sign in failure for bad password")
	}
	if _, ok := s.Session(); ok {
		t.Error("failed sign in must not establish a session")
	}

	if err := s.SignIn(ctx, "ann@example.com", "secret1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	profile, ok := s.Profile()
	if !ok || !profile.IsOnline {
		t.Errorf("sign in must mark the profile online: %+v", profile)
	}
}

func TestUpdateOwnProfile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	username := "annie"
	if err := s.UpdateOwnProfile(ctx, backend.ProfilePatch{Username: &username}); err == nil {
		t.Error("expected error with no active session")
	}

	if err := s.SignUp(ctx, "ann@example.com", "secret1", "ann"); err != nil {
		t.Fatal(err)
	}

	avatar := "http://localhost/objects/u1/avatar.png"
	if err := s.UpdateOwnProfile(ctx, backend.ProfilePatch{Username: &username, AvatarURL: &avatar}); err != nil {
		t.Fatalf("UpdateOwnProfile failed: %v", err)
	}

	profile, _ := s.Profile()
	if profile.Username != "annie" {
		t.Errorf("local profile not refreshed: %s", profile.Username)
	}
	if profile.AvatarURL != avatar {
		t.Errorf("avatar not updated: %s", profile.AvatarURL)
	}
}
