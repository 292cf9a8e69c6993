package platform

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"crumbchat/internal/backend"
	"crumbchat/internal/models"
)

func newTestPlatform(t *testing.T) *Platform {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	p, err := New(ctx, Config{
		Path:       filepath.Join(dir, "test.db"),
		ObjectsDir: filepath.Join(dir, "objects"),
		BaseURL:    "http://localhost:8080",
	})
	if err != nil {
		t.Fatalf("failed to create platform: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestAuth(t *testing.T) {
	p := newTestPlatform(t)
	ctx := context.Background()

	changes, cancel, err := p.ProfileChanges()
	if err != nil {
		t.Fatalf("ProfileChanges failed: %v", err)
	}
	defer cancel()

	sess, err := p.SignUp(ctx, "alice@example.com", "secret1", "alice")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if sess.Token == "" || sess.UserID == "" {
		t.Fatalf("SignUp returned incomplete session: %+v", sess)
	}

	// Signup must emit a profile insert notification.
	select {
	case change := <-changes:
		if change.Type != backend.ChangeInsert {
			t.Errorf("expected insert change, got %s", change.Type)
		}
		if change.Profile.Username != "alice" {
			t.Errorf("expected username alice, got %s", change.Profile.Username)
		}
		if len(change.Profile.ChatID) != chatIDLength {
			t.Errorf("expected %d-char chat id, got %q", chatIDLength, change.Profile.ChatID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for profile insert")
	}

	userID, err := p.UserID(sess.Token)
	if err != nil {
		t.Fatalf("UserID failed: %v", err)
	}
	if userID != sess.UserID {
		t.Errorf("expected user id %s, got %s", sess.UserID, userID)
	}

	if _, err := p.SignUp(ctx, "alice@example.com", "secret1", "alice2"); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}

	if _, err := p.SignIn(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, ErrLoginFailed) {
		t.Errorf("expected ErrLoginFailed, got %v", err)
	}
	if _, err := p.SignIn(ctx, "nobody@example.com", "secret1"); !errors.Is(err, ErrLoginFailed) {
		t.Errorf("expected ErrLoginFailed for unknown email, got %v", err)
	}

	sess2, err := p.SignIn(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	if err := p.SignOut(ctx, sess2.Token); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if _, err := p.UserID(sess2.Token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized after sign out, got %v", err)
	}
}

func TestProfiles(t *testing.T) {
	p := newTestPlatform(t)
	ctx := context.Background()

	s1, err := p.SignUp(ctx, "a@example.com", "secret1", "ann")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := p.SignUp(ctx, "b@example.com", "secret1", "bo")
	if err != nil {
		t.Fatal(err)
	}

	profiles, err := p.Profiles(ctx)
	if err != nil {
		t.Fatalf("Profiles failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	// Oldest first
	if profiles[0].UserID != s1.UserID || profiles[1].UserID != s2.UserID {
		t.Errorf("profiles not in creation order: %s, %s", profiles[0].Username, profiles[1].Username)
	}

	online := true
	lastSeen := time.Now().UnixNano()
	if err := p.UpdateProfile(ctx, s1.UserID, backend.ProfilePatch{IsOnline: &online, LastSeen: &lastSeen}); err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}

	got, err := p.Profile(ctx, s1.UserID)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if !got.IsOnline {
		t.Error("expected profile to be online")
	}
	if got.LastSeen != lastSeen {
		t.Errorf("expected last seen %d, got %d", lastSeen, got.LastSeen)
	}

	if _, err := p.Profile(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMessages(t *testing.T) {
	p := newTestPlatform(t)
	ctx := context.Background()

	if err := p.InsertMessage(ctx, models.Message{SenderID: "u1"}); err == nil {
		t.Error("expected error for message with no content and no image")
	}

	// The privacy flag follows the receiver, not the caller.
	msgs := []models.Message{
		{SenderID: "u1", Content: "hello", CreatedAt: 100, IsPrivate: true},
		{SenderID: "u1", ReceiverID: "u2", Content: "psst", CreatedAt: 200},
		{SenderID: "u2", ReceiverID: "u1", Content: "what", CreatedAt: 300},
		{SenderID: "u3", ReceiverID: "u1", Content: "hey", CreatedAt: 400},
		{SenderID: "u2", Content: "public too", CreatedAt: 500},
	}
	for _, m := range msgs {
		if err := p.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}

	public, err := p.PublicMessages(ctx, 100)
	if err != nil {
		t.Fatalf("PublicMessages failed: %v", err)
	}
	if len(public) != 2 {
		t.Fatalf("expected 2 public messages, got %d", len(public))
	}
	if public[0].Content != "hello" || public[1].Content != "public too" {
		t.Errorf("public messages not oldest-first: %q, %q", public[0].Content, public[1].Content)
	}
	if public[0].IsPrivate {
		t.Error("message without receiver must not be private")
	}

	limited, err := p.PublicMessages(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Content != "hello" {
		t.Errorf("limit must keep the oldest rows, got %+v", limited)
	}

	thread, err := p.Thread(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("Thread failed: %v", err)
	}
	if len(thread) != 2 {
		t.Fatalf("expected 2 thread messages, got %d", len(thread))
	}
	if thread[0].Content != "psst" || thread[1].Content != "what" {
		t.Errorf("thread not oldest-first: %q, %q", thread[0].Content, thread[1].Content)
	}
	for _, m := range thread {
		if !m.IsPrivate {
			t.Errorf("thread message %q not private", m.Content)
		}
	}
}

func TestInsertSanitizesContent(t *testing.T) {
	p := newTestPlatform(t)
	ctx := context.Background()

	err := p.InsertMessage(ctx, models.Message{SenderID: "u1", Content: "<script>alert(1)</script>hi", CreatedAt: 100})
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	msgs, err := p.PublicMessages(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].Content != "hi" {
		t.Errorf("unsafe markup survived the insert: %q", msgs[0].Content)
	}

	// Content that is nothing but unsafe markup is an empty message.
	if err := p.InsertMessage(ctx, models.Message{SenderID: "u1", Content: "<script>alert(1)</script>"}); err == nil {
		t.Error("expected error for markup-only message")
	}
	if err := p.InsertCrumb(ctx, models.Crumb{UserID: "u1", Content: "<script>alert(1)</script>"}); err == nil {
		t.Error("expected error for markup-only crumb")
	}
}

func TestCrumbs(t *testing.T) {
	p := newTestPlatform(t)
	ctx := context.Background()

	if err := p.InsertCrumb(ctx, models.Crumb{UserID: "u1"}); err == nil {
		t.Error("expected error for crumb with no content and no image")
	}

	for i, content := range []string{"first", "second", "third"} {
		err := p.InsertCrumb(ctx, models.Crumb{
			UserID:    "u1",
			Content:   content,
			CreatedAt: int64(100 * (i + 1)),
		})
		if err != nil {
			t.Fatalf("InsertCrumb failed: %v", err)
		}
	}

	crumbs, err := p.Crumbs(ctx, 2)
	if err != nil {
		t.Fatalf("Crumbs failed: %v", err)
	}
	if len(crumbs) != 2 {
		t.Fatalf("expected 2 crumbs, got %d", len(crumbs))
	}
	if crumbs[0].Content != "third" || crumbs[1].Content != "second" {
		t.Errorf("crumbs not newest-first: %q, %q", crumbs[0].Content, crumbs[1].Content)
	}
}

func TestMessageInserts(t *testing.T) {
	p := newTestPlatform(t)
	ctx := context.Background()

	inserts, cancel, err := p.MessageInserts()
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if err := p.InsertMessage(ctx, models.Message{SenderID: "u1", Content: "hi", ClientToken: "tok"}); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-inserts:
		if m.Content != "hi" || m.ClientToken != "tok" {
			t.Errorf("unexpected message: %+v", m)
		}
		if m.ID == "" || m.CreatedAt == 0 {
			t.Errorf("insert did not fill id/timestamp: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message insert")
	}
}

func TestPresenceHub(t *testing.T) {
	hub := NewPresenceHub()

	var lastState map[string][]byte
	h1, err := hub.Join("typing:public", "u1", func(state map[string][]byte) {
		lastState = state
	})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	h2, err := hub.Join("typing:public", "u2", nil)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if len(lastState) != 2 {
		t.Fatalf("expected 2 members after second join, got %d", len(lastState))
	}

	if err := h2.Track([]byte(`{"isTyping":true}`)); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if string(lastState["u2"]) != `{"isTyping":true}` {
		t.Errorf("u1 did not see u2's payload: %s", lastState["u2"])
	}

	h2.Leave()
	if _, ok := lastState["u2"]; ok {
		t.Error("u2 still present after leave")
	}

	h1.Leave()
}

func TestObjects(t *testing.T) {
	p := newTestPlatform(t)
	ctx := context.Background()

	data := []byte("fake image bytes")
	if err := p.Upload(ctx, "u1/pic.png", "image/png", data); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if got := p.PublicURL("u1/pic.png"); got != "http://localhost:8080/objects/u1/pic.png" {
		t.Errorf("unexpected public url: %s", got)
	}

	rc, meta, err := p.Object(ctx, "u1/pic.png")
	if err != nil {
		t.Fatalf("Object failed: %v", err)
	}
	defer func() { _ = rc.Close() }()
	if meta.ContentType != "image/png" {
		t.Errorf("expected content type image/png, got %s", meta.ContentType)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), meta.Size)
	}

	if _, _, err := p.Object(ctx, "u1/missing.png"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPushSubscriptions(t *testing.T) {
	p := newTestPlatform(t)
	ctx := context.Background()

	sub := PushSubscription{Endpoint: "https://push.example/ep1", P256dh: "key", Auth: "auth"}
	if err := p.SavePushSubscription(ctx, "u1", sub); err != nil {
		t.Fatalf("SavePushSubscription failed: %v", err)
	}
	if err := p.SavePushSubscription(ctx, "u2", PushSubscription{Endpoint: "https://push.example/ep2"}); err != nil {
		t.Fatal(err)
	}

	subs, err := p.PushSubscriptions(ctx, "u1")
	if err != nil {
		t.Fatalf("PushSubscriptions failed: %v", err)
	}
	if len(subs) != 1 || subs[0].Endpoint != sub.Endpoint {
		t.Errorf("unexpected subscriptions: %+v", subs)
	}

	if err := p.DeletePushSubscription(ctx, "u1", sub.Endpoint); err != nil {
		t.Fatalf("DeletePushSubscription failed: %v", err)
	}
	subs, err = p.PushSubscriptions(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Errorf("expected no subscriptions after delete, got %d", len(subs))
	}
}
