// Package backend defines the collaborator contract the client core is
// written against. Two implementations exist: the in-process platform
// (internal/platform) and the websocket realtime client
// (internal/realtime) for the subscription and presence surfaces.
package backend

import (
	"context"

	"crumbchat/internal/models"
)

// Session is an authenticated backend session.
type Session struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ExpiresAt int64  `json:"expiresAt"` // Unix timestamp (seconds)
}

// Auth is the authentication surface of the backend.
type Auth interface {
	SignUp(ctx context.Context, email, password, username string) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context, token string) error
}

// ProfilePatch is a partial update of a profile row. Nil fields are left
// untouched.
type ProfilePatch struct {
	Username  *string
	AvatarURL *string
	IsOnline  *bool
	LastSeen  *int64
}

// Store is the relational query surface of the backend.
type Store interface {
	// Profiles returns all profiles ordered by creation time, oldest first.
	Profiles(ctx context.Context) ([]models.Profile, error)

	// Profile is a point lookup by user id.
	Profile(ctx context.Context, userID string) (models.Profile, error)

	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) error

	// PublicMessages returns up to limit public messages, oldest first.
	PublicMessages(ctx context.Context, limit int) ([]models.Message, error)

	// Thread returns all private messages between the two users in either
	// direction, oldest first.
	Thread(ctx context.Context, userA, userB string) ([]models.Message, error)

	InsertMessage(ctx context.Context, msg models.Message) error

	// Crumbs returns up to limit crumbs, newest first.
	Crumbs(ctx context.Context, limit int) ([]models.Crumb, error)

	InsertCrumb(ctx context.Context, crumb models.Crumb) error
}

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ProfileChange is one mutation of the profile collection echoed by the
// backend.
type ProfileChange struct {
	Type    ChangeType     `json:"type"`
	Profile models.Profile `json:"profile"`
}

// Realtime delivers change notifications per collection. Each subscription
// owns its channel; calling the returned cancel func detaches it. Events
// are delivered in the order the backend applied them.
type Realtime interface {
	ProfileChanges() (<-chan ProfileChange, func(), error)
	MessageInserts() (<-chan models.Message, func(), error)
	CrumbInserts() (<-chan models.Crumb, func(), error)
}

// PresenceHandle is a joined presence channel membership.
type PresenceHandle interface {
	// Track broadcasts the local payload to all channel members.
	Track(payload []byte) error

	// Leave removes the local member and detaches the sync callback.
	Leave()
}

// Presence is the ephemeral shared-state surface. onSync receives the full
// membership-to-payload map after every change, including the local member.
type Presence interface {
	Join(channel, key string, onSync func(state map[string][]byte)) (PresenceHandle, error)
}

// Objects is the object storage surface.
type Objects interface {
	Upload(ctx context.Context, path, contentType string, data []byte) error
	PublicURL(path string) string
}
