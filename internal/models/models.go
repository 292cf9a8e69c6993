package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

// Profile is the public identity record of a user. It is owned by the
// backend; clients hold read-only mirrors of it.
type Profile struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	ChatID    string `json:"chatId"` // short discovery token, distinct from UserID
	AvatarURL string `json:"avatarUrl"`
	IsOnline  bool   `json:"isOnline"`
	LastSeen  int64  `json:"lastSeen"`  // Unix timestamp (nanoseconds)
	CreatedAt int64  `json:"createdAt"` // Unix timestamp (nanoseconds)
	UpdatedAt int64  `json:"updatedAt"` // Unix timestamp (nanoseconds)
}

// Summary returns the denormalized slice of the profile that feeds attach
// to messages and crumbs.
func (p Profile) Summary() UserSummary {
	return UserSummary{
		Username:  p.Username,
		AvatarURL: p.AvatarURL,
		ChatID:    p.ChatID,
	}
}

// UserSummary is the sender/poster info resolved at read time.
type UserSummary struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
	ChatID    string `json:"chatId"`
}

// Message is a chat message, public or private. Immutable once created.
//
// Invariants: IsPrivate is true iff ReceiverID is non-empty, and at least
// one of Content and ImageURL is non-empty.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"` // empty means public
	Content    string `json:"content"`
	ImageURL   string `json:"imageUrl,omitempty"`
	IsPrivate  bool   `json:"isPrivate"`
	CreatedAt  int64  `json:"createdAt"` // Unix timestamp (nanoseconds)

	// ClientToken is a client-generated idempotency token. The echo
	// notification for a write carries it back, so an optimistic local
	// entry can be reconciled instead of duplicated.
	ClientToken string `json:"clientToken,omitempty"`

	// Sender is joined at read time and never stored.
	Sender *UserSummary `json:"sender,omitempty"`
}

// Crumb is a short status post. Same content invariant as Message.
type Crumb struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Content   string `json:"content"`
	ImageURL  string `json:"imageUrl,omitempty"`
	CreatedAt int64  `json:"createdAt"` // Unix timestamp (nanoseconds)

	// Profile is joined at read time and never stored.
	Profile *UserSummary `json:"profile,omitempty"`
}

// TypingPeer is one remote participant currently composing a message.
type TypingPeer struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
