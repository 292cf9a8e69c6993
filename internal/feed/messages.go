package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"crumbchat/internal/directory"
	"crumbchat/internal/models"

	"github.com/google/uuid"
)

type messageStore interface {
	PublicMessages(ctx context.Context, limit int) ([]models.Message, error)
	Thread(ctx context.Context, userA, userB string) ([]models.Message, error)
	InsertMessage(ctx context.Context, msg models.Message) error
}

type messageRealtime interface {
	MessageInserts() (<-chan models.Message, func(), error)
}

// MessageFeed mirrors the message collection for one signed-in user: all
// public messages plus private messages involving the user, in
// notification arrival order.
type MessageFeed struct {
	selfID string
	store  messageStore
	dir    *directory.Cache
	window int

	mu   sync.RWMutex
	msgs []models.Message

	cancel func()
	done   chan struct{}
	now    func() time.Time
}

type MessageFeedConfig struct {
	SelfID string
	Limit  int // initial load size, DefaultMessageLimit if zero
	Window int // retention cap, DefaultMessageWindow if zero
}

func NewMessageFeed(ctx context.Context, store messageStore, rt messageRealtime, dir *directory.Cache, cfg MessageFeedConfig) (*MessageFeed, error) {
	if cfg.Limit == 0 {
		cfg.Limit = DefaultMessageLimit
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultMessageWindow
	}

	msgs, err := store.PublicMessages(ctx, cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load public messages: %w", err)
	}
	for i := range msgs {
		attachSender(ctx, dir, &msgs[i])
	}

	f := &MessageFeed{
		selfID: cfg.SelfID,
		store:  store,
		dir:    dir,
		window: cfg.Window,
		msgs:   msgs,
		done:   make(chan struct{}),
		now:    time.Now,
	}

	inserts, cancel, err := rt.MessageInserts()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to message inserts: %w", err)
	}
	f.cancel = cancel

	go func() {
		defer close(f.done)
		for msg := range inserts {
			f.apply(msg)
		}
	}()

	return f, nil
}

func (f *MessageFeed) Close() {
	f.cancel()
	<-f.done
}

func (f *MessageFeed) apply(msg models.Message) {
	// Private messages are only kept when they involve the current user.
	if msg.IsPrivate && msg.SenderID != f.selfID && msg.ReceiverID != f.selfID {
		return
	}

	attachSender(context.Background(), f.dir, &msg)

	f.mu.Lock()
	defer f.mu.Unlock()

	// The echo of an own write replaces the optimistic entry carrying the
	// same client token instead of appending a duplicate.
	if msg.ClientToken != "" {
		for i := range f.msgs {
			if f.msgs[i].ClientToken == msg.ClientToken {
				f.msgs[i] = msg
				return
			}
		}
	}

	f.msgs = append(f.msgs, msg)
	if len(f.msgs) > f.window {
		f.msgs = f.msgs[len(f.msgs)-f.window:]
	}
}

// Messages returns a snapshot of all retained messages in arrival order.
func (f *MessageFeed) Messages() []models.Message {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]models.Message, len(f.msgs))
	copy(out, f.msgs)
	return out
}

// Public returns the public subset of the feed.
func (f *MessageFeed) Public() []models.Message {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []models.Message
	for _, m := range f.msgs {
		if !m.IsPrivate {
			out = append(out, m)
		}
	}
	return out
}

// Send validates and writes a message with the current user as sender. The
// entry is appended optimistically and rolled back if the write fails; the
// echo notification reconciles it by client token.
func (f *MessageFeed) Send(ctx context.Context, content, receiverID, imageURL string) error {
	content = strings.TrimSpace(content)
	if content == "" && imageURL == "" {
		return ErrEmptyPost
	}

	msg := models.Message{
		SenderID:    f.selfID,
		ReceiverID:  receiverID,
		Content:     content,
		ImageURL:    imageURL,
		IsPrivate:   receiverID != "",
		CreatedAt:   f.now().UnixNano(),
		ClientToken: uuid.NewString(),
	}
	attachSender(ctx, f.dir, &msg)

	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()

	if err := f.store.InsertMessage(ctx, msg); err != nil {
		f.removeByToken(msg.ClientToken)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (f *MessageFeed) removeByToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.msgs {
		if f.msgs[i].ClientToken == token {
			f.msgs = append(f.msgs[:i], f.msgs[i+1:]...)
			return
		}
	}
}

// Thread returns all private messages between the current user and the
// other user in either direction, oldest first.
func (f *MessageFeed) Thread(ctx context.Context, otherID string) ([]models.Message, error) {
	msgs, err := f.store.Thread(ctx, f.selfID, otherID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	for i := range msgs {
		attachSender(ctx, f.dir, &msgs[i])
	}
	return msgs, nil
}

func attachSender(ctx context.Context, dir *directory.Cache, msg *models.Message) {
	s, err := dir.Summary(ctx, msg.SenderID)
	if err != nil {
		// A message from a sender with no resolvable profile is still
		// displayed, just without the summary.
		slog.Debug("sender summary not resolved", "sender_id", msg.SenderID, "error", err)
		return
	}
	msg.Sender = &s
}
