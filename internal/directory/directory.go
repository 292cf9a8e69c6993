// Package directory holds the in-memory mirror of all known profiles and
// the read-through summary cache the feeds use for their client-side joins.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"crumbchat/internal/backend"
	"crumbchat/internal/models"

	"github.com/c-pro/geche"
)

// ErrSelfLookup is returned when a chat id lookup resolves to the current
// user. Opening a conversation with yourself is refused.
var ErrSelfLookup = errors.New("chat id belongs to the current user")

type store interface {
	Profiles(ctx context.Context) ([]models.Profile, error)
	Profile(ctx context.Context, userID string) (models.Profile, error)
}

type realtime interface {
	ProfileChanges() (<-chan backend.ProfileChange, func(), error)
}

// Cache mirrors the profile collection. It is loaded once, oldest first,
// then patched incrementally from change notifications: inserts append,
// updates replace by user id. Deletes are not a supported lifecycle event.
type Cache struct {
	selfID string
	store  store

	mu       sync.RWMutex
	profiles []models.Profile

	// user id -> summary, read-through on miss
	summaries geche.Geche[string, models.UserSummary]

	cancel func()
	done   chan struct{}
}

func New(ctx context.Context, store store, rt realtime, selfID string) (*Cache, error) {
	profiles, err := store.Profiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	c := &Cache{
		selfID:    selfID,
		store:     store,
		profiles:  profiles,
		summaries: geche.NewMapCache[string, models.UserSummary](),
		done:      make(chan struct{}),
	}
	for _, p := range profiles {
		c.summaries.Set(p.UserID, p.Summary())
	}

	changes, cancel, err := rt.ProfileChanges()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to profile changes: %w", err)
	}
	c.cancel = cancel

	go func() {
		defer close(c.done)
		for change := range changes {
			c.apply(change)
		}
	}()

	return c, nil
}

// Close detaches the change subscription.
func (c *Cache) Close() {
	c.cancel()
	<-c.done
}

func (c *Cache) apply(change backend.ProfileChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch change.Type {
	case backend.ChangeInsert:
		c.profiles = append(c.profiles, change.Profile)
	case backend.ChangeUpdate:
		for i := range c.profiles {
			if c.profiles[i].UserID == change.Profile.UserID {
				c.profiles[i] = change.Profile
				break
			}
		}
	}
	c.summaries.Set(change.Profile.UserID, change.Profile.Summary())
}

// Profiles returns a snapshot of the cached profiles in load/arrival order.
func (c *Cache) Profiles() []models.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Profile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// FindByChatID is a case-insensitive exact match over the cached set,
// returning the first match or models.ErrNotFound.
func (c *Cache) FindByChatID(chatID string) (models.Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.profiles {
		if strings.EqualFold(p.ChatID, chatID) {
			return p, nil
		}
	}
	return models.Profile{}, models.ErrNotFound
}

// LookupPeer resolves a chat id to another user's profile. A chat id that
// resolves to the current user is an error, not a conversation.
func (c *Cache) LookupPeer(chatID string) (models.Profile, error) {
	p, err := c.FindByChatID(chatID)
	if err != nil {
		return models.Profile{}, err
	}
	if p.UserID == c.selfID {
		return models.Profile{}, ErrSelfLookup
	}
	return p, nil
}

// Summary resolves a user id to its denormalized summary. Cached entries
// are returned without a backend call; a miss falls back to a point lookup
// and populates the cache.
func (c *Cache) Summary(ctx context.Context, userID string) (models.UserSummary, error) {
	if s, err := c.summaries.Get(userID); err == nil {
		return s, nil
	}

	p, err := c.store.Profile(ctx, userID)
	if err != nil {
		return models.UserSummary{}, err
	}
	s := p.Summary()
	c.summaries.Set(userID, s)
	return s, nil
}
