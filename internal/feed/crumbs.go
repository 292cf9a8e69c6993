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

type crumbStore interface {
	Crumbs(ctx context.Context, limit int) ([]models.Crumb, error)
	InsertCrumb(ctx context.Context, crumb models.Crumb) error
}

type crumbRealtime interface {
	CrumbInserts() (<-chan models.Crumb, func(), error)
}

// CrumbFeed mirrors the crumb collection, newest first. New crumbs are
// prepended in notification arrival order.
type CrumbFeed struct {
	selfID string
	store  crumbStore
	dir    *directory.Cache
	window int

	mu     sync.RWMutex
	crumbs []models.Crumb

	cancel func()
	done   chan struct{}
	now    func() time.Time
}

type CrumbFeedConfig struct {
	SelfID string
	Limit  int // initial load size, DefaultCrumbLimit if zero
	Window int // retention cap, DefaultCrumbWindow if zero
}

func NewCrumbFeed(ctx context.Context, store crumbStore, rt crumbRealtime, dir *directory.Cache, cfg CrumbFeedConfig) (*CrumbFeed, error) {
	if cfg.Limit == 0 {
		cfg.Limit = DefaultCrumbLimit
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultCrumbWindow
	}

	crumbs, err := store.Crumbs(ctx, cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load crumbs: %w", err)
	}
	for i := range crumbs {
		attachPoster(ctx, dir, &crumbs[i])
	}

	f := &CrumbFeed{
		selfID: cfg.SelfID,
		store:  store,
		dir:    dir,
		window: cfg.Window,
		crumbs: crumbs,
		done:   make(chan struct{}),
		now:    time.Now,
	}

	inserts, cancel, err := rt.CrumbInserts()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to crumb inserts: %w", err)
	}
	f.cancel = cancel

	go func() {
		defer close(f.done)
		for crumb := range inserts {
			f.apply(crumb)
		}
	}()

	return f, nil
}

func (f *CrumbFeed) Close() {
	f.cancel()
	<-f.done
}

func (f *CrumbFeed) apply(crumb models.Crumb) {
	attachPoster(context.Background(), f.dir, &crumb)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.crumbs = append([]models.Crumb{crumb}, f.crumbs...)
	if len(f.crumbs) > f.window {
		f.crumbs = f.crumbs[:f.window]
	}
}

// Crumbs returns a snapshot, newest first.
func (f *CrumbFeed) Crumbs() []models.Crumb {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]models.Crumb, len(f.crumbs))
	copy(out, f.crumbs)
	return out
}

// Latest returns the most recent crumb posted by the given user.
func (f *CrumbFeed) Latest(userID string) (models.Crumb, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, c := range f.crumbs {
		if c.UserID == userID {
			return c, true
		}
	}
	return models.Crumb{}, false
}

// Post validates and writes a crumb with the current user as author.
func (f *CrumbFeed) Post(ctx context.Context, content, imageURL string) error {
	content = strings.TrimSpace(content)
	if content == "" && imageURL == "" {
		return ErrEmptyPost
	}

	crumb := models.Crumb{
		ID:        uuid.NewString(),
		UserID:    f.selfID,
		Content:   content,
		ImageURL:  imageURL,
		CreatedAt: f.now().UnixNano(),
	}
	if err := f.store.InsertCrumb(ctx, crumb); err != nil {
		return fmt.Errorf("failed to post crumb: %w", err)
	}
	return nil
}

func attachPoster(ctx context.Context, dir *directory.Cache, crumb *models.Crumb) {
	s, err := dir.Summary(ctx, crumb.UserID)
	if err != nil {
		slog.Debug("poster summary not resolved", "user_id", crumb.UserID, "error", err)
		return
	}
	crumb.Profile = &s
}
