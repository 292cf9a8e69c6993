// Package platform is an in-process implementation of the backend
// collaborator contract: a bbolt-backed store with change notifications,
// email/password auth, an object store on the local filesystem and
// ephemeral presence channels. It makes no durability or ordering promises
// beyond what bbolt commits.
package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"crumbchat/internal/backend"
	"crumbchat/internal/content"
	"crumbchat/internal/filestore"
	"crumbchat/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const DefaultTokenExpiry = 12 * time.Hour

var (
	bucketProfiles    = []byte("profiles")
	bucketCredentials = []byte("credentials")
	bucketMessages    = []byte("messages")
	bucketCrumbs      = []byte("crumbs")
	bucketObjects     = []byte("objects")
	bucketPushSubs    = []byte("push_subscriptions")
)

type Config struct {
	Path        string
	ObjectsDir  string
	BaseURL     string
	TokenExpiry time.Duration
}

func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("db path is required")
	}
	if c.ObjectsDir == "" {
		return fmt.Errorf("objects dir is required")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	return nil
}

type Platform struct {
	Config

	db    *bbolt.DB
	files filestore.FileStore

	profileBus *bus[backend.ProfileChange]
	messageBus *bus[models.Message]
	crumbBus   *bus[models.Crumb]

	presence *PresenceHub

	// token -> user id, entries expire with the token
	sessions geche.Geche[string, string]

	now func() time.Time
}

func New(ctx context.Context, cfg Config) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(cfg.Path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketProfiles,
			bucketCredentials,
			bucketMessages,
			bucketCrumbs,
			bucketObjects,
			bucketPushSubs,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	files, err := filestore.NewLocalFileStore(cfg.ObjectsDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Platform{
		Config:     cfg,
		db:         db,
		files:      files,
		profileBus: newBus[backend.ProfileChange](),
		messageBus: newBus[models.Message](),
		crumbBus:   newBus[models.Crumb](),
		presence:   NewPresenceHub(),
		sessions:   geche.NewMapTTLCache[string, string](ctx, cfg.TokenExpiry, time.Minute),
		now:        time.Now,
	}, nil
}

func (p *Platform) Close() error {
	return p.db.Close()
}

// Presence returns the hub implementing the presence channel surface.
func (p *Platform) Presence() *PresenceHub {
	return p.presence
}

// Store

func (p *Platform) Profiles(ctx context.Context) ([]models.Profile, error) {
	var profiles []models.Profile
	err := p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		return b.ForEach(func(k, v []byte) error {
			var dbProfile DBProfile
			if err := dbProfile.UnmarshalBinary(v); err != nil {
				return err
			}
			profiles = append(profiles, dbProfile.toModel())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Bucket order is user id; the contract is creation order, oldest first.
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].CreatedAt != profiles[j].CreatedAt {
			return profiles[i].CreatedAt < profiles[j].CreatedAt
		}
		return profiles[i].UserID < profiles[j].UserID
	})
	return profiles, nil
}

func (p *Platform) Profile(ctx context.Context, userID string) (models.Profile, error) {
	var profile models.Profile
	err := p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		data := b.Get([]byte(userID))
		if data == nil {
			return models.ErrNotFound
		}
		var dbProfile DBProfile
		if err := dbProfile.UnmarshalBinary(data); err != nil {
			return err
		}
		profile = dbProfile.toModel()
		return nil
	})
	return profile, err
}

func (p *Platform) UpdateProfile(ctx context.Context, userID string, patch backend.ProfilePatch) error {
	var updated models.Profile
	err := p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		data := b.Get([]byte(userID))
		if data == nil {
			return models.ErrNotFound
		}
		var dbProfile DBProfile
		if err := dbProfile.UnmarshalBinary(data); err != nil {
			return err
		}

		if patch.Username != nil {
			dbProfile.Username = *patch.Username
		}
		if patch.AvatarURL != nil {
			dbProfile.AvatarURL = *patch.AvatarURL
		}
		if patch.IsOnline != nil {
			dbProfile.IsOnline = *patch.IsOnline
		}
		if patch.LastSeen != nil {
			dbProfile.LastSeen = *patch.LastSeen
		}
		dbProfile.UpdatedAt = p.now().UnixNano()

		out, err := dbProfile.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbProfile.Key(), out); err != nil {
			return err
		}
		updated = dbProfile.toModel()
		return nil
	})
	if err != nil {
		return err
	}

	p.profileBus.publish(backend.ProfileChange{Type: backend.ChangeUpdate, Profile: updated})
	return nil
}

func (p *Platform) PublicMessages(ctx context.Context, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := p.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.IsPrivate {
				continue
			}
			messages = append(messages, dbMsg.toModel())
			if limit > 0 && len(messages) >= limit {
				return nil
			}
		}
		return nil
	})
	return messages, err
}

func (p *Platform) Thread(ctx context.Context, userA, userB string) ([]models.Message, error) {
	var messages []models.Message
	err := p.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if !dbMsg.IsPrivate {
				continue
			}
			if (dbMsg.SenderID == userA && dbMsg.ReceiverID == userB) ||
				(dbMsg.SenderID == userB && dbMsg.ReceiverID == userA) {
				messages = append(messages, dbMsg.toModel())
			}
		}
		return nil
	})
	return messages, err
}

func (p *Platform) InsertMessage(ctx context.Context, msg models.Message) error {
	msg.Content = content.Sanitize(msg.Content)
	if msg.Content == "" && msg.ImageURL == "" {
		return fmt.Errorf("message needs content or an image")
	}
	if msg.SenderID == "" {
		return fmt.Errorf("message missing sender id")
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = p.now().UnixNano()
	}
	// The privacy flag is derived, never trusted from the caller.
	msg.IsPrivate = msg.ReceiverID != ""
	msg.Sender = nil

	dbMsg := DBMessage{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		ReceiverID:  msg.ReceiverID,
		Content:     msg.Content,
		ImageURL:    msg.ImageURL,
		IsPrivate:   msg.IsPrivate,
		CreatedAt:   msg.CreatedAt,
		ClientToken: msg.ClientToken,
	}
	err := p.db.Update(func(tx *bbolt.Tx) error {
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return tx.Bucket(bucketMessages).Put(dbMsg.Key(), data)
	})
	if err != nil {
		return err
	}

	p.messageBus.publish(msg)
	return nil
}

func (p *Platform) Crumbs(ctx context.Context, limit int) ([]models.Crumb, error) {
	var crumbs []models.Crumb
	err := p.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCrumbs).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var dbCrumb DBCrumb
			if err := dbCrumb.UnmarshalBinary(v); err != nil {
				return err
			}
			crumbs = append(crumbs, dbCrumb.toModel())
			if limit > 0 && len(crumbs) >= limit {
				return nil
			}
		}
		return nil
	})
	return crumbs, err
}

func (p *Platform) InsertCrumb(ctx context.Context, crumb models.Crumb) error {
	crumb.Content = content.Sanitize(crumb.Content)
	if crumb.Content == "" && crumb.ImageURL == "" {
		return fmt.Errorf("crumb needs content or an image")
	}
	if crumb.UserID == "" {
		return fmt.Errorf("crumb missing user id")
	}

	if crumb.ID == "" {
		crumb.ID = uuid.NewString()
	}
	if crumb.CreatedAt == 0 {
		crumb.CreatedAt = p.now().UnixNano()
	}
	crumb.Profile = nil

	dbCrumb := DBCrumb{
		ID:        crumb.ID,
		UserID:    crumb.UserID,
		Content:   crumb.Content,
		ImageURL:  crumb.ImageURL,
		CreatedAt: crumb.CreatedAt,
	}
	err := p.db.Update(func(tx *bbolt.Tx) error {
		data, err := dbCrumb.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal crumb: %w", err)
		}
		return tx.Bucket(bucketCrumbs).Put(dbCrumb.Key(), data)
	})
	if err != nil {
		return err
	}

	p.crumbBus.publish(crumb)
	return nil
}

// Realtime

func (p *Platform) ProfileChanges() (<-chan backend.ProfileChange, func(), error) {
	ch, cancel := p.profileBus.subscribe()
	return ch, cancel, nil
}

func (p *Platform) MessageInserts() (<-chan models.Message, func(), error) {
	ch, cancel := p.messageBus.subscribe()
	return ch, cancel, nil
}

func (p *Platform) CrumbInserts() (<-chan models.Crumb, func(), error) {
	ch, cancel := p.crumbBus.subscribe()
	return ch, cancel, nil
}

// Objects

func (p *Platform) Upload(ctx context.Context, path, contentType string, data []byte) error {
	if err := p.files.Save(bytes.NewReader(data), path); err != nil {
		return err
	}

	meta := DBObject{
		Path:        path,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   p.now().UnixNano(),
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		out, err := meta.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal object metadata: %w", err)
		}
		return tx.Bucket(bucketObjects).Put(meta.Key(), out)
	})
}

func (p *Platform) PublicURL(path string) string {
	return p.BaseURL + "/objects/" + path
}

// Object opens a stored object and returns its metadata.
func (p *Platform) Object(ctx context.Context, path string) (io.ReadCloser, DBObject, error) {
	var meta DBObject
	err := p.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketObjects).Get([]byte(path))
		if data == nil {
			return models.ErrNotFound
		}
		return meta.UnmarshalBinary(data)
	})
	if err != nil {
		return nil, DBObject{}, err
	}

	r, err := p.files.Get(path)
	if err != nil {
		return nil, DBObject{}, err
	}
	return r, meta, nil
}

// Push subscriptions

type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

func (p *Platform) SavePushSubscription(ctx context.Context, userID string, sub PushSubscription) error {
	dbSub := DBPushSubscription{
		UserID:   userID,
		Endpoint: sub.Endpoint,
		P256dh:   sub.P256dh,
		Auth:     sub.Auth,
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPushSubs).Put(dbSub.Key(), data)
	})
}

func (p *Platform) PushSubscriptions(ctx context.Context, userID string) ([]PushSubscription, error) {
	var subs []PushSubscription
	prefix := []byte(userID + "|")
	err := p.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPushSubs).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, PushSubscription{
				Endpoint: dbSub.Endpoint,
				P256dh:   dbSub.P256dh,
				Auth:     dbSub.Auth,
			})
		}
		return nil
	})
	return subs, err
}

func (p *Platform) DeletePushSubscription(ctx context.Context, userID, endpoint string) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubs).Delete([]byte(userID + "|" + endpoint))
	})
}

func (p *DBProfile) toModel() models.Profile {
	return models.Profile{
		ID:        p.ID,
		UserID:    p.UserID,
		Username:  p.Username,
		ChatID:    p.ChatID,
		AvatarURL: p.AvatarURL,
		IsOnline:  p.IsOnline,
		LastSeen:  p.LastSeen,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		ImageURL:    m.ImageURL,
		IsPrivate:   m.IsPrivate,
		CreatedAt:   m.CreatedAt,
		ClientToken: m.ClientToken,
	}
}

func (c *DBCrumb) toModel() models.Crumb {
	return models.Crumb{
		ID:        c.ID,
		UserID:    c.UserID,
		Content:   c.Content,
		ImageURL:  c.ImageURL,
		CreatedAt: c.CreatedAt,
	}
}
