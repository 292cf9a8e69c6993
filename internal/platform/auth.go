package platform

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"crumbchat/internal/backend"
	"crumbchat/internal/content"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"
)

const (
	chatIDLength  = 4
	chatIDCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	ErrUserExists = errors.New("user already exists")
	// ErrLoginFailed deliberately does not say whether the email or the
	// password was wrong.
	ErrLoginFailed  = errors.New("login failed")
	ErrUnauthorized = errors.New("unauthorized")
)

func (p *Platform) SignUp(ctx context.Context, email, password, username string) (backend.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return backend.Session{}, fmt.Errorf("invalid email")
	}
	if len(password) < 6 {
		return backend.Session{}, fmt.Errorf("password must be at least 6 characters")
	}
	if err := content.ValidateUsername(username); err != nil {
		return backend.Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return backend.Session{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := p.now().UnixNano()
	profile := DBProfile{
		ID:        uuid.NewString(),
		UserID:    uuid.NewString(),
		Username:  username,
		AvatarURL: "",
		IsOnline:  false,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	creds := DBCredentials{
		UserID:       profile.UserID,
		Email:        email,
		PasswordHash: hash,
	}

	err = p.db.Update(func(tx *bbolt.Tx) error {
		cb := tx.Bucket(bucketCredentials)
		if cb.Get(creds.Key()) != nil {
			return ErrUserExists
		}

		chatID, err := newChatID(tx)
		if err != nil {
			return err
		}
		profile.ChatID = chatID

		credData, err := creds.MarshalBinary()
		if err != nil {
			return err
		}
		if err := cb.Put(creds.Key(), credData); err != nil {
			return err
		}

		profileData, err := profile.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketProfiles).Put(profile.Key(), profileData)
	})
	if err != nil {
		return backend.Session{}, err
	}

	p.profileBus.publish(backend.ProfileChange{Type: backend.ChangeInsert, Profile: profile.toModel()})

	return p.newSession(profile.UserID)
}

func (p *Platform) SignIn(ctx context.Context, email, password string) (backend.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var creds DBCredentials
	err := p.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(email))
		if data == nil {
			return ErrLoginFailed
		}
		return creds.UnmarshalBinary(data)
	})
	if err != nil {
		return backend.Session{}, err
	}

	if bcrypt.CompareHashAndPassword(creds.PasswordHash, []byte(password)) != nil {
		return backend.Session{}, ErrLoginFailed
	}

	return p.newSession(creds.UserID)
}

func (p *Platform) SignOut(ctx context.Context, token string) error {
	return p.sessions.Del(token)
}

// UserID resolves a bearer token to the user id it was issued for.
func (p *Platform) UserID(token string) (string, error) {
	userID, err := p.sessions.Get(token)
	if err != nil {
		return "", ErrUnauthorized
	}
	return userID, nil
}

func (p *Platform) newSession(userID string) (backend.Session, error) {
	token, err := generateToken()
	if err != nil {
		return backend.Session{}, err
	}
	p.sessions.Set(token, userID)
	return backend.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: p.now().Add(p.TokenExpiry).Unix(),
	}, nil
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// newChatID picks a short discovery token not used by any existing profile.
// Must be called inside a write transaction so the uniqueness check holds.
func newChatID(tx *bbolt.Tx) (string, error) {
	b := tx.Bucket(bucketProfiles)
	for attempt := 0; attempt < 100; attempt++ {
		id, err := randomChatID()
		if err != nil {
			return "", err
		}

		taken := false
		err = b.ForEach(func(k, v []byte) error {
			var dbProfile DBProfile
			if err := dbProfile.UnmarshalBinary(v); err != nil {
				return err
			}
			if strings.EqualFold(dbProfile.ChatID, id) {
				taken = true
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique chat id")
}

func randomChatID() (string, error) {
	buf := make([]byte, chatIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate chat id: %w", err)
	}
	out := make([]byte, chatIDLength)
	for i, c := range buf {
		out[i] = chatIDCharset[int(c)%len(chatIDCharset)]
	}
	return string(out), nil
}
