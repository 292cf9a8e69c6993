// Package upload validates and stores chat images. Validation happens
// before any backend call: the content type is sniffed from the bytes, not
// taken from the caller, and the size is capped.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crumbchat/internal/backend"

	"github.com/h2non/filetype"
)

// MaxImageSize is the largest accepted upload.
const MaxImageSize = 5 << 20 // 5 MiB

var (
	ErrNotImage = errors.New("file is not an image")
	ErrTooLarge = errors.New("image must be less than 5 MiB")
)

type Uploader struct {
	objects backend.Objects
	userID  string
	now     func() time.Time
}

func New(objects backend.Objects, userID string) *Uploader {
	return &Uploader{
		objects: objects,
		userID:  userID,
		now:     time.Now,
	}
}

// UploadImage validates the data, stores it under the uploading user's
// prefix and returns the public URL.
func (u *Uploader) UploadImage(ctx context.Context, data []byte) (string, error) {
	if len(data) > MaxImageSize {
		return "", ErrTooLarge
	}

	kind, err := filetype.Match(data)
	if err != nil || !filetype.IsImage(data) {
		return "", ErrNotImage
	}

	path := fmt.Sprintf("%s/%d.%s", u.userID, u.now().UnixNano(), kind.Extension)
	if err := u.objects.Upload(ctx, path, kind.MIME.Value, data); err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return u.objects.PublicURL(path), nil
}
