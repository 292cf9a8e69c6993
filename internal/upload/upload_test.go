package upload

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

// 1x1 transparent PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
	0x89, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9C, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
	0x42, 0x60, 0x82,
}

type fakeObjects struct {
	path        string
	contentType string
	data        []byte
	uploadErr   error
}

func (f *fakeObjects) Upload(ctx context.Context, path, contentType string, data []byte) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.path = path
	f.contentType = contentType
	f.data = data
	return nil
}

func (f *fakeObjects) PublicURL(path string) string {
	return "http://localhost/objects/" + path
}

func TestUploadImage(t *testing.T) {
	objects := &fakeObjects{}
	u := New(objects, "u1")

	url, err := u.UploadImage(context.Background(), pngBytes)
	if err != nil {
		t.Fatalf("UploadImage failed: %v", err)
	}

	if !strings.HasPrefix(objects.path, "u1/") {
		t.Errorf("object not stored under the user prefix: %s", objects.path)
	}
	if !strings.HasSuffix(objects.path, ".png") {
		t.Errorf("extension not derived from content: %s", objects.path)
	}
	if objects.contentType != "image/png" {
		t.Errorf("content type not sniffed from bytes: %s", objects.contentType)
	}
	if !bytes.Equal(objects.data, pngBytes) {
		t.Error("stored data does not match input")
	}
	if url != "http://localhost/objects/"+objects.path {
		t.Errorf("unexpected url: %s", url)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	u := New(&fakeObjects{}, "u1")

	for name, data := range map[string][]byte{
		"Text":  []byte("just some text"),
		"Empty": nil,
		"PDF":   []byte("%PDF-1.4 not an image"),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := u.UploadImage(context.Background(), data); !errors.Is(err, ErrNotImage) {
				t.Errorf("expected ErrNotImage, got %v", err)
			}
		})
	}
}

func TestUploadRejectsOversize(t *testing.T) {
	u := New(&fakeObjects{}, "u1")

	big := make([]byte, MaxImageSize+1)
	copy(big, pngBytes)
	if _, err := u.UploadImage(context.Background(), big); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestUploadBackendError(t *testing.T) {
	objects := &fakeObjects{uploadErr: errors.New("disk full")}
	u := New(objects, "u1")

	if _, err := u.UploadImage(context.Background(), pngBytes); err == nil {
		t.Error("expected error from failed upload")
	}
}
