package filestore

import (
	"io"
)

// FileStore is an interface for storing and retrieving objects by name.
type FileStore interface {
	// Save stores the content under the given name. Saving the same name
	// twice overwrites the previous content atomically.
	Save(r io.Reader, name string) error

	// Get retrieves the content stored under the given name.
	Get(name string) (io.ReadCloser, error)
}
