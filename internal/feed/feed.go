// Package feed holds the in-memory message and crumb feeds: initial load,
// incremental updates from change notifications, and the write paths.
//
// Ordering: both feeds order entries by notification arrival. Sender and
// poster summaries are resolved synchronously through the directory's
// read-through cache before an entry is added, so resolution never races
// two notifications past each other.
package feed

import (
	"errors"
)

const (
	// DefaultMessageLimit is the initial public-message load size.
	DefaultMessageLimit = 100
	// DefaultCrumbLimit is the initial crumb load size.
	DefaultCrumbLimit = 50

	// Window caps. A feed only ever grows within a session; the window
	// evicts the oldest entries once it is full.
	DefaultMessageWindow = 500
	DefaultCrumbWindow   = 200
)

// ErrEmptyPost is returned when a message or crumb has neither text
// content nor an image.
var ErrEmptyPost = errors.New("post needs text or an image")
