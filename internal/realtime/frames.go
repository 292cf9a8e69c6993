package realtime

import (
	"encoding/json"

	"crumbchat/internal/backend"
	"crumbchat/internal/models"
)

// Frame types sent by the client.
const (
	frameSubscribe     = "subscribe"
	framePresenceJoin  = "presence_join"
	framePresenceTrack = "presence_track"
	framePresenceLeave = "presence_leave"
)

// Frame types sent by the server.
const (
	frameChange       = "change"
	framePresenceSync = "presence_sync"
)

// Collection names for subscribe frames.
const (
	collectionProfiles = "profiles"
	collectionMessages = "messages"
	collectionCrumbs   = "crumbs"
)

// frame is the single message shape spoken in both directions. Unused
// fields are omitted on the wire.
type frame struct {
	Type       string             `json:"type"`
	Collection string             `json:"collection,omitempty"`
	Change     backend.ChangeType `json:"change,omitempty"`

	Profile *models.Profile `json:"profile,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Crumb   *models.Crumb   `json:"crumb,omitempty"`

	Channel string                     `json:"channel,omitempty"`
	Key     string                     `json:"key,omitempty"`
	Payload json.RawMessage            `json:"payload,omitempty"`
	State   map[string]json.RawMessage `json:"state,omitempty"`
}
