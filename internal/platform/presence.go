package platform

import (
	"sync"

	"crumbchat/internal/backend"
)

// PresenceHub implements ephemeral presence channels: each member is keyed
// by a caller-chosen key and carries a small opaque payload. Every join,
// track and leave broadcasts the full membership-to-payload map to all
// members. Nothing here is persisted.
type PresenceHub struct {
	mu       sync.Mutex
	channels map[string]*presenceChannel
}

type presenceChannel struct {
	members map[string][]byte
	syncs   map[int]func(state map[string][]byte)
	nextID  int
}

func NewPresenceHub() *PresenceHub {
	return &PresenceHub{channels: make(map[string]*presenceChannel)}
}

func (h *PresenceHub) Join(channel, key string, onSync func(state map[string][]byte)) (backend.PresenceHandle, error) {
	h.mu.Lock()
	ch, ok := h.channels[channel]
	if !ok {
		ch = &presenceChannel{
			members: make(map[string][]byte),
			syncs:   make(map[int]func(map[string][]byte)),
		}
		h.channels[channel] = ch
	}

	id := ch.nextID
	ch.nextID++
	if onSync != nil {
		ch.syncs[id] = onSync
	}
	ch.members[key] = nil
	h.mu.Unlock()

	h.broadcast(channel)

	return &presenceMember{hub: h, channel: channel, key: key, syncID: id}, nil
}

func (h *PresenceHub) track(channel, key string, payload []byte) {
	h.mu.Lock()
	if ch, ok := h.channels[channel]; ok {
		ch.members[key] = payload
	}
	h.mu.Unlock()

	h.broadcast(channel)
}

func (h *PresenceHub) leave(channel, key string, syncID int) {
	h.mu.Lock()
	if ch, ok := h.channels[channel]; ok {
		delete(ch.members, key)
		delete(ch.syncs, syncID)
		if len(ch.members) == 0 && len(ch.syncs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()

	h.broadcast(channel)
}

// broadcast snapshots the channel state and invokes the sync callbacks
// outside the hub lock, so a callback may call back into the hub.
func (h *PresenceHub) broadcast(channel string) {
	h.mu.Lock()
	ch, ok := h.channels[channel]
	if !ok {
		h.mu.Unlock()
		return
	}

	state := make(map[string][]byte, len(ch.members))
	for k, v := range ch.members {
		state[k] = v
	}
	syncs := make([]func(map[string][]byte), 0, len(ch.syncs))
	for _, f := range ch.syncs {
		syncs = append(syncs, f)
	}
	h.mu.Unlock()

	for _, f := range syncs {
		f(state)
	}
}

type presenceMember struct {
	hub     *PresenceHub
	channel string
	key     string
	syncID  int

	mu   sync.Mutex
	left bool
}

func (m *presenceMember) Track(payload []byte) error {
	m.mu.Lock()
	left := m.left
	m.mu.Unlock()
	if left {
		return nil
	}
	m.hub.track(m.channel, m.key, payload)
	return nil
}

func (m *presenceMember) Leave() {
	m.mu.Lock()
	if m.left {
		m.mu.Unlock()
		return
	}
	m.left = true
	m.mu.Unlock()
	m.hub.leave(m.channel, m.key, m.syncID)
}
