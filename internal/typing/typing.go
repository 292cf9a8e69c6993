// Package typing implements the ephemeral composing indicator shared over
// a presence channel. Nothing here is persisted; the typing set lives only
// as long as the channel membership.
package typing

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"crumbchat/internal/backend"
	"crumbchat/internal/models"
)

// AutoStopDelay is how long a typing signal stays live without renewal
// before the local side publishes not-typing.
const AutoStopDelay = 3 * time.Second

// PublicChat is the conversation id of the public room.
const PublicChat = "public"

// State is the payload tracked on the presence channel.
type State struct {
	IsTyping bool   `json:"isTyping"`
	Username string `json:"username"`
}

// ChannelName derives the presence channel for a conversation. Both
// parties of a private chat sort the pair, so either one opens the same
// channel regardless of who initiates.
func ChannelName(chatID, selfID string) string {
	if chatID == PublicChat {
		return "typing:public"
	}
	a, b := selfID, chatID
	if b < a {
		a, b = b, a
	}
	return "typing:" + a + "-" + b
}

type stopper interface {
	Stop() bool
}

// Tracker is the per-conversation typing state: the local side publishes
// start/stop with a 3 second auto-stop, the remote side is aggregated from
// presence sync events with self excluded.
type Tracker struct {
	selfID   string
	username string
	handle   backend.PresenceHandle

	mu    sync.Mutex
	peers []models.TypingPeer
	timer stopper

	delay     time.Duration
	afterFunc func(d time.Duration, f func()) stopper
}

// New joins the conversation's presence channel. A failed join is not an
// error to the caller: the tracker simply reports an empty typing set.
func New(presence backend.Presence, chatID, selfID, username string) *Tracker {
	t := &Tracker{
		selfID:   selfID,
		username: username,
		delay:    AutoStopDelay,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}

	handle, err := presence.Join(ChannelName(chatID, selfID), selfID, t.onSync)
	if err != nil {
		slog.Warn("typing channel join failed", "chat_id", chatID, "error", err)
		return t
	}
	t.handle = handle
	return t
}

func (t *Tracker) onSync(state map[string][]byte) {
	var peers []models.TypingPeer
	for key, payload := range state {
		if key == t.selfID || len(payload) == 0 {
			continue
		}
		var s State
		if err := json.Unmarshal(payload, &s); err != nil {
			continue
		}
		if s.IsTyping {
			peers = append(peers, models.TypingPeer{UserID: key, Username: s.Username})
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Username < peers[j].Username })

	t.mu.Lock()
	t.peers = peers
	t.mu.Unlock()
}

// Start publishes a typing signal and arms the auto-stop timer. Calling it
// again rearms the timer.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.afterFunc(t.delay, func() {
		t.publish(false)
	})
	t.mu.Unlock()

	t.publish(true)
}

// Stop publishes a not-typing signal and clears the auto-stop timer.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.publish(false)
}

func (t *Tracker) publish(isTyping bool) {
	if t.handle == nil {
		return
	}
	payload, err := json.Marshal(State{IsTyping: isTyping, Username: t.username})
	if err != nil {
		return
	}
	if err := t.handle.Track(payload); err != nil {
		slog.Warn("failed to track typing state", "error", err)
	}
}

// Peers returns the remote participants currently typing, self excluded,
// ordered by username.
func (t *Tracker) Peers() []models.TypingPeer {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.TypingPeer, len(t.peers))
	copy(out, t.peers)
	return out
}

// Indicator returns the aggregate text for the current typing set.
func (t *Tracker) Indicator() string {
	return IndicatorText(t.Peers())
}

// IndicatorText renders the typing set for display: nothing for an empty
// set, names for one or two typers, a count beyond that.
func IndicatorText(peers []models.TypingPeer) string {
	switch len(peers) {
	case 0:
		return ""
	case 1:
		return peers[0].Username + " is typing"
	case 2:
		return peers[0].Username + " and " + peers[1].Username + " are typing"
	default:
		return fmt.Sprintf("%d people are typing", len(peers))
	}
}

// Close leaves the channel. The local member disappearing from the
// presence state is the remote side's stop signal.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if t.handle != nil {
		t.handle.Leave()
	}
}
