package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"crumbchat/internal/backend"
	"crumbchat/internal/platform"

	"github.com/gorilla/websocket"
)

// Server exposes the platform's change feeds and presence channels over a
// websocket endpoint.
type Server struct {
	platform *platform.Platform
	upgrader *websocket.Upgrader
}

func NewServer(p *platform.Platform) *Server {
	return &Server{
		platform: p,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		// Browser websocket clients cannot set headers.
		token = r.URL.Query().Get("token")
	}
	userID, err := s.platform.UserID(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}

	conn := newServerConn(s.platform, ws, userID)
	if err := conn.handle(r.Context()); err != nil {
		slog.Debug("realtime connection closed", "user_id", userID, "error", err)
	}
}

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// serverConn is one realtime connection: a read pump feeding the main
// loop, which also drains outbound frames produced by subscriptions and
// presence syncs.
type serverConn struct {
	platform *platform.Platform
	ws       wsConnection
	userID   string

	fromClient chan frame
	out        chan frame

	cancels  []func()
	presence map[string]backend.PresenceHandle
}

func newServerConn(p *platform.Platform, ws wsConnection, userID string) *serverConn {
	return &serverConn{
		platform:   p,
		ws:         ws,
		userID:     userID,
		fromClient: make(chan frame),
		out:        make(chan frame, 100),
		presence:   make(map[string]backend.PresenceHandle),
	}
}

func (c *serverConn) handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.teardown()

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.pumpMessages(ctx)
	}()

	for {
		select {
		case msg := <-c.fromClient:
			c.processClientFrame(msg)
		case f := <-c.out:
			if err := c.ws.WriteJSON(f); err != nil {
				// Cancel first: the read pump may be blocked handing a
				// frame to fromClient, not sitting in ReadJSON.
				cancel()
				c.ws.Close()
				<-readErr
				return err
			}
		case err := <-readErr:
			c.ws.Close()
			return err
		case <-ctx.Done():
			c.ws.Close()
			<-readErr
			return nil
		}
	}
}

func (c *serverConn) pumpMessages(ctx context.Context) error {
	for {
		var msg frame
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *serverConn) teardown() {
	for _, cancel := range c.cancels {
		cancel()
	}
	for _, h := range c.presence {
		h.Leave()
	}
}

// send queues an outbound frame, dropping it if the connection is not
// draining fast enough.
func (c *serverConn) send(f frame) {
	select {
	case c.out <- f:
	default:
	}
}

func (c *serverConn) processClientFrame(msg frame) {
	switch msg.Type {
	case frameSubscribe:
		c.subscribe(msg.Collection)
	case framePresenceJoin:
		c.presenceJoin(msg.Channel, msg.Key)
	case framePresenceTrack:
		if h, ok := c.presence[msg.Channel]; ok {
			if err := h.Track(msg.Payload); err != nil {
				slog.Warn("presence track failed", "channel", msg.Channel, "error", err)
			}
		}
	case framePresenceLeave:
		if h, ok := c.presence[msg.Channel]; ok {
			h.Leave()
			delete(c.presence, msg.Channel)
		}
	}
}

func (c *serverConn) subscribe(collection string) {
	switch collection {
	case collectionProfiles:
		ch, cancel, _ := c.platform.ProfileChanges()
		c.cancels = append(c.cancels, cancel)
		go func() {
			for change := range ch {
				p := change.Profile
				c.send(frame{
					Type:       frameChange,
					Collection: collectionProfiles,
					Change:     change.Type,
					Profile:    &p,
				})
			}
		}()
	case collectionMessages:
		ch, cancel, _ := c.platform.MessageInserts()
		c.cancels = append(c.cancels, cancel)
		go func() {
			for m := range ch {
				m := m
				c.send(frame{
					Type:       frameChange,
					Collection: collectionMessages,
					Change:     backend.ChangeInsert,
					Message:    &m,
				})
			}
		}()
	case collectionCrumbs:
		ch, cancel, _ := c.platform.CrumbInserts()
		c.cancels = append(c.cancels, cancel)
		go func() {
			for cr := range ch {
				cr := cr
				c.send(frame{
					Type:       frameChange,
					Collection: collectionCrumbs,
					Change:     backend.ChangeInsert,
					Crumb:      &cr,
				})
			}
		}()
	}
}

func (c *serverConn) presenceJoin(channel, key string) {
	if _, ok := c.presence[channel]; ok {
		return
	}
	handle, err := c.platform.Presence().Join(channel, key, func(state map[string][]byte) {
		wireState := make(map[string]json.RawMessage, len(state))
		for k, v := range state {
			wireState[k] = v
		}
		c.send(frame{
			Type:    framePresenceSync,
			Channel: channel,
			State:   wireState,
		})
	})
	if err != nil {
		slog.Warn("presence join failed", "channel", channel, "error", err)
		return
	}
	c.presence[channel] = handle
}
