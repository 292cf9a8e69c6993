package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"crumbchat/internal/backend"
	"crumbchat/internal/models"

	"github.com/gorilla/websocket"
)

const subBuffer = 100

var ErrClosed = errors.New("realtime connection closed")

// Client speaks the realtime frame protocol over one websocket connection
// and implements the backend subscription and presence surfaces remotely.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	subscribed  map[string]bool
	nextID      int
	profileSubs map[int]chan backend.ProfileChange
	messageSubs map[int]chan models.Message
	crumbSubs   map[int]chan models.Crumb
	presence    map[string]*clientPresence

	done chan struct{}
}

// Dial connects and authenticates with a bearer token.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	header.Set("token", token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime endpoint: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		conn:        conn,
		subscribed:  make(map[string]bool),
		profileSubs: make(map[int]chan backend.ProfileChange),
		messageSubs: make(map[int]chan models.Message),
		crumbSubs:   make(map[int]chan models.Crumb),
		presence:    make(map[string]*clientPresence),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var msg frame
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.shutdown()
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case frameChange:
		switch msg.Collection {
		case collectionProfiles:
			if msg.Profile == nil {
				return
			}
			change := backend.ProfileChange{Type: msg.Change, Profile: *msg.Profile}
			for _, ch := range c.profileSubs {
				select {
				case ch <- change:
				default:
				}
			}
		case collectionMessages:
			if msg.Message == nil {
				return
			}
			for _, ch := range c.messageSubs {
				select {
				case ch <- *msg.Message:
				default:
				}
			}
		case collectionCrumbs:
			if msg.Crumb == nil {
				return
			}
			for _, ch := range c.crumbSubs {
				select {
				case ch <- *msg.Crumb:
				default:
				}
			}
		}
	case framePresenceSync:
		p, ok := c.presence[msg.Channel]
		if !ok || p.onSync == nil {
			return
		}
		state := make(map[string][]byte, len(msg.State))
		for k, v := range msg.State {
			state[k] = v
		}
		c.mu.Unlock()
		// Deliver outside the client lock so the callback may use the
		// client; syncs stay in arrival order because dispatch runs on
		// the single read loop.
		p.onSync(state)
		c.mu.Lock()
	}
}

func (c *Client) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

// ensureSubscribed sends the subscribe frame the first time a collection
// is requested. The server keeps one platform subscription per collection
// per connection.
func (c *Client) ensureSubscribed(collection string) error {
	if c.closed {
		return ErrClosed
	}
	if c.subscribed[collection] {
		return nil
	}
	if err := c.writeFrame(frame{Type: frameSubscribe, Collection: collection}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", collection, err)
	}
	c.subscribed[collection] = true
	return nil
}

func (c *Client) ProfileChanges() (<-chan backend.ProfileChange, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureSubscribed(collectionProfiles); err != nil {
		return nil, nil, err
	}

	id := c.nextID
	c.nextID++
	ch := make(chan backend.ProfileChange, subBuffer)
	c.profileSubs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ch, ok := c.profileSubs[id]; ok {
			delete(c.profileSubs, id)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (c *Client) MessageInserts() (<-chan models.Message, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureSubscribed(collectionMessages); err != nil {
		return nil, nil, err
	}

	id := c.nextID
	c.nextID++
	ch := make(chan models.Message, subBuffer)
	c.messageSubs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ch, ok := c.messageSubs[id]; ok {
			delete(c.messageSubs, id)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (c *Client) CrumbInserts() (<-chan models.Crumb, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureSubscribed(collectionCrumbs); err != nil {
		return nil, nil, err
	}

	id := c.nextID
	c.nextID++
	ch := make(chan models.Crumb, subBuffer)
	c.crumbSubs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ch, ok := c.crumbSubs[id]; ok {
			delete(c.crumbSubs, id)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Join joins a presence channel. One membership per channel per
// connection.
func (c *Client) Join(channel, key string, onSync func(state map[string][]byte)) (backend.PresenceHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if _, ok := c.presence[channel]; ok {
		return nil, fmt.Errorf("already joined channel %s", channel)
	}

	if err := c.writeFrame(frame{Type: framePresenceJoin, Channel: channel, Key: key}); err != nil {
		return nil, fmt.Errorf("failed to join channel %s: %w", channel, err)
	}

	p := &clientPresence{client: c, channel: channel, onSync: onSync}
	c.presence[channel] = p
	return p, nil
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.profileSubs {
		delete(c.profileSubs, id)
		close(ch)
	}
	for id, ch := range c.messageSubs {
		delete(c.messageSubs, id)
		close(ch)
	}
	for id, ch := range c.crumbSubs {
		delete(c.crumbSubs, id)
		close(ch)
	}
	c.presence = make(map[string]*clientPresence)
}

// Close tears the connection down. Subscriber channels are closed.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

type clientPresence struct {
	client  *Client
	channel string
	onSync  func(state map[string][]byte)

	mu   sync.Mutex
	left bool
}

func (p *clientPresence) Track(payload []byte) error {
	p.mu.Lock()
	left := p.left
	p.mu.Unlock()
	if left {
		return nil
	}
	return p.client.writeFrame(frame{
		Type:    framePresenceTrack,
		Channel: p.channel,
		Payload: payload,
	})
}

func (p *clientPresence) Leave() {
	p.mu.Lock()
	if p.left {
		p.mu.Unlock()
		return
	}
	p.left = true
	p.mu.Unlock()

	p.client.mu.Lock()
	delete(p.client.presence, p.channel)
	closed := p.client.closed
	p.client.mu.Unlock()

	if !closed {
		_ = p.client.writeFrame(frame{Type: framePresenceLeave, Channel: p.channel})
	}
}
