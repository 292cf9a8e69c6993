// Package push sends browser Web Push notifications for private messages
// whose receiver is offline. Send failures are logged, never surfaced;
// subscriptions rejected by the push service are dropped.
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"crumbchat/internal/models"
	"crumbchat/internal/platform"

	"github.com/SherClockHolmes/webpush-go"
)

const previewLength = 80

type Config struct {
	// Subscriber is the contact address reported to the push service.
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
}

// Enabled reports whether the notifier has keys to send with.
func (c Config) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// payload is what the service worker receives.
type payload struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Sender  string `json:"sender"`
	ChatID  string `json:"chatId"`
	ImageIn bool   `json:"imageIn"`
}

type Notifier struct {
	cfg      Config
	platform *platform.Platform

	// send is swappable in tests; the default does a real webpush call.
	send func(message []byte, sub *webpush.Subscription) (*http.Response, error)

	cancel func()
	done   chan struct{}
}

// New subscribes the notifier to message inserts. It returns nil when no
// VAPID keys are configured; callers treat a nil notifier as disabled.
func New(cfg Config, p *platform.Platform) (*Notifier, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	n := &Notifier{
		cfg:      cfg,
		platform: p,
		done:     make(chan struct{}),
	}
	n.send = func(message []byte, sub *webpush.Subscription) (*http.Response, error) {
		return webpush.SendNotification(message, sub, &webpush.Options{
			Subscriber:      cfg.Subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             cfg.TTL,
		})
	}

	inserts, cancel, err := p.MessageInserts()
	if err != nil {
		return nil, err
	}
	n.cancel = cancel

	go func() {
		defer close(n.done)
		for msg := range inserts {
			n.handleMessage(msg)
		}
	}()

	return n, nil
}

func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.cancel()
	<-n.done
}

func (n *Notifier) handleMessage(msg models.Message) {
	if !msg.IsPrivate {
		return
	}

	ctx := context.Background()
	receiver, err := n.platform.Profile(ctx, msg.ReceiverID)
	if err != nil {
		slog.Warn("push: receiver profile not found", "receiver_id", msg.ReceiverID, "error", err)
		return
	}
	if receiver.IsOnline {
		return
	}

	sender, err := n.platform.Profile(ctx, msg.SenderID)
	if err != nil {
		slog.Warn("push: sender profile not found", "sender_id", msg.SenderID, "error", err)
		return
	}

	body := msg.Content
	if runes := []rune(body); len(runes) > previewLength {
		body = string(runes[:previewLength])
	}
	data, err := json.Marshal(payload{
		Title:   sender.Username + " sent you a message",
		Body:    body,
		Sender:  sender.Username,
		ChatID:  sender.ChatID,
		ImageIn: msg.ImageURL != "",
	})
	if err != nil {
		return
	}

	subs, err := n.platform.PushSubscriptions(ctx, msg.ReceiverID)
	if err != nil {
		slog.Warn("push: failed to list subscriptions", "receiver_id", msg.ReceiverID, "error", err)
		return
	}

	for _, sub := range subs {
		resp, err := n.send(data, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		})
		if err != nil {
			slog.Warn("push: send failed", "endpoint", sub.Endpoint, "error", err)
			continue
		}
		if resp != nil {
			_ = resp.Body.Close()
			// The push service no longer knows this subscription.
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
				if err := n.platform.DeletePushSubscription(ctx, msg.ReceiverID, sub.Endpoint); err != nil {
					slog.Warn("push: failed to drop dead subscription", "endpoint", sub.Endpoint, "error", err)
				}
			}
		}
	}
}
