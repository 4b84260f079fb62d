package delivery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/medrex/healthon/pkg/config"
	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/logger"
)

// MessageSender sends one push message. *messaging.Client implements it.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// NewMessagingClient initialises the Firebase app and returns its Messaging client
func NewMessagingClient(ctx context.Context, cfg config.FirebaseConfig) (*messaging.Client, error) {
	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbConfig, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return client, nil
}

// TokenRegistry holds the push token of the current device or browser in
// process memory
type TokenRegistry struct {
	mu    sync.RWMutex
	token string
}

// NewTokenRegistry creates a registry seeded with token, which may be empty
func NewTokenRegistry(token string) *TokenRegistry {
	return &TokenRegistry{token: strings.TrimSpace(token)}
}

// SetToken replaces the registered token
func (r *TokenRegistry) SetToken(ctx context.Context, token string) error {
	r.mu.Lock()
	r.token = strings.TrimSpace(token)
	r.mu.Unlock()
	return nil
}

// Token returns the registered token, or empty when none is registered
func (r *TokenRegistry) Token() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

// PushTarget selects the platform-specific part of a push message
type PushTarget int

const (
	// PushDevice targets a native app through the OS notification tray
	PushDevice PushTarget = iota
	// PushBrowser targets a browser service worker through web push
	PushBrowser
)

// PushSurface delivers notifications through Firebase Cloud Messaging to the
// registered token. For a browser it is the background display surface; for a
// native app it is what a fired reminder task is handed to.
type PushSurface struct {
	sender MessageSender
	tokens interfaces.DeviceTokenRegistry
	target PushTarget
	icon   string
	logger *logger.Logger
}

// NewPushSurface creates a push surface. icon is the default notification icon.
func NewPushSurface(sender MessageSender, tokens interfaces.DeviceTokenRegistry, target PushTarget, icon string, log *logger.Logger) *PushSurface {
	return &PushSurface{
		sender: sender,
		tokens: tokens,
		target: target,
		icon:   icon,
		logger: log,
	}
}

// Available reports whether a sender and a token are present
func (p *PushSurface) Available() bool {
	return p.sender != nil && p.tokens != nil && p.tokens.Token() != ""
}

// Show sends msg to the registered token
func (p *PushSurface) Show(ctx context.Context, msg interfaces.DisplayMessage) error {
	token := p.tokens.Token()
	if token == "" {
		return fmt.Errorf("no push token registered")
	}

	response, err := p.sender.Send(ctx, p.message(token, msg))
	if err != nil {
		return fmt.Errorf("failed to send push message: %w", err)
	}

	p.logger.WithComponent("push").
		WithField("notification_id", msg.ID).
		WithField("message_id", response).
		Debug("Push message sent")
	return nil
}

func (p *PushSurface) message(token string, msg interfaces.DisplayMessage) *messaging.Message {
	icon := msg.Extras.Icon
	if icon == "" {
		icon = p.icon
	}

	data := map[string]string{
		"notificationId": strconv.FormatUint(uint64(msg.ID), 10),
		"title":          msg.Title,
		"body":           msg.Body,
	}
	if msg.Extras.URL != "" {
		data["url"] = msg.Extras.URL
	}

	m := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: data,
	}

	switch p.target {
	case PushBrowser:
		m.Webpush = &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title:   msg.Title,
				Body:    msg.Body,
				Icon:    icon,
				Vibrate: msg.Extras.Vibrate,
			},
		}
		if msg.Extras.URL != "" {
			m.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: msg.Extras.URL}
		}
	default:
		m.Android = &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "reminders",
				Sound:     "default",
				Icon:      icon,
			},
		}
		m.APNS = &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		}
	}
	return m
}
