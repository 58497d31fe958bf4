// Package notify delivers change notifications to configured channels.
// Channel credentials are stored encrypted and decrypted per send.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vigilio/vigil/internal/store"
)

// ErrUnknownChannelType is returned for channel types without a sender.
var ErrUnknownChannelType = errors.New("notify: unknown channel type")

const discordMaxChars = 2000

// Message is one rendered notification.
type Message struct {
	MonitorID   string   `json:"monitor_id"`
	MonitorName string   `json:"monitor_name"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Link        string   `json:"link,omitempty"`
	ChangeIDs   []string `json:"change_ids,omitempty"`
	SentAt      int64    `json:"sent_at"`
}

// Notifier sends messages to channels by type.
type Notifier struct {
	box    *SecretBox
	client *http.Client
	logger *slog.Logger
}

// New builds a Notifier. box decrypts channel configs at send time.
func New(box *SecretBox, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		box:    box,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// EncryptConfig seals a channel config for storage.
func (n *Notifier) EncryptConfig(plain []byte) ([]byte, error) {
	return n.box.Encrypt(plain)
}

// Send delivers msg to ch. Errors are per-channel; the caller decides
// whether one failed channel fails the whole operation.
func (n *Notifier) Send(ctx context.Context, ch *store.Channel, msg *Message) error {
	cfg, err := n.box.Decrypt(ch.ConfigEnc)
	if err != nil {
		return fmt.Errorf("notify: channel %s: %w", ch.ID, err)
	}
	switch ch.Type {
	case store.ChannelWebhook:
		return n.sendWebhook(ctx, cfg, msg)
	case store.ChannelDiscord:
		return n.sendDiscord(ctx, cfg, msg)
	case store.ChannelTelegram:
		return n.sendTelegram(ctx, cfg, msg)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownChannelType, ch.Type)
	}
}

type webhookConfig struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// sendWebhook POSTs the message as JSON. When a secret is configured the
// payload is signed with HMAC-SHA256 in X-Signature-256, GitHub style.
func (n *Notifier) sendWebhook(ctx context.Context, rawCfg []byte, msg *Message) error {
	var cfg webhookConfig
	if err := json.Unmarshal(rawCfg, &cfg); err != nil {
		return fmt.Errorf("notify: webhook config: %w", err)
	}
	if cfg.URL == "" {
		return errors.New("notify: webhook url is required")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	return n.do(req, "webhook")
}

type discordConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func (n *Notifier) sendDiscord(ctx context.Context, rawCfg []byte, msg *Message) error {
	var cfg discordConfig
	if err := json.Unmarshal(rawCfg, &cfg); err != nil {
		return fmt.Errorf("notify: discord config: %w", err)
	}
	if cfg.WebhookURL == "" {
		return errors.New("notify: discord webhook_url is required")
	}
	content := renderText(msg)
	if len(content) > discordMaxChars {
		content = content[:discordMaxChars-1] + "…"
	}
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, "discord")
}

type telegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

func (n *Notifier) sendTelegram(ctx context.Context, rawCfg []byte, msg *Message) error {
	var cfg telegramConfig
	if err := json.Unmarshal(rawCfg, &cfg); err != nil {
		return fmt.Errorf("notify: telegram config: %w", err)
	}
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return errors.New("notify: telegram bot_token and chat_id are required")
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":    cfg.ChatID,
		"text":       renderText(msg),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	endpoint := "https://api.telegram.org/bot" + cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, "telegram")
}

func (n *Notifier) do(req *http.Request, platform string) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %s: %w", platform, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: %s returned %d", platform, resp.StatusCode)
	}
	return nil
}

func renderText(msg *Message) string {
	var b strings.Builder
	b.WriteString("**")
	b.WriteString(msg.MonitorName)
	b.WriteString("**: ")
	b.WriteString(msg.Title)
	if msg.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.Body)
	}
	if msg.Link != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.Link)
	}
	return b.String()
}
