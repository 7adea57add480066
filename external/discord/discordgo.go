package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/brainwire/internal/alert"
)

const (
	maxMessageLength = 2000
	repeatWindow     = 10 * time.Minute
)

// Client posts operator alerts to one Discord text channel over the REST API.
type Client struct {
	session   *discordgo.Session
	channelID string

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewClient(token, channelID string) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return newClient(s, channelID), nil
}

func newClient(s *discordgo.Session, channelID string) *Client {
	return &Client{
		session:   s,
		channelID: channelID,
		last:      make(map[string]time.Time),
		now:       time.Now,
	}
}

// Check verifies the alert channel is reachable with the configured token.
func (c *Client) Check(ctx context.Context) error {
	ch, err := c.session.Channel(c.channelID, discordgo.WithContext(ctx))
	if err != nil {
		if isRESTNotFound(err) {
			return fmt.Errorf("discord alert channel %s not found", c.channelID)
		}
		return fmt.Errorf("failed to resolve discord alert channel: %w", err)
	}
	slog.Info("discord alert channel resolved", "channel_id", ch.ID, "channel_name", ch.Name)
	return nil
}

// Alert sends a. Identical alerts for the same account within ten minutes are
// suppressed.
func (c *Client) Alert(ctx context.Context, a alert.Alert) error {
	key := a.Account + "\x00" + a.Title
	now := c.now()
	c.mu.Lock()
	if at, ok := c.last[key]; ok && now.Sub(at) < repeatWindow {
		c.mu.Unlock()
		slog.Debug("suppressing repeated alert", "account", a.Account, "title", a.Title)
		return nil
	}
	c.last[key] = now
	c.mu.Unlock()

	_, err := c.session.ChannelMessageSend(c.channelID, formatAlert(a), discordgo.WithContext(ctx))
	if err != nil {
		c.mu.Lock()
		delete(c.last, key)
		c.mu.Unlock()
		return fmt.Errorf("failed to send discord alert: %w", err)
	}
	return nil
}

func formatAlert(a alert.Alert) string {
	icon := "⚠️"
	if a.Severity == alert.SeverityCritical {
		icon = "🚨"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s** `%s`", icon, a.Title, a.Account)
	if a.Detail != "" {
		b.WriteString("\n")
		b.WriteString(a.Detail)
	}
	if !a.At.IsZero() {
		fmt.Fprintf(&b, "\n<t:%d:f>", a.At.Unix())
	}
	out := b.String()
	if len([]rune(out)) > maxMessageLength {
		out = string([]rune(out)[:maxMessageLength-1]) + "…"
	}
	return out
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}
