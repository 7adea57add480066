package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/brainwire/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

const (
	SignatureHeader = "X-Webhook-Hmac"
	maxWebhookBody  = 4 << 20

	eventMessage       = "message"
	eventMessageAny    = "message.any"
	eventSessionStatus = "session.status"
)

// Hub routes gateway webhooks to the adapter of the named session.
type Hub struct {
	secret string

	mu       sync.RWMutex
	adapters map[string]*Adapter
}

func NewHub(secret string) *Hub {
	return &Hub{secret: secret, adapters: make(map[string]*Adapter)}
}

func (h *Hub) Register(a *Adapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapters[a.Session()] = a
}

func (h *Hub) adapter(session string) (*Adapter, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.adapters[session]
	return a, ok
}

// Handler serves POST /webhook. Unknown events and sessions are acknowledged and
// ignored so the gateway does not retry them.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}
		if h.secret != "" && !verifySignature(h.secret, body, c.GetHeader(SignatureHeader)) {
			slog.Warn("rejecting webhook with bad signature", "remote_addr", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		if !gjson.ValidBytes(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		env := gjson.ParseBytes(body)
		event := env.Get("event").String()
		session := env.Get("session").String()
		if event == "" || session == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event and session are required"})
			return
		}

		a, ok := h.adapter(session)
		if !ok {
			slog.Warn("ignoring webhook for unknown session", "account", session, "event", event)
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		ev, ok := decodeEvent(env)
		if !ok {
			slog.Debug("ignoring webhook event", "account", session, "event", event, "webhook_id", env.Get("id").String())
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		if !a.deliver(ev) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine is busy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	}
}

func decodeEvent(env gjson.Result) (transport.Event, bool) {
	ev := transport.Event{At: eventTime(env.Get("timestamp").Int())}
	payload := env.Get("payload")
	switch env.Get("event").String() {
	case eventMessage, eventMessageAny:
		m, ok := parseMessage(payload)
		if !ok || m.ChatID == "" {
			return transport.Event{}, false
		}
		ev.Kind = transport.EventMessage
		ev.Message = &m
	case eventSessionStatus:
		status := payload.Get("status").String()
		if status == "" {
			return transport.Event{}, false
		}
		ev.Kind = transport.EventStatus
		ev.Status = parseStatus(status)
	default:
		return transport.Event{}, false
	}
	return ev, true
}

// eventTime accepts unix seconds or milliseconds.
func eventTime(ts int64) time.Time {
	switch {
	case ts <= 0:
		return time.Time{}
	case ts > 1e12:
		return time.UnixMilli(ts)
	default:
		return time.Unix(ts, 0)
	}
}

func verifySignature(secret string, body []byte, header string) bool {
	got := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if got == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(expected))
}
