package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/foxseedlab/brainwire/internal/transport"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const (
	Name = "gateway"

	apiKeyHeader    = "X-Api-Key"
	eventBuffer     = 256
	chatListLimit   = 500
	errorBodyLimit  = 512
	defaultTimeout  = 30 * time.Second
	maxMediaBytes   = 32 << 20
	presenceOnline  = "online"
	qrFormatRaw     = "raw"
	startConflictOK = http.StatusUnprocessableEntity
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Adapter drives one session of an HTTP WhatsApp gateway. Events arrive through
// the Hub's webhook handler.
type Adapter struct {
	session string
	base    *url.URL
	client  *resty.Client
	events  chan transport.Event
}

var errForeignMediaURL = errors.New("media url does not point at the gateway")

func NewAdapter(session string, cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader(apiKeyHeader, cfg.APIKey)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		slog.Warn("unparseable gateway base url", "base_url", cfg.BaseURL, "error", err)
		base = &url.URL{}
	}
	return &Adapter{
		session: session,
		base:    base,
		client:  client,
		events:  make(chan transport.Event, eventBuffer),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Session() string { return a.session }

// PushesStatus is false: webhook delivery is best effort, so the engine also
// polls.
func (a *Adapter) PushesStatus() bool { return false }

func (a *Adapter) Events() <-chan transport.Event { return a.events }

// deliver hands a webhook event to the engine without blocking the handler.
func (a *Adapter) deliver(ev transport.Event) bool {
	ev.Account = a.session
	select {
	case a.events <- ev:
		return true
	default:
		slog.Warn("dropping gateway event; engine is behind", "account", a.session, "kind", ev.Kind)
		return false
	}
}

func (a *Adapter) sessionPath(suffix string) string {
	return "/api/sessions/" + url.PathEscape(a.session) + suffix
}

func (a *Adapter) scopedPath(suffix string) string {
	return "/api/" + url.PathEscape(a.session) + suffix
}

func (a *Adapter) call(ctx context.Context, op, method, path string, body any, query map[string]string) ([]byte, error) {
	req := a.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return nil, &transport.HTTPError{Op: op, StatusCode: resp.StatusCode(), Body: truncate(resp.String(), errorBodyLimit)}
	}
	return resp.Body(), nil
}

// Start starts the gateway session, creating it on first use. An already
// running session is not an error.
func (a *Adapter) Start(ctx context.Context) error {
	_, err := a.call(ctx, "start session", http.MethodPost, a.sessionPath("/start"), nil, nil)
	var httpErr *transport.HTTPError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &httpErr) && httpErr.StatusCode == startConflictOK:
		return nil
	case errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound:
		_, err = a.call(ctx, "create session", http.MethodPost, "/api/sessions", map[string]any{"name": a.session, "start": true}, nil)
		return err
	default:
		return err
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	_, err := a.call(ctx, "stop session", http.MethodPost, a.sessionPath("/stop"), nil, nil)
	return err
}

func (a *Adapter) Restart(ctx context.Context) error {
	_, err := a.call(ctx, "restart session", http.MethodPost, a.sessionPath("/restart"), nil, nil)
	return err
}

func (a *Adapter) Logout(ctx context.Context) error {
	_, err := a.call(ctx, "logout session", http.MethodPost, a.sessionPath("/logout"), nil, nil)
	return err
}

func (a *Adapter) Status(ctx context.Context) (transport.RemoteStatus, error) {
	body, err := a.call(ctx, "session status", http.MethodGet, a.sessionPath(""), nil, nil)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("session status: invalid json")
	}
	status := gjson.GetBytes(body, "status").String()
	if status == "" {
		return "", fmt.Errorf("session status: missing status field")
	}
	return parseStatus(status), nil
}

func (a *Adapter) QR(ctx context.Context) (transport.QR, error) {
	body, err := a.call(ctx, "get qr", http.MethodGet, a.scopedPath("/auth/qr"), nil, map[string]string{"format": qrFormatRaw})
	if err != nil {
		return transport.QR{}, err
	}
	value := firstString(gjson.ParseBytes(body), "value", "qr", "code")
	if value == "" {
		return transport.QR{}, transport.ErrNoQR
	}
	return transport.QR{Code: value}, nil
}

func (a *Adapter) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	body, err := a.call(ctx, "request pairing code", http.MethodPost, a.scopedPath("/auth/request-code"), map[string]string{"phoneNumber": phone}, nil)
	if err != nil {
		return "", err
	}
	code := firstString(gjson.ParseBytes(body), "code", "pairingCode")
	if code == "" {
		return "", fmt.Errorf("request pairing code: empty code")
	}
	return code, nil
}

func (a *Adapter) Chats(ctx context.Context) ([]transport.RawChat, error) {
	body, err := a.call(ctx, "list chats", http.MethodGet, a.scopedPath("/chats"), nil, map[string]string{"limit": strconv.Itoa(chatListLimit)})
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("list chats: expected an array")
	}
	var out []transport.RawChat
	for _, r := range root.Array() {
		if c, ok := parseChat(r); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (a *Adapter) Messages(ctx context.Context, chatID string, limit int) ([]transport.RawMessage, error) {
	query := map[string]string{"downloadMedia": "false"}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	body, err := a.call(ctx, "list messages", http.MethodGet, a.scopedPath("/chats/"+url.PathEscape(gatewayChatID(chatID))+"/messages"), nil, query)
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("list messages: expected an array")
	}
	var out []transport.RawMessage
	for _, r := range root.Array() {
		m, ok := parseMessage(r)
		if !ok {
			continue
		}
		if m.ChatID == "" {
			m.ChatID = chatID
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *Adapter) Send(ctx context.Context, msg transport.OutgoingMessage) (string, error) {
	body, err := a.call(ctx, "send text", http.MethodPost, "/api/sendText", map[string]string{
		"session": a.session,
		"chatId":  gatewayChatID(msg.ChatID),
		"text":    msg.Text,
	}, nil)
	if err != nil {
		return "", err
	}
	return serializedID(gjson.ParseBytes(body).Get("id")), nil
}

func (a *Adapter) DownloadMedia(ctx context.Context, ref *transport.MediaRef) ([]byte, error) {
	if ref == nil || ref.URL == "" {
		return nil, transport.ErrUnsupported
	}
	path, err := a.mediaPath(ref.URL)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	if resp.IsError() {
		return nil, &transport.HTTPError{Op: "download media", StatusCode: resp.StatusCode()}
	}
	if len(resp.Body()) > maxMediaBytes {
		return nil, fmt.Errorf("download media: %d bytes exceeds limit", len(resp.Body()))
	}
	return resp.Body(), nil
}

// mediaPath reduces a webhook supplied media URL to a path on the gateway. The
// API key header is client wide, so any other scheme or host is refused.
func (a *Adapter) mediaPath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}
	if u.Scheme != "" || u.Host != "" {
		if !strings.EqualFold(u.Scheme, a.base.Scheme) || !strings.EqualFold(u.Host, a.base.Host) {
			return "", fmt.Errorf("download media: %w: %s", errForeignMediaURL, u.Host)
		}
	}
	if u.User != nil || !strings.HasPrefix(u.Path, "/") {
		return "", fmt.Errorf("download media: %w", errForeignMediaURL)
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.call(ctx, "session me", http.MethodGet, a.sessionPath("/me"), nil, nil)
	return err
}

func (a *Adapter) AssertPresence(ctx context.Context) error {
	_, err := a.call(ctx, "set presence", http.MethodPost, a.scopedPath("/presence"), map[string]string{"presence": presenceOnline}, nil)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
