package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected = errors.New("transport is not connected")
	ErrUnsupported  = errors.New("operation not supported by transport")
	ErrNoQR         = errors.New("no qr code available")
)

// RemoteStatus is the session status as reported by the backend itself.
type RemoteStatus string

const (
	RemoteStopped  RemoteStatus = "STOPPED"
	RemoteStarting RemoteStatus = "STARTING"
	RemoteScanQR   RemoteStatus = "SCAN_QR_CODE"
	RemoteWorking  RemoteStatus = "WORKING"
	RemoteFailed   RemoteStatus = "FAILED"
)

type EventKind string

const (
	EventStatus     EventKind = "status"
	EventChat       EventKind = "chat"
	EventMessage    EventKind = "message"
	EventHistory    EventKind = "history"
	EventDisconnect EventKind = "disconnect"
	EventQR         EventKind = "qr"
	EventPaired     EventKind = "paired"
)

// Event is what adapters emit. Only the field matching Kind is set.
type Event struct {
	Kind       EventKind
	Account    string
	At         time.Time
	Status     RemoteStatus
	Chat       *RawChat
	Message    *RawMessage
	History    *HistoryBatch
	Disconnect *Disconnect
	QRCode     string
}

// RawChat mirrors what a backend knows about a conversation; every field may be
// missing.
type RawChat struct {
	ID               string
	Name             string
	IsGroup          *bool
	ParticipantCount int
	LastActivity     int64
}

// RawMessage is a backend message before normalization.
type RawMessage struct {
	ID         string
	ChatID     string
	SenderID   string
	SenderName string
	ChatName   string
	Body       string
	Timestamp  int64
	FromMe     bool
	HasMedia   bool
	MediaType  string
	Media      *MediaRef
}

// MediaRef is an opaque download handle. Handle is adapter specific.
type MediaRef struct {
	MimeType string
	URL      string
	Seconds  uint32
	FileName string
	Handle   any
}

type HistoryBatch struct {
	Chats    []RawChat
	Messages []RawMessage
}

type DisconnectCode string

const (
	DisconnectLoggedOut      DisconnectCode = "logged_out"
	DisconnectReplaced       DisconnectCode = "replaced"
	DisconnectClientOutdated DisconnectCode = "client_outdated"
	DisconnectKeepAlive      DisconnectCode = "keepalive_timeout"
	DisconnectBanned         DisconnectCode = "temporary_ban"
	DisconnectNetwork        DisconnectCode = "network"
	DisconnectConnectFailure DisconnectCode = "connect_failure"
	DisconnectUnknown        DisconnectCode = ""
)

type Disconnect struct {
	Code    DisconnectCode
	Message string
	Err     error
}

type QR struct {
	Code string
	PNG  []byte
}

type OutgoingMessage struct {
	ChatID string
	Text   string
}

// Adapter is the single seam between the engine and a backend. All methods are
// safe for concurrent use.
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Logout(ctx context.Context) error
	Status(ctx context.Context) (RemoteStatus, error)
	// PushesStatus reports whether status changes arrive as events; otherwise the
	// engine polls Status.
	PushesStatus() bool
	QR(ctx context.Context) (QR, error)
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Chats(ctx context.Context) ([]RawChat, error)
	Messages(ctx context.Context, chatID string, limit int) ([]RawMessage, error)
	Send(ctx context.Context, msg OutgoingMessage) (string, error)
	DownloadMedia(ctx context.Context, ref *MediaRef) ([]byte, error)
	Ping(ctx context.Context) error
	AssertPresence(ctx context.Context) error
	Events() <-chan Event
}

// HTTPError is returned by HTTP backed adapters for non-2xx replies.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: gateway returned status %d", e.Op, e.StatusCode)
}

func (e *HTTPError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsTransient reports whether err is a 5xx/429 reply or a network level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}
	return true
}
