package repository

import (
	"time"

	"github.com/foxseedlab/brainwire/internal/transport"
)

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaImage    MediaKind = "image"
	MediaVoice    MediaKind = "voice"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
	MediaUnknown  MediaKind = "media"
)

// Placeholder is the body stored for media messages that carry no text.
func (k MediaKind) Placeholder() string {
	if k == MediaNone {
		return ""
	}
	return "[" + string(k) + "]"
}

type Chat struct {
	ID               string
	Account          string
	DisplayName      string
	IsGroup          bool
	ParticipantCount int
	LastActivity     int64
	FirstSeenAt      time.Time
}

type Message struct {
	ID        string
	Account   string
	ChatID    string
	SenderID  string
	Body      string
	Timestamp int64
	Direction Direction
	MediaKind MediaKind
	Links     []string
	// Media is the transport download handle; never persisted.
	Media *transport.MediaRef
}

type Features struct {
	ProcessVoiceNotes bool `json:"processVoiceNotes"`
	CaptureLinks      bool `json:"captureLinks"`
	SaveAllImages     bool `json:"saveAllImages"`
	SendFeedback      bool `json:"sendFeedbackMessages"`
}

// Monitor is one user's subscription to a chat.
type Monitor struct {
	ID       string   `json:"id"`
	UserID   string   `json:"userId"`
	Account  string   `json:"account"`
	ChatID   string   `json:"chatId"`
	Features Features `json:"features"`
	Active   bool     `json:"active"`
}
