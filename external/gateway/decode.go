package gateway

import (
	"strings"

	"github.com/foxseedlab/brainwire/internal/transport"
	"github.com/tidwall/gjson"
)

const (
	legacyUserSuffix  = "@c.us"
	defaultUserSuffix = "@s.whatsapp.net"
)

// gatewayChatID spells private chats the way the gateway expects them.
func gatewayChatID(id string) string {
	if strings.HasSuffix(id, defaultUserSuffix) {
		return strings.TrimSuffix(id, defaultUserSuffix) + legacyUserSuffix
	}
	return id
}

func parseStatus(s string) transport.RemoteStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WORKING", "CONNECTED":
		return transport.RemoteWorking
	case "SCAN_QR_CODE", "SCAN_QR":
		return transport.RemoteScanQR
	case "STARTING":
		return transport.RemoteStarting
	case "STOPPED":
		return transport.RemoteStopped
	case "FAILED":
		return transport.RemoteFailed
	default:
		return transport.RemoteStatus(strings.ToUpper(s))
	}
}

// serializedID reads ids sent either as strings or as {_serialized}.
func serializedID(r gjson.Result) string {
	if r.IsObject() {
		return firstString(r, "_serialized", "id")
	}
	return r.String()
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstInt(r gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Int() != 0 {
			return v.Int()
		}
	}
	return 0
}

func parseChat(r gjson.Result) (transport.RawChat, bool) {
	id := serializedID(r.Get("id"))
	if id == "" {
		return transport.RawChat{}, false
	}
	c := transport.RawChat{
		ID:           id,
		Name:         firstString(r, "name", "formattedTitle", "contact.pushname"),
		LastActivity: firstInt(r, "timestamp", "conversationTimestamp", "lastMessage.timestamp"),
	}
	if g := r.Get("isGroup"); g.Exists() {
		isGroup := g.Bool()
		c.IsGroup = &isGroup
	}
	c.ParticipantCount = len(r.Get("groupMetadata.participants").Array())
	return c, true
}

// parseMessage decodes one gateway message. Missing ids or chats reject it.
func parseMessage(r gjson.Result) (transport.RawMessage, bool) {
	id := serializedID(r.Get("id"))
	if id == "" {
		return transport.RawMessage{}, false
	}
	fromMe := r.Get("fromMe").Bool()
	from := serializedID(r.Get("from"))
	to := serializedID(r.Get("to"))
	chat := from
	if fromMe {
		chat = to
	}
	sender := serializedID(r.Get("participant"))
	if sender == "" {
		sender = from
	}

	m := transport.RawMessage{
		ID:         id,
		ChatID:     chat,
		SenderID:   sender,
		SenderName: firstString(r, "_data.notifyName", "notifyName", "pushName"),
		Body:       r.Get("body").String(),
		Timestamp:  r.Get("timestamp").Int(),
		FromMe:     fromMe,
	}
	media := r.Get("media")
	m.HasMedia = r.Get("hasMedia").Bool() || media.IsObject()
	if m.HasMedia {
		m.MediaType = firstString(r, "_data.type", "type", "media.type")
		if m.MediaType == "chat" {
			m.MediaType = ""
		}
		if media.IsObject() {
			m.Media = &transport.MediaRef{
				MimeType: firstString(media, "mimetype", "mimeType"),
				URL:      media.Get("url").String(),
				FileName: media.Get("filename").String(),
				Seconds:  uint32(firstInt(r, "media.duration", "_data.duration", "duration")),
			}
		}
	}
	return m, true
}
