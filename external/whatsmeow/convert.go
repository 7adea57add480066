package whatsmeow

import (
	"fmt"
	"strings"

	"github.com/foxseedlab/brainwire/internal/transport"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// convertMessage maps a decrypted message onto the transport shape. The media
// proto is kept as the download handle.
func convertMessage(evt *events.Message) (transport.RawMessage, bool) {
	if evt == nil || evt.Info.ID == "" || evt.Info.Chat.IsEmpty() {
		return transport.RawMessage{}, false
	}
	if evt.Message.GetProtocolMessage() != nil || evt.Message.GetReactionMessage() != nil {
		return transport.RawMessage{}, false
	}
	info := evt.Info
	m := transport.RawMessage{
		ID:         info.ID,
		ChatID:     info.Chat.ToNonAD().String(),
		SenderID:   info.Sender.ToNonAD().String(),
		SenderName: info.PushName,
		Timestamp:  info.Timestamp.Unix(),
		FromMe:     info.IsFromMe,
		Body:       textOf(evt.Message),
	}
	applyMedia(&m, evt.Message)
	return m, true
}

func textOf(msg *waE2E.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage().GetCaption() != "":
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage().GetCaption() != "":
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage().GetCaption() != "":
		return msg.GetDocumentMessage().GetCaption()
	default:
		return ""
	}
}

func applyMedia(m *transport.RawMessage, msg *waE2E.Message) {
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		m.MediaType = "image"
		m.Media = &transport.MediaRef{MimeType: img.GetMimetype(), Handle: img}
	case msg.GetAudioMessage() != nil:
		au := msg.GetAudioMessage()
		m.MediaType = "audio"
		if au.GetPTT() {
			m.MediaType = "ptt"
		}
		m.Media = &transport.MediaRef{MimeType: au.GetMimetype(), Seconds: au.GetSeconds(), Handle: au}
	case msg.GetVideoMessage() != nil:
		vi := msg.GetVideoMessage()
		m.MediaType = "video"
		m.Media = &transport.MediaRef{MimeType: vi.GetMimetype(), Seconds: vi.GetSeconds(), Handle: vi}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		m.MediaType = "document"
		m.Media = &transport.MediaRef{MimeType: doc.GetMimetype(), FileName: doc.GetFileName(), Handle: doc}
	case msg.GetStickerMessage() != nil:
		st := msg.GetStickerMessage()
		m.MediaType = "sticker"
		m.Media = &transport.MediaRef{MimeType: st.GetMimetype(), Handle: st}
	default:
		return
	}
	m.HasMedia = true
}

func contactName(c types.ContactInfo) string {
	for _, n := range []string{c.FullName, c.FirstName, c.PushName, c.BusinessName} {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return ""
}

// disconnectOf maps connection events onto transport disconnects. ok is false
// for events that are not disconnects.
func disconnectOf(evt any) (transport.Disconnect, bool) {
	switch v := evt.(type) {
	case *events.LoggedOut:
		return transport.Disconnect{Code: transport.DisconnectLoggedOut, Message: "logged out: " + v.Reason.String()}, true
	case *events.StreamReplaced:
		return transport.Disconnect{Code: transport.DisconnectReplaced, Message: "stream replaced by another connection"}, true
	case *events.ClientOutdated:
		return transport.Disconnect{Code: transport.DisconnectClientOutdated, Message: "client version outdated"}, true
	case *events.KeepAliveTimeout:
		return transport.Disconnect{Code: transport.DisconnectKeepAlive, Message: fmt.Sprintf("keepalive timeout after %d errors", v.ErrorCount)}, true
	case *events.TemporaryBan:
		return transport.Disconnect{Code: transport.DisconnectBanned, Message: "temporary ban: " + v.String()}, true
	case *events.ConnectFailure:
		code := transport.DisconnectConnectFailure
		switch {
		case v.Reason.IsLoggedOut():
			code = transport.DisconnectLoggedOut
		case v.Reason == events.ConnectFailureTempBanned:
			code = transport.DisconnectBanned
		case v.Reason == events.ConnectFailureClientOutdated:
			code = transport.DisconnectClientOutdated
		}
		return transport.Disconnect{Code: code, Message: fmt.Sprintf("connect failure %d: %s", int(v.Reason), v.Message)}, true
	case *events.Disconnected:
		return transport.Disconnect{Code: transport.DisconnectNetwork, Message: "websocket disconnected"}, true
	default:
		return transport.Disconnect{}, false
	}
}
