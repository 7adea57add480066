package ingest

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/brainwire/internal/chatid"
	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/foxseedlab/brainwire/internal/store"
	"github.com/foxseedlab/brainwire/internal/transport"
)

const defaultSeenWindow = 4096

var linkPattern = regexp.MustCompile(`https?://[^\s<>"'\x60]+`)

// Stats summarizes what one Route call did.
type Stats struct {
	Chats      int
	Messages   int
	Duplicates int
	Dropped    int
}

// Router turns raw transport events into canonical events: chats and messages
// go to the store, live messages and control events go to the bus.
type Router struct {
	account string
	store   *store.Store
	bus     *Bus
	seen    *seenSet
	now     func() time.Time
}

func NewRouter(account string, st *store.Store, bus *Bus) *Router {
	return &Router{
		account: account,
		store:   st,
		bus:     bus,
		seen:    newSeenSet(defaultSeenWindow),
		now:     time.Now,
	}
}

// Reset forgets the duplicate window. It pairs with store.Clear after a logout
// so a re-synced history is stored again.
func (r *Router) Reset() {
	r.seen.Reset()
}

func (r *Router) Route(ev transport.Event) Stats {
	at := ev.At
	if at.IsZero() {
		at = r.now()
	}
	var stats Stats
	switch ev.Kind {
	case transport.EventStatus:
		if ev.Status == "" {
			slog.Warn("dropping status event without status", "account", r.account)
			stats.Dropped++
			break
		}
		r.publish("status", r.bus.PublishStatus(StatusChange{Account: r.account, Remote: ev.Status, At: at}))
	case transport.EventChat:
		if ev.Chat == nil || r.applyChat(*ev.Chat) == "" {
			slog.Warn("dropping malformed chat event", "account", r.account)
			stats.Dropped++
			break
		}
		stats.Chats++
	case transport.EventMessage:
		if ev.Message == nil {
			slog.Warn("dropping message event without payload", "account", r.account)
			stats.Dropped++
			break
		}
		r.applyMessage(*ev.Message, true, &stats)
	case transport.EventHistory:
		if ev.History != nil {
			r.applyHistory(*ev.History, &stats)
		}
	case transport.EventDisconnect:
		d := transport.Disconnect{}
		if ev.Disconnect != nil {
			d = *ev.Disconnect
		}
		r.publish("disconnect", r.bus.PublishDisconnect(DisconnectEvent{Account: r.account, Disconnect: d, At: at}))
	case transport.EventQR:
		r.publish("auth", r.bus.PublishAuth(AuthEvent{Account: r.account, Kind: AuthQR, QRCode: ev.QRCode}))
	case transport.EventPaired:
		r.publish("auth", r.bus.PublishAuth(AuthEvent{Account: r.account, Kind: AuthPaired}))
	default:
		slog.Debug("ignoring unknown transport event", "account", r.account, "kind", ev.Kind)
	}
	return stats
}

// applyHistory upserts chats, then applies messages oldest first. Bad items are
// skipped individually.
func (r *Router) applyHistory(batch transport.HistoryBatch, stats *Stats) {
	for _, c := range batch.Chats {
		if r.applyChat(c) == "" {
			stats.Dropped++
			continue
		}
		stats.Chats++
	}
	msgs := append([]transport.RawMessage(nil), batch.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return normalizeTimestamp(msgs[i].Timestamp) < normalizeTimestamp(msgs[j].Timestamp)
	})
	for _, m := range msgs {
		r.applyMessage(m, false, stats)
	}
	slog.Info("history batch applied", "account", r.account, "chats", stats.Chats, "messages", stats.Messages, "dropped", stats.Dropped)
}

func (r *Router) applyChat(raw transport.RawChat) string {
	if strings.TrimSpace(raw.ID) == "" {
		return ""
	}
	isGroup := chatid.Normalize(raw.ID).Kind == chatid.KindGroup
	if raw.IsGroup != nil && *raw.IsGroup {
		isGroup = true
	}
	c := r.store.UpsertChat(repository.Chat{
		ID:               raw.ID,
		DisplayName:      strings.TrimSpace(raw.Name),
		IsGroup:          isGroup,
		ParticipantCount: raw.ParticipantCount,
		LastActivity:     normalizeTimestamp(raw.LastActivity),
	})
	return c.ID
}

func (r *Router) applyMessage(raw transport.RawMessage, live bool, stats *Stats) {
	if raw.ID == "" || strings.TrimSpace(raw.ChatID) == "" {
		slog.Warn("dropping malformed message", "account", r.account, "message_id", raw.ID, "chat_id", raw.ChatID)
		stats.Dropped++
		return
	}
	chatName := raw.ChatName
	if chatName == "" && !raw.FromMe && chatid.Normalize(raw.ChatID).Kind != chatid.KindGroup {
		chatName = raw.SenderName
	}

	msg := Normalize(raw, r.now)
	chat := r.store.UpsertChat(repository.Chat{
		ID:           raw.ChatID,
		DisplayName:  strings.TrimSpace(chatName),
		LastActivity: msg.Timestamp,
	})
	if chat.ID == "" {
		stats.Dropped++
		return
	}

	seenKey := chat.ID + "/" + msg.ID
	if r.seen.Seen(seenKey) {
		stats.Duplicates++
		return
	}
	if !r.store.AppendMessage(chat.ID, msg) {
		stats.Duplicates++
		return
	}
	r.seen.Add(seenKey)
	stats.Messages++
	msg.ChatID = chat.ID
	msg.Account = r.account

	if !live {
		return
	}
	r.publish("message", r.bus.PublishMessage(MessageEvent{
		Account:    r.account,
		Message:    msg,
		Chat:       chat,
		SenderName: raw.SenderName,
	}))
}

func (r *Router) publish(kind string, err error) {
	if err != nil {
		slog.Warn("failed to publish canonical event", "account", r.account, "kind", kind, "error", err)
	}
}

// Normalize converts a raw message into the stored form: media without text gets
// a placeholder body and links are extracted from the text.
func Normalize(raw transport.RawMessage, now func() time.Time) repository.Message {
	kind := ClassifyMedia(raw)
	body := strings.TrimSpace(raw.Body)
	if body == "" && kind != repository.MediaNone {
		body = kind.Placeholder()
	}
	ts := normalizeTimestamp(raw.Timestamp)
	if ts == 0 {
		ts = now().Unix()
	}
	dir := repository.DirectionIncoming
	if raw.FromMe {
		dir = repository.DirectionOutgoing
	}
	var links []string
	if raw.Body != "" {
		links = ExtractLinks(raw.Body)
	}
	return repository.Message{
		ID:        raw.ID,
		ChatID:    raw.ChatID,
		SenderID:  chatid.Canonical(raw.SenderID),
		Body:      body,
		Timestamp: ts,
		Direction: dir,
		MediaKind: kind,
		Links:     links,
		Media:     raw.Media,
	}
}

// ClassifyMedia maps backend media type names or MIME types onto a MediaKind.
func ClassifyMedia(raw transport.RawMessage) repository.MediaKind {
	t := strings.ToLower(strings.TrimSpace(raw.MediaType))
	switch t {
	case "image", "imagemessage":
		return repository.MediaImage
	case "ptt", "voice", "voice_note", "pttmessage":
		return repository.MediaVoice
	case "audio", "audiomessage":
		if raw.Media != nil && raw.Media.Seconds > 0 && strings.Contains(strings.ToLower(raw.Media.MimeType), "opus") {
			return repository.MediaVoice
		}
		return repository.MediaAudio
	case "video", "videomessage", "gif":
		return repository.MediaVideo
	case "document", "documentmessage", "file":
		return repository.MediaDocument
	case "sticker", "stickermessage":
		return repository.MediaSticker
	}
	mime := ""
	if raw.Media != nil {
		mime = strings.ToLower(raw.Media.MimeType)
	}
	switch {
	case strings.HasPrefix(mime, "image/webp") && t == "":
		return repository.MediaSticker
	case strings.HasPrefix(mime, "image/"):
		return repository.MediaImage
	case strings.HasPrefix(mime, "audio/ogg"):
		return repository.MediaVoice
	case strings.HasPrefix(mime, "audio/"):
		return repository.MediaAudio
	case strings.HasPrefix(mime, "video/"):
		return repository.MediaVideo
	case strings.HasPrefix(mime, "application/"):
		return repository.MediaDocument
	}
	if raw.HasMedia || t != "" {
		return repository.MediaUnknown
	}
	return repository.MediaNone
}

func ExtractLinks(text string) []string {
	found := linkPattern.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(found))
	out := make([]string, 0, len(found))
	for _, l := range found {
		l = strings.TrimRight(l, ".,;:!?)]}")
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// normalizeTimestamp accepts unix seconds or milliseconds.
func normalizeTimestamp(ts int64) int64 {
	if ts > 1e12 {
		return ts / 1000
	}
	if ts < 0 {
		return 0
	}
	return ts
}

// seenSet remembers the last n keys.
type seenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
	ring []string
	next int
}

func newSeenSet(n int) *seenSet {
	return &seenSet{keys: make(map[string]struct{}, n), ring: make([]string, n)}
}

func (s *seenSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]struct{}, len(s.ring))
	s.ring = make([]string, len(s.ring))
	s.next = 0
}

func (s *seenSet) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

func (s *seenSet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.keys, old)
	}
	s.ring[s.next] = key
	s.keys[key] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
}
