package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/brainwire/internal/chatid"
	"github.com/foxseedlab/brainwire/internal/repository"
)

const (
	DefaultMessagesPerChat = 100

	archiveQueueSize = 256
	archiveTimeout   = 5 * time.Second
)

type Config struct {
	MessagesPerChat int
	// MaxChats bounds how many chats hold message buffers at once; 0 disables.
	MaxChats int
}

type Filter struct {
	GroupsOnly   bool
	PrivateOnly  bool
	NameContains string
	ActiveSince  int64
	Limit        int
}

type SweepStats struct {
	ChatsSwept      int
	MessagesEvicted int
}

type chatEntry struct {
	mu   sync.RWMutex
	chat repository.Chat
	msgs []repository.Message
	ids  map[string]struct{}
}

// Store is the per-account chat directory plus one bounded message buffer per
// chat. Buffers have their own locks so readers of one chat never wait on writers
// of another.
type Store struct {
	account string
	cfg     Config
	now     func() time.Time

	mu      sync.RWMutex
	chats   map[string]*chatEntry
	aliases map[string]string
	tracked map[string]struct{}

	archive   repository.ArchiveRepository
	archiveMu sync.RWMutex
	archiveCh chan func(context.Context)
	closed    bool
	done      chan struct{}
}

func New(account string, cfg Config, archive repository.ArchiveRepository) *Store {
	if cfg.MessagesPerChat <= 0 {
		cfg.MessagesPerChat = DefaultMessagesPerChat
	}
	s := &Store{
		account: account,
		cfg:     cfg,
		now:     time.Now,
		chats:   make(map[string]*chatEntry),
		aliases: make(map[string]string),
		tracked: make(map[string]struct{}),
		archive: archive,
		done:    make(chan struct{}),
	}
	if archive != nil {
		s.archiveCh = make(chan func(context.Context), archiveQueueSize)
		go s.runArchive()
	} else {
		close(s.done)
	}
	return s
}

// UpsertChat merges chat into the directory. Empty fields never overwrite known
// values and the canonical id is fixed at first observation.
func (s *Store) UpsertChat(chat repository.Chat) repository.Chat {
	id := chatid.Normalize(chat.ID)
	if id.Canonical == "" {
		return repository.Chat{}
	}

	s.mu.Lock()
	entry, created := s.entryLocked(id)
	if nk := chatid.NameKey(chat.DisplayName); nk != "" {
		if _, taken := s.aliases[nk]; !taken {
			s.aliases[nk] = entry.chat.ID
		}
	}
	s.mu.Unlock()

	entry.mu.Lock()
	if chat.DisplayName != "" {
		entry.chat.DisplayName = chat.DisplayName
	}
	if chat.IsGroup {
		entry.chat.IsGroup = true
	}
	if chat.ParticipantCount > 0 {
		entry.chat.ParticipantCount = chat.ParticipantCount
	}
	if chat.LastActivity > entry.chat.LastActivity {
		entry.chat.LastActivity = chat.LastActivity
	}
	out := entry.chat
	entry.mu.Unlock()

	if created {
		slog.Debug("chat discovered", "account", s.account, "chat_id", out.ID, "is_group", out.IsGroup)
	}
	s.enqueueArchive(func(ctx context.Context) error { return s.archive.SaveChat(ctx, out) })
	return out
}

// entryLocked returns the entry for id, creating it if needed. Caller holds s.mu.
func (s *Store) entryLocked(id chatid.ID) (*chatEntry, bool) {
	if canonical, ok := s.lookupLocked(id.Alternates); ok {
		entry := s.chats[canonical]
		for _, alt := range id.Alternates {
			if _, taken := s.aliases[alt]; !taken {
				s.aliases[alt] = canonical
			}
		}
		return entry, false
	}
	entry := &chatEntry{
		chat: repository.Chat{
			ID:          id.Canonical,
			Account:     s.account,
			IsGroup:     id.Kind == chatid.KindGroup,
			FirstSeenAt: s.now(),
		},
		ids: make(map[string]struct{}),
	}
	s.chats[id.Canonical] = entry
	for _, alt := range id.Alternates {
		s.aliases[alt] = id.Canonical
	}
	s.aliases[id.Canonical] = id.Canonical
	return entry, true
}

func (s *Store) lookupLocked(keys []string) (string, bool) {
	for _, k := range keys {
		if canonical, ok := s.aliases[k]; ok {
			return canonical, true
		}
	}
	return "", false
}

// AppendMessage inserts msg at the head of its chat's buffer. It returns false
// when the id is already buffered.
func (s *Store) AppendMessage(chatID string, msg repository.Message) bool {
	id := chatid.Normalize(chatID)
	if id.Canonical == "" || msg.ID == "" {
		return false
	}

	s.mu.Lock()
	entry, _ := s.entryLocked(id)
	s.mu.Unlock()

	entry.mu.Lock()
	if _, dup := entry.ids[msg.ID]; dup {
		entry.mu.Unlock()
		return false
	}
	msg.ChatID = entry.chat.ID
	msg.Account = s.account
	wasEmpty := len(entry.msgs) == 0
	entry.msgs = append(entry.msgs, repository.Message{})
	copy(entry.msgs[1:], entry.msgs)
	entry.msgs[0] = msg
	entry.ids[msg.ID] = struct{}{}
	for len(entry.msgs) > s.cfg.MessagesPerChat {
		last := entry.msgs[len(entry.msgs)-1]
		delete(entry.ids, last.ID)
		entry.msgs[len(entry.msgs)-1] = repository.Message{}
		entry.msgs = entry.msgs[:len(entry.msgs)-1]
	}
	if msg.Timestamp > entry.chat.LastActivity {
		entry.chat.LastActivity = msg.Timestamp
	}
	entry.mu.Unlock()

	if wasEmpty && s.cfg.MaxChats > 0 {
		s.enforceMaxChats(entry.chat.ID)
	}
	s.enqueueArchive(func(ctx context.Context) error { return s.archive.SaveMessage(ctx, msg) })
	return true
}

// enforceMaxChats drops the buffer of the least recently active untracked chat
// while too many chats hold messages. keep is never evicted.
func (s *Store) enforceMaxChats(keep string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		entry    *chatEntry
		activity int64
	}
	var buffered []candidate
	for id, entry := range s.chats {
		entry.mu.RLock()
		n := len(entry.msgs)
		activity := entry.chat.LastActivity
		entry.mu.RUnlock()
		if n == 0 {
			continue
		}
		if _, tracked := s.tracked[id]; tracked || id == keep {
			buffered = append(buffered, candidate{entry: nil, activity: activity})
			continue
		}
		buffered = append(buffered, candidate{entry: entry, activity: activity})
	}
	excess := len(buffered) - s.cfg.MaxChats
	if excess <= 0 {
		return
	}
	sort.Slice(buffered, func(i, j int) bool { return buffered[i].activity < buffered[j].activity })
	for _, c := range buffered {
		if excess == 0 {
			break
		}
		if c.entry == nil {
			continue
		}
		c.entry.mu.Lock()
		c.entry.msgs = nil
		c.entry.ids = make(map[string]struct{})
		id := c.entry.chat.ID
		c.entry.mu.Unlock()
		excess--
		slog.Debug("dropped chat buffer over chat cap", "account", s.account, "chat_id", id)
	}
}

// Messages returns up to limit messages of a chat, newest first. limit <= 0
// returns the whole buffer.
func (s *Store) Messages(chatID string, limit int) []repository.Message {
	entry := s.entry(chatID)
	if entry == nil {
		return nil
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	n := len(entry.msgs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]repository.Message, n)
	copy(out, entry.msgs[:n])
	return out
}

func (s *Store) Chat(key string) (repository.Chat, bool) {
	entry := s.entry(key)
	if entry == nil {
		return repository.Chat{}, false
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.chat, true
}

// Chats lists the directory sorted by last activity, most recent first.
func (s *Store) Chats(f Filter) []repository.Chat {
	needle := strings.ToLower(strings.TrimSpace(f.NameContains))

	s.mu.RLock()
	out := make([]repository.Chat, 0, len(s.chats))
	for _, entry := range s.chats {
		entry.mu.RLock()
		c := entry.chat
		entry.mu.RUnlock()
		if f.GroupsOnly && !c.IsGroup {
			continue
		}
		if f.PrivateOnly && c.IsGroup {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(c.DisplayName), needle) {
			continue
		}
		if f.ActiveSince > 0 && c.LastActivity < f.ActiveSince {
			continue
		}
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastActivity != out[j].LastActivity {
			return out[i].LastActivity > out[j].LastActivity
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Resolve maps any known spelling or display name of a chat to its canonical id.
func (s *Store) Resolve(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(key)
}

func (s *Store) resolveLocked(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	if canonical, ok := s.aliases[key]; ok {
		return canonical, true
	}
	if canonical, ok := s.lookupLocked(chatid.Normalize(key).Alternates); ok {
		return canonical, true
	}
	if nk := chatid.NameKey(key); nk != "" {
		if canonical, ok := s.aliases[nk]; ok {
			return canonical, true
		}
	}
	return "", false
}

func (s *Store) entry(key string) *chatEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonical, ok := s.resolveLocked(key)
	if !ok {
		return nil
	}
	return s.chats[canonical]
}

// SetTracked replaces the set of chats whose recent messages survive sweeps and
// chat-cap eviction.
func (s *Store) SetTracked(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if canonical, ok := s.resolveLocked(k); ok {
			s.tracked[canonical] = struct{}{}
			continue
		}
		if c := chatid.Canonical(k); c != "" {
			s.tracked[c] = struct{}{}
		}
	}
}

// Sweep evicts messages older than retention from chats with no activity inside
// the retention window. Tracked chats always keep their keepRecent newest
// messages.
func (s *Store) Sweep(now time.Time, retention time.Duration, keepRecent int) SweepStats {
	cutoff := now.Add(-retention).Unix()
	var stats SweepStats

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, entry := range s.chats {
		_, tracked := s.tracked[id]
		entry.mu.Lock()
		if entry.chat.LastActivity >= cutoff || len(entry.msgs) == 0 {
			entry.mu.Unlock()
			continue
		}
		kept := entry.msgs[:0]
		evicted := 0
		for i, m := range entry.msgs {
			if m.Timestamp >= cutoff || (tracked && i < keepRecent) {
				kept = append(kept, m)
				continue
			}
			delete(entry.ids, m.ID)
			evicted++
		}
		for i := len(kept); i < len(entry.msgs); i++ {
			entry.msgs[i] = repository.Message{}
		}
		entry.msgs = kept
		entry.mu.Unlock()
		if evicted > 0 {
			stats.ChatsSwept++
			stats.MessagesEvicted += evicted
		}
	}
	return stats
}

// MessageCount is the number of buffered messages across all chats.
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, entry := range s.chats {
		entry.mu.RLock()
		total += len(entry.msgs)
		entry.mu.RUnlock()
	}
	return total
}

// Clear forgets every chat and message, e.g. after a logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = make(map[string]*chatEntry)
	s.aliases = make(map[string]string)
	s.tracked = make(map[string]struct{})
}

func (s *Store) enqueueArchive(fn func(ctx context.Context) error) {
	if s.archive == nil {
		return
	}
	job := func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			slog.Warn("failed to archive record", "account", s.account, "error", err)
		}
	}
	s.archiveMu.RLock()
	defer s.archiveMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.archiveCh <- job:
	default:
		slog.Warn("archive queue full; dropping record", "account", s.account)
	}
}

func (s *Store) runArchive() {
	defer close(s.done)
	for job := range s.archiveCh {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		job(ctx)
		cancel()
	}
}

// Close flushes pending archive writes.
func (s *Store) Close() {
	s.archiveMu.Lock()
	if !s.closed && s.archiveCh != nil {
		close(s.archiveCh)
	}
	s.closed = true
	s.archiveMu.Unlock()
	<-s.done
}
