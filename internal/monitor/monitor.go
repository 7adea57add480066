package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/brainwire/internal/chatid"
	"github.com/foxseedlab/brainwire/internal/repository"
)

type Kind string

const (
	KindVoice Kind = "voice"
	KindLink  Kind = "link"
	KindImage Kind = "image"
)

type ItemKind string

const (
	ItemTask ItemKind = "task"
	ItemNote ItemKind = "note"
	ItemIdea ItemKind = "idea"
)

type Item struct {
	Kind ItemKind `json:"kind"`
	Text string   `json:"text"`
	Due  string   `json:"due,omitempty"`
}

type LinkPreview struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

type ImageAnalysis struct {
	Caption string   `json:"caption,omitempty"`
	Faces   int      `json:"faces"`
	Labels  []string `json:"labels,omitempty"`
}

// Result is the extracted content of one message, materialized per monitor.
type Result struct {
	ID         string         `json:"id"`
	MonitorID  string         `json:"monitorId"`
	UserID     string         `json:"userId"`
	Account    string         `json:"account"`
	ChatID     string         `json:"chatId"`
	MessageID  string         `json:"messageId"`
	Kind       Kind           `json:"kind"`
	Transcript string         `json:"transcript,omitempty"`
	Language   string         `json:"language,omitempty"`
	Items      []Item         `json:"items,omitempty"`
	Locations  []string       `json:"locations,omitempty"`
	Links      []LinkPreview  `json:"links,omitempty"`
	Image      *ImageAnalysis `json:"image,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type Counts struct {
	Tasks     int `json:"tasks"`
	Notes     int `json:"notes"`
	Ideas     int `json:"ideas"`
	Locations int `json:"locations"`
	Links     int `json:"links"`
	Images    int `json:"images"`
}

func (c Counts) Total() int {
	return c.Tasks + c.Notes + c.Ideas + c.Locations + c.Links + c.Images
}

func (r Result) Counts() Counts {
	var c Counts
	for _, it := range r.Items {
		switch it.Kind {
		case ItemTask:
			c.Tasks++
		case ItemNote:
			c.Notes++
		case ItemIdea:
			c.Ideas++
		}
	}
	c.Locations = len(r.Locations)
	c.Links = len(r.Links)
	if r.Image != nil {
		c.Images = 1
	}
	return c
}

// Source looks up monitor subscriptions. It is owned outside the session engine.
type Source interface {
	MonitorsForChat(ctx context.Context, account string, chatKeys []string) ([]repository.Monitor, error)
	TrackedChats(ctx context.Context, account string) ([]string, error)
}

// Names under which the result sinks are registered in the injector.
const (
	WebhookSinkName = "sink.webhook"
	NATSSinkName    = "sink.nats"
)

// Sink receives one result per subscribing monitor.
type Sink interface {
	OnExtractionResult(ctx context.Context, userID, chatID string, result Result) error
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) OnExtractionResult(ctx context.Context, userID, chatID string, result Result) error {
	var errs []error
	for _, s := range m {
		if err := s.OnExtractionResult(ctx, userID, chatID, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RepositorySource adapts a MonitorRepository to Source.
type RepositorySource struct {
	Repo repository.MonitorRepository
}

func (s RepositorySource) MonitorsForChat(ctx context.Context, account string, chatKeys []string) ([]repository.Monitor, error) {
	return s.Repo.ListActiveMonitors(ctx, account, chatKeys)
}

func (s RepositorySource) TrackedChats(ctx context.Context, account string) ([]string, error) {
	return s.Repo.ListTrackedChatIDs(ctx, account)
}

// StaticSource serves a fixed monitor list, usually from MONITORS_JSON.
type StaticSource struct {
	monitors []repository.Monitor
}

func NewStaticSource(monitors []repository.Monitor) *StaticSource {
	return &StaticSource{monitors: monitors}
}

// ParseStaticSource decodes a JSON array of monitors. Entries without an
// explicit "active" field are active.
func ParseStaticSource(raw string) (*StaticSource, error) {
	if raw == "" {
		return NewStaticSource(nil), nil
	}
	var decoded []struct {
		repository.Monitor
		Active *bool `json:"active"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode monitors json: %w", err)
	}
	monitors := make([]repository.Monitor, 0, len(decoded))
	for i, d := range decoded {
		m := d.Monitor
		m.Active = d.Active == nil || *d.Active
		if m.ID == "" {
			m.ID = fmt.Sprintf("static-%d", i+1)
		}
		if m.UserID == "" || m.ChatID == "" {
			return nil, fmt.Errorf("monitor %d: userId and chatId are required", i)
		}
		monitors = append(monitors, m)
	}
	return NewStaticSource(monitors), nil
}

func (s *StaticSource) MonitorsForChat(_ context.Context, account string, chatKeys []string) ([]repository.Monitor, error) {
	keys := make(map[string]struct{}, len(chatKeys))
	for _, k := range chatKeys {
		keys[k] = struct{}{}
	}
	var out []repository.Monitor
	for _, m := range s.monitors {
		if !m.Active || (m.Account != "" && m.Account != account) {
			continue
		}
		if _, ok := keys[m.ChatID]; ok {
			out = append(out, m)
			continue
		}
		if _, ok := keys[chatid.Canonical(m.ChatID)]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *StaticSource) TrackedChats(_ context.Context, account string) ([]string, error) {
	var out []string
	for _, m := range s.monitors {
		if m.Active && (m.Account == "" || m.Account == account) {
			out = append(out, m.ChatID)
		}
	}
	return out, nil
}
