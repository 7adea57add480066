package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/foxseedlab/brainwire/internal/ingest"
	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/foxseedlab/brainwire/internal/transcriber"
	"github.com/foxseedlab/brainwire/internal/transport"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	hints []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio transcriber.Audio, languages []string) (transcriber.Transcript, error) {
	f.mu.Lock()
	f.hints = languages
	f.mu.Unlock()
	if f.err != nil {
		return transcriber.Transcript{}, f.err
	}
	if len(audio.Data) == 0 {
		return transcriber.Transcript{}, transcriber.ErrEmptyAudio
	}
	return transcriber.Transcript{Text: f.text}, nil
}

type fakeMedia struct{}

func (fakeMedia) DownloadMedia(_ context.Context, ref *transport.MediaRef) ([]byte, error) {
	return []byte("ogg:" + ref.URL), nil
}

type fakeReplier struct {
	mu   sync.Mutex
	sent []transport.OutgoingMessage
}

func (f *fakeReplier) Send(_ context.Context, msg transport.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return "sent-1", nil
}

type captureSink struct {
	mu      sync.Mutex
	results []monitor.Result
}

func (s *captureSink) OnExtractionResult(_ context.Context, _, _ string, r monitor.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

type fakePreviewer struct{}

func (fakePreviewer) Preview(_ context.Context, url string) (monitor.LinkPreview, error) {
	if strings.Contains(url, "broken") {
		return monitor.LinkPreview{}, errors.New("unreachable")
	}
	return monitor.LinkPreview{URL: url, Title: "Example"}, nil
}

const testChat = "79001234567@c.us"

func voiceEvent(id string) ingest.MessageEvent {
	return ingest.MessageEvent{
		Account: "default",
		Message: repository.Message{
			ID:        id,
			ChatID:    testChat,
			Body:      "[voice]",
			Direction: repository.DirectionIncoming,
			MediaKind: repository.MediaVoice,
			Media:     &transport.MediaRef{MimeType: "audio/ogg; codecs=opus", URL: id, Seconds: 3},
		},
		Chat: repository.Chat{ID: testChat},
	}
}

func newTestPipeline(mons []repository.Monitor, proc Processors) (*Pipeline, *captureSink, *fakeReplier) {
	sink := &captureSink{}
	reply := &fakeReplier{}
	p := NewPipeline("default", Config{Concurrency: 2, DefaultLanguage: LanguageEnglish}, monitor.NewStaticSource(mons), sink, proc, fakeMedia{}, reply)
	n := 0
	p.newID = func() string {
		n++
		return "result-" + string(rune('0'+n))
	}
	return p, sink, reply
}

func TestPipeline_VoiceNoteToTask(t *testing.T) {
	mons := []repository.Monitor{{
		ID: "m1", UserID: "u1", ChatID: testChat, Active: true,
		Features: repository.Features{ProcessVoiceNotes: true, SendFeedback: true},
	}}
	tr := &fakeTranscriber{text: "buy milk tomorrow"}
	p, sink, reply := newTestPipeline(mons, Processors{Transcriber: tr})

	out, err := p.Process(context.Background(), voiceEvent("msg-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.results) != 1 {
		t.Fatalf("expected one result, got %d", len(sink.results))
	}
	r := sink.results[0]
	if r.UserID != "u1" || r.MonitorID != "m1" || r.MessageID != "msg-1" || r.Kind != monitor.KindVoice {
		t.Fatalf("unexpected result identity: %+v", r)
	}
	if r.Transcript != "buy milk tomorrow" || r.Language != LanguageEnglish {
		t.Fatalf("unexpected transcript: %q (%s)", r.Transcript, r.Language)
	}
	c := r.Counts()
	if c.Tasks != 1 || c.Notes != 0 || c.Ideas != 0 || c.Locations != 0 {
		t.Fatalf("unexpected counts: %+v", c)
	}
	if len(reply.sent) != 1 || reply.sent[0].ChatID != testChat || !strings.Contains(reply.sent[0].Text, "1 task") {
		t.Fatalf("unexpected acknowledgement: %+v", reply.sent)
	}
	if out.Ack != reply.sent[0].Text {
		t.Fatalf("outcome ack %q differs from sent %q", out.Ack, reply.sent[0].Text)
	}
	if tr.hints[0] != "en-US" {
		t.Fatalf("expected english hint first, got %v", tr.hints)
	}
}

func TestPipeline_SkipsOutgoingAndUnsubscribed(t *testing.T) {
	mons := []repository.Monitor{{
		ID: "m1", UserID: "u1", ChatID: testChat, Active: true,
		Features: repository.Features{CaptureLinks: true},
	}}
	p, sink, _ := newTestPipeline(mons, Processors{Transcriber: &fakeTranscriber{text: "hello there friend"}})

	ev := voiceEvent("msg-1")
	ev.Message.Direction = repository.DirectionOutgoing
	out, _ := p.Process(context.Background(), ev)
	if out.Skipped == "" {
		t.Fatal("expected outgoing message skipped")
	}

	out, _ = p.Process(context.Background(), voiceEvent("msg-2"))
	if out.Skipped == "" || len(sink.results) != 0 {
		t.Fatalf("expected voice note skipped without voice subscription, got %+v", out)
	}
}

func TestPipeline_ProcessOwnMessages(t *testing.T) {
	mons := []repository.Monitor{{
		ID: "m1", UserID: "u1", ChatID: testChat, Active: true,
		Features: repository.Features{ProcessVoiceNotes: true},
	}}
	sink := &captureSink{}
	p := NewPipeline("default", Config{ProcessOwnMessages: true}, monitor.NewStaticSource(mons), sink,
		Processors{Transcriber: &fakeTranscriber{text: "call mom"}}, fakeMedia{}, nil)

	ev := voiceEvent("msg-1")
	ev.Message.Direction = repository.DirectionOutgoing
	if _, err := p.Process(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.results) != 1 {
		t.Fatalf("expected own voice note processed, got %d results", len(sink.results))
	}
}

func TestPipeline_TranscriptionFailureSendsEmptyAck(t *testing.T) {
	mons := []repository.Monitor{{
		ID: "m1", UserID: "u1", ChatID: testChat, Active: true,
		Features: repository.Features{ProcessVoiceNotes: true, SendFeedback: true},
	}}
	p, sink, reply := newTestPipeline(mons, Processors{Transcriber: &fakeTranscriber{err: errors.New("quota")}})

	out, err := p.Process(context.Background(), voiceEvent("msg-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Errors) == 0 {
		t.Fatal("expected transcription error recorded")
	}
	if len(sink.results) != 0 {
		t.Fatalf("expected no results, got %d", len(sink.results))
	}
	if len(reply.sent) != 1 || reply.sent[0].Text != "✅ Processed, nothing extracted." {
		t.Fatalf("unexpected acknowledgement: %+v", reply.sent)
	}
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, string, string) ([]monitor.Item, error) {
	return nil, errors.New("model unavailable")
}

func TestPipeline_ExtractorFailureKeepsTranscript(t *testing.T) {
	mons := []repository.Monitor{{
		ID: "m1", UserID: "u1", ChatID: testChat, Active: true,
		Features: repository.Features{ProcessVoiceNotes: true},
	}}
	p, sink, reply := newTestPipeline(mons, Processors{
		Transcriber: &fakeTranscriber{text: "встреча в Москве"},
		Extractor:   failingExtractor{},
	})

	if _, err := p.Process(context.Background(), voiceEvent("msg-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.results) != 1 {
		t.Fatalf("expected transcript delivered, got %d results", len(sink.results))
	}
	r := sink.results[0]
	if r.Language != LanguageRussian || len(r.Items) != 0 || len(r.Locations) != 1 {
		t.Fatalf("unexpected result: %+v", r)
	}
	if len(reply.sent) != 0 {
		t.Fatal("expected no acknowledgement without feedback subscription")
	}
}

func TestPipeline_LinksOnlyForLinkSubscribers(t *testing.T) {
	mons := []repository.Monitor{
		{ID: "m1", UserID: "u1", ChatID: testChat, Active: true, Features: repository.Features{CaptureLinks: true}},
		{ID: "m2", UserID: "u2", ChatID: testChat, Active: true, Features: repository.Features{ProcessVoiceNotes: true}},
	}
	p, sink, _ := newTestPipeline(mons, Processors{Links: fakePreviewer{}})

	ev := ingest.MessageEvent{
		Account: "default",
		Message: repository.Message{
			ID:        "msg-1",
			ChatID:    testChat,
			Body:      "see https://example.com and https://broken.example",
			Direction: repository.DirectionIncoming,
			Links:     []string{"https://example.com", "https://broken.example"},
		},
		Chat: repository.Chat{ID: testChat},
	}
	out, err := p.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.results) != 1 || sink.results[0].UserID != "u1" {
		t.Fatalf("expected one result for link subscriber, got %+v", sink.results)
	}
	links := sink.results[0].Links
	if len(links) != 2 || links[0].Title != "Example" || links[1].URL != "https://broken.example" || links[1].Title != "" {
		t.Fatalf("unexpected previews: %+v", links)
	}
	if len(out.Errors) != 1 {
		t.Fatalf("expected broken preview error recorded, got %v", out.Errors)
	}
}

func TestPipeline_RunProcessesAll(t *testing.T) {
	mons := []repository.Monitor{{
		ID: "m1", UserID: "u1", ChatID: testChat, Active: true,
		Features: repository.Features{ProcessVoiceNotes: true},
	}}
	p, sink, _ := newTestPipeline(mons, Processors{Transcriber: &fakeTranscriber{text: "buy bread"}})
	p.newID = func() string { return "id" }

	ch := make(chan ingest.MessageEvent, 4)
	for _, id := range []string{"a", "b", "c"} {
		ch <- voiceEvent(id)
	}
	ch <- ingest.MessageEvent{Message: repository.Message{ID: "text", ChatID: testChat, Body: "plain"}}
	close(ch)

	p.Run(context.Background(), ch)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(sink.results))
	}
}
