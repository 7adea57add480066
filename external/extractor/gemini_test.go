package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/foxseedlab/brainwire/internal/monitor"
)

func TestParseItems(t *testing.T) {
	raw := "```json\n{\"items\":[{\"kind\":\"task\",\"text\":\" buy milk \",\"due\":\"tomorrow\"},{\"kind\":\"joke\",\"text\":\"x\"},{\"kind\":\"note\",\"text\":\"\"}]}\n```"
	items, err := parseItems(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Kind != monitor.ItemTask || items[0].Text != "buy milk" || items[0].Due != "tomorrow" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestParseItems_Invalid(t *testing.T) {
	if _, err := parseItems("sorry, I cannot help"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestExtract_PromptCarriesTranscriptAndLanguage(t *testing.T) {
	var gotPrompt string
	g := &GeminiExtractor{generate: func(_ context.Context, text string) (string, error) {
		gotPrompt = text
		return `{"items":[{"kind":"idea","text":"what if we open a shop"}]}`, nil
	}}
	items, err := g.Extract(context.Background(), "what if we open a shop", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Kind != monitor.ItemIdea {
		t.Fatalf("unexpected items: %+v", items)
	}
	if !strings.Contains(gotPrompt, "what if we open a shop") || !strings.Contains(gotPrompt, "transcript: en") {
		t.Fatalf("unexpected prompt: %s", gotPrompt)
	}
}

func TestExtract_GenerateError(t *testing.T) {
	boom := errors.New("quota")
	g := &GeminiExtractor{generate: func(context.Context, string) (string, error) { return "", boom }}
	if _, err := g.Extract(context.Background(), "x", "en"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
