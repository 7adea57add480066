package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/foxseedlab/brainwire/internal/monitor"
)

// StructuredExtractor splits a transcript into tasks, notes and ideas.
type StructuredExtractor interface {
	Extract(ctx context.Context, transcript, language string) ([]monitor.Item, error)
}

var sentenceSplit = regexp.MustCompile(`[.!?;\n]+|\s+(?:and then|а потом|и ещё|и еще)\s+`)

var (
	taskMarkers = []string{
		"buy ", "call ", "send ", "remind ", "need to ", "needs to ", "have to ", "has to ", "must ",
		"todo", "to do", "don't forget", "dont forget", "pick up ", "book ", "pay ", "schedule ",
		"finish ", "email ", "write ", "fix ", "order ", "check ", "get ",
		"купить ", "купи ", "позвонить ", "позвони ", "отправить ", "отправь ", "напомни", "надо ",
		"нужно ", "сделать ", "не забыть", "не забудь", "забрать ", "оплатить ", "записаться ",
		"написать ", "заказать ", "проверить ",
	}
	ideaMarkers = []string{
		"idea", "what if", "maybe we could", "we could try", "it would be cool", "how about",
		"идея", "а что если", "можно было бы", "было бы круто", "а может",
	}
	dueMarkers = []struct{ word, due string }{
		{"tomorrow", "tomorrow"},
		{"tonight", "today"},
		{"today", "today"},
		{"next week", "next_week"},
		{"послезавтра", "day_after_tomorrow"},
		{"завтра", "tomorrow"},
		{"сегодня", "today"},
		{"на следующей неделе", "next_week"},
	}
)

const minNoteWords = 3

// HeuristicExtractor classifies sentences by keyword. It is the fallback when no
// model backed extractor is configured.
type HeuristicExtractor struct{}

func (HeuristicExtractor) Extract(_ context.Context, transcript, _ string) ([]monitor.Item, error) {
	var items []monitor.Item
	for _, part := range sentenceSplit.Split(transcript, -1) {
		sentence := strings.TrimSpace(part)
		if sentence == "" {
			continue
		}
		lower := " " + strings.ToLower(sentence) + " "
		switch {
		case containsAny(lower, ideaMarkers):
			items = append(items, monitor.Item{Kind: monitor.ItemIdea, Text: sentence})
		case containsAny(lower, taskMarkers):
			items = append(items, monitor.Item{Kind: monitor.ItemTask, Text: sentence, Due: dueOf(lower)})
		case len(strings.Fields(sentence)) >= minNoteWords:
			items = append(items, monitor.Item{Kind: monitor.ItemNote, Text: sentence})
		}
	}
	return items, nil
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, " "+m) {
			return true
		}
	}
	return false
}

func dueOf(lower string) string {
	for _, d := range dueMarkers {
		if strings.Contains(lower, d.word) {
			return d.due
		}
	}
	return ""
}
