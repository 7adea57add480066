package extract

import (
	"fmt"
	"strings"

	"github.com/foxseedlab/brainwire/internal/monitor"
)

const (
	ackProcessedEnglish = "✅ Processed: %s."
	ackNothingEnglish   = "✅ Processed, nothing extracted."
	ackProcessedRussian = "✅ Обработано: %s."
	ackNothingRussian   = "✅ Обработано, ничего не извлечено."
)

type noun struct {
	one, few, many string
}

var (
	nounsEnglish = map[string]noun{
		"tasks":     {"task", "tasks", "tasks"},
		"notes":     {"note", "notes", "notes"},
		"ideas":     {"idea", "ideas", "ideas"},
		"locations": {"location", "locations", "locations"},
		"links":     {"link", "links", "links"},
		"images":    {"image", "images", "images"},
	}
	nounsRussian = map[string]noun{
		"tasks":     {"задача", "задачи", "задач"},
		"notes":     {"заметка", "заметки", "заметок"},
		"ideas":     {"идея", "идеи", "идей"},
		"locations": {"место", "места", "мест"},
		"links":     {"ссылка", "ссылки", "ссылок"},
		"images":    {"изображение", "изображения", "изображений"},
	}
)

// Acknowledgement renders the chat reply summarizing what was created.
func Acknowledgement(c monitor.Counts, language string) string {
	nouns, processed, nothing := nounsEnglish, ackProcessedEnglish, ackNothingEnglish
	plural := pluralEnglish
	if language == LanguageRussian {
		nouns, processed, nothing = nounsRussian, ackProcessedRussian, ackNothingRussian
		plural = pluralRussian
	}

	counts := []struct {
		key string
		n   int
	}{
		{"tasks", c.Tasks},
		{"notes", c.Notes},
		{"ideas", c.Ideas},
		{"locations", c.Locations},
		{"links", c.Links},
		{"images", c.Images},
	}
	var parts []string
	for _, item := range counts {
		if item.n == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", item.n, plural(item.n, nouns[item.key])))
	}
	if len(parts) == 0 {
		return nothing
	}
	return fmt.Sprintf(processed, strings.Join(parts, ", "))
}

func pluralEnglish(n int, w noun) string {
	if n == 1 {
		return w.one
	}
	return w.many
}

func pluralRussian(n int, w noun) string {
	mod10, mod100 := n%10, n%100
	switch {
	case mod10 == 1 && mod100 != 11:
		return w.one
	case mod10 >= 2 && mod10 <= 4 && (mod100 < 12 || mod100 > 14):
		return w.few
	default:
		return w.many
	}
}
