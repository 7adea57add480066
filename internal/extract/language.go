package extract

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	LanguageEnglish = "en"
	LanguageRussian = "ru"
)

// DetectLanguage compares Cyrillic and Latin letter counts. Ties, including text
// without letters, return fallback.
func DetectLanguage(text, fallback string) string {
	var cyrillic, latin int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	switch {
	case cyrillic > latin:
		return LanguageRussian
	case latin > cyrillic:
		return LanguageEnglish
	default:
		return fallback
	}
}

// speechLanguageCodes maps a short language to recognizer hints, preferred first.
func speechLanguageCodes(lang string) []string {
	if lang == LanguageRussian {
		return []string{"ru-RU", "en-US"}
	}
	return []string{"en-US", "ru-RU"}
}

var (
	locationEnglish = regexp.MustCompile(`(?:^|[\s,;(])(?:[Aa]t|[Ii]n|[Nn]ear)\s+(\p{Lu}[\p{L}'\-]+(?:\s+\p{Lu}[\p{L}'\-]+)*)`)
	locationRussian = regexp.MustCompile(`(?:^|[\s,;(])(?:[вВ]о?|[нН]а|[уУ]|[оО]коло)\s+(\p{Lu}[\p{L}\-]+(?:\s+\p{Lu}[\p{L}\-]+)*)`)
)

// ExtractLocations finds place-like phrases: a location preposition followed by
// capitalized words.
func ExtractLocations(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, re := range []*regexp.Regexp{locationEnglish, locationRussian} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			loc := strings.TrimSpace(m[1])
			key := strings.ToLower(loc)
			if loc == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, loc)
		}
	}
	return out
}
