package pipeline

import "strings"

// localeCodes maps the language knob values to subtitle locale suffixes.
var localeCodes = map[string]string{
	"english":    "en",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"portuguese": "pt",
	"italian":    "it",
	"thai":       "th",
}

// LocaleCode returns the short locale suffix for a language knob value.
// Unknown languages fall back to their first two letters; empty means
// English.
func LocaleCode(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return "en"
	}
	if code, ok := localeCodes[language]; ok {
		return code
	}
	if len(language) <= 3 {
		return language
	}
	return language[:2]
}

func orEnglish(language string) string {
	if language == "" {
		return "english"
	}
	return language
}
