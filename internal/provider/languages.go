package provider

import "strings"

var languageNames = map[string]string{
	"rus":     "Russian",
	"ru":      "Russian",
	"russian": "Russian",
	"eng":     "English",
	"en":      "English",
	"english": "English",
}

// LanguageNames renders recognition language codes as a human-readable
// list for prompts, e.g. ["rus","eng"] -> "Russian, English". Unknown
// codes pass through unchanged.
func LanguageNames(langs []string) string {
	if len(langs) == 0 {
		langs = []string{"rus", "eng"}
	}
	names := make([]string, len(langs))
	for i, l := range langs {
		if n, ok := languageNames[strings.ToLower(l)]; ok {
			names[i] = n
		} else {
			names[i] = l
		}
	}
	return strings.Join(names, ", ")
}
