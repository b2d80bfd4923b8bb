package constants

import (
	"strings"
)

// TaskKind identifies one pipeline task type. Each kind has its own
// provider chain and default per-attempt timeout.
type TaskKind string

const (
	TaskOCR               TaskKind = "OCR"
	TaskTranslate         TaskKind = "TRANSLATE"
	TaskStructuredExtract TaskKind = "STRUCTURED_EXTRACT"
	TaskSteelLookup       TaskKind = "STEEL_LOOKUP"
)

var allTaskKinds = []TaskKind{
	TaskOCR,
	TaskTranslate,
	TaskStructuredExtract,
	TaskSteelLookup,
}

// TaskKinds returns the stable value set as strings.
func TaskKinds() []string {
	result := make([]string, len(allTaskKinds))
	for i, k := range allTaskKinds {
		result[i] = string(k)
	}
	return result
}

// ParseTaskKind maps loose user input (CLI flags, API fields) onto a
// canonical TaskKind.
func ParseTaskKind(input string) (TaskKind, bool) {
	if input == "" {
		return "", false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]TaskKind{
		"ocr":         TaskOCR,
		"text":        TaskOCR,
		"recognize":   TaskOCR,
		"translate":   TaskTranslate,
		"translation": TaskTranslate,
		"extract":     TaskStructuredExtract,
		"extraction":  TaskStructuredExtract,
		"structured":  TaskStructuredExtract,
		"fields":      TaskStructuredExtract,
		"steel":       TaskSteelLookup,
		"grade":       TaskSteelLookup,
	}

	if kind, ok := synonyms[normalized]; ok {
		return kind, true
	}

	for _, kind := range allTaskKinds {
		if normalized == strings.ToLower(string(kind)) {
			return kind, true
		}
	}

	return "", false
}

// IsTextTask reports whether the task consumes text rather than raw
// document bytes. Text tasks get a pattern-extraction pass merged into
// the winning provider's record.
func (k TaskKind) IsTextTask() bool {
	return k != TaskOCR
}
