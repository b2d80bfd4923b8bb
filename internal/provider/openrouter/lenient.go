package openrouter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

var collectionKeys = []string{"materials", "standards", "fits", "heatTreatments"}

// SanitizeRecordJSON repairs a model reply so it can pass schema validation:
//   - renames known synonyms (raValues -> roughnessValues, heatTreatment ->
//     heatTreatments, snake_case variants)
//   - fills missing or null collections with empty arrays
//   - coerces scalar values into single-element arrays and numeric list
//     entries into strings
//   - parses string roughness entries into numbers and drops the rest
//   - removes unknown keys
//
// The returned list names every repair applied, for logging.
func SanitizeRecordJSON(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	changed := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			changed = append(changed, from+"->"+to)
		}
	}

	renamed("raValues", "roughnessValues")
	renamed("ra_values", "roughnessValues")
	renamed("roughness_values", "roughnessValues")
	renamed("heatTreatment", "heatTreatments")
	renamed("heat_treatment", "heatTreatments")
	renamed("raw_text", "rawText")

	for _, k := range collectionKeys {
		m[k] = coerceStringArray(m[k], k, &changed)
	}
	m["roughnessValues"] = coerceNumberArray(m["roughnessValues"], &changed)

	switch m["rawText"].(type) {
	case string:
		// keep verbatim
	case nil:
		m["rawText"] = ""
		changed = append(changed, "rawText(missing)")
	default:
		m["rawText"] = ""
		changed = append(changed, "rawText(type)")
	}

	allowed := map[string]struct{}{
		"materials": {}, "standards": {}, "roughnessValues": {},
		"fits": {}, "heatTreatments": {}, "rawText": {},
	}
	for k := range m {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			changed = append(changed, k+"(unknown)")
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, changed, nil
}

func coerceStringArray(v any, key string, changed *[]string) []any {
	switch t := v.(type) {
	case nil:
		*changed = append(*changed, key+"(missing)")
		return []any{}
	case string:
		s := strings.TrimSpace(t)
		*changed = append(*changed, key+"(scalar)")
		if s == "" {
			return []any{}
		}
		return []any{s}
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			switch el := e.(type) {
			case string:
				if s := strings.TrimSpace(el); s != "" {
					out = append(out, s)
				} else {
					*changed = append(*changed, key+"(empty-item)")
				}
			case float64:
				// steel grades like 45 come back as numbers
				out = append(out, fmt.Sprintf("%g", el))
				*changed = append(*changed, key+"(number-item)")
			default:
				*changed = append(*changed, key+"(item-type)")
			}
		}
		return out
	default:
		*changed = append(*changed, key+"(type)")
		return []any{}
	}
}

func coerceNumberArray(v any, changed *[]string) []any {
	switch t := v.(type) {
	case nil:
		*changed = append(*changed, "roughnessValues(missing)")
		return []any{}
	case float64:
		*changed = append(*changed, "roughnessValues(scalar)")
		if t > 0 {
			return []any{t}
		}
		return []any{}
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			switch el := e.(type) {
			case float64:
				if el > 0 {
					out = append(out, el)
				} else {
					*changed = append(*changed, "roughnessValues(non-positive)")
				}
			case string:
				if f, ok := extract.ParseRoughness(el); ok {
					out = append(out, f)
					*changed = append(*changed, "roughnessValues(string-item)")
				} else {
					*changed = append(*changed, "roughnessValues(bad-item)")
				}
			default:
				*changed = append(*changed, "roughnessValues(item-type)")
			}
		}
		return out
	default:
		*changed = append(*changed, "roughnessValues(type)")
		return []any{}
	}
}
