package extract

import "slices"

// Merge reconciles the AI-derived record with the pattern engine's
// record into one normalized record. The AI sequence comes first in
// every ordered-set field because AI results are assumed higher
// precision; pattern entries not already present (case-insensitively)
// are appended in their own first-seen order. Roughness values are a
// numeric union, sorted ascending. RawText is taken verbatim from the
// AI record when it carries one, otherwise from the pattern record.
//
// Merge is a pure function: identical inputs always produce identical
// output, so callers may retry it idempotently.
func Merge(ai, pattern Record) Record {
	combined := Record{
		Materials:       concat(ai.Materials, pattern.Materials),
		Standards:       concat(ai.Standards, pattern.Standards),
		RoughnessValues: append(slices.Clone(ai.RoughnessValues), pattern.RoughnessValues...),
		Fits:            concat(ai.Fits, pattern.Fits),
		HeatTreatments:  concat(ai.HeatTreatments, pattern.HeatTreatments),
		RawText:         ai.RawText,
	}
	if combined.RawText == "" {
		combined.RawText = pattern.RawText
	}
	return combined.Normalized()
}

func concat(first, second []string) []string {
	out := make([]string, 0, len(first)+len(second))
	out = append(out, first...)
	out = append(out, second...)
	return out
}
