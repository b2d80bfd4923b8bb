package extract

import (
	"math"
	"slices"
	"strings"
)

// Record is the canonical structured output shared by every provider
// and the pattern engine. Collections are free of duplicates, never
// nil, and RoughnessValues is always sorted ascending. A Record is a
// value: once normalized and handed out it is not mutated again.
type Record struct {
	Materials       []string  `json:"materials"`
	Standards       []string  `json:"standards"`
	RoughnessValues []float64 `json:"roughnessValues"`
	Fits            []string  `json:"fits"`
	HeatTreatments  []string  `json:"heatTreatments"`
	RawText         string    `json:"rawText"`
}

// NewRecord returns an empty record with all collections materialized,
// so JSON output carries [] rather than null.
func NewRecord() Record {
	return Record{
		Materials:       []string{},
		Standards:       []string{},
		RoughnessValues: []float64{},
		Fits:            []string{},
		HeatTreatments:  []string{},
	}
}

// TextRecord wraps a bare text blob, the degenerate record an OCR
// provider produces.
func TextRecord(text string) Record {
	r := NewRecord()
	r.RawText = text
	return r
}

// IsEmpty reports whether the record carries no structured fields and
// no text.
func (r Record) IsEmpty() bool {
	return len(r.Materials) == 0 &&
		len(r.Standards) == 0 &&
		len(r.RoughnessValues) == 0 &&
		len(r.Fits) == 0 &&
		len(r.HeatTreatments) == 0 &&
		r.RawText == ""
}

// Normalized returns a copy of the record with every field invariant
// applied: entries trimmed and validated, duplicates removed
// case-insensitively preserving first-seen order and casing, roughness
// values positive, unique and ascending. Invalid entries are dropped
// silently, never surfaced as errors.
func (r Record) Normalized() Record {
	out := NewRecord()
	out.RawText = r.RawText

	seen := map[string]struct{}{}
	add := func(dst *[]string, v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		*dst = append(*dst, v)
	}

	for _, m := range r.Materials {
		add(&out.Materials, NormalizeMaterial(m))
	}

	clear(seen)
	for _, s := range r.Standards {
		if norm, ok := NormalizeStandard(s); ok {
			add(&out.Standards, norm)
		}
	}

	clear(seen)
	for _, f := range r.Fits {
		if norm, ok := NormalizeFit(f); ok {
			add(&out.Fits, norm)
		}
	}

	clear(seen)
	for _, h := range r.HeatTreatments {
		if norm, ok := NormalizeHeatTreatment(h); ok {
			add(&out.HeatTreatments, norm)
		}
	}

	for _, v := range r.RoughnessValues {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if !slices.Contains(out.RoughnessValues, v) {
			out.RoughnessValues = append(out.RoughnessValues, v)
		}
	}
	slices.Sort(out.RoughnessValues)

	return out
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	return Record{
		Materials:       slices.Clone(r.Materials),
		Standards:       slices.Clone(r.Standards),
		RoughnessValues: slices.Clone(r.RoughnessValues),
		Fits:            slices.Clone(r.Fits),
		HeatTreatments:  slices.Clone(r.HeatTreatments),
		RawText:         r.RawText,
	}
}
