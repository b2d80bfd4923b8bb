// Package pattern is the terminal extraction tier: a stateless lexical
// rule engine over raw drawing text. It never fails; with no matches it
// returns an empty record. Every pattern in a field family contributes,
// not just the first that matches.
package pattern

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

// ProviderID identifies the engine when it runs as the last tier of the
// structured-extraction chain.
const ProviderID = "pattern-rules"

// coLocationWindow is how far around a matched standard the engine
// looks for a material designation, in bytes of UTF-8 text.
const coLocationWindow = 100

var (
	// materials, keyword-anchored: "Сталь 45", "материал: 12Х18Н10Т",
	// "Material = Steel 20". The captured token is digit-led or one of
	// the Ст/У designation families.
	materialKeywordRe = regexp.MustCompile(`(?i)(?:материал[ыа]?|сталь|steel)\s*[:=]?\s*([0-9]{1,2}[\p{L}0-9]*|ст[0-9][\p{L}0-9]*|у[0-9]{1,2}а?)`)
	// bracketed list form: "материалы = [45, 40Х]"
	materialListRe = regexp.MustCompile(`(?i)материал[ыа]?\s*=\s*\[([^\]]+)\]`)
	listSplitRe    = regexp.MustCompile(`[,;]`)

	// standards: ГОСТ/ОСТ/ТУ and Latin transliterations followed by a
	// dotted or dashed number, e.g. "ГОСТ 1050-2013", "ТУ 14-1-5481-2004".
	standardRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(ГОСТ|ОСТ|ТУ|GOST|OST|TU)\s*(\d+(?:[.\-–—]\d+)*)`)

	// roughness lexical forms, all unioned: Ra=, Ra with loose
	// separator, Cyrillic Ра, Rz, and the spelled-out keyword forms.
	roughnessRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ra\s*=\s*(\d+(?:[.,]\d+)?)`),
		regexp.MustCompile(`(?i)(?:^|[^\p{L}])ra\s*:?\s*(\d+(?:[.,]\d+)?)`),
		regexp.MustCompile(`(?:^|[^\p{L}])[Рр][Аа]\s*[:=]?\s*(\d+(?:[.,]\d+)?)`),
		regexp.MustCompile(`(?i)(?:^|[^\p{L}])rz\s*[:=]?\s*(\d+(?:[.,]\d+)?)`),
		regexp.MustCompile(`(?i)(?:шероховатость|roughness)[:\s]+(?:ra|rz)?\s*[:=]?\s*(\d+(?:[.,]\d+)?)`),
	}

	// fits: letter-digit pairs around a slash, Cyrillic lookalikes
	// included so OCR confusions still match; NormalizeFit folds them.
	fitRe = regexp.MustCompile(`(?:^|[^\p{L}0-9])([A-Za-zАВЕКМНОРСТУХавекмнорстух]\d{1,3}\s*[/\\]\s*[A-Za-zАВЕКМНОРСТУХавекмнорстух]\d{1,3})`)

	// heat treatment: labeled line or process keyword with an optional
	// hardness range ("закалка HRC 45-50").
	heatLabelRe   = regexp.MustCompile(`(?i)(?:термообработка|термообр\.?|heat\s*treatment)\s*[:\-]\s*([^\n;]+)`)
	heatKeywordRe = regexp.MustCompile(`(?i)(закалка|отжиг|нормализация|отпуск|цементация|азотирование|улучшение|старение)(\s*(?:до\s*)?(?:твердост[ьи]\s*)?(?:hrc|hrcэ|hb|hv)\s*\d+(?:[.,]\d+)?(?:\s*[-…]+\s*\d+(?:[.,]\d+)?)?)?`)

	// material shapes searched in the co-location window around each
	// standard: keyword-anchored grades plus the alloy/Ст/У families.
	windowMaterialRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:сталь|ст\.|steel)\s*([0-9]{1,2}[\p{L}0-9]*)`),
		regexp.MustCompile(`(?i)(?:^|[^\p{L}0-9])([0-9]{2}(?:х[\p{L}0-9]*|хгса|г2с|гс|г|хн[\p{L}0-9]*))(?:$|[^\p{L}0-9])`),
		regexp.MustCompile(`(?i)(?:^|[^\p{L}0-9])(ст[0-9][\p{L}0-9]*|у[0-9]{1,2}а?)(?:$|[^\p{L}0-9])`),
	}
)

// Extractor applies the rule families to text. The zero value is not
// usable; construct with NewExtractor.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract runs every pattern family over text and returns the
// normalized record. It is total: any input, including empty or binary
// garbage decoded as text, yields a valid record.
func (e *Extractor) Extract(text string) extract.Record {
	r := extract.Record{RawText: text}

	for _, m := range materialKeywordRe.FindAllStringSubmatch(text, -1) {
		r.Materials = append(r.Materials, m[1])
	}
	for _, m := range materialListRe.FindAllStringSubmatch(text, -1) {
		for _, part := range listSplitRe.Split(m[1], -1) {
			r.Materials = append(r.Materials, strings.TrimSpace(part))
		}
	}

	for _, idx := range standardRe.FindAllStringSubmatchIndex(text, -1) {
		prefix := text[idx[2]:idx[3]]
		number := text[idx[4]:idx[5]]
		r.Standards = append(r.Standards, prefix+" "+number)
		r.Materials = append(r.Materials, e.coLocatedMaterials(text, idx[2], idx[5])...)
	}

	for _, re := range roughnessRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v, ok := extract.ParseRoughness(m[1]); ok {
				r.RoughnessValues = append(r.RoughnessValues, v)
			}
		}
	}

	for _, m := range fitRe.FindAllStringSubmatch(text, -1) {
		r.Fits = append(r.Fits, m[1])
	}

	for _, m := range heatLabelRe.FindAllStringSubmatch(text, -1) {
		r.HeatTreatments = append(r.HeatTreatments, m[1])
	}
	for _, m := range heatKeywordRe.FindAllStringSubmatch(text, -1) {
		r.HeatTreatments = append(r.HeatTreatments, m[1]+m[2])
	}

	out := r.Normalized()
	e.logger.Debug("pattern.extract.ok",
		"materials", len(out.Materials),
		"standards", len(out.Standards),
		"roughness", len(out.RoughnessValues),
		"fits", len(out.Fits),
		"heat_treatments", len(out.HeatTreatments),
	)
	return out
}

// coLocatedMaterials searches the window around one matched standard
// for a plausible material designation. Heuristic only: a drawing often
// names the grade right next to its standard ("Сталь 45 ГОСТ 1050-88").
func (e *Extractor) coLocatedMaterials(text string, start, end int) []string {
	lo := start - coLocationWindow
	if lo < 0 {
		lo = 0
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	hi := end + coLocationWindow
	if hi > len(text) {
		hi = len(text)
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	window := text[lo:hi]

	var found []string
	for _, re := range windowMaterialRes {
		for _, m := range re.FindAllStringSubmatch(window, -1) {
			found = append(found, m[1])
		}
	}
	return found
}

// Provider exposes the engine as the terminal structured-extraction
// tier. It consumes Input.Text and cannot fail.
func (e *Extractor) Provider() extract.Provider {
	return extract.ProviderFunc{
		Name: ProviderID,
		Fn: func(_ context.Context, in extract.Input, _ extract.ProgressFunc) (extract.Result, error) {
			return extract.Result{Record: e.Extract(in.Text), Confidence: 0.4}, nil
		},
	}
}
