// Package glossary carries the technical term table for Russian
// engineering documents. The table is applied to text before it
// reaches a translation model so domain terms survive paraphrasing,
// and the package doubles as the terminal translation tier when every
// model is down.
package glossary

import (
	"context"
	"regexp"
	"strings"

	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

// ProviderID identifies the terminal translation tier in chain
// configuration and progress entries.
const ProviderID = "glossary"

// defaultTerms maps lowercased Russian terms to canonical English.
// Matching ignores case; replacement always uses the casing here.
var defaultTerms = map[string]string{
	"материал":       "material",
	"сталь":          "steel",
	"гост":           "GOST",
	"ост":            "OST",
	"ту":             "TU",
	"посадка":        "fit",
	"термообработка": "heat treatment",
	"шероховатость":  "roughness",
	"ra":             "Ra",
	"точность":       "accuracy",
	"допуск":         "tolerance",
	"размер":         "size",
	"диаметр":        "diameter",
	"длина":          "length",
	"ширина":         "width",
	"высота":         "height",
	"толщина":        "thickness",
}

// wordRe tokenizes on letter and digit runs. Substitution works token
// by token, so adjacent occurrences and Cyrillic words match reliably
// where an ASCII \b boundary would not.
var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Glossary is a word-level RU to EN substituter.
type Glossary struct {
	terms map[string]string
}

func New() *Glossary {
	return &Glossary{terms: defaultTerms}
}

// Apply replaces every known term, case-insensitively, and preserves
// all text it does not recognize.
func (g *Glossary) Apply(text string) string {
	return wordRe.ReplaceAllStringFunc(text, func(w string) string {
		if en, ok := g.terms[strings.ToLower(w)]; ok {
			return en
		}
		return w
	})
}

// Len reports the number of terms. Used by health reporting.
func (g *Glossary) Len() int { return len(g.terms) }

// Translator exposes the table as the terminal translation tier. It
// never fails: Russian-to-English input gets the word substitution,
// any other direction passes the source text through, so a dead model
// tier degrades to readable output instead of an error.
func (g *Glossary) Translator() extract.Provider {
	return extract.ProviderFunc{
		Name: ProviderID,
		Fn: func(_ context.Context, in extract.Input, _ extract.ProgressFunc) (extract.Result, error) {
			from, to := in.FromLang, in.ToLang
			if from == "" {
				from = "ru"
			}
			if to == "" {
				to = "en"
			}
			if !isRussian(from) || !isEnglish(to) {
				return extract.Result{
					Record:   extract.TextRecord(in.Text),
					Warnings: []string{"translation unavailable, source text returned"},
				}, nil
			}
			return extract.Result{
				Record:   extract.TextRecord(g.Apply(in.Text)),
				Warnings: []string{"glossary substitution only, not a full translation"},
			}, nil
		},
	}
}

func isRussian(lang string) bool {
	switch strings.ToLower(lang) {
	case "ru", "rus", "russian":
		return true
	}
	return false
}

func isEnglish(lang string) bool {
	switch strings.ToLower(lang) {
	case "en", "eng", "english":
		return true
	}
	return false
}
