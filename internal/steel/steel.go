// Package steel maps Russian steel grades onto their closest ASTM, ISO
// and GB/T equivalents. A compiled-in table covers the common
// structural, tool and stainless grades; a YAML file can extend or
// override it. The table doubles as the terminal STEEL_LOOKUP tier and
// never fails a chain.
package steel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

// ProviderID identifies the local table tier in chain configuration
// and progress entries.
const ProviderID = "steel-table"

// Equivalents holds the cross-standard designations for one grade.
type Equivalents struct {
	GOST        string `json:"gost" yaml:"gost"`
	ASTM        string `json:"astm" yaml:"astm"`
	ISO         string `json:"iso" yaml:"iso"`
	GBT         string `json:"gbt" yaml:"gbt"`
	Description string `json:"description" yaml:"description"`
}

// Result is the outcome of one lookup. Found stays false on a miss and
// the equivalents are zero-valued; a miss is an answer, not an error.
type Result struct {
	Grade string `json:"grade"`
	Found bool   `json:"found"`
	Equivalents
}

// Encode renders the result as the JSON document carried in a chain
// record's rawText.
func (r Result) Encode() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// DecodeResult parses a rawText payload produced by Encode or by the
// model tier.
func DecodeResult(s string) (Result, error) {
	var r Result
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Result{}, fmt.Errorf("decode steel result: %w", err)
	}
	return r, nil
}

// builtin holds the compiled-in table, keyed by normalized grade.
var builtin = map[string]Equivalents{
	"СТ3":       {GOST: "ГОСТ 380-2005", ASTM: "A283 Gr.C", ISO: "S235JR", GBT: "Q235B", Description: "Common structural carbon steel"},
	"10":        {GOST: "ГОСТ 1050-2013", ASTM: "AISI 1010", ISO: "C10", GBT: "10", Description: "Low-carbon steel for cold-formed parts"},
	"20":        {GOST: "ГОСТ 1050-2013", ASTM: "AISI 1020", ISO: "C22", GBT: "20", Description: "Low-carbon steel for carburized parts"},
	"45":        {GOST: "ГОСТ 1050-2013", ASTM: "AISI 1045", ISO: "C45", GBT: "45", Description: "Medium-carbon structural steel for shafts and gears"},
	"65Г":       {GOST: "ГОСТ 14959-2016", ASTM: "AISI 1066", ISO: "66Mn4", GBT: "65Mn", Description: "Manganese spring steel"},
	"У8А":       {GOST: "ГОСТ 1435-99", ASTM: "W1-8", ISO: "C80U", GBT: "T8A", Description: "High-quality carbon tool steel"},
	"40Х":       {GOST: "ГОСТ 4543-2016", ASTM: "AISI 5140", ISO: "41Cr4", GBT: "40Cr", Description: "Chromium structural steel, quenched and tempered"},
	"40ХН":      {GOST: "ГОСТ 4543-2016", ASTM: "AISI 3140", ISO: "40NiCr6", GBT: "40CrNi", Description: "Chromium-nickel structural steel"},
	"30ХГСА":    {GOST: "ГОСТ 4543-2016", ASTM: "AISI 4130", ISO: "30CrMnSi", GBT: "30CrMnSiA", Description: "High-strength alloy steel (chromansil)"},
	"09Г2С":     {GOST: "ГОСТ 19281-2014", ASTM: "A572 Gr.50", ISO: "S355J2", GBT: "Q345B", Description: "Low-alloy steel for welded structures"},
	"ШХ15":      {GOST: "ГОСТ 801-78", ASTM: "AISI 52100", ISO: "100Cr6", GBT: "GCr15", Description: "Chromium bearing steel"},
	"20Х13":     {GOST: "ГОСТ 5632-2014", ASTM: "AISI 420", ISO: "X20Cr13", GBT: "20Cr13", Description: "Martensitic stainless steel"},
	"08Х18Н10":  {GOST: "ГОСТ 5632-2014", ASTM: "AISI 304", ISO: "X5CrNi18-10", GBT: "06Cr19Ni10", Description: "Austenitic stainless steel"},
	"12Х18Н10Т": {GOST: "ГОСТ 5632-2014", ASTM: "AISI 321", ISO: "X6CrNiTi18-10", GBT: "06Cr18Ni11Ti", Description: "Titanium-stabilized austenitic stainless steel"},
}

// latinToCyrillic folds Latin lookalikes onto the Cyrillic letters
// grades are written in, so "40X" typed on a Latin keyboard or read by
// OCR still hits "40Х".
var latinToCyrillic = map[rune]rune{
	'A': 'А', 'B': 'В', 'E': 'Е', 'K': 'К', 'M': 'М', 'H': 'Н',
	'O': 'О', 'P': 'Р', 'C': 'С', 'T': 'Т', 'Y': 'У', 'X': 'Х',
}

// Table answers grade lookups. Construct with DefaultTable or
// LoadTable; the zero value is empty but usable.
type Table struct {
	entries map[string]Equivalents
}

// DefaultTable returns the compiled-in table.
func DefaultTable() *Table {
	entries := make(map[string]Equivalents, len(builtin))
	for grade, eq := range builtin {
		entries[grade] = eq
	}
	return &Table{entries: entries}
}

// tableFile is the on-disk override format:
//
//	grades:
//	  "38ХС":
//	    gost: ГОСТ 4543-2016
//	    gbt: 38CrSi
type tableFile struct {
	Grades map[string]Equivalents `yaml:"grades"`
}

// LoadTable reads a YAML override file and lays it over the builtin
// table. File entries win on key collisions.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse steel table %s: %w", path, err)
	}

	t := DefaultTable()
	for grade, eq := range tf.Grades {
		t.entries[Normalize(grade)] = eq
	}
	return t, nil
}

// Len reports the number of grades in the table.
func (t *Table) Len() int { return len(t.entries) }

// Lookup resolves one grade. It is total: unknown grades come back
// with Found false and the normalized grade echoed.
func (t *Table) Lookup(grade string) Result {
	norm := Normalize(grade)
	if eq, ok := t.entries[norm]; ok {
		return Result{Grade: norm, Found: true, Equivalents: eq}
	}
	return Result{Grade: norm}
}

// Normalize canonicalizes a grade designation: trim, drop a leading
// "сталь"/"steel" word, upper-case, strip inner spaces and fold Latin
// lookalike letters onto Cyrillic.
func Normalize(grade string) string {
	g := strings.TrimSpace(grade)
	lower := strings.ToLower(g)
	for _, prefix := range []string{"сталь ", "steel "} {
		// Cyrillic case pairs share byte length, so the prefix length
		// carries over from the lowered copy.
		if strings.HasPrefix(lower, prefix) {
			g = strings.TrimSpace(g[len(prefix):])
			break
		}
	}
	g = strings.ToUpper(strings.ReplaceAll(g, " ", ""))
	return strings.Map(func(r rune) rune {
		if cyr, ok := latinToCyrillic[r]; ok {
			return cyr
		}
		return r
	}, g)
}

// Provider exposes the table as the terminal STEEL_LOOKUP tier. The
// input text is the grade; the result record carries the normalized
// grade as material and the encoded lookup result as rawText. It
// cannot fail.
func (t *Table) Provider() extract.Provider {
	return extract.ProviderFunc{
		Name: ProviderID,
		Fn: func(_ context.Context, in extract.Input, _ extract.ProgressFunc) (extract.Result, error) {
			res := t.Lookup(in.Text)
			conf := float32(0)
			if res.Found {
				conf = 0.9
			}
			return extract.Result{
				Record: extract.Record{
					Materials: []string{res.Grade},
					RawText:   res.Encode(),
				},
				Confidence: conf,
			}, nil
		},
	}
}
