package steel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain digits", "45", "45"},
		{"trims and uppercases", "  40х ", "40Х"},
		{"latin lookalikes fold to cyrillic", "40X", "40Х"},
		{"mixed alphabet stainless", "12X18H10T", "12Х18Н10Т"},
		{"steel prefix dropped", "Сталь 45", "45"},
		{"english prefix dropped", "steel 20", "20"},
		{"inner spaces stripped", "09 Г2С", "09Г2С"},
		{"st3 is a grade, not a prefix", "Ст3", "СТ3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestLookupKnownGrades(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		grade    string
		wantASTM string
		wantGBT  string
	}{
		{"45", "AISI 1045", "45"},
		{"40Х", "AISI 5140", "40Cr"},
		{"40X", "AISI 5140", "40Cr"}, // Latin X input
		{"12Х18Н10Т", "AISI 321", "06Cr18Ni11Ti"},
		{"Сталь 45", "AISI 1045", "45"},
		{"шх15", "AISI 52100", "GCr15"},
	}
	for _, tt := range tests {
		t.Run(tt.grade, func(t *testing.T) {
			res := table.Lookup(tt.grade)
			require.True(t, res.Found, "expected %q in table", tt.grade)
			assert.Equal(t, tt.wantASTM, res.ASTM)
			assert.Equal(t, tt.wantGBT, res.GBT)
			assert.NotEmpty(t, res.GOST)
			assert.NotEmpty(t, res.Description)
		})
	}
}

func TestLookupMissIsAnAnswer(t *testing.T) {
	res := DefaultTable().Lookup("неведомая марка")
	assert.False(t, res.Found)
	assert.Equal(t, Equivalents{}, res.Equivalents)
	assert.NotEmpty(t, res.Grade)
}

func TestLoadTableOverridesAndExtends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steel.yaml")
	content := `grades:
  "38ХС":
    gost: ГОСТ 4543-2016
    astm: AISI 5135
    iso: 37CrS4
    gbt: 38CrSi
    description: Chromium-silicon structural steel
  "45":
    gost: ГОСТ 1050-2013
    astm: OVERRIDDEN
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := LoadTable(path)
	require.NoError(t, err)

	added := table.Lookup("38хс")
	require.True(t, added.Found)
	assert.Equal(t, "38CrSi", added.GBT)

	overridden := table.Lookup("45")
	require.True(t, overridden.Found)
	assert.Equal(t, "OVERRIDDEN", overridden.ASTM)

	// untouched builtin entries survive
	assert.True(t, table.Lookup("40Х").Found)
}

func TestLoadTableMissingFile(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	res := DefaultTable().Lookup("45")
	decoded, err := DecodeResult(res.Encode())
	require.NoError(t, err)
	assert.Equal(t, res, decoded)

	_, err = DecodeResult("not json")
	assert.Error(t, err)
}

func TestProviderNeverFails(t *testing.T) {
	p := DefaultTable().Provider()
	require.Equal(t, ProviderID, p.ID())

	hit, err := p.Attempt(context.Background(), extract.Input{Text: "40Х"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"40Х"}, hit.Record.Materials)
	assert.InDelta(t, 0.9, hit.Confidence, 0.001)
	decoded, err := DecodeResult(hit.Record.RawText)
	require.NoError(t, err)
	assert.True(t, decoded.Found)

	miss, err := p.Attempt(context.Background(), extract.Input{Text: "что-то"}, nil)
	require.NoError(t, err)
	decoded, err = DecodeResult(miss.Record.RawText)
	require.NoError(t, err)
	assert.False(t, decoded.Found)
	assert.Zero(t, miss.Confidence)
}
