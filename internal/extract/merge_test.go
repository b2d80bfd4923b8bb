package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeUnionKeepsAIOrderFirst(t *testing.T) {
	ai := Record{Materials: []string{"X"}}
	pattern := Record{Materials: []string{"X", "Y"}}

	got := Merge(ai, pattern)
	assert.Equal(t, []string{"X", "Y"}, got.Materials)
}

func TestMergeRoughnessUnionSortedAscending(t *testing.T) {
	ai := Record{RoughnessValues: []float64{3.2}}
	pattern := Record{RoughnessValues: []float64{1.6, 3.2}}

	got := Merge(ai, pattern)
	assert.Equal(t, []float64{1.6, 3.2}, got.RoughnessValues)
}

func TestMergeIsIdempotent(t *testing.T) {
	ai := Record{
		Materials:       []string{"45", "40Х"},
		Standards:       []string{"ГОСТ 1050-2013"},
		RoughnessValues: []float64{6.3, 0.8},
		Fits:            []string{"H7/f7"},
		HeatTreatments:  []string{"закалка HRC 45-50"},
		RawText:         "исходный текст",
	}
	pattern := Record{
		Materials:       []string{"40х", "Ст3"},
		Standards:       []string{"ту 14-1-5481-2004"},
		RoughnessValues: []float64{0.8, 12.5},
		Fits:            []string{"e9/H8"},
		HeatTreatments:  []string{"отпуск"},
	}

	first := Merge(ai, pattern)
	second := Merge(ai, pattern)
	assert.Equal(t, first, second)

	// merging a merged record with the same pattern record changes nothing
	assert.Equal(t, first, Merge(first, pattern))
}

func TestMergeCaseInsensitiveAcrossSources(t *testing.T) {
	ai := Record{Fits: []string{"H7/F7"}}
	pattern := Record{Fits: []string{"h7/f7", "G6/h5"}}

	got := Merge(ai, pattern)
	assert.Equal(t, []string{"H7/F7", "G6/H5"}, got.Fits)
}

func TestMergeRawTextPrefersAIRecord(t *testing.T) {
	ai := TextRecord("recognized text")
	pattern := TextRecord("original input")

	assert.Equal(t, "recognized text", Merge(ai, pattern).RawText)
	assert.Equal(t, "original input", Merge(NewRecord(), pattern).RawText)
}

func TestMergeEmptyRecords(t *testing.T) {
	got := Merge(NewRecord(), NewRecord())

	assert.True(t, got.IsEmpty())
	assert.NotNil(t, got.Materials)
	assert.NotNil(t, got.RoughnessValues)
}
