package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveGeoEntitiesMergesNameVariants(t *testing.T) {
	entities := Entities{
		"GPE": {
			{Text: "USA", Score: 0.9},
			{Text: "United States", Score: 0.8},
			{Text: "America", Score: 0.7},
		},
	}

	got := ResolveGeoEntities(entities, "", nil)

	require.Len(t, got, 1)
	assert.Equal(t, "United States", got[0].Name)
	assert.Equal(t, "US", got[0].Alpha2)
	assert.Equal(t, "USA", got[0].Alpha3)
	assert.Equal(t, 3, got[0].Count)
	assert.InDelta(t, 0.8, got[0].AvgScore, 1e-9)
}

func TestResolveGeoEntitiesBritishVariants(t *testing.T) {
	entities := Entities{
		"GPE": {
			{Text: "Britain", Score: 0.9},
			{Text: "UK", Score: 0.9},
			{Text: "England", Score: 0.9},
		},
	}

	got := ResolveGeoEntities(entities, "", nil)

	require.Len(t, got, 1)
	assert.Equal(t, "GBR", got[0].Alpha3)
	assert.Equal(t, 3, got[0].Count)
}

func TestResolveGeoEntitiesExactDisplayNames(t *testing.T) {
	entities := Entities{
		"LOC": {{Text: "Germany", Score: 0.95}},
		"GPE": {
			{Text: "france", Score: 0.9},
			{Text: "Japan", Score: 0.85},
		},
	}

	got := ResolveGeoEntities(entities, "", nil)

	require.Len(t, got, 3)
	codes := []string{got[0].Alpha3, got[1].Alpha3, got[2].Alpha3}
	assert.Equal(t, []string{"DEU", "FRA", "JPN"}, codes)
}

func TestResolveGeoEntitiesParentheticalAlias(t *testing.T) {
	entities := Entities{"GPE": {{Text: "Burma", Score: 0.8}}}

	got := ResolveGeoEntities(entities, "", nil)

	require.Len(t, got, 1)
	assert.Equal(t, "Myanmar", got[0].Name)
	assert.Equal(t, "MM", got[0].Alpha2)
	assert.Equal(t, "MMR", got[0].Alpha3)
}

func TestResolveGeoEntitiesOrdersByCount(t *testing.T) {
	entities := Entities{
		"GPE": {
			{Text: "Germany", Score: 0.9},
			{Text: "France", Score: 0.9},
			{Text: "France", Score: 0.8},
		},
	}

	got := ResolveGeoEntities(entities, "", nil)

	require.Len(t, got, 2)
	assert.Equal(t, "FRA", got[0].Alpha3)
	assert.Equal(t, 2, got[0].Count)
	assert.Equal(t, "DEU", got[1].Alpha3)
}

func TestResolveGeoEntitiesTiesKeepFirstResolvedOrder(t *testing.T) {
	entities := Entities{
		"LOC": {{Text: "Italy", Score: 0.9}},
		"GPE": {{Text: "Spain", Score: 0.9}},
	}

	got := ResolveGeoEntities(entities, "", nil)

	require.Len(t, got, 2)
	// LOC mentions resolve before GPE mentions.
	assert.Equal(t, "ITA", got[0].Alpha3)
	assert.Equal(t, "ESP", got[1].Alpha3)
}

func TestResolveGeoEntitiesSourceCountryAppended(t *testing.T) {
	got := ResolveGeoEntities(Entities{}, "DE", nil)

	require.Len(t, got, 1)
	assert.Equal(t, "Germany", got[0].Name)
	assert.Equal(t, "DEU", got[0].Alpha3)
	assert.Equal(t, 1, got[0].Count)
	assert.InDelta(t, 0.5, got[0].AvgScore, 1e-9)
}

func TestResolveGeoEntitiesSourceCountryNotDuplicated(t *testing.T) {
	entities := Entities{"GPE": {{Text: "Germany", Score: 0.9}}}

	got := ResolveGeoEntities(entities, "DE", nil)

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Count)
	assert.InDelta(t, 0.9, got[0].AvgScore, 1e-9)
}

func TestResolveGeoEntitiesScoreRounding(t *testing.T) {
	entities := Entities{
		"GPE": {
			{Text: "Iran", Score: 1.0},
			{Text: "Iran", Score: 0.0},
			{Text: "Iran", Score: 0.0},
		},
	}

	got := ResolveGeoEntities(entities, "", nil)

	require.Len(t, got, 1)
	assert.InDelta(t, 0.3333, got[0].AvgScore, 1e-9)
}

func TestResolveGeoEntitiesUserOverrides(t *testing.T) {
	overrides := map[string]string{"the hexagon": "FR"}
	entities := Entities{"GPE": {{Text: "The Hexagon", Score: 0.7}}}

	got := ResolveGeoEntities(entities, "", overrides)

	require.Len(t, got, 1)
	assert.Equal(t, "France", got[0].Name)
	assert.Equal(t, "FRA", got[0].Alpha3)
}

func TestResolveGeoEntitiesUppercaseCodeMentions(t *testing.T) {
	entities := Entities{
		"GPE": {
			{Text: "FR", Score: 0.9},
			{Text: "fr", Score: 0.9},
		},
	}

	got := ResolveGeoEntities(entities, "", nil)

	// Only the all-uppercase form is treated as an ISO code.
	require.Len(t, got, 1)
	assert.Equal(t, "FRA", got[0].Alpha3)
	assert.Equal(t, 1, got[0].Count)
}

func TestResolveGeoEntitiesIgnoresUnresolvable(t *testing.T) {
	entities := Entities{
		"GPE": {
			{Text: "Springfield", Score: 0.9},
			{Text: "Atlantis", Score: 0.9},
			{Text: "", Score: 0.9},
		},
		"PERSON": {{Text: "France", Score: 0.9}},
	}

	got := ResolveGeoEntities(entities, "", nil)
	assert.Empty(t, got)
}

func TestResolveCountryBuiltinOverrides(t *testing.T) {
	tests := []struct {
		mention string
		alpha3  string
	}{
		{"u.s.", "USA"},
		{"Czech Republic", "CZE"},
		{"Ivory Coast", "CIV"},
		{"DRC", "COD"},
		{"North Korea", "PRK"},
		{"UAE", "ARE"},
	}

	for _, tt := range tests {
		t.Run(tt.mention, func(t *testing.T) {
			ref, ok := resolveCountry(tt.mention, nil)
			require.True(t, ok)
			assert.Equal(t, tt.alpha3, ref.Alpha3)
		})
	}
}
