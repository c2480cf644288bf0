package enrich

import (
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// GeoEntity is a location mention resolved to a country, in the shape the
// feed_entries.geo_entities column expects.
type GeoEntity struct {
	Name     string  `json:"name"`
	Count    int     `json:"count"`
	Alpha2   string  `json:"alpha2"`
	Alpha3   string  `json:"alpha3"`
	AvgScore float64 `json:"avg_score"`
}

type countryRef struct {
	Name   string
	Alpha2 string
	Alpha3 string
}

// builtinOverrides map common name variants that the region catalog does
// not resolve on its own.
var builtinOverrides = map[string]countryRef{
	"usa":                      {"United States", "US", "USA"},
	"u.s.":                     {"United States", "US", "USA"},
	"u. s.":                    {"United States", "US", "USA"},
	"u.s.a.":                   {"United States", "US", "USA"},
	"united states of america": {"United States", "US", "USA"},
	"united states":            {"United States", "US", "USA"},
	"america":                  {"United States", "US", "USA"},
	"uk":                       {"United Kingdom", "GB", "GBR"},
	"u.k.":                     {"United Kingdom", "GB", "GBR"},
	"britain":                  {"United Kingdom", "GB", "GBR"},
	"great britain":            {"United Kingdom", "GB", "GBR"},
	"england":                  {"United Kingdom", "GB", "GBR"},
	"russia":                   {"Russia", "RU", "RUS"},
	"south korea":              {"South Korea", "KR", "KOR"},
	"north korea":              {"North Korea", "KP", "PRK"},
	"iran":                     {"Iran", "IR", "IRN"},
	"syria":                    {"Syria", "SY", "SYR"},
	"palestine":                {"Palestine", "PS", "PSE"},
	"taiwan":                   {"Taiwan", "TW", "TWN"},
	"czech republic":           {"Czechia", "CZ", "CZE"},
	"ivory coast":              {"Côte d'Ivoire", "CI", "CIV"},
	"congo":                    {"Congo", "CG", "COG"},
	"dr congo":                 {"DR Congo", "CD", "COD"},
	"drc":                      {"DR Congo", "CD", "COD"},
	"uae":                      {"United Arab Emirates", "AE", "ARE"},
}

var (
	catalogOnce   sync.Once
	countryByName map[string]countryRef
)

// countryCatalog lazily builds a lowercased-name index over every ISO
// 3166-1 country, using English display names. Names with a parenthetical
// alias index both forms. Built once per process, immutable afterwards.
func countryCatalog() map[string]countryRef {
	catalogOnce.Do(func() {
		countryByName = make(map[string]countryRef, 300)
		namer := display.English.Regions()

		for a := 'A'; a <= 'Z'; a++ {
			for b := 'A'; b <= 'Z'; b++ {
				region, err := language.ParseRegion(string([]rune{a, b}))
				if err != nil || !region.IsCountry() {
					continue
				}

				name := namer.Name(region)
				if name == "" {
					continue
				}

				displayName := name
				if i := strings.Index(name, " ("); i > 0 {
					displayName = name[:i]
				}

				ref := countryRef{Name: displayName, Alpha2: region.String(), Alpha3: region.ISO3()}

				addName := func(n string) {
					key := strings.ToLower(strings.TrimSpace(n))
					if key == "" {
						return
					}
					if _, exists := countryByName[key]; !exists {
						countryByName[key] = ref
					}
				}

				addName(name)
				if i := strings.Index(name, " ("); i > 0 {
					addName(name[:i])
					addName(strings.Trim(name[i:], " ()"))
				}
			}
		}
	})

	return countryByName
}

// resolveCountry maps a location mention to a country. User overrides win,
// then the built-in variant table, then exact display-name match, and
// finally all-uppercase mentions are tried as ISO codes.
func resolveCountry(name string, userOverrides map[string]string) (countryRef, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return countryRef{}, false
	}

	if code, ok := userOverrides[key]; ok {
		if ref, ok := refFromCode(code); ok {
			return ref, true
		}
	}

	if ref, ok := builtinOverrides[key]; ok {
		return ref, true
	}

	if ref, ok := countryCatalog()[key]; ok {
		return ref, true
	}

	if (len(key) == 2 || len(key) == 3) && name == strings.ToUpper(name) {
		return refFromCode(key)
	}

	return countryRef{}, false
}

func refFromCode(code string) (countryRef, bool) {
	region, err := language.ParseRegion(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil || !region.IsCountry() {
		return countryRef{}, false
	}

	name := display.English.Regions().Name(region)
	if name == "" {
		return countryRef{}, false
	}
	if i := strings.Index(name, " ("); i > 0 {
		name = name[:i]
	}

	return countryRef{Name: name, Alpha2: region.String(), Alpha3: region.ISO3()}, true
}

// ResolveGeoEntities resolves LOC and GPE mentions to countries.
//
// Mentions resolving to the same country merge: counts add up and scores
// average (rounded to 4 decimals). The source country, when given and not
// already present, is appended at confidence 0.5. The result is ordered by
// count descending, ties keeping first-resolved order.
func ResolveGeoEntities(entities Entities, sourceCountry string, overrides map[string]string) []GeoEntity {
	type accum struct {
		ref    countryRef
		scores []float64
		count  int
	}

	byAlpha3 := make(map[string]*accum)
	var order []string

	for _, category := range []string{"LOC", "GPE"} {
		for _, mention := range entities[category] {
			if mention.Text == "" {
				continue
			}

			ref, ok := resolveCountry(mention.Text, overrides)
			if !ok {
				continue
			}

			a, seen := byAlpha3[ref.Alpha3]
			if !seen {
				a = &accum{ref: ref}
				byAlpha3[ref.Alpha3] = a
				order = append(order, ref.Alpha3)
			}
			a.scores = append(a.scores, mention.Score)
			a.count++
		}
	}

	if sourceCountry != "" {
		if ref, ok := resolveCountry(sourceCountry, overrides); ok {
			if _, seen := byAlpha3[ref.Alpha3]; !seen {
				byAlpha3[ref.Alpha3] = &accum{ref: ref, scores: []float64{0.5}, count: 1}
				order = append(order, ref.Alpha3)
			}
		}
	}

	result := make([]GeoEntity, 0, len(order))
	for _, alpha3 := range order {
		a := byAlpha3[alpha3]

		avg := 0.0
		for _, s := range a.scores {
			avg += s
		}
		if len(a.scores) > 0 {
			avg /= float64(len(a.scores))
		}

		result = append(result, GeoEntity{
			Name:     a.ref.Name,
			Count:    a.count,
			Alpha2:   a.ref.Alpha2,
			Alpha3:   a.ref.Alpha3,
			AvgScore: math.Round(avg*10000) / 10000,
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Count > result[j].Count
	})

	return result
}
