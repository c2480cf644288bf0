package enrich

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguageTrustsStoredCode(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		want     string
	}{
		{"two letter code", "en", "en"},
		{"three letter collapses", "eng", "en"},
		{"german three letter", "deu", "de"},
		{"french three letter", "fra", "fr"},
		{"unrelated text ignored", "es", "es"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectLanguage("completely unrelated english words here", tt.existing)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectLanguageUppercaseCodeFallsToDetection(t *testing.T) {
	// Stored values are only trusted in lowercase ISO form.
	got := DetectLanguage("The minister said that the vote was delayed and the debate is set for Monday.", "EN")
	assert.Equal(t, "en", got)
}

func TestDetectLanguageByScript(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			"russian",
			"Президент подписал указ о новых мерах поддержки экономики страны в условиях кризиса",
			"ru",
		},
		{
			"arabic",
			"أعلنت الحكومة عن خطة جديدة لدعم الاقتصاد الوطني في العام المقبل",
			"ar",
		},
		{
			"chinese",
			"政府宣布新的经济政策以支持国家发展和改善民生并保障社会稳定",
			"zh",
		},
		{
			"japanese kana mixed with han",
			"政府は新しい経済政策を発表しました。これにより国民の生活が改善されます。",
			"ja",
		},
		{
			"korean",
			"정부는 새로운 경제 정책을 발표했다 국민의 삶을 개선하기 위한 조치다",
			"ko",
		},
		{
			"hindi",
			"सरकार ने नई आर्थिक नीति की घोषणा की जो देश के विकास में मदद करेगी",
			"hi",
		},
		{
			"greek",
			"Η κυβέρνηση ανακοίνωσε νέα οικονομικά μέτρα για τη στήριξη των πολιτών",
			"el",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.text, ""))
		})
	}
}

func TestDetectLanguageLatinStopwords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			"english",
			"The quick brown fox jumped over the lazy dog and the cat sat on the mat with the hat for the man.",
			"en",
		},
		{
			"spanish",
			"El presidente de la república habló en la conferencia de prensa sobre el estado de la nación y las reformas que vienen para el país.",
			"es",
		},
		{
			"french",
			"Le gouvernement a annoncé des mesures pour les familles qui vivent dans la précarité et pour une meilleure vie.",
			"fr",
		},
		{
			"german",
			"Der Bundeskanzler hat die Entscheidung nicht mit den Ministern abgestimmt und das Parlament ist von der Debatte ausgeschlossen.",
			"de",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.text, ""))
		})
	}
}

func TestDetectLanguageUndetermined(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"too short", "hi there"},
		{"whitespace only", "   \n\t   "},
		{"latin gibberish", "xqzt blorp wvnk jfhg qwerty zxcvb plmkn uhbyg tfcrd"},
		{"digits and symbols", "12345 67890 !!! ??? 12345 67890 %%% &&&"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "und", DetectLanguage(tt.text, ""))
		})
	}
}

func TestDetectLanguageSamplesLongText(t *testing.T) {
	// Only the first 500 runes are classified. A huge Cyrillic tail after
	// an English lead never reaches the detector.
	text := strings.Repeat("The vote is set and the mayor said that the plan was approved for the city. ", 20) +
		strings.Repeat("привет мир ", 3000)
	assert.Equal(t, "en", DetectLanguage(text, ""))
}
