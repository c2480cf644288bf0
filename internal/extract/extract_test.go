package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Border talks resume</title></head>
<body>
<nav><a href="/">Home</a> <a href="/world">World</a></nav>
<article>
<h1>Border talks resume after months of deadlock</h1>
<p>Negotiators from both countries returned to the table on Monday after months of
stalled talks, saying that they were prepared to discuss the disputed border region
in detail for the first time since the ceasefire began.</p>
<p>Observers said that the renewed dialogue was a cautious sign of progress, although
officials on both sides warned that any agreement would still need approval from
their respective parliaments before it could take effect.</p>
</article>
<footer>Copyright 2026</footer>
</body>
</html>`

func TestExtractMainArticleWins(t *testing.T) {
	result, err := Extract(articleHTML, 200)
	require.NoError(t, err)

	assert.Equal(t, "main_article", result.Method)
	assert.Contains(t, result.Text, "Negotiators from both countries")
	assert.Contains(t, result.Text, "Border talks resume after months")
	assert.NotContains(t, result.Text, "Copyright")
	assert.NotContains(t, result.Text, "Home")
	assert.Equal(t, len(articleHTML), result.RawHTMLSize)
	assert.Greater(t, result.CharCount, 200)
	assert.GreaterOrEqual(t, result.Duration.Nanoseconds(), int64(0))
}

func TestExtractDefaultMinLength(t *testing.T) {
	result, err := Extract(articleHTML, 0)
	require.NoError(t, err)
	assert.Equal(t, "main_article", result.Method)
}

func TestExtractSAXHandlesDivOnlyMarkup(t *testing.T) {
	page := `<html><body>
<div class="wrapper">
<div>The committee voted late on Thursday to approve the emergency funding package, a move that officials said would keep relief supplies moving through the region for at least the next six months.</div>
<div>Aid groups welcomed the decision but cautioned that the funds would not address the deeper causes of the crisis, which have displaced hundreds of thousands of people since the spring.</div>
</div>
</body></html>`

	result, err := Extract(page, 200)
	require.NoError(t, err)

	assert.Equal(t, "sax", result.Method)
	assert.Contains(t, result.Text, "committee voted late on Thursday")
	assert.Contains(t, result.Text, "Aid groups welcomed")
}

func TestExtractAllTooShort(t *testing.T) {
	_, err := Extract(`<html><body><p>Too short to use.</p></body></html>`, 200)

	var exErr *Error
	require.ErrorAs(t, err, &exErr)

	assert.Equal(t, ReasonNoText, exErr.Reason)
	assert.False(t, exErr.NeedsBrowser)
	require.NotEmpty(t, exErr.Warnings)
	assert.Contains(t, exErr.Warnings[0], "too short")
}

func TestExtractJavaScriptShell(t *testing.T) {
	_, err := Extract(`<div id="app"></div><noscript>Please enable JavaScript</noscript>`, 200)

	var exErr *Error
	require.ErrorAs(t, err, &exErr)

	assert.Equal(t, ReasonJSRequired, exErr.Reason)
	assert.True(t, exErr.NeedsBrowser)
	assert.Contains(t, exErr.Error(), "js_required")
	assert.Contains(t, exErr.Error(), "browser rendering needed")
}

func TestExtractPaywalledPage(t *testing.T) {
	page := `<html><body><div class="gate"><h2>Subscribe to continue reading</h2></div></body></html>`

	_, err := Extract(page, 200)

	var exErr *Error
	require.ErrorAs(t, err, &exErr)

	assert.Equal(t, ReasonPaywall, exErr.Reason)
	assert.False(t, exErr.NeedsBrowser)
}

func TestExtractReadabilityPicksContentContainer(t *testing.T) {
	page := `<html><body>
<div class="sidebar"><p>Related stories you might have missed from around the site today.</p></div>
<div class="post-content">
<p>Heavy rain flooded the central district on Friday, closing schools and halting trains, and forecasters warned that more storms were likely over the weekend.</p>
<p>City crews worked through the night to clear drains, and residents in low-lying areas were told that they should move vehicles to higher ground.</p>
</div>
</body></html>`

	doc, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)

	text := extractReadability(doc, page)
	assert.Contains(t, text, "Heavy rain flooded")
	assert.Contains(t, text, "City crews worked")
	assert.NotContains(t, text, "Related stories")
}

func TestExtractBoilerplateDropsLinkLists(t *testing.T) {
	page := `<html><body>
<ul><li><a href="/a">World</a></li><li><a href="/b">Politics</a></li></ul>
<p>The new rail line opened to the public on Saturday after a decade of construction, and thousands of residents lined up at stations across the city for the first trains of the morning.</p>
<p>Officials said that the project had come in close to budget and that a second phase would be announced before the end of the year.</p>
</body></html>`

	doc, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)

	text := extractBoilerplateFiltered(doc, page)
	assert.Contains(t, text, "new rail line")
	assert.Contains(t, text, "second phase")
	assert.NotContains(t, text, "Politics")
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "control chars removed", input: "he\x00llo\x07 world", want: "hello world"},
		{name: "tabs and spaces collapse", input: "a\t\tb   c", want: "a b c"},
		{name: "newline runs capped", input: "p1\n\n\n\n\np2", want: "p1\n\np2"},
		{name: "paragraph break preserved", input: "p1\n\np2", want: "p1\n\np2"},
		{name: "trimmed", input: "  text  \n", want: "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeText(tt.input))
		})
	}
}
