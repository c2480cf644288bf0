package enrich

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractImagesFullPage(t *testing.T) {
	page := `<html><head>
<meta property="og:image" content="https://cdn.example.com/lead.jpg">
<meta name="twitter:image" content="https://cdn.example.com/card.jpg">
</head><body>
<img src="https://cdn.example.com/lead.jpg">
<img src="//static.example.com/photo1.jpg">
<img src="/images/photo2.jpg">
<img src="https://ads.example.com/1x1.gif">
<img src="data:image/png;base64,AAAA">
<img src="https://cdn.example.com/photo3.jpg">
<img src="https://cdn.example.com/photo4.jpg">
</body></html>`

	got := ExtractImages(page, "https://news.example.com/story/1")

	want := []string{
		"https://cdn.example.com/lead.jpg",
		"https://cdn.example.com/card.jpg",
		"https://static.example.com/photo1.jpg",
		"https://news.example.com/images/photo2.jpg",
		"https://cdn.example.com/photo3.jpg",
	}
	assert.Equal(t, want, got)
}

func TestExtractImagesLeadImagesFirst(t *testing.T) {
	page := `<html><head>
<meta name="twitter:image" content="https://cdn.example.com/card.jpg">
<meta property="og:image" content="https://cdn.example.com/lead.jpg">
</head><body><img src="https://cdn.example.com/body.jpg"></body></html>`

	got := ExtractImages(page, "https://news.example.com/")

	// og:image always outranks the Twitter card, whatever the markup order.
	assert.Equal(t, []string{
		"https://cdn.example.com/lead.jpg",
		"https://cdn.example.com/card.jpg",
		"https://cdn.example.com/body.jpg",
	}, got)
}

func TestExtractImagesCapsTotal(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, `<img src="https://cdn.example.com/img%d.jpg">`, i)
	}
	sb.WriteString("</body></html>")

	got := ExtractImages(sb.String(), "https://news.example.com/")

	assert.Len(t, got, 5)
	assert.Equal(t, "https://cdn.example.com/img0.jpg", got[0])
	assert.Equal(t, "https://cdn.example.com/img4.jpg", got[4])
}

func TestExtractImagesSkipsTrackers(t *testing.T) {
	page := `<html><body>
<img src="https://ads.example.com/pixel.gif">
<img src="https://ads.example.com/spacer.png">
<img src="https://metrics.example.com/beacon?id=1">
<img src="https://cdn.example.com/real.jpg">
</body></html>`

	got := ExtractImages(page, "https://news.example.com/")
	assert.Equal(t, []string{"https://cdn.example.com/real.jpg"}, got)
}

func TestExtractImagesLeadImageBypassesTrackerFilter(t *testing.T) {
	// Publisher-declared lead images are kept even when the URL looks like
	// a tracking pixel.
	page := `<html><head><meta property="og:image" content="https://cdn.example.com/1x1.jpg"></head><body></body></html>`

	got := ExtractImages(page, "https://news.example.com/")
	assert.Equal(t, []string{"https://cdn.example.com/1x1.jpg"}, got)
}

func TestExtractImagesRelativeWithoutBase(t *testing.T) {
	page := `<html><body><img src="/images/a.jpg"><img src="https://cdn.example.com/b.jpg"></body></html>`

	got := ExtractImages(page, "")
	assert.Equal(t, []string{"https://cdn.example.com/b.jpg"}, got)
}

func TestExtractImagesDeduplicates(t *testing.T) {
	page := `<html><body>
<img src="https://cdn.example.com/a.jpg">
<img src="https://cdn.example.com/a.jpg">
<img src="https://cdn.example.com/b.jpg">
</body></html>`

	got := ExtractImages(page, "https://news.example.com/")
	assert.Equal(t, []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/b.jpg",
	}, got)
}

func TestExtractImagesEmptyInput(t *testing.T) {
	assert.Nil(t, ExtractImages("", "https://news.example.com/"))
	assert.Empty(t, ExtractImages("<html><body><p>no pictures</p></body></html>", "https://news.example.com/"))
}
