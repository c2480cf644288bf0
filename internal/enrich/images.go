package enrich

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxImages caps the total images kept per article, lead images included.
const maxImages = 5

// trackerFragments mark image URLs that are tracking pixels, not content.
var trackerFragments = []string{"1x1", "pixel", "tracker", "beacon", "spacer"}

// ExtractImages pulls image URLs out of article HTML.
//
// The Open Graph image comes first, then the Twitter card image, then body
// <img> tags in document order up to maxImages total. Tracking pixels are
// skipped, protocol-relative URLs get https, root-relative URLs resolve
// against baseURL, and body images must end up http(s). Duplicates are
// dropped while preserving first-seen order.
func ExtractImages(rawHTML, baseURL string) []string {
	if rawHTML == "" {
		return nil
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	var (
		ogImage, twitterImage string
		bodySrcs              []string
	)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Meta:
				content := strings.TrimSpace(attrVal(n, "content"))
				if content != "" {
					if strings.EqualFold(attrVal(n, "property"), "og:image") && ogImage == "" {
						ogImage = content
					}
					if strings.EqualFold(attrVal(n, "name"), "twitter:image") && twitterImage == "" {
						twitterImage = content
					}
				}
			case atom.Img:
				if src := strings.TrimSpace(attrVal(n, "src")); src != "" {
					bodySrcs = append(bodySrcs, src)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var images []string
	seen := make(map[string]bool)

	add := func(img string) {
		if img != "" && !seen[img] {
			images = append(images, img)
			seen[img] = true
		}
	}

	add(ogImage)
	add(twitterImage)

	base, baseErr := url.Parse(baseURL)
	for _, src := range bodySrcs {
		if len(images) >= maxImages {
			break
		}
		if isTrackerImage(src) {
			continue
		}

		switch {
		case strings.HasPrefix(src, "//"):
			src = "https:" + src
		case strings.HasPrefix(src, "/") && baseErr == nil:
			if ref, err := url.Parse(src); err == nil {
				src = base.ResolveReference(ref).String()
			}
		}

		if strings.HasPrefix(src, "http") {
			add(src)
		}
	}

	return images
}

func isTrackerImage(src string) bool {
	lower := strings.ToLower(src)
	for _, fragment := range trackerFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
