package extract

import (
	"math"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements never contribute article text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Button:   true,
}

// blockAtoms are elements treated as paragraph-like text blocks.
var blockAtoms = map[atom.Atom]bool{
	atom.P:          true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.Li:         true,
	atom.Td:         true,
	atom.Blockquote: true,
}

var articleHints = []string{"article", "content", "story", "post", "entry"}

// extractMainArticle favors recall: it looks for a dedicated article
// container and collects every text block inside it, falling back to all
// text blocks in the document when no container stands out.
func extractMainArticle(doc *html.Node, _ string) string {
	if doc == nil {
		return ""
	}

	container := findArticleContainer(doc)
	if container == nil {
		container = doc
	}

	return strings.Join(collectBlocks(container), "\n\n")
}

// findArticleContainer prefers <article>, then <main> or role=main or
// itemprop=articleBody, then a div whose id or class hints at article
// content. Document order breaks ties within each class.
func findArticleContainer(doc *html.Node) *html.Node {
	var byTag, byRole, byHint *html.Node

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Article:
				if byTag == nil {
					byTag = n
				}
			case n.DataAtom == atom.Main,
				strings.EqualFold(attrVal(n, "role"), "main"),
				strings.EqualFold(attrVal(n, "itemprop"), "articleBody"):
				if byRole == nil {
					byRole = n
				}
			case n.DataAtom == atom.Div && hasArticleHint(n):
				if byHint == nil {
					byHint = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if byTag != nil {
		return byTag
	}
	if byRole != nil {
		return byRole
	}
	return byHint
}

func hasArticleHint(n *html.Node) bool {
	idClass := strings.ToLower(attrVal(n, "id") + " " + attrVal(n, "class"))
	for _, hint := range articleHints {
		if strings.Contains(idClass, hint) {
			return true
		}
	}
	return false
}

var (
	positiveHint = regexp.MustCompile(`(?i)article|body|content|entry|main|page|post|story|text`)
	negativeHint = regexp.MustCompile(`(?i)combx|comment|contact|footer|footnote|masthead|media|meta|promo|related|scroll|shoutbox|sidebar|sponsor|tags|widget|nav|menu|share|social`)
)

// extractReadability scores paragraph parents the way classic readability
// does: each paragraph feeds points into its parent (and half into its
// grandparent) based on length and comma count, class and id names add or
// subtract weight, and a high link density discounts the final score. The
// best-scoring container's text blocks win.
func extractReadability(doc *html.Node, _ string) string {
	if doc == nil {
		return ""
	}

	scores := make(map[*html.Node]float64)
	var order []*html.Node

	credit := func(n *html.Node, points float64) {
		if n == nil || n.Type != html.ElementNode {
			return
		}
		if _, seen := scores[n]; !seen {
			scores[n] = classWeight(n)
			order = append(order, n)
		}
		scores[n] += points
	}

	for _, p := range paragraphNodes(doc) {
		text := collapseSpaces(nodeText(p))
		if len(text) < 25 {
			continue
		}

		points := 1 + float64(strings.Count(text, ",")) + math.Min(float64(len(text))/100, 3)
		credit(p.Parent, points)
		if p.Parent != nil {
			credit(p.Parent.Parent, points/2)
		}
	}

	var best *html.Node
	bestScore := 0.0
	for _, candidate := range order {
		score := scores[candidate] * (1 - linkDensity(candidate))
		if best == nil || score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	if best == nil {
		return ""
	}

	return strings.Join(collectBlocks(best), "\n\n")
}

func classWeight(n *html.Node) float64 {
	weight := 0.0
	idClass := attrVal(n, "class") + " " + attrVal(n, "id")

	if negativeHint.MatchString(idClass) {
		weight -= 25
	}
	if positiveHint.MatchString(idClass) {
		weight += 25
	}

	return weight
}

const (
	boilerplateMinLength   = 70
	boilerplateMaxLinkFrac = 0.2
	boilerplateMinStopFrac = 0.3
)

// extractBoilerplateFiltered classifies each text block as content or
// boilerplate. Blocks that are long enough, low in link density, and rich
// in stopwords survive; everything else (menus, button rows, tag clouds) is
// dropped. The stoplist makes this extractor English-biased, which is why
// it sits late in the ensemble.
func extractBoilerplateFiltered(doc *html.Node, _ string) string {
	if doc == nil {
		return ""
	}

	var good []string
	for _, block := range blockNodes(doc) {
		text := collapseSpaces(nodeText(block))
		if len(text) < boilerplateMinLength {
			continue
		}
		if linkDensity(block) > boilerplateMaxLinkFrac {
			continue
		}
		if stopwordFraction(text) < boilerplateMinStopFrac {
			continue
		}
		good = append(good, text)
	}

	return strings.Join(good, "\n\n")
}

func stopwordFraction(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	stop := 0
	for _, word := range words {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		if stopwords[word] {
			stop++
		}
	}

	return float64(stop) / float64(len(words))
}

const saxMinBlockWords = 15

// extractSAX streams the raw HTML through the tokenizer without building a
// DOM, accumulating text between block-level tags and keeping blocks with
// enough words to look like prose. It is the last resort for markup the
// tree-based extractors choke on.
func extractSAX(_ *html.Node, raw string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(raw))

	var (
		blocks    []string
		current   strings.Builder
		skipDepth int
	)

	flush := func() {
		text := collapseSpaces(current.String())
		current.Reset()
		if len(strings.Fields(text)) >= saxMinBlockWords {
			blocks = append(blocks, text)
		}
	}

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			flush()
			return strings.Join(blocks, "\n\n")

		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			a := atom.Lookup(name)
			if skipElements[a] {
				skipDepth++
			} else if isBlockBoundary(a) {
				flush()
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			a := atom.Lookup(name)
			if skipElements[a] {
				if skipDepth > 0 {
					skipDepth--
				}
			} else if isBlockBoundary(a) {
				flush()
			}

		case html.TextToken:
			if skipDepth == 0 {
				current.Write(tokenizer.Text())
				current.WriteByte(' ')
			}
		}
	}
}

func isBlockBoundary(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main, atom.Body,
		atom.Ul, atom.Ol, atom.Li, atom.Table, atom.Tr, atom.Blockquote,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Br:
		return true
	}
	return false
}

// nodeText collects the visible text under n, skipping non-content
// subtrees.
func nodeText(n *html.Node) string {
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && skipElements[node.DataAtom] {
			return
		}
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return sb.String()
}

// collectBlocks gathers the text of each block element under root in
// document order. Blocks inside skipped subtrees, including root itself
// when it is one, contribute nothing.
func collectBlocks(root *html.Node) []string {
	var blocks []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipElements[n.DataAtom] {
				return
			}
			if blockAtoms[n.DataAtom] {
				if text := collapseSpaces(nodeText(n)); text != "" {
					blocks = append(blocks, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return blocks
}

// paragraphNodes returns every <p> element outside skipped subtrees in
// document order.
func paragraphNodes(doc *html.Node) []*html.Node {
	var nodes []*html.Node

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipElements[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.P {
				nodes = append(nodes, n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return nodes
}

// blockNodes returns paragraph-like elements outside skipped subtrees in
// document order.
func blockNodes(doc *html.Node) []*html.Node {
	var nodes []*html.Node

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipElements[n.DataAtom] {
				return
			}
			if blockAtoms[n.DataAtom] {
				nodes = append(nodes, n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return nodes
}

// linkDensity is the fraction of n's text that sits inside anchors.
func linkDensity(n *html.Node) float64 {
	total := len(collapseSpaces(nodeText(n)))
	if total == 0 {
		return 0
	}

	linked := 0
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.DataAtom == atom.A {
			linked += len(collapseSpaces(nodeText(node)))
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return float64(linked) / float64(total)
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
