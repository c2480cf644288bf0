// Package summary turns the clusters of a run into news_clusters rows: one
// summary plus aggregated metadata per cluster.
//
// Tier A/B runs produce extractive summaries from lead sentences; tier C
// calls an LLM per cluster and falls back to the extractive summary when the
// call fails.
package summary

import (
	"regexp"
	"sort"
	"strings"

	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

const (
	// maxSummarySentences caps the extractive summary length.
	maxSummarySentences = 5

	// leadArticles is how many articles contribute lead sentences.
	leadArticles = 10

	// sentencesPerArticle caps contributions from a single article.
	sentencesPerArticle = 2

	// minSentenceLen filters out fragments and bylines.
	minSentenceLen = 30

	maxTopDomains = 10
	maxURLs       = 50
	maxImages     = 20
)

// sentenceEnd marks a sentence boundary: terminal punctuation followed by
// whitespace.
var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// Metadata is the aggregated per-cluster metadata written alongside the
// summary.
type Metadata struct {
	TopDomains []string
	Languages  []string
	URLs       []string
	Images     []string
}

// Extractive builds a summary from lead sentences: up to two sentences from
// each of the first ten articles, skipping short fragments and repeats,
// capped at five sentences total. When no sentence qualifies the titles of
// the first five articles are used instead.
func Extractive(articles []storage.ClusterArticle) string {
	sentences := make([]string, 0, maxSummarySentences)
	seen := make(map[string]struct{})

	limit := min(leadArticles, len(articles))

	for _, article := range articles[:limit] {
		content := article.Content
		if content == "" {
			content = article.Description
		}

		taken := 0

		for _, sent := range splitSentences(content) {
			if taken >= sentencesPerArticle {
				break
			}

			sent = strings.TrimSpace(sent)
			if len(sent) <= minSentenceLen {
				continue
			}

			if _, dup := seen[sent]; dup {
				continue
			}

			seen[sent] = struct{}{}
			sentences = append(sentences, sent)
			taken++

			if len(sentences) >= maxSummarySentences {
				return strings.Join(sentences, " ")
			}
		}
	}

	if len(sentences) == 0 {
		for _, article := range articles[:min(5, len(articles))] {
			title := article.TitleEN
			if title == "" {
				title = article.Title
			}

			if title != "" {
				sentences = append(sentences, title)
			}
		}
	}

	if len(sentences) > maxSummarySentences {
		sentences = sentences[:maxSummarySentences]
	}

	return strings.Join(sentences, " ")
}

// splitSentences cuts text at terminal punctuation, keeping the punctuation
// with the preceding sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	bounds := sentenceEnd.FindAllStringIndex(text, -1)
	if len(bounds) == 0 {
		return []string{text}
	}

	sentences := make([]string, 0, len(bounds)+1)
	start := 0

	for _, b := range bounds {
		// b[0] is the punctuation mark; keep it.
		sentences = append(sentences, text[start:b[0]+1])
		start = b[1]
	}

	if start < len(text) {
		sentences = append(sentences, text[start:])
	}

	return sentences
}

// Aggregate collects per-cluster metadata: domains by occurrence count
// descending (capped at 10), sorted unique languages, up to 50 URLs, and up
// to 20 images in first-appearance order.
func Aggregate(articles []storage.ClusterArticle) Metadata {
	domainCounts := make(map[string]int)
	domainOrder := make([]string, 0)
	langSet := make(map[string]struct{})
	urls := make([]string, 0, len(articles))
	images := make([]string, 0)
	imageSeen := make(map[string]struct{})

	for _, article := range articles {
		domain := article.Domain
		if domain == "" {
			domain = article.Hostname
		}

		if domain != "" {
			if _, known := domainCounts[domain]; !known {
				domainOrder = append(domainOrder, domain)
			}

			domainCounts[domain]++
		}

		if article.Language != "" {
			langSet[article.Language] = struct{}{}
		}

		if article.URL != "" {
			urls = append(urls, article.URL)
		}

		if article.Image != "" {
			if _, dup := imageSeen[article.Image]; !dup {
				imageSeen[article.Image] = struct{}{}
				images = append(images, article.Image)
			}
		}

		for _, img := range article.Images {
			if img == "" {
				continue
			}

			if _, dup := imageSeen[img]; !dup {
				imageSeen[img] = struct{}{}
				images = append(images, img)
			}
		}
	}

	sort.SliceStable(domainOrder, func(i, j int) bool {
		return domainCounts[domainOrder[i]] > domainCounts[domainOrder[j]]
	})

	languages := make([]string, 0, len(langSet))
	for lang := range langSet {
		languages = append(languages, lang)
	}

	sort.Strings(languages)

	return Metadata{
		TopDomains: capSlice(domainOrder, maxTopDomains),
		Languages:  languages,
		URLs:       capSlice(urls, maxURLs),
		Images:     capSlice(images, maxImages),
	}
}

func capSlice(s []string, limit int) []string {
	if len(s) > limit {
		return s[:limit]
	}

	return s
}
