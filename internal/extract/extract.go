// Package extract turns raw article HTML into clean text.
//
// Extraction runs an ordered ensemble of four strategies: a recall-favoring
// main-article extractor, readability-style DOM scoring, a stoplist-driven
// boilerplate classifier, and a streaming tokenizer pass. The first strategy
// to produce text at or above the minimum length wins. When every strategy
// comes up short the failure reason is diagnosed from the raw HTML so the
// caller can tell a paywall from an empty page.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DefaultMinLength is the minimum extracted text length considered usable.
const DefaultMinLength = 200

type (
	// Result is the output of a successful extraction.
	Result struct {
		Text        string
		Method      string
		CharCount   int
		Duration    time.Duration
		RawHTMLSize int
		Warnings    []string
	}

	// Error reports that every extractor failed, with a diagnosed reason.
	Error struct {
		Reason       string
		NeedsBrowser bool
		Warnings     []string
	}

	extractor struct {
		name string
		fn   func(doc *html.Node, raw string) string
	}
)

func (e *Error) Error() string {
	msg := "all extractors failed: " + e.Reason
	if e.NeedsBrowser {
		msg += " (browser rendering needed)"
	}
	if len(e.Warnings) > 0 {
		msg += ": " + strings.Join(e.Warnings, "; ")
	}
	return msg
}

// extractors run in order; earlier entries favor recall, later ones are
// progressively more tolerant of odd markup.
var extractors = []extractor{
	{name: "main_article", fn: extractMainArticle},
	{name: "readability", fn: extractReadability},
	{name: "boilerplate", fn: extractBoilerplateFiltered},
	{name: "sax", fn: extractSAX},
}

// Extract runs the ensemble over raw HTML.
//
// Each strategy is tried in order until one produces text whose trimmed
// length reaches minLength (DefaultMinLength when minLength is not
// positive). Strategies that fail contribute a warning and the next one
// runs. If all fail, the returned error is an *Error whose Reason is one of
// the heuristic failure tags.
func Extract(rawHTML string, minLength int) (*Result, error) {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}

	start := time.Now()
	warnings := []string{}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		doc = nil
		warnings = append(warnings, "parse: "+err.Error())
	}

	for _, ex := range extractors {
		text := ex.fn(doc, rawHTML)
		trimmed := strings.TrimSpace(text)

		if len(trimmed) >= minLength {
			return &Result{
				Text:        sanitizeText(text),
				Method:      ex.name,
				CharCount:   len(text),
				Duration:    time.Since(start),
				RawHTMLSize: len(rawHTML),
				Warnings:    warnings,
			}, nil
		}

		if trimmed != "" {
			warnings = append(warnings, fmt.Sprintf("%s: too short (%d chars)", ex.name, len(trimmed)))
		} else {
			warnings = append(warnings, ex.name+": no text")
		}
	}

	return nil, &Error{
		Reason:       DetectFailureReason(rawHTML, ""),
		NeedsBrowser: NeedsBrowser(rawHTML),
		Warnings:     warnings,
	}
}

var (
	controlChars   = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	horizontalWS   = regexp.MustCompile(`[ \t]+`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// sanitizeText strips control characters (keeping tab, newline, and
// carriage return) and normalizes whitespace while preserving paragraph
// breaks.
func sanitizeText(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	text = horizontalWS.ReplaceAllString(text, " ")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
