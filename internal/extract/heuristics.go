package extract

import (
	"regexp"
	"strings"
)

// Failure reason tags diagnosed when extraction produces nothing usable.
const (
	ReasonPaywall    = "paywall"
	ReasonConsent    = "consent"
	ReasonJSRequired = "js_required"
	ReasonNoText     = "no_text"
)

// emptyShellMaxChars is the most visible text a page can carry and still
// count as a JavaScript application shell.
const emptyShellMaxChars = 100

var (
	jsIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<noscript[^>]*>.*?enable\s+javascript`),
		regexp.MustCompile(`(?i)window\.__NUXT__`),
		regexp.MustCompile(`(?i)<div[^>]*id=["']app["'][^>]*>\s*</div>`),
		regexp.MustCompile(`(?i)react-root|__next`),
	}

	consentIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)cookie[- ]?consent|cookie[- ]?banner|gdpr`),
		regexp.MustCompile(`(?i)accept.*cookies|manage.*preferences`),
	}

	paywallIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)subscribe\s+to\s+continue|paywall|premium\s+content`),
		regexp.MustCompile(`(?i)sign\s+in\s+to\s+read|create.*account.*to.*continue`),
	}

	bodyPattern = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	tagPattern  = regexp.MustCompile(`<[^>]+>`)
)

// DetectFailureReason diagnoses why extraction produced poor results.
//
// Checks run in priority order: paywall markers, consent walls, then
// JavaScript application shells (JS framework markers combined with almost
// no visible text). When none of those match and the extracted text is
// empty the page simply had no text. Returns the empty string when nothing
// looks wrong.
func DetectFailureReason(rawHTML, extractedText string) string {
	if rawHTML == "" {
		return ReasonNoText
	}

	if matchAny(paywallIndicators, rawHTML) {
		return ReasonPaywall
	}
	if matchAny(consentIndicators, rawHTML) {
		return ReasonConsent
	}

	if matchAny(jsIndicators, rawHTML) {
		if len(visibleBodyText(rawHTML)) < emptyShellMaxChars {
			return ReasonJSRequired
		}
	}

	if strings.TrimSpace(extractedText) == "" {
		return ReasonNoText
	}

	return ""
}

// NeedsBrowser reports whether the page likely requires real browser
// rendering to yield content.
func NeedsBrowser(rawHTML string) bool {
	reason := DetectFailureReason(rawHTML, "")
	return reason == ReasonJSRequired || reason == ReasonConsent
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// visibleBodyText strips tags from the body section, or from the whole
// document when no body tag is present (fragments, SPA shells).
func visibleBodyText(rawHTML string) string {
	body := rawHTML
	if m := bodyPattern.FindStringSubmatch(rawHTML); m != nil {
		body = m[1]
	}

	return strings.TrimSpace(tagPattern.ReplaceAllString(body, ""))
}
