// Package dedupe provides per-run duplicate detection for article text.
//
// Two levels: exact duplicates via SHA-256 of normalized text, near
// duplicates via MinHash signatures bucketed in an LSH index. The engine is
// dedupe-first so embeddings and clustering are never spent on content the
// run has already seen.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText canonicalizes article text for hashing and shingling.
//
// Normalization rules, applied in order:
//  1. Lowercase
//  2. Unicode NFKD decomposition
//  3. Whitespace runs collapsed to a single space, trimmed
//  4. Everything except letters, digits, underscore and spaces removed
//
// Two texts differing only in case, whitespace, punctuation or Unicode
// compatibility forms normalize to the same string, so their content hashes
// and signatures match byte for byte.
func NormalizeText(text string) string {
	text = strings.ToLower(text)
	text = norm.NFKD.String(text)

	var b strings.Builder

	b.Grow(len(text))

	lastSpace := true // leading whitespace is dropped

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')

				lastSpace = true
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)

			lastSpace = false
		default:
			// Punctuation and symbols are dropped entirely.
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// ContentHash returns the SHA-256 hex digest of the normalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))

	return hex.EncodeToString(sum[:])
}
