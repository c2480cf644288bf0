package dedupe

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"strings"
)

const (
	// mersennePrime is the modulus for the permutation universe (2^61 - 1).
	mersennePrime = (1 << 61) - 1
	// maxHash caps permuted values to 32 bits.
	maxHash = (1 << 32) - 1
	// permutationSeed fixes the permutation parameters so signatures are
	// reproducible across processes and runs.
	permutationSeed = 1
	// shingleSize is the word-level shingle width.
	shingleSize = 3
)

// ErrSignatureLength is returned when two signatures of different length are compared.
var ErrSignatureLength = errors.New("minhash signatures have different lengths")

// Signature is a MinHash signature: one minimum per permutation.
type Signature []uint64

// MinHasher computes MinHash signatures over word shingles.
//
// The permutation family is h_i(x) = ((a_i*x + b_i) mod p) & 0xffffffff with
// p = 2^61-1, the a_i/b_i drawn once from a fixed-seed PRNG. Identical input
// text always yields an identical signature, regardless of insertion order.
type MinHasher struct {
	numPerm int
	permA   []uint64
	permB   []uint64
}

// NewMinHasher creates a MinHasher with numPerm permutations.
func NewMinHasher(numPerm int) *MinHasher {
	rng := rand.New(rand.NewSource(permutationSeed)) //nolint:gosec // deterministic permutations, not security

	permA := make([]uint64, numPerm)
	permB := make([]uint64, numPerm)

	for i := 0; i < numPerm; i++ {
		// a must be non-zero so the permutation does not collapse.
		permA[i] = uint64(rng.Int63n(mersennePrime-1)) + 1
		permB[i] = uint64(rng.Int63n(mersennePrime))
	}

	return &MinHasher{numPerm: numPerm, permA: permA, permB: permB}
}

// NumPerm returns the number of permutations per signature.
func (m *MinHasher) NumPerm() int {
	return m.numPerm
}

// Shingles returns the set of word-level 3-shingles of normalized text.
// Texts shorter than three words produce no shingles.
func Shingles(normalized string) map[string]struct{} {
	words := strings.Fields(normalized)
	shingles := make(map[string]struct{})

	for i := 0; i+shingleSize <= len(words); i++ {
		shingles[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}

	return shingles
}

// Sign computes the MinHash signature of the given text.
// The text is normalized before shingling. An empty shingle set leaves every
// slot at the maximum hash value, so two too-short texts compare as identical.
func (m *MinHasher) Sign(text string) Signature {
	sig := make(Signature, m.numPerm)
	for i := range sig {
		sig[i] = maxHash
	}

	for shingle := range Shingles(NormalizeText(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(shingle))

		hv := uint64(h.Sum32())

		for i := 0; i < m.numPerm; i++ {
			// uint64 arithmetic wraps mod 2^64 before the Mersenne modulus.
			p := (m.permA[i]*hv + m.permB[i]) % mersennePrime & maxHash
			if p < sig[i] {
				sig[i] = p
			}
		}
	}

	return sig
}

// Jaccard estimates set similarity from two signatures as the fraction of
// matching permutation slots.
func Jaccard(a, b Signature) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrSignatureLength
	}

	if len(a) == 0 {
		return 0, nil
	}

	equal := 0

	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}

	return float64(equal) / float64(len(a)), nil
}
