package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNumPerm = 128

func TestShingles(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "four words give two shingles",
			input: "the quick brown fox",
			want:  []string{"the quick brown", "quick brown fox"},
		},
		{
			name:  "three words give one shingle",
			input: "the quick brown",
			want:  []string{"the quick brown"},
		},
		{
			name:  "two words give none",
			input: "the quick",
			want:  nil,
		},
		{
			name:  "empty gives none",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Shingles(tt.input)
			assert.Len(t, got, len(tt.want))

			for _, shingle := range tt.want {
				assert.Contains(t, got, shingle)
			}
		})
	}
}

func TestSignDeterministic(t *testing.T) {
	text := "world leaders meet to discuss the ongoing negotiations in the capital"

	a := NewMinHasher(testNumPerm).Sign(text)
	b := NewMinHasher(testNumPerm).Sign(text)

	assert.Equal(t, a, b, "independent hashers must produce identical signatures")
	assert.Len(t, a, testNumPerm)
}

func TestJaccard(t *testing.T) {
	hasher := NewMinHasher(testNumPerm)

	t.Run("identical text", func(t *testing.T) {
		sig := hasher.Sign("alpha beta gamma delta epsilon")

		sim, err := Jaccard(sig, hasher.Sign("alpha beta gamma delta epsilon"))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sim, 1e-9)
	})

	t.Run("disjoint text", func(t *testing.T) {
		a := hasher.Sign("one two three four five six seven eight nine ten")
		b := hasher.Sign("uno dos tres cuatro cinco seis siete ocho nueve diez")

		sim, err := Jaccard(a, b)
		require.NoError(t, err)
		assert.Less(t, sim, 0.3, "disjoint shingle sets should estimate near zero")
	})

	t.Run("high overlap", func(t *testing.T) {
		base := "the central bank raised interest rates by a quarter point on tuesday morning in a surprise move"
		variant := base + " today"

		sim, err := Jaccard(hasher.Sign(base), hasher.Sign(variant))
		require.NoError(t, err)
		assert.Greater(t, sim, 0.7)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := Jaccard(make(Signature, 4), make(Signature, 8))
		assert.ErrorIs(t, err, ErrSignatureLength)
	})
}

func TestLSHIndex(t *testing.T) {
	hasher := NewMinHasher(testNumPerm)
	idx := NewIndex(0.8, testNumPerm)

	bands, rows := idx.Params()
	assert.Positive(t, bands)
	assert.Positive(t, rows)
	assert.LessOrEqual(t, bands*rows, testNumPerm)

	sigA := hasher.Sign("government announces sweeping reform of the national pension system after months of protests")
	require.NoError(t, idx.Insert("a", sigA))
	assert.Equal(t, 1, idx.Len())

	t.Run("duplicate insert rejected", func(t *testing.T) {
		assert.ErrorIs(t, idx.Insert("a", sigA), ErrAlreadyIndexed)
	})

	t.Run("identical signature is a candidate", func(t *testing.T) {
		assert.Contains(t, idx.Query(sigA), "a")
	})

	t.Run("unrelated signature yields no candidates", func(t *testing.T) {
		other := hasher.Sign("completely unrelated story about a local bakery winning a regional prize this weekend")
		assert.Empty(t, idx.Query(other))
	})
}
