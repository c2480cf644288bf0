package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndRegisterExactDuplicate(t *testing.T) {
	engine := NewEngine(128, 0.8)
	text := "The quick brown fox."

	first := engine.CheckAndRegister("a", text)
	assert.False(t, first.IsExactDuplicate)
	assert.False(t, first.IsNearDuplicate)
	assert.Empty(t, first.DuplicateOf)
	assert.NotEmpty(t, first.ContentHash)

	second := engine.CheckAndRegister("b", text)
	assert.True(t, second.IsExactDuplicate)
	assert.False(t, second.IsNearDuplicate)
	assert.Equal(t, "a", second.DuplicateOf)
	assert.InDelta(t, 1.0, second.Similarity, 1e-9)
	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestCheckAndRegisterNormalizedExactDuplicate(t *testing.T) {
	engine := NewEngine(128, 0.8)

	engine.CheckAndRegister("a", "Markets Rally After Rate Cut!")
	res := engine.CheckAndRegister("b", "markets   rally after rate cut")

	assert.True(t, res.IsExactDuplicate)
	assert.Equal(t, "a", res.DuplicateOf)
}

func TestCheckAndRegisterNearDuplicate(t *testing.T) {
	engine := NewEngine(128, 0.8)

	base := "the central bank raised interest rates by a quarter point on tuesday " +
		"citing persistent inflation pressure across the services sector and " +
		"signaling further increases may follow later in the year"

	first := engine.CheckAndRegister("a", base)
	require.False(t, first.IsExactDuplicate)
	require.False(t, first.IsNearDuplicate)

	// Same story with a couple of words appended: different hash, high overlap.
	res := engine.CheckAndRegister("b", base+" officials said")
	assert.False(t, res.IsExactDuplicate)
	assert.True(t, res.IsNearDuplicate)
	assert.Equal(t, "a", res.DuplicateOf)
	assert.GreaterOrEqual(t, res.Similarity, 0.8)
}

func TestNearDuplicateDoesNotChain(t *testing.T) {
	engine := NewEngine(128, 0.8)

	base := "researchers published a landmark study on deep sea ecosystems near " +
		"hydrothermal vents documenting dozens of previously unknown species " +
		"living in total darkness under extreme pressure"

	engine.CheckAndRegister("a", base)

	near := engine.CheckAndRegister("b", base+" last week")
	require.True(t, near.IsNearDuplicate)

	// Near duplicates register their hash but stay out of the LSH index:
	// an exact copy of b's text is caught by hash, not by LSH.
	exactOfNear := engine.CheckAndRegister("c", base+" last week")
	assert.True(t, exactOfNear.IsExactDuplicate)
	assert.Equal(t, "b", exactOfNear.DuplicateOf)

	registered, indexed := engine.Stats()
	assert.Equal(t, 2, registered, "a and b hashes registered")
	assert.Equal(t, 1, indexed, "only a is LSH-indexed")
}

func TestUnrelatedTextsAreUnique(t *testing.T) {
	engine := NewEngine(128, 0.8)

	texts := map[string]string{
		"a": "wildfire crews contained the blaze north of the valley overnight after winds dropped",
		"b": "the championship final ended in a penalty shootout after a goalless second half",
		"c": "parliament passed the revised budget with a narrow majority following a marathon session",
	}

	for id, text := range texts {
		res := engine.CheckAndRegister(id, text)
		assert.False(t, res.IsExactDuplicate, "entry %s", id)
		assert.False(t, res.IsNearDuplicate, "entry %s", id)
	}

	registered, indexed := engine.Stats()
	assert.Equal(t, 3, registered)
	assert.Equal(t, 3, indexed)
}
