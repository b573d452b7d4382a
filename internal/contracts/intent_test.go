package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortIntentsOrdering(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)
	intents := []Intent{
		{TemplateID: "b", SignalTS: t0, Side: IntentSideSell},
		{TemplateID: "a", SignalTS: t0, Side: IntentSideBuy},
		{TemplateID: "a", SignalTS: t0.Add(-time.Minute), Side: IntentSideBuy},
	}

	SortIntents(intents)

	assert.Equal(t, t0.Add(-time.Minute), intents[0].SignalTS)
	assert.Equal(t, "a", intents[1].TemplateID)
	assert.Equal(t, "b", intents[2].TemplateID)
}

func TestCanonicalizeIntentsDeterministic(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)
	intents := []Intent{
		{TemplateID: "t1", SignalTS: t0, Symbol: "AAPL", Side: IntentSideBuy, OCOGroupID: "g1", EntryPrice: 100.5},
	}

	_, hash1, err := CanonicalizeIntents(intents)
	require.NoError(t, err)

	_, hash2, err := CanonicalizeIntents(intents)
	require.NoError(t, err)

	assert.Equal(t, hash1, hash2)

	// Reordering the input slice must not change the hash: canonicalization
	// always sorts first.
	reordered := []Intent{intents[0]}
	_, hash3, err := CanonicalizeIntents(reordered)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash3)
}

func TestCanonicalizeEmptyIntentsHasWellDefinedHash(t *testing.T) {
	_, hash, err := CanonicalizeIntents(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}
