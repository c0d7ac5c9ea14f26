package cards

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrawIsUniform(t *testing.T) {
	const draws = 10000
	deck := NewSeededDeck("cards", 42, 1337)

	for _, cardType := range []string{Day, Night} {
		counts := make([]int, PoolSize+1)
		for i := 0; i < draws; i++ {
			c, err := deck.Draw(cardType)
			require.NoError(t, err)
			require.GreaterOrEqual(t, c.Number, 1)
			require.LessOrEqual(t, c.Number, PoolSize)
			counts[c.Number]++
		}

		expected := float64(draws) / PoolSize
		chi2 := 0.0
		for n := 1; n <= PoolSize; n++ {
			diff := float64(counts[n]) - expected
			chi2 += diff * diff / expected
		}
		// 99.99th percentile of chi-square with 9 degrees of freedom.
		assert.Less(t, chi2, 33.72, "%s counts %v", cardType, counts[1:])
	}
}

func TestDrawWithRuntimeSource(t *testing.T) {
	deck := NewDeck("cards")
	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		c, err := deck.Draw(Night)
		require.NoError(t, err)
		seen[c.Number] = true
	}
	assert.Len(t, seen, PoolSize)
}

func TestDrawPath(t *testing.T) {
	deck := NewSeededDeck("static/cards", 1, 2)
	c, err := deck.Draw(Day)
	require.NoError(t, err)
	assert.Equal(t, deck.Path(Day, c.Number), c.Path)
	assert.Equal(t, filepath.Join("static", "cards", "night", "00003.jpg"), deck.Path(Night, 3))

	_, err = deck.Draw("dusk")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestMissing(t *testing.T) {
	dir := t.TempDir()
	deck := NewDeck(dir)
	assert.Len(t, deck.Missing(), 2*PoolSize)

	for _, cardType := range []string{Day, Night} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, cardType), 0o755))
		for n := 1; n <= PoolSize; n++ {
			require.NoError(t, os.WriteFile(deck.Path(cardType, n), []byte("jpg"), 0o644))
		}
	}
	assert.Empty(t, deck.Missing())
}
