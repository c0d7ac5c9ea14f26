package cards

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"mac-bot/internal/models"
)

const (
	Day   = "day"
	Night = "night"

	// PoolSize is the number of images per card type.
	PoolSize = 10
)

var ErrUnknownType = errors.New("unknown card type")

// Deck picks card images from <dir>/<type>/<00001..00010>.jpg.
type Deck struct {
	dir string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDeck draws with the runtime's random source.
func NewDeck(dir string) *Deck {
	return &Deck{dir: dir}
}

// NewSeededDeck draws from a PCG generator; used where draws must repeat.
func NewSeededDeck(dir string, seed1, seed2 uint64) *Deck {
	return &Deck{dir: dir, rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Draw returns one of the PoolSize cards of cardType with equal probability,
// independent of earlier draws.
func (d *Deck) Draw(cardType string) (models.Card, error) {
	if cardType != Day && cardType != Night {
		return models.Card{}, fmt.Errorf("%w: %q", ErrUnknownType, cardType)
	}

	n := d.intN(PoolSize) + 1
	return models.Card{Number: n, Path: d.Path(cardType, n)}, nil
}

func (d *Deck) intN(n int) int {
	if d.rng == nil {
		return rand.IntN(n)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.IntN(n)
}

func (d *Deck) Path(cardType string, n int) string {
	return filepath.Join(d.dir, cardType, fmt.Sprintf("%05d.jpg", n))
}

// Missing lists the pool images absent from disk.
func (d *Deck) Missing() []string {
	var missing []string
	for _, t := range []string{Day, Night} {
		for n := 1; n <= PoolSize; n++ {
			p := d.Path(t, n)
			if _, err := os.Stat(p); err != nil {
				missing = append(missing, p)
			}
		}
	}
	return missing
}
