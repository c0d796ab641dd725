// Package random provides the pluggable random source used for game codes
// and automatic starting words.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// StartingWords is the fixed list automatic rounds draw their first word from.
var StartingWords = []string{"apple", "brave", "crane", "delta", "eagle"}

// Source is the subset of *rand.Rand the game needs. Tests substitute a
// deterministic implementation.
type Source interface {
	Intn(n int) int
}

// NewSeed generates a seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// lockedSource makes a *rand.Rand safe to share between request goroutines.
type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (s *lockedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}

// New returns a goroutine-safe source seeded with seed.
func New(seed int64) Source {
	return &lockedSource{rnd: rand.New(rand.NewSource(seed))}
}

// GameCode returns a code of the given length drawn uniformly from A-Z0-9.
func GameCode(src Source, length int) string {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(codeAlphabet[src.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// Word picks a starting word for an automatically started round.
func Word(src Source) string {
	return StartingWords[src.Intn(len(StartingWords))]
}
