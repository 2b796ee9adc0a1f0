// Package outcome holds the pure arithmetic of the economy: weighted draws,
// cooldown gates and floored payout multiplication.
package outcome

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

var ErrNoOutcomes = errors.New("no weighted outcomes")

// Source is the randomness the engine draws from. *rand.Rand satisfies it.
type Source interface {
	Float64() float64
	IntN(n int) int
}

type Weighted[T any] struct {
	Value  T
	Weight float64
}

// Sample draws u in [0,total) and walks the cumulative weights. The final
// bucket absorbs floating point overshoot so a draw always lands somewhere.
func Sample[T any](src Source, buckets []Weighted[T]) (T, int, error) {
	var zero T
	total := 0.0
	for _, b := range buckets {
		if b.Weight > 0 {
			total += b.Weight
		}
	}
	if len(buckets) == 0 || total <= 0 {
		return zero, -1, ErrNoOutcomes
	}

	u := src.Float64() * total
	acc := 0.0
	last := -1
	for i, b := range buckets {
		if b.Weight <= 0 {
			continue
		}
		last = i
		acc += b.Weight
		if u < acc {
			return b.Value, i, nil
		}
	}
	return buckets[last].Value, last, nil
}

// IntBetween returns a uniform integer in [lo, hi].
func IntBetween(src Source, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + int64(src.IntN(int(hi-lo+1)))
}

// LockedSource serialises access to a non thread-safe generator.
type LockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewLockedSource(seed uint64) *LockedSource {
	return &LockedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewSeededSource seeds a LockedSource from crypto/rand.
func NewSeededSource() (*LockedSource, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return NewLockedSource(binary.LittleEndian.Uint64(b[:])), nil
}

func (s *LockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *LockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}
