// sampler.go — Per-level probabilistic sampling.
// Each level carries an acceptance probability in [0,1]; levels without an
// explicit rate are always accepted. The random source is injectable so the
// sampling law is testable with a deterministic sequence.
package policy

import (
	"math/rand"
	"sync"

	"github.com/Basillica/eaglet/internal/types"
)

// Sampler decides acceptance per level by drawing a uniform [0,1) variate.
type Sampler struct {
	mu    sync.Mutex
	rates map[types.Level]float64
	randf func() float64
}

// NewSampler builds a sampler over the given per-level rates. The map may be
// nil. randf may be nil, in which case the shared math/rand source is used.
func NewSampler(rates map[types.Level]float64, randf func() float64) *Sampler {
	if randf == nil {
		randf = rand.Float64
	}
	s := &Sampler{randf: randf}
	s.SetRates(rates)
	return s
}

// SetRates replaces the per-level rates. Values are clamped into [0,1].
func (s *Sampler) SetRates(rates map[types.Level]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = make(map[types.Level]float64, len(rates))
	for level, rate := range rates {
		if rate < 0 {
			rate = 0
		} else if rate > 1 {
			rate = 1
		}
		s.rates[level] = rate
	}
}

// Accept reports whether an event at the given level passes sampling.
// The default rate for an unconfigured level is 1.
func (s *Sampler) Accept(level types.Level) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rate, ok := s.rates[level]
	if !ok {
		return true
	}
	return s.randf() < rate
}
