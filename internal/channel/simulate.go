package channel

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// simulator produces deterministic-probability fake outcomes standing
// in for a real gateway call. Seeded so tests and repeated dry runs
// are reproducible.
type simulator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64 // success probability, 0..1
	unit time.Duration
}

func newSimulator(seed int64, rate float64, unit time.Duration) *simulator {
	if unit <= 0 {
		unit = time.Second
	}
	return &simulator{rng: rand.New(rand.NewSource(seed)), rate: rate, unit: unit}
}

// run sleeps for the artificial latency (0.8..1.2 of the unit, honoring
// cancellation) and rolls the success probability.
func (s *simulator) run(ctx context.Context) (ok bool, messageID string, err error) {
	s.mu.Lock()
	factor := 0.8 + s.rng.Float64()*0.4
	ok = s.rng.Float64() < s.rate
	n := s.rng.Int63()
	s.mu.Unlock()

	delay := time.Duration(float64(s.unit) * factor)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false, "", ctx.Err()
	case <-t.C:
	}

	return ok, fmt.Sprintf("sim-%x", n), nil
}
