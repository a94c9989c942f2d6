package crawler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	biidPrefix = "BIZ-TZ-"
	// DefaultBIIDAttempts bounds collision retries for a single record.
	DefaultBIIDAttempts = 25
)

// BIIDGenerator issues BIZ-TZ-<YYYYMMDD>-<NNNN> identifiers.
type BIIDGenerator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	maxAttempts int
}

// NewBIIDGenerator builds a generator. Attempts <= 0 falls back to DefaultBIIDAttempts.
func NewBIIDGenerator(seed uint64, maxAttempts int) *BIIDGenerator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultBIIDAttempts
	}
	return &BIIDGenerator{
		rng:         rand.New(rand.NewPCG(seed, seed<<1|1)),
		maxAttempts: maxAttempts,
	}
}

// Candidate formats one identifier for the date of now with a random 1000-9999 suffix.
func (g *BIIDGenerator) Candidate(now time.Time) string {
	g.mu.Lock()
	suffix := 1000 + g.rng.IntN(9000)
	g.mu.Unlock()
	return fmt.Sprintf("%s%s-%d", biidPrefix, now.UTC().Format("20060102"), suffix)
}

// Assign returns a candidate that neither taken nor exists reports as used.
// The chosen ID is added to taken before returning.
func (g *BIIDGenerator) Assign(ctx context.Context, now time.Time, taken map[string]struct{}, exists func(context.Context, string) (bool, error)) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		id := g.Candidate(now)
		if _, ok := taken[id]; ok {
			continue
		}
		if exists != nil {
			used, err := exists(ctx, id)
			if err != nil {
				return "", fmt.Errorf("check bi-id: %w", err)
			}
			if used {
				continue
			}
		}
		if taken != nil {
			taken[id] = struct{}{}
		}
		return id, nil
	}
	return "", fmt.Errorf("%w (%d attempts)", ErrBIIDExhausted, g.maxAttempts)
}
