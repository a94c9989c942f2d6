package crawler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// frontierEntry is one URL waiting to be fetched.
type frontierEntry struct {
	URL   string
	Depth int
}

// frontier is the per-run FIFO of pending URLs. It is owned by a single run
// goroutine and discarded afterwards.
type frontier struct {
	queue []frontierEntry
	head  int
}

func newFrontier(seeds []string) *frontier {
	f := &frontier{}
	for _, seed := range seeds {
		f.Push(seed, 0)
	}
	return f
}

func (f *frontier) Push(url string, depth int) {
	f.queue = append(f.queue, frontierEntry{URL: url, Depth: depth})
}

// Pop returns the earliest queued entry.
func (f *frontier) Pop() (frontierEntry, bool) {
	if f.head >= len(f.queue) {
		return frontierEntry{}, false
	}
	entry := f.queue[f.head]
	f.queue[f.head] = frontierEntry{}
	f.head++
	if f.head > 1024 && f.head*2 > len(f.queue) {
		f.queue = append([]frontierEntry(nil), f.queue[f.head:]...)
		f.head = 0
	}
	return entry, true
}

func (f *frontier) Len() int {
	return len(f.queue) - f.head
}

// visitTracker remembers normalized URLs already handled in a run.
type visitTracker struct {
	seen map[string]struct{}
}

func newVisitTracker() *visitTracker {
	return &visitTracker{seen: make(map[string]struct{})}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *visitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	if _, ok := t.seen[url]; ok {
		return false
	}
	t.seen[url] = struct{}{}
	return true
}

func (t *visitTracker) Seen(url string) bool {
	_, ok := t.seen[url]
	return ok
}

// pauseController abstracts how the runner waits between requests.
type pauseController interface {
	// Pause blocks for delay and returns ctx.Err() if the wait was interrupted.
	Pause(ctx context.Context, delay time.Duration) error
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// delaySampler draws politeness delays uniformly from a DelayRange.
type delaySampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newDelaySampler(seed uint64) *delaySampler {
	return &delaySampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *delaySampler) Sample(r DelayRange) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.Min + time.Duration(s.rng.Int64N(int64(r.Max-r.Min)+1))
}
