// Package scheduler owns the crawl targets and decides when each one runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	"github.com/JakeFAU/bizdirectory-crawler/internal/metrics"
	"github.com/JakeFAU/bizdirectory-crawler/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DefaultErrorBackoff is the pause after a failed scheduler cycle.
const DefaultErrorBackoff = time.Minute

// Runner executes one crawl. *crawler.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, target crawler.CrawlTarget) crawler.CrawlRunResult
}

// Config tunes the background loop.
type Config struct {
	Schedule     Schedule
	ErrorBackoff time.Duration
	// Topic receives run summaries when a Publisher is configured.
	Topic string
}

// Deps are the collaborators the scheduler drives.
type Deps struct {
	Runner    Runner
	Store     crawler.BusinessStore
	Publisher crawler.Publisher
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// RunSummary is the message published after every run.
type RunSummary struct {
	crawler.CrawlRunResult
	DurationSeconds float64    `json:"duration_seconds"`
	NextCrawl       *time.Time `json:"next_crawl,omitempty"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running       bool                  `json:"running"`
	TotalTargets  int                   `json:"total_targets"`
	ActiveTargets int                   `json:"active_targets"`
	DueTargets    int                   `json:"due_targets"`
	DueNames      []string              `json:"due_names"`
	NextDue       map[string]*time.Time `json:"next_due"`
}

// Scheduler keeps an ordered set of targets and runs the due ones, one at a time.
type Scheduler struct {
	runner    Runner
	store     crawler.BusinessStore
	publisher crawler.Publisher
	clock     crawler.Clock
	logger    *zap.Logger
	schedule  Schedule
	backoff   time.Duration
	topic     string

	mu      sync.RWMutex
	targets []crawler.CrawlTarget

	// runSem holds one token while a run executes; acquiring it honors ctx.
	runSem chan struct{}

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Scheduler with no targets.
func New(deps Deps, cfg Config) (*Scheduler, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sched := cfg.Schedule
	if sched == nil {
		sched = intervalSchedule(DefaultPollInterval)
	}
	backoff := cfg.ErrorBackoff
	if backoff <= 0 {
		backoff = DefaultErrorBackoff
	}
	return &Scheduler{
		runner:    deps.Runner,
		store:     deps.Store,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		logger:    logger.Named("scheduler"),
		schedule:  sched,
		backoff:   backoff,
		topic:     cfg.Topic,
		runSem:    make(chan struct{}, 1),
	}, nil
}

// Add appends a target. Names are unique.
func (s *Scheduler) Add(target crawler.CrawlTarget) error {
	if strings.TrimSpace(target.Name) == "" {
		return fmt.Errorf("%w: name is required", crawler.ErrInvalidTarget)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(target.Name) >= 0 {
		return fmt.Errorf("%w: %q", crawler.ErrDuplicateTarget, target.Name)
	}
	s.targets = append(s.targets, target.Clone())
	s.logger.Info("target added", zap.String("target", target.Name))
	return nil
}

// Remove deletes the named target.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", crawler.ErrTargetNotFound, name)
	}
	s.targets = append(s.targets[:idx], s.targets[idx+1:]...)
	s.logger.Info("target removed", zap.String("target", name))
	return nil
}

// Get returns a copy of the named target.
func (s *Scheduler) Get(name string) (crawler.CrawlTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(name)
	if idx < 0 {
		return crawler.CrawlTarget{}, fmt.Errorf("%w: %q", crawler.ErrTargetNotFound, name)
	}
	return s.targets[idx].Clone(), nil
}

// List returns copies of every target in insertion order.
func (s *Scheduler) List() []crawler.CrawlTarget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.CrawlTarget, len(s.targets))
	for i, t := range s.targets {
		out[i] = t.Clone()
	}
	return out
}

// DueTargets returns copies of the active targets whose next crawl is unset or not after now.
func (s *Scheduler) DueTargets(now time.Time) []crawler.CrawlTarget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []crawler.CrawlTarget
	for _, t := range s.targets {
		if t.IsDue(now) {
			due = append(due, t.Clone())
		}
	}
	return due
}

// RunOne crawls the named target immediately. Runs never overlap; a caller
// arriving while another run is in flight waits for it to finish, or returns
// ctx.Err() if ctx ends first. A ctx that is already done starts no run and
// records nothing.
func (s *Scheduler) RunOne(ctx context.Context, name string) (crawler.CrawlRunResult, error) {
	if _, err := s.Get(name); err != nil {
		return crawler.CrawlRunResult{}, err
	}

	select {
	case s.runSem <- struct{}{}:
	case <-ctx.Done():
		return crawler.CrawlRunResult{}, fmt.Errorf("wait for run slot: %w", ctx.Err())
	}
	defer func() { <-s.runSem }()
	if err := ctx.Err(); err != nil {
		return crawler.CrawlRunResult{}, fmt.Errorf("run %s not started: %w", name, err)
	}

	// The target may have changed or gone while waiting for the slot.
	target, err := s.Get(name)
	if err != nil {
		return crawler.CrawlRunResult{}, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "crawl.run")
	span.SetAttributes(attribute.String("crawl.target", name))
	defer span.End()

	res := s.execute(ctx, target)

	span.SetAttributes(
		attribute.Int("crawl.pages", res.PagesCrawled),
		attribute.Int("crawl.businesses", res.BusinessesFound),
		attribute.String("crawl.state", string(res.State)),
	)
	if !res.Success {
		span.SetStatus(codes.Error, "crawl aborted")
	}

	next := s.markCrawled(name, res.EndTime)
	metrics.ObserveRun(name, string(res.State), res.Duration())

	// An aborted run is still recorded and announced even though ctx is done.
	bg := context.WithoutCancel(ctx)
	if err := s.store.RecordCrawlRun(bg, crawler.RunFromResult(res)); err != nil {
		metrics.ObserveStoreError(name)
		s.logger.Error("record crawl run failed", zap.String("target", name), zap.Error(err))
	}
	s.publish(bg, RunSummary{CrawlRunResult: res, DurationSeconds: res.Duration().Seconds(), NextCrawl: next})

	s.logger.Info("crawl run finished",
		zap.String("target", name),
		zap.String("state", string(res.State)),
		zap.Int("pages", res.PagesCrawled),
		zap.Int("businesses", res.BusinessesFound),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

// Status summarizes the target set at now.
func (s *Scheduler) Status(now time.Time) Status {
	st := Status{
		Running:  s.Running(),
		DueNames: []string{},
		NextDue:  make(map[string]*time.Time),
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st.TotalTargets = len(s.targets)
	for _, t := range s.targets {
		if t.Active {
			st.ActiveTargets++
		}
		if t.IsDue(now) {
			st.DueTargets++
			st.DueNames = append(st.DueNames, t.Name)
		}
		st.NextDue[t.Name] = t.Clone().NextCrawl
	}
	return st
}

// Start launches the background loop. It returns false if the loop is already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.cancel != nil {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
	s.logger.Info("scheduler started")
	return true
}

// Stop cancels the loop and waits for it to exit. It returns false if the loop was not running.
func (s *Scheduler) Stop() bool {
	s.loopMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.loopMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
	return true
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		wait, err := s.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			metrics.ObserveSchedulerError()
			s.logger.Error("scheduler cycle failed", zap.Error(err), zap.Duration("backoff", s.backoff))
			wait = s.backoff
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// cycle runs every due target in order and returns how long to wait before the next cycle.
func (s *Scheduler) cycle(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler cycle panic: %v", r)
		}
	}()

	for _, target := range s.DueTargets(s.clock.Now()) {
		if ctx.Err() != nil {
			return 0, nil
		}
		_, runErr := s.RunOne(ctx, target.Name)
		switch {
		case runErr == nil, errors.Is(runErr, crawler.ErrTargetNotFound):
		case ctx.Err() != nil:
			return 0, nil
		default:
			return 0, runErr
		}
	}
	return s.nextWait(s.clock.Now()), nil
}

// nextWait is the time until the schedule fires or the earliest active target falls due.
func (s *Scheduler) nextWait(now time.Time) time.Duration {
	wake := s.schedule.Next(now)
	s.mu.RLock()
	for _, t := range s.targets {
		if t.Active && t.NextCrawl != nil && t.NextCrawl.Before(wake) {
			wake = *t.NextCrawl
		}
	}
	s.mu.RUnlock()
	if d := wake.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (s *Scheduler) execute(ctx context.Context, target crawler.CrawlTarget) crawler.CrawlRunResult {
	metrics.SetRunInProgress(true)
	defer metrics.SetRunInProgress(false)
	return s.runner.Run(ctx, target)
}

func (s *Scheduler) markCrawled(name string, end time.Time) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(name)
	if idx < 0 {
		return nil
	}
	s.targets[idx].MarkCrawled(end)
	next := *s.targets[idx].NextCrawl
	return &next
}

func (s *Scheduler) publish(ctx context.Context, summary RunSummary) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	id, err := s.publisher.Publish(ctx, s.topic, summary)
	if err != nil {
		s.logger.Warn("publish run summary failed", zap.String("target", summary.TargetName), zap.Error(err))
		return
	}
	s.logger.Debug("run summary published", zap.String("target", summary.TargetName), zap.String("message_id", id))
}

func (s *Scheduler) indexLocked(name string) int {
	for i, t := range s.targets {
		if t.Name == name {
			return i
		}
	}
	return -1
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
