package crawler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/bizdirectory-crawler/internal/metrics"
	"go.uber.org/zap"
)

const progressLogEvery = 10

// RunnerDeps wires the collaborators a Runner needs. Archive and Hasher are
// optional; when Archive is nil page bodies are not kept.
type RunnerDeps struct {
	Fetcher   Fetcher
	Extractor Extractor
	Store     BusinessStore
	Clock     Clock
	IDs       IDGenerator
	BIIDs     *BIIDGenerator
	Archive   BlobStore
	Hasher    Hasher
	Logger    *zap.Logger
}

// Runner drives one CrawlTarget through a bounded breadth-first traversal.
type Runner struct {
	fetcher   Fetcher
	extractor Extractor
	store     BusinessStore
	clock     Clock
	ids       IDGenerator
	biids     *BIIDGenerator
	archive   BlobStore
	hasher    Hasher
	logger    *zap.Logger
	pauser    pauseController
	delays    *delaySampler
}

// NewRunner validates deps and builds a Runner.
func NewRunner(deps RunnerDeps) (*Runner, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("runner: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("runner: extractor is required")
	case deps.Store == nil:
		return nil, errors.New("runner: business store is required")
	case deps.Clock == nil:
		return nil, errors.New("runner: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("runner: id generator is required")
	case deps.Archive != nil && deps.Hasher == nil:
		return nil, errors.New("runner: hasher is required when archiving pages")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := uint64(deps.Clock.Now().UnixNano())
	biids := deps.BIIDs
	if biids == nil {
		biids = NewBIIDGenerator(seed, DefaultBIIDAttempts)
	}
	return &Runner{
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		store:     deps.Store,
		clock:     deps.Clock,
		ids:       deps.IDs,
		biids:     biids,
		archive:   deps.Archive,
		hasher:    deps.Hasher,
		logger:    logger.Named("runner"),
		pauser:    &timerPauseController{},
		delays:    newDelaySampler(seed),
	}, nil
}

// Run crawls target until the frontier empties, the page budget is spent, or
// ctx is cancelled. It never panics and never returns an error; problems are
// collected in the result's Errors.
func (r *Runner) Run(ctx context.Context, target CrawlTarget) CrawlRunResult {
	target = target.Clone()
	logger := r.logger.With(zap.String("target", target.Name))

	res := CrawlRunResult{
		TargetName: target.Name,
		StartTime:  r.clock.Now(),
		Errors:     []string{},
		State:      RunStateRunning,
	}
	logger.Info("crawl run started",
		zap.Strings("start_urls", target.StartURLs),
		zap.Int("max_depth", target.MaxDepth),
		zap.Int("max_pages", target.MaxPages),
	)

	aborted := r.safeCrawl(ctx, target, &res, logger)

	res.EndTime = r.clock.Now()
	res.Success = len(res.Errors) == 0
	res.State = RunStateCompleted
	if aborted {
		res.State = RunStateAborted
	}

	logger.Info("crawl run finished",
		zap.String("state", string(res.State)),
		zap.Int("pages", res.PagesCrawled),
		zap.Int("businesses", res.BusinessesFound),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", res.Duration()),
	)
	return res
}

func (r *Runner) safeCrawl(ctx context.Context, target CrawlTarget, res *CrawlRunResult, logger *zap.Logger) (aborted bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("crawl run panicked", zap.Any("panic", rec))
			res.Errors = append(res.Errors, fmt.Sprintf("critical error during crawl: %v", rec))
			aborted = true
		}
	}()
	return r.crawl(ctx, target, res, logger)
}

func (r *Runner) crawl(ctx context.Context, target CrawlTarget, res *CrawlRunResult, logger *zap.Logger) bool {
	queue := newFrontier(target.StartURLs)
	visited := newVisitTracker()
	assigned := make(map[string]struct{})

	for queue.Len() > 0 && res.PagesCrawled < target.MaxPages {
		entry, _ := queue.Pop()
		key, parsed, err := NormalizeURL(entry.URL)
		if err != nil {
			logger.Debug("skipping unusable url", zap.String("url", entry.URL), zap.Error(err))
			continue
		}
		if visited.Seen(key) || entry.Depth > target.MaxDepth {
			continue
		}
		visited.MarkIfNew(key)
		if !DomainAllowed(parsed.Hostname(), target.AllowedDomains) {
			logger.Debug("skipping out-of-scope url", zap.String("url", key))
			continue
		}

		if err := r.pauser.Pause(ctx, r.delays.Sample(target.Delay)); err != nil {
			logger.Warn("crawl run interrupted", zap.Error(err), zap.Int("pages", res.PagesCrawled))
			return true
		}

		page := r.fetcher.Fetch(ctx, key, target.AllowedDomains)
		if page.Empty() {
			if page.Diagnostic != "" {
				res.Errors = append(res.Errors, page.Diagnostic)
				metrics.ObserveFetchFailure(target.Name, "transport")
			} else {
				metrics.ObserveFetchFailure(target.Name, "status")
			}
			continue
		}

		pageURL := key
		if page.URL != "" {
			pageURL = page.URL
		}
		if _, final, err := NormalizeURL(pageURL); err != nil || !DomainAllowed(final.Hostname(), target.AllowedDomains) {
			res.Errors = append(res.Errors, fmt.Sprintf("fetch %s: landed outside allowed domains at %s", key, pageURL))
			metrics.ObserveFetchFailure(target.Name, "offsite")
			continue
		}

		res.PagesCrawled++
		metrics.ObservePage(target.Name, key, len(page.Body))
		r.archivePage(ctx, target.Name, key, page.Body, logger)

		for _, candidate := range r.extractor.Extract(pageURL, page.Body, target.BusinessSelectors) {
			if err := r.storeBusiness(ctx, target.Name, candidate, assigned); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("storing business %q: %v", candidate.Name, err))
				metrics.ObserveStoreError(target.Name)
				continue
			}
			res.BusinessesFound++
			metrics.ObserveBusiness(target.Name, string(candidate.ExtractionMethod))
		}

		if res.PagesCrawled%progressLogEvery == 0 {
			logger.Info("crawl progress",
				zap.Int("pages", res.PagesCrawled),
				zap.Int("businesses", res.BusinessesFound),
				zap.Int("queued", queue.Len()),
			)
		}

		if entry.Depth < target.MaxDepth {
			for _, link := range page.Links {
				linkKey, _, err := NormalizeURL(link)
				if err != nil || visited.Seen(linkKey) {
					continue
				}
				queue.Push(linkKey, entry.Depth+1)
			}
		}
	}
	return false
}

func (r *Runner) storeBusiness(ctx context.Context, targetName string, record BusinessRecord, assigned map[string]struct{}) error {
	id, err := r.ids.NewID()
	if err != nil {
		return err
	}
	now := r.clock.Now()
	biID, err := r.biids.Assign(ctx, now, assigned, r.store.BIIDExists)
	if err != nil {
		return err
	}
	record.ID = id
	record.BIID = biID
	record.TargetName = targetName
	if record.DiscoveredAt.IsZero() {
		record.DiscoveredAt = now
	}
	return r.store.UpsertBusiness(ctx, record)
}

func (r *Runner) archivePage(ctx context.Context, targetName, pageURL string, body []byte, logger *zap.Logger) {
	if r.archive == nil {
		return
	}
	digest, err := r.hasher.Hash([]byte(pageURL))
	if err != nil {
		logger.Warn("hash page url", zap.String("url", pageURL), zap.Error(err))
		return
	}
	name := ArchiveObjectName(targetName, digest, r.clock.Now())
	if _, err := r.archive.PutObject(ctx, name, "text/html; charset=utf-8", body); err != nil {
		logger.Warn("archive page", zap.String("url", pageURL), zap.Error(err))
	}
}

// ArchiveObjectName lays out archived pages as pages/<target-slug>/<date>/<digest>.html.
func ArchiveObjectName(targetName, digest string, fetchedAt time.Time) string {
	return path.Join("pages", slug(targetName), fetchedAt.UTC().Format("2006-01-02"), digest+".html")
}

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "target"
	}
	return out
}
