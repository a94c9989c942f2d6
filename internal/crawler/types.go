package crawler

import (
	"time"
)

// RunState represents the lifecycle state of a single crawl run.
type RunState string

// Run states reported on CrawlRunResult.
const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateAborted   RunState = "aborted"
)

// ExtractionMethod tags which strategy produced a BusinessRecord.
type ExtractionMethod string

// Extraction strategies in the order the extractor applies them.
const (
	MethodJSONLD    ExtractionMethod = "json-ld"
	MethodMicrodata ExtractionMethod = "microdata"
	MethodSelector  ExtractionMethod = "selector"
)

// DelayRange bounds the politeness pause taken before each fetch.
type DelayRange struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// CrawlTarget is the configuration for one independently scheduled site family.
type CrawlTarget struct {
	Name              string
	StartURLs         []string
	AllowedDomains    []string
	MaxDepth          int
	MaxPages          int
	Delay             DelayRange
	BusinessSelectors []string
	Active            bool
	LastCrawl         *time.Time
	NextCrawl         *time.Time
	CrawlInterval     time.Duration
}

// Clone returns a deep copy so callers can never mutate scheduler-owned state.
func (t CrawlTarget) Clone() CrawlTarget {
	cp := t
	cp.StartURLs = cloneStrings(t.StartURLs)
	cp.AllowedDomains = cloneStrings(t.AllowedDomains)
	cp.BusinessSelectors = cloneStrings(t.BusinessSelectors)
	cp.LastCrawl = cloneTime(t.LastCrawl)
	cp.NextCrawl = cloneTime(t.NextCrawl)
	return cp
}

// IsDue reports whether the target should run at now.
func (t CrawlTarget) IsDue(now time.Time) bool {
	if !t.Active {
		return false
	}
	return t.NextCrawl == nil || !now.Before(*t.NextCrawl)
}

// MarkCrawled records a finished run and schedules the next one.
func (t *CrawlTarget) MarkCrawled(end time.Time) {
	last := end
	next := end.Add(t.CrawlInterval)
	t.LastCrawl = &last
	t.NextCrawl = &next
}

// BusinessRecord is one discovered listing candidate.
type BusinessRecord struct {
	ID               string           `json:"id"`
	BIID             string           `json:"bi_id"`
	Name             string           `json:"name"`
	Region           string           `json:"region,omitempty"`
	Sector           string           `json:"sector,omitempty"`
	Contact          string           `json:"contact,omitempty"`
	SourceURL        string           `json:"source_url"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	Selector         string           `json:"selector,omitempty"`
	TargetName       string           `json:"target_name,omitempty"`
	DiscoveredAt     time.Time        `json:"discovered_at"`
}

// CrawlRunResult is the immutable outcome of one runner execution.
type CrawlRunResult struct {
	TargetName      string    `json:"target_name"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	PagesCrawled    int       `json:"pages_crawled"`
	BusinessesFound int       `json:"businesses_found"`
	Errors          []string  `json:"errors"`
	Success         bool      `json:"success"`
	State           RunState  `json:"state"`
}

// Duration returns the wall time spent in the run.
func (r CrawlRunResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// CrawlRun is the run metadata persisted by the storage collaborator.
type CrawlRun struct {
	TargetName      string
	StartTime       time.Time
	EndTime         time.Time
	PagesCrawled    int
	BusinessesAdded int
	ErrorCount      int
}

// RunFromResult converts a result into its persisted form.
func RunFromResult(res CrawlRunResult) CrawlRun {
	return CrawlRun{
		TargetName:      res.TargetName,
		StartTime:       res.StartTime,
		EndTime:         res.EndTime,
		PagesCrawled:    res.PagesCrawled,
		BusinessesAdded: res.BusinessesFound,
		ErrorCount:      len(res.Errors),
	}
}

// CrawlerStats aggregates every recorded run.
type CrawlerStats struct {
	TotalRuns               int        `json:"total_runs"`
	TotalPagesCrawled       int        `json:"total_pages_crawled"`
	TotalBusinessesAdded    int        `json:"total_businesses_added"`
	LastRunTimestamp        *time.Time `json:"last_run_timestamp"`
	AveragePagesPerRun      float64    `json:"average_pages_per_run"`
	AverageBusinessesPerRun float64    `json:"average_businesses_per_run"`
	ProcessUptimeSeconds    float64    `json:"process_uptime_seconds"`
}

// ComputeStats folds runs into CrawlerStats. Uptime runs from the earliest start to now.
func ComputeStats(runs []CrawlRun, now time.Time) CrawlerStats {
	var stats CrawlerStats
	if len(runs) == 0 {
		return stats
	}
	earliest := runs[0].StartTime
	latest := runs[0].EndTime
	for _, run := range runs {
		stats.TotalRuns++
		stats.TotalPagesCrawled += run.PagesCrawled
		stats.TotalBusinessesAdded += run.BusinessesAdded
		if run.StartTime.Before(earliest) {
			earliest = run.StartTime
		}
		if run.EndTime.After(latest) {
			latest = run.EndTime
		}
	}
	return FinishStats(stats, &latest, &earliest, now)
}

// FinishStats derives averages and uptime from the raw totals.
func FinishStats(stats CrawlerStats, last, earliest *time.Time, now time.Time) CrawlerStats {
	if stats.TotalRuns > 0 {
		stats.AveragePagesPerRun = float64(stats.TotalPagesCrawled) / float64(stats.TotalRuns)
		stats.AverageBusinessesPerRun = float64(stats.TotalBusinessesAdded) / float64(stats.TotalRuns)
	}
	stats.LastRunTimestamp = cloneTime(last)
	if earliest != nil {
		stats.ProcessUptimeSeconds = now.Sub(*earliest).Seconds()
	}
	return stats
}

// BusinessFilter narrows ListBusinesses queries.
type BusinessFilter struct {
	TargetName string
	Region     string
	Sector     string
	Limit      int
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}
