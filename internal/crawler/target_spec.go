package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
)

// Defaults applied by TargetSpec.Build when a field is omitted.
const (
	DefaultMaxDepth      = 3
	DefaultMaxPages      = 100
	DefaultCrawlInterval = 24 * time.Hour
)

// DefaultDelay is the politeness window used when a spec omits delay_range.
var DefaultDelay = DelayRange{Min: time.Second, Max: 3 * time.Second}

// TargetSpec is the wire/config shape of a CrawlTarget. Delays are seconds,
// the interval is hours.
type TargetSpec struct {
	Name               string    `json:"name" mapstructure:"name"`
	StartURLs          []string  `json:"start_urls" mapstructure:"start_urls"`
	AllowedDomains     []string  `json:"allowed_domains" mapstructure:"allowed_domains"`
	MaxDepth           *int      `json:"max_depth,omitempty" mapstructure:"max_depth"`
	MaxPages           *int      `json:"max_pages,omitempty" mapstructure:"max_pages"`
	DelayRange         []float64 `json:"delay_range,omitempty" mapstructure:"delay_range"`
	BusinessSelectors  []string  `json:"business_selectors,omitempty" mapstructure:"business_selectors"`
	Active             *bool     `json:"active,omitempty" mapstructure:"active"`
	CrawlIntervalHours *float64  `json:"crawl_interval_hours,omitempty" mapstructure:"crawl_interval_hours"`
}

// TargetView is the API representation of a target, including schedule state.
type TargetView struct {
	TargetSpec
	LastCrawl *time.Time `json:"last_crawl"`
	NextCrawl *time.Time `json:"next_crawl"`
}

// Build validates the spec and converts it into a CrawlTarget.
// Every failure wraps ErrInvalidTarget.
func (s TargetSpec) Build() (CrawlTarget, error) {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return CrawlTarget{}, fmt.Errorf("%w: name is required", ErrInvalidTarget)
	}
	if len(s.StartURLs) == 0 {
		return CrawlTarget{}, fmt.Errorf("%w: %s: at least one start url is required", ErrInvalidTarget, name)
	}
	for _, raw := range s.StartURLs {
		if _, _, err := NormalizeURL(raw); err != nil {
			return CrawlTarget{}, fmt.Errorf("%w: %s: start url %q: %v", ErrInvalidTarget, name, raw, err)
		}
	}
	domains := make([]string, 0, len(s.AllowedDomains))
	for _, d := range s.AllowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		return CrawlTarget{}, fmt.Errorf("%w: %s: at least one allowed domain is required", ErrInvalidTarget, name)
	}

	depth := DefaultMaxDepth
	if s.MaxDepth != nil {
		depth = *s.MaxDepth
	}
	if depth < 0 {
		return CrawlTarget{}, fmt.Errorf("%w: %s: max_depth must be >= 0", ErrInvalidTarget, name)
	}

	pages := DefaultMaxPages
	if s.MaxPages != nil {
		pages = *s.MaxPages
	}
	if pages <= 0 {
		return CrawlTarget{}, fmt.Errorf("%w: %s: max_pages must be > 0", ErrInvalidTarget, name)
	}

	delay := DefaultDelay
	switch len(s.DelayRange) {
	case 0:
	case 2:
		if s.DelayRange[0] < 0 || s.DelayRange[1] < 0 || s.DelayRange[0] > s.DelayRange[1] {
			return CrawlTarget{}, fmt.Errorf("%w: %s: delay_range must satisfy 0 <= min <= max", ErrInvalidTarget, name)
		}
		delay = DelayRange{Min: seconds(s.DelayRange[0]), Max: seconds(s.DelayRange[1])}
	default:
		return CrawlTarget{}, fmt.Errorf("%w: %s: delay_range needs exactly two values", ErrInvalidTarget, name)
	}

	interval := DefaultCrawlInterval
	if s.CrawlIntervalHours != nil {
		interval = time.Duration(*s.CrawlIntervalHours * float64(time.Hour))
	}
	if interval <= 0 {
		return CrawlTarget{}, fmt.Errorf("%w: %s: crawl_interval_hours must be > 0", ErrInvalidTarget, name)
	}

	selectors := make([]string, 0, len(s.BusinessSelectors))
	for _, sel := range s.BusinessSelectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			return CrawlTarget{}, fmt.Errorf("%w: %s: selector %q: %v", ErrInvalidTarget, name, sel, err)
		}
		selectors = append(selectors, sel)
	}

	active := true
	if s.Active != nil {
		active = *s.Active
	}

	return CrawlTarget{
		Name:              name,
		StartURLs:         cloneStrings(s.StartURLs),
		AllowedDomains:    domains,
		MaxDepth:          depth,
		MaxPages:          pages,
		Delay:             delay,
		BusinessSelectors: selectors,
		Active:            active,
		CrawlInterval:     interval,
	}, nil
}

// SpecFromTarget renders a target back into its wire form.
func SpecFromTarget(t CrawlTarget) TargetView {
	depth := t.MaxDepth
	pages := t.MaxPages
	hours := t.CrawlInterval.Hours()
	active := t.Active
	return TargetView{
		TargetSpec: TargetSpec{
			Name:               t.Name,
			StartURLs:          cloneStrings(t.StartURLs),
			AllowedDomains:     cloneStrings(t.AllowedDomains),
			MaxDepth:           &depth,
			MaxPages:           &pages,
			DelayRange:         []float64{t.Delay.Min.Seconds(), t.Delay.Max.Seconds()},
			BusinessSelectors:  cloneStrings(t.BusinessSelectors),
			Active:             &active,
			CrawlIntervalHours: &hours,
		},
		LastCrawl: cloneTime(t.LastCrawl),
		NextCrawl: cloneTime(t.NextCrawl),
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
