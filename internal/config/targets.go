package config

import "github.com/JakeFAU/bizdirectory-crawler/internal/crawler"

// DefaultTargets are the directories crawled when the config names none.
func DefaultTargets() []crawler.TargetSpec {
	return []crawler.TargetSpec{
		{
			Name:           "Tanzania Business Directory",
			StartURLs:      []string{"https://www.yellow.co.tz/", "https://businesslist.co.tz/"},
			AllowedDomains: []string{"yellow.co.tz", "businesslist.co.tz"},
			MaxDepth:       intPtr(3),
			MaxPages:       intPtr(50),
			BusinessSelectors: []string{
				".business-name",
				".listing-title",
				"h3.business",
				".company-name",
			},
			CrawlIntervalHours: hoursPtr(24),
		},
		{
			Name:               "Local Business Directories",
			StartURLs:          []string{"https://www.hotfrog.co.tz/", "https://www.cybo.com/TZ/"},
			AllowedDomains:     []string{"hotfrog.co.tz", "cybo.com"},
			MaxDepth:           intPtr(2),
			MaxPages:           intPtr(30),
			CrawlIntervalHours: hoursPtr(48),
		},
		{
			Name:               "Government Business Registry",
			StartURLs:          []string{"https://onrs.go.tz/", "https://www.brela.go.tz/"},
			AllowedDomains:     []string{"onrs.go.tz", "brela.go.tz"},
			MaxDepth:           intPtr(2),
			MaxPages:           intPtr(20),
			CrawlIntervalHours: hoursPtr(72),
		},
	}
}

func intPtr(v int) *int { return &v }

func hoursPtr(v float64) *float64 { return &v }
