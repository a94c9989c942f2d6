package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
)

// BusinessStore keeps businesses and crawl runs in process memory.
type BusinessStore struct {
	mu         sync.RWMutex
	businesses map[string]crawler.BusinessRecord
	biids      map[string]string
	runs       []crawler.CrawlRun
}

// NewBusinessStore constructs an empty BusinessStore.
func NewBusinessStore() *BusinessStore {
	return &BusinessStore{
		businesses: make(map[string]crawler.BusinessRecord),
		biids:      make(map[string]string),
	}
}

// UpsertBusiness inserts or replaces a record keyed by ID. A BI-ID already held
// by a different record is rejected.
func (s *BusinessStore) UpsertBusiness(_ context.Context, record crawler.BusinessRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("upsert business: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.biids[record.BIID]; ok && owner != record.ID {
		return fmt.Errorf("upsert business %s: %w", record.BIID, crawler.ErrDuplicateBIID)
	}
	if prev, ok := s.businesses[record.ID]; ok && prev.BIID != record.BIID {
		delete(s.biids, prev.BIID)
	}
	s.businesses[record.ID] = record
	s.biids[record.BIID] = record.ID
	return nil
}

// BIIDExists reports whether any stored business holds biID.
func (s *BusinessStore) BIIDExists(_ context.Context, biID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.biids[biID]
	return ok, nil
}

// RecordCrawlRun appends run metadata.
func (s *BusinessStore) RecordCrawlRun(_ context.Context, run crawler.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// CrawlerStatistics aggregates every recorded run.
func (s *BusinessStore) CrawlerStatistics(_ context.Context, now time.Time) (crawler.CrawlerStats, error) {
	s.mu.RLock()
	runs := append([]crawler.CrawlRun(nil), s.runs...)
	s.mu.RUnlock()
	return crawler.ComputeStats(runs, now), nil
}

// ListBusinesses returns matching records, newest first.
func (s *BusinessStore) ListBusinesses(_ context.Context, filter crawler.BusinessFilter) ([]crawler.BusinessRecord, error) {
	s.mu.RLock()
	out := make([]crawler.BusinessRecord, 0, len(s.businesses))
	for _, rec := range s.businesses {
		if matches(rec, filter) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(rec crawler.BusinessRecord, filter crawler.BusinessFilter) bool {
	if filter.TargetName != "" && rec.TargetName != filter.TargetName {
		return false
	}
	if filter.Region != "" && !strings.EqualFold(rec.Region, filter.Region) {
		return false
	}
	if filter.Sector != "" && !strings.EqualFold(rec.Sector, filter.Sector) {
		return false
	}
	return true
}
