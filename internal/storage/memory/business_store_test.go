package memory

import (
	"context"
	"testing"
	"time"

	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	"github.com/stretchr/testify/require"
)

func TestBusinessStoreUpsertAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBusinessStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertBusiness(ctx, crawler.BusinessRecord{
		ID: "a", BIID: "BIZ-TZ-20240501-1000", Name: "Acme", Region: "Arusha", TargetName: "t1", DiscoveredAt: base,
	}))
	require.NoError(t, store.UpsertBusiness(ctx, crawler.BusinessRecord{
		ID: "b", BIID: "BIZ-TZ-20240501-2000", Name: "Beta", Region: "Dodoma", TargetName: "t2", DiscoveredAt: base.Add(time.Minute),
	}))
	require.NoError(t, store.UpsertBusiness(ctx, crawler.BusinessRecord{
		ID: "a", BIID: "BIZ-TZ-20240501-1000", Name: "Acme Ltd", Region: "arusha", TargetName: "t1", DiscoveredAt: base,
	}))

	all, err := store.ListBusinesses(ctx, crawler.BusinessFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Beta", all[0].Name)
	require.Equal(t, "Acme Ltd", all[1].Name)

	byRegion, err := store.ListBusinesses(ctx, crawler.BusinessFilter{Region: "ARUSHA"})
	require.NoError(t, err)
	require.Len(t, byRegion, 1)

	byTarget, err := store.ListBusinesses(ctx, crawler.BusinessFilter{TargetName: "t2", Limit: 5})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	require.Equal(t, "b", byTarget[0].ID)

	limited, err := store.ListBusinesses(ctx, crawler.BusinessFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestBusinessStoreRejectsDuplicateBIID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBusinessStore()
	require.NoError(t, store.UpsertBusiness(ctx, crawler.BusinessRecord{ID: "a", BIID: "BIZ-TZ-20240501-1000", Name: "Acme"}))

	err := store.UpsertBusiness(ctx, crawler.BusinessRecord{ID: "b", BIID: "BIZ-TZ-20240501-1000", Name: "Other"})
	require.ErrorIs(t, err, crawler.ErrDuplicateBIID)

	exists, err := store.BIIDExists(ctx, "BIZ-TZ-20240501-1000")
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = store.BIIDExists(ctx, "BIZ-TZ-20240501-9999")
	require.NoError(t, err)
	require.False(t, exists)

	require.Error(t, store.UpsertBusiness(ctx, crawler.BusinessRecord{BIID: "x"}))
}

func TestBusinessStoreStatistics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBusinessStore()
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	empty, err := store.CrawlerStatistics(ctx, now)
	require.NoError(t, err)
	require.Zero(t, empty.TotalRuns)
	require.Nil(t, empty.LastRunTimestamp)

	first := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordCrawlRun(ctx, crawler.CrawlRun{
		TargetName: "t1", StartTime: first, EndTime: first.Add(time.Hour), PagesCrawled: 10, BusinessesAdded: 4,
	}))
	require.NoError(t, store.RecordCrawlRun(ctx, crawler.CrawlRun{
		TargetName: "t2", StartTime: first.Add(2 * time.Hour), EndTime: first.Add(3 * time.Hour), PagesCrawled: 20, BusinessesAdded: 1, ErrorCount: 2,
	}))

	stats, err := store.CrawlerStatistics(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalRuns)
	require.Equal(t, 30, stats.TotalPagesCrawled)
	require.Equal(t, 5, stats.TotalBusinessesAdded)
	require.InDelta(t, 15.0, stats.AveragePagesPerRun, 1e-9)
	require.InDelta(t, 2.5, stats.AverageBusinessesPerRun, 1e-9)
	require.Equal(t, first.Add(3*time.Hour), *stats.LastRunTimestamp)
	require.InDelta(t, (24 * time.Hour).Seconds(), stats.ProcessUptimeSeconds, 1e-9)
}
