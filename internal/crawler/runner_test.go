package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFetcher struct {
	mu     sync.Mutex
	pages  map[string]FetchResult
	landed map[string]string
	calls  []string
	scopes [][]string
	hook   func(url string)
}

func (f *stubFetcher) Fetch(_ context.Context, url string, allowedDomains []string) FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.scopes = append(f.scopes, allowedDomains)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	page, ok := f.pages[url]
	if !ok {
		return FetchResult{URL: url, StatusCode: 404}
	}
	page.URL = url
	if final, ok := f.landed[url]; ok {
		page.URL = final
	}
	return page
}

func (f *stubFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// markerExtractor emits one record per "biz:<name>" token in the body.
type markerExtractor struct{}

func (markerExtractor) Extract(pageURL string, body []byte, _ []string) []BusinessRecord {
	var out []BusinessRecord
	for _, field := range strings.Fields(string(body)) {
		if name, ok := strings.CutPrefix(field, "biz:"); ok {
			out = append(out, BusinessRecord{Name: name, SourceURL: pageURL, ExtractionMethod: MethodSelector})
		}
	}
	return out
}

type panicExtractor struct{}

func (panicExtractor) Extract(string, []byte, []string) []BusinessRecord {
	panic("boom")
}

type fakeStore struct {
	mu      sync.Mutex
	records []BusinessRecord
	biids   map[string]struct{}
	failFor string
}

func newFakeStore() *fakeStore {
	return &fakeStore{biids: make(map[string]struct{})}
}

func (s *fakeStore) UpsertBusiness(_ context.Context, record BusinessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.Name == s.failFor {
		return errors.New("disk full")
	}
	if _, dup := s.biids[record.BIID]; dup {
		return ErrDuplicateBIID
	}
	s.biids[record.BIID] = struct{}{}
	s.records = append(s.records, record)
	return nil
}

func (s *fakeStore) BIIDExists(_ context.Context, biID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.biids[biID]
	return ok, nil
}

func (s *fakeStore) RecordCrawlRun(context.Context, CrawlRun) error { return nil }

func (s *fakeStore) CrawlerStatistics(context.Context, time.Time) (CrawlerStats, error) {
	return CrawlerStats{}, nil
}

func (s *fakeStore) ListBusinesses(context.Context, BusinessFilter) ([]BusinessRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BusinessRecord(nil), s.records...), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBlobs) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[path] = data
	return "mem://" + path, nil
}

type lenHasher struct{}

func (lenHasher) Hash(data []byte) (string, error) { return fmt.Sprintf("h%d", len(data)), nil }

func newTestRunner(t *testing.T, fetcher Fetcher, extractor Extractor, store BusinessStore) *Runner {
	t.Helper()
	runner, err := NewRunner(RunnerDeps{
		Fetcher:   fetcher,
		Extractor: extractor,
		Store:     store,
		Clock:     fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		IDs:       &seqIDs{},
		BIIDs:     NewBIIDGenerator(11, 0),
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	return runner
}

func exTarget() CrawlTarget {
	return CrawlTarget{
		Name:           "ex",
		StartURLs:      []string{"http://ex.test/"},
		AllowedDomains: []string{"ex.test"},
		MaxDepth:       1,
		MaxPages:       2,
		Active:         true,
		CrawlInterval:  time.Hour,
	}
}

func TestRunnerEndToEndScenario(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]FetchResult{
		"http://ex.test/": {
			StatusCode: 200,
			Body:       []byte("<html> biz:Acme-Shop </html>"),
			Links:      []string{"http://ex.test/about", "http://other.test/"},
		},
		"http://ex.test/about": {StatusCode: 200, Body: []byte("<html>about us</html>")},
	}}
	store := newFakeStore()
	runner := newTestRunner(t, fetcher, markerExtractor{}, store)

	res := runner.Run(context.Background(), exTarget())

	require.Equal(t, 2, res.PagesCrawled)
	require.Equal(t, 1, res.BusinessesFound)
	require.True(t, res.Success)
	require.Empty(t, res.Errors)
	require.Equal(t, RunStateCompleted, res.State)
	require.Equal(t, []string{"http://ex.test/", "http://ex.test/about"}, fetcher.Calls())

	records, err := store.ListBusinesses(context.Background(), BusinessFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Acme-Shop", records[0].Name)
	require.Equal(t, "ex", records[0].TargetName)
	require.Equal(t, "id-1", records[0].ID)
	require.Regexp(t, biidPattern, records[0].BIID)
	require.Contains(t, records[0].BIID, "-20240501-")
}

func TestRunnerRespectsPageBudget(t *testing.T) {
	pages := map[string]FetchResult{}
	var links []string
	for i := 0; i < 20; i++ {
		u := fmt.Sprintf("http://ex.test/p%d", i)
		links = append(links, u)
		pages[u] = FetchResult{StatusCode: 200, Body: []byte("page"), Links: links}
	}
	pages["http://ex.test/"] = FetchResult{StatusCode: 200, Body: []byte("root"), Links: links}
	fetcher := &stubFetcher{pages: pages}

	target := exTarget()
	target.MaxDepth = 5
	target.MaxPages = 7
	res := newTestRunner(t, fetcher, markerExtractor{}, newFakeStore()).Run(context.Background(), target)

	require.Equal(t, 7, res.PagesCrawled)
	require.Len(t, fetcher.Calls(), 7)
}

func TestRunnerFetchesEachNormalizedURLOnce(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]FetchResult{
		"http://ex.test/": {
			StatusCode: 200,
			Body:       []byte("root"),
			Links: []string{
				"http://ex.test/a?y=2&x=1",
				"http://EX.test:80/a?x=1&y=2#frag",
				"http://ex.test/a?x=1&y=2",
				"http://ex.test",
				"mailto:hello@ex.test",
			},
		},
		"http://ex.test/a?x=1&y=2": {StatusCode: 200, Body: []byte("a")},
	}}
	target := exTarget()
	target.MaxPages = 50
	res := newTestRunner(t, fetcher, markerExtractor{}, newFakeStore()).Run(context.Background(), target)

	require.Equal(t, 2, res.PagesCrawled)
	require.Equal(t, []string{"http://ex.test/", "http://ex.test/a?x=1&y=2"}, fetcher.Calls())
}

func TestRunnerNeverFetchesOutOfScope(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]FetchResult{
		"http://ex.test/": {
			StatusCode: 200,
			Body:       []byte("root"),
			Links:      []string{"http://other.test/", "http://badex.test/", "http://shop.ex.test/"},
		},
		"http://shop.ex.test/": {StatusCode: 200, Body: []byte("shop")},
	}}
	target := exTarget()
	target.MaxPages = 10
	res := newTestRunner(t, fetcher, markerExtractor{}, newFakeStore()).Run(context.Background(), target)

	require.Equal(t, 2, res.PagesCrawled)
	for _, call := range fetcher.Calls() {
		require.NotContains(t, call, "other.test")
		require.NotContains(t, call, "badex.test")
	}
}

func TestRunnerDropsPagesThatLandOutOfScope(t *testing.T) {
	fetcher := &stubFetcher{
		pages: map[string]FetchResult{
			"http://ex.test/": {
				StatusCode: 200,
				Body:       []byte("root"),
				Links:      []string{"http://ex.test/moved"},
			},
			"http://ex.test/moved": {
				StatusCode: 200,
				Body:       []byte("biz:Offsite-Corp"),
				Links:      []string{"http://other.test/next"},
			},
		},
		landed: map[string]string{"http://ex.test/moved": "http://other.test/"},
	}
	store := newFakeStore()
	target := exTarget()
	target.MaxDepth = 3
	target.MaxPages = 10
	res := newTestRunner(t, fetcher, markerExtractor{}, store).Run(context.Background(), target)

	require.Equal(t, 1, res.PagesCrawled)
	require.Zero(t, res.BusinessesFound)
	require.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "outside allowed domains")
	require.Equal(t, []string{"http://ex.test/", "http://ex.test/moved"}, fetcher.Calls())
	for _, scope := range fetcher.scopes {
		require.Equal(t, []string{"ex.test"}, scope)
	}

	records, err := store.ListBusinesses(context.Background(), BusinessFilter{})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestRunnerDepthLimit(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]FetchResult{
		"http://ex.test/":  {StatusCode: 200, Body: []byte("root"), Links: []string{"http://ex.test/1"}},
		"http://ex.test/1": {StatusCode: 200, Body: []byte("one"), Links: []string{"http://ex.test/2"}},
		"http://ex.test/2": {StatusCode: 200, Body: []byte("two")},
	}}
	target := exTarget()
	target.MaxDepth = 0
	target.MaxPages = 10
	res := newTestRunner(t, fetcher, markerExtractor{}, newFakeStore()).Run(context.Background(), target)
	require.Equal(t, 1, res.PagesCrawled)
	require.Equal(t, []string{"http://ex.test/"}, fetcher.Calls())
}

func TestRunnerEmptyFrontierIsSuccessful(t *testing.T) {
	fetcher := &stubFetcher{}
	target := exTarget()
	target.AllowedDomains = []string{"elsewhere.test"}

	runner := newTestRunner(t, fetcher, markerExtractor{}, newFakeStore())
	for i := 0; i < 2; i++ {
		res := runner.Run(context.Background(), target)
		require.Zero(t, res.PagesCrawled)
		require.Zero(t, res.BusinessesFound)
		require.True(t, res.Success)
		require.Equal(t, RunStateCompleted, res.State)
	}
	require.Empty(t, fetcher.Calls())
}

func TestRunnerRecordsDiagnosticsAndStoreFailures(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]FetchResult{
		"http://ex.test/": {
			StatusCode: 200,
			Body:       []byte("biz:Good biz:Broken"),
			Links:      []string{"http://ex.test/down", "http://ex.test/missing"},
		},
		"http://ex.test/down": {Diagnostic: "fetch http://ex.test/down: connection refused"},
	}}
	store := newFakeStore()
	store.failFor = "Broken"
	target := exTarget()
	target.MaxPages = 10

	res := newTestRunner(t, fetcher, markerExtractor{}, store).Run(context.Background(), target)

	require.False(t, res.Success)
	require.Equal(t, 1, res.PagesCrawled)
	require.Equal(t, 1, res.BusinessesFound)
	require.Equal(t, []string{
		`storing business "Broken": disk full`,
		"fetch http://ex.test/down: connection refused",
	}, res.Errors)
	require.Equal(t, RunStateCompleted, res.State)
}

func TestRunnerBIIDsUniqueAcrossRecords(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&body, "biz:shop%d ", i)
	}
	fetcher := &stubFetcher{pages: map[string]FetchResult{
		"http://ex.test/": {StatusCode: 200, Body: []byte(body.String())},
	}}
	store := newFakeStore()
	res := newTestRunner(t, fetcher, markerExtractor{}, store).Run(context.Background(), exTarget())
	require.True(t, res.Success, res.Errors)
	require.Equal(t, 300, res.BusinessesFound)

	seen := map[string]struct{}{}
	for _, rec := range store.records {
		_, dup := seen[rec.BIID]
		require.False(t, dup, "duplicate bi-id %s", rec.BIID)
		seen[rec.BIID] = struct{}{}
	}
}

func TestRunnerRecoversPanics(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]FetchResult{
		"http://ex.test/": {StatusCode: 200, Body: []byte("root")},
	}}
	res := newTestRunner(t, fetcher, panicExtractor{}, newFakeStore()).Run(context.Background(), exTarget())
	require.False(t, res.Success)
	require.Equal(t, []string{"critical error during crawl: boom"}, res.Errors)
	require.Equal(t, RunStateAborted, res.State)
	require.Equal(t, 1, res.PagesCrawled)
}

func TestRunnerCancellationAbortsAtNextDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &stubFetcher{
		pages: map[string]FetchResult{
			"http://ex.test/":  {StatusCode: 200, Body: []byte("biz:First"), Links: []string{"http://ex.test/2"}},
			"http://ex.test/2": {StatusCode: 200, Body: []byte("two")},
		},
		hook: func(string) { cancel() },
	}
	target := exTarget()
	target.MaxPages = 10

	res := newTestRunner(t, fetcher, markerExtractor{}, newFakeStore()).Run(ctx, target)
	require.Equal(t, RunStateAborted, res.State)
	require.Equal(t, 1, res.PagesCrawled)
	require.Equal(t, 1, res.BusinessesFound)
	require.True(t, res.Success)
	require.Equal(t, []string{"http://ex.test/"}, fetcher.Calls())
}

func TestRunnerCancellationInterruptsLongDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &stubFetcher{}
	target := exTarget()
	target.Delay = DelayRange{Min: time.Hour, Max: time.Hour}

	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	res := newTestRunner(t, fetcher, markerExtractor{}, newFakeStore()).Run(ctx, target)

	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, RunStateAborted, res.State)
	require.Zero(t, res.PagesCrawled)
	require.Empty(t, fetcher.Calls())
}

func TestRunnerArchivesPages(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]FetchResult{
		"http://ex.test/": {StatusCode: 200, Body: []byte("root")},
	}}
	blobs := &memBlobs{}
	runner, err := NewRunner(RunnerDeps{
		Fetcher:   fetcher,
		Extractor: markerExtractor{},
		Store:     newFakeStore(),
		Clock:     fixedClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		IDs:       &seqIDs{},
		Archive:   blobs,
		Hasher:    lenHasher{},
	})
	require.NoError(t, err)

	res := runner.Run(context.Background(), exTarget())
	require.Equal(t, 1, res.PagesCrawled)
	require.Contains(t, blobs.objects, "pages/ex/2024-05-01/h15.html")
}

func TestNewRunnerValidatesDeps(t *testing.T) {
	_, err := NewRunner(RunnerDeps{})
	require.Error(t, err)
	_, err = NewRunner(RunnerDeps{
		Fetcher:   &stubFetcher{},
		Extractor: markerExtractor{},
		Store:     newFakeStore(),
		Clock:     fixedClock{},
		IDs:       &seqIDs{},
		Archive:   &memBlobs{},
	})
	require.Error(t, err)
}

func TestArchiveObjectName(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Equal(t, "pages/tanzania-business-directory/2024-01-02/abc.html",
		ArchiveObjectName("Tanzania Business Directory", "abc", at))
	require.Equal(t, "pages/target/2024-01-02/abc.html", ArchiveObjectName("!!", "abc", at))
}
