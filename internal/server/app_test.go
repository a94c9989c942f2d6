package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JakeFAU/bizdirectory-crawler/internal/config"
	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDirectorySite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head>
<script type="application/ld+json">{"@type":"LocalBusiness","name":"Acme Shop","address":{"addressLocality":"Arusha"}}</script>
</head><body><a href="/listing">listing</a><a href="http://other.test/">elsewhere</a></body></html>`)
	})
	mux.HandleFunc("/listing", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
<div class="business-name" data-biz-region="Mwanza" data-biz-sector="Fishing">Lake Traders</div>
</body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, siteURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Logging.Development = false
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.SQLitePath = filepath.Join(dir, "biz.db")
	cfg.Storage.Archive = config.ArchiveLocal
	cfg.Storage.ArchiveDir = filepath.Join(dir, "archive")
	cfg.Crawler.ArchivePages = true
	depth, pages := 2, 10
	cfg.Targets = []crawler.TargetSpec{{
		Name:           "local site",
		StartURLs:      []string{siteURL + "/"},
		AllowedDomains: []string{"127.0.0.1"},
		MaxDepth:       &depth,
		MaxPages:       &pages,
		DelayRange:     []float64{0, 0},
	}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildRunsTargetEndToEnd(t *testing.T) {
	site := newDirectorySite(t)
	cfg := testConfig(t, site.URL)
	ctx := context.Background()

	app, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	require.Len(t, app.Scheduler().List(), 1)
	res, err := app.Scheduler().RunOne(ctx, "local site")
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)
	require.Equal(t, crawler.RunStateCompleted, res.State)
	require.Equal(t, 2, res.PagesCrawled)
	require.Equal(t, 2, res.BusinessesFound)

	records, err := app.Store().ListBusinesses(ctx, crawler.BusinessFilter{TargetName: "local site"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	byName := map[string]crawler.BusinessRecord{}
	for _, rec := range records {
		byName[rec.Name] = rec
		require.Regexp(t, `^BIZ-TZ-\d{8}-\d{4}$`, rec.BIID)
	}
	require.Equal(t, "Arusha", byName["Acme Shop"].Region)
	require.Equal(t, crawler.MethodJSONLD, byName["Acme Shop"].ExtractionMethod)
	require.Equal(t, "Fishing", byName["Lake Traders"].Sector)

	stats, err := app.Store().CrawlerStatistics(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalRuns)

	archived, err := filepath.Glob(filepath.Join(cfg.Storage.ArchiveDir, "pages", "local-site", "*", "*.html"))
	require.NoError(t, err)
	require.Len(t, archived, 2)
	body, err := os.ReadFile(archived[0])
	require.NoError(t, err)
	require.Contains(t, string(body), "<html>")
}

func TestBuildRejectsUnreachablePostgres(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = config.BackendPostgres
	cfg.DB.DSN = "postgres://127.0.0.1:1/biz?connect_timeout=1"

	_, err = Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "postgres store init failed")
}

func TestServeStopsOnCancel(t *testing.T) {
	site := newDirectorySite(t)
	cfg := testConfig(t, site.URL)
	cfg.Scheduler.Autostart = true

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := app.Scheduler().Get("local site")
		return err == nil && got.LastCrawl != nil
	}, 5*time.Second, 10*time.Millisecond, "autostarted loop runs the due target")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	require.False(t, app.Scheduler().Running())
}
