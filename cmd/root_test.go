package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTargetsListsBuiltInDirectories(t *testing.T) {
	out, err := execute(t, "targets")
	require.NoError(t, err)
	require.Contains(t, out, "Tanzania Business Directory")
	require.Contains(t, out, "Local Business Directories")
	require.Contains(t, out, "Government Business Registry")
	require.Contains(t, out, "72h0m0s")
}

func TestTargetsRejectsBadConfig(t *testing.T) {
	path := writeConfig(t, "server:\n  port: -1\n")
	_, err := execute(t, "targets", "--config", path)
	require.ErrorContains(t, err, "server.port")
}

func TestCrawlUnknownTarget(t *testing.T) {
	path := writeConfig(t, "logging:\n  development: false\n")
	_, err := execute(t, "crawl", "--config", path, "Nowhere Directory")
	require.ErrorIs(t, err, crawler.ErrTargetNotFound)
}

func TestCrawlPrintsRunResult(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><h2 class="business">Zanzibar Spice Co</h2></body></html>`)
	}))
	t.Cleanup(site.Close)

	path := writeConfig(t, fmt.Sprintf(`
logging:
  development: false
targets:
  - name: spice
    start_urls: [%q]
    allowed_domains: ["127.0.0.1"]
    max_depth: 0
    delay_range: [0, 0]
`, site.URL+"/"))

	out, err := execute(t, "crawl", "--config", path, "spice")
	require.NoError(t, err)

	var res crawler.CrawlRunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, "spice", res.TargetName)
	require.Equal(t, 1, res.PagesCrawled)
	require.Equal(t, 1, res.BusinessesFound)
	require.True(t, res.Success)
}
