package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveCrawlMetrics(t *testing.T) {
	Init()
	Init()

	ObservePage("metrics-test", "https://Yellow.co.tz/listing", 512)
	ObservePage("metrics-test", "https://yellow.co.tz/other", 0)
	if val := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("metrics-test", "yellow.co.tz")); val != 2 {
		t.Errorf("expected 2 pages, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("yellow.co.tz")); val < 512 {
		t.Errorf("expected at least 512 bytes, got %f", val)
	}

	ObserveBusiness("metrics-test", "json-ld")
	if val := testutil.ToFloat64(crawlerBusinessesTotal.WithLabelValues("metrics-test", "json-ld")); val != 1 {
		t.Errorf("expected 1 business, got %f", val)
	}

	ObserveFetchFailure("metrics-test", "transport")
	ObserveStoreError("metrics-test")
	if val := testutil.ToFloat64(crawlerFetchFailuresTotal.WithLabelValues("metrics-test", "transport")); val != 1 {
		t.Errorf("expected 1 fetch failure, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerStoreErrorsTotal.WithLabelValues("metrics-test")); val != 1 {
		t.Errorf("expected 1 store error, got %f", val)
	}

	ObserveRun("metrics-test", "completed", 2*time.Second)
	if val := testutil.ToFloat64(crawlerRunsTotal.WithLabelValues("metrics-test", "completed")); val != 1 {
		t.Errorf("expected 1 run, got %f", val)
	}

	SetRunInProgress(true)
	if val := testutil.ToFloat64(crawlerRunInProgress); val != 1 {
		t.Errorf("expected gauge 1, got %f", val)
	}
	SetRunInProgress(false)
	if val := testutil.ToFloat64(crawlerRunInProgress); val != 0 {
		t.Errorf("expected gauge 0, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
