// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultUserAgent = "BizIntelTZ-Crawler/1.0 (+https://bizinteltz.com/crawler)"
	DefaultTimeout   = 30 * time.Second
	maxRedirects     = 10
)

// ErrRedirectOutOfScope is reported when a redirect points outside the allowed domains.
var ErrRedirectOutOfScope = errors.New("redirect outside allowed domains")

type scopeKey struct{}

// Waiter gates outbound requests, typically per host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior. Limiter is optional.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
	Limiter     Waiter
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. The transport and timeout live on the shared backend,
// so they are configured once here rather than per request.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = true
	// The runner owns deduplication; colly must not refuse repeat URLs.
	c.AllowURLRevisit = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	// Installed once on the shared backend; the scope travels on each request's context.
	c.SetRedirectHandler(checkRedirect)

	return &Fetcher{
		cfg:           cfg,
		logger:        logger.Named("fetcher"),
		baseCollector: c,
	}
}

// pageState accumulates callback output for one visit.
type pageState struct {
	result    crawler.FetchResult
	fetchErr  error
	gotStatus bool
}

// Fetch executes a single HTTP GET. It never returns an error: non-200 pages come
// back empty, transport failures come back empty with a Diagnostic. Redirects
// leaving allowedDomains are refused; an empty list follows any redirect.
func (f *Fetcher) Fetch(ctx context.Context, url string, allowedDomains []string) crawler.FetchResult {
	state := &pageState{result: crawler.FetchResult{URL: url}}
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, url); err != nil {
			state.fetchErr = err
			return f.finish(url, state)
		}
	}

	collector := f.baseCollector.Clone()
	collector.Context = context.WithValue(ctx, scopeKey{}, allowedDomains)
	f.configureCollectorHooks(collector, state)

	visitErr := collector.Visit(url)
	if state.fetchErr == nil {
		state.fetchErr = visitErr
	}
	return f.finish(url, state)
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, state *pageState) {
	hooks.OnResponse(func(r *colly.Response) {
		state.gotStatus = true
		state.result.StatusCode = r.StatusCode
		if r.Request != nil && r.Request.URL != nil {
			state.result.URL = r.Request.URL.String()
		}
		if r.StatusCode == http.StatusOK {
			state.result.Body = append([]byte(nil), r.Body...)
		}
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if state.result.StatusCode != http.StatusOK {
			return
		}
		if link := e.Request.AbsoluteURL(e.Attr("href")); link != "" {
			state.result.Links = append(state.result.Links, link)
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			state.gotStatus = true
			state.result.StatusCode = r.StatusCode
		}
		state.fetchErr = err
	})
}

func (f *Fetcher) finish(url string, state *pageState) crawler.FetchResult {
	res := state.result
	if state.gotStatus && res.StatusCode != http.StatusOK {
		f.logger.Warn("skipping non-200 response",
			zap.String("url", url),
			zap.Int("status_code", res.StatusCode),
		)
		return crawler.FetchResult{URL: res.URL, StatusCode: res.StatusCode}
	}
	if len(res.Body) > 0 {
		return res
	}
	if state.fetchErr != nil {
		f.logger.Warn("fetch failed", zap.String("url", url), zap.Error(state.fetchErr))
		return crawler.FetchResult{
			URL:        url,
			Diagnostic: fmt.Sprintf("fetch %s: %v", url, state.fetchErr),
		}
	}
	return crawler.FetchResult{URL: res.URL, StatusCode: res.StatusCode}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return http.ErrUseLastResponse
	}
	allowed, _ := req.Context().Value(scopeKey{}).([]string)
	if len(allowed) > 0 && !crawler.DomainAllowed(req.URL.Hostname(), allowed) {
		return fmt.Errorf("%w: %s", ErrRedirectOutOfScope, req.URL.Redacted())
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
