package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var errUnsupportedScheme = errors.New("unsupported url scheme")

// NormalizeURL standardizes a URL so the visited-set sees one key per page.
// It lowercases the scheme and host, removes default ports, sorts query parameters,
// drops the fragment, and turns an empty path into "/". Only http and https URLs
// are accepted.
func NormalizeURL(rawURL string) (string, *url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", nil, fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", nil, fmt.Errorf("%w: %q", errUnsupportedScheme, u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Host == "" {
		return "", nil, fmt.Errorf("parse url: missing host in %q", rawURL)
	}

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = u.Query().Encode()

	return u.String(), u, nil
}

// DomainAllowed reports whether host end-matches one of the allowed domains.
// "shop.example.com" matches "example.com"; "badexample.com" does not.
func DomainAllowed(host string, allowed []string) bool {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return false
	}
	for _, raw := range allowed {
		domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "*.")
		domain = strings.TrimPrefix(domain, ".")
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
