package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty path", "http://Ex.Test", "http://ex.test/"},
		{"default http port", "http://ex.test:80/a", "http://ex.test/a"},
		{"default https port", "https://ex.test:443/a", "https://ex.test/a"},
		{"fragment dropped", "http://ex.test/about#team", "http://ex.test/about"},
		{"query sorted", "http://ex.test/?b=2&a=1", "http://ex.test/?a=1&b=2"},
		{"custom port kept", "http://ex.test:8080/", "http://ex.test:8080/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, parsed, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, got, parsed.String())
		})
	}
}

func TestNormalizeURLRejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"mailto:info@ex.test", "javascript:void(0)", "/relative", "http://%zz"} {
		_, _, err := NormalizeURL(raw)
		require.Error(t, err, raw)
	}
}

func TestDomainAllowed(t *testing.T) {
	t.Parallel()

	allowed := []string{"ex.test", ".cybo.com", "*.brela.go.tz"}
	cases := map[string]bool{
		"ex.test":            true,
		"www.ex.test":        true,
		"EX.TEST":            true,
		"other.test":         false,
		"badex.test":         false,
		"cybo.com":           true,
		"www.cybo.com":       true,
		"portal.brela.go.tz": true,
		"":                   false,
	}
	for host, want := range cases {
		require.Equal(t, want, DomainAllowed(host, allowed), host)
	}
	require.False(t, DomainAllowed("ex.test", nil), "empty allow-list rejects every host")
}
