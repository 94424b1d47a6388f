package cache

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/scrapigen/scrapigen/models"
)

// NormalizeKey canonicalizes a URL into the fetch key used for caching
// and per-key mutual exclusion: scheme and host are lowercased, default
// ports stripped, the trailing slash normalized, fragments dropped.
// Query ordering is preserved because it is semantically significant on
// many listing sites. Two requests for the same logical page must
// normalize to the same key.
func NormalizeKey(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", models.NewFetchError(models.ErrCodeInvalidURL, "unparseable URL", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", models.NewFetchError(models.ErrCodeInvalidURL,
			fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}
	if u.Host == "" {
		return "", models.NewFetchError(models.ErrCodeInvalidURL, "missing host", nil)
	}

	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	key := scheme + "://" + host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key, nil
}

// Hostname extracts the lowercase hostname (no port) from a normalized
// key or raw URL.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
