package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapigen/scrapigen/models"
)

func TestNormalizeKey_Canonicalizes(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips default https port", "https://example.com:443/x", "https://example.com/x"},
		{"strips default http port", "http://example.com:80/x", "http://example.com/x"},
		{"keeps explicit port", "https://example.com:8443/x", "https://example.com:8443/x"},
		{"empty path becomes slash", "https://example.com", "https://example.com/"},
		{"trailing slash trimmed", "https://example.com/listings/", "https://example.com/listings"},
		{"root slash kept", "https://example.com/", "https://example.com/"},
		{"query preserved in order", "https://example.com/s?b=2&a=1", "https://example.com/s?b=2&a=1"},
		{"fragment dropped", "https://example.com/page#section", "https://example.com/page"},
		{"surrounding whitespace", "  https://example.com/x  ", "https://example.com/x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeKey(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeKey_SameLogicalPageSameKey(t *testing.T) {
	a, err := NormalizeKey("https://Example.com:443/items/")
	require.NoError(t, err)
	b, err := NormalizeKey("https://example.com/items")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalizeKey_RejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "ftp://example.com/x", "not a url at all", "https://"} {
		_, err := NormalizeKey(in)
		require.Error(t, err, "input %q", in)

		var fe *models.FetchError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, models.ErrCodeInvalidURL, fe.Code)
	}
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "example.com", Hostname("https://Example.com:8443/path"))
	assert.Equal(t, "", Hostname("://bad"))
}
