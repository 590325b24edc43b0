package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Uni.Example.DE:443/dokumente#tab-1", "https://uni.example.de/dokumente"},
		{"http://uni.example.de:80/dokumente?b=2&a=1", "http://uni.example.de/dokumente?a=1&b=2"},
		{"https://uni.example.de", "https://uni.example.de/"},
		{"  https://uni.example.de/x  ", "https://uni.example.de/x"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()
	_, err := NormalizeURL("/dokumente")
	require.Error(t, err)
}

func TestSamePage(t *testing.T) {
	t.Parallel()
	mustParse := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return u
	}
	assert.True(t, SamePage(mustParse("https://uni.example.de/dokumente/"), mustParse("http://UNI.example.de/dokumente?page=2")))
	assert.False(t, SamePage(mustParse("https://uni.example.de/dokumente"), mustParse("https://uni.example.de/news")))
	assert.False(t, SamePage(mustParse("https://uni.example.de/dokumente"), mustParse("https://other.example.de/dokumente")))
	assert.False(t, SamePage(nil, mustParse("https://uni.example.de/")))
}
