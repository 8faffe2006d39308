package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRef(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM/Docs/Report/", "https://example.com/Docs/Report"},
		{"https://example.com/", "https://example.com/"},
		{"https://example.com/a?b=1#frag", "https://example.com/a"},
		{"example.com/path/", "http://example.com/path"},
		{"https://example.com/a;params", "https://example.com/a"},
		{"file:///srv/downloads/news/one.pdf", "file:///srv/downloads/news/one.pdf"},
	}
	for _, tc := range cases {
		got, err := NormalizeRef(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := NormalizeRef("   ")
	assert.Error(t, err)
}

func TestLegacyIndex(t *testing.T) {
	n, ok := LegacyIndex("/data/masters/news_12.pdf", "news")
	require.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = LegacyIndex("/data/masters/news_12.pdf.bak", "news")
	assert.False(t, ok)
	_, ok = LegacyIndex("sports_3.pdf", "news")
	assert.False(t, ok)

	assert.Equal(t, 3, HighestLegacyIndex([]string{"news_1.pdf", "news_3.pdf", "news_2.pdf", "other_9.pdf"}, "news"))
	assert.Equal(t, 0, HighestLegacyIndex(nil, "news"))
}
