package watermill

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorAttributesKeepRunesWhole(t *testing.T) {
	// "é" occupies bytes 127 and 128, across the limit.
	msg := strings.Repeat("a", metricErrorMaxLen-1) + "é" + strings.Repeat("b", 10)

	attrs := errorAttributes("replies", "consume", errors.New(msg))
	require.Len(t, attrs, 3)

	got := attrs[2].Value.AsString()
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", metricErrorMaxLen-1), got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", metricErrorMaxLen))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "", truncate("日本", 2))
	assert.Equal(t, "日", truncate("日本", 4))
}
