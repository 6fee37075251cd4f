package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApproxCount(t *testing.T) {
	c := Approx()
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 2, c.Count("abcdefgh"))
}

func TestApproxTruncate(t *testing.T) {
	c := Approx()
	text := strings.Repeat("word ", 100)
	got := c.Truncate(text, 10)
	assert.Len(t, got, 40)
	assert.LessOrEqual(t, c.Count(got), 10)

	assert.Equal(t, "short", c.Truncate("short", 10))
	assert.Equal(t, text, c.Truncate(text, 0))
}

func TestApproxTruncateKeepsRunes(t *testing.T) {
	got := Approx().Truncate(strings.Repeat("é", 40), 3)
	assert.True(t, len(got) <= 12)
	assert.Equal(t, strings.Repeat("é", len([]rune(got))), got)
}

func TestNilCounter(t *testing.T) {
	var c *Counter
	assert.Equal(t, 2, c.Count("12345678"))
}

func TestNewApproxEncodingSkipsLoading(t *testing.T) {
	c := New(ApproxEncoding, nil)
	assert.Equal(t, 2, c.Count("12345678"))
}
