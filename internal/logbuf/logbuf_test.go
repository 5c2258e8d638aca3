package logbuf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBelowCapacity(t *testing.T) {
	r := NewRing(16)
	r.Write([]byte("hello\n"))
	assert.Equal(t, "hello\n", r.String())
}

func TestRingWraparoundDropsTruncatedFirstLine(t *testing.T) {
	r := NewRing(8)
	r.Write([]byte("aaaa\nbb")) // 7 bytes, under capacity
	r.Write([]byte("bb\ncccc\n"))

	s := r.String()
	assert.True(t, strings.HasPrefix(s, "...\n"))
	assert.Equal(t, "cccc\n", s[len("...\n"):])
}

func TestRingDefaultSizeForNonPositive(t *testing.T) {
	r := NewRing(0)
	assert.Equal(t, 64<<10, len(r.buf))
}
