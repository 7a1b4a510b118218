package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Equal(t, "ko-KR", opts.Locale)
	assert.Equal(t, "Asia/Seoul", opts.TimezoneID)
}

func TestDefaultNavigatorOptions(t *testing.T) {
	opts := DefaultNavigatorOptions()

	assert.Equal(t, 60*time.Second, opts.NavigationTimeout)
	assert.Equal(t, 15, opts.MaxScrolls)
	assert.Equal(t, 3, opts.MinScrolls)
	assert.Equal(t, 2*time.Second, opts.GrowthTimeout)
}

func TestToInt(t *testing.T) {
	tests := []struct {
		in       interface{}
		expected int
		ok       bool
	}{
		{1200, 1200, true},
		{int64(1200), 1200, true},
		{1200.7, 1200, true},
		{"1200", 0, false},
		{nil, 0, false},
	}

	for _, tt := range tests {
		got, ok := toInt(tt.in)
		assert.Equal(t, tt.expected, got)
		assert.Equal(t, tt.ok, ok)
	}
}
