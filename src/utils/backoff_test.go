package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffBounds(t *testing.T) {
	b := Backoff{Min: 400 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: 0.2}
	for attempt := 1; attempt < 30; attempt++ {
		d := b.Next(attempt)
		assert.GreaterOrEqual(t, d, 320*time.Millisecond)
		assert.LessOrEqual(t, d, 6*time.Second)
	}

	exact := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	assert.Equal(t, 100*time.Millisecond, exact.Next(0))
	assert.Equal(t, 200*time.Millisecond, exact.Next(2))
	assert.Equal(t, 800*time.Millisecond, exact.Next(4))
	assert.Equal(t, time.Second, exact.Next(5))
	assert.Equal(t, time.Second, exact.Next(40))
}
