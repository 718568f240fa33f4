package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottler_BurstThenRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	th := NewThrottler(time.Second, 2)
	require.NotNil(t, th)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow(42))
	assert.True(t, th.Allow(42))
	assert.False(t, th.Allow(42))
	assert.True(t, th.Allow(43), "users have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, th.Allow(42))
	assert.False(t, th.Allow(42))
}

func TestThrottler_Disabled(t *testing.T) {
	th := NewThrottler(0, 5)
	assert.Nil(t, th)
	for i := 0; i < 100; i++ {
		assert.True(t, th.Allow(42))
	}
}
