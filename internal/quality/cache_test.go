package quality

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewResultCache(2, time.Minute)

	c.Set("a", &Result{ContentHash: "a"})
	c.Set("b", &Result{ContentHash: "b"})

	// A read promotes "a" so "b" becomes the eviction candidate.
	require.NotNil(t, c.Get("a"))
	c.Set("c", &Result{ContentHash: "c"})

	assert.NotNil(t, c.Get("a"))
	assert.Nil(t, c.Get("b"))
	assert.NotNil(t, c.Get("c"))
	assert.Equal(t, 2, c.Len())
}

func TestResultCache_TTLExpiry(t *testing.T) {
	c := NewResultCache(10, 20*time.Millisecond)

	c.Set("a", &Result{ContentHash: "a"})
	require.NotNil(t, c.Get("a"))

	time.Sleep(40 * time.Millisecond)
	assert.Nil(t, c.Get("a"))
}

func TestResultCache_GetReturnsCopy(t *testing.T) {
	c := NewResultCache(10, time.Minute)
	c.Set("a", &Result{Score: Score{Overall: 90}})

	first := c.Get("a")
	first.Score.Overall = 1

	second := c.Get("a")
	assert.Equal(t, 90.0, second.Score.Overall)
}

func TestResultCache_Clear(t *testing.T) {
	c := NewResultCache(10, time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), &Result{})
	}
	require.Equal(t, 5, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.Get("k0"))
}
