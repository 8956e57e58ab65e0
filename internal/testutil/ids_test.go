package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialIDs_StartsAtOne(t *testing.T) {
	ids := NewSequentialIDs("e")
	assert.Equal(t, int64(0), ids.Count())
	assert.Equal(t, "e-1", ids.Generate())
	assert.Equal(t, "e-2", ids.Generate())
	assert.Equal(t, int64(2), ids.Count())
}

func TestSequentialIDs_Reset(t *testing.T) {
	ids := NewSequentialIDs("rec")
	ids.Generate()
	ids.Generate()

	ids.Reset()
	assert.Equal(t, int64(0), ids.Count())
	assert.Equal(t, "rec-1", ids.Generate())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	ids := NewSequentialIDs("x")
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			for range callsPerGoroutine {
				id := ids.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
	assert.Equal(t, int64(numGoroutines*callsPerGoroutine), ids.Count())
}

func TestFixedIDs_InOrder(t *testing.T) {
	ids := NewFixedIDs("car-1", "person-1")
	assert.Equal(t, 2, ids.Remaining())
	assert.Equal(t, "car-1", ids.Generate())
	assert.Equal(t, "person-1", ids.Generate())
	assert.Equal(t, 0, ids.Remaining())
}

func TestFixedIDs_PanicsWhenExhausted(t *testing.T) {
	ids := NewFixedIDs("only")
	require.Equal(t, "only", ids.Generate())
	assert.PanicsWithValue(t, "FixedIDs: all identifiers exhausted", func() {
		ids.Generate()
	})
}
