package idempotency_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gosuda/cadence/internal/idempotency"
)

func TestSet_Seen(t *testing.T) {
	t.Parallel()

	s := idempotency.New(4)

	assert.False(t, s.Seen("a"))
	assert.True(t, s.Seen("a"))
	assert.False(t, s.Seen("b"))
	assert.Equal(t, 2, s.Len())
}

func TestSet_EvictsOldestFirst(t *testing.T) {
	t.Parallel()

	s := idempotency.New(3)
	for _, k := range []string{"a", "b", "c", "d"} {
		assert.False(t, s.Seen(k))
	}

	assert.Equal(t, 3, s.Len())
	// a was evicted; b, c and d are still known.
	assert.True(t, s.Seen("d"))
	assert.True(t, s.Seen("c"))
	assert.True(t, s.Seen("b"))
	assert.False(t, s.Seen("a"))
}

func TestSet_Forget(t *testing.T) {
	t.Parallel()

	s := idempotency.New(2)
	s.Seen("retry-me")
	s.Forget("retry-me")
	s.Forget("never-seen")

	assert.False(t, s.Seen("retry-me"))
}

func TestSet_DefaultCapacity(t *testing.T) {
	t.Parallel()

	s := idempotency.New(0)
	for i := range idempotency.DefaultCapacity + 10 {
		s.Seen(fmt.Sprintf("k%d", i))
	}

	assert.Equal(t, idempotency.DefaultCapacity, s.Len())
}

func TestSet_Concurrent(t *testing.T) {
	t.Parallel()

	s := idempotency.New(100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.Seen("shared") {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, firsts)
}
