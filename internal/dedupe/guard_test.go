// ABOUTME: Tests for the one-shot guard: first-time semantics, capacity
// ABOUTME: eviction, Forget and concurrent marking.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuard_FirstTime_OncePerKey(t *testing.T) {
	g := NewGuard(10)

	assert.True(t, g.FirstTime("POL-1"))
	assert.False(t, g.FirstTime("POL-1"))
	assert.False(t, g.FirstTime("POL-1"))
	assert.True(t, g.FirstTime("POL-2"))
}

func TestGuard_Seen_DoesNotMark(t *testing.T) {
	g := NewGuard(10)

	assert.False(t, g.Seen("PAY-1"))
	assert.True(t, g.FirstTime("PAY-1"))
	assert.True(t, g.Seen("PAY-1"))
}

func TestGuard_Forget_AllowsRefire(t *testing.T) {
	g := NewGuard(10)
	assert.True(t, g.FirstTime("PAY-1"))

	g.Forget("PAY-1")
	assert.False(t, g.Seen("PAY-1"))
	assert.True(t, g.FirstTime("PAY-1"))
}

func TestGuard_CapacityEvictsOldest(t *testing.T) {
	g := NewGuard(2)
	assert.True(t, g.FirstTime("a"))
	assert.True(t, g.FirstTime("b"))
	assert.True(t, g.FirstTime("c"))

	assert.False(t, g.Seen("a"))
	assert.True(t, g.Seen("b"))
	assert.True(t, g.Seen("c"))
}

func TestGuard_DefaultCapacity(t *testing.T) {
	g := NewGuard(0)
	assert.Equal(t, DefaultCapacity, g.cap)
}

func TestGuard_ConcurrentFirstTime_ExactlyOneWinner(t *testing.T) {
	g := NewGuard(100)

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("POL-%d", i)
		var winners atomic.Int32
		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if g.FirstTime(key) {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load(), "key %s", key)
	}
}
