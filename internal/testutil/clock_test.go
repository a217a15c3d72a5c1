package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestManualClock_StartsAtGivenTime(t *testing.T) {
	clock := NewManualClock(start)
	assert.True(t, clock.Now().Equal(start))
}

func TestManualClock_NormalizesToUTC(t *testing.T) {
	paris := time.FixedZone("CEST", 2*60*60)
	clock := NewManualClock(start.In(paris))
	assert.Equal(t, time.UTC, clock.Now().Location())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(start)

	got := clock.Advance(30 * time.Second)
	assert.True(t, got.Equal(start.Add(30*time.Second)))
	assert.True(t, clock.Now().Equal(got))
}

func TestManualClock_Set(t *testing.T) {
	clock := NewManualClock(start)
	clock.Set(start.Add(-time.Hour))
	assert.True(t, clock.Now().Equal(start.Add(-time.Hour)))
}

func TestManualClock_ThreadSafety(t *testing.T) {
	clock := NewManualClock(start)
	const goroutines = 10
	const advancesPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < advancesPerGoroutine; j++ {
				clock.Advance(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.True(t, clock.Now().Equal(start.Add(goroutines*advancesPerGoroutine*time.Millisecond)))
}
