package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/firewatch/internal/common"
	"github.com/ternarybob/firewatch/internal/models"
)

func detailCalls(p *scriptedPoller) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detailCalls
}

func TestHydrationCache_AbsentUntilRequested(t *testing.T) {
	cache := NewHydrationCache(&scriptedPoller{}, common.GetLogger(), nil)

	entry := cache.Get("job-1", "r1", models.HydrationFieldScreenshot)
	assert.Equal(t, HydrationAbsent, entry.State)
	assert.Nil(t, entry.Value)
}

func TestHydrationCache_RequestDedupWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	poller := &scriptedPoller{
		gate:   gate,
		detail: &models.ResultDetail{ID: "r1", Screenshot: []byte("png-bytes")},
	}

	var notified sync.WaitGroup
	notified.Add(1)
	var once sync.Once
	cache := NewHydrationCache(poller, common.GetLogger(), func(jobID, resultID string, field models.HydrationField) {
		once.Do(notified.Done)
	})

	// Two back-to-back requests while the first is still in flight
	cache.Request(context.Background(), "job-1", "r1", models.HydrationFieldScreenshot)

	require.Eventually(t, func() bool {
		return cache.Get("job-1", "r1", models.HydrationFieldScreenshot).State == HydrationLoading
	}, time.Second, time.Millisecond)

	cache.Request(context.Background(), "job-1", "r1", models.HydrationFieldScreenshot)

	close(gate)
	notified.Wait()

	assert.Equal(t, 1, detailCalls(poller), "exactly one underlying fetch")

	entry := cache.Get("job-1", "r1", models.HydrationFieldScreenshot)
	require.Equal(t, HydrationLoaded, entry.State)
	assert.Equal(t, []byte("png-bytes"), entry.Value)
}

func TestHydrationCache_LoadedIsNoOp(t *testing.T) {
	poller := &scriptedPoller{detail: &models.ResultDetail{ID: "r1", HTML: "<html/>"}}
	cache := NewHydrationCache(poller, common.GetLogger(), nil)

	cache.Request(context.Background(), "job-1", "r1", models.HydrationFieldHTML)
	require.Eventually(t, func() bool {
		return cache.Get("job-1", "r1", models.HydrationFieldHTML).State == HydrationLoaded
	}, time.Second, time.Millisecond)

	cache.Request(context.Background(), "job-1", "r1", models.HydrationFieldHTML)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, detailCalls(poller), "a loaded entry is cached exactly once")
}

func TestHydrationCache_FailureIsIsolatedAndRetryable(t *testing.T) {
	poller := &scriptedPoller{detailErr: assert.AnError}
	cache := NewHydrationCache(poller, common.GetLogger(), nil)

	cache.Request(context.Background(), "job-1", "r1", models.HydrationFieldHTML)

	require.Eventually(t, func() bool {
		return cache.Get("job-1", "r1", models.HydrationFieldHTML).State == HydrationFailed
	}, time.Second, time.Millisecond)

	entry := cache.Get("job-1", "r1", models.HydrationFieldHTML)
	assert.Error(t, entry.Err)

	// Other keys are untouched
	other := cache.Get("job-1", "r2", models.HydrationFieldHTML)
	assert.Equal(t, HydrationAbsent, other.State)

	// A retry against the failed entry issues a fresh fetch
	poller.mu.Lock()
	poller.detailErr = nil
	poller.detail = &models.ResultDetail{ID: "r1", HTML: "<html/>"}
	poller.mu.Unlock()

	cache.Request(context.Background(), "job-1", "r1", models.HydrationFieldHTML)

	require.Eventually(t, func() bool {
		entry := cache.Get("job-1", "r1", models.HydrationFieldHTML)
		return entry.State == HydrationLoaded
	}, time.Second, time.Millisecond)

	assert.Equal(t, 2, detailCalls(poller))
}

func TestHydrationCache_SiblingFieldFilledFromSameFetch(t *testing.T) {
	poller := &scriptedPoller{detail: &models.ResultDetail{
		ID:         "r1",
		HTML:       "<html/>",
		Screenshot: []byte("png"),
	}}
	cache := NewHydrationCache(poller, common.GetLogger(), nil)

	cache.Request(context.Background(), "job-1", "r1", models.HydrationFieldHTML)

	require.Eventually(t, func() bool {
		return cache.Get("job-1", "r1", models.HydrationFieldHTML).State == HydrationLoaded
	}, time.Second, time.Millisecond)

	// The detail response carried the screenshot too; viewing that tab later
	// must not trigger another transfer
	screenshot := cache.Get("job-1", "r1", models.HydrationFieldScreenshot)
	assert.Equal(t, HydrationLoaded, screenshot.State)

	cache.Request(context.Background(), "job-1", "r1", models.HydrationFieldScreenshot)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, detailCalls(poller))
}
