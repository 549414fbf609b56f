package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/firewatch/internal/common"
	"github.com/ternarybob/firewatch/internal/interfaces"
	"github.com/ternarybob/firewatch/internal/models"
)

// fakeChannel is a scriptable LiveChannel. Tests drive failure by closing
// the signal channel directly; Close only records the call so a late signal
// send never panics.
type fakeChannel struct {
	mu        sync.Mutex
	openErr   error
	signals   chan interfaces.Signal
	openCount int
	closed    bool
}

func (f *fakeChannel) Open(ctx context.Context, jobID string) (<-chan interfaces.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.openCount++
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.signals = make(chan interfaces.Signal, 8)
	return f.signals, nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCount
}

// snapshotRecorder collects delivered snapshots
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []models.JobSnapshot
}

func (r *snapshotRecorder) record(snap models.JobSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *snapshotRecorder) last() (models.JobSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return models.JobSnapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

func testTrackerConfig() *common.TrackerConfig {
	return &common.TrackerConfig{PollInterval: "20ms", PageSize: 20}
}

func runningPage(ids ...string) *models.ResultPage {
	return &models.ResultPage{
		Job:           models.Job{ID: "job-1", Status: models.JobStatusRunning},
		TotalExpected: len(ids),
		Page:          1,
		Items:         items(ids...),
	}
}

func completedPage(ids ...string) *models.ResultPage {
	return &models.ResultPage{
		Job:           models.Job{ID: "job-1", Status: models.JobStatusCompleted},
		TotalExpected: len(ids),
		Page:          1,
		Items:         items(ids...),
	}
}

func TestManager_FallbackToPollingOnOpenFailure(t *testing.T) {
	poller := &scriptedPoller{sequence: []*models.ResultPage{runningPage("a")}}
	ch := &fakeChannel{openErr: assert.AnError}
	rec := &snapshotRecorder{}

	m := NewManager(poller, func() interfaces.LiveChannel { return ch }, testTrackerConfig(), common.GetLogger())
	require.NoError(t, m.Start(context.Background(), "job-1", rec.record))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.State() == StatePolling
	}, time.Second, 5*time.Millisecond, "manager should enter polling after channel open failure")

	// First poll fires immediately, then at every interval
	require.Eventually(t, func() bool {
		return poller.calls() >= 3
	}, time.Second, 5*time.Millisecond, "polling should keep issuing fetches")

	// Degrading is one-way: the channel is never re-dialed within a session
	assert.Equal(t, 1, ch.opens())
	assert.GreaterOrEqual(t, rec.count(), 1)
}

func TestManager_TerminatesOnCompletedStatus(t *testing.T) {
	poller := &scriptedPoller{sequence: []*models.ResultPage{
		runningPage("a"),
		runningPage("a", "b"),
		completedPage("a", "b"),
	}}
	ch := &fakeChannel{openErr: assert.AnError}
	rec := &snapshotRecorder{}

	m := NewManager(poller, func() interfaces.LiveChannel { return ch }, testTrackerConfig(), common.GetLogger())
	require.NoError(t, m.Start(context.Background(), "job-1", rec.record))

	require.Eventually(t, func() bool {
		return m.State() == StateClosed
	}, 2*time.Second, 5*time.Millisecond, "manager should close on terminal status")

	callsAtClose := poller.calls()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, callsAtClose, poller.calls(), "no fetch may be issued after terminal status")

	snap, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, snap.Job.Status)
	assert.Len(t, snap.Results, 2)

	// Repeated Stop calls are no-ops
	m.Stop()
	m.Stop()
}

func TestManager_ChannelSignalTriggersFetch(t *testing.T) {
	poller := &scriptedPoller{sequence: []*models.ResultPage{runningPage("a")}}
	ch := &fakeChannel{}
	rec := &snapshotRecorder{}

	m := NewManager(poller, func() interfaces.LiveChannel { return ch }, testTrackerConfig(), common.GetLogger())
	require.NoError(t, m.Start(context.Background(), "job-1", rec.record))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.State() == StateStreaming && poller.calls() >= 1
	}, time.Second, 5*time.Millisecond, "initial fetch should follow channel open")

	before := poller.calls()
	ch.signals <- interfaces.Signal{JobID: "job-1"}

	require.Eventually(t, func() bool {
		return poller.calls() > before
	}, time.Second, 5*time.Millisecond, "a channel message should trigger a re-fetch")
}

func TestManager_ChannelLossFallsBackToPolling(t *testing.T) {
	poller := &scriptedPoller{sequence: []*models.ResultPage{runningPage("a")}}
	ch := &fakeChannel{}
	rec := &snapshotRecorder{}

	m := NewManager(poller, func() interfaces.LiveChannel { return ch }, testTrackerConfig(), common.GetLogger())
	require.NoError(t, m.Start(context.Background(), "job-1", rec.record))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.State() == StateStreaming
	}, time.Second, 5*time.Millisecond)

	// Simulate a mid-stream connection failure
	close(ch.signals)

	require.Eventually(t, func() bool {
		return m.State() == StatePolling
	}, time.Second, 5*time.Millisecond, "channel loss after streaming should degrade to polling")

	before := poller.calls()
	require.Eventually(t, func() bool {
		return poller.calls() > before
	}, time.Second, 5*time.Millisecond, "polling should continue issuing fetches")
}

func TestManager_StaleSessionDiscard(t *testing.T) {
	gate := make(chan struct{})
	poller := &scriptedPoller{
		gate:     gate,
		sequence: []*models.ResultPage{runningPage("a")},
	}
	ch := &fakeChannel{openErr: assert.AnError}
	rec := &snapshotRecorder{}

	m := NewManager(poller, func() interfaces.LiveChannel { return ch }, testTrackerConfig(), common.GetLogger())
	require.NoError(t, m.Start(context.Background(), "job-1", rec.record))

	// Wait until the first fetch is in flight, then stop the session
	require.Eventually(t, func() bool {
		return poller.calls() >= 1
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	close(gate)

	// The in-flight fetch resolves against a dead session: nothing may be
	// delivered and no state may change
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, rec.count(), "a fetch resolving after Stop must not reach the subscriber")
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_FetchErrorSurfacesButTrackingContinues(t *testing.T) {
	poller := &scriptedPoller{fetchErr: assert.AnError}
	ch := &fakeChannel{openErr: assert.AnError}
	rec := &snapshotRecorder{}

	m := NewManager(poller, func() interfaces.LiveChannel { return ch }, testTrackerConfig(), common.GetLogger())
	require.NoError(t, m.Start(context.Background(), "job-1", rec.record))
	defer m.Stop()

	require.Eventually(t, func() bool {
		snap, ok := rec.last()
		return ok && snap.Err != nil
	}, time.Second, 5*time.Millisecond, "fetch errors should surface in snapshots")

	// Tracking keeps polling despite the failures
	before := poller.calls()
	require.Eventually(t, func() bool {
		return poller.calls() > before
	}, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, StateClosed, m.State())
}

func TestManager_StartTwiceFails(t *testing.T) {
	poller := &scriptedPoller{sequence: []*models.ResultPage{runningPage("a")}}
	ch := &fakeChannel{}

	m := NewManager(poller, func() interfaces.LiveChannel { return ch }, testTrackerConfig(), common.GetLogger())
	require.NoError(t, m.Start(context.Background(), "job-1", nil))
	defer m.Stop()

	err := m.Start(context.Background(), "job-1", nil)
	assert.Error(t, err)
}

func TestManager_SignalAfterTerminalProducesNoFetch(t *testing.T) {
	poller := &scriptedPoller{sequence: []*models.ResultPage{completedPage("a")}}
	ch := &fakeChannel{}
	rec := &snapshotRecorder{}

	m := NewManager(poller, func() interfaces.LiveChannel { return ch }, testTrackerConfig(), common.GetLogger())
	require.NoError(t, m.Start(context.Background(), "job-1", rec.record))

	require.Eventually(t, func() bool {
		return m.State() == StateClosed
	}, time.Second, 5*time.Millisecond)

	before := poller.calls()
	ch.signals <- interfaces.Signal{JobID: "job-1"}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, poller.calls(), "a signal arriving after terminal status must not fetch")
}
