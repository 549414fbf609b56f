package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/firewatch/internal/common"
	"github.com/ternarybob/firewatch/internal/interfaces"
	"github.com/ternarybob/firewatch/internal/models"
)

// SessionState is the lifecycle state of one tracking session
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateConnecting SessionState = "connecting"
	StateStreaming  SessionState = "streaming"
	StatePolling    SessionState = "polling"
	StateClosed     SessionState = "closed"
)

// UpdateFunc receives a snapshot each time new information is available
type UpdateFunc func(models.JobSnapshot)

// Manager orchestrates LiveChannel and StatusPoller for one job: it prefers
// the push channel, degrades to fixed-interval polling on any channel
// failure (never the reverse within a session), and stops all activity once
// the job reaches a terminal status or Stop is called.
//
// Every fetch is tagged with the session it was issued for; a response whose
// tag no longer matches the current session is discarded without touching
// observable state. This guards the race where Stop (or a terminal status)
// lands while a fetch is still in flight.
type Manager struct {
	poller       interfaces.StatusPoller
	newChannel   func() interfaces.LiveChannel
	pollInterval time.Duration
	pageSize     int
	logger       arbor.ILogger

	mu       sync.Mutex
	state    SessionState
	jobID    string
	session  string
	job      models.Job
	agg      *Aggregator
	channel  interfaces.LiveChannel
	ticker   *time.Ticker
	stopPoll chan struct{}
	applySeq uint64

	onUpdate UpdateFunc

	// deliverMu serializes snapshot delivery; deliveredSeq drops snapshots
	// that were applied before one already delivered
	deliverMu    sync.Mutex
	deliveredSeq uint64
}

// NewManager creates a subscription manager. newChannel is invoked once per
// Start to produce a fresh push subscription; the manager owns its lifecycle.
func NewManager(poller interfaces.StatusPoller, newChannel func() interfaces.LiveChannel, config *common.TrackerConfig, logger arbor.ILogger) *Manager {
	return &Manager{
		poller:       poller,
		newChannel:   newChannel,
		pollInterval: config.GetPollInterval(),
		pageSize:     config.PageSize,
		logger:       logger,
		state:        StateIdle,
	}
}

// Start begins tracking jobID and delivers snapshots through onUpdate.
// A manager tracks one session; Start on a non-idle manager is an error.
func (m *Manager) Start(ctx context.Context, jobID string, onUpdate UpdateFunc) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("manager already started (state %s)", m.state)
	}
	m.state = StateConnecting
	m.jobID = jobID
	m.session = uuid.New().String()
	m.job = models.Job{ID: jobID}
	m.agg = NewAggregator(jobID, m.pageSize, m.poller, m.logger)
	m.onUpdate = onUpdate
	session := m.session
	m.mu.Unlock()

	m.logger.Info().
		Str("job_id", jobID).
		Str("session", session).
		Msg("Tracking started")

	common.SafeGo(m.logger, "openLiveChannel", func() {
		m.connect(ctx, session)
	})

	return nil
}

// Stop releases all resources: the push channel, the polling timer, and the
// session tag, so any fetch already in flight is a safe no-op on completion.
// Repeated calls are no-ops. Must be invoked on view teardown.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed || m.state == StateIdle {
		return
	}
	m.closeLocked("stopped")
}

// State returns the current session state
func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Job returns the latest tracked job state
func (m *Manager) Job() models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job
}

// Aggregator exposes the result set for load-more driven by the view.
// Nil before Start.
func (m *Manager) Aggregator() *Aggregator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agg
}

// Cancel asks the backend to stop the tracked job. Tracking continues until
// the cancellation is reflected in a status fetch as a terminal status.
func (m *Manager) Cancel(ctx context.Context) error {
	m.mu.Lock()
	jobID := m.jobID
	m.mu.Unlock()

	if jobID == "" {
		return fmt.Errorf("no job is being tracked")
	}
	return m.poller.CancelJob(ctx, jobID)
}

// connect attempts the push channel, falling back to polling when the open
// fails. Either way an immediate authoritative fetch is issued.
func (m *Manager) connect(ctx context.Context, session string) {
	ch := m.newChannel()
	signals, err := ch.Open(ctx, m.jobID)

	m.mu.Lock()
	if m.session != session || m.state != StateConnecting {
		m.mu.Unlock()
		ch.Close()
		return
	}

	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("job_id", m.jobID).
			Msg("Live channel unavailable - falling back to polling")
		m.enterPollingLocked(ctx, session)
		m.mu.Unlock()
		return
	}

	m.channel = ch
	m.state = StateStreaming
	m.mu.Unlock()

	m.logger.Debug().Str("job_id", m.jobID).Msg("Streaming job updates")

	m.refreshAsync(ctx, session)

	common.SafeGo(m.logger, "channelConsumer", func() {
		m.consume(ctx, session, signals)
	})
}

// consume turns channel signals into authoritative re-fetches. When the
// signal stream ends while this session is still streaming, the channel
// failed mid-flight and the manager degrades to polling.
func (m *Manager) consume(ctx context.Context, session string, signals <-chan interfaces.Signal) {
	for range signals {
		m.mu.Lock()
		alive := m.session == session && m.state == StateStreaming
		m.mu.Unlock()
		if !alive {
			return
		}
		// The signal is advisory regardless of any status hint: re-fetch
		// authoritative state rather than trusting push payloads.
		m.refreshAsync(ctx, session)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == session && m.state == StateStreaming {
		m.logger.Warn().Str("job_id", m.jobID).Msg("Live channel lost - falling back to polling")
		m.enterPollingLocked(ctx, session)
	}
}

// enterPollingLocked arms the fixed-interval polling timer exactly once for
// this session. Degrading is one-way: the channel is never re-dialed.
// Caller holds m.mu.
func (m *Manager) enterPollingLocked(ctx context.Context, session string) {
	if m.state == StatePolling || m.state == StateClosed {
		return
	}
	m.state = StatePolling

	if m.channel != nil {
		m.channel.Close()
		m.channel = nil
	}

	stop := make(chan struct{})
	ticker := time.NewTicker(m.pollInterval)
	m.stopPoll = stop
	m.ticker = ticker

	common.SafeGo(m.logger, "pollLoop", func() {
		// First poll fires immediately, not one interval later
		m.refresh(ctx, session)
		for {
			select {
			case <-ticker.C:
				// Independent fetch per tick: a slow response never blocks
				// the next scheduled trigger
				m.refreshAsync(ctx, session)
			case <-stop:
				return
			}
		}
	})
}

// refreshAsync issues a session-tagged fetch in its own goroutine
func (m *Manager) refreshAsync(ctx context.Context, session string) {
	common.SafeGo(m.logger, "fetchStatus", func() {
		m.refresh(ctx, session)
	})
}

// refresh fetches page 1 of status/results and applies it. Results tagged
// with a stale session are discarded. Page 1 is always refetched while the
// job runs because the backend may finalize early results; the aggregator's
// replace-in-place merge keeps the view consistent.
func (m *Manager) refresh(ctx context.Context, session string) {
	page, err := m.poller.FetchPage(ctx, m.jobID, 1, m.pageSize)

	m.mu.Lock()
	if m.session != session || m.state == StateClosed {
		// Stale-session discard: the session ended while this fetch was in
		// flight; applying it would mutate observable state after Stop
		m.mu.Unlock()
		return
	}

	m.applySeq++
	seq := m.applySeq

	if err != nil {
		// Fetch failures surface to the caller but never end tracking;
		// only a terminal status or Stop does that
		snap := m.snapshotLocked()
		snap.Err = err
		m.mu.Unlock()

		m.logger.Warn().Err(err).Str("job_id", m.jobID).Msg("Status fetch failed")
		m.deliver(seq, snap)
		return
	}

	m.job.Apply(&page.Job)
	m.agg.SetTotalExpected(page.TotalExpected)
	m.agg.AppendPage(1, page.Items)

	snap := m.snapshotLocked()

	if m.job.Status.IsTerminal() {
		m.closeLocked(string(m.job.Status))
	}
	m.mu.Unlock()

	m.deliver(seq, snap)
}

// snapshotLocked builds the subscriber snapshot. Caller holds m.mu.
func (m *Manager) snapshotLocked() models.JobSnapshot {
	return models.JobSnapshot{
		Job:     m.job,
		Results: m.agg.Items(),
		HasMore: m.agg.HasMore(),
	}
}

// deliver hands a snapshot to the subscriber, serialized and monotonic:
// a snapshot applied earlier than one already delivered is dropped.
func (m *Manager) deliver(seq uint64, snap models.JobSnapshot) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	if seq <= m.deliveredSeq {
		return
	}
	m.deliveredSeq = seq

	if m.onUpdate != nil {
		m.onUpdate(snap)
	}
}

// closeLocked ends the session: closes the channel, stops the timer, and
// invalidates the session tag. Caller holds m.mu.
func (m *Manager) closeLocked(reason string) {
	m.state = StateClosed
	m.session = ""

	if m.channel != nil {
		m.channel.Close()
		m.channel = nil
	}
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
	if m.stopPoll != nil {
		close(m.stopPoll)
		m.stopPoll = nil
	}

	m.logger.Info().
		Str("job_id", m.jobID).
		Str("reason", reason).
		Msg("Tracking stopped")
}
