package tracker

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/firewatch/internal/common"
	"github.com/ternarybob/firewatch/internal/interfaces"
	"github.com/ternarybob/firewatch/internal/models"
)

// HydrationState tracks the lifecycle of one lazily fetched payload
type HydrationState string

const (
	HydrationAbsent  HydrationState = "absent"
	HydrationLoading HydrationState = "loading"
	HydrationLoaded  HydrationState = "loaded"
	HydrationFailed  HydrationState = "failed"
)

// HydrationEntry is the cached state of one (job, result, field) payload.
// Value is populated only in the loaded state; Err only in the failed state.
type HydrationEntry struct {
	State HydrationState
	Value interface{}
	Err   error
}

type hydrationKey struct {
	jobID    string
	resultID string
	field    models.HydrationField
}

// HydrationNotify is invoked after an entry leaves the loading state so
// subscribers can re-render from the cache.
type HydrationNotify func(jobID, resultID string, field models.HydrationField)

// HydrationCache fetches expensive per-result fields (full HTML, screenshot
// bytes) lazily on first view and caches them for the view's lifetime.
//
// The loading state is the sole mutual-exclusion mechanism guarding duplicate
// fetches: at most one request is in flight per key, and a Request issued
// while that request is pending is a no-op. Failed entries are retryable by
// calling Request again. There is no eviction - entry count is bounded by
// results-per-job.
type HydrationCache struct {
	poller interfaces.StatusPoller
	logger arbor.ILogger
	notify HydrationNotify

	mu      sync.Mutex
	entries map[hydrationKey]*HydrationEntry
}

// NewHydrationCache creates an empty cache. notify may be nil.
func NewHydrationCache(poller interfaces.StatusPoller, logger arbor.ILogger, notify HydrationNotify) *HydrationCache {
	return &HydrationCache{
		poller:  poller,
		logger:  logger,
		notify:  notify,
		entries: make(map[hydrationKey]*HydrationEntry),
	}
}

// Get returns the current entry for a key. Keys never requested report the
// absent state.
func (h *HydrationCache) Get(jobID, resultID string, field models.HydrationField) HydrationEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if entry, ok := h.entries[hydrationKey{jobID, resultID, field}]; ok {
		return *entry
	}
	return HydrationEntry{State: HydrationAbsent}
}

// Request transitions an absent or failed entry to loading and issues
// exactly one fetch. Requests against loading or loaded entries are no-ops:
// the in-flight request will populate the cache, and subscribers re-render
// from it.
func (h *HydrationCache) Request(ctx context.Context, jobID, resultID string, field models.HydrationField) {
	key := hydrationKey{jobID, resultID, field}

	h.mu.Lock()
	entry, ok := h.entries[key]
	if !ok {
		entry = &HydrationEntry{State: HydrationAbsent}
		h.entries[key] = entry
	}
	if entry.State == HydrationLoading || entry.State == HydrationLoaded {
		h.mu.Unlock()
		return
	}
	entry.State = HydrationLoading
	entry.Err = nil
	h.mu.Unlock()

	common.SafeGo(h.logger, "hydrationFetch", func() {
		h.fetch(ctx, key)
	})
}

// fetch performs the detail request and settles the entry
func (h *HydrationCache) fetch(ctx context.Context, key hydrationKey) {
	detail, err := h.poller.FetchDetail(ctx, key.jobID, key.resultID)

	h.mu.Lock()
	entry := h.entries[key]
	if err != nil {
		entry.State = HydrationFailed
		entry.Err = err
		h.mu.Unlock()

		h.logger.Warn().
			Err(err).
			Str("job_id", key.jobID).
			Str("result_id", key.resultID).
			Str("field", string(key.field)).
			Msg("Hydration fetch failed")

		h.fireNotify(key)
		return
	}

	entry.State = HydrationLoaded
	entry.Value = detail.HydrationValue(key.field)
	entry.Err = nil

	// The detail endpoint returns every heavy field for the result, so fill
	// sibling entries that were never requested - their fetch would be
	// redundant transfer.
	for _, sibling := range []models.HydrationField{models.HydrationFieldHTML, models.HydrationFieldScreenshot} {
		if sibling == key.field {
			continue
		}
		sibKey := hydrationKey{key.jobID, key.resultID, sibling}
		if existing, ok := h.entries[sibKey]; !ok || existing.State == HydrationAbsent {
			h.entries[sibKey] = &HydrationEntry{
				State: HydrationLoaded,
				Value: detail.HydrationValue(sibling),
			}
		}
	}
	h.mu.Unlock()

	h.logger.Debug().
		Str("job_id", key.jobID).
		Str("result_id", key.resultID).
		Str("field", string(key.field)).
		Msg("Hydration fetch completed")

	h.fireNotify(key)
}

func (h *HydrationCache) fireNotify(key hydrationKey) {
	if h.notify != nil {
		h.notify(key.jobID, key.resultID, key.field)
	}
}
