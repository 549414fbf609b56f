package tracker

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/firewatch/internal/interfaces"
	"github.com/ternarybob/firewatch/internal/models"
)

// Aggregator accumulates paginated result batches into one ordered,
// de-duplicated collection while the job is still producing data.
//
// Merge rule: an incoming item whose ID already exists replaces the existing
// entry in place - the backend may finalize status/data for early results
// after they were first seen. Position in the sequence is determined by
// original insertion, never by update, so replays of page 1 and "load more"
// appends are uniform under one operation.
type Aggregator struct {
	jobID    string
	pageSize int
	poller   interfaces.StatusPoller
	logger   arbor.ILogger

	mu            sync.Mutex
	items         []models.ResultItem
	index         map[string]int // result ID -> position in items
	totalExpected int
	highestPage   int
	loading       bool // single in-flight flag for LoadNext
}

// NewAggregator creates an aggregator for one job's results
func NewAggregator(jobID string, pageSize int, poller interfaces.StatusPoller, logger arbor.ILogger) *Aggregator {
	return &Aggregator{
		jobID:    jobID,
		pageSize: pageSize,
		poller:   poller,
		logger:   logger,
		index:    make(map[string]int),
	}
}

// Reset clears all accumulated state. Used when a tracking session starts so
// a remounted view begins clean.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.items = nil
	a.index = make(map[string]int)
	a.totalExpected = 0
	a.highestPage = 0
}

// AppendPage merges one fetched batch. Duplicate IDs replace the existing
// entry without moving it; new IDs append in arrival order.
func (a *Aggregator) AppendPage(page int, items []models.ResultItem) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.appendPageLocked(page, items)
}

func (a *Aggregator) appendPageLocked(page int, items []models.ResultItem) {
	for _, item := range items {
		if pos, exists := a.index[item.ID]; exists {
			a.items[pos] = item
			continue
		}
		a.index[item.ID] = len(a.items)
		a.items = append(a.items, item)
	}

	if page > a.highestPage {
		a.highestPage = page
	}
}

// SetTotalExpected records the server-reported count, which may grow while
// the job is running.
func (a *Aggregator) SetTotalExpected(total int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if total > a.totalExpected {
		a.totalExpected = total
	}
}

// HasMore reports whether the backend holds results beyond what is loaded
func (a *Aggregator) HasMore() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.items) < a.totalExpected
}

// Len returns the number of aggregated items
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.items)
}

// Items returns a copy of the aggregated sequence in first-seen order
func (a *Aggregator) Items() []models.ResultItem {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.ResultItem, len(a.items))
	copy(out, a.items)
	return out
}

// LoadNext fetches the page strictly one greater than the highest page
// already loaded and merges it. Returns the fetched page, or nil when the
// call was a no-op (nothing more to load, or a previous LoadNext is still
// in flight - concurrent calls are suppressed by the single in-flight flag).
func (a *Aggregator) LoadNext(ctx context.Context) (*models.ResultPage, error) {
	a.mu.Lock()
	if a.loading || len(a.items) >= a.totalExpected {
		a.mu.Unlock()
		return nil, nil
	}
	a.loading = true
	nextPage := a.highestPage + 1
	a.mu.Unlock()

	page, err := a.poller.FetchPage(ctx, a.jobID, nextPage, a.pageSize)

	a.mu.Lock()
	a.loading = false
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	if page.TotalExpected > a.totalExpected {
		a.totalExpected = page.TotalExpected
	}
	a.appendPageLocked(nextPage, page.Items)
	loaded := len(a.items)
	a.mu.Unlock()

	a.logger.Debug().
		Str("job_id", a.jobID).
		Int("page", nextPage).
		Int("loaded", loaded).
		Msg("Loaded next result page")

	return page, nil
}
