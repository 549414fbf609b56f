package interfaces

import (
	"context"

	"github.com/ternarybob/firewatch/internal/models"
)

// StatusPoller performs single request/response fetches against the job
// backend. Implementations are stateless between calls; the caller decides
// whether to keep polling. Errors are returned, never swallowed.
type StatusPoller interface {
	// FetchPage retrieves job status plus one page of summary results.
	// Page numbering is 1-based.
	FetchPage(ctx context.Context, jobID string, page, pageSize int) (*models.ResultPage, error)

	// FetchDetail retrieves the heavy fields (full HTML, screenshot) for a
	// single result.
	FetchDetail(ctx context.Context, jobID, resultID string) (*models.ResultDetail, error)

	// CancelJob asks the backend to stop the job. Fire-and-forget: the
	// effect is observed indirectly via the next status fetch.
	CancelJob(ctx context.Context, jobID string) error
}
