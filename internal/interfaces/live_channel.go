package interfaces

import (
	"context"

	"github.com/ternarybob/firewatch/internal/models"
)

// Signal is one push notification from the backend: "status may have
// changed". The status hint is advisory only - consumers always re-fetch
// authoritative state rather than trusting push payloads.
type Signal struct {
	JobID      string
	StatusHint models.JobStatus // Optional; empty when the payload carried no hint
}

// LiveChannel is a push-based subscription for one job ID. Open never blocks
// its caller beyond the dial; delivered signals coalesce, so a reader that
// falls behind sees at least one pending signal rather than a backlog.
// The returned channel is closed when the connection errors or Close is
// called; after that the channel never produces again for this subscription.
type LiveChannel interface {
	// Open establishes the subscription and returns the signal stream.
	// An error here means the push path is unavailable and the caller
	// should fall back to polling.
	Open(ctx context.Context, jobID string) (<-chan Signal, error)

	// Close tears down the subscription. Idempotent.
	Close() error
}
