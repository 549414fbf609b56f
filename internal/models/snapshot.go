package models

// JobSnapshot is what tracking subscribers receive each time new information
// is available: the latest job state, the aggregated results so far, and
// whether more pages can be loaded. Err carries a transport-level fetch
// failure; it does not end the session and clears on the next good fetch.
type JobSnapshot struct {
	Job     Job
	Results []ResultItem
	HasMore bool
	Err     error
}
