package models

// HydrationField identifies an expensive per-result payload that is fetched
// lazily on first view rather than included in the paginated listing.
type HydrationField string

const (
	HydrationFieldHTML       HydrationField = "html"
	HydrationFieldScreenshot HydrationField = "screenshot"
)

// ResultItem is one result produced by a job. Identity is the backend-assigned
// ID (unique within a job) plus the source URL. Payload fields are either
// fully present or absent; "available but not yet fetched" is tracked by the
// hydration cache, never by the item itself.
type ResultItem struct {
	ID  string `json:"id"`
	URL string `json:"url"`

	Markdown       string                 `json:"markdown,omitempty"`
	HTML           string                 `json:"html,omitempty"`
	Screenshot     []byte                 `json:"screenshot,omitempty"` // base64-transported by encoding/json
	Links          []string               `json:"links,omitempty"`
	LinksDetail    []LinkDetail           `json:"links_detail,omitempty"`
	StructuredData map[string]interface{} `json:"structured_data,omitempty"`
	Headings       []string               `json:"headings,omitempty"`
	Images         []string               `json:"images,omitempty"`
	Extract        map[string]interface{} `json:"extract,omitempty"` // AI-extraction output
}

// LinkDetail describes one outbound link discovered on a result page
type LinkDetail struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
	Rel  string `json:"rel,omitempty"`
}

// ResultPage is one paginated batch of the status/results endpoint.
// Items carry summary fields only; heavy fields come from the detail endpoint.
type ResultPage struct {
	Job           Job          `json:"job"`
	TotalExpected int          `json:"total_expected"` // May grow while the job is running
	Page          int          `json:"page"`
	Items         []ResultItem `json:"items"`
}

// ResultDetail is the heavy payload for a single result, returned by the
// per-result detail endpoint.
type ResultDetail struct {
	ID         string `json:"id"`
	HTML       string `json:"html,omitempty"`
	Screenshot []byte `json:"screenshot,omitempty"`
}

// HydrationValue returns the payload for the given field as an opaque value.
func (d *ResultDetail) HydrationValue(field HydrationField) interface{} {
	switch field {
	case HydrationFieldHTML:
		return d.HTML
	case HydrationFieldScreenshot:
		return d.Screenshot
	default:
		return nil
	}
}
