package view

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ternarybob/firewatch/internal/models"
	"github.com/ternarybob/firewatch/internal/tracker"
)

// Tab identifies one per-result content tab
type Tab string

const (
	TabMarkdown   Tab = "markdown"
	TabHTML       Tab = "html"
	TabScreenshot Tab = "screenshot"
)

// ResultView renders aggregated results and triggers hydration on tab
// selection. It holds no concurrency logic of its own: snapshots arrive from
// the manager, heavy fields come from the hydration cache.
type ResultView struct {
	cache  *tracker.HydrationCache
	out    io.Writer
	logger arbor.ILogger
	md     goldmark.Markdown

	mu       sync.Mutex
	jobID    string
	expanded string // result ID currently expanded ("" = none)
	tab      Tab
}

// NewResultView creates a view writing rendered output to out
func NewResultView(cache *tracker.HydrationCache, out io.Writer, logger arbor.ILogger) *ResultView {
	return &ResultView{
		cache:  cache,
		out:    out,
		logger: logger,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		tab:    TabMarkdown,
	}
}

// Render is the manager's UpdateFunc: it prints the job status line and the
// aggregated listing each time new information arrives.
func (v *ResultView) Render(snap models.JobSnapshot) {
	v.mu.Lock()
	v.jobID = snap.Job.ID
	v.mu.Unlock()

	fmt.Fprintf(v.out, "job %s  status=%s  results=%d", snap.Job.ID, snap.Job.Status, len(snap.Results))
	if snap.Job.TotalPages > 0 {
		fmt.Fprintf(v.out, "/%d", snap.Job.TotalPages)
	}
	if snap.HasMore {
		fmt.Fprint(v.out, "  (more available)")
	}
	fmt.Fprintln(v.out)

	if snap.Err != nil {
		fmt.Fprintf(v.out, "  warning: %v\n", snap.Err)
	}
	if snap.Job.Error != "" {
		fmt.Fprintf(v.out, "  error: %s\n", snap.Job.Error)
	}

	for _, item := range snap.Results {
		marker := " "
		v.mu.Lock()
		if item.ID == v.expanded {
			marker = ">"
		}
		v.mu.Unlock()
		fmt.Fprintf(v.out, " %s %s  %s\n", marker, item.ID, item.URL)
	}
}

// ExpandResult marks one result as expanded. Expanding alone fetches
// nothing; transfer happens when a heavy tab is selected.
func (v *ResultView) ExpandResult(resultID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expanded = resultID
}

// SelectTab activates a content tab for the expanded result. Heavy tabs
// (html, screenshot) request hydration; the cache guarantees at most one
// fetch per field regardless of how often the tab is revisited.
func (v *ResultView) SelectTab(ctx context.Context, tab Tab) {
	v.mu.Lock()
	v.tab = tab
	jobID := v.jobID
	resultID := v.expanded
	v.mu.Unlock()

	if resultID == "" {
		return
	}

	switch tab {
	case TabHTML:
		v.cache.Request(ctx, jobID, resultID, models.HydrationFieldHTML)
	case TabScreenshot:
		v.cache.Request(ctx, jobID, resultID, models.HydrationFieldScreenshot)
	}
}

// RenderTab writes the active tab's content for one result. Heavy tabs read
// from the hydration cache and report loading/failed states instead of
// blocking.
func (v *ResultView) RenderTab(item models.ResultItem) {
	v.mu.Lock()
	tab := v.tab
	jobID := v.jobID
	v.mu.Unlock()

	switch tab {
	case TabMarkdown:
		preview, err := v.MarkdownPreview(item.Markdown)
		if err != nil {
			fmt.Fprintf(v.out, "  markdown render failed: %v\n", err)
			return
		}
		fmt.Fprintln(v.out, preview)

	case TabHTML:
		entry := v.cache.Get(jobID, item.ID, models.HydrationFieldHTML)
		v.renderEntry(entry, func(value interface{}) {
			if html, ok := value.(string); ok {
				fmt.Fprintln(v.out, html)
			}
		})

	case TabScreenshot:
		entry := v.cache.Get(jobID, item.ID, models.HydrationFieldScreenshot)
		v.renderEntry(entry, func(value interface{}) {
			if data, ok := value.([]byte); ok {
				fmt.Fprintf(v.out, "  screenshot: %d bytes\n", len(data))
			}
		})
	}
}

func (v *ResultView) renderEntry(entry tracker.HydrationEntry, render func(interface{})) {
	switch entry.State {
	case tracker.HydrationLoading:
		fmt.Fprintln(v.out, "  loading...")
	case tracker.HydrationFailed:
		fmt.Fprintf(v.out, "  fetch failed: %v (select tab again to retry)\n", entry.Err)
	case tracker.HydrationLoaded:
		render(entry.Value)
	default:
		fmt.Fprintln(v.out, "  not loaded")
	}
}

// MarkdownPreview converts result markdown to HTML for preview display
func (v *ResultView) MarkdownPreview(markdown string) (string, error) {
	if markdown == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := v.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
