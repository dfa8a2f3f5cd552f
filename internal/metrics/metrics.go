// Package metrics keeps process-wide operational counters.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Counters tracks request and failure counts. The zero value is ready to use.
type Counters struct {
	YouTubeInits       atomic.Int64
	PageInits          atomic.Int64
	PageFetches        atomic.Int64
	Asks               atomic.Int64
	AnswerFallbacks    atomic.Int64
	TranscriptFailures atomic.Int64
	IndexFailures      atomic.Int64
	RetrievalFailures  atomic.Int64
	Clears             atomic.Int64
	CascadeFailures    atomic.Int64
}

// Snapshot returns the current counter values keyed by metric name.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"youtube_inits":       c.YouTubeInits.Load(),
		"page_inits":          c.PageInits.Load(),
		"page_fetches":        c.PageFetches.Load(),
		"asks":                c.Asks.Load(),
		"answer_fallbacks":    c.AnswerFallbacks.Load(),
		"transcript_failures": c.TranscriptFailures.Load(),
		"index_failures":      c.IndexFailures.Load(),
		"retrieval_failures":  c.RetrievalFailures.Load(),
		"clears":              c.Clears.Load(),
		"cascade_failures":    c.CascadeFailures.Load(),
	}
}

// Format renders the counters as sorted "name value" lines.
func (c *Counters) Format() string {
	snap := c.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "contextqa_%s %d\n", name, snap[name])
	}
	return b.String()
}
