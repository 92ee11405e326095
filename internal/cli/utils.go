// Package cli formats lexalign command output.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperjump/lexalign/internal/codec"
	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/indexer"
	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// Status summarizes the indexes and the relational store.
type Status struct {
	Mode           string            `json:"mode"`
	ReadOnly       bool              `json:"read_only"`
	Documents      uint64            `json:"documents"`
	Terms          int64             `json:"terms"`
	Sources        int64             `json:"sources"`
	DiskUsageBytes int64             `json:"disk_usage_bytes"`
	Cells          []index.CellStats `json:"cells"`
}

// ResultPage is a search result page as it travels over the API. Hit
// entities stay undecoded so the page can be read without knowing its view.
type ResultPage struct {
	TotalResults int                `json:"total_results"`
	View         models.Granularity `json:"view"`
	Searched     models.Granularity `json:"searched"`
	QueryTime    int64              `json:"query_time_ms"`
	Hits         []RawHit           `json:"hits"`
}

// RawHit is one hit of a ResultPage.
type RawHit struct {
	Entity json.RawMessage `json:"entity"`
	Score  float64         `json:"score"`
}

// NewResultPage converts a search result for output.
func NewResultPage(res *models.SearchResult) (*ResultPage, error) {
	out := &ResultPage{
		TotalResults: res.TotalResults,
		View:         res.View,
		Searched:     res.Searched,
		QueryTime:    res.QueryTime,
		Hits:         make([]RawHit, 0, len(res.Hits)),
	}
	for _, h := range res.Hits {
		raw, err := json.Marshal(h.Entity)
		if err != nil {
			return nil, err
		}
		out.Hits = append(out.Hits, RawHit{Entity: raw, Score: h.Score})
	}
	return out, nil
}

// hitSummary is the part of every entity the text output shows.
type hitSummary struct {
	InternalID string `json:"internal_id"`
	Language   string `json:"language"`
	Text       string `json:"text"`
}

// WriteSearchResults writes a result page to w in the given format.
func WriteSearchResults(w io.Writer, page *ResultPage, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, page)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (searched %s, showing %s)\n\n",
		page.TotalResults, page.QueryTime, page.Searched, page.View)
	for i, h := range page.Hits {
		var s hitSummary
		if err := json.Unmarshal(h.Entity, &s); err != nil {
			return fmt.Errorf("hit %d: %w", i+1, err)
		}
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | %s %s\n", i+1, h.Score, page.View, s.Language)
		fmt.Fprintf(w, "ID: %s\n", compactID(s.InternalID))
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(s.Text, 200))
	}
	return nil
}

// WriteStatus writes index and store statistics.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Mode:        %s\n", st.Mode)
	if st.ReadOnly {
		fmt.Fprintf(w, "Read-only:   yes\n")
	}
	fmt.Fprintf(w, "Documents:   %d\n", st.Documents)
	fmt.Fprintf(w, "Terms:       %d\n", st.Terms)
	fmt.Fprintf(w, "Sources:     %d\n", st.Sources)
	fmt.Fprintf(w, "Disk usage:  %s\n", FormatBytes(st.DiskUsageBytes))
	if len(st.Cells) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tRECORDS\tSIZE\tGENERATION\tREADERS")
	for _, c := range st.Cells {
		if !c.Exists {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\n", c.Name)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d/%d\n", c.Name, c.Documents, FormatBytes(c.DiskUsageBytes), c.Generation, c.ReaderUsage, c.RetiredReaders)
	}
	return tw.Flush()
}

// WriteIndexStats writes the outcome of a corpus indexing run.
func WriteIndexStats(w io.Writer, st indexer.Stats, elapsed time.Duration, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"indexed":    st.Indexed,
			"skipped":    st.Skipped,
			"failed":     st.Failed,
			"elapsed_ms": elapsed.Milliseconds(),
		})
	}
	fmt.Fprintf(w, "Indexed %d documents (%d unchanged, %d failed) in %s\n",
		st.Indexed, st.Skipped, st.Failed, elapsed.Round(time.Millisecond))
	return nil
}

// WriteDirectories lists watched directories.
func WriteDirectories(w io.Writer, dirs []string, format OutputFormat) error {
	if format == OutputJSON {
		if dirs == nil {
			dirs = []string{}
		}
		return writeJSON(w, map[string][]string{"directories": dirs})
	}
	if len(dirs) == 0 {
		fmt.Fprintln(w, "No watched directories")
		return nil
	}
	for _, d := range dirs {
		fmt.Fprintln(w, d)
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// compactID prints ids in their stored form.
func compactID(s string) string {
	id, err := codec.ParseID(s)
	if err != nil {
		return s
	}
	return codec.FormatID(id)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
