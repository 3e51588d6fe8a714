// package formatter renders store statistics and pipeline run history as text, JSON or CSV
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/tunelog/internal/models"
	"github.com/desertthunder/tunelog/internal/repositories"
	"github.com/desertthunder/tunelog/internal/shared"
	"github.com/goccy/go-json"
)

// Format selects the output encoding of a report.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Extension returns the file extension used for f.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	default:
		return "txt"
	}
}

// StatusReport is what the status command shows: store contents and the most recent runs.
type StatusReport struct {
	Stats *repositories.StoreStats
	Runs  []*models.SyncRun
}

type countsJSON struct {
	Plays        int `json:"plays"`
	Tracks       int `json:"tracks"`
	Artists      int `json:"artists"`
	Genres       int `json:"genres"`
	Features     int `json:"features"`
	FailedISRCs  int `json:"failed_isrcs"`
	InvalidMBIDs int `json:"invalid_mbids"`
	Skipped      int `json:"skipped"`
}

type runJSON struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	StartedAt  string     `json:"started_at"`
	FinishedAt *string    `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	Counts     countsJSON `json:"counts"`
	Error      string     `json:"error,omitempty"`
}

type statsJSON struct {
	Plays        int     `json:"plays"`
	Tracks       int     `json:"tracks"`
	Artists      int     `json:"artists"`
	Genres       int     `json:"genres"`
	Features     int     `json:"features"`
	FailedISRCs  int     `json:"failed_isrcs"`
	InvalidMBIDs int     `json:"invalid_mbids"`
	Pending      int     `json:"pending_isrcs"`
	Watermark    *string `json:"watermark"`
}

type reportJSON struct {
	Stats *statsJSON `json:"stats,omitempty"`
	Runs  []runJSON  `json:"runs"`
}

func toRunJSON(run *models.SyncRun) runJSON {
	c := run.Counts
	out := runJSON{
		ID:         run.ID,
		Kind:       string(run.Kind),
		Status:     string(run.Status),
		StartedAt:  shared.FormatTimestamp(run.StartedAt),
		DurationMS: run.Duration().Milliseconds(),
		Counts: countsJSON{
			Plays:        c.Plays,
			Tracks:       c.Tracks,
			Artists:      c.Artists,
			Genres:       c.Genres,
			Features:     c.Features,
			FailedISRCs:  c.FailedISRCs,
			InvalidMBIDs: c.InvalidMBIDs,
			Skipped:      c.Skipped,
		},
		Error: run.Error,
	}
	if run.FinishedAt != nil {
		finished := shared.FormatTimestamp(*run.FinishedAt)
		out.FinishedAt = &finished
	}
	return out
}

func toStatsJSON(stats *repositories.StoreStats) *statsJSON {
	if stats == nil {
		return nil
	}
	out := &statsJSON{
		Plays:        stats.Plays,
		Tracks:       stats.Tracks,
		Artists:      stats.Artists,
		Genres:       stats.Genres,
		Features:     stats.Features,
		FailedISRCs:  stats.FailedISRCs,
		InvalidMBIDs: stats.InvalidMBIDs,
		Pending:      stats.Pending,
	}
	if stats.Watermark != nil {
		w := shared.FormatTimestamp(*stats.Watermark)
		out.Watermark = &w
	}
	return out
}

// ReportToJSON converts a StatusReport to indented JSON
func ReportToJSON(report StatusReport) ([]byte, error) {
	out := reportJSON{Stats: toStatsJSON(report.Stats), Runs: make([]runJSON, 0, len(report.Runs))}
	for _, run := range report.Runs {
		out.Runs = append(out.Runs, toRunJSON(run))
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}

// RunsToCSV converts run history to CSV with one row per run and one column per table count
func RunsToCSV(runs []*models.SyncRun) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{
		"ID", "Kind", "Status", "Started", "Finished", "DurationMS",
		"Plays", "Tracks", "Artists", "Genres", "Features", "FailedISRCs", "InvalidMBIDs", "Skipped", "Error",
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, run := range runs {
		finished := ""
		if run.FinishedAt != nil {
			finished = shared.FormatTimestamp(*run.FinishedAt)
		}
		c := run.Counts
		record := []string{
			run.ID,
			string(run.Kind),
			string(run.Status),
			shared.FormatTimestamp(run.StartedAt),
			finished,
			strconv.FormatInt(run.Duration().Milliseconds(), 10),
			strconv.Itoa(c.Plays),
			strconv.Itoa(c.Tracks),
			strconv.Itoa(c.Artists),
			strconv.Itoa(c.Genres),
			strconv.Itoa(c.Features),
			strconv.Itoa(c.FailedISRCs),
			strconv.Itoa(c.InvalidMBIDs),
			strconv.Itoa(c.Skipped),
			run.Error,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// RunSummary renders a single line describing a finished run.
func RunSummary(run *models.SyncRun, p *Palette) string {
	if p == nil {
		p = PlainPalette()
	}

	mark := p.OK("✓")
	if run.Status == models.RunStatusFailed {
		mark = p.Err("✗")
	} else if run.Status == models.RunStatusRunning {
		mark = p.Warn("…")
	}

	line := fmt.Sprintf("%s %-6s %s  %s  %s", mark, run.Kind, shortID(run.ID),
		shared.FormatTimestamp(run.StartedAt), run.Duration().Round(time.Millisecond))

	if parts := countParts(run.Counts); len(parts) > 0 {
		line += "  " + strings.Join(parts, ", ")
	} else {
		line += "  " + p.Help("nothing new")
	}

	if run.Counts.Skipped > 0 {
		line += "  " + p.Warn(fmt.Sprintf("%d skipped", run.Counts.Skipped))
	}
	if run.Error != "" {
		line += "\n    " + p.Err("error: ") + run.Error
	}
	return line
}

func countParts(c models.RunCounts) []string {
	var parts []string
	for _, kv := range []struct {
		label string
		n     int
	}{
		{"plays", c.Plays},
		{"tracks", c.Tracks},
		{"artists", c.Artists},
		{"genres", c.Genres},
		{"features", c.Features},
		{"failed isrcs", c.FailedISRCs},
		{"invalid mbids", c.InvalidMBIDs},
	} {
		if kv.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", kv.n, kv.label))
		}
	}
	return parts
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ReportToText converts a StatusReport to styled plain text
func ReportToText(report StatusReport, p *Palette) []byte {
	if p == nil {
		p = PlainPalette()
	}

	var buf bytes.Buffer

	if s := report.Stats; s != nil {
		buf.WriteString(p.Title("Store") + "\n")
		for _, row := range []struct {
			label string
			n     int
		}{
			{"plays", s.Plays},
			{"tracks", s.Tracks},
			{"artists", s.Artists},
			{"genres", s.Genres},
			{"features", s.Features},
			{"failed isrcs", s.FailedISRCs},
			{"invalid mbids", s.InvalidMBIDs},
			{"pending isrcs", s.Pending},
		} {
			fmt.Fprintf(&buf, "  %-14s %d\n", row.label, row.n)
		}

		watermark := p.Help("none")
		if s.Watermark != nil {
			watermark = shared.FormatTimestamp(*s.Watermark)
		}
		fmt.Fprintf(&buf, "  %-14s %s\n\n", "watermark", watermark)
	}

	buf.WriteString(p.Title("Recent runs") + "\n")
	if len(report.Runs) == 0 {
		buf.WriteString("  " + p.Help("no runs recorded") + "\n")
	}
	for _, run := range report.Runs {
		buf.WriteString("  " + RunSummary(run, p) + "\n")
	}

	return buf.Bytes()
}

// Render encodes report in the given format. CSV only carries the run history.
func Render(report StatusReport, format Format, p *Palette) ([]byte, error) {
	switch format {
	case FormatJSON:
		return ReportToJSON(report)
	case FormatCSV:
		return RunsToCSV(report.Runs)
	case FormatText, "":
		return ReportToText(report, p), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// WriteReport renders report without styling and writes it to path.
//
// Defaults to tunelog_status.{ext} in the working directory.
func WriteReport(report StatusReport, format Format, path string) (string, error) {
	if path == "" {
		path = "tunelog_status." + format.Extension()
	}

	data, err := Render(report, format, PlainPalette())
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	return path, nil
}
