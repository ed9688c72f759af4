// Package views renders analysis results as terminal tables and JSON.
package views

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/orchestrator"
)

var (
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Views renders results with a fixed size unit.
type Views struct {
	unit    string
	details bool
	now     func() time.Time
}

// NewViews returns a renderer printing sizes in unit (see config.DisplayUnits).
func NewViews(unit string) *Views {
	return &Views{unit: unit, now: time.Now}
}

// SetDetails adds a per storage class table to Render.
func (v *Views) SetDetails(details bool) {
	v.details = details
}

// Render writes the bucket table, the optional storage class table and the
// grand total block.
func (v *Views) Render(w io.Writer, res orchestrator.Result) error {
	if _, err := fmt.Fprintln(w, v.BucketTable(res.Reports)); err != nil {
		return fmt.Errorf("failed to render buckets: %w", err)
	}
	if v.details {
		if _, err := fmt.Fprintln(w, v.ClassTable(res.Reports)); err != nil {
			return fmt.Errorf("failed to render storage classes: %w", err)
		}
	}
	if _, err := fmt.Fprintln(w, v.GrandTotal(res.Totals, res.Duration)); err != nil {
		return fmt.Errorf("failed to render totals: %w", err)
	}
	return nil
}

// BucketTable returns one line per bucket.
func (v *Views) BucketTable(reports []dto.BucketReport) string {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		if r.Error != "" {
			rows = append(rows, []string{
				r.Name, r.Region, string(r.Source.Kind), formatDateTime(r.CreationDate),
				"-", "-", "-", errorStyle.Render("error: " + r.Error), formatDuration(r.ProcessingDuration),
			})
			continue
		}
		rows = append(rows, []string{
			r.Name,
			r.Region,
			string(r.Source.Kind),
			formatDateTime(r.CreationDate),
			formatCount(r.TotalObjects),
			formatSize(r.TotalBytes, v.unit),
			formatDateTime(r.LastModified),
			formatCost(r.TotalCost, r.CostAvailable),
			formatDuration(r.ProcessingDuration),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("Bucket", "Region", "Source", "Created", "Objects", "Size", "LastModified", "Cost (USD)", "Processing Time").
		Rows(rows...)
	return t.String()
}

// ClassTable returns one line per bucket and storage class.
func (v *Views) ClassTable(reports []dto.BucketReport) string {
	var rows [][]string
	for _, r := range reports {
		for _, row := range r.Rows {
			rows = append(rows, []string{
				r.Name,
				string(row.StorageClass),
				formatCount(row.ObjectCount),
				formatSize(row.TotalBytes, v.unit),
				formatRelativeTime(row.LastModified, v.now()),
				formatCost(row.EstimatedCost, row.Priced),
			})
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("Bucket", "Storage Class", "Objects", "Size", "LastModified", "Cost (USD)").
		Rows(rows...)
	return t.String()
}

// GrandTotal returns the summary block of a run.
func (v *Views) GrandTotal(totals dto.GrandTotals, d time.Duration) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Grand Total:"))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "  Total Buckets:   %40d\n", totals.TotalBuckets)
	fmt.Fprintf(&b, "  Total Objects:   %40s\n", formatCount(totals.TotalObjects))
	fmt.Fprintf(&b, "  Total Size:      %40s\n", formatSize(totals.TotalBytes, v.unit))
	fmt.Fprintf(&b, "  Total Cost:      %40s\n", formatCost(totals.TotalCost(), true))
	fmt.Fprintf(&b, "  Processing Time: %40s", formatDuration(d))
	return b.String()
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}

// WriteFile writes the JSON report of res to path.
func WriteFile(path string, res orchestrator.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := WriteJSON(f, res); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	return nil
}
