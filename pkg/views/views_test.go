package views

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/orchestrator"
)

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func sampleResult() orchestrator.Result {
	ok := dto.BucketReport{
		Name:          "logs-archive",
		Region:        "eu-west-1",
		Source:        dto.DataSource{Kind: dto.SourceInventory},
		CreationDate:  time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC),
		TotalObjects:  1234567,
		TotalBytes:    5 << 30,
		TotalCost:     1234.5,
		CostAvailable: true,
		LastModified:  now.Add(-48 * time.Hour),
		Rows: []dto.CostedRow{
			{BucketSummaryRow: dto.BucketSummaryRow{StorageClass: dto.StorageStandard, ObjectCount: 1234567, TotalBytes: 5 << 30, LastModified: now.Add(-48 * time.Hour)}, EstimatedCost: 1234.5, Priced: true},
		},
		ProcessingDuration: 1500 * time.Millisecond,
	}
	unpriced := dto.BucketReport{
		Name:         "express",
		Source:       dto.DataSource{Kind: dto.SourceLiveListing},
		TotalObjects: 1,
		TotalBytes:   10,
		Rows: []dto.CostedRow{
			{BucketSummaryRow: dto.BucketSummaryRow{StorageClass: "EXPRESS_ONEZONE", ObjectCount: 1, TotalBytes: 10}},
		},
	}
	failed := dto.BucketReport{Name: "locked", Source: dto.DataSource{Kind: dto.SourceNone}, Error: "AccessDenied"}

	res := orchestrator.Result{Duration: 3 * time.Second}
	for _, r := range []dto.BucketReport{ok, unpriced, failed} {
		res.Reports = append(res.Reports, r)
		res.Totals.Add(r)
	}
	return res
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes uint64
		unit  string
		want  string
	}{
		{bytes: 1234, unit: "B", want: "1,234B"},
		{bytes: 5 << 30, unit: "GB", want: "5.00GB"},
		{bytes: 5 << 30, unit: "gb", want: "5.00GB"},
		{bytes: 1536, unit: "KB", want: "1.50KB"},
		{bytes: 3 << 40, unit: "TB", want: "3.00TB"},
		{bytes: 1536, unit: "auto", want: "1.5 KiB"},
		{bytes: 0, unit: "auto", want: "0 B"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.bytes, tt.unit), "%d %s", tt.bytes, tt.unit)
	}
}

func TestFormatCost(t *testing.T) {
	assert.Equal(t, "$1,234.50", formatCost(1234.5, true))
	assert.Equal(t, "$0.00", formatCost(0, true))
	assert.Equal(t, "n/a", formatCost(0, false))
}

func TestFormatRelativeTime(t *testing.T) {
	assert.Equal(t, "never", formatRelativeTime(time.Time{}, now))
	assert.Equal(t, "in the future", formatRelativeTime(now.Add(time.Hour), now))
	assert.Equal(t, "2 days ago", formatRelativeTime(now.Add(-48*time.Hour), now))
}

func TestBucketTable(t *testing.T) {
	v := NewViews("GB")
	out := v.BucketTable(sampleResult().Reports)

	for _, want := range []string{"Bucket", "Cost (USD)", "logs-archive", "1,234,567", "5.00GB", "$1,234.50", "2021-03-04 05:06:07", "inventory", "1.5s"} {
		assert.Contains(t, out, want)
	}

	lines := strings.Split(out, "\n")
	var express, locked string
	for _, l := range lines {
		switch {
		case strings.Contains(l, "express"):
			express = l
		case strings.Contains(l, "locked"):
			locked = l
		}
	}
	assert.Contains(t, express, "n/a")
	assert.Contains(t, locked, "error: AccessDenied")
}

func TestRender(t *testing.T) {
	v := NewViews("GB")
	v.now = func() time.Time { return now }
	v.SetDetails(true)

	var buf bytes.Buffer
	require.NoError(t, v.Render(&buf, sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "Storage Class")
	assert.Contains(t, out, "EXPRESS_ONEZONE")
	assert.Contains(t, out, "2 days ago")
	assert.Contains(t, out, "Grand Total:")
	assert.Contains(t, out, "Total Buckets:")
	assert.Regexp(t, `Total Cost:\s+\$1,234\.50`, out)
	assert.Regexp(t, `Processing Time:\s+3s`, out)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteFile(path, sampleResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded struct {
		Buckets []dto.BucketReport `json:"buckets"`
		Totals  struct {
			TotalBuckets int     `json:"totalBuckets"`
			TotalCost    float64 `json:"totalCost"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded.Buckets, 3)
	assert.Equal(t, 3, decoded.Totals.TotalBuckets)
	assert.InDelta(t, 1234.5, decoded.Totals.TotalCost, 1e-9)

	assert.Error(t, WriteFile(filepath.Join(t.TempDir(), "missing", "report.json"), sampleResult()))
}
