// Package normalize reduces raw rows coming from any statistics source
// (cache snapshots, inventory reports, live listings) into canonical
// per storage class summary rows.
//
// The reduction is the same everywhere: object count is summed, bytes are
// summed and the last modification time is the maximum. Because the reduction
// is associative, fragments computed independently (listing pages, inventory
// data files) can be merged again with Merge without changing the result.
package normalize

import (
	"sort"
	"time"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
)

// RowKind tells how a RawSourceRow contributes to the object count.
type RowKind int

const (
	// ObjectRow describes a single object and counts as one.
	ObjectRow RowKind = iota
	// AggregateRow is a pre-aggregated fragment carrying its own count.
	AggregateRow
)

// RawSourceRow is a row as read from a source, before grouping.
type RawSourceRow struct {
	Kind         RowKind
	StorageClass string
	Count        uint64
	Size         uint64
	LastModified time.Time
}

// FromObject converts a listed object.
func FromObject(o dto.S3Object) RawSourceRow {
	var size uint64
	if o.Size > 0 {
		size = uint64(o.Size)
	}
	return RawSourceRow{
		Kind:         ObjectRow,
		StorageClass: o.StorageClass,
		Size:         size,
		LastModified: o.LastModified,
	}
}

// FromSummary converts an already reduced row.
func FromSummary(r dto.BucketSummaryRow) RawSourceRow {
	return RawSourceRow{
		Kind:         AggregateRow,
		StorageClass: string(r.StorageClass),
		Count:        r.ObjectCount,
		Size:         r.TotalBytes,
		LastModified: r.LastModified,
	}
}

func (r RawSourceRow) count() uint64 {
	if r.Kind == ObjectRow {
		return 1
	}
	return r.Count
}

// Normalize groups raw rows by storage class.
func Normalize(rows []RawSourceRow) []dto.BucketSummaryRow {
	acc := NewAccumulator()
	for _, r := range rows {
		acc.Add(r)
	}
	return acc.Rows()
}

// Merge regroups fragments produced separately for the same bucket.
// Merging an already normalized set returns the same set.
func Merge(fragments ...[]dto.BucketSummaryRow) []dto.BucketSummaryRow {
	acc := NewAccumulator()
	for _, f := range fragments {
		acc.AddSummary(f...)
	}
	return acc.Rows()
}

// Accumulator is the streaming form of Normalize. It is not safe for
// concurrent use.
type Accumulator struct {
	groups map[dto.StorageClass]*dto.BucketSummaryRow
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{groups: make(map[dto.StorageClass]*dto.BucketSummaryRow)}
}

// Add folds one raw row.
func (a *Accumulator) Add(r RawSourceRow) {
	class := dto.ParseStorageClass(r.StorageClass)
	g, ok := a.groups[class]
	if !ok {
		g = &dto.BucketSummaryRow{StorageClass: class}
		a.groups[class] = g
	}
	g.ObjectCount += r.count()
	g.TotalBytes += r.Size
	if r.LastModified.After(g.LastModified) {
		g.LastModified = r.LastModified
	}
}

// AddSummary folds already reduced rows.
func (a *Accumulator) AddSummary(rows ...dto.BucketSummaryRow) {
	for _, r := range rows {
		a.Add(FromSummary(r))
	}
}

// Len returns the number of storage classes seen so far.
func (a *Accumulator) Len() int {
	return len(a.groups)
}

// Rows returns the grouped rows ordered by storage class.
func (a *Accumulator) Rows() []dto.BucketSummaryRow {
	rows := make([]dto.BucketSummaryRow, 0, len(a.groups))
	for _, g := range a.groups {
		rows = append(rows, *g)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].StorageClass < rows[j].StorageClass
	})
	return rows
}

// Totals sums count and bytes over rows and returns the newest modification.
func Totals(rows []dto.BucketSummaryRow) (objects, bytes uint64, lastModified time.Time) {
	for _, r := range rows {
		objects += r.ObjectCount
		bytes += r.TotalBytes
		if r.LastModified.After(lastModified) {
			lastModified = r.LastModified
		}
	}
	return objects, bytes, lastModified
}
