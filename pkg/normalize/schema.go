package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Column names understood by Schema.
const (
	ColumnSize             = "Size"
	ColumnStorageClass     = "StorageClass"
	ColumnLastModified     = "LastModified"
	ColumnLastModifiedDate = "LastModifiedDate"
	ColumnCount            = "Count"
)

var (
	// ErrMissingColumn is returned when a schema lacks a required column.
	ErrMissingColumn = errors.New("missing column")
	// ErrShortRecord is returned when a record has fewer fields than the schema needs.
	ErrShortRecord = errors.New("record shorter than schema")
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
}

// Schema maps the column names of a delimited source to their positions.
// It is resolved once per file, never per row.
type Schema struct {
	columns      []string
	index        map[string]int
	size         int
	storageClass int
	lastModified int
	count        int
}

// ParseColumns splits a comma joined column list such as an inventory
// manifest fileSchema.
func ParseColumns(fileSchema string) []string {
	parts := strings.Split(fileSchema, ",")
	columns := make([]string, 0, len(parts))
	for _, p := range parts {
		columns = append(columns, strings.TrimSpace(p))
	}
	return columns
}

// NewSchema resolves column positions by name. Size and StorageClass are
// required; the modification time may be named LastModified or
// LastModifiedDate. A Count column marks rows as pre-aggregated.
func NewSchema(columns []string) (Schema, error) {
	s := Schema{
		columns:      columns,
		index:        make(map[string]int, len(columns)),
		lastModified: -1,
		count:        -1,
	}
	for i, c := range columns {
		s.index[c] = i
	}

	var ok bool
	if s.size, ok = s.index[ColumnSize]; !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnSize)
	}
	if s.storageClass, ok = s.index[ColumnStorageClass]; !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnStorageClass)
	}
	if i, ok := s.index[ColumnLastModifiedDate]; ok {
		s.lastModified = i
	} else if i, ok := s.index[ColumnLastModified]; ok {
		s.lastModified = i
	}
	if i, ok := s.index[ColumnCount]; ok {
		s.count = i
	}
	return s, nil
}

// Columns returns the declared column order.
func (s Schema) Columns() []string {
	return s.columns
}

// Index returns the position of a column.
func (s Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Parse converts one delimited record.
func (s Schema) Parse(record []string) (RawSourceRow, error) {
	if len(record) <= s.maxIndex() {
		return RawSourceRow{}, fmt.Errorf("%w: got %d fields", ErrShortRecord, len(record))
	}

	row := RawSourceRow{
		Kind:         ObjectRow,
		StorageClass: record[s.storageClass],
	}

	size, err := parseUint(record[s.size])
	if err != nil {
		return RawSourceRow{}, fmt.Errorf("invalid size %q: %w", record[s.size], err)
	}
	row.Size = size

	if s.lastModified >= 0 {
		ts, err := ParseTimestamp(record[s.lastModified])
		if err != nil {
			return RawSourceRow{}, err
		}
		row.LastModified = ts
	}

	if s.count >= 0 {
		count, err := parseUint(record[s.count])
		if err != nil {
			return RawSourceRow{}, fmt.Errorf("invalid count %q: %w", record[s.count], err)
		}
		row.Kind = AggregateRow
		row.Count = count
	}
	return row, nil
}

func (s Schema) maxIndex() int {
	return max(s.size, s.storageClass, s.lastModified, s.count)
}

// parseUint accepts empty values (delete markers carry no size) and the
// float notation some exporters use for integral sizes.
func parseUint(v string) (uint64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err == nil {
		return n, nil
	}
	f, ferr := strconv.ParseFloat(v, 64)
	if ferr != nil || f < 0 {
		return 0, err
	}
	return uint64(f), nil
}

// ParseTimestamp parses the timestamp formats written by S3 inventories,
// listings and cache files. An empty value is the zero time.
func ParseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
}
