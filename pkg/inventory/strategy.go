package inventory

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/normalize"
)

// Strategy reduces one inventory data file to a fragment.
type Strategy interface {
	ReadFile(ctx context.Context, bucket, key string, schema normalize.Schema) ([]dto.BucketSummaryRow, error)
}

// SelectStrategy lets S3 Select project the needed columns server side.
type SelectStrategy struct {
	Selector Selector
}

// ReadFile implements Strategy.
func (s SelectStrategy) ReadFile(ctx context.Context, bucket, key string, schema normalize.Schema) ([]dto.BucketSummaryRow, error) {
	expression, projected := SelectExpression(schema)
	projectedSchema, err := normalize.NewSchema(projected)
	if err != nil {
		return nil, err
	}

	body, err := s.Selector.SelectCSV(ctx, bucket, key, expression)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return aggregateCSV(body, projectedSchema)
}

// SelectExpression builds the S3 Select query projecting the columns needed
// for statistics out of a headerless inventory file, along with the column
// names of the result.
func SelectExpression(schema normalize.Schema) (string, []string) {
	var (
		fields  []string
		columns []string
	)
	for _, name := range []string{normalize.ColumnSize, normalize.ColumnLastModifiedDate, normalize.ColumnLastModified, normalize.ColumnStorageClass} {
		i, ok := schema.Index(name)
		if !ok {
			continue
		}
		if name == normalize.ColumnLastModified {
			if _, hasDate := schema.Index(normalize.ColumnLastModifiedDate); hasDate {
				continue
			}
		}
		fields = append(fields, fmt.Sprintf("_%d", i+1))
		columns = append(columns, name)
	}
	return "select " + strings.Join(fields, ",") + " from s3object", columns
}

// ScanStrategy downloads the data file and scans it locally.
type ScanStrategy struct {
	Store ObjectStore
}

// ReadFile implements Strategy.
func (s ScanStrategy) ReadFile(ctx context.Context, bucket, key string, schema normalize.Schema) ([]dto.BucketSummaryRow, error) {
	body, err := s.Store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()
	return aggregateCSV(gz, schema)
}

func aggregateCSV(r io.Reader, schema normalize.Schema) ([]dto.BucketSummaryRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	acc := normalize.NewAccumulator()
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		row, err := schema.Parse(record)
		if err != nil {
			return nil, err
		}
		acc.Add(row)
	}
	return acc.Rows(), nil
}
