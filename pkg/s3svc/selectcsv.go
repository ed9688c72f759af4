package s3svc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrSelectIncomplete is returned when an S3 Select stream ends without its
// End event, meaning the result set was truncated.
var ErrSelectIncomplete = errors.New("s3 select stream ended before the end event")

// SelectCSV runs an S3 Select SQL expression over a gzip compressed,
// headerless CSV object and streams the CSV result set.
// The caller must close the returned reader.
func (s *Service) SelectCSV(ctx context.Context, bucket, key, expression string) (io.ReadCloser, error) {
	out, err := s.client.SelectObjectContent(ctx, &s3.SelectObjectContentInput{
		Bucket:         aws.String(bucket),
		Key:            aws.String(key),
		Expression:     aws.String(expression),
		ExpressionType: types.ExpressionTypeSql,
		InputSerialization: &types.InputSerialization{
			CompressionType: types.CompressionTypeGzip,
			CSV:             &types.CSVInput{FileHeaderInfo: types.FileHeaderInfoNone},
		},
		OutputSerialization: &types.OutputSerialization{
			CSV: &types.CSVOutput{},
		},
	}, s.bucketOptions(ctx, bucket)...)
	if err != nil {
		return nil, fmt.Errorf("SelectCSV: error on s3://%s/%s: %w", bucket, key, err)
	}

	stream := out.GetStream()
	pr, pw := io.Pipe()
	go func() {
		err := CopyRecords(pw, stream.Events())
		if err == nil {
			err = stream.Err()
		}
		if closeErr := stream.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// CopyRecords writes the payload of every Records event to w until the End
// event is received.
func CopyRecords(w io.Writer, events <-chan types.SelectObjectContentEventStream) error {
	for ev := range events {
		switch v := ev.(type) {
		case *types.SelectObjectContentEventStreamMemberRecords:
			if _, err := w.Write(v.Value.Payload); err != nil {
				return fmt.Errorf("failed to forward select records: %w", err)
			}
		case *types.SelectObjectContentEventStreamMemberEnd:
			return nil
		}
	}
	return ErrSelectIncomplete
}
