package s3svc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
)

// ListPageSize is the number of keys requested per ListObjectsV2 call.
const ListPageSize = 1000

// ListObjectPages enumerates the objects of bucket under prefix and hands
// every page to fn as soon as it is received. A leading "/" of the prefix is
// ignored and a prefix ending with "/" does not return the folder marker
// itself. Returning an error from fn stops the listing.
func (s *Service) ListObjectPages(ctx context.Context, bucket, prefix string, fn func([]dto.S3Object) error) error {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(ListPageSize),
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" {
		input.Prefix = aws.String(prefix)
		if strings.HasSuffix(prefix, "/") {
			input.StartAfter = aws.String(prefix)
		}
	}

	opts := s.bucketOptions(ctx, bucket)
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	pages := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx, opts...)
		if err != nil {
			return fmt.Errorf("ListObjectPages: error of paginator.NextPage on %s: %w", bucket, err)
		}
		pages++
		objects := make([]dto.S3Object, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, toS3Object(obj))
		}
		if err := fn(objects); err != nil {
			return err
		}
	}
	s.log.Debug("Listed objects", slog.String("bucket", bucket), slog.Int("pages", pages))
	return nil
}

// ListObjects returns every object of bucket under prefix.
func (s *Service) ListObjects(ctx context.Context, bucket, prefix string) ([]dto.S3Object, error) {
	var result []dto.S3Object
	err := s.ListObjectPages(ctx, bucket, prefix, func(objects []dto.S3Object) error {
		result = append(result, objects...)
		return nil
	})
	return result, err
}

// GetObject opens an object for reading. The caller closes the body.
func (s *Service) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s.bucketOptions(ctx, bucket)...)
	if err != nil {
		return nil, fmt.Errorf("GetObject: error when getting s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func toS3Object(obj types.Object) dto.S3Object {
	return dto.S3Object{
		Key:          aws.ToString(obj.Key),
		ETag:         aws.ToString(obj.ETag),
		Size:         aws.ToInt64(obj.Size),
		LastModified: aws.ToTime(obj.LastModified).UTC(),
		StorageClass: string(obj.StorageClass),
	}
}
