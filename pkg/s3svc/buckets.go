package s3svc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
)

// DefaultRegion is the region of buckets without a location constraint.
const DefaultRegion = "us-east-1"

// ListBuckets returns a list of all S3 buckets accessible with the current credentials.
func (s *Service) ListBuckets(ctx context.Context) ([]dto.Bucket, error) {
	s.log.Debug("Listing buckets")

	output, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		s.log.Error("Failed to list buckets", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}

	buckets := make([]dto.Bucket, 0, len(output.Buckets))
	for _, bucket := range output.Buckets {
		buckets = append(buckets, dto.Bucket{
			Name:         aws.ToString(bucket.Name),
			CreationDate: aws.ToTime(bucket.CreationDate),
		})
	}

	s.log.Debug("Listed buckets", slog.Int("count", len(buckets)))
	return buckets, nil
}

// BucketRegion returns the region hosting a bucket. Results are kept for the
// lifetime of the service.
func (s *Service) BucketRegion(ctx context.Context, bucket string) (string, error) {
	if v, ok := s.regions.Load(bucket); ok {
		return v.(string), nil
	}

	out, err := s.client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get location of bucket %s: %w", bucket, err)
	}

	region := NormalizeRegion(string(out.LocationConstraint))
	s.regions.Store(bucket, region)
	s.log.Debug("Bucket region", slog.String("bucket", bucket), slog.String("region", region))
	return region, nil
}

// NormalizeRegion converts a location constraint to a region code.
func NormalizeRegion(constraint string) string {
	switch constraint {
	case "":
		return DefaultRegion
	case "EU":
		return "eu-west-1"
	default:
		return constraint
	}
}
