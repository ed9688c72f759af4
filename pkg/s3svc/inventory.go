package s3svc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
)

const (
	// InventoryPrefix is the destination prefix of provisioned inventories.
	InventoryPrefix = "inventory"
	arnPrefix       = "arn:aws:s3:::"
)

// provisionedFields are the optional fields requested for provisioned inventories.
var provisionedFields = []types.InventoryOptionalField{
	types.InventoryOptionalFieldSize,
	types.InventoryOptionalFieldLastModifiedDate,
	types.InventoryOptionalFieldStorageClass,
	types.InventoryOptionalFieldETag,
	types.InventoryOptionalFieldIsMultipartUploaded,
	types.InventoryOptionalFieldReplicationStatus,
	types.InventoryOptionalFieldEncryptionStatus,
}

// ListInventoryConfigurations returns the inventory configurations of a bucket.
func (s *Service) ListInventoryConfigurations(ctx context.Context, bucket string) ([]dto.InventoryConfig, error) {
	var (
		result []dto.InventoryConfig
		token  *string
	)
	opts := s.bucketOptions(ctx, bucket)
	for {
		out, err := s.client.ListBucketInventoryConfigurations(ctx, &s3.ListBucketInventoryConfigurationsInput{
			Bucket:            aws.String(bucket),
			ContinuationToken: token,
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to list inventory configurations of %s: %w", bucket, err)
		}
		for _, c := range out.InventoryConfigurationList {
			result = append(result, toInventoryConfig(c))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return result, nil
}

// DefaultInventoryConfig is the daily CSV inventory provisioned for a bucket
// without one. Reports are delivered into the bucket itself.
func DefaultInventoryConfig(bucket string) dto.InventoryConfig {
	return dto.InventoryConfig{
		ID:                bucket + "-inventory",
		Enabled:           true,
		DestinationBucket: bucket,
		DestinationPrefix: InventoryPrefix,
		Format:            string(types.InventoryFormatCsv),
		IncludedVersions:  string(types.InventoryIncludedObjectVersionsAll),
	}
}

// PutInventoryConfiguration creates or replaces an inventory configuration.
// The first report is produced by S3 within 48 hours.
func (s *Service) PutInventoryConfiguration(ctx context.Context, bucket string, cfg dto.InventoryConfig) error {
	s.log.Info("Provisioning inventory",
		slog.String("bucket", bucket),
		slog.String("id", cfg.ID),
		slog.String("destination", cfg.DestinationBucket))

	dest := &types.InventoryS3BucketDestination{
		Bucket: aws.String(arnPrefix + cfg.DestinationBucket),
		Format: types.InventoryFormat(cfg.Format),
	}
	if cfg.DestinationPrefix != "" {
		dest.Prefix = aws.String(cfg.DestinationPrefix)
	}

	_, err := s.client.PutBucketInventoryConfiguration(ctx, &s3.PutBucketInventoryConfigurationInput{
		Bucket: aws.String(bucket),
		Id:     aws.String(cfg.ID),
		InventoryConfiguration: &types.InventoryConfiguration{
			Id:                     aws.String(cfg.ID),
			IsEnabled:              aws.Bool(cfg.Enabled),
			IncludedObjectVersions: types.InventoryIncludedObjectVersions(cfg.IncludedVersions),
			Destination:            &types.InventoryDestination{S3BucketDestination: dest},
			Schedule:               &types.InventorySchedule{Frequency: types.InventoryFrequencyDaily},
			OptionalFields:         provisionedFields,
		},
	}, s.bucketOptions(ctx, bucket)...)
	if err != nil {
		return fmt.Errorf("failed to put inventory configuration on %s: %w", bucket, err)
	}
	return nil
}

func toInventoryConfig(c types.InventoryConfiguration) dto.InventoryConfig {
	cfg := dto.InventoryConfig{
		ID:               aws.ToString(c.Id),
		Enabled:          aws.ToBool(c.IsEnabled),
		IncludedVersions: string(c.IncludedObjectVersions),
	}
	if c.Destination != nil && c.Destination.S3BucketDestination != nil {
		dest := c.Destination.S3BucketDestination
		arn := aws.ToString(dest.Bucket)
		cfg.DestinationBucket = arn[strings.LastIndex(arn, ":")+1:]
		cfg.DestinationPrefix = aws.ToString(dest.Prefix)
		cfg.Format = string(dest.Format)
	}
	return cfg
}
