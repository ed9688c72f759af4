// Package s3svc_test tests the s3svc package functionality
package s3svc_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/s3svc"
)

// fakeS3 implements the calls exercised by a test; any other call panics
// through the nil embedded interface.
type fakeS3 struct {
	s3svc.API

	pages        []*s3.ListObjectsV2Output
	listInputs   []*s3.ListObjectsV2Input
	location     types.BucketLocationConstraint
	locationCall int
	inventories  []*s3.ListBucketInventoryConfigurationsOutput
	putInventory *s3.PutBucketInventoryConfigurationInput
	objects      map[string]string
	getRegion    string

	policyErr    error
	aclErr       error
	analyticsErr error
	analytics    []types.AnalyticsConfiguration
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listInputs = append(f.listInputs, in)
	return f.pages[len(f.listInputs)-1], nil
}

func (f *fakeS3) GetBucketLocation(_ context.Context, _ *s3.GetBucketLocationInput, _ ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	f.locationCall++
	return &s3.GetBucketLocationOutput{LocationConstraint: f.location}, nil
}

func (f *fakeS3) ListBuckets(_ context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	return &s3.ListBucketsOutput{Buckets: []types.Bucket{
		{Name: aws.String("logs-archive"), CreationDate: &created},
		{Name: aws.String("media")},
	}}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	o := s3.Options{Region: "us-west-2"}
	for _, fn := range optFns {
		fn(&o)
	}
	f.getRegion = o.Region
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) ListBucketInventoryConfigurations(_ context.Context, in *s3.ListBucketInventoryConfigurationsInput, _ ...func(*s3.Options)) (*s3.ListBucketInventoryConfigurationsOutput, error) {
	if in.ContinuationToken == nil {
		return f.inventories[0], nil
	}
	return f.inventories[1], nil
}

func (f *fakeS3) PutBucketInventoryConfiguration(_ context.Context, in *s3.PutBucketInventoryConfigurationInput, _ ...func(*s3.Options)) (*s3.PutBucketInventoryConfigurationOutput, error) {
	f.putInventory = in
	return &s3.PutBucketInventoryConfigurationOutput{}, nil
}

func (f *fakeS3) GetBucketVersioning(_ context.Context, _ *s3.GetBucketVersioningInput, _ ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error) {
	return &s3.GetBucketVersioningOutput{Status: types.BucketVersioningStatusEnabled}, nil
}

func (f *fakeS3) GetBucketEncryption(_ context.Context, _ *s3.GetBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error) {
	return &s3.GetBucketEncryptionOutput{ServerSideEncryptionConfiguration: &types.ServerSideEncryptionConfiguration{
		Rules: []types.ServerSideEncryptionRule{{
			ApplyServerSideEncryptionByDefault: &types.ServerSideEncryptionByDefault{SSEAlgorithm: types.ServerSideEncryptionAes256},
		}},
	}}, nil
}

func (f *fakeS3) GetBucketPolicy(_ context.Context, _ *s3.GetBucketPolicyInput, _ ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error) {
	if f.policyErr != nil {
		return nil, f.policyErr
	}
	return &s3.GetBucketPolicyOutput{Policy: aws.String(`{"Version":"2012-10-17"}`)}, nil
}

func (f *fakeS3) GetBucketAccelerateConfiguration(_ context.Context, _ *s3.GetBucketAccelerateConfigurationInput, _ ...func(*s3.Options)) (*s3.GetBucketAccelerateConfigurationOutput, error) {
	return &s3.GetBucketAccelerateConfigurationOutput{}, nil
}

func (f *fakeS3) ListBucketAnalyticsConfigurations(_ context.Context, _ *s3.ListBucketAnalyticsConfigurationsInput, _ ...func(*s3.Options)) (*s3.ListBucketAnalyticsConfigurationsOutput, error) {
	if f.analyticsErr != nil {
		return nil, f.analyticsErr
	}
	return &s3.ListBucketAnalyticsConfigurationsOutput{AnalyticsConfigurationList: f.analytics}, nil
}

func (f *fakeS3) GetObjectLockConfiguration(_ context.Context, _ *s3.GetObjectLockConfigurationInput, _ ...func(*s3.Options)) (*s3.GetObjectLockConfigurationOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "ObjectLockConfigurationNotFoundError"}
}

func (f *fakeS3) GetBucketWebsite(_ context.Context, _ *s3.GetBucketWebsiteInput, _ ...func(*s3.Options)) (*s3.GetBucketWebsiteOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "NoSuchWebsiteConfiguration"}
}

func (f *fakeS3) GetBucketReplication(_ context.Context, _ *s3.GetBucketReplicationInput, _ ...func(*s3.Options)) (*s3.GetBucketReplicationOutput, error) {
	return &s3.GetBucketReplicationOutput{ReplicationConfiguration: &types.ReplicationConfiguration{
		Rules: []types.ReplicationRule{{
			ID:          aws.String("dr"),
			Status:      types.ReplicationRuleStatusEnabled,
			Destination: &types.Destination{Bucket: aws.String("arn:aws:s3:::logs-archive-dr")},
		}},
	}}, nil
}

func (f *fakeS3) GetBucketAcl(_ context.Context, _ *s3.GetBucketAclInput, _ ...func(*s3.Options)) (*s3.GetBucketAclOutput, error) {
	if f.aclErr != nil {
		return nil, f.aclErr
	}
	return &s3.GetBucketAclOutput{Grants: []types.Grant{
		{Grantee: &types.Grantee{DisplayName: aws.String("owner")}, Permission: types.PermissionFullControl},
		{Grantee: &types.Grantee{URI: aws.String("http://acs.amazonaws.com/groups/s3/LogDelivery")}, Permission: types.PermissionWrite},
		{Grantee: &types.Grantee{DisplayName: aws.String("auditor")}, Permission: types.PermissionFullControl},
	}}, nil
}

func newService(f *fakeS3) *s3svc.Service {
	svc := s3svc.NewS3Svc(f)
	svc.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc
}

func TestListBuckets(t *testing.T) {
	buckets, err := newService(&fakeS3{}).ListBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "logs-archive", buckets[0].Name)
	assert.Equal(t, 2020, buckets[0].CreationDate.Year())
	assert.True(t, buckets[1].CreationDate.IsZero())
}

func TestListObjectPages(t *testing.T) {
	lm := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &fakeS3{pages: []*s3.ListObjectsV2Output{
		{
			Contents: []types.Object{
				{Key: aws.String("data/a"), Size: aws.Int64(10), LastModified: &lm, StorageClass: types.ObjectStorageClassStandard},
				{Key: aws.String("data/b"), Size: aws.Int64(20), LastModified: &lm},
			},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("next"),
		},
		{
			Contents: []types.Object{
				{Key: aws.String("data/c"), Size: aws.Int64(30), LastModified: &lm, StorageClass: types.ObjectStorageClassGlacier},
			},
			IsTruncated: aws.Bool(false),
		},
	}}

	var pages [][]dto.S3Object
	err := newService(f).ListObjectPages(context.Background(), "logs-archive", "/data/", func(objects []dto.S3Object) error {
		pages = append(pages, objects)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Len(t, pages[0], 2)
	assert.Equal(t, "", pages[0][1].StorageClass)
	assert.Equal(t, "GLACIER", pages[1][0].StorageClass)
	assert.Equal(t, int64(30), pages[1][0].Size)

	first := f.listInputs[0]
	assert.Equal(t, "data/", aws.ToString(first.Prefix))
	assert.Equal(t, "data/", aws.ToString(first.StartAfter))
	assert.Equal(t, int32(s3svc.ListPageSize), aws.ToInt32(first.MaxKeys))
	assert.Equal(t, "next", aws.ToString(f.listInputs[1].ContinuationToken))
}

func TestListObjectPages_RootPrefixAndCallbackError(t *testing.T) {
	f := &fakeS3{pages: []*s3.ListObjectsV2Output{
		{Contents: []types.Object{{Key: aws.String("a"), Size: aws.Int64(1)}}, IsTruncated: aws.Bool(true), NextContinuationToken: aws.String("x")},
		{Contents: []types.Object{{Key: aws.String("b"), Size: aws.Int64(1)}}},
	}}
	stop := errors.New("stop")
	err := newService(f).ListObjectPages(context.Background(), "b", "/", func([]dto.S3Object) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
	require.Len(t, f.listInputs, 1)
	assert.Nil(t, f.listInputs[0].Prefix)
	assert.Nil(t, f.listInputs[0].StartAfter)
}

func TestBucketRegion(t *testing.T) {
	f := &fakeS3{location: "EU"}
	svc := newService(f)
	for range 3 {
		region, err := svc.BucketRegion(context.Background(), "legacy")
		require.NoError(t, err)
		assert.Equal(t, "eu-west-1", region)
	}
	assert.Equal(t, 1, f.locationCall)

	assert.Equal(t, "us-east-1", s3svc.NormalizeRegion(""))
	assert.Equal(t, "ap-south-1", s3svc.NormalizeRegion("ap-south-1"))
}

func TestGetObject(t *testing.T) {
	svc := newService(&fakeS3{objects: map[string]string{"manifest.json": "{}"}})
	body, err := svc.GetObject(context.Background(), "b", "manifest.json")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	_, err = svc.GetObject(context.Background(), "b", "missing")
	var nsk *types.NoSuchKey
	assert.ErrorAs(t, err, &nsk)
}

func TestRegionRouting(t *testing.T) {
	f := &fakeS3{location: "eu-central-1", objects: map[string]string{"k": "v"}}
	svc := newService(f)

	_, err := svc.GetObject(context.Background(), "b", "k")
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", f.getRegion, "client region without routing")
	assert.Zero(t, f.locationCall)

	svc.SetRegionRouting(true)
	_, err = svc.GetObject(context.Background(), "b", "k")
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", f.getRegion)
	assert.Equal(t, 1, f.locationCall)
}

func TestCopyRecords(t *testing.T) {
	events := make(chan types.SelectObjectContentEventStream, 4)
	events <- &types.SelectObjectContentEventStreamMemberRecords{Value: types.RecordsEvent{Payload: []byte("10,2024-01-01T00:00:00.000Z,STAN")}}
	events <- &types.SelectObjectContentEventStreamMemberStats{}
	events <- &types.SelectObjectContentEventStreamMemberRecords{Value: types.RecordsEvent{Payload: []byte("DARD\n")}}
	events <- &types.SelectObjectContentEventStreamMemberEnd{}
	close(events)

	var buf bytes.Buffer
	require.NoError(t, s3svc.CopyRecords(&buf, events))
	assert.Equal(t, "10,2024-01-01T00:00:00.000Z,STANDARD\n", buf.String())
}

func TestCopyRecords_Truncated(t *testing.T) {
	events := make(chan types.SelectObjectContentEventStream, 1)
	events <- &types.SelectObjectContentEventStreamMemberRecords{Value: types.RecordsEvent{Payload: []byte("1,x,STANDARD\n")}}
	close(events)

	err := s3svc.CopyRecords(io.Discard, events)
	assert.ErrorIs(t, err, s3svc.ErrSelectIncomplete)
}

func TestListInventoryConfigurations(t *testing.T) {
	f := &fakeS3{inventories: []*s3.ListBucketInventoryConfigurationsOutput{
		{
			InventoryConfigurationList: []types.InventoryConfiguration{{
				Id:                     aws.String("daily"),
				IsEnabled:              aws.Bool(true),
				IncludedObjectVersions: types.InventoryIncludedObjectVersionsCurrent,
				Destination: &types.InventoryDestination{S3BucketDestination: &types.InventoryS3BucketDestination{
					Bucket: aws.String("arn:aws:s3:::inventory-bucket"),
					Prefix: aws.String("reports"),
					Format: types.InventoryFormatCsv,
				}},
			}},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("t"),
		},
		{
			InventoryConfigurationList: []types.InventoryConfiguration{{Id: aws.String("weekly")}},
		},
	}}

	configs, err := newService(f).ListInventoryConfigurations(context.Background(), "logs-archive")
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, dto.InventoryConfig{
		ID:                "daily",
		Enabled:           true,
		DestinationBucket: "inventory-bucket",
		DestinationPrefix: "reports",
		Format:            "CSV",
		IncludedVersions:  "Current",
	}, configs[0])
	assert.Equal(t, "weekly", configs[1].ID)
	assert.False(t, configs[1].Enabled)
}

func TestPutInventoryConfiguration(t *testing.T) {
	f := &fakeS3{}
	cfg := s3svc.DefaultInventoryConfig("logs-archive")
	require.NoError(t, newService(f).PutInventoryConfiguration(context.Background(), "logs-archive", cfg))

	require.NotNil(t, f.putInventory)
	in := f.putInventory
	assert.Equal(t, "logs-archive-inventory", aws.ToString(in.Id))
	inv := in.InventoryConfiguration
	assert.True(t, aws.ToBool(inv.IsEnabled))
	assert.Equal(t, types.InventoryIncludedObjectVersionsAll, inv.IncludedObjectVersions)
	assert.Equal(t, types.InventoryFrequencyDaily, inv.Schedule.Frequency)
	assert.Equal(t, "arn:aws:s3:::logs-archive", aws.ToString(inv.Destination.S3BucketDestination.Bucket))
	assert.Equal(t, "inventory", aws.ToString(inv.Destination.S3BucketDestination.Prefix))
	assert.Equal(t, types.InventoryFormatCsv, inv.Destination.S3BucketDestination.Format)
	assert.Contains(t, inv.OptionalFields, types.InventoryOptionalFieldStorageClass)
	assert.Contains(t, inv.OptionalFields, types.InventoryOptionalFieldSize)
}

func TestBucketMetadata(t *testing.T) {
	f := &fakeS3{
		location:    "eu-west-3",
		policyErr:   &smithy.GenericAPIError{Code: "NoSuchBucketPolicy"},
		inventories: []*s3.ListBucketInventoryConfigurationsOutput{{}},
	}
	md, err := newService(f).BucketMetadata(context.Background(), "logs-archive")
	require.NoError(t, err)

	assert.Equal(t, "eu-west-3", md.LocationConstraint)
	assert.Equal(t, "Enabled", md.Versioning)
	assert.Equal(t, []string{"AES256"}, md.Encryption)
	assert.Equal(t, s3svc.Disabled, md.Policy)
	assert.Equal(t, s3svc.Disabled, md.Acceleration)
	assert.Equal(t, s3svc.Disabled, md.Analytics)
	assert.Equal(t, s3svc.Disabled, md.ObjectLock)
	assert.Nil(t, md.Website)
	assert.Equal(t, []dto.ReplicationRule{{ID: "dr", Status: "Enabled", Destination: "arn:aws:s3:::logs-archive-dr"}}, md.Replication)
	assert.Equal(t, []dto.Grant{
		{Permission: "FULL_CONTROL", Grantees: []string{"owner", "auditor"}},
		{Permission: "WRITE", Grantees: []string{"http://acs.amazonaws.com/groups/s3/LogDelivery"}},
	}, md.Grants)
}

func TestBucketMetadata_PartialFailure(t *testing.T) {
	f := &fakeS3{
		aclErr:      &smithy.GenericAPIError{Code: "AccessDenied"},
		inventories: []*s3.ListBucketInventoryConfigurationsOutput{{}},
	}
	md, err := newService(f).BucketMetadata(context.Background(), "logs-archive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acl of logs-archive")
	assert.Equal(t, "Enabled", md.Policy)
	assert.Nil(t, md.Grants)
}

func TestBucketMetadata_Analytics(t *testing.T) {
	f := &fakeS3{
		analytics:   []types.AnalyticsConfiguration{{Id: aws.String("class-analysis")}},
		inventories: []*s3.ListBucketInventoryConfigurationsOutput{{}},
	}
	md, err := newService(f).BucketMetadata(context.Background(), "logs-archive")
	require.NoError(t, err)
	assert.Equal(t, "Enabled", md.Analytics)
}

func TestBucketMetadata_CollectsEveryFailure(t *testing.T) {
	f := &fakeS3{
		policyErr:    &smithy.GenericAPIError{Code: "AccessDenied"},
		aclErr:       &smithy.GenericAPIError{Code: "AccessDenied"},
		analyticsErr: &smithy.GenericAPIError{Code: "AccessDenied"},
		inventories:  []*s3.ListBucketInventoryConfigurationsOutput{{}},
	}
	md, err := newService(f).BucketMetadata(context.Background(), "logs-archive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 error(s)")
	assert.Contains(t, err.Error(), "policy of logs-archive")
	assert.Contains(t, err.Error(), "analytics of logs-archive")
	assert.Contains(t, err.Error(), "acl of logs-archive")
	assert.Equal(t, s3svc.Disabled, md.Policy)
	assert.Equal(t, s3svc.Disabled, md.Analytics)
	assert.Equal(t, "Enabled", md.Versioning)
}

func TestIsNotConfigured(t *testing.T) {
	assert.True(t, s3svc.IsNotConfigured(&smithy.GenericAPIError{Code: "NoSuchBucketPolicy"}))
	assert.False(t, s3svc.IsNotConfigured(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, s3svc.IsNotConfigured(errors.New("boom")))
	assert.False(t, s3svc.IsNotConfigured(nil))
}
