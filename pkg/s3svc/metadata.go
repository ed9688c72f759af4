package s3svc

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/fishy/errbatch"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
)

// Disabled is reported for bucket settings that are not configured.
const Disabled = "Disabled"

const enabled = "Enabled"

// notConfiguredCodes are the error codes S3 answers with when a bucket
// simply has no such configuration.
var notConfiguredCodes = map[string]bool{
	"NoSuchBucketPolicy":                             true,
	"NoSuchWebsiteConfiguration":                     true,
	"ObjectLockConfigurationNotFoundError":           true,
	"ReplicationConfigurationNotFoundError":          true,
	"ServerSideEncryptionConfigurationNotFoundError": true,
	"NoSuchConfiguration":                            true,
}

// IsNotConfigured reports whether err means the requested bucket setting is absent.
func IsNotConfigured(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && notConfiguredCodes[ae.ErrorCode()]
}

// BucketMetadata collects the configuration of a bucket. Every lookup is
// attempted; settings that cannot be read are reported as Disabled and the
// failures, if any, are returned together with the partial metadata.
func (s *Service) BucketMetadata(ctx context.Context, bucket string) (dto.BucketMetadata, error) {
	md := dto.BucketMetadata{
		Versioning:   Disabled,
		Policy:       Disabled,
		Acceleration: Disabled,
		Analytics:    Disabled,
		ObjectLock:   Disabled,
	}
	name := aws.String(bucket)
	opts := s.bucketOptions(ctx, bucket)
	var batch errbatch.ErrBatch
	record := func(what string, err error) {
		if err != nil && !IsNotConfigured(err) {
			batch.Add(fmt.Errorf("%s of %s: %w", what, bucket, err))
		}
	}

	if out, err := s.client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: name}); err == nil {
		md.LocationConstraint = string(out.LocationConstraint)
	} else {
		record("location", err)
	}

	if out, err := s.client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: name}, opts...); err == nil {
		if out.Status != "" {
			md.Versioning = string(out.Status)
		}
	} else {
		record("versioning", err)
	}

	if out, err := s.client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: name}, opts...); err == nil {
		md.Encryption = encryptionAlgorithms(out.ServerSideEncryptionConfiguration)
	} else {
		record("encryption", err)
	}

	if out, err := s.client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: name}, opts...); err == nil {
		if aws.ToString(out.Policy) != "" {
			md.Policy = enabled
		}
	} else {
		record("policy", err)
	}

	if out, err := s.client.GetBucketAccelerateConfiguration(ctx, &s3.GetBucketAccelerateConfigurationInput{Bucket: name}, opts...); err == nil {
		if out.Status != "" {
			md.Acceleration = string(out.Status)
		}
	} else {
		record("acceleration", err)
	}

	if out, err := s.client.ListBucketAnalyticsConfigurations(ctx, &s3.ListBucketAnalyticsConfigurationsInput{Bucket: name}, opts...); err == nil {
		if len(out.AnalyticsConfigurationList) > 0 {
			md.Analytics = enabled
		}
	} else {
		record("analytics", err)
	}

	if out, err := s.client.GetObjectLockConfiguration(ctx, &s3.GetObjectLockConfigurationInput{Bucket: name}, opts...); err == nil {
		if out.ObjectLockConfiguration != nil && out.ObjectLockConfiguration.ObjectLockEnabled != "" {
			md.ObjectLock = string(out.ObjectLockConfiguration.ObjectLockEnabled)
		}
	} else {
		record("object lock", err)
	}

	if out, err := s.client.GetBucketWebsite(ctx, &s3.GetBucketWebsiteInput{Bucket: name}, opts...); err == nil {
		md.Website = &dto.WebsiteConfig{}
		if out.IndexDocument != nil {
			md.Website.IndexDocument = aws.ToString(out.IndexDocument.Suffix)
		}
		if out.ErrorDocument != nil {
			md.Website.ErrorDocument = aws.ToString(out.ErrorDocument.Key)
		}
	} else {
		record("website", err)
	}

	if out, err := s.client.GetBucketReplication(ctx, &s3.GetBucketReplicationInput{Bucket: name}, opts...); err == nil {
		md.Replication = replicationRules(out.ReplicationConfiguration)
	} else {
		record("replication", err)
	}

	if out, err := s.client.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: name}, opts...); err == nil {
		md.Grants = groupGrants(out.Grants)
	} else {
		record("acl", err)
	}

	inventories, err := s.ListInventoryConfigurations(ctx, bucket)
	record("inventory", err)
	md.Inventory = inventories

	return md, batch.Compile()
}

func encryptionAlgorithms(cfg *types.ServerSideEncryptionConfiguration) []string {
	if cfg == nil {
		return nil
	}
	var algorithms []string
	for _, rule := range cfg.Rules {
		if rule.ApplyServerSideEncryptionByDefault != nil {
			algorithms = append(algorithms, string(rule.ApplyServerSideEncryptionByDefault.SSEAlgorithm))
		}
	}
	return algorithms
}

func replicationRules(cfg *types.ReplicationConfiguration) []dto.ReplicationRule {
	if cfg == nil {
		return nil
	}
	rules := make([]dto.ReplicationRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rule := dto.ReplicationRule{
			ID:     aws.ToString(r.ID),
			Status: string(r.Status),
		}
		if r.Destination != nil {
			rule.Destination = aws.ToString(r.Destination.Bucket)
		}
		rules = append(rules, rule)
	}
	return rules
}

// groupGrants groups ACL grantees by permission, using the display name or
// the group URI of each grantee.
func groupGrants(grants []types.Grant) []dto.Grant {
	byPermission := map[string][]string{}
	for _, g := range grants {
		if g.Grantee == nil {
			continue
		}
		grantee := aws.ToString(g.Grantee.DisplayName)
		if grantee == "" {
			grantee = aws.ToString(g.Grantee.URI)
		}
		if grantee == "" {
			grantee = aws.ToString(g.Grantee.ID)
		}
		perm := string(g.Permission)
		byPermission[perm] = append(byPermission[perm], grantee)
	}

	result := make([]dto.Grant, 0, len(byPermission))
	for perm, grantees := range byPermission {
		result = append(result, dto.Grant{Permission: perm, Grantees: grantees})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Permission < result[j].Permission
	})
	return result
}
