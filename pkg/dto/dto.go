// Package dto provides the data shapes shared by the bucket statistics pipeline.
package dto

import (
	"strings"
	"time"
)

// StorageClass is an S3 storage class as reported by listings and inventories.
type StorageClass string

// Known storage classes. Any other value read from a source is kept verbatim.
const (
	StorageStandard           StorageClass = "STANDARD"
	StorageStandardIA         StorageClass = "STANDARD_IA"
	StorageOneZoneIA          StorageClass = "ONEZONE_IA"
	StorageReducedRedundancy  StorageClass = "REDUCED_REDUNDANCY"
	StorageGlacier            StorageClass = "GLACIER"
	StorageGlacierIR          StorageClass = "GLACIER_IR"
	StorageDeepArchive        StorageClass = "DEEP_ARCHIVE"
	StorageIntelligentTiering StorageClass = "INTELLIGENT_TIERING"
)

// ParseStorageClass converts a raw storage class value.
// S3 compatible stores sometimes omit the class, which means STANDARD.
func ParseStorageClass(s string) StorageClass {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return StorageStandard
	}
	return StorageClass(s)
}

// S3Object is the structure to store the S3 object metadata.
type S3Object struct {
	Key          string    `json:"key"`
	ETag         string    `json:"etag"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastmodified"`
	StorageClass string    `json:"storageclass"`
}

// Bucket represents an S3 bucket.
type Bucket struct {
	Name         string    `json:"name"`
	CreationDate time.Time `json:"creationDate"`
}

// InventoryConfig describes one S3 Inventory configuration of a bucket.
type InventoryConfig struct {
	ID                string `json:"id"`
	Enabled           bool   `json:"enabled"`
	DestinationBucket string `json:"destinationBucket"`
	DestinationPrefix string `json:"destinationPrefix,omitempty"`
	Format            string `json:"format"`
	IncludedVersions  string `json:"includedVersions"`
}
