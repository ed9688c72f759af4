package dto

import (
	"encoding/json"
	"math"
	"time"
)

// BucketSummaryRow is the canonical per storage class aggregate of a bucket.
type BucketSummaryRow struct {
	StorageClass StorageClass `json:"storageClass"`
	ObjectCount  uint64       `json:"objectCount"`
	TotalBytes   uint64       `json:"totalBytes"`
	LastModified time.Time    `json:"lastModified"`
}

// PricingTier is one priced volume range, in GB, of a storage class.
// EndRangeGB is +Inf for the open-ended last tier.
type PricingTier struct {
	BeginRangeGB float64
	EndRangeGB   float64
	PricePerGB   float64
}

// OpenEnded reports whether the tier absorbs any remaining volume.
func (t PricingTier) OpenEnded() bool {
	return math.IsInf(t.EndRangeGB, 1)
}

// Capacity returns the volume, in GB, billed at this tier's price.
func (t PricingTier) Capacity() float64 {
	if t.OpenEnded() {
		return math.Inf(1)
	}
	return t.EndRangeGB - t.BeginRangeGB
}

// SourceKind identifies where the statistics of a bucket came from.
type SourceKind string

const (
	// SourceNone means no source produced rows (resolution failed).
	SourceNone SourceKind = "none"
	// SourceLocalCache is a local per bucket snapshot file.
	SourceLocalCache SourceKind = "cache"
	// SourceInventory is a server-side S3 Inventory report.
	SourceInventory SourceKind = "inventory"
	// SourceLiveListing is a full ListObjectsV2 enumeration.
	SourceLiveListing SourceKind = "list"
)

// DataSource is the source used for a bucket. Location holds the cache file
// path or the manifest location, and is empty for live listings.
type DataSource struct {
	Kind     SourceKind `json:"kind"`
	Location string     `json:"location,omitempty"`
}

// CostedRow is a summary row with its estimated monthly cost.
// Priced is false when no pricing tier covers the storage class.
type CostedRow struct {
	BucketSummaryRow
	EstimatedCost float64 `json:"estimatedCost"`
	Priced        bool    `json:"priced"`
}

// BucketReport is the analysis result of a single bucket.
type BucketReport struct {
	Name               string         `json:"name"`
	CreationDate       time.Time      `json:"creationDate"`
	Region             string         `json:"region"`
	Source             DataSource     `json:"source"`
	Rows               []CostedRow    `json:"rows"`
	TotalObjects       uint64         `json:"totalObjects"`
	TotalBytes         uint64         `json:"totalBytes"`
	TotalCost          float64        `json:"totalCost"`
	CostAvailable      bool           `json:"costAvailable"`
	LastModified       time.Time      `json:"lastModified"`
	Metadata           BucketMetadata `json:"metadata"`
	Error              string         `json:"error,omitempty"`
	ProcessingDuration time.Duration  `json:"processingDuration"`
}

// BucketMetadata holds slow changing bucket level settings.
type BucketMetadata struct {
	LocationConstraint string            `json:"locationConstraint"`
	Versioning         string            `json:"versioning"`
	Encryption         []string          `json:"encryption,omitempty"`
	Policy             string            `json:"policy"`
	Acceleration       string            `json:"acceleration"`
	Analytics          string            `json:"analytics"`
	ObjectLock         string            `json:"objectLock"`
	Website            *WebsiteConfig    `json:"website,omitempty"`
	Replication        []ReplicationRule `json:"replication,omitempty"`
	Grants             []Grant           `json:"grants,omitempty"`
	Inventory          []InventoryConfig `json:"inventory,omitempty"`
}

// WebsiteConfig is the static website configuration of a bucket.
type WebsiteConfig struct {
	IndexDocument string `json:"indexDocument,omitempty"`
	ErrorDocument string `json:"errorDocument,omitempty"`
}

// ReplicationRule is one replication rule of a bucket.
type ReplicationRule struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Destination string `json:"destination"`
}

// Grant groups ACL grantees by permission.
type Grant struct {
	Permission string   `json:"permission"`
	Grantees   []string `json:"grantees"`
}

const costScale = 1_000_000

// GrandTotals accumulates all bucket reports of a run.
// Cost is summed in micro units so the result does not depend on fold order.
type GrandTotals struct {
	TotalBuckets int
	TotalObjects uint64
	TotalBytes   uint64
	costMicros   int64
}

// Add folds a bucket report into the totals.
func (g *GrandTotals) Add(r BucketReport) {
	g.TotalBuckets++
	g.TotalObjects += r.TotalObjects
	g.TotalBytes += r.TotalBytes
	g.costMicros += int64(math.Round(r.TotalCost * costScale))
}

// TotalCost returns the summed estimated cost.
func (g GrandTotals) TotalCost() float64 {
	return float64(g.costMicros) / costScale
}

// MarshalJSON includes the derived total cost.
func (g GrandTotals) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TotalBuckets int     `json:"totalBuckets"`
		TotalObjects uint64  `json:"totalObjects"`
		TotalBytes   uint64  `json:"totalBytes"`
		TotalCost    float64 `json:"totalCost"`
	}{g.TotalBuckets, g.TotalObjects, g.TotalBytes, g.TotalCost()})
}
