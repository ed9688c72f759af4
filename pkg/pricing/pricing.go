// Package pricing resolves the tiered monthly storage prices of S3 storage
// classes from the AWS Price List API.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/fishy/rowlock"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
)

const (
	// DefaultEndpointRegion is the region hosting the Price List API.
	DefaultEndpointRegion = "us-east-1"

	serviceCode     = "AmazonS3"
	currency        = "USD"
	productsPerPage = 100
)

// ErrNoParameterStore is returned when region names cannot be looked up
// because no SSM client was configured.
var ErrNoParameterStore = errors.New("no parameter store client")

// volumeTypes maps storage classes to the price list volumeType attribute.
var volumeTypes = map[dto.StorageClass]string{
	dto.StorageStandard:           "Standard",
	dto.StorageStandardIA:         "Standard - Infrequent Access",
	dto.StorageOneZoneIA:          "One Zone - Infrequent Access",
	dto.StorageReducedRedundancy:  "Reduced Redundancy",
	dto.StorageGlacier:            "Amazon Glacier",
	dto.StorageGlacierIR:          "Glacier Instant Retrieval",
	dto.StorageDeepArchive:        "Glacier Deep Archive",
	dto.StorageIntelligentTiering: "Intelligent-Tiering Frequent Access",
}

// VolumeType returns the price list volume type of a storage class.
func VolumeType(class dto.StorageClass) (string, bool) {
	v, ok := volumeTypes[class]
	return v, ok
}

type tierKey struct {
	region string
	class  dto.StorageClass
}

// Provider looks up pricing tiers and keeps them for the process lifetime.
// Concurrent callers asking for the same (region, class) wait for a single
// fetch.
type Provider struct {
	products pricing.GetProductsAPIClient
	ssm      ParameterAPI
	log      *slog.Logger

	mu          sync.RWMutex
	tiers       map[tierKey][]dto.PricingTier
	locks       *rowlock.RowLock
	regionNames sync.Map
}

// NewProvider creates a provider. ssmClient may be nil, in which case region
// names only come from the static table.
func NewProvider(products pricing.GetProductsAPIClient, ssmClient ParameterAPI) *Provider {
	return &Provider{
		products: products,
		ssm:      ssmClient,
		log:      slog.New(slog.DiscardHandler),
		tiers:    make(map[tierKey][]dto.PricingTier),
		locks:    rowlock.NewRowLock(rowlock.MutexNewLocker),
	}
}

// NewFromConfig builds a provider using AWS clients. The price list is only
// served from a few regions, hence the separate endpoint region.
func NewFromConfig(cfg aws.Config, endpointRegion string) *Provider {
	if endpointRegion == "" {
		endpointRegion = DefaultEndpointRegion
	}
	pricingCfg := cfg.Copy()
	pricingCfg.Region = endpointRegion
	return NewProvider(pricing.NewFromConfig(pricingCfg), ssm.NewFromConfig(pricingCfg))
}

// SetLogger sets the logger
func (p *Provider) SetLogger(log *slog.Logger) {
	p.log = log
}

// Tiers returns the pricing tiers of class in region. Unknown storage classes,
// unknown regions and products missing from the catalog yield an empty list
// and no error.
func (p *Provider) Tiers(ctx context.Context, region string, class dto.StorageClass) ([]dto.PricingTier, error) {
	volume, ok := VolumeType(class)
	if !ok {
		p.log.Debug("No volume type for storage class", slog.String("storageClass", string(class)))
		return nil, nil
	}

	key := tierKey{region: region, class: class}
	if tiers, ok := p.cached(key); ok {
		return tiers, nil
	}

	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	if tiers, ok := p.cached(key); ok {
		return tiers, nil
	}

	tiers, err := p.fetch(ctx, region, volume)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.tiers[key] = tiers
	p.mu.Unlock()
	return tiers, nil
}

func (p *Provider) cached(key tierKey) ([]dto.PricingTier, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tiers, ok := p.tiers[key]
	return tiers, ok
}

// fetch returns the tiers of the first product matching the location and
// volume type.
func (p *Provider) fetch(ctx context.Context, region, volume string) ([]dto.PricingTier, error) {
	location := p.RegionName(ctx, region)
	if location == "" {
		p.log.Warn("Unknown region, no pricing available", slog.String("region", region))
		return nil, nil
	}

	p.log.Debug("Loading pricing",
		slog.String("location", location),
		slog.String("volumeType", volume))

	paginator := pricing.NewGetProductsPaginator(p.products, &pricing.GetProductsInput{
		ServiceCode: aws.String(serviceCode),
		Filters: []types.Filter{
			{Type: types.FilterTypeTermMatch, Field: aws.String("location"), Value: aws.String(location)},
			{Type: types.FilterTypeTermMatch, Field: aws.String("volumeType"), Value: aws.String(volume)},
		},
	}, func(o *pricing.GetProductsPaginatorOptions) {
		o.Limit = productsPerPage
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get products for %s/%s: %w", location, volume, err)
		}
		if len(page.PriceList) == 0 {
			continue
		}
		return ParsePriceList(page.PriceList[0], currency)
	}
	return nil, nil
}
