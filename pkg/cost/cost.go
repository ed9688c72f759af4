// Package cost estimates the monthly storage cost of a volume of bytes
// against tiered prices.
package cost

import (
	"context"
	"log/slog"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
)

// BytesPerGB is the unit used to convert byte sizes to priced volume.
const BytesPerGB = 1e9

// TierProvider resolves the pricing tiers of a storage class in a region.
type TierProvider interface {
	Tiers(ctx context.Context, region string, class dto.StorageClass) ([]dto.PricingTier, error)
}

// Estimate walks the tiers, sorted by BeginRangeGB, charging each tier for
// the part of the volume it covers. Volume beyond the last tier is not
// charged when no tier is open-ended.
func Estimate(bytes uint64, tiers []dto.PricingTier) float64 {
	remaining := float64(bytes) / BytesPerGB
	var total float64
	for _, tier := range tiers {
		if remaining <= 0 {
			break
		}
		capacity := tier.Capacity()
		if remaining <= capacity {
			total += remaining * tier.PricePerGB
			return total
		}
		total += capacity * tier.PricePerGB
		remaining -= capacity
	}
	return total
}

// Estimator combines a TierProvider with Estimate.
type Estimator struct {
	tiers TierProvider
	log   *slog.Logger
}

// NewEstimator creates an estimator backed by the given provider.
func NewEstimator(tiers TierProvider) *Estimator {
	return &Estimator{
		tiers: tiers,
		log:   slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger
func (e *Estimator) SetLogger(log *slog.Logger) {
	e.log = log
}

// Estimate returns the cost of bytes stored in class within region.
// priced is false when no pricing data exists; the cost is then zero.
func (e *Estimator) Estimate(ctx context.Context, bytes uint64, region string, class dto.StorageClass) (cost float64, priced bool) {
	tiers, err := e.tiers.Tiers(ctx, region, class)
	if err != nil {
		e.log.Warn("Pricing unavailable",
			slog.String("region", region),
			slog.String("storageClass", string(class)),
			slog.String("error", err.Error()))
		return 0, false
	}
	if len(tiers) == 0 {
		return 0, false
	}
	return Estimate(bytes, tiers), true
}
