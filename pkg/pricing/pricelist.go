package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
)

// priceList is the part of an AWS Price List product document we read.
type priceList struct {
	Product struct {
		SKU        string            `json:"sku"`
		Attributes map[string]string `json:"attributes"`
	} `json:"product"`
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]priceDimension `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

type priceDimension struct {
	BeginRange   string            `json:"beginRange"`
	EndRange     string            `json:"endRange"`
	Unit         string            `json:"unit"`
	PricePerUnit map[string]string `json:"pricePerUnit"`
}

// ParsePriceList extracts the on-demand tiers of a price list document,
// sorted by their beginning of range.
func ParsePriceList(doc string, currency string) ([]dto.PricingTier, error) {
	var pl priceList
	if err := json.Unmarshal([]byte(doc), &pl); err != nil {
		return nil, fmt.Errorf("failed to parse price list: %w", err)
	}

	var tiers []dto.PricingTier
	for _, term := range pl.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			tier, err := dim.tier(currency)
			if err != nil {
				return nil, err
			}
			tiers = append(tiers, tier)
		}
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].BeginRangeGB < tiers[j].BeginRangeGB
	})
	return tiers, nil
}

func (d priceDimension) tier(currency string) (dto.PricingTier, error) {
	begin, err := strconv.ParseFloat(d.BeginRange, 64)
	if err != nil {
		return dto.PricingTier{}, fmt.Errorf("invalid beginRange %q: %w", d.BeginRange, err)
	}

	end := math.Inf(1)
	if !strings.EqualFold(d.EndRange, "Inf") {
		end, err = strconv.ParseFloat(d.EndRange, 64)
		if err != nil {
			return dto.PricingTier{}, fmt.Errorf("invalid endRange %q: %w", d.EndRange, err)
		}
	}

	raw, ok := d.PricePerUnit[currency]
	if !ok {
		return dto.PricingTier{}, fmt.Errorf("no %s price in dimension", currency)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return dto.PricingTier{}, fmt.Errorf("invalid price %q: %w", raw, err)
	}

	return dto.PricingTier{BeginRangeGB: begin, EndRangeGB: end, PricePerGB: price}, nil
}
