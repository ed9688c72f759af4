package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ParameterAPI is the subset of the SSM client used to resolve region names.
type ParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// staticRegionNames is used when the SSM global infrastructure parameters
// cannot be read.
var staticRegionNames = map[string]string{
	"af-south-1":     "Africa (Cape Town)",
	"ap-east-1":      "Asia Pacific (Hong Kong)",
	"ap-northeast-1": "Asia Pacific (Tokyo)",
	"ap-northeast-2": "Asia Pacific (Seoul)",
	"ap-northeast-3": "Asia Pacific (Osaka)",
	"ap-south-1":     "Asia Pacific (Mumbai)",
	"ap-southeast-1": "Asia Pacific (Singapore)",
	"ap-southeast-2": "Asia Pacific (Sydney)",
	"ca-central-1":   "Canada (Central)",
	"eu-central-1":   "EU (Frankfurt)",
	"eu-north-1":     "EU (Stockholm)",
	"eu-south-1":     "EU (Milan)",
	"eu-west-1":      "EU (Ireland)",
	"eu-west-2":      "EU (London)",
	"eu-west-3":      "EU (Paris)",
	"me-south-1":     "Middle East (Bahrain)",
	"sa-east-1":      "South America (Sao Paulo)",
	"us-east-1":      "US East (N. Virginia)",
	"us-east-2":      "US East (Ohio)",
	"us-west-1":      "US West (N. California)",
	"us-west-2":      "US West (Oregon)",
}

// StaticRegionName returns the pricing location of a region code from the
// built-in table.
func StaticRegionName(code string) (string, bool) {
	name, ok := staticRegionNames[code]
	return name, ok
}

// RegionName resolves the human readable location used by the price list
// for a region code. It asks SSM first so that new regions are picked up,
// and falls back to the static table. An unknown region yields "".
func (p *Provider) RegionName(ctx context.Context, code string) string {
	if v, ok := p.regionNames.Load(code); ok {
		return v.(string)
	}

	name, err := p.lookupRegionName(ctx, code)
	if err != nil {
		p.log.Debug("Region name lookup failed, using static table",
			slog.String("region", code),
			slog.String("error", err.Error()))
		name, _ = StaticRegionName(code)
	}
	p.regionNames.Store(code, name)
	return name
}

func (p *Provider) lookupRegionName(ctx context.Context, code string) (string, error) {
	if p.ssm == nil {
		return "", ErrNoParameterStore
	}
	out, err := p.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(fmt.Sprintf("/aws/service/global-infrastructure/regions/%s/longName", code)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get region long name: %w", err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("empty long name for region %s", code)
	}
	// the price list still names european locations "EU (...)"
	name := aws.ToString(out.Parameter.Value)
	if rest, ok := strings.CutPrefix(name, "Europe ("); ok {
		name = "EU (" + rest
	}
	return name, nil
}
