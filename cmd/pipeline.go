package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sgaunet/s3bucketstats/pkg/analyzer"
	"github.com/sgaunet/s3bucketstats/pkg/cache"
	"github.com/sgaunet/s3bucketstats/pkg/config"
	"github.com/sgaunet/s3bucketstats/pkg/cost"
	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/inventory"
	"github.com/sgaunet/s3bucketstats/pkg/orchestrator"
	"github.com/sgaunet/s3bucketstats/pkg/pricing"
	"github.com/sgaunet/s3bucketstats/pkg/resolver"
	"github.com/sgaunet/s3bucketstats/pkg/s3svc"
	"github.com/sgaunet/s3bucketstats/pkg/scanner"
)

// pipeline holds the services of one process.
type pipeline struct {
	s3       *s3svc.Service
	resolver *resolver.Resolver
	scanner  *scanner.Service
}

func newPipeline(ctx context.Context, cfg config.Config, log *slog.Logger) (*pipeline, error) {
	awsCfg, err := s3svc.LoadAwsConfig(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	svc := s3svc.NewS3Svc(s3svc.NewClient(awsCfg, cfg))
	svc.SetLogger(log)
	// custom endpoints usually ignore regions
	svc.SetRegionRouting(cfg.S3endpoint == "")

	res := resolver.New(resolver.Options{
		Prefix:       cfg.Prefix,
		UseCache:     cfg.Cache.Enabled,
		RefreshCache: cfg.Cache.Refresh,
		UseInventory: cfg.Inventory.Enabled,
		Provision:    cfg.Inventory.Provision,
		LowMemory:    cfg.LowMemory,
	}, svc)
	res.SetLogger(log)
	if cfg.Cache.Enabled {
		store := cache.NewStore(cfg.Cache.Dir)
		store.SetLogger(log)
		res.SetCache(store)
	}
	if cfg.Inventory.Enabled {
		reader := inventory.NewReader(svc, cfg.Inventory.S3Select)
		reader.SetLogger(log)
		res.SetInventory(reader)
	}
	if cfg.Inventory.Provision {
		res.SetProvisioner(svc, s3svc.DefaultInventoryConfig)
	}

	prices := pricing.NewFromConfig(awsCfg, cfg.Pricing.Region)
	prices.SetLogger(log)
	estimator := cost.NewEstimator(prices)
	estimator.SetLogger(log)

	an := analyzer.New(res, estimator, svc)
	an.SetLogger(log)

	strategy, err := orchestrator.ParseMode(cfg.Concurrency.Mode, cfg.Concurrency.MaxWorkers)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	orch := orchestrator.New(an, strategy)
	orch.SetLogger(log)
	orch.OnReport(func(r dto.BucketReport) {
		attrs := []any{
			slog.String("bucket", r.Name),
			slog.String("source", string(r.Source.Kind)),
			slog.Duration("duration", r.ProcessingDuration),
		}
		if r.Error != "" {
			log.Warn("Bucket failed", append(attrs, slog.String("error", r.Error))...)
			return
		}
		log.Info("Bucket analyzed", attrs...)
	})

	sc := scanner.NewService(cfg, svc, orch)
	sc.SetLogger(log)

	return &pipeline{s3: svc, resolver: res, scanner: sc}, nil
}
