// Package analyzer builds the report of a single bucket: where its
// statistics came from, its per storage class rows with estimated monthly
// cost, and its configuration.
package analyzer

import (
	"context"
	"log/slog"
	"time"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/normalize"
	"github.com/sgaunet/s3bucketstats/pkg/resolver"
)

// Resolver provides the summary rows of a bucket.
type Resolver interface {
	Resolve(ctx context.Context, bucket string) (resolver.Resolution, error)
}

// Estimator prices a volume of a storage class in a region.
type Estimator interface {
	Estimate(ctx context.Context, bytes uint64, region string, class dto.StorageClass) (float64, bool)
}

// BucketInfo looks up bucket level information.
type BucketInfo interface {
	BucketRegion(ctx context.Context, bucket string) (string, error)
	BucketMetadata(ctx context.Context, bucket string) (dto.BucketMetadata, error)
}

// Analyzer produces bucket reports. It is safe for concurrent use when its
// dependencies are.
type Analyzer struct {
	resolver  Resolver
	estimator Estimator
	info      BucketInfo
	metadata  bool
	log       *slog.Logger
}

// New returns an analyzer collecting bucket metadata.
func New(res Resolver, est Estimator, info BucketInfo) *Analyzer {
	return &Analyzer{
		resolver:  res,
		estimator: est,
		info:      info,
		metadata:  true,
		log:       slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger
func (a *Analyzer) SetLogger(log *slog.Logger) {
	a.log = log
}

// SetMetadata turns bucket metadata collection on or off.
func (a *Analyzer) SetMetadata(enabled bool) {
	a.metadata = enabled
}

// Analyze never fails: a bucket that cannot be analyzed gets a report
// without rows and with Error set.
func (a *Analyzer) Analyze(ctx context.Context, bucket dto.Bucket) (report dto.BucketReport) {
	start := time.Now()
	report = dto.BucketReport{
		Name:         bucket.Name,
		CreationDate: bucket.CreationDate,
		Source:       dto.DataSource{Kind: dto.SourceNone},
	}
	defer func() {
		report.ProcessingDuration = time.Since(start)
	}()

	region, err := a.info.BucketRegion(ctx, bucket.Name)
	if err != nil {
		a.fail(&report, err)
		return report
	}
	report.Region = region

	res, err := a.resolver.Resolve(ctx, bucket.Name)
	if err != nil {
		a.fail(&report, err)
	} else {
		report.Source = res.Source
		a.price(ctx, &report, res.Rows)
	}

	if a.metadata {
		md, err := a.info.BucketMetadata(ctx, bucket.Name)
		if err != nil {
			a.log.Debug("Some metadata lookups failed",
				slog.String("bucket", bucket.Name),
				slog.String("error", err.Error()))
		}
		report.Metadata = md
	}

	a.log.Debug("Bucket analyzed",
		slog.String("bucket", bucket.Name),
		slog.String("source", string(report.Source.Kind)),
		slog.Duration("duration", time.Since(start)))
	return report
}

func (a *Analyzer) price(ctx context.Context, report *dto.BucketReport, rows []dto.BucketSummaryRow) {
	report.Rows = make([]dto.CostedRow, 0, len(rows))
	for _, row := range rows {
		cost, priced := a.estimator.Estimate(ctx, row.TotalBytes, report.Region, row.StorageClass)
		report.Rows = append(report.Rows, dto.CostedRow{
			BucketSummaryRow: row,
			EstimatedCost:    cost,
			Priced:           priced,
		})
		report.TotalCost += cost
		report.CostAvailable = report.CostAvailable || priced
	}
	report.TotalObjects, report.TotalBytes, report.LastModified = normalize.Totals(rows)
}

func (a *Analyzer) fail(report *dto.BucketReport, err error) {
	a.log.Warn("Bucket analysis failed",
		slog.String("bucket", report.Name),
		slog.String("error", err.Error()))
	report.Error = err.Error()
}
