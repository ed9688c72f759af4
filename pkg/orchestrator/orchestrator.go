// Package orchestrator analyzes a list of buckets with a configurable
// concurrency strategy and folds the reports into grand totals.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sgaunet/s3bucketstats/pkg/config"
	"github.com/sgaunet/s3bucketstats/pkg/dto"
)

// Analyzer produces the report of one bucket. It must not fail.
type Analyzer interface {
	Analyze(ctx context.Context, bucket dto.Bucket) dto.BucketReport
}

// AnalyzeFunc adapts a function to Analyzer.
type AnalyzeFunc func(ctx context.Context, bucket dto.Bucket) dto.BucketReport

// Analyze implements Analyzer.
func (f AnalyzeFunc) Analyze(ctx context.Context, bucket dto.Bucket) dto.BucketReport {
	return f(ctx, bucket)
}

// Strategy decides how bucket analyses are scheduled. Dispatch returns once
// every report has been sent to out.
type Strategy interface {
	Dispatch(ctx context.Context, buckets []dto.Bucket, a Analyzer, out chan<- dto.BucketReport)
	String() string
}

// Sequential analyzes buckets one after the other, in input order.
type Sequential struct{}

// Dispatch implements Strategy.
func (Sequential) Dispatch(ctx context.Context, buckets []dto.Bucket, a Analyzer, out chan<- dto.BucketReport) {
	for _, b := range buckets {
		out <- a.Analyze(ctx, b)
	}
}

func (Sequential) String() string { return config.ModeSequential }

// PerBucket starts one worker per bucket.
type PerBucket struct{}

// Dispatch implements Strategy.
func (PerBucket) Dispatch(ctx context.Context, buckets []dto.Bucket, a Analyzer, out chan<- dto.BucketReport) {
	dispatch(ctx, buckets, a, out, -1)
}

func (PerBucket) String() string { return config.ModePerBucket }

// Pool runs at most Workers analyses at a time.
type Pool struct {
	Workers int
}

// Dispatch implements Strategy.
func (p Pool) Dispatch(ctx context.Context, buckets []dto.Bucket, a Analyzer, out chan<- dto.BucketReport) {
	dispatch(ctx, buckets, a, out, max(p.Workers, 1))
}

func (p Pool) String() string { return fmt.Sprintf("%s(%d)", config.ModePool, p.Workers) }

func dispatch(ctx context.Context, buckets []dto.Bucket, a Analyzer, out chan<- dto.BucketReport, limit int) {
	var g errgroup.Group
	g.SetLimit(limit)
	for _, b := range buckets {
		g.Go(func() error {
			out <- a.Analyze(ctx, b)
			return nil
		})
	}
	_ = g.Wait()
}

// ParseMode returns the strategy of a concurrency mode.
func ParseMode(mode string, workers int) (Strategy, error) {
	switch mode {
	case config.ModeSequential:
		return Sequential{}, nil
	case config.ModePerBucket:
		return PerBucket{}, nil
	case config.ModePool:
		if workers < 1 {
			return nil, fmt.Errorf("%w: %d", config.ErrInvalidWorkers, workers)
		}
		return Pool{Workers: workers}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidMode, mode)
	}
}

// Result is the outcome of a run. Reports are in completion order, which is
// the input order for Sequential.
type Result struct {
	Reports  []dto.BucketReport `json:"buckets"`
	Totals   dto.GrandTotals    `json:"totals"`
	Duration time.Duration      `json:"duration"`
}

// Orchestrator owns the grand totals of a run. Workers hand their reports
// over a channel and only the Run goroutine folds them.
type Orchestrator struct {
	analyzer Analyzer
	strategy Strategy
	hook     func(dto.BucketReport)
	log      *slog.Logger
}

// New returns an orchestrator.
func New(a Analyzer, s Strategy) *Orchestrator {
	return &Orchestrator{
		analyzer: a,
		strategy: s,
		log:      slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger
func (o *Orchestrator) SetLogger(log *slog.Logger) {
	o.log = log
}

// OnReport registers a function called with every report as it is folded.
// It runs on the Run goroutine.
func (o *Orchestrator) OnReport(hook func(dto.BucketReport)) {
	o.hook = hook
}

// Run analyzes every bucket and returns the reports with their totals.
func (o *Orchestrator) Run(ctx context.Context, buckets []dto.Bucket) Result {
	start := time.Now()
	o.log.Info("Analyzing buckets",
		slog.Int("count", len(buckets)),
		slog.String("mode", o.strategy.String()))

	out := make(chan dto.BucketReport)
	go func() {
		defer close(out)
		o.strategy.Dispatch(ctx, buckets, o.analyzer, out)
	}()

	res := Result{Reports: make([]dto.BucketReport, 0, len(buckets))}
	for report := range out {
		res.Totals.Add(report)
		res.Reports = append(res.Reports, report)
		if o.hook != nil {
			o.hook(report)
		}
	}
	res.Duration = time.Since(start)

	o.log.Info("Analysis done",
		slog.Int("buckets", res.Totals.TotalBuckets),
		slog.Duration("duration", res.Duration))
	return res
}
