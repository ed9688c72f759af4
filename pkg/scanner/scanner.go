// Package scanner selects the buckets to analyze and runs a full analysis,
// recording the outcome.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sgaunet/s3bucketstats/pkg/config"
	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/orchestrator"
)

var (
	// ErrNoBuckets is returned when the selection matches no bucket.
	ErrNoBuckets = errors.New("no bucket selected")
	// ErrScanInProgress is returned when a scan is requested while another runs.
	ErrScanInProgress = errors.New("scan already in progress")
)

// BucketSource lists buckets and their regions.
type BucketSource interface {
	ListBuckets(ctx context.Context) ([]dto.Bucket, error)
	BucketRegion(ctx context.Context, bucket string) (string, error)
}

// Runner analyzes a list of buckets.
type Runner interface {
	Run(ctx context.Context, buckets []dto.Bucket) orchestrator.Result
}

// Recorder persists finished runs.
type Recorder interface {
	SaveRun(ctx context.Context, run Run) error
}

// Run is one complete scan.
type Run struct {
	ID        uuid.UUID           `json:"id"`
	StartedAt time.Time           `json:"startedAt"`
	Result    orchestrator.Result `json:"result"`
}

// Service handles S3 bucket scanning operations
type Service struct {
	cfg      config.Config
	source   BucketSource
	runner   Runner
	recorder Recorder
	log      *slog.Logger

	running atomic.Bool
	mu      sync.RWMutex
	latest  *Run
}

// NewService creates a new scanner service
func NewService(cfg config.Config, source BucketSource, runner Runner) *Service {
	return &Service{
		cfg:    cfg,
		source: source,
		runner: runner,
		log:    slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger for the scanner
func (s *Service) SetLogger(log *slog.Logger) {
	s.log = log
}

// SetRecorder stores every finished run with r.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// Scan selects the buckets and analyzes them. The run is returned even when
// recording it fails.
func (s *Service) Scan(ctx context.Context) (Run, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Run{}, ErrScanInProgress
	}
	defer s.running.Store(false)

	run := Run{ID: uuid.New(), StartedAt: time.Now().UTC()}
	s.log.Info("Starting scan", slog.String("run", run.ID.String()))

	buckets, err := s.DiscoverBuckets(ctx)
	if err != nil {
		return run, err
	}

	run.Result = s.runner.Run(ctx, buckets)
	s.mu.Lock()
	s.latest = &run
	s.mu.Unlock()

	s.log.Info("Scan completed",
		slog.String("run", run.ID.String()),
		slog.Int("buckets", run.Result.Totals.TotalBuckets),
		slog.Duration("duration", run.Result.Duration))

	if s.recorder != nil {
		if err := s.recorder.SaveRun(ctx, run); err != nil {
			s.log.Error("Failed to record scan", slog.String("run", run.ID.String()), slog.String("error", err.Error()))
			return run, fmt.Errorf("failed to record scan: %w", err)
		}
	}
	return run, nil
}

// Latest returns the last run completed by this service.
func (s *Service) Latest() (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Run{}, false
	}
	return *s.latest, true
}

// Running reports whether a scan is in progress.
func (s *Service) Running() bool {
	return s.running.Load()
}

// DiscoverBuckets returns the configured buckets followed by the listed
// buckets matching the bucket regex, restricted to regions matching the
// region regex. Buckets are only listed when a regex is set or no bucket is
// named explicitly.
func (s *Service) DiscoverBuckets(ctx context.Context) ([]dto.Bucket, error) {
	bucketRe, regionRe, err := s.filters()
	if err != nil {
		return nil, err
	}

	var listed []dto.Bucket
	if bucketRe != nil || len(s.cfg.Buckets) == 0 {
		listed, err = s.source.ListBuckets(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to discover buckets: %w", err)
		}
	}
	created := make(map[string]time.Time, len(listed))
	for _, b := range listed {
		created[b.Name] = b.CreationDate
	}

	seen := map[string]bool{}
	var candidates []dto.Bucket
	add := func(b dto.Bucket) {
		if b.Name == "" || seen[b.Name] {
			return
		}
		seen[b.Name] = true
		candidates = append(candidates, b)
	}
	for _, name := range s.cfg.Buckets {
		add(dto.Bucket{Name: name, CreationDate: created[name]})
	}
	for _, b := range listed {
		if bucketRe == nil && len(s.cfg.Buckets) > 0 {
			break
		}
		if bucketRe == nil || bucketRe.MatchString(b.Name) {
			add(b)
		}
	}

	selected := candidates
	if regionRe != nil {
		selected = selected[:0:0]
		for _, b := range candidates {
			region, err := s.source.BucketRegion(ctx, b.Name)
			if err != nil {
				s.log.Warn("Skipping bucket with unknown region", slog.String("bucket", b.Name), slog.String("error", err.Error()))
				continue
			}
			if regionRe.MatchString(region) {
				selected = append(selected, b)
			}
		}
	}

	if len(selected) == 0 {
		return nil, ErrNoBuckets
	}
	s.log.Info("Discovered buckets", slog.Int("count", len(selected)))
	return selected, nil
}

// filters compiles the bucket and region expressions. Both only match at
// the start of the name, so "logs" selects "logs-archive" but not "old-logs".
func (s *Service) filters() (bucketRe, regionRe *regexp.Regexp, err error) {
	if s.cfg.BucketRegex != "" {
		if bucketRe, err = anchored(s.cfg.BucketRegex); err != nil {
			return nil, nil, fmt.Errorf("invalid bucket regex: %w", err)
		}
	}
	if s.cfg.RegionRegex != "" {
		if regionRe, err = anchored(s.cfg.RegionRegex); err != nil {
			return nil, nil, fmt.Errorf("invalid region regex: %w", err)
		}
	}
	return bucketRe, regionRe, nil
}

func anchored(expr string) (*regexp.Regexp, error) {
	if _, err := regexp.Compile(expr); err != nil {
		return nil, err
	}
	return regexp.Compile("^(?:" + expr + ")")
}
