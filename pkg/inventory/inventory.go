// Package inventory reads S3 Inventory reports and reduces them to per
// storage class summaries.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/normalize"
)

const (
	manifestName = "manifest.json"
	csvFormat    = "CSV"

	// DefaultParallelFiles is the number of data files read at the same time.
	DefaultParallelFiles = 4
)

var (
	// ErrNoInventory is returned when the bucket has no inventory configuration.
	ErrNoInventory = errors.New("no inventory configuration")
	// ErrUnavailable is returned when the inventory configurations cannot be read.
	ErrUnavailable = errors.New("inventory configurations unavailable")
	// ErrNoManifest is returned when no enabled CSV configuration has a manifest yet.
	ErrNoManifest = errors.New("no inventory manifest")
	// ErrEmptyInventory is returned when the latest report yields no usable rows.
	ErrEmptyInventory = errors.New("empty inventory")
)

// ObjectStore is the storage used to find and read reports.
type ObjectStore interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]dto.S3Object, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Selector runs S3 Select queries over gzip compressed CSV objects.
type Selector interface {
	SelectCSV(ctx context.Context, bucket, key, expression string) (io.ReadCloser, error)
}

// Store is everything the Reader needs from S3.
type Store interface {
	ObjectStore
	Selector
	ListInventoryConfigurations(ctx context.Context, bucket string) ([]dto.InventoryConfig, error)
}

// Manifest is the manifest.json delivered with every inventory report.
type Manifest struct {
	SourceBucket      string         `json:"sourceBucket"`
	DestinationBucket string         `json:"destinationBucket"`
	Version           string         `json:"version"`
	CreationTimestamp string         `json:"creationTimestamp"`
	FileFormat        string         `json:"fileFormat"`
	FileSchema        string         `json:"fileSchema"`
	Files             []ManifestFile `json:"files"`
}

// ManifestFile is one gzip compressed data file of a report.
type ManifestFile struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	MD5checksum string `json:"MD5checksum"`
}

// Location identifies a manifest object.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// Result is the reduction of the latest report of a bucket.
type Result struct {
	Location Location
	Config   dto.InventoryConfig
	Rows     []dto.BucketSummaryRow
}

// Reader locates the newest inventory report of a bucket and aggregates it.
type Reader struct {
	store    Store
	strategy Strategy
	parallel int
	log      *slog.Logger
}

// NewReader returns a reader. useSelect selects the S3 Select strategy,
// otherwise data files are downloaded and scanned locally.
func NewReader(store Store, useSelect bool) *Reader {
	var strategy Strategy = ScanStrategy{Store: store}
	if useSelect {
		strategy = SelectStrategy{Selector: store}
	}
	return &Reader{
		store:    store,
		strategy: strategy,
		parallel: DefaultParallelFiles,
		log:      slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger
func (r *Reader) SetLogger(log *slog.Logger) {
	r.log = log
}

// SetParallelFiles bounds the number of data files read concurrently.
func (r *Reader) SetParallelFiles(n int) {
	if n > 0 {
		r.parallel = n
	}
}

// Read aggregates the newest report of the first enabled CSV configuration
// that has one. Missing configurations, manifests or rows are reported with
// the package sentinels; failures while reading a located report are
// returned as is.
func (r *Reader) Read(ctx context.Context, bucket string) (Result, error) {
	configs, err := r.store.ListInventoryConfigurations(ctx, bucket)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(configs) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoInventory, bucket)
	}

	for _, cfg := range configs {
		if !cfg.Enabled || !strings.EqualFold(cfg.Format, csvFormat) {
			r.log.Debug("Skipping inventory configuration",
				slog.String("bucket", bucket),
				slog.String("id", cfg.ID),
				slog.String("format", cfg.Format),
				slog.Bool("enabled", cfg.Enabled))
			continue
		}

		loc, err := r.LatestManifest(ctx, bucket, cfg)
		if err != nil {
			r.log.Debug("No usable manifest",
				slog.String("bucket", bucket),
				slog.String("id", cfg.ID),
				slog.String("error", err.Error()))
			continue
		}

		r.log.Info("Using inventory", slog.String("bucket", bucket), slog.String("manifest", loc.String()))
		rows, err := r.readReport(ctx, loc)
		if err != nil {
			return Result{}, err
		}
		return Result{Location: loc, Config: cfg, Rows: rows}, nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrNoManifest, bucket)
}

// ManifestPrefix is where S3 delivers the reports of a configuration.
func ManifestPrefix(bucket string, cfg dto.InventoryConfig) string {
	return path.Join(cfg.DestinationPrefix, bucket, cfg.ID) + "/"
}

// LatestManifest finds the most recently written manifest of a configuration.
func (r *Reader) LatestManifest(ctx context.Context, bucket string, cfg dto.InventoryConfig) (Location, error) {
	prefix := ManifestPrefix(bucket, cfg)
	objects, err := r.store.ListObjects(ctx, cfg.DestinationBucket, prefix)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrNoManifest, err)
	}

	var candidates []dto.S3Object
	for _, o := range objects {
		if strings.HasSuffix(o.Key, manifestName) {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		return Location{}, fmt.Errorf("%w: s3://%s/%s", ErrNoManifest, cfg.DestinationBucket, prefix)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastModified.After(candidates[j].LastModified)
	})
	return Location{Bucket: cfg.DestinationBucket, Key: candidates[0].Key}, nil
}

// LoadManifest downloads and decodes a manifest.
func (r *Reader) LoadManifest(ctx context.Context, loc Location) (Manifest, error) {
	body, err := r.store.GetObject(ctx, loc.Bucket, loc.Key)
	if err != nil {
		return Manifest{}, err
	}
	defer body.Close()

	var m Manifest
	if err := json.NewDecoder(body).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("failed to decode manifest %s: %w", loc, err)
	}
	return m, nil
}

func (r *Reader) readReport(ctx context.Context, loc Location) ([]dto.BucketSummaryRow, error) {
	m, err := r.LoadManifest(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("%w: %s lists no data files", ErrEmptyInventory, loc)
	}
	schema, err := normalize.NewSchema(normalize.ParseColumns(m.FileSchema))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEmptyInventory, loc, err)
	}

	fragments := make([][]dto.BucketSummaryRow, len(m.Files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, f := range m.Files {
		g.Go(func() error {
			rows, err := r.strategy.ReadFile(ctx, loc.Bucket, f.Key, schema)
			if err != nil {
				return fmt.Errorf("failed to read inventory file s3://%s/%s: %w", loc.Bucket, f.Key, err)
			}
			r.log.Debug("Read inventory file", slog.String("key", f.Key), slog.Int("classes", len(rows)))
			fragments[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := normalize.Merge(fragments...)
	if objects, _, _ := normalize.Totals(rows); objects == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyInventory, loc)
	}
	return rows, nil
}
