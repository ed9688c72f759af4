// Package resolver picks the cheapest available source of object statistics
// for a bucket: a local cache snapshot, an S3 Inventory report, or a full
// listing of the bucket.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sgaunet/s3bucketstats/pkg/cache"
	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/inventory"
	"github.com/sgaunet/s3bucketstats/pkg/normalize"
)

// provisionTimeout bounds a background inventory provisioning call.
const provisionTimeout = 30 * time.Second

// Lister enumerates bucket objects page by page.
type Lister interface {
	ListObjectPages(ctx context.Context, bucket, prefix string, fn func([]dto.S3Object) error) error
}

// InventoryReader aggregates the latest inventory report of a bucket.
type InventoryReader interface {
	Read(ctx context.Context, bucket string) (inventory.Result, error)
}

// Provisioner creates inventory configurations.
type Provisioner interface {
	PutInventoryConfiguration(ctx context.Context, bucket string, cfg dto.InventoryConfig) error
}

// Options selects the sources to try.
type Options struct {
	Prefix       string
	UseCache     bool
	RefreshCache bool
	UseInventory bool
	Provision    bool
	LowMemory    bool
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	Source dto.DataSource
	Rows   []dto.BucketSummaryRow
}

// Resolver runs the cache, inventory, listing chain. It is safe for
// concurrent use by several bucket workers.
type Resolver struct {
	opts        Options
	lister      Lister
	cache       *cache.Store
	inventory   InventoryReader
	provisioner Provisioner
	newConfig   func(bucket string) dto.InventoryConfig
	log         *slog.Logger

	wg          sync.WaitGroup
	provisioned sync.Map
}

// New returns a resolver listing objects with lister. Cache and inventory
// sources are only used once configured with SetCache and SetInventory.
func New(opts Options, lister Lister) *Resolver {
	return &Resolver{
		opts:   opts,
		lister: lister,
		log:    slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger
func (r *Resolver) SetLogger(log *slog.Logger) {
	r.log = log
}

// SetCache enables the local snapshot source.
func (r *Resolver) SetCache(store *cache.Store) {
	r.cache = store
}

// SetInventory enables the inventory source.
func (r *Resolver) SetInventory(reader InventoryReader) {
	r.inventory = reader
}

// SetProvisioner enables inventory provisioning for buckets without one.
// newConfig builds the configuration to create.
func (r *Resolver) SetProvisioner(p Provisioner, newConfig func(bucket string) dto.InventoryConfig) {
	r.provisioner = p
	r.newConfig = newConfig
}

// Resolve returns the summary rows of a bucket from the first source that
// can provide them.
func (r *Resolver) Resolve(ctx context.Context, bucket string) (Resolution, error) {
	if r.cacheReadable() {
		res, err := r.fromCache(bucket)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, cache.ErrNoCache) {
			r.log.Debug("No cache", slog.String("bucket", bucket))
		} else {
			r.log.Warn("Ignoring unreadable cache", slog.String("bucket", bucket), slog.String("error", err.Error()))
		}
	}

	if r.inventory != nil && r.opts.UseInventory {
		res, err := r.inventory.Read(ctx, bucket)
		switch {
		case err == nil:
			r.log.Info("Processing via inventory", slog.String("bucket", bucket))
			return Resolution{
				Source: dto.DataSource{Kind: dto.SourceInventory, Location: res.Location.String()},
				Rows:   res.Rows,
			}, nil
		case errors.Is(err, inventory.ErrNoInventory):
			r.log.Debug("No inventory", slog.String("bucket", bucket))
			r.provision(ctx, bucket)
		case errors.Is(err, inventory.ErrUnavailable),
			errors.Is(err, inventory.ErrNoManifest),
			errors.Is(err, inventory.ErrEmptyInventory):
			r.log.Debug("Inventory not usable", slog.String("bucket", bucket), slog.String("error", err.Error()))
		default:
			return Resolution{Source: dto.DataSource{Kind: dto.SourceNone}}, err
		}
	}

	return r.fromListing(ctx, bucket)
}

// Wait blocks until background provisioning calls are done.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) cacheReadable() bool {
	return r.cache != nil && r.opts.UseCache && !r.opts.RefreshCache
}

func (r *Resolver) fromCache(bucket string) (Resolution, error) {
	acc := normalize.NewAccumulator()
	err := r.cache.Read(bucket, func(row normalize.RawSourceRow) error {
		acc.Add(row)
		return nil
	})
	if err != nil {
		return Resolution{}, err
	}
	if acc.Len() == 0 {
		return Resolution{}, fmt.Errorf("%w: %s has no rows", cache.ErrNoCache, r.cache.Path(bucket))
	}
	r.log.Info("Processing via local cache", slog.String("bucket", bucket))
	return Resolution{
		Source: dto.DataSource{Kind: dto.SourceLocalCache, Location: r.cache.Path(bucket)},
		Rows:   acc.Rows(),
	}, nil
}

// fromListing enumerates the bucket. In low memory mode every page is
// reduced on arrival and the fragments merged at the end; otherwise all
// rows are kept and reduced once. Both give the same rows.
func (r *Resolver) fromListing(ctx context.Context, bucket string) (Resolution, error) {
	r.log.Info("Processing via ListObjects", slog.String("bucket", bucket))

	var writer *cache.Writer
	if r.cache != nil && r.opts.UseCache && r.opts.RefreshCache {
		w, err := r.cache.Create(bucket)
		if err != nil {
			r.log.Warn("Cannot refresh cache", slog.String("bucket", bucket), slog.String("error", err.Error()))
		} else {
			writer = w
		}
	}

	var (
		fragments [][]dto.BucketSummaryRow
		raw       []normalize.RawSourceRow
	)
	err := r.lister.ListObjectPages(ctx, bucket, r.opts.Prefix, func(objects []dto.S3Object) error {
		if writer != nil {
			if err := writer.Write(objects); err != nil {
				r.log.Warn("Cannot write cache", slog.String("bucket", bucket), slog.String("error", err.Error()))
				writer.Abort()
				writer = nil
			}
		}
		if r.opts.LowMemory {
			page := normalize.NewAccumulator()
			for _, o := range objects {
				page.Add(normalize.FromObject(o))
			}
			fragments = append(fragments, page.Rows())
			return nil
		}
		for _, o := range objects {
			raw = append(raw, normalize.FromObject(o))
		}
		return nil
	})
	if err != nil {
		if writer != nil {
			writer.Abort()
		}
		return Resolution{Source: dto.DataSource{Kind: dto.SourceNone}}, err
	}

	if writer != nil {
		if err := writer.Commit(); err != nil {
			r.log.Warn("Cannot write cache", slog.String("bucket", bucket), slog.String("error", err.Error()))
		} else {
			r.log.Debug("Cache refreshed", slog.String("bucket", bucket), slog.Int("objects", writer.Rows()))
		}
	}

	var rows []dto.BucketSummaryRow
	if r.opts.LowMemory {
		rows = normalize.Merge(fragments...)
	} else {
		rows = normalize.Normalize(raw)
	}
	return Resolution{Source: dto.DataSource{Kind: dto.SourceLiveListing}, Rows: rows}, nil
}

// provision creates an inventory configuration in the background, at most
// once per bucket. Failures are only logged.
func (r *Resolver) provision(ctx context.Context, bucket string) {
	if r.provisioner == nil || !r.opts.Provision {
		return
	}
	if _, loaded := r.provisioned.LoadOrStore(bucket, struct{}{}); loaded {
		return
	}

	cfg := r.newConfig(bucket)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
		defer cancel()
		if err := r.provisioner.PutInventoryConfiguration(ctx, bucket, cfg); err != nil {
			r.log.Warn("Inventory provisioning failed", slog.String("bucket", bucket), slog.String("error", err.Error()))
			return
		}
		r.log.Info("Inventory provisioned", slog.String("bucket", bucket), slog.String("id", cfg.ID))
	}()
}
