package cmd

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sgaunet/s3bucketstats/pkg/config"
	"github.com/sgaunet/s3bucketstats/pkg/dbinit"
	"github.com/sgaunet/s3bucketstats/pkg/dbsvc"
	"github.com/sgaunet/s3bucketstats/pkg/scanner"
	"github.com/sgaunet/s3bucketstats/pkg/views"
)

var (
	flagBuckets      []string
	flagBucketRegex  string
	flagRegionRegex  string
	flagPrefix       string
	flagCache        bool
	flagRefreshCache bool
	flagCacheDir     string
	flagInventory    bool
	flagS3Select     bool
	flagProvision    bool
	flagLowMemory    bool
	flagMode         string
	flagMaxWorkers   int
	flagDisplaySize  string
	flagOutputFile   string
	flagDetails      bool
	flagJSON         bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Analyze the selected buckets and print the report",
	Args:  cobra.NoArgs,
	RunE:  runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringSliceVarP(&flagBuckets, "bucket", "b", nil, "bucket to analyze, repeatable")
	f.StringVar(&flagBucketRegex, "bucket-regex", "", "analyze listed buckets whose name starts with a match of this regex")
	f.StringVar(&flagRegionRegex, "region-regex", "", "only analyze buckets whose region starts with a match of this regex")
	f.StringVar(&flagPrefix, "prefix", "", "key prefix for live listings")
	f.BoolVar(&flagCache, "cache", false, "read and write local bucket snapshots")
	f.BoolVar(&flagRefreshCache, "refresh-cache", false, "ignore existing snapshots and rewrite them")
	f.StringVar(&flagCacheDir, "cache-dir", "", "directory of the bucket snapshots")
	f.BoolVar(&flagInventory, "inventory", true, "use S3 Inventory reports when available")
	f.BoolVar(&flagS3Select, "s3select", true, "aggregate inventory files with S3 Select")
	f.BoolVar(&flagProvision, "put-inventory", false, "create a daily inventory on buckets without one")
	f.BoolVar(&flagLowMemory, "low-memory", false, "aggregate listings page by page")
	f.StringVar(&flagMode, "mode", "", "concurrency mode (sequential, thread, pool)")
	f.IntVar(&flagMaxWorkers, "max-workers", 0, "workers of the pool mode")
	f.StringVar(&flagDisplaySize, "display-size", "", "size unit (auto, B, KB, MB, GB, TB, PB, EB, ZB, YB)")
	f.StringVarP(&flagOutputFile, "output", "o", "", "also write the JSON report to this file")
	f.BoolVar(&flagDetails, "details", false, "print a table per storage class")
	f.BoolVar(&flagJSON, "json", false, "print the report as JSON instead of tables")
	rootCmd.AddCommand(scanCmd)
}

// applyScanFlags overrides cfg with the scan flags given on the command line.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("bucket") {
		cfg.Buckets = flagBuckets
	}
	if changed("bucket-regex") {
		cfg.BucketRegex = flagBucketRegex
	}
	if changed("region-regex") {
		cfg.RegionRegex = flagRegionRegex
	}
	if changed("prefix") {
		cfg.Prefix = flagPrefix
	}
	if changed("cache") {
		cfg.Cache.Enabled = flagCache
	}
	if changed("refresh-cache") {
		cfg.Cache.Refresh = flagRefreshCache
		if flagRefreshCache {
			cfg.Cache.Enabled = true
		}
	}
	if changed("cache-dir") {
		cfg.Cache.Dir = flagCacheDir
	}
	if changed("inventory") {
		cfg.Inventory.Enabled = flagInventory
	}
	if changed("s3select") {
		cfg.Inventory.S3Select = flagS3Select
	}
	if changed("put-inventory") {
		cfg.Inventory.Provision = flagProvision
	}
	if changed("low-memory") {
		cfg.LowMemory = flagLowMemory
	}
	if changed("mode") {
		cfg.Concurrency.Mode = flagMode
	}
	if changed("max-workers") {
		cfg.Concurrency.MaxWorkers = flagMaxWorkers
	}
	if changed("display-size") {
		cfg.DisplaySize = flagDisplaySize
	}
	if changed("output") {
		cfg.OutputFile = flagOutputFile
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := initTrace(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.resolver.Wait()

	if cfg.Database.URL != "" {
		db, err := dbinit.InitializeDatabase(ctx, cfg.Database.URL, log)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		store := dbsvc.NewService(db)
		store.SetLogger(log)
		p.scanner.SetRecorder(store)
	}

	run, err := p.scanner.Scan(ctx)
	if err != nil && run.Result.Reports == nil {
		if errors.Is(err, scanner.ErrNoBuckets) {
			log.Error("No buckets to scan found, run with -h to see available options")
		}
		return err
	}
	if err != nil {
		// the report is still printed when only the history failed
		log.Error("Scan not recorded", slog.String("error", err.Error()))
	}

	return writeReport(os.Stdout, cfg, run)
}

func writeReport(w io.Writer, cfg config.Config, run scanner.Run) error {
	if flagJSON {
		if err := views.WriteJSON(w, run.Result); err != nil {
			return err
		}
	} else {
		v := views.NewViews(cfg.DisplaySize)
		v.SetDetails(flagDetails)
		if err := v.Render(w, run.Result); err != nil {
			return err
		}
	}

	if cfg.OutputFile != "" {
		return views.WriteFile(cfg.OutputFile, run.Result)
	}
	return nil
}
