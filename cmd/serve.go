package cmd

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sgaunet/s3bucketstats/pkg/app"
	"github.com/sgaunet/s3bucketstats/pkg/dbinit"
	"github.com/sgaunet/s3bucketstats/pkg/dbsvc"
	"github.com/sgaunet/s3bucketstats/pkg/health"
	"github.com/sgaunet/s3bucketstats/pkg/scheduler"
)

const shutdownTimeout = 10 * time.Second

var (
	flagAddr     string
	flagSchedule string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reports over HTTP and scan on a schedule",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address")
	serveCmd.Flags().StringVar(&flagSchedule, "schedule", "", `cron schedule of background scans, "" disables them`)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = flagAddr
	}
	if cmd.Flags().Changed("schedule") {
		cfg.Server.CronSchedule = flagSchedule
	}
	log := initTrace(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.resolver.Wait()

	api := app.NewApp(cfg.Server.Addr, p.scanner)
	api.SetLogger(log)

	var db *sql.DB
	if cfg.Database.URL != "" {
		if db, err = dbinit.InitializeDatabase(ctx, cfg.Database.URL, log); err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		store := dbsvc.NewService(db)
		store.SetLogger(log)
		p.scanner.SetRecorder(store)
		api.SetHistory(store)

		monitor := health.NewMonitor(db)
		monitor.SetLogger(log)
		monitor.Start(ctx)
		defer monitor.Stop()
		api.SetHealth(monitor)
	}

	sched := scheduler.NewScheduler(cfg.Server.CronSchedule, p.scanner)
	sched.SetLogger(log)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	errc := api.Start()
	select {
	case <-ctx.Done():
		log.Info("Signal received, stopping the server")
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to stop the server", slog.String("error", err.Error()))
		return err
	}
	return nil
}
