// Package cmd implements the s3bucketstats command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sgaunet/s3bucketstats/pkg/config"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "s3bucketstats",
	Short: "Per bucket S3 statistics and monthly storage cost estimates",
	Long: `s3bucketstats reports, for every selected bucket, the number of objects,
the stored bytes and the estimated monthly cost per storage class.

Statistics come from a local cache, from S3 Inventory reports or from a
full listing of the bucket, whichever is available first.`,
	SilenceUsage: true,
}

// Execute runs the command line.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "", "log level (debug, info, warn, error)")
}

// loadConfig reads the configuration file when given and applies the flags
// set on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.ReadYamlCnxFile(configFile); err != nil {
			return cfg, err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	applyScanFlags(cmd, &cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
