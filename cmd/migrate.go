package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/sgaunet/s3bucketstats/pkg/dbinit"
)

var errNoDatabase = errors.New("no database url configured")

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations of the report history database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errNoDatabase
		}
		return dbinit.MigrateDatabase(cfg.Database.URL, initTrace(cfg.LogLevel))
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
