// Package dbinit creates the report history database and applies its
// embedded migrations.
package dbinit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"path/filepath"
	"slices"

	"github.com/amacneil/dbmate/v2/pkg/dbmate"
	_ "github.com/amacneil/dbmate/v2/pkg/driver/postgres" // PostgreSQL driver for dbmate
	_ "github.com/lib/pq"                                 // PostgreSQL driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the names of the embedded migration files, oldest first.
func Migrations() ([]string, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// InitializeDatabase creates the database when missing, migrates it and
// returns an open connection.
func InitializeDatabase(ctx context.Context, databaseURL string, logger *slog.Logger) (*sql.DB, error) {
	db, parsedURL, err := newMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("Initializing database", slog.String("host", parsedURL.Host))
	if err := logMigrations(logger); err != nil {
		return nil, err
	}

	if err := db.CreateAndMigrate(); err != nil {
		return nil, fmt.Errorf("failed to create and migrate database: %w", err)
	}
	logger.Info("Database initialization completed successfully")

	return openAndTestConnection(ctx, databaseURL, logger)
}

// MigrateDatabase runs pending migrations on an existing database.
func MigrateDatabase(databaseURL string, logger *slog.Logger) error {
	db, parsedURL, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	logger.Info("Running database migrations", slog.String("host", parsedURL.Host))

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database migrations completed successfully")
	return nil
}

func newMigrator(databaseURL string) (*dbmate.DB, *url.URL, error) {
	parsedURL, err := url.Parse(databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database URL: %w", err)
	}
	if parsedURL.Scheme == "" {
		return nil, nil, fmt.Errorf("invalid database URL: missing scheme in %q", parsedURL.Redacted())
	}

	migrationFS, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migration filesystem: %w", err)
	}

	db := dbmate.New(parsedURL)
	db.AutoDumpSchema = false
	db.MigrationsDir = []string{"."}
	db.FS = migrationFS
	return db, parsedURL, nil
}

func logMigrations(logger *slog.Logger) error {
	names, err := Migrations()
	if err != nil {
		return err
	}
	logger.Info("Found migrations", slog.Int("count", len(names)))
	for _, name := range names {
		logger.Debug("Migration file", slog.String("name", name))
	}
	return nil
}

func openAndTestConnection(ctx context.Context, databaseURL string, logger *slog.Logger) (*sql.DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			logger.Error("Failed to close database connection", slog.String("error", closeErr.Error()))
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established successfully")
	return sqlDB, nil
}
