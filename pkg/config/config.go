package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v2"
)

// Concurrency modes.
const (
	ModeSequential = "sequential"
	ModePerBucket  = "thread"
	ModePool       = "pool"
)

// DisplayUnits are the accepted values of DisplaySize, "auto" picks a unit per value.
var DisplayUnits = []string{"auto", "B", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

var (
	// ErrInvalidMode is returned for an unknown concurrency mode.
	ErrInvalidMode = errors.New("invalid concurrency mode")
	// ErrInvalidWorkers is returned when the pool size is not positive.
	ErrInvalidWorkers = errors.New("max workers must be positive")
	// ErrInvalidDisplaySize is returned for an unknown display unit.
	ErrInvalidDisplaySize = errors.New("invalid display size")
)

// Config is the struct for the configuration
type Config struct {
	S3endpoint    string `yaml:"s3endpoint"`
	S3accessKey   string `yaml:"accesskey"`
	S3ApikKey     string `yaml:"apikey"`
	S3Region      string `yaml:"s3region"`
	SsoAwsProfile string `yaml:"ssoawsprofile"`

	// Buckets are scanned as given; BucketRegex selects among listed buckets.
	Buckets     []string `yaml:"buckets"`
	BucketRegex string   `yaml:"bucketregex"`
	RegionRegex string   `yaml:"regionregex"`
	Prefix      string   `yaml:"prefix"`

	LogLevel    string `yaml:"loglevel"`
	DisplaySize string `yaml:"displaysize"`
	OutputFile  string `yaml:"outputfile"`
	LowMemory   bool   `yaml:"lowmemory"`

	Cache       CacheConfig       `yaml:"cache"`
	Inventory   InventoryConfig   `yaml:"inventory"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Database    DatabaseConfig    `yaml:"database"`
	Server      ServerConfig      `yaml:"server"`
}

// CacheConfig controls local per bucket snapshot files.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Refresh bool   `yaml:"refresh"`
	Dir     string `yaml:"dir"`
}

// InventoryConfig controls the use of S3 Inventory reports.
type InventoryConfig struct {
	Enabled   bool `yaml:"enabled"`
	S3Select  bool `yaml:"s3select"`
	Provision bool `yaml:"provision"`
}

// ConcurrencyConfig selects how buckets are processed.
type ConcurrencyConfig struct {
	Mode       string `yaml:"mode"`
	MaxWorkers int    `yaml:"maxworkers"`
}

// PricingConfig configures the Price List API client.
type PricingConfig struct {
	Region string `yaml:"region"`
}

// DatabaseConfig enables the report history when URL is set.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	CronSchedule string `yaml:"cronschedule"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Prefix:      "/",
		LogLevel:    "info",
		DisplaySize: "GB",
		Cache:       CacheConfig{Dir: "."},
		Inventory:   InventoryConfig{Enabled: true, S3Select: true},
		Concurrency: ConcurrencyConfig{Mode: ModePerBucket, MaxWorkers: 4},
		Pricing:     PricingConfig{Region: "us-east-1"},
		Server:      ServerConfig{Addr: ":8081", CronSchedule: "@daily"},
	}
}

// ReadYamlCnxFile reads a yaml file and returns a Config struct
func ReadYamlCnxFile(filename string) (Config, error) {
	config := Default()

	yamlFile, err := os.ReadFile(filename)
	if err != nil {
		return config, fmt.Errorf("error reading YAML file: %w", err)
	}

	err = yaml.Unmarshal(yamlFile, &config)
	if err != nil {
		return config, fmt.Errorf("error parsing YAML file: %w", err)
	}
	return config, nil
}

// Validate checks values that cannot be fixed by defaults.
func (c Config) Validate() error {
	switch c.Concurrency.Mode {
	case ModeSequential, ModePerBucket:
	case ModePool:
		if c.Concurrency.MaxWorkers < 1 {
			return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Concurrency.MaxWorkers)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Concurrency.Mode)
	}

	if !slices.ContainsFunc(DisplayUnits, func(u string) bool { return strings.EqualFold(u, c.DisplaySize) }) {
		return fmt.Errorf("%w: %q", ErrInvalidDisplaySize, c.DisplaySize)
	}

	for name, expr := range map[string]string{"bucketregex": c.BucketRegex, "regionregex": c.RegionRegex} {
		if expr == "" {
			continue
		}
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}
