package s3svc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sgaunet/s3bucketstats/pkg/config"
)

// ErrNoAwsConfig is returned when the configuration selects no credential method.
var ErrNoAwsConfig = errors.New("no method to initialize aws.Config")

// LoadAwsConfig returns an aws.Config.
// A custom endpoint uses the static keys of the configuration, then an SSO
// profile is tried, and finally the default credential chain.
func LoadAwsConfig(ctx context.Context, cfg config.Config, log *slog.Logger) (aws.Config, error) {
	if cfg.S3endpoint != "" {
		log.Debug("Try to use S3 endpoint", slog.String("endpoint", cfg.S3endpoint))
		return aws.Config{
			Region:       cfg.S3Region,
			Credentials:  credentials.NewStaticCredentialsProvider(cfg.S3ApikKey, cfg.S3accessKey, ""),
			BaseEndpoint: aws.String(cfg.S3endpoint),
		}, nil
	}

	if cfg.SsoAwsProfile != "" {
		log.Debug("Try to use SSO profile")
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithSharedConfigProfile(cfg.SsoAwsProfile),
		)
		if err != nil {
			log.Error("Error loading SSO profile", slog.String("error", err.Error()))
			return awsCfg, fmt.Errorf("error loading SSO profile: %w", err)
		}
		log.Debug("SSO profile loaded")
		return awsCfg, nil
	}

	if cfg.S3ApikKey == "" && cfg.S3accessKey == "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			log.Error("Error loading default config", slog.String("error", err.Error()))
			return awsCfg, fmt.Errorf("error loading default config: %w", err)
		}
		log.Debug("Default config loaded")
		return awsCfg, nil
	}
	return aws.Config{}, ErrNoAwsConfig
}

// NewClient creates the S3 client. Custom endpoints are addressed path style.
func NewClient(awsCfg aws.Config, cfg config.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3endpoint != "" {
			o.UsePathStyle = true
		}
	})
}
