package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fleetguardian/internal/logging"
	"fleetguardian/internal/media"
)

// Config holds S3 settings. Endpoint enables S3-compatible stores (MinIO)
// with path-style addressing.
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

// Store uploads snapshots to a bucket.
type Store struct {
	client *s3.Client
	cfg    Config
	logger logging.Logger
}

// New builds an S3 client from cfg.
func New(ctx context.Context, cfg Config, logger logging.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3store: bucket required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	logger = logging.OrDiscard(logger)

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	logger.WithFields(logging.Fields{
		"bucket":   cfg.Bucket,
		"region":   cfg.Region,
		"endpoint": cfg.Endpoint,
	}).Info("s3 store initialized")

	return &Store{client: s3.NewFromConfig(awsCfg, s3Opts...), cfg: cfg, logger: logger}, nil
}

// Upload writes one object. Failures are wrapped with media.ErrUpload.
func (s *Store) Upload(ctx context.Context, path, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", media.ErrUpload, path, err)
	}
	return nil
}

// PublicURL returns the retrievable address of path.
func (s *Store) PublicURL(path string) string {
	base := s.cfg.PublicBaseURL
	if base == "" {
		if s.cfg.Endpoint != "" {
			base = strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.cfg.Bucket, s.cfg.Region)
		}
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
