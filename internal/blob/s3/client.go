// Package s3blob stores archive snapshots in an S3-compatible bucket. The
// engine runs against MinIO in development and any S3 endpoint in
// production, so the client always takes explicit credentials and an
// optional endpoint override.
package s3blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxAttempts bounds SDK-level retries; the archival job reruns on its own
// interval, so a failed snapshot is retried wholesale anyway.
const maxAttempts = 4

// ClientConfig carries the connection parameters for the archive bucket.
type ClientConfig struct {
	// Endpoint overrides the S3 endpoint for compatible providers
	// (MinIO, R2). Empty means standard AWS S3.
	Endpoint string

	// Region for request signing. Most compatible providers accept any
	// value but the SDK requires one.
	Region string

	// Bucket holding the archive objects.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL picks the scheme when Endpoint is given without one.
	UseSSL bool

	// ForcePathStyle puts the bucket in the request path instead of the
	// host. MinIO needs this.
	ForcePathStyle bool
}

// Client is the shared connection to the archive bucket. Writer and Reader
// are built on top of it.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a Client for the configured bucket. Credentials are always
// static; the engine never relies on ambient AWS identity.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRetryMaxAttempts(maxAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
	}, nil
}

// Health verifies the bucket is reachable with the configured credentials.
// Run at startup so a misconfigured archive fails fast instead of at the
// first snapshot.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: bucket %s unreachable: %w", c.bucket, err)
	}
	return nil
}

// Close exists for symmetry with the other stores; the SDK's HTTP client
// needs no teardown.
func (c *Client) Close() error {
	return nil
}

// withScheme prepends http or https when the endpoint carries no scheme.
func withScheme(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
