// Package s3blob implements the domain blob interfaces on AWS SDK v2.
// It is the cold-storage side of the audit journal: the archiver writes
// batches through it and the dashboard's archive browser reads them
// back. Any S3-compatible store (MinIO, iDrive e2, R2) works through
// the Endpoint override.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig parameterizes the object-store connection.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible providers.
	// Empty means standard AWS S3. A bare host:port gets a scheme
	// prepended per UseSSL.
	Endpoint string

	// Region is the AWS region or the provider's equivalent.
	Region string

	// Bucket holds every archived object.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL picks https when Endpoint carries no scheme.
	UseSSL bool

	// ForcePathStyle addresses the bucket in the path instead of the
	// subdomain. MinIO and most self-hosted providers need it.
	ForcePathStyle bool
}

// Client holds the SDK client and the bucket the reader and writer
// operate on.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds the SDK client with static credentials and the optional
// endpoint override. It does not touch the network; Health does.
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
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
	}, nil
}

// Health verifies the bucket is reachable with the configured
// credentials. Called once at startup so a misconfigured archive fails
// the boot instead of the first sweep.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: bucket %s unreachable: %w", c.bucket, err)
	}
	return nil
}

// Close is a no-op; the SDK's HTTP client needs no teardown.
func (c *Client) Close() error {
	return nil
}

// S3 exposes the SDK client to the reader and writer in this package.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// withScheme prepends http:// or https:// when endpoint has no scheme.
func withScheme(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
