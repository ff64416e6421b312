package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/civiclens/civiclens/backend/pkg/config"
	"github.com/rs/zerolog/log"
)

// Client wraps a Cloud Storage client bound to the policy bucket
type Client struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewClient creates a Cloud Storage client using application default credentials
func NewClient(ctx context.Context, cfg *config.StorageConfig) (*Client, error) {
	if cfg.GCSBucket == "" {
		return nil, fmt.Errorf("GCS_BUCKET is required for the gcs storage driver")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	log.Info().Str("bucket", cfg.GCSBucket).Str("prefix", cfg.GCSPrefix).Msg("Cloud Storage client initialized")
	return &Client{client: client, bucket: cfg.GCSBucket, prefix: cfg.GCSPrefix}, nil
}

// Bucket returns the handle of the configured bucket
func (c *Client) Bucket() *storage.BucketHandle {
	return c.client.Bucket(c.bucket)
}

// Prefix is prepended to every object name
func (c *Client) Prefix() string {
	return c.prefix
}

// Close closes the underlying client
func (c *Client) Close() error {
	return c.client.Close()
}
