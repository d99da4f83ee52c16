package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// maxObjectSize bounds transcript reads
const maxObjectSize = 32 << 20

const (
	defaultUploadURLTTL   = 15 * time.Minute
	defaultDownloadURLTTL = time.Hour
)

// Config holds S3-compatible object storage settings
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	UseSSL          bool
	CreateBucket    bool
	UploadURLTTL    time.Duration
	DownloadURLTTL  time.Duration
}

// Client is the storage collaborator backed by minio-go
type Client struct {
	mc     *minio.Client
	config *Config
	logger *slog.Logger
}

// NewClient creates a new object storage client and checks the bucket
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	if config.UploadURLTTL <= 0 {
		config.UploadURLTTL = defaultUploadURLTTL
	}
	if config.DownloadURLTTL <= 0 {
		config.DownloadURLTTL = defaultDownloadURLTTL
	}

	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", config.Bucket, err)
	}
	if !exists {
		if !config.CreateBucket {
			return nil, fmt.Errorf("bucket %s does not exist", config.Bucket)
		}
		if err := mc.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", config.Bucket, err)
		}
		logger.Info("Bucket created", slog.String("bucket", config.Bucket))
	}

	logger.Info("Object storage client initialized",
		slog.String("endpoint", config.Endpoint),
		slog.String("bucket", config.Bucket),
	)

	return &Client{mc: mc, config: config, logger: logger}, nil
}

// Bucket returns the configured bucket name
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// ObjectURI returns the s3:// URI handed to the transcription provider
func (c *Client) ObjectURI(key string) string {
	return fmt.Sprintf("s3://%s/%s", c.config.Bucket, key)
}

// ListKeys returns every key under prefix
func (c *Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range c.mc.ListObjects(ctx, c.config.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// ResolveUpload finds the source location of an upload id
func (c *Client) ResolveUpload(ctx context.Context, uploadID string) (string, error) {
	if !IsUploadID(uploadID) {
		return "", domain.NewValidationError(fmt.Sprintf("invalid upload id %q", uploadID), nil)
	}

	keys, err := c.ListKeys(ctx, SourcePrefix+uploadID)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", domain.NewValidationError(fmt.Sprintf("upload %s not found", uploadID), domain.ErrReferenceNotFound)
	}
	return keys[0], nil
}

// FindTranscript returns an existing transcript for the reference, if any
func (c *Client) FindTranscript(ctx context.Context, referenceID string) (string, bool, error) {
	keys, err := c.ListKeys(ctx, TranscriptDir(referenceID))
	if err != nil {
		return "", false, err
	}
	for _, key := range keys {
		if strings.HasSuffix(key, "/"+TranscriptFilename) {
			return key, true, nil
		}
	}
	return "", false, nil
}

// Exists reports whether the key is present
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.mc.StatObject(ctx, c.config.Bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", key, err)
}

// ReadObject returns the content of key
func (c *Client) ReadObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, c.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxObjectSize))
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s: %w", key, domain.ErrReferenceNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// PresignedUploadURL issues a PUT URL for a new recording
func (c *Client) PresignedUploadURL(ctx context.Context, key string) (*url.URL, error) {
	u, err := c.mc.PresignedPutObject(ctx, c.config.Bucket, key, c.config.UploadURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload of %s: %w", key, err)
	}
	return u, nil
}

// PresignedDownloadURL issues a GET URL for an existing object
func (c *Client) PresignedDownloadURL(ctx context.Context, key string) (*url.URL, error) {
	params := url.Values{}
	if ct := ContentTypeFor(key); ct != "" {
		params.Set("response-content-type", ct)
	}
	u, err := c.mc.PresignedGetObject(ctx, c.config.Bucket, key, c.config.DownloadURLTTL, params)
	if err != nil {
		return nil, fmt.Errorf("failed to presign download of %s: %w", key, err)
	}
	return u, nil
}

// IsNotFound reports whether err means the object does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrReferenceNotFound) || minio.ToErrorResponse(err).Code == "NoSuchKey"
}
