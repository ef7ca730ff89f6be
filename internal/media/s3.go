// Package media stores panorama images and confirms that scene media
// references resolve.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/onnwee/panotour/internal/validate"
)

// Media errors.
var (
	ErrNotFound     = errors.New("media not found")
	ErrForeignURL   = errors.New("URL is not served by this store")
	ErrInvalidScope = errors.New("invalid upload scope")
)

// extensions maps allowed panorama types to their object key suffix.
var extensions = map[string]string{
	validate.MIMEImageJPEG: ".jpg",
	validate.MIMEImagePNG:  ".png",
}

// SignRequest asks for a presigned PUT URL.
type SignRequest struct {
	ContentType string
	SizeBytes   int64
	// SceneID scopes the key; empty uses "unassigned".
	SceneID string
}

// SignedUpload is the presigned URL and where the object will be served.
type SignedUpload struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	PublicURL string    `json:"public_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// S3Config holds configuration for the S3-compatible panorama store.
type S3Config struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string // Default: "auto"
	// PublicBaseURL is where objects are served from, e.g. a CDN origin.
	// Defaults to Endpoint/BucketName.
	PublicBaseURL    string
	MaxSizeMB        int
	URLExpiryMinutes int // Default: 5 minutes
}

// S3Store keeps panoramas in an S3-compatible bucket.
type S3Store struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucketName    string
	publicBase    string
	maxSizeBytes  int64
	urlExpiry     time.Duration
	timeNow       func() time.Time
}

// NewS3Store creates a store with path-style addressing so R2, MinIO and AWS
// all work with the same settings.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("access key ID and secret access key are required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 20
	}
	if cfg.URLExpiryMinutes <= 0 {
		cfg.URLExpiryMinutes = 5
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.BucketName
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3Store{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucketName:    cfg.BucketName,
		publicBase:    strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxSizeBytes:  int64(cfg.MaxSizeMB) * 1024 * 1024,
		urlExpiry:     time.Duration(cfg.URLExpiryMinutes) * time.Minute,
		timeNow:       time.Now,
	}, nil
}

// URL returns the public URL of key.
func (s *S3Store) URL(key string) string {
	return s.publicBase + "/" + strings.TrimLeft(key, "/")
}

// KeyFor returns the object key behind a public URL this store serves.
func (s *S3Store) KeyFor(url string) (string, bool) {
	prefix := s.publicBase + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	return key, key != ""
}

// Upload writes a panorama object.
func (s *S3Store) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Exists confirms that url names an object in the bucket.
func (s *S3Store) Exists(ctx context.Context, url string) error {
	key, ok := s.KeyFor(url)
	if !ok {
		return ErrForeignURL
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to head object %s: %w", key, err)
	}
	return nil
}

// SignUpload generates a presigned PUT URL for a direct browser upload.
func (s *S3Store) SignUpload(ctx context.Context, req SignRequest) (*SignedUpload, error) {
	contentType, err := validate.PanoramaFile(req.ContentType, req.SizeBytes, s.maxSizeBytes)
	if err != nil {
		return nil, err
	}
	key, err := ObjectKey(contentType, req.SceneID)
	if err != nil {
		return nil, err
	}

	presigned, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(req.SizeBytes),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign request: %w", err)
	}

	return &SignedUpload{
		URL:       presigned.URL,
		Key:       key,
		PublicURL: s.URL(key),
		ExpiresAt: s.timeNow().Add(s.urlExpiry),
	}, nil
}

// Ping checks bucket reachability for readiness probes.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	return err
}

// ObjectKey creates a unique key: panoramas/{sceneId or unassigned}/uuid.ext
func ObjectKey(contentType, sceneID string) (string, error) {
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %q", validate.ErrInvalidMIMEType, contentType)
	}
	prefix := "unassigned"
	if sceneID != "" {
		prefix = sanitizePathComponent(sceneID)
		if prefix == "" {
			return "", ErrInvalidScope
		}
	}
	return fmt.Sprintf("panoramas/%s/%s%s", prefix, uuid.NewString(), ext), nil
}

// sanitizePathComponent keeps only letters, digits, hyphens and underscores.
func sanitizePathComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
